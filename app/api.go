package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/fiffu/registrywatch/config"
	"github.com/fiffu/registrywatch/lib"
	"github.com/fiffu/registrywatch/lib/cache"
	"github.com/fiffu/registrywatch/lib/duration"
	"github.com/fiffu/registrywatch/lib/models"
	"github.com/fiffu/registrywatch/lib/ratelimit"
	"github.com/fiffu/registrywatch/lib/subscriptions"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

func NewAPI(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger, svc *lib.Service, c cache.Cache) *http.Server {
	addr := fmt.Sprintf(":%d", cfg.ServerPort)
	limiter := ratelimit.New(c, "api", cfg.RateLimit.Requests, cfg.RateLimit.Window)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router(cfg, log, svc, limiter),
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Sugar().Errorw("HTTP server stopped", "err", err)
				}
			}()
			log.Sugar().Infow("Listening", "addr", addr)
			return nil
		},
		OnStop: srv.Shutdown,
	})

	return srv
}

func router(cfg *config.Config, log *zap.Logger, svc *lib.Service, limiter *ratelimit.Limiter) http.Handler {
	ctrl := &controller{cfg, log, svc, limiter}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	// Forwarding headers pick the rate limit bucket, so only a trusted proxy may set them.
	if cfg.TrustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(middleware.Logger)
	r.Use(ctrl.recoverer)
	r.Use(httpMetrics)
	r.Use(cors.New(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete},
		AllowedHeaders: []string{"Content-Type", "Authorization", "X-API-Key"},
		ExposedHeaders: []string{"Retry-After", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		MaxAge:         300,
	}).Handler)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(ratelimit.Middleware(limiter, ratelimit.ByClientIP, log))

		// Streams outlive the request timeout below.
		r.Get("/changes/stream", ctrl.streamChanges)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))

			r.Post("/subscriptions", ctrl.createSubscription)
			r.Get("/subscriptions", ctrl.listSubscriptions)
			r.Route("/subscriptions/{id}", func(r chi.Router) {
				r.Use(ctrl.requireKey)
				r.Get("/", ctrl.getSubscription)
				r.Patch("/", ctrl.updateSubscription)
				r.Delete("/", ctrl.deleteSubscription)
				r.Post("/test", ctrl.testSubscription)
				r.Post("/reset-key", ctrl.resetKey)
				r.Get("/notifications", ctrl.listNotifications)
				r.Get("/stats", ctrl.subscriptionStats)
			})

			r.Get("/changes", ctrl.listChanges)
			r.Get("/changes/{id}", ctrl.getChange)
			r.Get("/servers", ctrl.listServers)
			r.Get("/stats", ctrl.deliveryStats)

			if creds := cfg.GetCreds(); len(creds) > 0 {
				r.Route("/admin", func(r chi.Router) {
					r.Use(middleware.BasicAuth("registrywatch", creds))
					r.Post("/poll", ctrl.triggerPoll)
				})
			} else {
				log.Sugar().Info("Admin routes are disabled since no credentials are defined")
			}
		})
	})

	return r
}

type controller struct {
	cfg     *config.Config
	log     *zap.Logger
	svc     *lib.Service
	limiter *ratelimit.Limiter
}

type errorBody struct {
	Error string `json:"error"`
}

func (ctrl *controller) reject(w http.ResponseWriter, status int, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	ctrl.resolve(w, status, errorBody{msg})
}

func (ctrl *controller) resolve(w http.ResponseWriter, status int, body any) {
	b, err := json.Marshal(body)
	if err != nil {
		ctrl.log.Sugar().Errorw("Request failed", "err", err)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"internal error"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(b)
}

// fail maps a service error onto a response.
func (ctrl *controller) fail(w http.ResponseWriter, r *http.Request, err error) {
	var exceeded *ratelimit.ExceededError
	switch {
	case subscriptions.IsValidationError(err):
		ctrl.reject(w, http.StatusBadRequest, err)
	case errors.Is(err, lib.ErrUnauthorized):
		ctrl.unauthorized(w)
	case errors.Is(err, lib.ErrNotFound), errors.Is(err, lib.ErrChangeNotFound):
		ctrl.reject(w, http.StatusNotFound, err)
	case errors.As(err, &exceeded):
		ratelimit.WriteExceeded(w, ratelimit.Decision{RetryAfter: exceeded.RetryAfter})
	default:
		ctrl.log.Sugar().Errorw("Request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()),
			"err", err,
		)
		ctrl.reject(w, http.StatusInternalServerError, errors.New("internal error"))
	}
}

func (ctrl *controller) unauthorized(w http.ResponseWriter) {
	ctrl.reject(w, http.StatusUnauthorized, lib.ErrUnauthorized)
}

func decodeBody(w http.ResponseWriter, r *http.Request, into any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(into); err != nil {
		return &subscriptions.ValidationError{Field: "body", Reason: err.Error()}
	}
	return nil
}

func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, &subscriptions.ValidationError{Field: name, Reason: "must be a non-negative integer"}
	}
	return n, nil
}

func pagination(r *http.Request) (limit, offset int, err error) {
	if limit, err = queryInt(r, "limit"); err != nil {
		return
	}
	offset, err = queryInt(r, "offset")
	return
}

// queryList collects a repeatable, comma separated query parameter.
func queryList(r *http.Request, name string) []string {
	var out []string
	for _, raw := range r.URL.Query()[name] {
		for _, v := range strings.Split(raw, ",") {
			if v = strings.TrimSpace(v); v != "" {
				out = append(out, v)
			}
		}
	}
	return out
}

func queryFilter(r *http.Request) models.Filter {
	return models.Filter{
		Namespaces: queryList(r, "namespace"),
		Keywords:   queryList(r, "keyword"),
		Servers:    queryList(r, "server"),
	}
}

func (ctrl *controller) createSubscription(w http.ResponseWriter, r *http.Request) {
	var req subscriptions.CreateRequest
	if err := decodeBody(w, r, &req); err != nil {
		ctrl.fail(w, r, err)
		return
	}

	sub, key, err := ctrl.svc.CreateSubscription(r.Context(), req)
	if err != nil {
		ctrl.fail(w, r, err)
		return
	}
	ctrl.resolve(w, http.StatusCreated, map[string]any{
		"subscription": SubscriptionView{}.From(sub),
		"api_key":      key,
	})
}

func (ctrl *controller) listSubscriptions(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := pagination(r)
	if err != nil {
		ctrl.fail(w, r, err)
		return
	}

	subs, total, err := ctrl.svc.ListSubscriptions(r.Context(), limit, offset)
	if err != nil {
		ctrl.fail(w, r, err)
		return
	}
	ctrl.resolve(w, http.StatusOK, map[string]any{
		"subscriptions": FromMany[models.Subscription, SubscriptionView](subs),
		"total":         total,
		"limit":         subscriptions.ClampLimit(limit),
		"offset":        offset,
	})
}

func (ctrl *controller) getSubscription(w http.ResponseWriter, r *http.Request) {
	ctrl.resolve(w, http.StatusOK, SubscriptionView{}.From(subscriptionFrom(r.Context())))
}

func (ctrl *controller) updateSubscription(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status models.SubscriptionStatus `json:"status"`
	}
	if err := decodeBody(w, r, &body); err != nil {
		ctrl.fail(w, r, err)
		return
	}

	sub, err := ctrl.svc.UpdateSubscriptionStatus(r.Context(), chi.URLParam(r, "id"), body.Status)
	if err != nil {
		ctrl.fail(w, r, err)
		return
	}
	ctrl.resolve(w, http.StatusOK, SubscriptionView{}.From(sub))
}

func (ctrl *controller) deleteSubscription(w http.ResponseWriter, r *http.Request) {
	if err := ctrl.svc.DeleteSubscription(r.Context(), chi.URLParam(r, "id")); err != nil {
		ctrl.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (ctrl *controller) testSubscription(w http.ResponseWriter, r *http.Request) {
	results, err := ctrl.svc.TestSubscription(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		ctrl.fail(w, r, err)
		return
	}
	ctrl.resolve(w, http.StatusOK, map[string]any{"results": results})
}

func (ctrl *controller) resetKey(w http.ResponseWriter, r *http.Request) {
	key, err := ctrl.svc.ResetSubscriptionKey(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		ctrl.fail(w, r, err)
		return
	}
	ctrl.resolve(w, http.StatusOK, map[string]any{"api_key": key})
}

func (ctrl *controller) listNotifications(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := pagination(r)
	if err != nil {
		ctrl.fail(w, r, err)
		return
	}

	ns, total, err := ctrl.svc.ListNotifications(r.Context(), chi.URLParam(r, "id"), limit, offset)
	if err != nil {
		ctrl.fail(w, r, err)
		return
	}
	ctrl.resolve(w, http.StatusOK, map[string]any{
		"notifications": FromMany[models.Notification, NotificationView](ns),
		"total":         total,
		"limit":         subscriptions.ClampLimit(limit),
		"offset":        offset,
	})
}

func (ctrl *controller) subscriptionStats(w http.ResponseWriter, r *http.Request) {
	stats, err := ctrl.svc.DeliveryStats(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		ctrl.fail(w, r, err)
		return
	}
	ctrl.resolve(w, http.StatusOK, stats)
}

func (ctrl *controller) deliveryStats(w http.ResponseWriter, r *http.Request) {
	stats, err := ctrl.svc.DeliveryStats(r.Context(), "")
	if err != nil {
		ctrl.fail(w, r, err)
		return
	}
	ctrl.resolve(w, http.StatusOK, stats)
}

func (ctrl *controller) listChanges(w http.ResponseWriter, r *http.Request) {
	q := lib.ChangeQuery{Filter: queryFilter(r)}

	if raw := r.URL.Query().Get("since"); raw != "" {
		since, err := duration.ParseSince(raw, time.Now())
		if err != nil {
			ctrl.fail(w, r, &subscriptions.ValidationError{Field: "since", Reason: err.Error()})
			return
		}
		q.Since = since
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		ctrl.fail(w, r, err)
		return
	}
	q.Limit = limit

	changes, err := ctrl.svc.ListChanges(r.Context(), q)
	if err != nil {
		ctrl.fail(w, r, err)
		return
	}
	ctrl.resolve(w, http.StatusOK, map[string]any{
		"changes": changes,
		"count":   len(changes),
	})
}

func (ctrl *controller) getChange(w http.ResponseWriter, r *http.Request) {
	c, err := ctrl.svc.GetChange(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		ctrl.fail(w, r, err)
		return
	}
	ctrl.resolve(w, http.StatusOK, c)
}

func (ctrl *controller) listServers(w http.ResponseWriter, r *http.Request) {
	servers, snap, err := ctrl.svc.ListServers(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		ctrl.fail(w, r, err)
		return
	}

	body := map[string]any{
		"servers": servers,
		"count":   len(servers),
	}
	if snap != nil {
		body["snapshot_id"] = snap.ID
		body["snapshot_at"] = timestamp(snap.CreatedAt)
	}
	ctrl.resolve(w, http.StatusOK, body)
}

func (ctrl *controller) triggerPoll(w http.ResponseWriter, r *http.Request) {
	queued := ctrl.svc.TriggerPoll()
	ctrl.resolve(w, http.StatusAccepted, map[string]any{"queued": queued})
}
