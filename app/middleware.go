package app

import (
	"context"
	"errors"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/fiffu/registrywatch/lib/models"
	"github.com/fiffu/registrywatch/lib/ratelimit"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

type ctxKey int

const subscriptionKey ctxKey = iota

var (
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registrywatch_http_requests_total",
			Help: "HTTP requests by route and status.",
		},
		[]string{"method", "route", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "registrywatch_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

func init() {
	prometheus.MustRegister(httpRequests, httpDuration)
}

// apiKey reads the key from X-API-Key, falling back to a bearer token.
func apiKey(r *http.Request) string {
	if key := strings.TrimSpace(r.Header.Get("X-API-Key")); key != "" {
		return key
	}
	auth := r.Header.Get("Authorization")
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}

// requireKey admits the request only when the presented key belongs to the
// subscription in the path. Every failure looks the same to the caller.
// Authenticated requests are also counted per subscription, on top of the
// per-address count applied to the whole API.
func (ctrl *controller) requireKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sub, err := ctrl.svc.Authenticate(r.Context(), chi.URLParam(r, "id"), apiKey(r))
		if err != nil {
			ctrl.fail(w, r, err)
			return
		}
		if !ratelimit.Enforce(w, r, ctrl.limiter, "sub:"+sub.ID, ctrl.log) {
			return
		}
		ctx := context.WithValue(r.Context(), subscriptionKey, sub)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func subscriptionFrom(ctx context.Context) *models.Subscription {
	sub, _ := ctx.Value(subscriptionKey).(*models.Subscription)
	return sub
}

// recoverer is the only place panics are caught. It answers with a JSON 500.
func (ctrl *controller) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rvr := recover()
			if rvr == nil {
				return
			}
			if err, ok := rvr.(error); ok && errors.Is(err, http.ErrAbortHandler) {
				panic(rvr)
			}
			ctrl.log.Sugar().Errorw("Recovered from panic",
				"panic", rvr,
				"method", r.Method,
				"path", r.URL.Path,
				"request_id", middleware.GetReqID(r.Context()),
				"stack", string(debug.Stack()),
			)
			if r.Header.Get("Connection") != "Upgrade" {
				ctrl.reject(w, http.StatusInternalServerError, errors.New("internal error"))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func httpMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		httpDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
