package app

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/fiffu/registrywatch/lib/subscriptions"
)

const streamWriteTimeout = 10 * time.Second

// streamChanges pushes every newly detected change that passes the query
// filter to a websocket client. Clients only listen; anything they send is
// discarded.
func (ctrl *controller) streamChanges(w http.ResponseWriter, r *http.Request) {
	m := subscriptions.NewMatcher(queryFilter(r))

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: ctrl.cfg.CORSOrigins,
	})
	if err != nil {
		ctrl.log.Sugar().Infow("Websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()

	changes, unsubscribe := ctrl.svc.StreamChanges()
	defer unsubscribe()

	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			return
		case batch, ok := <-changes:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "stream closed")
				return
			}
			for i := range batch {
				if !m.Match(&batch[i]) {
					continue
				}
				if err := write(ctx, conn, &batch[i]); err != nil {
					ctrl.log.Sugar().Debugw("Stream client went away", "err", err)
					return
				}
			}
		}
	}
}

func write(ctx context.Context, conn *websocket.Conn, v any) error {
	ctx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, v)
}
