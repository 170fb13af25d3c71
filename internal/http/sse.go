package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/nats-io/nats.go"

	"github.com/fyrsmithlabs/reviewd/internal/events"
	"github.com/fyrsmithlabs/reviewd/internal/ledger"
)

// handleEvents streams ledger activity of one change set as Server-Sent
// Events. The first event is the current snapshot; later events carry the
// hop kind (begin, result, decision, ...) or "check" as the event name.
// The stream ends when the change set is archived or the client leaves.
//
//	GET /api/v1/changesets/acme/api/42/events
//
//	event: snapshot
//	data: {"key":{"repository":"acme/api","changeset":"42"},...}
//
//	event: result
//	data: {"kind":"result","hop":{"gate":"build","to":"pass",...}}
func (s *Server) handleEvents(c echo.Context) error {
	key, err := changeSetKey(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()

	// Subscribe before reading the snapshot so no hop falls in between.
	msgs := make(chan *nats.Msg, 64)
	sub, err := events.Subscribe(s.nc, s.prefix, key, msgs)
	if err != nil {
		return s.httpError(c, "subscribe", err)
	}
	defer func() {
		_ = sub.Unsubscribe()
	}()

	snap, err := s.reviews.Snapshot(ctx, key)
	if err != nil {
		return s.httpError(c, "snapshot", err)
	}

	w := c.Response()
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	writeEvent(w, "snapshot", data)
	if snap.Archived {
		return nil
	}

	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case msg := <-msgs:
			kind := events.KindOf(msg.Subject)
			writeEvent(w, kind, msg.Data)
			if kind == string(ledger.HopArchive) {
				return nil
			}
		case <-ticker.C:
			fmt.Fprintf(w, ": heartbeat\n\n")
			w.Flush()
		case <-ctx.Done():
			return nil
		}
	}
}

func writeEvent(w *echo.Response, name string, data []byte) {
	fmt.Fprintf(w, "event: %s\n", name)
	fmt.Fprintf(w, "data: %s\n\n", data)
	w.Flush()
}
