// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/danielhkuo/ballotbox/middleware"
	"github.com/danielhkuo/ballotbox/models"
	"github.com/danielhkuo/ballotbox/store"
	"github.com/danielhkuo/ballotbox/tally"
	"github.com/danielhkuo/ballotbox/vote"
)

// Live connection timing
const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10

	// Clients only send control frames
	maxClientMessage = 512
)

type TallyHandler struct {
	store       *store.Store
	broadcaster *tally.Broadcaster
	engine      *vote.Engine
	callers     callers
	upgrader    websocket.Upgrader

	// Now is the clock used for results visibility
	Now func() time.Time
}

// NewTallyHandler creates the tally handler. Websocket upgrades are accepted
// from the given origins, or from any origin when none are configured. The
// engine answers whether a caller voted, for polls that show results after
// voting.
func NewTallyHandler(s *store.Store, b *tally.Broadcaster, e *vote.Engine, ips *middleware.ClientIPs, origins []string) *TallyHandler {
	return &TallyHandler{
		store:       s,
		broadcaster: b,
		engine:      e,
		callers:     callers{voters: s, ips: ips},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(origins),
		},
		Now: time.Now,
	}
}

// GetTally handles GET /polls/{id}/tally
// Per-option counts are omitted while results are sealed to the caller
func (h *TallyHandler) GetTally(w http.ResponseWriter, r *http.Request) {
	pollID := r.PathValue("id")
	if pollID == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "poll_id is required")
		return
	}

	t, err := h.snapshot(r, pollID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	middleware.JSONResponse(w, http.StatusOK, t)
}

// Live handles GET /polls/{id}/live
// Sends the current tally, then every committed change until the client leaves
func (h *TallyHandler) Live(w http.ResponseWriter, r *http.Request) {
	pollID := r.PathValue("id")
	if pollID == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "poll_id is required")
		return
	}

	// Subscribe before the snapshot read so no push falls between them
	sub := h.broadcaster.Subscribe(pollID)
	defer h.broadcaster.Unsubscribe(sub)

	snapshot, err := h.snapshot(r, pollID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	// Pushes carry public visibility; a caller who could see counts at
	// connect time gets sealed pushes re-read for them
	personal := snapshot.Counts != nil

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error
		slog.Debug("websocket upgrade failed", "poll_id", pollID, "error", err)
		return
	}
	defer conn.Close()

	done := make(chan struct{})
	go readPump(conn, done)

	if err := writeTally(conn, snapshot); err != nil {
		return
	}
	sent := snapshot.Total

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case t, ok := <-sub.C:
			if !ok {
				// Broadcaster closed on shutdown
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
					time.Now().Add(writeWait))
				return
			}
			if t.Counts == nil && personal {
				if t, err = h.snapshot(r, pollID); err != nil {
					slog.Warn("failed to read tally for live viewer", "poll_id", pollID, "error", err)
					continue
				}
			}
			// Counts only grow; a push older than the snapshot is skipped
			if t.Total < sent {
				continue
			}
			if err := writeTally(conn, t); err != nil {
				return
			}
			sent = t.Total
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func (h *TallyHandler) snapshot(r *http.Request, pollID string) (models.Tally, error) {
	return tally.SnapshotFor(r.Context(), h.store, pollID, h.Now(), h.callers.voteCheck(h.engine, r, pollID))
}

func writeTally(conn *websocket.Conn, t models.Tally) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(t)
}

// readPump drains client frames so control messages are processed, and
// closes done when the client goes away.
func readPump(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)

	conn.SetReadLimit(maxClientMessage)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func originChecker(origins []string) func(r *http.Request) bool {
	if len(origins) == 0 {
		return func(*http.Request) bool { return true }
	}
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			// Non-browser clients send no Origin
			return true
		}
		_, ok := allowed[origin]
		return ok
	}
}
