package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/flemzord/scout/internal/approval"
)

const streamWriteTimeout = 10 * time.Second

// Stream message types sent to reviewers. Broker events keep their own
// type names.
const (
	streamAck   = "ack"
	streamError = "error"
)

// streamMessage is one server-to-reviewer frame on /ws/reviews.
type streamMessage struct {
	Type      string                  `json:"type"`
	Request   *approval.ActionRequest `json:"request,omitempty"`
	Decision  approval.DecisionKind   `json:"decision,omitempty"`
	RequestID string                  `json:"request_id,omitempty"`
	Error     string                  `json:"error,omitempty"`
}

// streamDecision is one reviewer-to-server frame: the decision for a
// pending request, in the same shape POST /api/reviews/{id} accepts.
type streamDecision struct {
	RequestID string          `json:"request_id"`
	Response  json.RawMessage `json:"response"`
}

// handleReviewStream upgrades to a WebSocket, replays pending requests,
// then forwards broker events until either side goes away. Reviewers may
// answer requests on the same connection.
func (g *Gateway) handleReviewStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: g.config.StreamOrigins})
	if err != nil {
		g.logger.Error("websocket accept failed", "error", err)
		return
	}
	defer func() {
		_ = conn.Close(websocket.StatusInternalError, "unexpected close")
	}()
	conn.SetReadLimit(int64(g.config.limits().Bytes()))

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Subscribe before the snapshot so no request falls between the two.
	events, unsubscribe := g.deps.Broker.Subscribe()
	defer unsubscribe()

	var writeMu sync.Mutex
	send := func(msg streamMessage) error {
		data, err := json.Marshal(msg)
		if err != nil {
			return err
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		wctx, done := context.WithTimeout(ctx, streamWriteTimeout)
		defer done()
		return conn.Write(wctx, websocket.MessageText, data)
	}

	replayed := make(map[string]struct{})
	for _, req := range g.deps.Broker.Pending() {
		replayed[req.ID] = struct{}{}
		if err := send(streamMessage{Type: string(approval.EventRequested), Request: &req}); err != nil {
			return
		}
	}

	go func() {
		defer cancel()
		g.readDecisions(ctx, conn, send)
	}()

	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusGoingAway, "stream closed")
			return
		case ev, ok := <-events:
			if !ok {
				// The broker dropped this subscriber for lagging. Reconnecting
				// replays Pending.
				_ = conn.Close(websocket.StatusTryAgainLater, "review stream lagged, reconnect")
				return
			}
			if _, dup := replayed[ev.Request.ID]; dup && ev.Type == approval.EventRequested {
				continue
			}
			req := ev.Request
			if err := send(streamMessage{Type: string(ev.Type), Request: &req, Decision: ev.Decision}); err != nil {
				g.logger.Debug("review stream write failed", "error", err)
				return
			}
		}
	}
}

// readDecisions applies reviewer frames until the connection fails.
func (g *Gateway) readDecisions(ctx context.Context, conn *websocket.Conn, send func(streamMessage) error) {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == -1 && !errors.Is(err, context.Canceled) {
				g.logger.Debug("review stream read failed", "error", err)
			}
			return
		}
		if typ != websocket.MessageText {
			continue
		}

		if err := g.config.limits().Check(data); err != nil {
			_ = send(streamMessage{Type: streamError, Error: err.Error()})
			continue
		}
		var in streamDecision
		if err := json.Unmarshal(data, &in); err != nil || in.RequestID == "" {
			_ = send(streamMessage{Type: streamError, Error: "expected {\"request_id\":...,\"response\":{...}}"})
			continue
		}
		d, _, err := g.decide(ctx, in.RequestID, in.Response)
		if err != nil {
			_ = send(streamMessage{Type: streamError, RequestID: in.RequestID, Error: err.Error()})
			continue
		}
		_ = send(streamMessage{Type: streamAck, RequestID: in.RequestID, Decision: d.Kind()})
	}
}
