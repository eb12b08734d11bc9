package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/flemzord/scout/internal/approval"
	"github.com/flemzord/scout/internal/security"
)

// decisionResponse acknowledges an accepted decision.
type decisionResponse struct {
	ID       string                `json:"id"`
	Decision approval.DecisionKind `json:"decision"`
}

func (g *Gateway) handleListReviews() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		pending := g.deps.Broker.Pending()
		if pending == nil {
			pending = []approval.ActionRequest{}
		}
		writeJSON(w, http.StatusOK, pending)
	}
}

func (g *Gateway) handleGetReview() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := g.deps.Broker.Get(chi.URLParam(r, "id"))
		if !ok {
			writeError(w, http.StatusNotFound, approval.ErrUnknownRequest.Error())
			return
		}
		writeJSON(w, http.StatusOK, req)
	}
}

// handleDecide answers a pending request with a decision in the
// {"type": ..., "args": ...} response shape.
func (g *Gateway) handleDecide() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		body, status, err := g.readBody(r)
		if err != nil {
			writeError(w, status, err.Error())
			return
		}

		d, status, err := g.decide(r.Context(), id, body)
		if err != nil {
			writeError(w, status, err.Error())
			return
		}
		writeJSON(w, http.StatusAccepted, decisionResponse{ID: id, Decision: d.Kind()})
	}
}

// decide decodes body and delivers it to request id. Decision tags outside
// the closed set are rejected here, so the request stays pending and the
// reviewer can answer again. The returned status is meaningful only when
// err is non-nil. Accepted decisions are audited under the reviewer that
// ctx was authenticated as.
func (g *Gateway) decide(ctx context.Context, id string, body []byte) (approval.Decision, int, error) {
	d, err := approval.DecodeDecision(body)
	if err != nil {
		return nil, http.StatusBadRequest, err
	}

	req, known := g.deps.Broker.Get(id)
	if known && !req.Config.Allows(d.Kind()) {
		g.logger.Warn("decision rejected by capabilities",
			"request_id", id,
			"tool", req.Action.Action,
			"decision", string(d.Kind()),
		)
		return nil, http.StatusUnprocessableEntity,
			fmt.Errorf("decision %q is not allowed for %s", d.Kind(), req.Action.Action)
	}

	if err := g.deps.Broker.Resolve(id, d); err != nil {
		switch {
		case errors.Is(err, approval.ErrUnknownRequest):
			return nil, http.StatusNotFound, err
		case errors.Is(err, approval.ErrAlreadyResolved), errors.Is(err, approval.ErrOutOfOrder):
			return nil, http.StatusConflict, err
		case errors.Is(err, approval.ErrCancelled):
			return nil, http.StatusGone, err
		default:
			return nil, http.StatusBadRequest, err
		}
	}

	reviewer := Reviewer(ctx)
	g.logger.Info("review decided", "request_id", id, "tool", req.Action.Action, "decision", string(d.Kind()), "reviewer", reviewer)
	g.deps.Audit.Log(security.AuditEvent{
		Type:      security.EventApproval,
		TaskID:    req.TaskID,
		RequestID: id,
		ToolName:  req.Action.Action,
		Phase:     "submitted",
		Decision:  string(d.Kind()),
		Metadata:  map[string]string{"reviewer": reviewer},
	})
	return d, 0, nil
}

// readBody reads a bounded request body and rejects oversized or deeply
// nested JSON.
func (g *Gateway) readBody(r *http.Request) ([]byte, int, error) {
	data, err := g.config.limits().Read(r.Body)
	switch {
	case errors.Is(err, security.ErrPayloadTooLarge):
		return nil, http.StatusRequestEntityTooLarge, err
	case err != nil:
		return nil, http.StatusBadRequest, err
	}
	return data, 0, nil
}
