package wshandlers

import (
	"context"

	"github.com/kandev/debugd/internal/debug/adapters"
	ws "github.com/kandev/debugd/pkg/websocket"
)

// ListAdaptersResponse is the response for debug.adapter.list
type ListAdaptersResponse struct {
	Languages []string `json:"languages"`
}

// ListAdapters handles debug.adapter.list
func (h *Handlers) ListAdapters(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	return ws.NewResponse(msg.ID, msg.Action, ListAdaptersResponse{
		Languages: h.registry.SupportedLanguages(),
	})
}

// DetectAdapterRequest is the payload for debug.adapter.detect
type DetectAdapterRequest struct {
	Language string `json:"language"`
}

// DetectAdapterResponse is the response for debug.adapter.detect
type DetectAdapterResponse struct {
	Language string                `json:"language"`
	Result   adapters.DetectResult `json:"result"`
}

// DetectAdapter handles debug.adapter.detect
func (h *Handlers) DetectAdapter(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req DetectAdapterRequest
	if err := msg.ParsePayload(&req); err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, "Invalid payload: "+err.Error(), nil)
	}

	if req.Language == "" {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeValidation, "language is required", nil)
	}
	if _, ok := h.registry.Get(req.Language); !ok {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeUnsupported, "Unsupported language: "+req.Language, nil)
	}

	result := h.registry.Detect(ctx, req.Language)
	return ws.NewResponse(msg.ID, msg.Action, DetectAdapterResponse{
		Language: req.Language,
		Result:   result,
	})
}
