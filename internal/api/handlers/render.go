package handlers

import (
	"errors"
	"net/http"

	"github.com/onnwee/prerender/internal/apierr"
	"github.com/onnwee/prerender/internal/middleware"
	"github.com/onnwee/prerender/internal/render"
)

// RenderHandler serves rendered markup.
type RenderHandler struct {
	svc Renderer
}

// NewRenderHandler creates a render handler backed by svc.
func NewRenderHandler(svc Renderer) *RenderHandler {
	return &RenderHandler{svc: svc}
}

// Render returns the rendered markup of the page named by the url query parameter.
// GET /render?url=<URL>
func (h *RenderHandler) Render(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("url")
	if raw == "" {
		apierr.WriteErrorWithContext(w, r, apierr.ValidationMissingField("url"))
		return
	}

	res, err := h.svc.Render(r.Context(), raw)
	if err != nil {
		apierr.WriteErrorWithContext(w, r, toAPIError(err))
		return
	}

	status := "MISS"
	if res.Cached {
		status = "HIT"
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set(middleware.CacheStatusHeader, status)
	w.WriteHeader(http.StatusOK)
	w.Write(res.HTML)
}

func toAPIError(err error) *apierr.Error {
	var rerr *render.Error
	if !errors.As(err, &rerr) {
		return apierr.RenderFailed(err.Error())
	}
	switch rerr.Kind {
	case render.KindInvalidInput:
		return apierr.ValidationInvalidURL(rerr.Message)
	default:
		return apierr.RenderFailed(rerr.Message)
	}
}
