package handlers

import (
	"net/http"

	"github.com/nikhilbhutani/promptvault/internal/llm"
)

type ModelsHandler struct {
	gateway llm.Gateway
}

func NewModelsHandler(gw llm.Gateway) *ModelsHandler {
	return &ModelsHandler{gateway: gw}
}

// List returns the models prompts can run against with the configured keys.
func (h *ModelsHandler) List(w http.ResponseWriter, r *http.Request) {
	models := h.gateway.ListModels()
	writeJSON(w, http.StatusOK, map[string]any{"models": models, "count": len(models)})
}
