package api

import (
	"net/http"

	"github.com/nerrad567/gray-logic-esphome/internal/entityregistry"
)

// handleListRegistry returns entity registry rows, optionally filtered by
// ?entry=.
func (s *Server) handleListRegistry(w http.ResponseWriter, r *http.Request) {
	rows := []entityregistry.Entry{}
	if s.registry != nil {
		list, err := s.registry.List(r.Context(), r.URL.Query().Get("entry"))
		if err != nil {
			s.logger.Error("listing entity registry failed", "error", err)
			writeInternalError(w, r, "failed to list entity registry")
			return
		}
		if list != nil {
			rows = list
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"entities": rows,
		"count":    len(rows),
	})
}
