package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-esphome/internal/entry"
)

// EntrySummary describes one configured entry.
type EntrySummary struct {
	ID              string           `json:"id"`
	Name            string           `json:"name"`
	FriendlyName    string           `json:"friendly_name"`
	Available       bool             `json:"available"`
	Platforms       []entry.Platform `json:"platforms"`
	PendingSave     bool             `json:"pending_save"`
	UnresolvedCount int              `json:"unresolved_migrations"`
}

// DeviceResponse is the body of GET /entries/{id}/device.
type DeviceResponse struct {
	Device             entry.DeviceInfo `json:"device"`
	APIVersion         entry.APIVersion `json:"api_version"`
	Available          bool             `json:"available"`
	ExpectedDisconnect bool             `json:"expected_disconnect"`
}

func summarize(data *entry.RuntimeData) EntrySummary {
	platforms := data.LoadedPlatforms()
	if platforms == nil {
		platforms = []entry.Platform{}
	}
	return EntrySummary{
		ID:              data.EntryID(),
		Name:            data.Name(),
		FriendlyName:    data.FriendlyName(),
		Available:       data.Available(),
		Platforms:       platforms,
		PendingSave:     data.HasPendingSave(),
		UnresolvedCount: len(data.UnresolvedMigrations()),
	}
}

// handleListEntries returns every configured entry, ordered by id.
func (s *Server) handleListEntries(w http.ResponseWriter, _ *http.Request) {
	out := make([]EntrySummary, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, summarize(s.entries[id]))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": out,
		"count":   len(out),
	})
}

// entryFromRequest resolves the {id} URL parameter, writing a 404 when the
// entry is unknown.
func (s *Server) entryFromRequest(w http.ResponseWriter, r *http.Request) (*entry.RuntimeData, bool) {
	id := chi.URLParam(r, "id")
	data, ok := s.entry(id)
	if !ok {
		writeNotFound(w, r, "entry not found")
		return nil, false
	}
	return data, true
}

func (s *Server) handleGetEntry(w http.ResponseWriter, r *http.Request) {
	data, ok := s.entryFromRequest(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, summarize(data))
}

func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	data, ok := s.entryFromRequest(w, r)
	if !ok {
		return
	}

	info, err := deviceInfo(data)
	if err != nil {
		writeEntryError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, DeviceResponse{
		Device:             info,
		APIVersion:         data.APIVersion(),
		Available:          data.Available(),
		ExpectedDisconnect: data.ExpectedDisconnect(),
	})
}

func deviceInfo(data *entry.RuntimeData) (entry.DeviceInfo, error) {
	info := data.DeviceInfo()
	if info == nil {
		return entry.DeviceInfo{}, entry.ErrNoDeviceInfo
	}
	return *info, nil
}

// typesFromQuery returns the entity types selected by ?type=, or every type.
func typesFromQuery(r *http.Request) ([]entry.EntityType, error) {
	raw := r.URL.Query().Get("type")
	if raw == "" {
		return entry.AllEntityTypes, nil
	}
	t, err := entry.ParseEntityType(raw)
	if err != nil {
		return nil, err
	}
	return []entry.EntityType{t}, nil
}

// handleListEntities returns entity infos grouped by type marker.
func (s *Server) handleListEntities(w http.ResponseWriter, r *http.Request) {
	data, ok := s.entryFromRequest(w, r)
	if !ok {
		return
	}
	types, err := typesFromQuery(r)
	if err != nil {
		writeEntryError(w, r, err)
		return
	}

	out := make(map[string][]entry.EntityInfo)
	count := 0
	for _, t := range types {
		if infos := data.Infos(t); len(infos) > 0 {
			out[t.String()] = infos
			count += len(infos)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entities": out,
		"count":    count,
	})
}

// handleListStates returns the current state of every known entity.
func (s *Server) handleListStates(w http.ResponseWriter, r *http.Request) {
	data, ok := s.entryFromRequest(w, r)
	if !ok {
		return
	}
	types, err := typesFromQuery(r)
	if err != nil {
		writeEntryError(w, r, err)
		return
	}

	states := make([]entry.EntityState, 0)
	for _, t := range types {
		for _, info := range data.Infos(t) {
			if state, ok := data.State(t, info.Key); ok {
				states = append(states, state)
			}
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"states":    states,
		"count":     len(states),
		"available": data.Available(),
	})
}

func (s *Server) handleListMigrations(w http.ResponseWriter, r *http.Request) {
	data, ok := s.entryFromRequest(w, r)
	if !ok {
		return
	}
	unresolved := data.UnresolvedMigrations()
	if unresolved == nil {
		unresolved = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"unresolved": unresolved,
		"count":      len(unresolved),
	})
}
