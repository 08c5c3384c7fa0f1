package transport

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/pitabwire/designer/internal/designer"
	"github.com/pitabwire/designer/model"
)

// maxBodyBytes bounds designer request bodies.
const maxBodyBytes = 1 << 20

type designerHandlers struct {
	designers *designer.Manager
}

type kindSummary struct {
	Kind    string              `json:"kind"`
	Title   string              `json:"title"`
	Version string              `json:"version"`
	Key     model.KeyDefinition `json:"key"`
	Panels  []panelSummary      `json:"panels"`
}

type panelSummary struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Kind  string `json:"kind"`
}

func (h *designerHandlers) listKinds(w http.ResponseWriter, _ *http.Request) {
	defs := h.designers.Definitions()
	kinds := make([]kindSummary, 0, len(defs))
	for _, d := range defs {
		panels := make([]panelSummary, len(d.Panels))
		for i, p := range d.Panels {
			panels[i] = panelSummary{ID: p.ID, Title: p.Title, Kind: p.Kind}
		}
		kinds = append(kinds, kindSummary{Kind: d.Kind, Title: d.Title, Version: d.Version, Key: d.Key, Panels: panels})
	}
	WriteJSON(w, http.StatusOK, map[string]any{"kinds": kinds})
}

func (h *designerHandlers) listDomains(w http.ResponseWriter, r *http.Request) {
	domains, err := h.designers.ListDomains(r.Context(), model.RequestContextFrom(r.Context()), r.URL.Query().Get("kind"))
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"domains": domains})
}

func (h *designerHandlers) open(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Kind     string `json:"kind"`
		DomainID string `json:"domain_id"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if body.Kind == "" {
		WriteBadRequest(w, "kind is required")
		return
	}

	desc, err := h.designers.Open(r.Context(), model.RequestContextFrom(r.Context()), body.Kind, body.DomainID)
	if err != nil {
		WriteError(w, err)
		return
	}
	w.Header().Set("Location", "/designer/sessions/"+desc.SessionID)
	WriteJSON(w, http.StatusCreated, desc)
}

func (h *designerHandlers) get(w http.ResponseWriter, r *http.Request) {
	desc, err := h.designers.Get(r.Context(), model.RequestContextFrom(r.Context()), chi.URLParam(r, "sessionId"))
	respond(w, desc, err)
}

func (h *designerHandlers) close(w http.ResponseWriter, r *http.Request) {
	if err := h.designers.Close(r.Context(), model.RequestContextFrom(r.Context()), chi.URLParam(r, "sessionId")); err != nil {
		WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *designerHandlers) togglePanel(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		WriteBadRequest(w, fmt.Sprintf("panel index %q is not an integer", chi.URLParam(r, "index")))
		return
	}
	var body struct {
		Collapsed *bool `json:"collapsed"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if body.Collapsed == nil {
		WriteBadRequest(w, "collapsed is required")
		return
	}

	desc, err := h.designers.TogglePanel(r.Context(), model.RequestContextFrom(r.Context()),
		chi.URLParam(r, "sessionId"), index, *body.Collapsed)
	respond(w, desc, err)
}

func (h *designerHandlers) applyEvent(w http.ResponseWriter, r *http.Request) {
	var event model.DesignerEvent
	if !decodeBody(w, r, &event) {
		return
	}
	desc, err := h.designers.Apply(r.Context(), model.RequestContextFrom(r.Context()), chi.URLParam(r, "sessionId"), event)
	respond(w, desc, err)
}

func (h *designerHandlers) selectKey(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Target string `json:"target"`
		Index  *int   `json:"index"`
	}
	if !decodeBody(w, r, &body) {
		return
	}

	var target model.KeySelection
	switch body.Target {
	case "none":
		target = model.NoKey()
	case "auto":
		target = model.AutoIncrementKey()
	case "field":
		if body.Index == nil {
			WriteBadRequest(w, "index is required when target is field")
			return
		}
		target = model.FieldKey(*body.Index)
	default:
		WriteBadRequest(w, fmt.Sprintf("target %q must be none, auto or field", body.Target))
		return
	}

	desc, err := h.designers.SelectKey(r.Context(), model.RequestContextFrom(r.Context()), chi.URLParam(r, "sessionId"), target)
	respond(w, desc, err)
}

func (h *designerHandlers) submit(w http.ResponseWriter, r *http.Request) {
	desc, err := h.designers.Submit(r.Context(), model.RequestContextFrom(r.Context()),
		chi.URLParam(r, "sessionId"), r.Header.Get("X-Idempotency-Key"))
	respond(w, desc, err)
}

func respond(w http.ResponseWriter, desc model.DesignerDescriptor, err error) {
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, desc)
}

// decodeBody reads a JSON request body into v, writing a 400 and returning
// false when it cannot.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		WriteBadRequest(w, "invalid JSON body")
		return false
	}
	return true
}
