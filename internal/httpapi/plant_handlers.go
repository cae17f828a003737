package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"plantops.org/internal/audit"
	"plantops.org/internal/auth"
	"plantops.org/internal/obs"
	"plantops.org/internal/plant"
)

func (a *API) handleMachines(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/machines/")
	if id == "" {
		switch r.Method {
		case http.MethodGet:
			machines, err := a.plantSvc.ListMachines(r.Context())
			if err != nil {
				handleDomainError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, machines)
		case http.MethodPost:
			if !requireRole(w, r, auth.RoleAdmin, auth.RolePlanner) {
				return
			}
			var m plant.Machine
			if err := decodeJSON(r, &m); err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			created, err := a.plantSvc.CreateMachine(r.Context(), m)
			if err != nil {
				handleDomainError(w, err)
				return
			}
			audit.LogEvent(r.Context(), "machine_created", map[string]any{
				"machine_id": created.ID,
				"name":       created.Name,
			})
			writeJSON(w, http.StatusCreated, created)
		default:
			methodNotAllowed(w, http.MethodGet, http.MethodPost)
		}
		return
	}

	switch r.Method {
	case http.MethodGet:
		m, err := a.plantSvc.GetMachine(r.Context(), id)
		if err != nil {
			handleDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, m)
	case http.MethodPut:
		if !requireRole(w, r, auth.RoleAdmin, auth.RolePlanner) {
			return
		}
		var req struct {
			Name   *string `json:"name"`
			Code   *string `json:"code"`
			Status *string `json:"status"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		m, err := a.plantSvc.UpdateMachine(r.Context(), id, plant.MachineUpdate{
			Name:   req.Name,
			Code:   req.Code,
			Status: req.Status,
		})
		if err != nil {
			handleDomainError(w, err)
			return
		}
		audit.LogEvent(r.Context(), "machine_updated", map[string]any{
			"machine_id": id,
		})
		writeJSON(w, http.StatusOK, m)
	case http.MethodDelete:
		if !requireRole(w, r, auth.RoleAdmin) {
			return
		}
		if err := a.plantSvc.DeleteMachine(r.Context(), id); err != nil {
			handleDomainError(w, err)
			return
		}
		audit.LogEvent(r.Context(), "machine_deleted", map[string]any{
			"machine_id": id,
		})
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPut, http.MethodDelete)
	}
}

func (a *API) handleOrders(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/orders/")
	if id == "" {
		switch r.Method {
		case http.MethodGet:
			orders, err := a.plantSvc.ListOrders(r.Context())
			if err != nil {
				handleDomainError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, orders)
		case http.MethodPost:
			if !requireRole(w, r, auth.RoleAdmin, auth.RolePlanner) {
				return
			}
			var o plant.Order
			if err := decodeJSON(r, &o); err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			created, err := a.plantSvc.CreateOrder(r.Context(), o)
			if err != nil {
				handleDomainError(w, err)
				return
			}
			audit.LogEvent(r.Context(), "order_created", map[string]any{
				"order_id":     created.ID,
				"order_number": created.OrderNumber,
			})
			writeJSON(w, http.StatusCreated, created)
		default:
			methodNotAllowed(w, http.MethodGet, http.MethodPost)
		}
		return
	}

	switch r.Method {
	case http.MethodGet:
		o, err := a.plantSvc.GetOrder(r.Context(), id)
		if err != nil {
			handleDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, o)
	case http.MethodPut:
		if !requireRole(w, r, auth.RoleAdmin, auth.RolePlanner) {
			return
		}
		var req struct {
			OrderNumber *string `json:"order_number"`
			Product     *string `json:"product"`
			Quantity    *int    `json:"quantity"`
			Priority    *int    `json:"priority"`
			Status      *string `json:"status"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		o, err := a.plantSvc.UpdateOrder(r.Context(), id, plant.OrderUpdate{
			OrderNumber: req.OrderNumber,
			Product:     req.Product,
			Quantity:    req.Quantity,
			Priority:    req.Priority,
			Status:      req.Status,
		})
		if err != nil {
			handleDomainError(w, err)
			return
		}
		audit.LogEvent(r.Context(), "order_updated", map[string]any{
			"order_id": id,
		})
		writeJSON(w, http.StatusOK, o)
	case http.MethodDelete:
		if !requireRole(w, r, auth.RoleAdmin) {
			return
		}
		if err := a.plantSvc.DeleteOrder(r.Context(), id); err != nil {
			handleDomainError(w, err)
			return
		}
		audit.LogEvent(r.Context(), "order_deleted", map[string]any{
			"order_id": id,
		})
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPut, http.MethodDelete)
	}
}

func (a *API) handleEventsBulk(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var events []plant.Event
	if err := decodeJSON(r, &events); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(events) == 0 {
		writeError(w, http.StatusBadRequest, "empty event batch")
		return
	}
	stored, err := a.plantSvc.IngestEvents(r.Context(), events)
	if err != nil {
		handleDomainError(w, err)
		return
	}
	for _, ev := range stored {
		obs.CountIngestedEvent(ev.Type)
		a.events.Publish(ev)
	}
	audit.LogEvent(r.Context(), "events_ingested", map[string]any{
		"count": len(stored),
	})
	writeJSON(w, http.StatusCreated, map[string]any{
		"ingested": len(stored),
		"events":   stored,
	})
}

// handleEventsStream pushes accepted events to the client over SSE.
func (a *API) handleEventsStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch, cancel := a.events.Subscribe()
	defer cancel()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
		}
	}
}
