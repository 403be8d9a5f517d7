package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"aidcore.org/internal/auth"
	"aidcore.org/internal/wfp"
)

type createCycleRequest struct {
	Name     string `json:"name"`
	Region   string `json:"region"`
	Currency string `json:"currency"`
}

type disbursementRequest struct {
	Amount        int64 `json:"amount"`
	Beneficiaries int   `json:"beneficiaries"`
}

func (a *API) handleCyclesCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.createCycle(w, r)
	case http.MethodGet:
		a.listCycles(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleCycleResource(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/wfp/cycles/"), "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	id := parts[0]

	switch {
	case len(parts) == 1:
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		a.getCycle(w, r, id)
	case len(parts) == 2 && parts[1] == "close":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.closeCycle(w, r, id)
	case len(parts) == 2 && parts[1] == "disbursements":
		switch r.Method {
		case http.MethodPost:
			a.recordDisbursement(w, r, id)
		case http.MethodGet:
			a.listDisbursements(w, r, id)
		default:
			methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
		}
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) createCycle(w http.ResponseWriter, r *http.Request) {
	if !a.require(w, r, auth.Requirement{
		Module: auth.ModuleWFP,
		Roles:  []auth.Role{auth.RoleWFPAdmin},
	}) {
		return
	}
	var req createCycleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	cycle, err := a.wfp.CreateCycle(r.Context(), strings.TrimSpace(req.Name), strings.TrimSpace(req.Region), strings.ToUpper(strings.TrimSpace(req.Currency)))
	if err != nil {
		handleWFPError(w, r, err)
		return
	}

	a.audit(r.Context(), "wfp.cycle.create", map[string]any{
		"cycle_id": cycle.ID,
		"region":   cycle.Region,
	})
	w.Header().Set("Location", "/v1/wfp/cycles/"+cycle.ID)
	writeJSON(w, http.StatusCreated, cycle)
}

func (a *API) listCycles(w http.ResponseWriter, r *http.Request) {
	if !a.require(w, r, auth.Requirement{
		Module: auth.ModuleWFP,
		Roles:  []auth.Role{auth.RoleWFPViewer},
	}) {
		return
	}
	cycles, err := a.wfp.ListCycles(r.Context(), strings.TrimSpace(r.URL.Query().Get("region")))
	if err != nil {
		handleWFPError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": cycles})
}

func (a *API) getCycle(w http.ResponseWriter, r *http.Request, id string) {
	if !a.require(w, r, auth.Requirement{
		Module:   auth.ModuleWFP,
		Roles:    []auth.Role{auth.RoleWFPOfficer},
		Resource: auth.AssignmentGuard(auth.ModuleWFP, id),
	}) {
		return
	}
	cycle, err := a.wfp.GetCycle(r.Context(), id)
	if err != nil {
		handleWFPError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cycle)
}

func (a *API) closeCycle(w http.ResponseWriter, r *http.Request, id string) {
	if !a.require(w, r, auth.Requirement{
		Module: auth.ModuleWFP,
		Roles:  []auth.Role{auth.RoleWFPAdmin},
	}) {
		return
	}
	cycle, err := a.wfp.CloseCycle(r.Context(), id)
	if err != nil {
		handleWFPError(w, r, err)
		return
	}
	a.audit(r.Context(), "wfp.cycle.close", map[string]any{"cycle_id": id})
	writeJSON(w, http.StatusOK, cycle)
}

func (a *API) recordDisbursement(w http.ResponseWriter, r *http.Request, cycleID string) {
	if !a.require(w, r, auth.Requirement{
		Module:   auth.ModuleWFP,
		Roles:    []auth.Role{auth.RoleWFPOfficer},
		Resource: auth.AssignmentGuard(auth.ModuleWFP, cycleID),
	}) {
		return
	}
	var req disbursementRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	principal, _ := auth.PrincipalFromContext(r.Context())
	d, err := a.wfp.RecordDisbursement(r.Context(), cycleID, principal.ID, req.Amount, req.Beneficiaries)
	if err != nil {
		handleWFPError(w, r, err)
		return
	}

	a.audit(r.Context(), "wfp.disbursement.record", map[string]any{
		"cycle_id":      cycleID,
		"amount":        d.Amount,
		"beneficiaries": d.Beneficiaries,
	})
	writeJSON(w, http.StatusCreated, d)
}

func (a *API) listDisbursements(w http.ResponseWriter, r *http.Request, cycleID string) {
	if !a.require(w, r, auth.Requirement{
		Module:   auth.ModuleWFP,
		Roles:    []auth.Role{auth.RoleWFPOfficer},
		Resource: auth.AssignmentGuard(auth.ModuleWFP, cycleID),
	}) {
		return
	}
	items, err := a.wfp.ListDisbursements(r.Context(), cycleID)
	if err != nil {
		handleWFPError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func handleWFPError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, wfp.ErrInvalidCycle), errors.Is(err, wfp.ErrInvalidAmount):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, wfp.ErrCycleClosed):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, wfp.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
