package httpapi

import (
	"net/http"
	"strings"

	"aidcore.org/internal/auth"
)

type updateAccessRequest struct {
	Role      *string   `json:"role"`
	Modules   *[]string `json:"modules"`
	Resources *[]string `json:"resources"`
	Active    *bool     `json:"active"`
}

// Identity administration is reserved for global admins. Module admins
// run their module, not the identity registry.
var identityAdmin = auth.Requirement{Roles: []auth.Role{auth.RoleAdmin}}

func (a *API) handleIdentities(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if !a.require(w, r, identityAdmin) {
		return
	}
	identities, err := a.auth.ListIdentities(r.Context())
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": identities})
}

func (a *API) handleIdentityResource(w http.ResponseWriter, r *http.Request) {
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/identities/"), "/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if !a.require(w, r, identityAdmin) {
		return
	}

	switch r.Method {
	case http.MethodGet:
		a.getIdentity(w, r, id)
	case http.MethodPatch:
		a.updateIdentityAccess(w, r, id)
	case http.MethodDelete:
		a.deactivateIdentity(w, r, id)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPatch, http.MethodDelete)
	}
}

func (a *API) getIdentity(w http.ResponseWriter, r *http.Request, id string) {
	identity, err := a.auth.FindIdentity(r.Context(), id)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, identity)
}

func (a *API) updateIdentityAccess(w http.ResponseWriter, r *http.Request, id string) {
	var req updateAccessRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	var upd auth.AccessUpdate
	if req.Role != nil {
		role, err := auth.ParseRole(*req.Role)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		upd.Role = &role
	}
	if req.Modules != nil {
		modules := make([]auth.Module, 0, len(*req.Modules))
		for _, raw := range *req.Modules {
			m, err := auth.ParseModule(raw)
			if err != nil {
				writeError(w, r, http.StatusBadRequest, err.Error())
				return
			}
			modules = append(modules, m)
		}
		upd.Modules = &modules
	}
	upd.Resources = req.Resources
	upd.Active = req.Active

	identity, err := a.auth.UpdateAccess(r.Context(), id, upd)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}

	fields := map[string]any{"target_id": id}
	if req.Role != nil {
		fields["role"] = *req.Role
	}
	if req.Active != nil {
		fields["active"] = *req.Active
	}
	a.audit(r.Context(), "identity.access.update", fields)
	writeJSON(w, http.StatusOK, identity)
}

func (a *API) deactivateIdentity(w http.ResponseWriter, r *http.Request, id string) {
	inactive := false
	identity, err := a.auth.UpdateAccess(r.Context(), id, auth.AccessUpdate{Active: &inactive})
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	a.audit(r.Context(), "identity.deactivate", map[string]any{"target_id": id})
	writeJSON(w, http.StatusOK, identity)
}
