package httpapi

import (
	"net/http"

	"go.uber.org/zap"

	"rhgestor.org/internal/audit"
	"rhgestor.org/internal/auth"
)

type updatePermissionsRequest struct {
	Permissions auth.PermissionDocument `json:"permissions"`
}

// handleUpdatePermissions replaces the permission document of an rh identity.
func (a *API) handleUpdatePermissions(w http.ResponseWriter, r *http.Request) {
	actor, ok := a.require(w, r, auth.Perm(auth.ResourceAdminUser, auth.ActionEdit))
	if !ok {
		return
	}
	targetID, err := pathID(r, "id")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	var req updatePermissionsRequest
	if err := decodeJSON(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	if req.Permissions == nil {
		req.Permissions = auth.PermissionDocument{}
	}
	updated, err := a.svc.Accounts.UpdatePermissions(r.Context(), actor.ID, targetID, req.Permissions)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), a.logger, "admin_user.permissions.updated",
		zap.Int64("identity_id", updated.ID),
		zap.Any("permissions", updated.Permissions),
	)
	writeData(w, http.StatusOK, userData{User: updated.Profile()})
}
