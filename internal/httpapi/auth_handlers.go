package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"rhgestor.org/internal/audit"
	"rhgestor.org/internal/auth"
)

const forgotPasswordMessage = "if the email is registered, a password reset link has been sent"

type loginRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

type loginResponse struct {
	Status string `json:"status"`
	Token  string `json:"token"`
	Data   struct {
		User auth.Profile `json:"user"`
	} `json:"data"`
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

type resetPasswordRequest struct {
	Password string `json:"password"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

type registerRequest struct {
	Login       string                  `json:"login"`
	Password    string                  `json:"password"`
	Name        string                  `json:"name"`
	Email       string                  `json:"email"`
	Role        string                  `json:"role"`
	IsActive    *bool                   `json:"isActive"`
	Permissions auth.PermissionDocument `json:"permissions"`
}

type updateAdminUserRequest struct {
	Name        *string                  `json:"name"`
	Login       *string                  `json:"login"`
	Email       *string                  `json:"email"`
	Password    *string                  `json:"password"`
	Role        *string                  `json:"role"`
	IsActive    *bool                    `json:"isActive"`
	Permissions *auth.PermissionDocument `json:"permissions"`
}

type userData struct {
	User auth.Profile `json:"user"`
}

type usersData struct {
	Users []auth.Profile `json:"users"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	res, err := a.svc.Accounts.Login(r.Context(), req.Login, req.Password)
	if err != nil {
		_ = audit.LogEvent(r.Context(), a.logger, "auth.login.failed",
			zap.String("login", req.Login),
			zap.String("remote_ip", clientIP(r)),
		)
		a.fail(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), a.logger, "auth.login.succeeded",
		zap.Int64("identity_id", res.Identity.ID),
		zap.Time("expires_at", res.ExpiresAt),
	)
	resp := loginResponse{Status: "success", Token: res.Token}
	resp.Data.User = res.Identity.Profile()
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	if err := a.svc.Accounts.ForgotPassword(r.Context(), req.Email); err != nil {
		a.fail(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), a.logger, "auth.password_reset.requested",
		zap.String("remote_ip", clientIP(r)),
	)
	writeMessage(w, http.StatusOK, forgotPasswordMessage)
}

func (a *API) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	if err := a.svc.Accounts.ResetPassword(r.Context(), mux.Vars(r)["token"], req.Password); err != nil {
		a.fail(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), a.logger, "auth.password_reset.completed")
	writeMessage(w, http.StatusOK, "password has been reset")
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	id, ok := a.current(w, r)
	if !ok {
		return
	}
	writeData(w, http.StatusOK, userData{User: id.Profile()})
}

func (a *API) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	id, ok := a.current(w, r)
	if !ok {
		return
	}
	var req changePasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	if err := a.svc.Accounts.ChangePassword(r.Context(), id.ID, req.CurrentPassword, req.NewPassword); err != nil {
		a.fail(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), a.logger, "auth.password.changed", zap.Int64("identity_id", id.ID))
	writeMessage(w, http.StatusOK, "password updated")
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.require(w, r, auth.Perm(auth.ResourceAdminUser, auth.ActionCreate)); !ok {
		return
	}
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	created, err := a.svc.Accounts.Register(r.Context(), auth.RegisterInput{
		Login:       req.Login,
		Password:    req.Password,
		Name:        req.Name,
		Email:       req.Email,
		Role:        req.Role,
		Active:      req.IsActive,
		Permissions: req.Permissions,
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), a.logger, "admin_user.created",
		zap.Int64("identity_id", created.ID),
		zap.String("role", string(created.Role)),
	)
	writeData(w, http.StatusCreated, userData{User: created.Profile()})
}

func (a *API) handleListAdminUsers(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.require(w, r, auth.Perm(auth.ResourceAdminUser, auth.ActionEdit)); !ok {
		return
	}
	ids, err := a.svc.Accounts.List(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	out := make([]auth.Profile, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.Profile())
	}
	writeList(w, http.StatusOK, len(out), usersData{Users: out})
}

func (a *API) handleGetAdminUser(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.require(w, r, auth.Perm(auth.ResourceAdminUser, auth.ActionEdit)); !ok {
		return
	}
	targetID, err := pathID(r, "id")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	id, err := a.svc.Accounts.Get(r.Context(), targetID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, userData{User: id.Profile()})
}

func (a *API) handleUpdateAdminUser(w http.ResponseWriter, r *http.Request) {
	actor, ok := a.require(w, r, auth.Perm(auth.ResourceAdminUser, auth.ActionEdit))
	if !ok {
		return
	}
	targetID, err := pathID(r, "id")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	var req updateAdminUserRequest
	if err := decodeJSON(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	updated, err := a.svc.Accounts.Update(r.Context(), actor.ID, targetID, auth.IdentityUpdate{
		Name:        req.Name,
		Login:       req.Login,
		Email:       req.Email,
		Password:    req.Password,
		Role:        req.Role,
		Active:      req.IsActive,
		Permissions: req.Permissions,
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), a.logger, "admin_user.updated",
		zap.Int64("identity_id", updated.ID),
		zap.String("role", string(updated.Role)),
		zap.Bool("is_active", updated.Active),
	)
	writeData(w, http.StatusOK, userData{User: updated.Profile()})
}

func (a *API) handleDeleteAdminUser(w http.ResponseWriter, r *http.Request) {
	actor, ok := a.require(w, r, auth.Perm(auth.ResourceAdminUser, auth.ActionDelete))
	if !ok {
		return
	}
	targetID, err := pathID(r, "id")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if err := a.svc.Accounts.Delete(r.Context(), actor.ID, targetID); err != nil {
		a.fail(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), a.logger, "admin_user.deleted", zap.Int64("identity_id", targetID))
	w.WriteHeader(http.StatusNoContent)
}
