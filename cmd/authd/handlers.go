package main

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/securestorage/authcore"
	"github.com/securestorage/authcore/middleware"
)

// roleAuthorities is the authority set granted by each role name accepted on
// /user/updaterole.
var roleAuthorities = map[string][]string{
	"USER": {
		"document:create", "document:read", "document:update", "document:delete",
	},
	"MANAGER": {
		"document:create", "document:read", "document:update", "document:delete",
		"user:read",
	},
	"ADMIN": {
		"document:create", "document:read", "document:update", "document:delete",
		"user:create", "user:read", "user:update",
	},
	"SUPER_ADMIN": {
		"document:create", "document:read", "document:update", "document:delete",
		"user:create", "user:read", "user:update", "user:delete",
	},
}

type handlers struct {
	engine *authcore.Engine
}

type response struct {
	Time    string         `json:"time"`
	Code    int            `json:"code"`
	Path    string         `json:"path"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

type userView struct {
	UserID            string    `json:"userId"`
	FirstName         string    `json:"firstName"`
	LastName          string    `json:"lastName"`
	Email             string    `json:"email"`
	Role              string    `json:"role"`
	Authorities       []string  `json:"authorities"`
	Enabled           bool      `json:"enabled"`
	AccountNonExpired bool      `json:"accountNonExpired"`
	AccountNonLocked  bool      `json:"accountNonLocked"`
	MFA               bool      `json:"mfa"`
	QRCodeImageURI    string    `json:"qrCodeImageUri,omitempty"`
	LastLogin         time.Time `json:"lastLogin"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

func toUserView(i *authcore.Identity) userView {
	return userView{
		UserID:            i.UserID,
		FirstName:         i.FirstName,
		LastName:          i.LastName,
		Email:             i.Email,
		Role:              i.Role,
		Authorities:       i.Authorities,
		Enabled:           i.Enabled,
		AccountNonExpired: i.NonExpired,
		AccountNonLocked:  i.NonLocked,
		MFA:               i.MFAEnabled,
		QRCodeImageURI:    i.MFAImageURI,
		LastLogin:         i.LastLogin,
		CreatedAt:         i.CreatedAt,
		UpdatedAt:         i.UpdatedAt,
	}
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, message string, data map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(response{
		Time:    time.Now().UTC().Format(time.RFC3339),
		Code:    status,
		Path:    r.URL.Path,
		Message: message,
		Data:    data,
	})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		middleware.WriteError(w, authcore.ErrInvalidRequest)
		return false
	}
	return true
}

// callerID is only used behind a guard, so the principal is present.
func callerID(r *http.Request) string {
	p, _ := authcore.PrincipalFromContext(r.Context())
	return p.UserID
}

func (h *handlers) register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FirstName string `json:"firstName"`
		LastName  string `json:"lastName"`
		Email     string `json:"email"`
		Password  string `json:"password"`
	}
	if !decode(w, r, &req) {
		return
	}
	if _, err := h.engine.Register(r.Context(), authcore.RegisterRequest{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     req.Email,
		Password:  req.Password,
	}); err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, "Account created, Check your email to enable your account.", nil)
}

func (h *handlers) verifyAccount(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.VerifyAccount(r.Context(), r.URL.Query().Get("key")); err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, r, http.StatusOK, "Account verified.", nil)
}

func (h *handlers) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !decode(w, r, &req) {
		return
	}
	res, err := h.engine.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	if res.MFARequired {
		writeJSON(w, r, http.StatusOK, "Please enter QR code", map[string]any{
			"mfa":         true,
			"challengeId": res.ChallengeID,
		})
		return
	}
	h.engine.SetSessionCookies(w, res)
	writeJSON(w, r, http.StatusOK, "Login successful", map[string]any{
		"userId":      res.UserID,
		"authorities": res.Authorities,
	})
}

func (h *handlers) verifyQRCode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ChallengeID string `json:"challengeId"`
		QRCode      string `json:"qrCode"`
	}
	if !decode(w, r, &req) {
		return
	}
	res, err := h.engine.ConfirmLoginMFA(r.Context(), req.ChallengeID, req.QRCode)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	h.engine.SetSessionCookies(w, res)
	writeJSON(w, r, http.StatusOK, "QR code verified", map[string]any{
		"userId":      res.UserID,
		"authorities": res.Authorities,
	})
}

func (h *handlers) logout(w http.ResponseWriter, r *http.Request) {
	h.engine.Logout(w, r)
	writeJSON(w, r, http.StatusOK, "You've logged out successfully", nil)
}

func (h *handlers) profile(w http.ResponseWriter, r *http.Request) {
	identity, err := h.engine.Profile(r.Context(), callerID(r))
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, r, http.StatusOK, "Profile retrieved", map[string]any{"user": toUserView(identity)})
}

func (h *handlers) updateProfile(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FirstName string `json:"firstName"`
		LastName  string `json:"lastName"`
	}
	if !decode(w, r, &req) {
		return
	}
	identity, err := h.engine.UpdateProfile(r.Context(), callerID(r), authcore.ProfileUpdate{
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, r, http.StatusOK, "User updated successfully", map[string]any{"user": toUserView(identity)})
}

func (h *handlers) updatePassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CurrentPassword    string `json:"currentPassword"`
		NewPassword        string `json:"newPassword"`
		ConfirmNewPassword string `json:"confirmNewPassword"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := h.engine.UpdatePassword(r.Context(), callerID(r), req.CurrentPassword, req.NewPassword, req.ConfirmNewPassword); err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, r, http.StatusOK, "Password updated successfully", nil)
}

func (h *handlers) setupMFA(w http.ResponseWriter, r *http.Request) {
	setup, err := h.engine.SetupMFA(r.Context(), callerID(r))
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, r, http.StatusOK, "MFA set up successfully", map[string]any{
		"qrCodeImageUri": setup.ImageURI,
		"otpauthUri":     setup.URI,
	})
}

func (h *handlers) cancelMFA(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.CancelMFA(r.Context(), callerID(r)); err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, r, http.StatusOK, "MFA canceled successfully", nil)
}

func (h *handlers) verifyMFA(w http.ResponseWriter, r *http.Request) {
	var req struct {
		QRCode string `json:"qrCode"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := h.engine.VerifyMFA(r.Context(), callerID(r), req.QRCode); err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, r, http.StatusOK, "QR code verified", nil)
}

func (h *handlers) requestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := h.engine.RequestPasswordReset(r.Context(), req.Email); err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, r, http.StatusOK, "We sent an email to reset your password, please check.", nil)
}

func (h *handlers) verifyPasswordReset(w http.ResponseWriter, r *http.Request) {
	grant, err := h.engine.VerifyPasswordReset(r.Context(), r.URL.Query().Get("key"))
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, r, http.StatusOK, "Enter new password", map[string]any{
		"user":       toUserView(grant.Identity),
		"resetToken": grant.Token,
		"expiresAt":  grant.ExpiresAt,
	})
}

// resetPassword is reachable without a session; the reset token from
// verifyPasswordReset is the only proof of ownership.
func (h *handlers) resetPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ResetToken         string `json:"resetToken"`
		NewPassword        string `json:"newPassword"`
		ConfirmNewPassword string `json:"confirmNewPassword"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := h.engine.ResetPassword(r.Context(), req.ResetToken, req.NewPassword, req.ConfirmNewPassword); err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, r, http.StatusOK, "Password reset successfully", nil)
}

// targetRequest names the account an administrative call changes. An empty
// UserID means the caller's own account.
type targetRequest struct {
	UserID string `json:"userId"`
	Role   string `json:"role"`
	Value  *bool  `json:"value"`
}

func (t targetRequest) target(r *http.Request) string {
	if id := strings.TrimSpace(t.UserID); id != "" {
		return id
	}
	return callerID(r)
}

func (h *handlers) updateRole(w http.ResponseWriter, r *http.Request) {
	var req targetRequest
	if !decode(w, r, &req) {
		return
	}
	role := strings.ToUpper(strings.TrimSpace(req.Role))
	authorities, ok := roleAuthorities[role]
	if !ok {
		middleware.WriteError(w, authcore.ErrInvalidRequest)
		return
	}
	if err := h.engine.UpdateAuthorities(r.Context(), req.target(r), role, authorities); err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, r, http.StatusOK, "User role updated successfully", nil)
}

// setFlag sets flag to the request's value, true when omitted.
func (h *handlers) setFlag(flag authcore.AccountFlag) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req targetRequest
		if !decode(w, r, &req) {
			return
		}
		value := true
		if req.Value != nil {
			value = *req.Value
		}
		if err := h.engine.SetAccountFlag(r.Context(), req.target(r), flag, value); err != nil {
			middleware.WriteError(w, err)
			return
		}
		writeJSON(w, r, http.StatusOK, "Account updated successfully", nil)
	}
}
