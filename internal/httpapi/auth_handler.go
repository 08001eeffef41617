package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/smallbiznis/shieldcart-auth/internal/apierror"
	"github.com/smallbiznis/shieldcart-auth/internal/config"
	"github.com/smallbiznis/shieldcart-auth/internal/domain"
	"github.com/smallbiznis/shieldcart-auth/internal/service"
)

const refreshCookieName = "refreshToken"

// AuthHandler adapts service.AuthService onto gin routes.
type AuthHandler struct {
	svc    *service.AuthService
	cfg    config.Config
	logger *zap.Logger
}

// NewAuthHandler builds an AuthHandler over an AuthService.
func NewAuthHandler(svc *service.AuthService, cfg config.Config, logger *zap.Logger) *AuthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthHandler{svc: svc, cfg: cfg, logger: logger}
}

func (h *AuthHandler) setRefreshCookie(c *gin.Context, token string) {
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(refreshCookieName, token, int(h.cfg.RefreshTokenTTL.Seconds()), "/", "", h.cfg.IsProduction(), true)
}

func (h *AuthHandler) clearRefreshCookie(c *gin.Context) {
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(refreshCookieName, "", -1, "/", "", h.cfg.IsProduction(), true)
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

// Register handles POST /api/v1/auth/register.
func (h *AuthHandler) Register(c *gin.Context) {
	var req registerRequest
	if err := BindJSON(c, &req); err != nil {
		respondError(c, apierror.New(apierror.KindInvalidRequest, "Request body must be valid JSON."))
		return
	}
	user, err := h.svc.Register(c.Request.Context(), req.Email, req.Password, req.Name, getRequestInfo(c))
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, http.StatusCreated, gin.H{"userId": user.ID, "email": user.Email})
}

// VerifyEmail handles POST /api/v1/auth/verify-email.
func (h *AuthHandler) VerifyEmail(c *gin.Context) {
	var req struct {
		Token string `json:"token"`
	}
	if err := BindJSON(c, &req); err != nil {
		respondError(c, apierror.New(apierror.KindInvalidRequest, "Request body must be valid JSON."))
		return
	}
	if err := h.svc.VerifyEmail(c.Request.Context(), req.Token); err != nil {
		respondError(c, err)
		return
	}
	respondMessage(c, http.StatusOK, "Email verified.")
}

// ResendVerification handles POST /api/v1/auth/resend-verification.
func (h *AuthHandler) ResendVerification(c *gin.Context) {
	var req struct {
		Email string `json:"email"`
	}
	if err := BindJSON(c, &req); err != nil {
		respondError(c, apierror.New(apierror.KindInvalidRequest, "Request body must be valid JSON."))
		return
	}
	_ = h.svc.ResendVerification(c.Request.Context(), req.Email)
	respondMessage(c, http.StatusOK, "If an account exists, a verification email has been sent.")
}

type loginRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	DeviceID   string `json:"deviceId"`
	DeviceName string `json:"deviceName"`
}

func (h *AuthHandler) writeLoginResult(c *gin.Context, result service.LoginResult) {
	switch result.Outcome {
	case service.LoginOutcomeEmailVerificationRequired:
		respondOK(c, http.StatusOK, gin.H{"outcome": result.Outcome})
	case service.LoginOutcomeTwoFactorRequired:
		respondOK(c, http.StatusOK, gin.H{"outcome": result.Outcome, "tempToken": result.TempToken})
	default:
		h.setRefreshCookie(c, result.Tokens.RefreshToken)
		respondOK(c, http.StatusOK, gin.H{
			"outcome":     result.Outcome,
			"accessToken": result.Tokens.AccessToken,
			"expiresAt":   result.Tokens.ExpiresAt,
			"user":        userView(result.User),
		})
	}
}

// Login handles POST /api/v1/auth/login.
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := BindJSON(c, &req); err != nil {
		respondError(c, apierror.New(apierror.KindInvalidRequest, "Request body must be valid JSON."))
		return
	}
	result, err := h.svc.Login(c.Request.Context(), req.Email, req.Password, req.DeviceID, req.DeviceName, getRequestInfo(c))
	if err != nil {
		respondError(c, err)
		return
	}
	h.writeLoginResult(c, result)
}

type login2FARequest struct {
	TempToken  string `json:"tempToken"`
	Code       string `json:"code"`
	DeviceID   string `json:"deviceId"`
	DeviceName string `json:"deviceName"`
}

// Login2FA handles POST /api/v1/auth/login/2fa.
func (h *AuthHandler) Login2FA(c *gin.Context) {
	var req login2FARequest
	if err := BindJSON(c, &req); err != nil {
		respondError(c, apierror.New(apierror.KindInvalidRequest, "Request body must be valid JSON."))
		return
	}
	result, err := h.svc.Login2FA(c.Request.Context(), req.TempToken, req.Code, req.DeviceID, req.DeviceName, getRequestInfo(c))
	if err != nil {
		respondError(c, err)
		return
	}
	h.writeLoginResult(c, result)
}

// Refresh handles POST /api/v1/auth/refresh, reading the rotation token
// from the refreshToken cookie rather than the request body.
func (h *AuthHandler) Refresh(c *gin.Context) {
	token, err := c.Cookie(refreshCookieName)
	if err != nil || token == "" {
		respondError(c, apierror.New(apierror.KindInvalidCredentials, "Refresh session is missing."))
		return
	}
	issued, err := h.svc.Refresh(c.Request.Context(), token, getRequestInfo(c))
	if err != nil {
		h.clearRefreshCookie(c)
		respondError(c, err)
		return
	}
	h.setRefreshCookie(c, issued.RefreshToken)
	respondOK(c, http.StatusOK, gin.H{"accessToken": issued.AccessToken, "expiresAt": issued.ExpiresAt})
}

// Logout handles POST /api/v1/auth/logout.
func (h *AuthHandler) Logout(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		respondError(c, apierror.New(apierror.KindInvalidCredentials, "Authorization header required."))
		return
	}
	token, _ := c.Cookie(refreshCookieName)
	if token != "" {
		if err := h.svc.Logout(c.Request.Context(), userID, token); err != nil {
			respondError(c, err)
			return
		}
	}
	h.clearRefreshCookie(c)
	respondMessage(c, http.StatusOK, "Logged out.")
}

// LogoutAll handles POST /api/v1/auth/logout/all.
func (h *AuthHandler) LogoutAll(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		respondError(c, apierror.New(apierror.KindInvalidCredentials, "Authorization header required."))
		return
	}
	if err := h.svc.LogoutAll(c.Request.Context(), userID); err != nil {
		respondError(c, err)
		return
	}
	h.clearRefreshCookie(c)
	respondMessage(c, http.StatusOK, "Logged out of all sessions.")
}

// ForgotPassword handles POST /api/v1/auth/forgot-password.
func (h *AuthHandler) ForgotPassword(c *gin.Context) {
	var req struct {
		Email string `json:"email"`
	}
	if err := BindJSON(c, &req); err != nil {
		respondError(c, apierror.New(apierror.KindInvalidRequest, "Request body must be valid JSON."))
		return
	}
	_ = h.svc.RequestPasswordReset(c.Request.Context(), req.Email)
	respondMessage(c, http.StatusOK, "If an account exists, a reset link has been sent.")
}

// ValidateResetToken handles POST /api/v1/auth/validate-reset-token.
func (h *AuthHandler) ValidateResetToken(c *gin.Context) {
	var req struct {
		Token string `json:"token"`
	}
	if err := BindJSON(c, &req); err != nil {
		respondError(c, apierror.New(apierror.KindInvalidRequest, "Request body must be valid JSON."))
		return
	}
	if err := h.svc.ValidateResetToken(c.Request.Context(), req.Token); err != nil {
		respondError(c, err)
		return
	}
	respondMessage(c, http.StatusOK, "Reset link is valid.")
}

// ResetPassword handles POST /api/v1/auth/reset-password.
func (h *AuthHandler) ResetPassword(c *gin.Context) {
	var req struct {
		Token    string `json:"token"`
		Password string `json:"password"`
	}
	if err := BindJSON(c, &req); err != nil {
		respondError(c, apierror.New(apierror.KindInvalidRequest, "Request body must be valid JSON."))
		return
	}
	if err := h.svc.ResetPassword(c.Request.Context(), req.Token, req.Password); err != nil {
		respondError(c, err)
		return
	}
	respondMessage(c, http.StatusOK, "Password has been reset.")
}

// ChangePassword handles POST /api/v1/auth/change-password.
func (h *AuthHandler) ChangePassword(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		respondError(c, apierror.New(apierror.KindInvalidCredentials, "Authorization header required."))
		return
	}
	var req struct {
		CurrentPassword string `json:"currentPassword"`
		NewPassword     string `json:"newPassword"`
	}
	if err := BindJSON(c, &req); err != nil {
		respondError(c, apierror.New(apierror.KindInvalidRequest, "Request body must be valid JSON."))
		return
	}
	if err := h.svc.ChangePassword(c.Request.Context(), userID, req.CurrentPassword, req.NewPassword); err != nil {
		respondError(c, err)
		return
	}
	respondMessage(c, http.StatusOK, "Password changed.")
}

// TwoFactorEnable handles POST /api/v1/auth/2fa/enable.
func (h *AuthHandler) TwoFactorEnable(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		respondError(c, apierror.New(apierror.KindInvalidCredentials, "Authorization header required."))
		return
	}
	setup, err := h.svc.TwoFactorEnable(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{"provisioningUri": setup.ProvisioningURI, "backupCodes": setup.BackupCodes})
}

// TwoFactorVerifySetup handles POST /api/v1/auth/2fa/verify-setup.
func (h *AuthHandler) TwoFactorVerifySetup(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		respondError(c, apierror.New(apierror.KindInvalidCredentials, "Authorization header required."))
		return
	}
	var req struct {
		Code string `json:"code"`
	}
	if err := BindJSON(c, &req); err != nil {
		respondError(c, apierror.New(apierror.KindInvalidRequest, "Request body must be valid JSON."))
		return
	}
	if err := h.svc.TwoFactorVerifySetup(c.Request.Context(), userID, req.Code); err != nil {
		respondError(c, err)
		return
	}
	respondMessage(c, http.StatusOK, "Two-factor authentication enabled.")
}

// TwoFactorDisable handles POST /api/v1/auth/2fa/disable.
func (h *AuthHandler) TwoFactorDisable(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		respondError(c, apierror.New(apierror.KindInvalidCredentials, "Authorization header required."))
		return
	}
	var req struct {
		Password string `json:"password"`
		Code     string `json:"code"`
	}
	if err := BindJSON(c, &req); err != nil {
		respondError(c, apierror.New(apierror.KindInvalidRequest, "Request body must be valid JSON."))
		return
	}
	if err := h.svc.TwoFactorDisable(c.Request.Context(), userID, req.Password, req.Code); err != nil {
		respondError(c, err)
		return
	}
	respondMessage(c, http.StatusOK, "Two-factor authentication disabled.")
}

// TwoFactorBackupCodes handles POST /api/v1/auth/2fa/backup-codes.
func (h *AuthHandler) TwoFactorBackupCodes(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		respondError(c, apierror.New(apierror.KindInvalidCredentials, "Authorization header required."))
		return
	}
	var req struct {
		Password string `json:"password"`
	}
	if err := BindJSON(c, &req); err != nil {
		respondError(c, apierror.New(apierror.KindInvalidRequest, "Request body must be valid JSON."))
		return
	}
	codes, err := h.svc.TwoFactorRegenerateBackupCodes(c.Request.Context(), userID, req.Password)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{"backupCodes": codes})
}

// ListSessions handles GET /api/v1/auth/sessions.
func (h *AuthHandler) ListSessions(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		respondError(c, apierror.New(apierror.KindInvalidCredentials, "Authorization header required."))
		return
	}
	sessions, err := h.svc.ListSessions(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	views := make([]sessionView, 0, len(sessions))
	for _, s := range sessions {
		views = append(views, toSessionView(s))
	}
	respondOK(c, http.StatusOK, gin.H{"sessions": views})
}

type revokeSessionRequest struct {
	SessionID int64 `json:"sessionId"`
}

// RevokeSession handles POST /api/v1/auth/sessions/revoke.
func (h *AuthHandler) RevokeSession(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		respondError(c, apierror.New(apierror.KindInvalidCredentials, "Authorization header required."))
		return
	}
	var req revokeSessionRequest
	if err := BindJSON(c, &req); err != nil || req.SessionID == 0 {
		respondError(c, apierror.New(apierror.KindInvalidRequest, "Invalid session id."))
		return
	}
	if err := h.svc.RevokeSession(c.Request.Context(), userID, req.SessionID); err != nil {
		respondError(c, err)
		return
	}
	respondMessage(c, http.StatusOK, "Session revoked.")
}

// Me handles GET /api/v1/auth/me.
func (h *AuthHandler) Me(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		respondError(c, apierror.New(apierror.KindInvalidCredentials, "Authorization header required."))
		return
	}
	user, err := h.svc.Me(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, userView(user))
}

func userView(u domain.User) gin.H {
	return gin.H{
		"id":               u.ID,
		"email":            u.Email,
		"name":             u.Name,
		"role":             u.Role,
		"emailVerified":    u.EmailVerified,
		"twoFactorEnabled": u.TwoFactorEnabled,
		"status":           u.Status,
	}
}

type sessionView struct {
	ID        int64  `json:"id"`
	IPAddress string `json:"ipAddress"`
	UserAgent string `json:"userAgent"`
	CreatedAt string `json:"createdAt"`
}

func toSessionView(s domain.RefreshSession) sessionView {
	return sessionView{
		ID:        s.ID,
		IPAddress: s.IPAddress,
		UserAgent: s.UserAgent,
		CreatedAt: s.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}
