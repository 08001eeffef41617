// Package service implements the auth orchestrator: every credential and
// session lifecycle operation the HTTP layer exposes, composing the token,
// session, password, two-factor, and audit packages into the flows the spec
// describes. State-changing operations append an audit entry on success; a
// failed Login or Login2FA appends a failed-login entry (a failed Login
// that reaches the lock threshold also appends an account-lock entry). ResendVerification, ValidateResetToken,
// TwoFactorEnable, TwoFactorRegenerateBackupCodes, ListSessions and Me
// append none.
package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/smallbiznis/shieldcart-auth/internal/apierror"
	"github.com/smallbiznis/shieldcart-auth/internal/audit"
	"github.com/smallbiznis/shieldcart-auth/internal/config"
	"github.com/smallbiznis/shieldcart-auth/internal/cryptoutil"
	"github.com/smallbiznis/shieldcart-auth/internal/domain"
	"github.com/smallbiznis/shieldcart-auth/internal/jwt"
	"github.com/smallbiznis/shieldcart-auth/internal/mailer"
	pw "github.com/smallbiznis/shieldcart-auth/internal/password"
	"github.com/smallbiznis/shieldcart-auth/internal/ratelimit"
	"github.com/smallbiznis/shieldcart-auth/internal/repository"
	"github.com/smallbiznis/shieldcart-auth/internal/session"
	"github.com/smallbiznis/shieldcart-auth/internal/twofactor"
)

const (
	emailVerificationTTL = 24 * time.Hour
	passwordResetTTL      = 1 * time.Hour
	twoFactorTempTokenTTL = 5 * time.Minute

	accountLockThreshold = 5
	accountLockDuration  = 30 * time.Minute
)

// LoginOutcome distinguishes the three terminal shapes Login can return.
type LoginOutcome string

const (
	LoginOutcomeOK                       LoginOutcome = "ok"
	LoginOutcomeEmailVerificationRequired LoginOutcome = "email_verification_required"
	LoginOutcomeTwoFactorRequired         LoginOutcome = "two_factor_required"
)

// LoginResult is the tagged-union result of Login and Login2FA.
type LoginResult struct {
	Outcome   LoginOutcome
	Tokens    session.Issued
	User      domain.User
	TempToken string
}

// AuthService wires the full credential/session lifecycle over the
// repository, token, rotation, and supporting packages.
type AuthService struct {
	users         repository.UserRepository
	loginAttempts repository.LoginAttemptRepository
	rotator       *session.Rotator
	tokens        *jwt.Generator
	auditWriter   *audit.Writer
	mailer        mailer.Mailer
	failedLogins  *ratelimit.FailedLoginTracker
	box           *cryptoutil.AESGCMBox
	cfg           config.Config
	logger        *zap.Logger
	tracer        trace.Tracer
}

// NewAuthService wires an AuthService over its dependencies.
func NewAuthService(
	users repository.UserRepository,
	loginAttempts repository.LoginAttemptRepository,
	rotator *session.Rotator,
	tokens *jwt.Generator,
	auditWriter *audit.Writer,
	mailSender mailer.Mailer,
	failedLogins *ratelimit.FailedLoginTracker,
	box *cryptoutil.AESGCMBox,
	cfg config.Config,
	logger *zap.Logger,
) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthService{
		users:         users,
		loginAttempts: loginAttempts,
		rotator:       rotator,
		tokens:        tokens,
		auditWriter:   auditWriter,
		mailer:        mailSender,
		failedLogins:  failedLogins,
		box:           box,
		cfg:           cfg,
		logger:        logger,
		tracer:        otel.Tracer("github.com/smallbiznis/shieldcart-auth/internal/service"),
	}
}

// recordLoginAttempt writes to the cross-user login_attempts table the fraud
// scorer queries; failures here never block the caller.
func (s *AuthService) recordLoginAttempt(ctx context.Context, userID int64, ip, userAgent string, success bool, reason string) {
	if s.loginAttempts == nil {
		return
	}
	if err := s.loginAttempts.Record(ctx, userID, ip, userAgent, success, reason); err != nil {
		s.logger.Warn("record login attempt failed", zap.Error(err))
	}
}

func (s *AuthService) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	if s == nil || s.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return s.tracer.Start(ctx, name)
}

// audit appends an entry and swallows the error per the spec's propagation
// policy: audit-write failures are logged but never block the operation
// that triggered them.
func (s *AuthService) audit(ctx context.Context, entry domain.AuditLogEntry) {
	if s.auditWriter == nil {
		return
	}
	if _, err := s.auditWriter.Append(ctx, entry); err != nil {
		s.logger.Error("audit append failed", zap.String("event", string(entry.EventType)), zap.Error(err))
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func randomHexToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func futureTime(d time.Duration) *time.Time {
	t := time.Now().Add(d)
	return &t
}

// Register creates a new unverified, local-provider user and triggers the
// verification email. Role is always forced to RoleUser regardless of any
// caller-supplied value, so mass-assignment of role is structurally
// impossible here, not merely validated away.
func (s *AuthService) Register(ctx context.Context, email, plainPassword, name string, info jwt.RequestInfo) (domain.User, error) {
	ctx, span := s.startSpan(ctx, "AuthService.Register")
	defer span.End()

	normalized := normalizeEmail(email)
	if normalized == "" {
		return domain.User{}, apierror.New(apierror.KindInvalidRequest, "Email is required.")
	}
	if err := pw.ValidatePolicy(plainPassword); err != nil {
		return domain.User{}, apierror.New(apierror.KindInvalidRequest, "Password does not meet the required policy.")
	}

	if _, err := s.users.GetByEmail(ctx, normalized); err == nil {
		return domain.User{}, apierror.New(apierror.KindConflict, "Could not complete registration.")
	} else if !errors.Is(err, repository.ErrNotFound) {
		span.RecordError(err)
		return domain.User{}, apierror.Wrap(apierror.KindInternal, "Could not complete registration.", err)
	}

	hash, err := pw.Hash(plainPassword)
	if err != nil {
		span.RecordError(err)
		return domain.User{}, apierror.Wrap(apierror.KindInternal, "Could not complete registration.", err)
	}

	verificationToken, err := randomHexToken()
	if err != nil {
		span.RecordError(err)
		return domain.User{}, apierror.Wrap(apierror.KindInternal, "Could not complete registration.", err)
	}

	user := domain.User{
		Email:                      normalized,
		PasswordHash:               hash,
		PasswordHistory:            []string{hash},
		Name:                       strings.TrimSpace(name),
		Role:                       domain.RoleUser,
		Provider:                   domain.ProviderLocal,
		Status:                     domain.UserStatusPending,
		EmailVerificationToken:     verificationToken,
		EmailVerificationExpiresAt: futureTime(emailVerificationTTL),
	}

	created, err := s.users.Create(ctx, user)
	if err != nil {
		span.RecordError(err)
		return domain.User{}, apierror.Wrap(apierror.KindInternal, "Could not complete registration.", err)
	}

	s.mailer.SendVerificationEmail(ctx, created.Email, verificationToken)
	s.audit(ctx, domain.AuditLogEntry{
		EventType: domain.EventAuthRegister,
		UserID:    &created.ID,
		Action:    "register",
		Resource:  "user",
		Result:    domain.AuditResultSuccess,
		IPAddress: info.IP,
		UserAgent: info.UserAgent,
	})
	return created, nil
}

// VerifyEmail consumes a non-expired verification token.
func (s *AuthService) VerifyEmail(ctx context.Context, token string) error {
	ctx, span := s.startSpan(ctx, "AuthService.VerifyEmail")
	defer span.End()

	user, err := s.users.GetByEmailVerificationToken(ctx, token)
	if err != nil {
		return apierror.New(apierror.KindInvalidRequest, "Verification link is invalid or expired.")
	}
	if user.EmailVerificationExpiresAt == nil || user.EmailVerificationExpiresAt.Before(time.Now()) {
		return apierror.New(apierror.KindInvalidRequest, "Verification link is invalid or expired.")
	}

	if err := s.users.MarkEmailVerified(ctx, user.ID); err != nil {
		span.RecordError(err)
		return apierror.Wrap(apierror.KindInternal, "Could not verify email.", err)
	}

	s.audit(ctx, domain.AuditLogEntry{
		EventType: domain.EventAuthEmailVerify,
		UserID:    &user.ID,
		Action:    "verify_email",
		Resource:  "user",
		Result:    domain.AuditResultSuccess,
	})
	return nil
}

// ResendVerification re-triggers the verification email for an unverified
// account. Enumeration-safe: it never reports whether the email exists.
func (s *AuthService) ResendVerification(ctx context.Context, email string) error {
	ctx, span := s.startSpan(ctx, "AuthService.ResendVerification")
	defer span.End()

	user, err := s.users.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return nil
	}
	if user.EmailVerified {
		return nil
	}

	token, err := randomHexToken()
	if err != nil {
		span.RecordError(err)
		return nil
	}
	if err := s.users.SetEmailVerification(ctx, user.ID, token, futureTime(emailVerificationTTL)); err != nil {
		span.RecordError(err)
		return nil
	}
	s.mailer.SendVerificationEmail(ctx, user.Email, token)
	return nil
}

// Login authenticates a user by password and returns one of the three
// terminal shapes: a fully issued token pair, an email-verification gate, or
// a two-factor challenge.
func (s *AuthService) Login(ctx context.Context, email, plainPassword string, deviceID, deviceName string, info jwt.RequestInfo) (LoginResult, error) {
	ctx, span := s.startSpan(ctx, "AuthService.Login")
	defer span.End()

	normalized := normalizeEmail(email)

	if s.failedLogins != nil {
		if blocked, retryAfter, err := s.failedLogins.CheckBlocked(ctx, info.IP); err == nil && blocked {
			return LoginResult{}, apierror.New(apierror.KindRateLimited, fmt.Sprintf("Too many failed attempts. Try again in %d seconds.", int(retryAfter.Seconds())))
		}
	}

	user, err := s.users.GetByEmail(ctx, normalized)
	if err != nil {
		s.recordFailedLogin(ctx, nil, info, "unknown_email")
		return LoginResult{}, apierror.New(apierror.KindInvalidCredentials, "Invalid email or password.")
	}

	if user.IsLocked(time.Now()) {
		s.mailer.SendAccountLockedNotice(ctx, user.Email, user.LockedUntil.Format(time.RFC3339))
		return LoginResult{}, apierror.New(apierror.KindAccountLocked, "Account is temporarily locked.")
	}

	if !pw.Verify(plainPassword, user.PasswordHash) {
		s.recordFailedLogin(ctx, &user, info, "bad_password")
		return LoginResult{}, apierror.New(apierror.KindInvalidCredentials, "Invalid email or password.")
	}

	if s.failedLogins != nil {
		_ = s.failedLogins.Clear(ctx, info.IP)
	}
	_ = s.users.ResetFailedAttempts(ctx, user.ID)

	if !user.EmailVerified {
		return LoginResult{Outcome: LoginOutcomeEmailVerificationRequired, User: user}, nil
	}

	if user.TwoFactorEnabled {
		tempToken, err := randomHexToken()
		if err != nil {
			span.RecordError(err)
			return LoginResult{}, apierror.Wrap(apierror.KindInternal, "Could not start two-factor challenge.", err)
		}
		if err := s.users.SetTwoFactorTempToken(ctx, user.ID, tempToken, futureTime(twoFactorTempTokenTTL)); err != nil {
			span.RecordError(err)
			return LoginResult{}, apierror.Wrap(apierror.KindInternal, "Could not start two-factor challenge.", err)
		}
		return LoginResult{Outcome: LoginOutcomeTwoFactorRequired, User: user, TempToken: tempToken}, nil
	}

	return s.completeLogin(ctx, user, deviceID, deviceName, info)
}

// Login2FA redeems a temp token plus a TOTP or backup code for the full
// token pair.
func (s *AuthService) Login2FA(ctx context.Context, tempToken, code string, deviceID, deviceName string, info jwt.RequestInfo) (LoginResult, error) {
	ctx, span := s.startSpan(ctx, "AuthService.Login2FA")
	defer span.End()

	user, err := s.users.GetByTwoFactorTempToken(ctx, tempToken)
	if err != nil {
		return LoginResult{}, apierror.New(apierror.KindInvalidCredentials, "Two-factor challenge is invalid or expired.")
	}
	if user.TwoFactorTempExpiresAt == nil || user.TwoFactorTempExpiresAt.Before(time.Now()) {
		return LoginResult{}, apierror.New(apierror.KindInvalidCredentials, "Two-factor challenge is invalid or expired.")
	}

	ok, remainingBackupCodes, err := s.verifyTwoFactorCode(user, code)
	if err != nil {
		span.RecordError(err)
		return LoginResult{}, apierror.Wrap(apierror.KindInternal, "Could not verify code.", err)
	}
	if !ok {
		userID := user.ID
		risk := 60
		s.audit(ctx, domain.AuditLogEntry{
			EventType: domain.EventSecurityFailedLogin,
			UserID:    &userID,
			Action:    "login_2fa",
			Resource:  "session",
			Result:    domain.AuditResultFailure,
			RiskScore: &risk,
			IPAddress: info.IP,
			UserAgent: info.UserAgent,
			Metadata:  map[string]any{"stage": "2fa"},
		})
		return LoginResult{}, apierror.New(apierror.KindInvalidCredentials, "Invalid two-factor code.")
	}

	if remainingBackupCodes != nil {
		if err := s.users.UpdateBackupCodeHashes(ctx, user.ID, remainingBackupCodes); err != nil {
			span.RecordError(err)
		}
	}
	if err := s.users.SetTwoFactorTempToken(ctx, user.ID, "", nil); err != nil {
		span.RecordError(err)
	}

	return s.completeLogin(ctx, user, deviceID, deviceName, info)
}

// verifyTwoFactorCode checks code as a TOTP first, then as a backup code;
// remainingBackupCodes is non-nil only when a backup code was consumed.
func (s *AuthService) verifyTwoFactorCode(user domain.User, code string) (ok bool, remainingBackupCodes []string, err error) {
	if len(user.TOTPSecretEncrypted) > 0 {
		secret, decErr := s.box.Open(user.TOTPSecretEncrypted, user.TOTPSecretNonce)
		if decErr != nil {
			return false, nil, fmt.Errorf("decrypt totp secret: %w", decErr)
		}
		if twofactor.Verify(secret, code, time.Now()) {
			return true, nil, nil
		}
	}
	remaining, consumed := twofactor.ConsumeBackupCode(code, user.BackupCodeHashes)
	if consumed {
		return true, remaining, nil
	}
	return false, nil, nil
}

func (s *AuthService) recordFailedLogin(ctx context.Context, user *domain.User, info jwt.RequestInfo, reason string) {
	if s.failedLogins != nil {
		delay, err := s.failedLogins.RecordFailure(ctx, info.IP)
		if err == nil && delay > 0 {
			time.Sleep(delay)
		}
	}

	var userID *int64
	var recordedUserID int64
	if user != nil {
		userID = &user.ID
		recordedUserID = user.ID
		if attempts, err := s.users.RecordFailedAttempt(ctx, user.ID); err == nil {
			_ = s.users.AppendLoginHistory(ctx, user.ID, domain.LoginHistoryEntry{
				Timestamp: time.Now(), IPAddress: info.IP, UserAgent: info.UserAgent, Success: false, Reason: reason,
			})
			if attempts >= accountLockThreshold {
				_ = s.users.LockAccount(ctx, user.ID, time.Now().Add(accountLockDuration))
				lockedUserID := user.ID
				lockRisk := 70
				s.audit(ctx, domain.AuditLogEntry{
					EventType: domain.EventUserAccountLocked,
					UserID:    &lockedUserID,
					Action:    "account_lock",
					Resource:  "user",
					Result:    domain.AuditResultFailure,
					RiskScore: &lockRisk,
					IPAddress: info.IP,
					UserAgent: info.UserAgent,
					Metadata:  map[string]any{"attempts": attempts},
				})
			}
		}
	}

	s.recordLoginAttempt(ctx, recordedUserID, info.IP, info.UserAgent, false, reason)

	risk := 50
	s.audit(ctx, domain.AuditLogEntry{
		EventType: domain.EventSecurityFailedLogin,
		UserID:    userID,
		Action:    "login",
		Resource:  "session",
		Result:    domain.AuditResultFailure,
		RiskScore: &risk,
		IPAddress: info.IP,
		UserAgent: info.UserAgent,
		Metadata:  map[string]any{"reason": reason},
	})
}

// completeLogin mints the token pair, tracks device trust, and writes the
// terminal success audit entry — the shared tail of Login and Login2FA.
func (s *AuthService) completeLogin(ctx context.Context, user domain.User, deviceID, deviceName string, info jwt.RequestInfo) (LoginResult, error) {
	issued, err := s.rotator.Issue(ctx, user, info)
	if err != nil {
		return LoginResult{}, err
	}

	if deviceID != "" && !userHasTrustedDevice(user, deviceID) {
		_ = s.users.AppendTrustedDevice(ctx, user.ID, domain.TrustedDevice{DeviceID: deviceID, FirstSeen: time.Now()})
		s.mailer.SendNewDeviceAlert(ctx, user.Email, deviceName, info.IP)
	}
	_ = s.users.AppendLoginHistory(ctx, user.ID, domain.LoginHistoryEntry{
		Timestamp: time.Now(), IPAddress: info.IP, UserAgent: info.UserAgent, Success: true,
	})
	s.recordLoginAttempt(ctx, user.ID, info.IP, info.UserAgent, true, "")

	userID := user.ID
	s.audit(ctx, domain.AuditLogEntry{
		EventType: domain.EventAuthLogin,
		UserID:    &userID,
		Action:    "login",
		Resource:  "session",
		Result:    domain.AuditResultSuccess,
		IPAddress: info.IP,
		UserAgent: info.UserAgent,
	})

	return LoginResult{Outcome: LoginOutcomeOK, Tokens: issued, User: user}, nil
}

func userHasTrustedDevice(user domain.User, deviceID string) bool {
	for _, d := range user.TrustedDevices {
		if d.DeviceID == deviceID {
			return true
		}
	}
	return false
}

// Refresh runs the rotation protocol over a presented refresh token.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string, info jwt.RequestInfo) (session.Issued, error) {
	ctx, span := s.startSpan(ctx, "AuthService.Refresh")
	defer span.End()

	issued, err := s.rotator.Rotate(ctx, refreshToken, info)
	if err != nil {
		span.RecordError(err)
		return session.Issued{}, err
	}
	s.audit(ctx, domain.AuditLogEntry{
		EventType: domain.EventAuthRefresh,
		Action:    "refresh",
		Resource:  "session",
		Result:    domain.AuditResultSuccess,
		IPAddress: info.IP,
		UserAgent: info.UserAgent,
	})
	return issued, nil
}

// Logout revokes a single presented session.
func (s *AuthService) Logout(ctx context.Context, userID int64, refreshToken string) error {
	hashed := jwt.HashToken(refreshToken)
	sessions, err := s.rotator.ActiveSessions(ctx, userID)
	if err != nil {
		return apierror.Wrap(apierror.KindInternal, "Could not log out.", err)
	}
	for _, sess := range sessions {
		if sess.HashedToken == hashed {
			if err := s.rotator.RevokeSession(ctx, sess.ID); err != nil {
				return apierror.Wrap(apierror.KindInternal, "Could not log out.", err)
			}
			break
		}
	}
	s.audit(ctx, domain.AuditLogEntry{EventType: domain.EventAuthLogout, UserID: &userID, Action: "logout", Resource: "session", Result: domain.AuditResultSuccess})
	return nil
}

// LogoutAll revokes every session for a user and bumps TokenVersion.
func (s *AuthService) LogoutAll(ctx context.Context, userID int64) error {
	if err := s.rotator.RevokeAll(ctx, userID); err != nil {
		return apierror.Wrap(apierror.KindInternal, "Could not log out.", err)
	}
	s.audit(ctx, domain.AuditLogEntry{EventType: domain.EventAuthLogoutAll, UserID: &userID, Action: "logout_all", Resource: "session", Result: domain.AuditResultSuccess})
	return nil
}

// RequestPasswordReset is enumeration-safe: it always succeeds from the
// caller's point of view and only emails a reset link when the account
// exists and is locally managed.
func (s *AuthService) RequestPasswordReset(ctx context.Context, email string) error {
	ctx, span := s.startSpan(ctx, "AuthService.RequestPasswordReset")
	defer span.End()

	user, err := s.users.GetByEmail(ctx, normalizeEmail(email))
	if err != nil || user.Provider != domain.ProviderLocal {
		return nil
	}

	token, err := randomHexToken()
	if err != nil {
		span.RecordError(err)
		return nil
	}
	if err := s.users.SetPasswordResetToken(ctx, user.ID, token, futureTime(passwordResetTTL)); err != nil {
		span.RecordError(err)
		return nil
	}
	s.mailer.SendPasswordResetEmail(ctx, user.Email, token)
	s.audit(ctx, domain.AuditLogEntry{EventType: domain.EventUserPasswordResetReq, UserID: &user.ID, Action: "password_reset_request", Resource: "user", Result: domain.AuditResultSuccess})
	return nil
}

// ValidateResetToken reports whether token is currently redeemable, without
// consuming it.
func (s *AuthService) ValidateResetToken(ctx context.Context, token string) error {
	user, err := s.users.GetByPasswordResetToken(ctx, token)
	if err != nil {
		return apierror.New(apierror.KindInvalidRequest, "Reset link is invalid or expired.")
	}
	if user.PasswordResetExpiresAt == nil || user.PasswordResetExpiresAt.Before(time.Now()) {
		return apierror.New(apierror.KindInvalidRequest, "Reset link is invalid or expired.")
	}
	return nil
}

// ResetPassword consumes token and applies the history/invalidation policy:
// reject reuse of the last five hashes, bump TokenVersion, revoke every
// session, and notify the user.
func (s *AuthService) ResetPassword(ctx context.Context, token, newPlaintext string) error {
	ctx, span := s.startSpan(ctx, "AuthService.ResetPassword")
	defer span.End()

	user, err := s.users.GetByPasswordResetToken(ctx, token)
	if err != nil {
		return apierror.New(apierror.KindInvalidRequest, "Reset link is invalid or expired.")
	}
	if user.PasswordResetExpiresAt == nil || user.PasswordResetExpiresAt.Before(time.Now()) {
		return apierror.New(apierror.KindInvalidRequest, "Reset link is invalid or expired.")
	}

	if err := s.applyNewPassword(ctx, user, newPlaintext); err != nil {
		return err
	}
	if err := s.users.ClearPasswordResetToken(ctx, user.ID); err != nil {
		span.RecordError(err)
	}

	s.mailer.SendPasswordChangedNotice(ctx, user.Email)
	s.audit(ctx, domain.AuditLogEntry{EventType: domain.EventAuthPasswordReset, UserID: &user.ID, Action: "password_reset", Resource: "user", Result: domain.AuditResultSuccess})
	return nil
}

// ChangePassword applies the same history and invalidation policy as
// ResetPassword, gated on the caller knowing the current password.
func (s *AuthService) ChangePassword(ctx context.Context, userID int64, currentPlaintext, newPlaintext string) error {
	ctx, span := s.startSpan(ctx, "AuthService.ChangePassword")
	defer span.End()

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return apierror.Wrap(apierror.KindInternal, "Could not change password.", err)
	}
	if !pw.Verify(currentPlaintext, user.PasswordHash) {
		return apierror.New(apierror.KindInvalidCredentials, "Current password is incorrect.")
	}

	if err := s.applyNewPassword(ctx, user, newPlaintext); err != nil {
		return err
	}

	s.mailer.SendPasswordChangedNotice(ctx, user.Email)
	s.audit(ctx, domain.AuditLogEntry{EventType: domain.EventUserPasswordChanged, UserID: &user.ID, Action: "password_change", Resource: "user", Result: domain.AuditResultSuccess})
	return nil
}

// applyNewPassword validates policy and history, persists the new hash,
// bumps TokenVersion, and revokes every outstanding session.
func (s *AuthService) applyNewPassword(ctx context.Context, user domain.User, newPlaintext string) error {
	if err := pw.ValidatePolicy(newPlaintext); err != nil {
		return apierror.New(apierror.KindInvalidRequest, "Password does not meet the required policy.")
	}
	if pw.InHistory(newPlaintext, user.PasswordHistory) {
		return apierror.New(apierror.KindInvalidRequest, "Password has been used recently; choose a different one.")
	}

	newHash, err := pw.Hash(newPlaintext)
	if err != nil {
		return apierror.Wrap(apierror.KindInternal, "Could not change password.", err)
	}
	history := pw.PushHistory(user.PasswordHistory, newHash)

	if err := s.users.SetPasswordHash(ctx, user.ID, newHash, history); err != nil {
		return apierror.Wrap(apierror.KindInternal, "Could not change password.", err)
	}
	if err := s.users.IncrementTokenVersion(ctx, user.ID); err != nil {
		return apierror.Wrap(apierror.KindInternal, "Could not change password.", err)
	}
	if err := s.rotator.RevokeAll(ctx, user.ID); err != nil {
		return apierror.Wrap(apierror.KindInternal, "Could not change password.", err)
	}
	return nil
}

// TwoFactorSetup generates a fresh TOTP secret and backup codes; nothing is
// committed as enabled until TwoFactorVerifySetup succeeds.
type TwoFactorSetup struct {
	ProvisioningURI string
	BackupCodes     []string
}

// TwoFactorEnable begins 2FA enrollment: generates and stores an encrypted
// secret plus bcrypt-hashed backup codes, returning the provisioning URI and
// the plaintext backup codes exactly once.
func (s *AuthService) TwoFactorEnable(ctx context.Context, userID int64) (TwoFactorSetup, error) {
	ctx, span := s.startSpan(ctx, "AuthService.TwoFactorEnable")
	defer span.End()

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return TwoFactorSetup{}, apierror.Wrap(apierror.KindInternal, "Could not start two-factor setup.", err)
	}

	secret, encoded, err := twofactor.GenerateSecret()
	if err != nil {
		span.RecordError(err)
		return TwoFactorSetup{}, apierror.Wrap(apierror.KindInternal, "Could not start two-factor setup.", err)
	}
	ciphertext, nonce, err := s.box.Seal(secret)
	if err != nil {
		span.RecordError(err)
		return TwoFactorSetup{}, apierror.Wrap(apierror.KindInternal, "Could not start two-factor setup.", err)
	}
	plainCodes, hashedCodes, err := twofactor.GenerateBackupCodes()
	if err != nil {
		span.RecordError(err)
		return TwoFactorSetup{}, apierror.Wrap(apierror.KindInternal, "Could not start two-factor setup.", err)
	}

	if err := s.users.SetTwoFactorSecret(ctx, userID, ciphertext, nonce, hashedCodes); err != nil {
		span.RecordError(err)
		return TwoFactorSetup{}, apierror.Wrap(apierror.KindInternal, "Could not start two-factor setup.", err)
	}

	return TwoFactorSetup{
		ProvisioningURI: twofactor.ProvisioningURI(s.cfg.ServiceName, user.Email, encoded),
		BackupCodes:     plainCodes,
	}, nil
}

// TwoFactorVerifySetup requires a successful TOTP verification before
// committing twoFactorEnabled=true.
func (s *AuthService) TwoFactorVerifySetup(ctx context.Context, userID int64, code string) error {
	ctx, span := s.startSpan(ctx, "AuthService.TwoFactorVerifySetup")
	defer span.End()

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return apierror.Wrap(apierror.KindInternal, "Could not verify two-factor setup.", err)
	}
	if len(user.TOTPSecretEncrypted) == 0 {
		return apierror.New(apierror.KindInvalidRequest, "No two-factor setup in progress.")
	}
	secret, err := s.box.Open(user.TOTPSecretEncrypted, user.TOTPSecretNonce)
	if err != nil {
		span.RecordError(err)
		return apierror.Wrap(apierror.KindInternal, "Could not verify two-factor setup.", err)
	}
	if !twofactor.Verify(secret, code, time.Now()) {
		return apierror.New(apierror.KindInvalidCredentials, "Invalid two-factor code.")
	}

	if err := s.users.EnableTwoFactor(ctx, userID, true); err != nil {
		return apierror.Wrap(apierror.KindInternal, "Could not verify two-factor setup.", err)
	}
	s.audit(ctx, domain.AuditLogEntry{EventType: domain.EventAuthTwoFactorEnable, UserID: &userID, Action: "2fa_enable", Resource: "user", Result: domain.AuditResultSuccess})
	return nil
}

// TwoFactorDisable requires both the current password and a valid TOTP or
// backup code.
func (s *AuthService) TwoFactorDisable(ctx context.Context, userID int64, currentPassword, code string) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return apierror.Wrap(apierror.KindInternal, "Could not disable two-factor.", err)
	}
	if !pw.Verify(currentPassword, user.PasswordHash) {
		return apierror.New(apierror.KindInvalidCredentials, "Current password is incorrect.")
	}
	ok, _, err := s.verifyTwoFactorCode(user, code)
	if err != nil || !ok {
		return apierror.New(apierror.KindInvalidCredentials, "Invalid two-factor code.")
	}

	if err := s.users.EnableTwoFactor(ctx, userID, false); err != nil {
		return apierror.Wrap(apierror.KindInternal, "Could not disable two-factor.", err)
	}
	if err := s.users.SetTwoFactorSecret(ctx, userID, nil, nil, nil); err != nil {
		return apierror.Wrap(apierror.KindInternal, "Could not disable two-factor.", err)
	}
	s.audit(ctx, domain.AuditLogEntry{EventType: domain.EventAuthTwoFactorDisable, UserID: &userID, Action: "2fa_disable", Resource: "user", Result: domain.AuditResultSuccess})
	return nil
}

// TwoFactorRegenerateBackupCodes mints a fresh set of backup codes, gated on
// the current password.
func (s *AuthService) TwoFactorRegenerateBackupCodes(ctx context.Context, userID int64, currentPassword string) ([]string, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, apierror.Wrap(apierror.KindInternal, "Could not regenerate backup codes.", err)
	}
	if !pw.Verify(currentPassword, user.PasswordHash) {
		return nil, apierror.New(apierror.KindInvalidCredentials, "Current password is incorrect.")
	}

	plainCodes, hashedCodes, err := twofactor.GenerateBackupCodes()
	if err != nil {
		return nil, apierror.Wrap(apierror.KindInternal, "Could not regenerate backup codes.", err)
	}
	if err := s.users.UpdateBackupCodeHashes(ctx, userID, hashedCodes); err != nil {
		return nil, apierror.Wrap(apierror.KindInternal, "Could not regenerate backup codes.", err)
	}
	return plainCodes, nil
}

// ListSessions returns a user's active sessions for owner-scoped display.
func (s *AuthService) ListSessions(ctx context.Context, userID int64) ([]domain.RefreshSession, error) {
	sessions, err := s.rotator.ActiveSessions(ctx, userID)
	if err != nil {
		return nil, apierror.Wrap(apierror.KindInternal, "Could not list sessions.", err)
	}
	return sessions, nil
}

// RevokeSession revokes one of a user's own sessions by id, refusing to
// touch a session it does not own.
func (s *AuthService) RevokeSession(ctx context.Context, userID, sessionID int64) error {
	sessions, err := s.rotator.ActiveSessions(ctx, userID)
	if err != nil {
		return apierror.Wrap(apierror.KindInternal, "Could not revoke session.", err)
	}
	owns := false
	for _, sess := range sessions {
		if sess.ID == sessionID {
			owns = true
			break
		}
	}
	if !owns {
		return apierror.New(apierror.KindForbidden, "Session not found.")
	}
	if err := s.rotator.RevokeSession(ctx, sessionID); err != nil {
		return apierror.Wrap(apierror.KindInternal, "Could not revoke session.", err)
	}
	s.audit(ctx, domain.AuditLogEntry{
		EventType: domain.EventAuthSessionRevoke,
		UserID:    &userID,
		Action:    "session_revoke",
		Resource:  "session",
		Result:    domain.AuditResultSuccess,
		Metadata:  map[string]any{"sessionId": sessionID},
	})
	return nil
}

// Me returns the authenticated user's own profile.
func (s *AuthService) Me(ctx context.Context, userID int64) (domain.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return domain.User{}, apierror.Wrap(apierror.KindInternal, "Could not load profile.", err)
	}
	return user, nil
}
