package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"rhgestor.org/internal/apperr"
	"rhgestor.org/internal/mail"
	"rhgestor.org/internal/textfmt"
	"rhgestor.org/internal/validation"
)

const (
	defaultResetTTL    = time.Hour
	defaultFrontendURL = "http://localhost:3000"
)

// AccountService implements the credential lifecycle of administrator identities.
type AccountService struct {
	store       IdentityStore
	tokens      *TokenService
	mailer      mail.Sender
	logger      *zap.Logger
	frontendURL string
	resetTTL    time.Duration
	now         func() time.Time
}

// AccountOption configures AccountService behavior.
type AccountOption func(*AccountService)

// WithMailer sets the sender used for password reset links.
func WithMailer(m mail.Sender) AccountOption {
	return func(s *AccountService) {
		if m != nil {
			s.mailer = m
		}
	}
}

// WithLogger sets the service logger.
func WithLogger(l *zap.Logger) AccountOption {
	return func(s *AccountService) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithFrontendURL sets the base URL embedded in reset links.
func WithFrontendURL(u string) AccountOption {
	return func(s *AccountService) {
		if u = strings.TrimRight(strings.TrimSpace(u), "/"); u != "" {
			s.frontendURL = u
		}
	}
}

// WithResetTTL overrides how long a reset token stays valid.
func WithResetTTL(ttl time.Duration) AccountOption {
	return func(s *AccountService) {
		if ttl > 0 {
			s.resetTTL = ttl
		}
	}
}

// WithAccountClock overrides time source (useful for tests).
func WithAccountClock(fn func() time.Time) AccountOption {
	return func(s *AccountService) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewAccountService constructs AccountService with optional configuration.
func NewAccountService(store IdentityStore, tokens *TokenService, opts ...AccountOption) *AccountService {
	s := &AccountService{
		store:       store,
		tokens:      tokens,
		logger:      zap.NewNop(),
		frontendURL: defaultFrontendURL,
		resetTTL:    defaultResetTTL,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.mailer == nil {
		s.mailer = mail.NewLogSender(s.logger)
	}
	return s
}

// Register creates a new identity. The permission document is kept only for RoleRH.
func (s *AccountService) Register(ctx context.Context, in RegisterInput) (Identity, error) {
	var v apperr.ValidationError
	login := textfmt.EnforceCase(strings.TrimSpace(in.Login))
	name := textfmt.EnforceCase(strings.TrimSpace(in.Name))
	email := textfmt.LowerEmail(in.Email)
	if login == "" {
		v.Add("login", "login is required")
	}
	if name == "" {
		v.Add("name", "name is required")
	}
	if !validation.Email(email) {
		v.Add("email", "a valid email is required")
	}
	if in.Password == "" {
		v.Add("password", "password is required")
	}
	role, err := ParseRole(in.Role)
	if err != nil {
		v.Add("role", err.Error())
	}
	if role == RoleRH && in.Permissions != nil {
		if err := in.Permissions.Validate(); err != nil {
			v.Fields = append(v.Fields, apperr.FieldErrors(err)...)
		}
	}
	if err := v.Err(); err != nil {
		return Identity{}, err
	}

	if err := s.ensureUnique(ctx, 0, login, email); err != nil {
		return Identity{}, err
	}
	hash, err := HashPassword(in.Password)
	if err != nil {
		return Identity{}, fmt.Errorf("hash password: %w", err)
	}
	id := Identity{
		Login:        login,
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		Active:       true,
		Role:         role,
	}
	if in.Active != nil {
		id.Active = *in.Active
	}
	if role == RoleRH {
		id.Permissions = in.Permissions.Clone()
	}
	if err := s.store.CreateIdentity(ctx, &id); err != nil {
		return Identity{}, err
	}
	return id, nil
}

// LoginResult is returned by a successful Login.
type LoginResult struct {
	Token     string
	ExpiresAt time.Time
	Identity  Identity
}

// Login checks credentials and issues a token.
func (s *AccountService) Login(ctx context.Context, login, password string) (LoginResult, error) {
	login = textfmt.EnforceCase(strings.TrimSpace(login))
	if login == "" || password == "" {
		return LoginResult{}, apperr.Unauthorized("invalid credentials")
	}
	id, err := s.store.IdentityByLogin(ctx, login)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return LoginResult{}, apperr.Unauthorized("invalid credentials")
		}
		return LoginResult{}, err
	}
	if err := VerifyPassword(id.PasswordHash, password); err != nil {
		return LoginResult{}, apperr.Unauthorized("invalid credentials")
	}
	if !id.Active {
		return LoginResult{}, apperr.Forbidden("your account is inactive")
	}
	token, exp, err := s.tokens.Issue(id)
	if err != nil {
		return LoginResult{}, err
	}
	return LoginResult{Token: token, ExpiresAt: exp, Identity: id}, nil
}

// ForgotPassword stores a hashed reset token and mails the raw one. It reports
// success whether or not the email belongs to an identity.
func (s *AccountService) ForgotPassword(ctx context.Context, email string) error {
	email = textfmt.LowerEmail(email)
	if email == "" {
		return apperr.Invalid("email is required")
	}
	id, err := s.store.IdentityByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil
		}
		return err
	}
	raw, digest, err := newResetToken()
	if err != nil {
		return fmt.Errorf("generate reset token: %w", err)
	}
	if err := s.store.SetResetToken(ctx, id.ID, digest, s.now().UTC().Add(s.resetTTL)); err != nil {
		return err
	}
	msg := mail.Message{
		To:      id.Email,
		Subject: "Redefinição de Senha",
		Body:    "Link para redefinição de senha: " + s.frontendURL + "/reset-password/" + raw,
	}
	if err := s.mailer.Send(ctx, msg); err != nil {
		s.logger.Error("password reset mail failed", zap.Int64("identity_id", id.ID), zap.Error(err))
	}
	return nil
}

// ResetPassword consumes a reset token and replaces the password.
func (s *AccountService) ResetPassword(ctx context.Context, token, newPassword string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return apperr.Invalid("invalid or expired token")
	}
	if newPassword == "" {
		return apperr.Invalid("password is required")
	}
	id, err := s.store.IdentityByResetToken(ctx, hashResetToken(token), s.now().UTC())
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return apperr.Invalid("invalid or expired token")
		}
		return err
	}
	hash, err := HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	return s.store.SetPassword(ctx, id.ID, hash)
}

// ChangePassword lets an identity replace its own password. It needs no
// permission because it cannot raise privileges.
func (s *AccountService) ChangePassword(ctx context.Context, actorID int64, current, next string) error {
	if actorID <= 0 {
		return apperr.Unauthorized("authentication required")
	}
	if current == "" || next == "" {
		return apperr.Invalid("current and new password are required")
	}
	id, err := s.store.IdentityByID(ctx, actorID)
	if err != nil {
		return err
	}
	if err := VerifyPassword(id.PasswordHash, current); err != nil {
		return apperr.Unauthorized("current password is incorrect")
	}
	hash, err := HashPassword(next)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	return s.store.SetPassword(ctx, id.ID, hash)
}

func (s *AccountService) List(ctx context.Context) ([]Identity, error) {
	return s.store.ListIdentities(ctx)
}

func (s *AccountService) Get(ctx context.Context, id int64) (Identity, error) {
	return s.store.IdentityByID(ctx, id)
}

// Update applies changes to another identity. An actor may edit its own profile
// fields but never its own role, status or permissions.
func (s *AccountService) Update(ctx context.Context, actorID, targetID int64, upd IdentityUpdate) (Identity, error) {
	if actorID <= 0 {
		return Identity{}, apperr.Unauthorized("authentication required")
	}
	if actorID == targetID && upd.touchesPrivileges() {
		return Identity{}, apperr.Forbidden("you cannot change your own role, status or permissions")
	}

	var (
		v        apperr.ValidationError
		role     Role
		passHash string
	)
	if upd.Name != nil && strings.TrimSpace(*upd.Name) == "" {
		v.Add("name", "name cannot be empty")
	}
	if upd.Login != nil && strings.TrimSpace(*upd.Login) == "" {
		v.Add("login", "login cannot be empty")
	}
	if upd.Email != nil && !validation.Email(textfmt.LowerEmail(*upd.Email)) {
		v.Add("email", "a valid email is required")
	}
	if upd.Role != nil {
		r, err := ParseRole(*upd.Role)
		if err != nil {
			v.Add("role", err.Error())
		}
		role = r
	}
	if upd.Permissions != nil {
		if err := upd.Permissions.Validate(); err != nil {
			v.Fields = append(v.Fields, apperr.FieldErrors(err)...)
		}
	}
	if upd.Password != nil && *upd.Password == "" {
		v.Add("password", "password cannot be empty")
	}
	if err := v.Err(); err != nil {
		return Identity{}, err
	}
	var login, email string
	if upd.Login != nil {
		login = textfmt.EnforceCase(strings.TrimSpace(*upd.Login))
	}
	if upd.Email != nil {
		email = textfmt.LowerEmail(*upd.Email)
	}
	if err := s.ensureUnique(ctx, targetID, login, email); err != nil {
		return Identity{}, err
	}
	if upd.Password != nil {
		h, err := HashPassword(*upd.Password)
		if err != nil {
			return Identity{}, fmt.Errorf("hash password: %w", err)
		}
		passHash = h
	}

	var out Identity
	err := s.store.WithIdentityTx(ctx, func(tx IdentityTx) error {
		var admins []int64
		if upd.touchesPrivileges() {
			var err error
			if admins, err = tx.LockActiveAdmins(ctx); err != nil {
				return err
			}
		}
		cur, err := tx.LockIdentity(ctx, targetID)
		if err != nil {
			return err
		}
		next := cur
		next.Permissions = cur.Permissions.Clone()
		if upd.Name != nil {
			next.Name = textfmt.EnforceCase(strings.TrimSpace(*upd.Name))
		}
		if login != "" {
			next.Login = login
		}
		if email != "" {
			next.Email = email
		}
		if passHash != "" {
			next.PasswordHash = passHash
		}
		if upd.Role != nil {
			next.Role = role
		}
		if upd.Active != nil {
			next.Active = *upd.Active
		}
		if upd.Permissions != nil {
			next.Permissions = upd.Permissions.Clone()
		}
		if next.Role.Unrestricted() {
			next.Permissions = nil
		}
		if err := guardLastAdmin(admins, cur, next); err != nil {
			return err
		}
		if err := tx.SaveIdentity(ctx, next); err != nil {
			return err
		}
		out = next
		return nil
	})
	if err != nil {
		return Identity{}, err
	}
	return out, nil
}

// UpdatePermissions replaces the permission document of a RoleRH identity.
func (s *AccountService) UpdatePermissions(ctx context.Context, actorID, targetID int64, doc PermissionDocument) (Identity, error) {
	if actorID <= 0 {
		return Identity{}, apperr.Unauthorized("authentication required")
	}
	if actorID == targetID {
		return Identity{}, apperr.Forbidden("you cannot change your own role, status or permissions")
	}
	if err := doc.Validate(); err != nil {
		return Identity{}, err
	}
	var out Identity
	err := s.store.WithIdentityTx(ctx, func(tx IdentityTx) error {
		cur, err := tx.LockIdentity(ctx, targetID)
		if err != nil {
			return err
		}
		if cur.Role != RoleRH {
			return apperr.Invalid("permissions apply only to the %q role", RoleRH)
		}
		cur.Permissions = doc.Clone()
		if err := tx.SaveIdentity(ctx, cur); err != nil {
			return err
		}
		out = cur
		return nil
	})
	if err != nil {
		return Identity{}, err
	}
	return out, nil
}

// Delete removes another identity, refusing self-deletion and the removal of
// the last active administrator.
func (s *AccountService) Delete(ctx context.Context, actorID, targetID int64) error {
	if actorID <= 0 {
		return apperr.Unauthorized("authentication required")
	}
	if actorID == targetID {
		return apperr.Forbidden("you cannot delete your own account")
	}
	return s.store.WithIdentityTx(ctx, func(tx IdentityTx) error {
		admins, err := tx.LockActiveAdmins(ctx)
		if err != nil {
			return err
		}
		cur, err := tx.LockIdentity(ctx, targetID)
		if err != nil {
			return err
		}
		if cur.Role.Unrestricted() && cur.Active && len(admins) <= 1 {
			return apperr.Forbidden(lastAdminMessage)
		}
		return tx.DeleteIdentity(ctx, targetID)
	})
}

// EnsureBootstrapAdmin creates the default administrator when no identity exists.
func (s *AccountService) EnsureBootstrapAdmin(ctx context.Context, b BootstrapAdmin) (bool, error) {
	n, err := s.store.CountIdentities(ctx)
	if err != nil {
		return false, err
	}
	if n > 0 {
		return false, nil
	}
	name := b.Name
	if name == "" {
		name = "Administrador"
	}
	_, err = s.Register(ctx, RegisterInput{
		Login:    b.Login,
		Password: b.Password,
		Name:     name,
		Email:    b.Email,
		Role:     string(RoleAdmin),
	})
	if err != nil {
		return false, fmt.Errorf("bootstrap admin: %w", err)
	}
	return true, nil
}

// PurgeExpiredResets clears reset tokens whose expiry has passed.
func (s *AccountService) PurgeExpiredResets(ctx context.Context) (int64, error) {
	return s.store.PurgeExpiredResetTokens(ctx, s.now().UTC())
}

// ensureUnique checks login and email against every identity but selfID.
// Empty values are skipped.
func (s *AccountService) ensureUnique(ctx context.Context, selfID int64, login, email string) error {
	if login != "" {
		existing, err := s.store.IdentityByLogin(ctx, login)
		switch {
		case err == nil && existing.ID != selfID:
			return apperr.Conflict("login already exists")
		case err != nil && !errors.Is(err, apperr.ErrNotFound):
			return err
		}
	}
	if email != "" {
		existing, err := s.store.IdentityByEmail(ctx, email)
		switch {
		case err == nil && existing.ID != selfID:
			return apperr.Conflict("email already registered")
		case err != nil && !errors.Is(err, apperr.ErrNotFound):
			return err
		}
	}
	return nil
}

// guardLastAdmin refuses a change that takes an active administrator out of
// the active admin set when it is the only one left. admins is the set locked
// at the start of the transaction; taking that lock before the target row keeps
// every privilege change acquiring rows in id order.
func guardLastAdmin(admins []int64, cur, next Identity) error {
	wasAdmin := cur.Role.Unrestricted() && cur.Active
	staysAdmin := next.Role.Unrestricted() && next.Active
	if !wasAdmin || staysAdmin {
		return nil
	}
	if len(admins) <= 1 {
		return apperr.Forbidden(lastAdminMessage)
	}
	return nil
}
