package auth_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rhgestor.org/internal/apperr"
	"rhgestor.org/internal/auth"
	"rhgestor.org/internal/config"
	"rhgestor.org/internal/mail"
	"rhgestor.org/internal/store/memory"
)

type outbox struct {
	mu   sync.Mutex
	sent []mail.Message
}

func (o *outbox) Send(_ context.Context, msg mail.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sent = append(o.sent, msg)
	return nil
}

func (o *outbox) last(t *testing.T) mail.Message {
	t.Helper()
	o.mu.Lock()
	defer o.mu.Unlock()
	require.NotEmpty(t, o.sent, "no mail sent")
	return o.sent[len(o.sent)-1]
}

type accountsFixture struct {
	store    *memory.Store
	tokens   *auth.TokenService
	accounts *auth.AccountService
	outbox   *outbox
	clock    *time.Time
}

func newAccounts(t *testing.T) *accountsFixture {
	t.Helper()
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	f := &accountsFixture{store: memory.New(), outbox: &outbox{}, clock: &now}
	tokens, err := auth.NewTokenService("secret", auth.WithClock(func() time.Time { return *f.clock }))
	require.NoError(t, err)
	f.tokens = tokens
	f.accounts = auth.NewAccountService(f.store, tokens,
		auth.WithMailer(f.outbox),
		auth.WithFrontendURL("https://rh.example.com/"),
		auth.WithResetTTL(time.Hour),
		auth.WithAccountClock(func() time.Time { return *f.clock }),
	)
	return f
}

func (f *accountsFixture) register(t *testing.T, login string, role auth.Role, perms auth.PermissionDocument) auth.Identity {
	t.Helper()
	id, err := f.accounts.Register(context.Background(), auth.RegisterInput{
		Login:       login,
		Password:    login + "-pass",
		Name:        "Pessoa " + login,
		Email:       login + "@example.com",
		Role:        string(role),
		Permissions: perms,
	})
	require.NoError(t, err)
	return id
}

func boolPtr(b bool) *bool { return &b }
func strPtr(s string) *string { return &s }

func TestRegisterNormalizesAndValidates(t *testing.T) {
	f := newAccounts(t)
	ctx := context.Background()

	id, err := f.accounts.Register(ctx, auth.RegisterInput{
		Login:    "JOANA",
		Password: "pw",
		Name:     "JOANA SOUZA",
		Email:    " Joana@Example.COM ",
		Permissions: auth.PermissionDocument{
			auth.ResourceEmployee: {auth.ActionCreate: true},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "Joana", id.Login)
	assert.Equal(t, "Joana Souza", id.Name)
	assert.Equal(t, "joana@example.com", id.Email)
	assert.Equal(t, auth.RoleRH, id.Role)
	assert.True(t, id.Active)
	assert.NotEqual(t, "pw", id.PasswordHash)

	admin, err := f.accounts.Register(ctx, auth.RegisterInput{
		Login: "root", Password: "pw", Name: "Root", Email: "root@example.com", Role: "admin",
		Permissions: auth.PermissionDocument{auth.ResourceEmployee: {auth.ActionCreate: true}},
	})
	require.NoError(t, err)
	assert.Nil(t, admin.Permissions, "admins carry no permission document")

	_, err = f.accounts.Register(ctx, auth.RegisterInput{Login: "Joana", Password: "pw", Name: "Outra", Email: "outra@example.com"})
	assert.ErrorIs(t, err, apperr.ErrConflict)

	_, err = f.accounts.Register(ctx, auth.RegisterInput{Login: "other", Password: "pw", Name: "Outra", Email: "JOANA@example.com"})
	assert.ErrorIs(t, err, apperr.ErrConflict)

	_, err = f.accounts.Register(ctx, auth.RegisterInput{Role: "root", Email: "nope"})
	require.ErrorIs(t, err, apperr.ErrInvalidInput)
	var fields []string
	for _, fe := range apperr.FieldErrors(err) {
		fields = append(fields, fe.Field)
	}
	assert.ElementsMatch(t, []string{"login", "name", "email", "password", "role"}, fields)

	_, err = f.accounts.Register(ctx, auth.RegisterInput{
		Login: "escalate", Password: "pw", Name: "Esc", Email: "esc@example.com",
		Permissions: auth.PermissionDocument{auth.ResourceAdminUser: {auth.ActionCreate: true}},
	})
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
}

func TestLogin(t *testing.T) {
	f := newAccounts(t)
	ctx := context.Background()
	id := f.register(t, "ana", auth.RoleRH, nil)

	res, err := f.accounts.Login(ctx, "ana", "ana-pass")
	require.NoError(t, err)
	assert.Equal(t, id.ID, res.Identity.ID)
	claims, err := f.tokens.Verify(res.Token)
	require.NoError(t, err)
	assert.Equal(t, "ana", claims.Login)

	_, err = f.accounts.Login(ctx, "ana", "wrong")
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)
	_, err = f.accounts.Login(ctx, "nobody", "ana-pass")
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)
	_, err = f.accounts.Login(ctx, "", "")
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)

	admin := f.register(t, "boss", auth.RoleAdmin, nil)
	_, err = f.accounts.Update(ctx, admin.ID, id.ID, auth.IdentityUpdate{Active: boolPtr(false)})
	require.NoError(t, err)
	_, err = f.accounts.Login(ctx, "ana", "ana-pass")
	assert.ErrorIs(t, err, apperr.ErrForbidden)
}

func TestPasswordResetFlow(t *testing.T) {
	f := newAccounts(t)
	ctx := context.Background()
	f.register(t, "ana", auth.RoleRH, nil)

	require.NoError(t, f.accounts.ForgotPassword(ctx, "unknown@example.com"))
	assert.Empty(t, f.outbox.sent, "unknown email must not send mail")
	assert.ErrorIs(t, f.accounts.ForgotPassword(ctx, " "), apperr.ErrInvalidInput)

	require.NoError(t, f.accounts.ForgotPassword(ctx, "ANA@example.com"))
	msg := f.outbox.last(t)
	assert.Equal(t, "ana@example.com", msg.To)
	prefix := "https://rh.example.com/reset-password/"
	idx := strings.Index(msg.Body, prefix)
	require.GreaterOrEqual(t, idx, 0, "reset link missing: %s", msg.Body)
	token := strings.TrimSpace(msg.Body[idx+len(prefix):])
	require.NotEmpty(t, token)

	assert.ErrorIs(t, f.accounts.ResetPassword(ctx, "bogus", "new"), apperr.ErrInvalidInput)
	assert.ErrorIs(t, f.accounts.ResetPassword(ctx, token, ""), apperr.ErrInvalidInput)

	require.NoError(t, f.accounts.ResetPassword(ctx, token, "brand-new"))
	_, err := f.accounts.Login(ctx, "ana", "brand-new")
	require.NoError(t, err)

	assert.ErrorIs(t, f.accounts.ResetPassword(ctx, token, "again"), apperr.ErrInvalidInput, "tokens are single use")
}

func TestPasswordResetExpires(t *testing.T) {
	f := newAccounts(t)
	ctx := context.Background()
	f.register(t, "ana", auth.RoleRH, nil)

	require.NoError(t, f.accounts.ForgotPassword(ctx, "ana@example.com"))
	body := f.outbox.last(t).Body
	token := body[strings.LastIndex(body, "/")+1:]

	later := f.clock.Add(2 * time.Hour)
	f.clock = &later
	assert.ErrorIs(t, f.accounts.ResetPassword(ctx, token, "new"), apperr.ErrInvalidInput)

	n, err := f.accounts.PurgeExpiredResets(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	n, err = f.accounts.PurgeExpiredResets(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestChangePassword(t *testing.T) {
	f := newAccounts(t)
	ctx := context.Background()
	id := f.register(t, "ana", auth.RoleRH, nil)

	assert.ErrorIs(t, f.accounts.ChangePassword(ctx, 0, "a", "b"), apperr.ErrUnauthorized)
	assert.ErrorIs(t, f.accounts.ChangePassword(ctx, id.ID, "", "b"), apperr.ErrInvalidInput)
	assert.ErrorIs(t, f.accounts.ChangePassword(ctx, id.ID, "wrong", "b"), apperr.ErrUnauthorized)

	require.NoError(t, f.accounts.ChangePassword(ctx, id.ID, "ana-pass", "changed"))
	_, err := f.accounts.Login(ctx, "ana", "changed")
	require.NoError(t, err)
}

func TestUpdateSelfRules(t *testing.T) {
	f := newAccounts(t)
	ctx := context.Background()
	admin := f.register(t, "boss", auth.RoleAdmin, nil)

	_, err := f.accounts.Update(ctx, admin.ID, admin.ID, auth.IdentityUpdate{Role: strPtr("rh")})
	assert.ErrorIs(t, err, apperr.ErrForbidden)
	_, err = f.accounts.Update(ctx, admin.ID, admin.ID, auth.IdentityUpdate{Active: boolPtr(false)})
	assert.ErrorIs(t, err, apperr.ErrForbidden)
	_, err = f.accounts.UpdatePermissions(ctx, admin.ID, admin.ID, auth.PermissionDocument{})
	assert.ErrorIs(t, err, apperr.ErrForbidden)
	assert.ErrorIs(t, f.accounts.Delete(ctx, admin.ID, admin.ID), apperr.ErrForbidden)

	updated, err := f.accounts.Update(ctx, admin.ID, admin.ID, auth.IdentityUpdate{Name: strPtr("CHEFE GERAL")})
	require.NoError(t, err)
	assert.Equal(t, "Chefe Geral", updated.Name)

	_, err = f.accounts.Update(ctx, 0, admin.ID, auth.IdentityUpdate{Name: strPtr("x")})
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)
}

func TestUpdateRoleAndPermissions(t *testing.T) {
	f := newAccounts(t)
	ctx := context.Background()
	admin := f.register(t, "boss", auth.RoleAdmin, nil)
	rh := f.register(t, "ana", auth.RoleRH, auth.PermissionDocument{auth.ResourceEmployee: {auth.ActionEdit: true}})

	_, err := f.accounts.Update(ctx, admin.ID, rh.ID, auth.IdentityUpdate{
		Permissions: &auth.PermissionDocument{auth.ResourceAdminUser: {auth.ActionDelete: true}},
	})
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)

	out, err := f.accounts.UpdatePermissions(ctx, admin.ID, rh.ID, auth.PermissionDocument{
		auth.ResourceDocument: {auth.ActionCreate: true},
	})
	require.NoError(t, err)
	assert.True(t, out.Can(auth.Perm(auth.ResourceDocument, auth.ActionCreate)))
	assert.False(t, out.Can(auth.Perm(auth.ResourceEmployee, auth.ActionEdit)), "document is replaced, not merged")

	promoted, err := f.accounts.Update(ctx, admin.ID, rh.ID, auth.IdentityUpdate{Role: strPtr("admin")})
	require.NoError(t, err)
	assert.Equal(t, auth.RoleAdmin, promoted.Role)
	assert.Nil(t, promoted.Permissions)

	_, err = f.accounts.UpdatePermissions(ctx, admin.ID, rh.ID, auth.PermissionDocument{})
	assert.ErrorIs(t, err, apperr.ErrInvalidInput, "permissions only apply to rh")

	other := f.register(t, "carla", auth.RoleRH, nil)
	_, err = f.accounts.Update(ctx, admin.ID, other.ID, auth.IdentityUpdate{Login: strPtr("ana")})
	assert.ErrorIs(t, err, apperr.ErrConflict)

	_, err = f.accounts.Update(ctx, admin.ID, 999, auth.IdentityUpdate{Name: strPtr("x")})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestLastAdminGuard(t *testing.T) {
	f := newAccounts(t)
	ctx := context.Background()
	admin := f.register(t, "boss", auth.RoleAdmin, nil)
	rh := f.register(t, "ana", auth.RoleRH, nil)

	_, err := f.accounts.Update(ctx, rh.ID, admin.ID, auth.IdentityUpdate{Role: strPtr("rh")})
	assert.ErrorIs(t, err, apperr.ErrForbidden)
	_, err = f.accounts.Update(ctx, rh.ID, admin.ID, auth.IdentityUpdate{Active: boolPtr(false)})
	assert.ErrorIs(t, err, apperr.ErrForbidden)
	assert.ErrorIs(t, f.accounts.Delete(ctx, rh.ID, admin.ID), apperr.ErrForbidden)

	second := f.register(t, "vice", auth.RoleAdmin, nil)
	require.NoError(t, f.accounts.Delete(ctx, second.ID, admin.ID))
	_, err = f.accounts.Get(ctx, admin.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	require.NoError(t, f.accounts.Delete(ctx, second.ID, rh.ID))
}

func TestConcurrentDemotionKeepsOneAdmin(t *testing.T) {
	f := newAccounts(t)
	ctx := context.Background()
	a := f.register(t, "alpha", auth.RoleAdmin, nil)
	b := f.register(t, "beta", auth.RoleAdmin, nil)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, pair := range [][2]int64{{a.ID, b.ID}, {b.ID, a.ID}} {
		wg.Add(1)
		go func(i int, actor, target int64) {
			defer wg.Done()
			_, errs[i] = f.accounts.Update(ctx, actor, target, auth.IdentityUpdate{Role: strPtr("rh")})
		}(i, pair[0], pair[1])
	}
	wg.Wait()

	failed := 0
	for _, err := range errs {
		if err != nil {
			assert.ErrorIs(t, err, apperr.ErrForbidden)
			failed++
		}
	}
	assert.Equal(t, 1, failed)

	ids, err := f.accounts.List(ctx)
	require.NoError(t, err)
	admins := 0
	for _, id := range ids {
		if id.Role == auth.RoleAdmin && id.Active {
			admins++
		}
	}
	assert.Equal(t, 1, admins)
}

func TestEnsureBootstrapAdmin(t *testing.T) {
	f := newAccounts(t)
	ctx := context.Background()
	b := auth.BootstrapAdmin{Login: "admin", Email: "admin@example.com", Password: "secret"}

	created, err := f.accounts.EnsureBootstrapAdmin(ctx, b)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = f.accounts.EnsureBootstrapAdmin(ctx, b)
	require.NoError(t, err)
	assert.False(t, created)

	res, err := f.accounts.Login(ctx, "admin", "secret")
	require.NoError(t, err)
	assert.Equal(t, auth.RoleAdmin, res.Identity.Role)
	assert.Equal(t, "Administrador", res.Identity.Name)
}

func TestEnsureBootstrapAdminFromDefaults(t *testing.T) {
	f := newAccounts(t)
	ctx := context.Background()
	d := config.Default().Bootstrap

	created, err := f.accounts.EnsureBootstrapAdmin(ctx, auth.BootstrapAdmin{
		Login:    d.Login,
		Name:     d.Name,
		Email:    d.Email,
		Password: "troque-me",
	})
	require.NoError(t, err)
	require.True(t, created)

	res, err := f.accounts.Login(ctx, "admin", "troque-me")
	require.NoError(t, err)
	assert.Equal(t, "admin@admin.com", res.Identity.Email)
	assert.Equal(t, auth.RoleAdmin, res.Identity.Role)
}

func TestConcurrentDemotionOfSoleAdmin(t *testing.T) {
	f := newAccounts(t)
	ctx := context.Background()
	admin := f.register(t, "boss", auth.RoleAdmin, nil)
	actors := []auth.Identity{f.register(t, "ana", auth.RoleRH, nil), f.register(t, "bia", auth.RoleRH, nil)}

	var wg sync.WaitGroup
	errs := make([]error, len(actors))
	for i, actor := range actors {
		wg.Add(1)
		go func(i int, actorID int64) {
			defer wg.Done()
			_, errs[i] = f.accounts.Update(ctx, actorID, admin.ID, auth.IdentityUpdate{Role: strPtr("rh")})
		}(i, actor.ID)
	}
	wg.Wait()

	for _, err := range errs {
		assert.ErrorIs(t, err, apperr.ErrForbidden)
	}
	got, err := f.accounts.Get(ctx, admin.ID)
	require.NoError(t, err)
	assert.Equal(t, auth.RoleAdmin, got.Role)
}
