package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"rhgestor.org/internal/apperr"
	"rhgestor.org/internal/auth"
)

var _ auth.IdentityStore = (*Store)(nil)

const identityColumns = `id, login, name, email, password_hash, is_active, role, permissions,
	coalesce(reset_token_hash, ''), reset_expires_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIdentity(row rowScanner) (auth.Identity, error) {
	var (
		id      auth.Identity
		role    string
		perms   []byte
		resetAt sql.NullTime
	)
	if err := row.Scan(&id.ID, &id.Login, &id.Name, &id.Email, &id.PasswordHash, &id.Active,
		&role, &perms, &id.ResetTokenHash, &resetAt, &id.CreatedAt, &id.UpdatedAt); err != nil {
		return auth.Identity{}, mapError(err)
	}
	id.Role = auth.Role(role)
	if len(perms) > 0 && string(perms) != "null" {
		if err := json.Unmarshal(perms, &id.Permissions); err != nil {
			return auth.Identity{}, fmt.Errorf("decode permissions: %w", err)
		}
	}
	if resetAt.Valid {
		t := resetAt.Time
		id.ResetExpiresAt = &t
	}
	return id, nil
}

func encodePermissions(doc auth.PermissionDocument) (sql.NullString, error) {
	if doc == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encode permissions: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func (s *Store) identityWhere(ctx context.Context, q queryer, where string, args ...any) (auth.Identity, error) {
	return scanIdentity(q.QueryRowContext(ctx, `select `+identityColumns+` from admin_users where `+where, args...))
}

func (s *Store) IdentityByID(ctx context.Context, id int64) (auth.Identity, error) {
	return s.identityWhere(ctx, s.db, `id = $1`, id)
}

func (s *Store) IdentityByLogin(ctx context.Context, login string) (auth.Identity, error) {
	return s.identityWhere(ctx, s.db, `login = $1`, login)
}

func (s *Store) IdentityByEmail(ctx context.Context, email string) (auth.Identity, error) {
	return s.identityWhere(ctx, s.db, `lower(email) = lower($1)`, email)
}

func (s *Store) IdentityByResetToken(ctx context.Context, tokenHash string, now time.Time) (auth.Identity, error) {
	return s.identityWhere(ctx, s.db, `reset_token_hash = $1 and reset_expires_at > $2`, tokenHash, now)
}

func (s *Store) ListIdentities(ctx context.Context) ([]auth.Identity, error) {
	rows, err := s.db.QueryContext(ctx, `select `+identityColumns+` from admin_users order by name, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []auth.Identity
	for rows.Next() {
		id, err := scanIdentity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *Store) CountIdentities(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `select count(*) from admin_users`).Scan(&n)
	return n, err
}

func (s *Store) CreateIdentity(ctx context.Context, id *auth.Identity) error {
	perms, err := encodePermissions(id.Permissions)
	if err != nil {
		return err
	}
	row := s.db.QueryRowContext(ctx, `
		insert into admin_users (login, name, email, password_hash, is_active, role, permissions)
		values ($1, $2, $3, $4, $5, $6, $7::text::jsonb)
		returning id, created_at, updated_at
	`, id.Login, id.Name, id.Email, id.PasswordHash, id.Active, string(id.Role), perms)
	return mapError(row.Scan(&id.ID, &id.CreatedAt, &id.UpdatedAt))
}

func (s *Store) SetPassword(ctx context.Context, id int64, passwordHash string) error {
	return expectOne(s.db.ExecContext(ctx, `
		update admin_users
		set password_hash = $2, reset_token_hash = null, reset_expires_at = null, updated_at = now()
		where id = $1
	`, id, passwordHash))
}

func (s *Store) SetResetToken(ctx context.Context, id int64, tokenHash string, expiresAt time.Time) error {
	return expectOne(s.db.ExecContext(ctx, `
		update admin_users set reset_token_hash = $2, reset_expires_at = $3 where id = $1
	`, id, tokenHash, expiresAt))
}

func (s *Store) PurgeExpiredResetTokens(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		update admin_users set reset_token_hash = null, reset_expires_at = null
		where reset_expires_at is not null and reset_expires_at <= $1
	`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) WithIdentityTx(ctx context.Context, fn func(auth.IdentityTx) error) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return fn(identityTx{s: s, tx: tx})
	})
}

type identityTx struct {
	s  *Store
	tx *sql.Tx
}

func (t identityTx) LockIdentity(ctx context.Context, id int64) (auth.Identity, error) {
	ident, err := t.s.identityWhere(ctx, t.tx, `id = $1 for update`, id)
	if errors.Is(err, apperr.ErrNotFound) {
		return auth.Identity{}, apperr.NotFound("user %d not found", id)
	}
	return ident, err
}

// LockActiveAdmins locks the rows rather than counting them; aggregates
// cannot take row locks.
func (t identityTx) LockActiveAdmins(ctx context.Context) ([]int64, error) {
	rows, err := t.tx.QueryContext(ctx, `
		select id from admin_users where role = 'admin' and is_active order by id for update
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (t identityTx) SaveIdentity(ctx context.Context, id auth.Identity) error {
	perms, err := encodePermissions(id.Permissions)
	if err != nil {
		return err
	}
	return expectOne(t.tx.ExecContext(ctx, `
		update admin_users
		set login = $2, name = $3, email = $4, password_hash = $5, is_active = $6, role = $7,
			permissions = $8::text::jsonb, updated_at = now()
		where id = $1
	`, id.ID, id.Login, id.Name, id.Email, id.PasswordHash, id.Active, string(id.Role), perms))
}

// DeleteIdentity fails with a conflict while audit rows still name the
// identity; their foreign keys are "on delete restrict".
func (t identityTx) DeleteIdentity(ctx context.Context, id int64) error {
	res, err := t.tx.ExecContext(ctx, `delete from admin_users where id = $1`, id)
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
		return apperr.Conflict("%s", auth.HasRecordsMessage)
	}
	return expectOne(res, err)
}
