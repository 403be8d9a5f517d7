// Package pg implements the auth persistence interfaces over
// PostgreSQL through database/sql with the pgx stdlib driver.
package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"aidcore.org/internal/auth"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
)

var (
	_ auth.IdentityStore   = (*Identities)(nil)
	_ auth.CredentialStore = (*Credentials)(nil)
)

// Identities persists identity records.
type Identities struct {
	db *sql.DB
}

// NewIdentities wraps an open database handle.
func NewIdentities(db *sql.DB) *Identities {
	return &Identities{db: db}
}

const identityColumns = `id, email, secret_hash, role, modules, resources, active, verified, created_at, updated_at`

func (s *Identities) Create(ctx context.Context, id *auth.Identity) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	modules, resources, err := encodeAssignments(id)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		insert into identities (id, email, secret_hash, role, modules, resources, active, verified, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, id.ID, auth.NormalizeEmail(id.Email), id.SecretHash, string(id.Role), modules, resources, id.Active, id.Verified, id.CreatedAt, id.UpdatedAt)
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
		return auth.ErrConflict
	}
	return err
}

func (s *Identities) Find(ctx context.Context, id string) (*auth.Identity, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	row := s.db.QueryRowContext(ctx, `
		select `+identityColumns+`
		from identities
		where id = $1
	`, id)
	return scanIdentity(row)
}

func (s *Identities) FindByEmail(ctx context.Context, email string) (*auth.Identity, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	row := s.db.QueryRowContext(ctx, `
		select `+identityColumns+`
		from identities
		where email = $1
	`, auth.NormalizeEmail(email))
	return scanIdentity(row)
}

func (s *Identities) List(ctx context.Context) ([]*auth.Identity, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	rows, err := s.db.QueryContext(ctx, `
		select `+identityColumns+`
		from identities
		order by created_at asc
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*auth.Identity
	for rows.Next() {
		identity, err := scanIdentity(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, identity)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Identities) Update(ctx context.Context, id *auth.Identity) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	modules, resources, err := encodeAssignments(id)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		update identities
		set role = $2, modules = $3, resources = $4, active = $5, verified = $6, updated_at = $7
		where id = $1
	`, id.ID, string(id.Role), modules, resources, id.Active, id.Verified, id.UpdatedAt)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *Identities) UpdatePassword(ctx context.Context, id, secretHash string) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	res, err := s.db.ExecContext(ctx, `
		update identities
		set secret_hash = $2, updated_at = now()
		where id = $1
	`, id, secretHash)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// Credentials persists refresh/reset/verify credential records.
type Credentials struct {
	db *sql.DB
}

// NewCredentials wraps an open database handle.
func NewCredentials(db *sql.DB) *Credentials {
	return &Credentials{db: db}
}

func (s *Credentials) Create(ctx context.Context, c *auth.Credential) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	_, err := s.db.ExecContext(ctx, `
		insert into credentials (id, subject_id, kind, issued_at, expires_at, used, revoked)
		values ($1, $2, $3, $4, $5, $6, $7)
	`, c.ID, c.SubjectID, string(c.Kind), c.IssuedAt, c.ExpiresAt, c.Used, c.Revoked)
	if pgErr, ok := maybePgError(err); ok {
		switch pgErr.Code {
		case pgErrUniqueViolation:
			return auth.ErrConflict
		case pgErrForeignKeyViolation:
			return auth.ErrNotFound
		}
	}
	return err
}

func (s *Credentials) Find(ctx context.Context, id string) (*auth.Credential, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	var (
		c    auth.Credential
		kind string
	)
	err := s.db.QueryRowContext(ctx, `
		select id, subject_id, kind, issued_at, expires_at, used, revoked
		from credentials
		where id = $1
	`, id).Scan(&c.ID, &c.SubjectID, &kind, &c.IssuedAt, &c.ExpiresAt, &c.Used, &c.Revoked)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	c.Kind = auth.TokenKind(kind)
	return &c, nil
}

// MarkUsed is the single-use commit point: the conditional update only
// matches an unused, unrevoked row, so of two concurrent exchanges
// exactly one observes an affected row.
func (s *Credentials) MarkUsed(ctx context.Context, id string) (bool, error) {
	if s.db == nil {
		return false, errors.New("database connection unavailable")
	}
	res, err := s.db.ExecContext(ctx, `
		update credentials
		set used = true
		where id = $1 and not used and not revoked
	`, id)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func (s *Credentials) MarkRevoked(ctx context.Context, id string) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	res, err := s.db.ExecContext(ctx, `
		update credentials
		set revoked = true
		where id = $1
	`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *Credentials) RevokeAllForSubject(ctx context.Context, subjectID string) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	_, err := s.db.ExecContext(ctx, `
		update credentials
		set revoked = true
		where subject_id = $1 and not revoked
	`, subjectID)
	return err
}

// DeleteExpired removes rows whose expiry lies in the past. Storage
// hygiene only; verification never depends on it.
func (s *Credentials) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	if s.db == nil {
		return 0, errors.New("database connection unavailable")
	}
	res, err := s.db.ExecContext(ctx, `
		delete from credentials
		where expires_at < $1
	`, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIdentity(row rowScanner) (*auth.Identity, error) {
	var (
		identity  auth.Identity
		role      string
		modules   []byte
		resources []byte
	)
	err := row.Scan(&identity.ID, &identity.Email, &identity.SecretHash, &role, &modules, &resources, &identity.Active, &identity.Verified, &identity.CreatedAt, &identity.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	identity.Role = auth.Role(role)
	if len(modules) > 0 {
		if err := json.Unmarshal(modules, &identity.Modules); err != nil {
			return nil, fmt.Errorf("decode modules: %w", err)
		}
	}
	if len(resources) > 0 {
		if err := json.Unmarshal(resources, &identity.Resources); err != nil {
			return nil, fmt.Errorf("decode resources: %w", err)
		}
	}
	return &identity, nil
}

func encodeAssignments(id *auth.Identity) ([]byte, []byte, error) {
	modules, err := json.Marshal(id.Modules)
	if err != nil {
		return nil, nil, fmt.Errorf("encode modules: %w", err)
	}
	resources, err := json.Marshal(id.Resources)
	if err != nil {
		return nil, nil, fmt.Errorf("encode resources: %w", err)
	}
	return modules, resources, nil
}

func requireRow(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return auth.ErrNotFound
	}
	return nil
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	if err == nil {
		return nil, false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}
