package auth

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"
)

// PGDirectory implements AccountDirectory using PostgreSQL.
type PGDirectory struct {
	db *sql.DB
}

func NewPGDirectory(db *sql.DB) *PGDirectory {
	return &PGDirectory{db: db}
}

var _ AccountDirectory = (*PGDirectory)(nil)

const accountColumns = `id, email, full_name, coalesce(phone, ''), role, status,
	password_hash, max_students, current_students_count, assigned_departments,
	created_at, updated_at, coalesce(last_login, 'epoch'::timestamptz)`

func (d *PGDirectory) FindByEmail(ctx context.Context, email string) (*Account, error) {
	row := d.db.QueryRowContext(ctx,
		`select `+accountColumns+` from users where email=$1`, email)
	return scanAccount(row)
}

func (d *PGDirectory) FindByID(ctx context.Context, id string) (*Account, error) {
	row := d.db.QueryRowContext(ctx,
		`select `+accountColumns+` from users where id=$1`, id)
	return scanAccount(row)
}

func (d *PGDirectory) List(ctx context.Context) ([]Account, error) {
	rows, err := d.db.QueryContext(ctx,
		`select `+accountColumns+` from users order by email`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Account
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *acc)
	}
	return out, rows.Err()
}

func (d *PGDirectory) Save(ctx context.Context, acc *Account) error {
	deps, _ := json.Marshal(acc.Departments)
	var lastLogin any
	if !acc.LastLoginAt.IsZero() {
		lastLogin = acc.LastLoginAt
	}
	_, err := d.db.ExecContext(ctx, `
		insert into users(id, email, full_name, phone, role, status, password_hash,
			max_students, current_students_count, assigned_departments,
			created_at, updated_at, last_login)
		values($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		on conflict (id) do update set
			email=excluded.email,
			full_name=excluded.full_name,
			phone=excluded.phone,
			role=excluded.role,
			status=excluded.status,
			password_hash=excluded.password_hash,
			max_students=excluded.max_students,
			current_students_count=excluded.current_students_count,
			assigned_departments=excluded.assigned_departments,
			updated_at=excluded.updated_at,
			last_login=excluded.last_login`,
		acc.ID, acc.Email, acc.Name, acc.Phone, string(acc.Role), acc.Status,
		acc.PasswordHash, acc.MaxStudents, acc.CurrentStudents, deps,
		acc.CreatedAt, acc.UpdatedAt, lastLogin,
	)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*Account, error) {
	var (
		acc  Account
		role string
		deps []byte
	)
	err := row.Scan(&acc.ID, &acc.Email, &acc.Name, &acc.Phone, &role, &acc.Status,
		&acc.PasswordHash, &acc.MaxStudents, &acc.CurrentStudents, &deps,
		&acc.CreatedAt, &acc.UpdatedAt, &acc.LastLoginAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrIdentityNotFound
		}
		return nil, err
	}
	acc.Role = Role(role)
	if acc.LastLoginAt.Unix() == 0 {
		acc.LastLoginAt = time.Time{}
	}
	_ = json.Unmarshal(deps, &acc.Departments)
	return &acc, nil
}

// PGTokenStore implements RefreshTokenStore using PostgreSQL.
type PGTokenStore struct {
	db *sql.DB
}

func NewPGTokenStore(db *sql.DB) *PGTokenStore {
	return &PGTokenStore{db: db}
}

var _ RefreshTokenStore = (*PGTokenStore)(nil)

func (s *PGTokenStore) Create(ctx context.Context, rec *RefreshRecord) error {
	device, _ := json.Marshal(rec.Device)
	_, err := s.db.ExecContext(ctx, `
		insert into refresh_tokens(id, user_id, token_hash, device_info,
			created_at, expires_at, is_revoked)
		values($1,$2,$3,$4,$5,$6,false)`,
		rec.ID, rec.AccountID, rec.TokenHash, device, rec.CreatedAt, rec.ExpiresAt,
	)
	return err
}

func (s *PGTokenStore) Find(ctx context.Context, id string) (*RefreshRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		select id, user_id, token_hash, device_info, created_at, expires_at,
			is_revoked, coalesce(revoked_at, 'epoch'::timestamptz)
		from refresh_tokens where id=$1`, id)
	var (
		rec    RefreshRecord
		device []byte
	)
	err := row.Scan(&rec.ID, &rec.AccountID, &rec.TokenHash, &device,
		&rec.CreatedAt, &rec.ExpiresAt, &rec.Revoked, &rec.RevokedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTokenRevoked
		}
		return nil, err
	}
	if rec.RevokedAt.Unix() == 0 {
		rec.RevokedAt = time.Time{}
	}
	_ = json.Unmarshal(device, &rec.Device)
	return &rec, nil
}

// Revoke is conditioned on is_revoked=false at write time; the affected
// row count decides the winner between concurrent rotations.
func (s *PGTokenStore) Revoke(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		update refresh_tokens set is_revoked=true, revoked_at=now()
		where id=$1 and is_revoked=false`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *PGTokenStore) RevokeAllForAccount(ctx context.Context, accountID string) error {
	_, err := s.db.ExecContext(ctx, `
		update refresh_tokens set is_revoked=true, revoked_at=now()
		where user_id=$1 and is_revoked=false`, accountID)
	return err
}
