package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/presensi-backend/internal/model"
)

var ErrDuplicateLogin = errors.New("account with this login already exists")

// AccountRepository handles account data access.
type AccountRepository struct {
	pool *pgxpool.Pool
}

// NewAccountRepository creates a new AccountRepository.
func NewAccountRepository(pool *pgxpool.Pool) *AccountRepository {
	return &AccountRepository{pool: pool}
}

const accountColumns = `id, login, name, role, password_hash, device_fingerprint, face_descriptor, group_id, active, created_at, updated_at`

func scanAccount(row pgx.Row) (*model.Account, error) {
	a := &model.Account{}
	err := row.Scan(&a.ID, &a.Login, &a.Name, &a.Role, &a.PasswordHash,
		&a.DeviceFingerprint, &a.FaceDescriptor, &a.GroupID, &a.Active,
		&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// GetByID retrieves an account by ID.
func (r *AccountRepository) GetByID(ctx context.Context, id int) (*model.Account, error) {
	return scanAccount(r.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id))
}

// GetActiveByLogin retrieves an active account by its unique login.
func (r *AccountRepository) GetActiveByLogin(ctx context.Context, login string) (*model.Account, error) {
	return scanAccount(r.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE login = $1 AND active = TRUE`, login))
}

// Create inserts a new account.
func (r *AccountRepository) Create(ctx context.Context, a *model.Account) error {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO accounts (login, name, role, password_hash, group_id, active)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, created_at, updated_at`,
		a.Login, a.Name, a.Role, a.PasswordHash, a.GroupID, a.Active,
	).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateLogin
		}
		return err
	}
	return nil
}

// UpdatePasswordHash replaces an account's stored password hash. Used for
// the transparent legacy-to-PBKDF2 upgrade on successful login.
func (r *AccountRepository) UpdatePasswordHash(ctx context.Context, id int, hash string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE accounts SET password_hash = $1, updated_at = CURRENT_TIMESTAMP WHERE id = $2`,
		hash, id,
	)
	return err
}

// UpdateDeviceFingerprint binds (or, with nil, clears) the stored device fingerprint.
func (r *AccountRepository) UpdateDeviceFingerprint(ctx context.Context, id int, fingerprint *string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE accounts SET device_fingerprint = $1, updated_at = CURRENT_TIMESTAMP WHERE id = $2`,
		fingerprint, id,
	)
	return err
}

// UpdateFaceDescriptor stores an account's registered face descriptor.
func (r *AccountRepository) UpdateFaceDescriptor(ctx context.Context, id int, descriptor []float64) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE accounts SET face_descriptor = $1, updated_at = CURRENT_TIMESTAMP WHERE id = $2`,
		descriptor, id,
	)
	return err
}

// ListIDsByGroup returns the account IDs of all active students in a group.
// Used to seed default-absent attendance rows at lesson start.
func (r *AccountRepository) ListIDsByGroup(ctx context.Context, groupID int) ([]int, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id FROM accounts WHERE group_id = $1 AND role = $2 AND active = TRUE`,
		groupID, model.RoleStudent,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
