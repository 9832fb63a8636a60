package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/videotube-api/internal/models"
	appErrors "github.com/noah-isme/videotube-api/pkg/errors"
	"github.com/noah-isme/videotube-api/pkg/security"
)

const userColumns = `id, username, email, full_name, avatar, cover_image, password_hash, refresh_token, created_at, updated_at`

const uniqueViolation = "23505"

// UserRepository is the directory store for identity records. It owns
// password hashing so plaintext secrets never reach a column.
type UserRepository struct {
	db     *sqlx.DB
	hasher security.PasswordHasher
}

// NewUserRepository creates a new instance of UserRepository.
func NewUserRepository(db *sqlx.DB, hasher security.PasswordHasher) *UserRepository {
	return &UserRepository{db: db, hasher: hasher}
}

// FindByHandleOrContact returns the user whose username or email matches.
func (r *UserRepository) FindByHandleOrContact(ctx context.Context, username, email string) (*models.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE username = $1 OR email = $2 LIMIT 1`
	var user models.User
	if err := r.db.GetContext(ctx, &user, query, username, email); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find user by handle or contact: %w", err)
	}
	return &user, nil
}

// FindByID returns a user by identifier.
func (r *UserRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE id = $1 LIMIT 1`
	var user models.User
	if err := r.db.GetContext(ctx, &user, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find user by id: %w", err)
	}
	return &user, nil
}

// Create hashes password and inserts the user. Unique violations surface as ErrDuplicate.
func (r *UserRepository) Create(ctx context.Context, user *models.User, password string) error {
	hash, err := r.hasher.Hash(password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now
	user.PasswordHash = hash
	user.RefreshToken = nil

	const query = `INSERT INTO users (id, username, email, full_name, avatar, cover_image, password_hash, refresh_token, created_at, updated_at) VALUES (:id, :username, :email, :full_name, :avatar, :cover_image, :password_hash, :refresh_token, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, user); err != nil {
		return fmt.Errorf("create user: %w", translate(err))
	}
	return nil
}

// UpdateFields applies the non-nil fields of update and returns the stored record.
func (r *UserRepository) UpdateFields(ctx context.Context, id string, update models.UserUpdate) (*models.User, error) {
	if update.Empty() {
		return r.FindByID(ctx, id)
	}

	var sets []string
	args := []interface{}{id}
	add := func(column string, value interface{}) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if update.FullName != nil {
		add("full_name", *update.FullName)
	}
	if update.Email != nil {
		add("email", *update.Email)
	}
	if update.Avatar != nil {
		add("avatar", *update.Avatar)
	}
	if update.CoverImage != nil {
		add("cover_image", *update.CoverImage)
	}
	add("updated_at", time.Now().UTC())

	query := fmt.Sprintf("UPDATE users SET %s WHERE id = $1 RETURNING %s", strings.Join(sets, ", "), userColumns)
	var user models.User
	if err := r.db.GetContext(ctx, &user, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("update user: %w", translate(err))
	}
	return &user, nil
}

// UpdatePassword hashes password and replaces the stored hash.
func (r *UserRepository) UpdatePassword(ctx context.Context, id, password string) error {
	hash, err := r.hasher.Hash(password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	const query = `UPDATE users SET password_hash = $2, updated_at = $3 WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id, hash, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return requireRow(res)
}

// DeleteByID removes the user record.
func (r *UserRepository) DeleteByID(ctx context.Context, id string) error {
	const query = `DELETE FROM users WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return requireRow(res)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func translate(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", appErrors.ErrDuplicate, pqErr.Constraint)
	}
	return err
}
