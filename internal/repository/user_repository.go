package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/mentorium-app/mentorium-api/internal/models"
)

// UserRepository provides database access for users, sessions and teacher
// applications.
type UserRepository struct {
	db *sqlx.DB
}

// NewUserRepository creates a new instance of UserRepository.
func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `id, email, password_hash, full_name, photo_url, role, active, last_login, created_at, updated_at,
        application_status, application_title, application_category, application_experience, applied_at`

// FindByEmail returns a user by email address.
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	query := fmt.Sprintf(`SELECT %s FROM users WHERE email = $1 LIMIT 1`, userColumns)
	var user models.User
	if err := r.db.GetContext(ctx, &user, query, email); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find user by email: %w", err)
	}
	return &user, nil
}

// FindByID returns a user by identifier.
func (r *UserRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	query := fmt.Sprintf(`SELECT %s FROM users WHERE id = $1 LIMIT 1`, userColumns)
	var user models.User
	if err := r.db.GetContext(ctx, &user, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find user by id: %w", err)
	}
	return &user, nil
}

// Create inserts a new user record.
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now
	if user.ApplicationStatus == "" {
		user.ApplicationStatus = models.ApplicationNone
	}

	const query = `INSERT INTO users (id, email, password_hash, full_name, photo_url, role, active, created_at, updated_at, application_status)
        VALUES (:id, :email, :password_hash, :full_name, :photo_url, :role, :active, :created_at, :updated_at, :application_status)`
	if _, err := r.db.NamedExecContext(ctx, query, user); err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// UpdateLastLogin updates the last_login timestamp for a user.
func (r *UserRepository) UpdateLastLogin(ctx context.Context, id string, ts time.Time) error {
	const query = `UPDATE users SET last_login = $2, updated_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, ts, ts); err != nil {
		return fmt.Errorf("update last login: %w", err)
	}
	return nil
}

// SubmitApplication moves a user's teacher application to pending and stores
// the submitted fields. Only NONE and REJECTED applications may transition;
// the WHERE clause enforces that and zero affected rows signals a conflict.
func (r *UserRepository) SubmitApplication(ctx context.Context, email, title, category, experience string, appliedAt time.Time) (bool, error) {
	const query = `UPDATE users SET application_status = $2, application_title = $3, application_category = $4,
        application_experience = $5, applied_at = $6, updated_at = $6
        WHERE email = $1 AND application_status IN ($7, $8)`
	res, err := r.db.ExecContext(ctx, query, email, models.ApplicationPending, title, category, experience, appliedAt,
		models.ApplicationNone, models.ApplicationRejected)
	if err != nil {
		return false, fmt.Errorf("submit teacher application: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("submit teacher application result: %w", err)
	}
	return affected == 1, nil
}

// ApproveApplication promotes the user to teacher and marks the application
// approved in one statement, so role and status can never be observed apart.
// The transition is only legal from pending.
func (r *UserRepository) ApproveApplication(ctx context.Context, email string) (bool, error) {
	const query = `UPDATE users SET role = $2, application_status = $3, updated_at = $4
        WHERE email = $1 AND application_status = $5`
	res, err := r.db.ExecContext(ctx, query, email, models.RoleTeacher, models.ApplicationApproved, time.Now().UTC(), models.ApplicationPending)
	if err != nil {
		return false, fmt.Errorf("approve teacher application: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("approve teacher application result: %w", err)
	}
	return affected == 1, nil
}

// RejectApplication marks a pending application rejected.
func (r *UserRepository) RejectApplication(ctx context.Context, email string) (bool, error) {
	const query = `UPDATE users SET application_status = $2, updated_at = $3
        WHERE email = $1 AND application_status = $4`
	res, err := r.db.ExecContext(ctx, query, email, models.ApplicationRejected, time.Now().UTC(), models.ApplicationPending)
	if err != nil {
		return false, fmt.Errorf("reject teacher application: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reject teacher application result: %w", err)
	}
	return affected == 1, nil
}

// ListByApplicationStatus returns users whose teacher application is in the
// given state, newest applications first.
func (r *UserRepository) ListByApplicationStatus(ctx context.Context, status models.ApplicationStatus, page, pageSize int) ([]models.User, int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	query := fmt.Sprintf(`SELECT %s FROM users WHERE application_status = $1 ORDER BY applied_at DESC NULLS LAST LIMIT %d OFFSET %d`,
		userColumns, pageSize, offset)
	var users []models.User
	if err := r.db.SelectContext(ctx, &users, query, status); err != nil {
		return nil, 0, fmt.Errorf("list users by application status: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM users WHERE application_status = $1`, status); err != nil {
		return nil, 0, fmt.Errorf("count users by application status: %w", err)
	}
	return users, total, nil
}

// List returns users based on filters with total count.
func (r *UserRepository) List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error) {
	baseQuery := `FROM users WHERE 1=1`
	var conditions []string
	var args []interface{}

	if filter.Role != nil {
		conditions = append(conditions, fmt.Sprintf("role = $%d", len(args)+1))
		args = append(args, *filter.Role)
	}
	if filter.ApplicationStatus != nil {
		conditions = append(conditions, fmt.Sprintf("application_status = $%d", len(args)+1))
		args = append(args, *filter.ApplicationStatus)
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(LOWER(email) LIKE $%d OR LOWER(full_name) LIKE $%d)", len(args)+1, len(args)+1))
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}

	if len(conditions) > 0 {
		baseQuery += " AND " + strings.Join(conditions, " AND ")
	}

	sortBy := filter.SortBy
	allowedSorts := map[string]bool{
		"email":      true,
		"created_at": true,
		"full_name":  true,
	}
	if !allowedSorts[sortBy] {
		sortBy = "created_at"
	}
	sortOrder := strings.ToUpper(filter.SortOrder)
	if sortOrder != "ASC" && sortOrder != "DESC" {
		sortOrder = "DESC"
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	listQuery := fmt.Sprintf("SELECT %s %s ORDER BY %s %s LIMIT %d OFFSET %d", userColumns, baseQuery, sortBy, sortOrder, pageSize, offset)

	var users []models.User
	if err := r.db.SelectContext(ctx, &users, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list users: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", baseQuery)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count users: %w", err)
	}

	return users, total, nil
}

// CreateRefreshToken persists a refresh token entry.
func (r *UserRepository) CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	if token.ID == "" {
		token.ID = uuid.NewString()
	}
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO refresh_tokens (id, user_id, token, expires_at, created_at, revoked, revoked_at, ip_address, user_agent)
        VALUES (:id, :user_id, :token, :expires_at, :created_at, :revoked, :revoked_at, :ip_address, :user_agent)`
	if _, err := r.db.NamedExecContext(ctx, query, token); err != nil {
		return fmt.Errorf("create refresh token: %w", err)
	}
	return nil
}

// FindRefreshToken returns a refresh token by token string.
func (r *UserRepository) FindRefreshToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	const query = `SELECT id, user_id, token, expires_at, created_at, revoked, revoked_at, ip_address, user_agent FROM refresh_tokens WHERE token = $1 LIMIT 1`
	var rt models.RefreshToken
	if err := r.db.GetContext(ctx, &rt, query, token); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find refresh token: %w", err)
	}
	return &rt, nil
}

// RevokeRefreshToken marks a token as revoked.
func (r *UserRepository) RevokeRefreshToken(ctx context.Context, id string, revokedAt time.Time) error {
	const query = `UPDATE refresh_tokens SET revoked = TRUE, revoked_at = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, revokedAt); err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

// RevokeUserRefreshTokens revokes all refresh tokens for a user.
func (r *UserRepository) RevokeUserRefreshTokens(ctx context.Context, userID string) error {
	const query = `UPDATE refresh_tokens SET revoked = TRUE, revoked_at = $2 WHERE user_id = $1 AND revoked = FALSE`
	if _, err := r.db.ExecContext(ctx, query, userID, time.Now().UTC()); err != nil {
		return fmt.Errorf("revoke user refresh tokens: %w", err)
	}
	return nil
}
