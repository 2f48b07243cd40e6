package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	db *pgxpool.Pool
}

func New(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// User represents an authenticated user
type User struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"`
	Name         *string    `json:"name,omitempty"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// UserSession represents a JWT session for logout/invalidation
type UserSession struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	TokenHash string     `json:"token_hash"`
	ExpiresAt time.Time  `json:"expires_at"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// Hand is one persisted processing result: a fully formatted poker hand, or
// the failure record when transcription/formatting did not survive.
type Hand struct {
	ID             string    `json:"id"` // pipeline entry ID
	UserID         string    `json:"user_id"`
	Title          *string   `json:"title,omitempty"`
	Status         string    `json:"status"` // "completed" or "failed"
	Transcript     *string   `json:"transcript,omitempty"`
	Formatted      *string   `json:"formatted,omitempty"`
	FailureStage   *string   `json:"failure_stage,omitempty"`
	FailureReason  *string   `json:"failure_reason,omitempty"`
	SegmentStartMs int64     `json:"segment_start_ms"`
	SegmentEndMs   int64     `json:"segment_end_ms"`
	AudioSeconds   float64   `json:"audio_seconds"`
	CreatedAt      time.Time `json:"created_at"`
}

// GameSettings is the per-user contextual defaults injected into the
// formatting prompt, plus the model selection.
type GameSettings struct {
	UserID    string            `json:"user_id"`
	Context   map[string]string `json:"context"`
	Model     string            `json:"model,omitempty"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// ============================================================================
// User operations
// ============================================================================

// CreateUser creates a new user with a pre-hashed password.
func (s *Store) CreateUser(ctx context.Context, email, passwordHash string) (*User, error) {
	var u User
	err := s.db.QueryRow(ctx, `
		INSERT INTO users (email, password_hash, last_login_at)
		VALUES ($1, $2, NOW())
		RETURNING id, email, password_hash, name, last_login_at, created_at, updated_at
	`, email, passwordHash).Scan(
		&u.ID, &u.Email, &u.PasswordHash, &u.Name, &u.LastLoginAt, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// GetUserByEmail retrieves a user by email.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	var u User
	err := s.db.QueryRow(ctx, `
		SELECT id, email, password_hash, name, last_login_at, created_at, updated_at
		FROM users
		WHERE email = $1
	`, email).Scan(
		&u.ID, &u.Email, &u.PasswordHash, &u.Name, &u.LastLoginAt, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// GetUserByID retrieves a user by ID.
func (s *Store) GetUserByID(ctx context.Context, id string) (*User, error) {
	var u User
	err := s.db.QueryRow(ctx, `
		SELECT id, email, password_hash, name, last_login_at, created_at, updated_at
		FROM users
		WHERE id = $1
	`, id).Scan(
		&u.ID, &u.Email, &u.PasswordHash, &u.Name, &u.LastLoginAt, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// UpdateUserName updates a user's display name.
func (s *Store) UpdateUserName(ctx context.Context, userID, name string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE users SET name = $2, updated_at = NOW() WHERE id = $1
	`, userID, name)
	return err
}

// TouchLastLogin records a successful login.
func (s *Store) TouchLastLogin(ctx context.Context, userID string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE users SET last_login_at = NOW() WHERE id = $1
	`, userID)
	return err
}

// ============================================================================
// Session operations
// ============================================================================

// CreateSession creates a new user session.
func (s *Store) CreateSession(ctx context.Context, userID, tokenHash string, expiresAt time.Time) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO user_sessions (user_id, token_hash, expires_at)
		VALUES ($1, $2, $3)
	`, userID, tokenHash, expiresAt)
	return err
}

// RevokeSession revokes a session by token hash.
func (s *Store) RevokeSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE user_sessions SET revoked_at = NOW() WHERE token_hash = $1
	`, tokenHash)
	return err
}

// IsSessionValid checks if a session is valid (not revoked and not expired).
func (s *Store) IsSessionValid(ctx context.Context, tokenHash string) (bool, error) {
	var valid bool
	err := s.db.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM user_sessions
			WHERE token_hash = $1 AND revoked_at IS NULL AND expires_at > NOW()
		)
	`, tokenHash).Scan(&valid)
	return valid, err
}

// ============================================================================
// Hand operations
// ============================================================================

// InsertHand persists one processing result. The ID comes from the pipeline
// entry, so a replayed insert is a no-op.
func (s *Store) InsertHand(ctx context.Context, h Hand) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO hands (id, user_id, title, status, transcript, formatted,
		                   failure_stage, failure_reason, segment_start_ms, segment_end_ms,
		                   audio_seconds, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO NOTHING
	`, h.ID, h.UserID, h.Title, h.Status, h.Transcript, h.Formatted,
		h.FailureStage, h.FailureReason, h.SegmentStartMs, h.SegmentEndMs,
		h.AudioSeconds, h.CreatedAt)
	return err
}

// ListHands returns a user's hands, newest first.
func (s *Store) ListHands(ctx context.Context, userID string, limit int) ([]Hand, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, user_id, title, status, transcript, formatted,
		       failure_stage, failure_reason, segment_start_ms, segment_end_ms,
		       audio_seconds, created_at
		FROM hands
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	hands := []Hand{}
	for rows.Next() {
		var h Hand
		if err := rows.Scan(&h.ID, &h.UserID, &h.Title, &h.Status, &h.Transcript, &h.Formatted,
			&h.FailureStage, &h.FailureReason, &h.SegmentStartMs, &h.SegmentEndMs,
			&h.AudioSeconds, &h.CreatedAt); err != nil {
			return nil, err
		}
		hands = append(hands, h)
	}
	return hands, rows.Err()
}

// GetHand retrieves a single hand scoped to its owner. A hand belonging to
// another user reads as not found.
func (s *Store) GetHand(ctx context.Context, userID, handID string) (*Hand, error) {
	var h Hand
	err := s.db.QueryRow(ctx, `
		SELECT id, user_id, title, status, transcript, formatted,
		       failure_stage, failure_reason, segment_start_ms, segment_end_ms,
		       audio_seconds, created_at
		FROM hands
		WHERE id = $1 AND user_id = $2
	`, handID, userID).Scan(&h.ID, &h.UserID, &h.Title, &h.Status, &h.Transcript, &h.Formatted,
		&h.FailureStage, &h.FailureReason, &h.SegmentStartMs, &h.SegmentEndMs,
		&h.AudioSeconds, &h.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &h, nil
}

// UpdateHandTitle renames a hand, scoped to its owner.
func (s *Store) UpdateHandTitle(ctx context.Context, userID, handID, title string) error {
	result, err := s.db.Exec(ctx, `
		UPDATE hands SET title = $3 WHERE id = $1 AND user_id = $2
	`, handID, userID, title)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// DeleteHand removes a hand, scoped to its owner.
func (s *Store) DeleteHand(ctx context.Context, userID, handID string) error {
	result, err := s.db.Exec(ctx, `
		DELETE FROM hands WHERE id = $1 AND user_id = $2
	`, handID, userID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// CountHands returns the number of hands stored for a user.
func (s *Store) CountHands(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM hands WHERE user_id = $1
	`, userID).Scan(&count)
	return count, err
}

// ============================================================================
// Game settings operations
// ============================================================================

// GetGameSettings retrieves a user's contextual settings. A user without a
// row gets empty defaults, not an error.
func (s *Store) GetGameSettings(ctx context.Context, userID string) (*GameSettings, error) {
	var gs GameSettings
	var contextJSON []byte
	err := s.db.QueryRow(ctx, `
		SELECT user_id, context, model, updated_at
		FROM game_settings
		WHERE user_id = $1
	`, userID).Scan(&gs.UserID, &contextJSON, &gs.Model, &gs.UpdatedAt)
	if err == pgx.ErrNoRows {
		return &GameSettings{UserID: userID, Context: map[string]string{}}, nil
	}
	if err != nil {
		return nil, err
	}
	gs.Context = map[string]string{}
	if len(contextJSON) > 0 {
		if err := json.Unmarshal(contextJSON, &gs.Context); err != nil {
			return nil, err
		}
	}
	return &gs, nil
}

// UpsertGameSettings replaces a user's contextual settings.
func (s *Store) UpsertGameSettings(ctx context.Context, gs GameSettings) error {
	contextJSON, err := json.Marshal(gs.Context)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO game_settings (user_id, context, model, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			context = EXCLUDED.context,
			model = EXCLUDED.model,
			updated_at = NOW()
	`, gs.UserID, contextJSON, gs.Model)
	return err
}

// ============================================================================
// Service credential operations
// ============================================================================

// GetServiceToken retrieves the capability token used for the external
// transcription/formatting calls.
func (s *Store) GetServiceToken(ctx context.Context) (string, error) {
	var token string
	err := s.db.QueryRow(ctx, `
		SELECT token FROM service_credentials WHERE name = 'api_token'
	`).Scan(&token)
	return token, err
}

// SetServiceToken stores or rotates the capability token. Segments already
// queued keep the token captured at enqueue time.
func (s *Store) SetServiceToken(ctx context.Context, token string) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO service_credentials (name, token, updated_at)
		VALUES ('api_token', $1, NOW())
		ON CONFLICT (name) DO UPDATE SET token = EXCLUDED.token, updated_at = NOW()
	`, token)
	return err
}
