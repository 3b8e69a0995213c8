package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, email, password_hash, role, is_email_verified, verification_token, verification_expires_at)
		VALUES ($1, $2, LOWER($3), $4, $5, $6, $7, $8)
	`, user.ID, user.DisplayName, user.Email, user.PasswordHash, user.Role, user.IsEmailVerified, user.VerificationToken, user.VerificationExpiresAt)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, password_hash, role, is_email_verified
		FROM users
		WHERE email = LOWER($1)
	`, email).Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.Role, &user.IsEmailVerified)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, password_hash, role, is_email_verified
		FROM users
		WHERE id = $1
	`, userID).Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.Role, &user.IsEmailVerified)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) UpdateUserVerificationToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET verification_token=$2, verification_expires_at=$3, updated_at=NOW()
		WHERE id=$1
	`, userID, token, expiresAt)
	if err != nil {
		return fmt.Errorf("update verification token: %w", err)
	}
	return nil
}

func (s *PostgresStore) VerifyUserEmail(ctx context.Context, token string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET is_email_verified=TRUE, verification_token='', verification_expires_at=NULL, updated_at=NOW()
		WHERE verification_token=$1 AND verification_expires_at > NOW()
	`, token)
	if err != nil {
		return fmt.Errorf("verify email: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("verify email rows: %w", err)
	}
	if affected == 0 {
		return errors.New("invalid or expired verification token")
	}
	return nil
}

func (s *PostgresStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET password_hash=$2, updated_at=NOW() WHERE id=$1`, userID, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreatePasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO password_resets (token, user_id, expires_at)
		VALUES ($1, $2, $3)
	`, token, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("create password reset: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPasswordReset(ctx context.Context, token string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id FROM password_resets
		WHERE token=$1 AND used_at IS NULL AND expires_at > NOW()
	`, token).Scan(&userID)
	if err != nil {
		return "", err
	}
	return userID, nil
}

func (s *PostgresStore) MarkPasswordResetUsed(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE password_resets SET used_at=NOW() WHERE token=$1`, token)
	if err != nil {
		return fmt.Errorf("mark password reset used: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	const query = `
		SELECT u.id, u.display_name, u.email, u.role, u.is_email_verified
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`
	var user User
	err := s.db.QueryRowContext(ctx, query, tokenHash).Scan(&user.ID, &user.DisplayName, &user.Email, &user.Role, &user.IsEmailVerified)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

const termColumns = `id, term, definition, language, category, usage_example, transliteration, notes, status, owner_id, created_at, updated_at`

func scanTerm(row interface{ Scan(...any) error }) (Term, error) {
	var item Term
	err := row.Scan(
		&item.ID,
		&item.Term,
		&item.Definition,
		&item.Language,
		&item.Category,
		&item.UsageExample,
		&item.Transliteration,
		&item.Notes,
		&item.Status,
		&item.OwnerID,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	return item, err
}

func (s *PostgresStore) GetTerm(ctx context.Context, termID string) (Term, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+termColumns+` FROM terms WHERE id=$1`, termID)
	return scanTerm(row)
}

// FindTermByNameAndLanguage matches case-insensitively. Concurrent
// duplicate submissions during the pending window are not fenced by a
// unique index; reviewers resolve them from the pending queue.
func (s *PostgresStore) FindTermByNameAndLanguage(ctx context.Context, term, language string) (Term, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+termColumns+` FROM terms
		WHERE LOWER(term) = LOWER($1) AND LOWER(language) = LOWER($2)
		LIMIT 1
	`, term, language)
	return scanTerm(row)
}

func (s *PostgresStore) ListTerms(ctx context.Context, language string, limit int) ([]Term, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+termColumns+` FROM terms
		WHERE status='ADMIN_APPROVED' AND ($1='' OR LOWER(language)=LOWER($1))
		ORDER BY LOWER(term) ASC
		LIMIT $2
	`, language, limit)
	if err != nil {
		return nil, fmt.Errorf("list terms: %w", err)
	}
	defer rows.Close()

	items := make([]Term, 0)
	for rows.Next() {
		item, err := scanTerm(rows)
		if err != nil {
			return nil, fmt.Errorf("scan term: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate terms: %w", err)
	}
	return items, nil
}

// LinkTranslation records a symmetric translation pair; both directions
// are stored so lookups stay a single indexed query.
func (s *PostgresStore) LinkTranslation(ctx context.Context, termID, translatedTermID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO term_translations (term_id, translated_term_id)
		VALUES ($1, $2), ($2, $1)
		ON CONFLICT DO NOTHING
	`, termID, translatedTermID)
	if err != nil {
		return fmt.Errorf("link translation: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListTranslations(ctx context.Context, termID string) ([]Term, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.id, t.term, t.definition, t.language, t.category, t.usage_example, t.transliteration, t.notes, t.status, t.owner_id, t.created_at, t.updated_at
		FROM term_translations tt
		JOIN terms t ON t.id = tt.translated_term_id
		WHERE tt.term_id=$1
		ORDER BY t.language ASC, LOWER(t.term) ASC
	`, termID)
	if err != nil {
		return nil, fmt.Errorf("list translations: %w", err)
	}
	defer rows.Close()

	items := make([]Term, 0)
	for rows.Next() {
		item, err := scanTerm(rows)
		if err != nil {
			return nil, fmt.Errorf("scan translation: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate translations: %w", err)
	}
	return items, nil
}

const applicationSelect = `
	SELECT a.id, a.term_id, a.submitter_id, u.display_name, a.proposed_content::text, a.status,
		a.submitted_at, a.linguist_id, a.admin_id, a.reviewed_at, a.is_edit_for_term_id, a.review,
		(SELECT COUNT(*) FROM application_votes v WHERE v.application_id = a.id) AS crowd_votes
	FROM term_applications a
	JOIN users u ON u.id = a.submitter_id
`

func scanApplication(row interface{ Scan(...any) error }) (TermApplication, error) {
	var item TermApplication
	var proposedRaw string
	err := row.Scan(
		&item.ID,
		&item.TermID,
		&item.SubmitterID,
		&item.SubmitterName,
		&proposedRaw,
		&item.Status,
		&item.SubmittedAt,
		&item.LinguistID,
		&item.AdminID,
		&item.ReviewedAt,
		&item.EditForTermID,
		&item.Review,
		&item.CrowdVotes,
	)
	if err != nil {
		return TermApplication{}, err
	}
	if err := json.Unmarshal([]byte(proposedRaw), &item.Proposed); err != nil {
		return TermApplication{}, fmt.Errorf("decode proposed content: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) GetApplication(ctx context.Context, applicationID string) (TermApplication, error) {
	row := s.db.QueryRowContext(ctx, applicationSelect+` WHERE a.id=$1`, applicationID)
	return scanApplication(row)
}

func (s *PostgresStore) ListApplicationsByStatus(ctx context.Context, statusA, statusB string) ([]TermApplication, error) {
	rows, err := s.db.QueryContext(ctx, applicationSelect+`
		WHERE a.status IN ($1, $2)
		ORDER BY a.submitted_at ASC
	`, statusA, statusB)
	if err != nil {
		return nil, fmt.Errorf("list applications: %w", err)
	}
	defer rows.Close()

	items := make([]TermApplication, 0)
	for rows.Next() {
		item, err := scanApplication(rows)
		if err != nil {
			return nil, fmt.Errorf("scan application: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate applications: %w", err)
	}
	return items, nil
}

// ListTermReviews returns the rejection feedback trail for a term's
// application history, newest first.
func (s *PostgresStore) ListTermReviews(ctx context.Context, termID string) ([]TermReview, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.id, a.review, a.status, COALESCE(r.display_name, ''), a.reviewed_at
		FROM term_applications a
		LEFT JOIN users r ON r.id = COALESCE(a.admin_id, a.linguist_id)
		WHERE (a.term_id=$1 OR a.is_edit_for_term_id=$1) AND a.review <> ''
		ORDER BY a.reviewed_at DESC NULLS LAST
	`, termID)
	if err != nil {
		return nil, fmt.Errorf("list term reviews: %w", err)
	}
	defer rows.Close()

	items := make([]TermReview, 0)
	for rows.Next() {
		var item TermReview
		if err := rows.Scan(&item.ApplicationID, &item.Review, &item.Status, &item.ReviewerName, &item.ReviewedAt); err != nil {
			return nil, fmt.Errorf("scan term review: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate term reviews: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertBookmark(ctx context.Context, bookmark Bookmark) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bookmarks (id, user_id, term_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, term_id) DO NOTHING
	`, bookmark.ID, bookmark.UserID, bookmark.TermID)
	if err != nil {
		return fmt.Errorf("insert bookmark: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteBookmark(ctx context.Context, userID, termID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM bookmarks WHERE user_id=$1 AND term_id=$2`, userID, termID)
	if err != nil {
		return false, fmt.Errorf("delete bookmark: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete bookmark rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) ListBookmarks(ctx context.Context, userID string) ([]Bookmark, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT b.id, b.user_id, b.term_id, t.term, t.language, b.created_at
		FROM bookmarks b
		JOIN terms t ON t.id = b.term_id
		WHERE b.user_id=$1
		ORDER BY b.created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list bookmarks: %w", err)
	}
	defer rows.Close()

	items := make([]Bookmark, 0)
	for rows.Next() {
		var item Bookmark
		if err := rows.Scan(&item.ID, &item.UserID, &item.TermID, &item.TermText, &item.Language, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan bookmark: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bookmarks: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertXPEvent(ctx context.Context, event XPEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO xp_events (user_id, amount, reason, application_id)
		VALUES ($1, $2, $3, $4)
	`, event.UserID, event.Amount, event.Reason, event.ApplicationID)
	if err != nil {
		return fmt.Errorf("insert xp event: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListXPEvents(ctx context.Context, userID string, limit int) ([]XPEvent, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, amount, reason, application_id, created_at
		FROM xp_events
		WHERE user_id=$1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list xp events: %w", err)
	}
	defer rows.Close()

	items := make([]XPEvent, 0)
	for rows.Next() {
		var item XPEvent
		if err := rows.Scan(&item.ID, &item.UserID, &item.Amount, &item.Reason, &item.ApplicationID, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan xp event: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate xp events: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) SumXP(ctx context.Context, userID string) (int, error) {
	var total int
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(amount), 0) FROM xp_events WHERE user_id=$1`, userID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum xp: %w", err)
	}
	return total, nil
}
