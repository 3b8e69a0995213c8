package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// Workflow preconditions surfaced to the service layer. Each transition
// runs inside one transaction holding a row lock on the application, so
// the status checked here is the status at commit time.
var (
	ErrSelfVote         = errors.New("submitter cannot vote on own application")
	ErrDuplicateVote    = errors.New("vote already cast")
	ErrVotingClosed     = errors.New("voting window closed")
	ErrAlreadyFinalized = errors.New("application already finalized")
	ErrWrongStatus      = errors.New("invalid status for transition")
)

// lockedApplication is the subset of the row read under FOR UPDATE.
type lockedApplication struct {
	ID            string
	TermID        *string
	SubmitterID   string
	Status        string
	EditForTermID *string
	Proposed      ProposedContent
}

func lockApplication(ctx context.Context, tx *sql.Tx, applicationID string) (lockedApplication, error) {
	var item lockedApplication
	var proposedRaw string
	err := tx.QueryRowContext(ctx, `
		SELECT id, term_id, submitter_id, status, is_edit_for_term_id, proposed_content::text
		FROM term_applications
		WHERE id=$1
		FOR UPDATE
	`, applicationID).Scan(&item.ID, &item.TermID, &item.SubmitterID, &item.Status, &item.EditForTermID, &proposedRaw)
	if err != nil {
		return lockedApplication{}, err
	}
	if err := json.Unmarshal([]byte(proposedRaw), &item.Proposed); err != nil {
		return lockedApplication{}, fmt.Errorf("decode proposed content: %w", err)
	}
	return item, nil
}

func (a lockedApplication) isEdit() bool {
	return a.EditForTermID != nil
}

// mirrorTermStatus copies an application status onto its placeholder
// term. Only new-term applications mirror; edits leave the published
// term alone until approval.
func mirrorTermStatus(ctx context.Context, tx *sql.Tx, app lockedApplication, status string) error {
	if app.isEdit() || app.TermID == nil {
		return nil
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE terms SET status=$2, updated_at=NOW() WHERE id=$1
	`, *app.TermID, status); err != nil {
		return fmt.Errorf("mirror term status: %w", err)
	}
	return nil
}

// CreateSubmission inserts the application and, for new terms, its
// placeholder term in one transaction.
func (s *PostgresStore) CreateSubmission(ctx context.Context, placeholder *Term, app TermApplication) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin submission tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if placeholder != nil {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO terms (id, term, definition, language, category, usage_example, transliteration, notes, status, owner_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`, placeholder.ID, placeholder.Term, placeholder.Definition, placeholder.Language, placeholder.Category,
			placeholder.UsageExample, placeholder.Transliteration, placeholder.Notes, placeholder.Status, placeholder.OwnerID); err != nil {
			return fmt.Errorf("insert placeholder term: %w", err)
		}
	}

	proposed, err := json.Marshal(app.Proposed)
	if err != nil {
		return fmt.Errorf("encode proposed content: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO term_applications (id, term_id, submitter_id, proposed_content, status, linguist_id, reviewed_at, is_edit_for_term_id)
		VALUES ($1, $2, $3, $4::jsonb, $5, $6, $7, $8)
	`, app.ID, app.TermID, app.SubmitterID, string(proposed), app.Status, app.LinguistID, app.ReviewedAt, app.EditForTermID); err != nil {
		return fmt.Errorf("insert application: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit submission: %w", err)
	}
	return nil
}

// CastVote records a crowd vote and, when the count reaches the
// threshold, promotes the application to CROWD_VERIFIED in the same
// transaction. The row lock serializes concurrent voters so only one
// promotion fires.
func (s *PostgresStore) CastVote(ctx context.Context, applicationID, voterID, voteID string, threshold int) (TermApplication, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return TermApplication{}, fmt.Errorf("begin vote tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	app, err := lockApplication(ctx, tx, applicationID)
	if err != nil {
		return TermApplication{}, err
	}
	if app.Status != StatusPendingVerification {
		return TermApplication{}, ErrVotingClosed
	}
	if app.SubmitterID == voterID {
		return TermApplication{}, ErrSelfVote
	}

	var exists bool
	if err := tx.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM application_votes WHERE application_id=$1 AND user_id=$2)
	`, applicationID, voterID).Scan(&exists); err != nil {
		return TermApplication{}, fmt.Errorf("check existing vote: %w", err)
	}
	if exists {
		return TermApplication{}, ErrDuplicateVote
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO application_votes (id, application_id, user_id)
		VALUES ($1, $2, $3)
	`, voteID, applicationID, voterID); err != nil {
		return TermApplication{}, fmt.Errorf("insert vote: %w", err)
	}

	var count int
	if err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM application_votes WHERE application_id=$1
	`, applicationID).Scan(&count); err != nil {
		return TermApplication{}, fmt.Errorf("count votes: %w", err)
	}

	if count >= threshold {
		if _, err := tx.ExecContext(ctx, `
			UPDATE term_applications SET status=$2 WHERE id=$1 AND status=$3
		`, applicationID, StatusCrowdVerified, StatusPendingVerification); err != nil {
			return TermApplication{}, fmt.Errorf("promote application: %w", err)
		}
		if err := mirrorTermStatus(ctx, tx, app, StatusCrowdVerified); err != nil {
			return TermApplication{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return TermApplication{}, fmt.Errorf("commit vote: %w", err)
	}
	return s.GetApplication(ctx, applicationID)
}

// VerifyByLinguist moves PENDING_VERIFICATION or CROWD_VERIFIED to
// LINGUIST_VERIFIED, stamping the verifying linguist.
func (s *PostgresStore) VerifyByLinguist(ctx context.Context, applicationID, linguistID string) (TermApplication, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return TermApplication{}, fmt.Errorf("begin verify tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	app, err := lockApplication(ctx, tx, applicationID)
	if err != nil {
		return TermApplication{}, err
	}
	switch app.Status {
	case StatusPendingVerification, StatusCrowdVerified:
	case StatusAdminApproved:
		return TermApplication{}, ErrAlreadyFinalized
	default:
		return TermApplication{}, ErrWrongStatus
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE term_applications SET status=$2, linguist_id=$3, reviewed_at=NOW() WHERE id=$1
	`, applicationID, StatusLinguistVerified, linguistID); err != nil {
		return TermApplication{}, fmt.Errorf("verify application: %w", err)
	}
	if err := mirrorTermStatus(ctx, tx, app, StatusLinguistVerified); err != nil {
		return TermApplication{}, err
	}

	if err := tx.Commit(); err != nil {
		return TermApplication{}, fmt.Errorf("commit verify: %w", err)
	}
	return s.GetApplication(ctx, applicationID)
}

// RejectApplication finalizes a rejection. New-term placeholders are
// deleted rather than status-mirrored; the returned string is the
// deleted term's id, empty when the target was a published term.
// Linguists may only reject before linguist verification; admins may
// reject from any non-terminal status.
func (s *PostgresStore) RejectApplication(ctx context.Context, applicationID, reviewerID string, asAdmin bool, review string) (TermApplication, string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return TermApplication{}, "", fmt.Errorf("begin reject tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	app, err := lockApplication(ctx, tx, applicationID)
	if err != nil {
		return TermApplication{}, "", err
	}
	switch app.Status {
	case StatusAdminApproved:
		return TermApplication{}, "", ErrAlreadyFinalized
	case StatusRejected:
		return TermApplication{}, "", ErrWrongStatus
	}
	if !asAdmin && app.Status != StatusPendingVerification && app.Status != StatusCrowdVerified {
		return TermApplication{}, "", ErrWrongStatus
	}

	reviewerColumn := "linguist_id"
	if asAdmin {
		reviewerColumn = "admin_id"
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE term_applications SET status=$2, `+reviewerColumn+`=$3, review=$4, reviewed_at=NOW() WHERE id=$1
	`, applicationID, StatusRejected, reviewerID, review); err != nil {
		return TermApplication{}, "", fmt.Errorf("reject application: %w", err)
	}

	deletedTermID := ""
	if !app.isEdit() && app.TermID != nil {
		if _, err := tx.ExecContext(ctx, `DELETE FROM terms WHERE id=$1`, *app.TermID); err != nil {
			return TermApplication{}, "", fmt.Errorf("discard placeholder term: %w", err)
		}
		deletedTermID = *app.TermID
	}

	if err := tx.Commit(); err != nil {
		return TermApplication{}, "", fmt.Errorf("commit reject: %w", err)
	}
	updated, err := s.GetApplication(ctx, applicationID)
	if err != nil {
		return TermApplication{}, "", err
	}
	return updated, deletedTermID, nil
}

// ApproveApplication merges the proposed content onto the target term,
// marks both rows ADMIN_APPROVED, and stamps the approving admin — all
// in one transaction so term and application can never diverge.
func (s *PostgresStore) ApproveApplication(ctx context.Context, applicationID, adminID string) (TermApplication, Term, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return TermApplication{}, Term{}, fmt.Errorf("begin approve tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	app, err := lockApplication(ctx, tx, applicationID)
	if err != nil {
		return TermApplication{}, Term{}, err
	}
	switch app.Status {
	case StatusCrowdVerified, StatusLinguistVerified:
	case StatusAdminApproved:
		return TermApplication{}, Term{}, ErrAlreadyFinalized
	default:
		return TermApplication{}, Term{}, ErrWrongStatus
	}

	targetID := app.TermID
	if app.isEdit() {
		targetID = app.EditForTermID
	}
	if targetID == nil {
		return TermApplication{}, Term{}, fmt.Errorf("application %s has no target term", applicationID)
	}

	term, err := scanTerm(tx.QueryRowContext(ctx, `SELECT `+termColumns+` FROM terms WHERE id=$1 FOR UPDATE`, *targetID))
	if err != nil {
		return TermApplication{}, Term{}, fmt.Errorf("lock target term: %w", err)
	}

	app.Proposed.ApplyTo(&term)
	term.Status = StatusAdminApproved
	if _, err := tx.ExecContext(ctx, `
		UPDATE terms
		SET term=$2, definition=$3, language=$4, category=$5, usage_example=$6, transliteration=$7, notes=$8, status=$9, updated_at=NOW()
		WHERE id=$1
	`, term.ID, term.Term, term.Definition, term.Language, term.Category, term.UsageExample, term.Transliteration, term.Notes, term.Status); err != nil {
		return TermApplication{}, Term{}, fmt.Errorf("merge term content: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE term_applications SET status=$2, admin_id=$3, reviewed_at=NOW() WHERE id=$1
	`, applicationID, StatusAdminApproved, adminID); err != nil {
		return TermApplication{}, Term{}, fmt.Errorf("approve application: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return TermApplication{}, Term{}, fmt.Errorf("commit approve: %w", err)
	}
	updated, err := s.GetApplication(ctx, applicationID)
	if err != nil {
		return TermApplication{}, Term{}, err
	}
	return updated, term, nil
}

// DeleteApplication removes an application (a user action distinct from
// rejection) and, for new-term submissions, its placeholder term. Only
// non-terminal applications may be deleted.
func (s *PostgresStore) DeleteApplication(ctx context.Context, applicationID string) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin delete tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	app, err := lockApplication(ctx, tx, applicationID)
	if err != nil {
		return "", err
	}
	switch app.Status {
	case StatusAdminApproved:
		return "", ErrAlreadyFinalized
	case StatusRejected:
		return "", ErrWrongStatus
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM term_applications WHERE id=$1`, applicationID); err != nil {
		return "", fmt.Errorf("delete application: %w", err)
	}

	deletedTermID := ""
	if !app.isEdit() && app.TermID != nil {
		if _, err := tx.ExecContext(ctx, `DELETE FROM terms WHERE id=$1`, *app.TermID); err != nil {
			return "", fmt.Errorf("delete placeholder term: %w", err)
		}
		deletedTermID = *app.TermID
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit delete: %w", err)
	}
	return deletedTermID, nil
}
