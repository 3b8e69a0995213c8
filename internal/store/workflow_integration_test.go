package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"
	"time"

	"glossary/api/internal/util"
)

// These tests run against a real Postgres and exercise the transition
// transactions end to end. They skip in short mode and pick the database
// from TEST_DATABASE_URL or the standard Postgres environment variables.

func openTestStore(t *testing.T) *PostgresStore {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	db, err := Open(ctx, getTestDatabaseURL(t))
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := ApplyMigrations(ctx, db, "../../db/migrations"); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return NewPostgresStore(db)
}

func createTestUser(t *testing.T, s *PostgresStore, role string) User {
	t.Helper()
	ctx := context.Background()
	user := User{
		ID:              util.NewID("usr"),
		DisplayName:     "Test " + role,
		Email:           util.NewID("mail") + "@glossary.test",
		PasswordHash:    "unused",
		Role:            role,
		IsEmailVerified: true,
	}
	if err := s.CreateUser(ctx, user); err != nil {
		t.Fatalf("create %s user: %v", role, err)
	}
	t.Cleanup(func() { scrubUser(s, user.ID) })
	return user
}

// scrubUser removes a test user and every row it owns, in FK order.
func scrubUser(s *PostgresStore, userID string) {
	ctx := context.Background()
	for _, q := range []string{
		`DELETE FROM application_votes WHERE user_id=$1`,
		`DELETE FROM term_applications WHERE submitter_id=$1 OR linguist_id=$1 OR admin_id=$1`,
		`DELETE FROM terms WHERE owner_id=$1`,
		`DELETE FROM users WHERE id=$1`,
	} {
		_, _ = s.DB().ExecContext(ctx, q, userID)
	}
}

func submitNewTerm(t *testing.T, s *PostgresStore, submitterID, name string) (TermApplication, Term) {
	t.Helper()
	ctx := context.Background()

	// The placeholder carries a draft definition distinct from the
	// proposed one so the approval merge is observable.
	term := Term{
		ID:         util.NewID("term"),
		Term:       name,
		Definition: "draft definition",
		Language:   "zu",
		Status:     StatusPendingVerification,
		OwnerID:    submitterID,
	}
	proposedName := name
	proposedDef := "reviewed definition"
	proposedLang := "zu"
	app := TermApplication{
		ID:          util.NewID("app"),
		TermID:      &term.ID,
		SubmitterID: submitterID,
		Proposed: ProposedContent{
			Term:       &proposedName,
			Definition: &proposedDef,
			Language:   &proposedLang,
		},
		Status:      StatusPendingVerification,
		SubmittedAt: time.Now(),
	}
	if err := s.CreateSubmission(ctx, &term, app); err != nil {
		t.Fatalf("create submission: %v", err)
	}
	created, err := s.GetApplication(ctx, app.ID)
	if err != nil {
		t.Fatalf("read back application: %v", err)
	}
	return created, term
}

func TestCastVoteConstraints(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	submitter := createTestUser(t, s, "contributor")
	voter := createTestUser(t, s, "contributor")
	app, _ := submitNewTerm(t, s, submitter.ID, "isivivane")

	if _, err := s.CastVote(ctx, app.ID, submitter.ID, util.NewID("vote"), 2); !errors.Is(err, ErrSelfVote) {
		t.Fatalf("expected ErrSelfVote, got %v", err)
	}

	updated, err := s.CastVote(ctx, app.ID, voter.ID, util.NewID("vote"), 2)
	if err != nil {
		t.Fatalf("first vote failed: %v", err)
	}
	if updated.CrowdVotes != 1 || updated.Status != StatusPendingVerification {
		t.Errorf("after one vote: votes=%d status=%s", updated.CrowdVotes, updated.Status)
	}

	if _, err := s.CastVote(ctx, app.ID, voter.ID, util.NewID("vote"), 2); !errors.Is(err, ErrDuplicateVote) {
		t.Fatalf("expected ErrDuplicateVote, got %v", err)
	}
}

func TestCastVoteThresholdPromotesAndMirrors(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	submitter := createTestUser(t, s, "contributor")
	voterA := createTestUser(t, s, "contributor")
	voterB := createTestUser(t, s, "contributor")
	voterC := createTestUser(t, s, "contributor")
	app, term := submitNewTerm(t, s, submitter.ID, "ukuhlonipha")

	if _, err := s.CastVote(ctx, app.ID, voterA.ID, util.NewID("vote"), 2); err != nil {
		t.Fatalf("vote one: %v", err)
	}
	updated, err := s.CastVote(ctx, app.ID, voterB.ID, util.NewID("vote"), 2)
	if err != nil {
		t.Fatalf("vote two: %v", err)
	}
	if updated.Status != StatusCrowdVerified {
		t.Errorf("expected CROWD_VERIFIED after threshold, got %s", updated.Status)
	}
	if updated.CrowdVotes != 2 {
		t.Errorf("expected 2 crowd votes, got %d", updated.CrowdVotes)
	}

	mirrored, err := s.GetTerm(ctx, term.ID)
	if err != nil {
		t.Fatalf("read placeholder: %v", err)
	}
	if mirrored.Status != StatusCrowdVerified {
		t.Errorf("placeholder not mirrored, status %s", mirrored.Status)
	}

	if _, err := s.CastVote(ctx, app.ID, voterC.ID, util.NewID("vote"), 2); !errors.Is(err, ErrVotingClosed) {
		t.Fatalf("expected ErrVotingClosed after promotion, got %v", err)
	}
}

func TestRejectNewTermDeletesPlaceholderKeepsTrail(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	submitter := createTestUser(t, s, "contributor")
	linguist := createTestUser(t, s, "linguist")
	app, term := submitNewTerm(t, s, submitter.ID, "umlando")

	review := "definition is circular and unusable"
	rejected, deletedTermID, err := s.RejectApplication(ctx, app.ID, linguist.ID, false, review)
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if rejected.Status != StatusRejected {
		t.Errorf("expected REJECTED, got %s", rejected.Status)
	}
	if deletedTermID != term.ID {
		t.Errorf("expected deleted term %s, got %q", term.ID, deletedTermID)
	}
	if _, err := s.GetTerm(ctx, term.ID); !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("placeholder must be gone, got %v", err)
	}

	reviews, err := s.ListTermReviews(ctx, term.ID)
	if err != nil {
		t.Fatalf("list reviews: %v", err)
	}
	if len(reviews) != 1 || reviews[0].Review != review {
		t.Errorf("review trail lost after placeholder deletion: %+v", reviews)
	}
}

func TestApproveMergesContentAndFinalizes(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	submitter := createTestUser(t, s, "contributor")
	linguist := createTestUser(t, s, "linguist")
	admin := createTestUser(t, s, "admin")
	app, placeholder := submitNewTerm(t, s, submitter.ID, "inkululeko")

	verified, err := s.VerifyByLinguist(ctx, app.ID, linguist.ID)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if verified.Status != StatusLinguistVerified {
		t.Errorf("expected LINGUIST_VERIFIED, got %s", verified.Status)
	}
	if verified.LinguistID == nil || *verified.LinguistID != linguist.ID {
		t.Errorf("linguist not stamped: %+v", verified.LinguistID)
	}

	approved, term, err := s.ApproveApplication(ctx, app.ID, admin.ID)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if approved.Status != StatusAdminApproved {
		t.Errorf("expected ADMIN_APPROVED application, got %s", approved.Status)
	}
	if approved.AdminID == nil || *approved.AdminID != admin.ID {
		t.Errorf("admin not stamped: %+v", approved.AdminID)
	}
	if term.Definition != "reviewed definition" || term.Term != "inkululeko" {
		t.Errorf("proposed content not merged: %+v", term)
	}

	published, err := s.GetTerm(ctx, placeholder.ID)
	if err != nil {
		t.Fatalf("read published term: %v", err)
	}
	if published.Status != StatusAdminApproved {
		t.Errorf("term not finalized, status %s", published.Status)
	}

	// Terminal state: every further transition must refuse.
	if _, err := s.VerifyByLinguist(ctx, app.ID, linguist.ID); !errors.Is(err, ErrAlreadyFinalized) {
		t.Errorf("verify after approval: expected ErrAlreadyFinalized, got %v", err)
	}
	if _, _, err := s.RejectApplication(ctx, app.ID, admin.ID, true, "too late to change course"); !errors.Is(err, ErrAlreadyFinalized) {
		t.Errorf("reject after approval: expected ErrAlreadyFinalized, got %v", err)
	}
	if _, err := s.DeleteApplication(ctx, app.ID); !errors.Is(err, ErrAlreadyFinalized) {
		t.Errorf("delete after approval: expected ErrAlreadyFinalized, got %v", err)
	}
	if _, _, err := s.ApproveApplication(ctx, app.ID, admin.ID); !errors.Is(err, ErrAlreadyFinalized) {
		t.Errorf("second approval: expected ErrAlreadyFinalized, got %v", err)
	}
}

// getTestDatabaseURL returns the database URL for testing, preferring
// TEST_DATABASE_URL and falling back to the standard Postgres variables.
func getTestDatabaseURL(t *testing.T) string {
	t.Helper()

	if url := os.Getenv("TEST_DATABASE_URL"); url != "" {
		return url
	}

	host := envOr("POSTGRES_HOST", "localhost")
	port := envOr("POSTGRES_PORT", "5432")
	user := envOr("POSTGRES_USER", "glossary")
	pass := envOr("POSTGRES_PASSWORD", "glossary")
	dbname := envOr("POSTGRES_DB", "glossary_test")

	return "postgres://" + user + ":" + pass + "@" + host + ":" + port + "/" + dbname + "?sslmode=disable"
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
