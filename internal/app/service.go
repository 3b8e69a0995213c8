package app

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"glossary/api/internal/auth"
	"glossary/api/internal/authpw"
	"glossary/api/internal/config"
	"glossary/api/internal/email"
	"glossary/api/internal/media"
	"glossary/api/internal/rbac"
	"glossary/api/internal/search"
	"glossary/api/internal/store"
	"glossary/api/internal/util"
	"glossary/api/internal/xp"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Role         string
	JTI          string
	ExpiresAt    time.Time
}

// SubmitTermInput carries a new-term submission or an edit proposal.
// For edits only the non-empty fields become part of the patch.
type SubmitTermInput struct {
	Term            string `json:"term"`
	Definition      string `json:"definition"`
	Language        string `json:"language"`
	Category        string `json:"category"`
	UsageExample    string `json:"usageExample"`
	Transliteration string `json:"transliteration"`
	Notes           string `json:"notes"`
	EditForTermID   string `json:"editForTermId"`
}

type ReviewInput struct {
	Review string `json:"review"`
}

type dataStore interface {
	GetUserByID(context.Context, string) (store.User, error)
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)

	GetTerm(context.Context, string) (store.Term, error)
	FindTermByNameAndLanguage(context.Context, string, string) (store.Term, error)
	ListTerms(context.Context, string, int) ([]store.Term, error)
	LinkTranslation(context.Context, string, string) error
	ListTranslations(context.Context, string) ([]store.Term, error)

	CreateSubmission(context.Context, *store.Term, store.TermApplication) error
	GetApplication(context.Context, string) (store.TermApplication, error)
	ListApplicationsByStatus(context.Context, string, string) ([]store.TermApplication, error)
	CastVote(context.Context, string, string, string, int) (store.TermApplication, error)
	VerifyByLinguist(context.Context, string, string) (store.TermApplication, error)
	RejectApplication(context.Context, string, string, bool, string) (store.TermApplication, string, error)
	ApproveApplication(context.Context, string, string) (store.TermApplication, store.Term, error)
	DeleteApplication(context.Context, string) (string, error)
	ListTermReviews(context.Context, string) ([]store.TermReview, error)

	InsertBookmark(context.Context, store.Bookmark) error
	DeleteBookmark(context.Context, string, string) (bool, error)
	ListBookmarks(context.Context, string) ([]store.Bookmark, error)

	Ping(ctx context.Context) error
}

// refreshStore holds refresh tokens. Redis-backed in production, the
// Postgres store serves as a fallback when Redis is not configured.
type refreshStore interface {
	SaveRefreshSession(context.Context, string, string, time.Time) error
	LookupRefreshSession(context.Context, string) (store.User, error)
	RevokeRefreshSession(context.Context, string) error
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions refreshStore
	authpw   *authpw.Service
	email    *email.Service
	search   *search.Service
	media    *media.Service
	xp       *xp.Service
}

// New wires the application service. email, search, media, and xp may be
// nil; the corresponding features degrade to no-ops.
func New(cfg config.Config, dataStore *store.PostgresStore, sessions refreshStore, authService *authpw.Service, emailService *email.Service, searchService *search.Service, mediaService *media.Service, xpService *xp.Service) *Service {
	if sessions == nil {
		sessions = dataStore
	}
	return &Service{
		cfg:      cfg,
		store:    dataStore,
		sessions: sessions,
		authpw:   authService,
		email:    emailService,
		search:   searchService,
		media:    mediaService,
		xp:       xpService,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) AuthPasswordService() *authpw.Service {
	return s.authpw
}

func (s *Service) MediaService() *media.Service {
	return s.media
}

func (s *Service) SMTPConfigured() bool {
	return s.email != nil && s.email.IsConfigured()
}

// SendVerificationEmail mails the signup verification link (fire-and-forget).
func (s *Service) SendVerificationEmail(to, userName, token string) {
	if !s.SMTPConfigured() {
		return
	}
	url := s.cfg.AppBaseURL + "/verify-email?token=" + token
	go func() {
		if err := s.email.SendVerificationEmail(to, userName, url); err != nil {
			log.Printf("app: send verification email: %v", err)
		}
	}()
}

// SendPasswordResetEmail mails the password reset link (fire-and-forget).
func (s *Service) SendPasswordResetEmail(to, token string) {
	if !s.SMTPConfigured() {
		return
	}
	url := s.cfg.AppBaseURL + "/reset-password?token=" + token
	go func() {
		if err := s.email.SendPasswordResetEmail(to, to, url); err != nil {
			log.Printf("app: send password reset email: %v", err)
		}
	}()
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

// CreateSession issues tokens for an already-authenticated user.
func (s *Service) CreateSession(ctx context.Context, userID string) (Session, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	holder, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	// The refresh record carries only the user id; role and name are
	// re-read so a role change takes effect on the next refresh.
	user, err := s.store.GetUserByID(ctx, holder.ID)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.DisplayName,
		Role: user.Role,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		Role:         user.Role,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		Role:      user.Role,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

// --- Term application workflow ---

// SubmitTerm validates the proposal once and creates the application.
// New-term submissions also create the placeholder Term in the same
// transaction; edit proposals never touch the target term here.
func (s *Service) SubmitTerm(ctx context.Context, session Session, input SubmitTermInput) (store.TermApplication, error) {
	if !s.Can(session.Role, rbac.ActionSubmit) {
		return store.TermApplication{}, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}

	input.Term = strings.TrimSpace(input.Term)
	input.Language = strings.TrimSpace(input.Language)
	isEdit := strings.TrimSpace(input.EditForTermID) != ""

	proposed := proposedFromInput(input)
	if isEdit {
		if proposed == (store.ProposedContent{}) {
			return store.TermApplication{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "edit proposal must change at least one field", nil)
		}
		if _, err := s.store.GetTerm(ctx, input.EditForTermID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return store.TermApplication{}, domainError(http.StatusNotFound, "NOT_FOUND", "target term not found", nil)
			}
			return store.TermApplication{}, err
		}
	} else {
		if input.Term == "" || input.Language == "" {
			return store.TermApplication{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "term and language are required", nil)
		}
		if existing, err := s.store.FindTermByNameAndLanguage(ctx, input.Term, input.Language); err == nil {
			return store.TermApplication{}, domainError(http.StatusConflict, "DUPLICATE_TERM", "term already exists in this language", map[string]any{"termId": existing.ID})
		} else if !errors.Is(err, sql.ErrNoRows) {
			return store.TermApplication{}, err
		}
	}

	now := time.Now()
	app := store.TermApplication{
		ID:          util.NewID("app"),
		SubmitterID: session.UserID,
		Proposed:    proposed,
		Status:      store.StatusPendingVerification,
		SubmittedAt: now,
	}
	if isEdit {
		app.EditForTermID = &input.EditForTermID
	}

	// Linguists (and admins) skip crowd verification: their submissions
	// start LINGUIST_VERIFIED with the submitter recorded as verifier.
	if s.Can(session.Role, rbac.ActionLinguistReview) {
		app.Status = store.StatusLinguistVerified
		linguistID := session.UserID
		app.LinguistID = &linguistID
		app.ReviewedAt = &now
	}

	var placeholder *store.Term
	if !isEdit {
		term := store.Term{
			ID:              util.NewID("term"),
			Term:            input.Term,
			Definition:      input.Definition,
			Language:        input.Language,
			Category:        input.Category,
			UsageExample:    input.UsageExample,
			Transliteration: input.Transliteration,
			Notes:           input.Notes,
			Status:          app.Status,
			OwnerID:         session.UserID,
		}
		placeholder = &term
		app.TermID = &term.ID
	}

	if err := s.store.CreateSubmission(ctx, placeholder, app); err != nil {
		return store.TermApplication{}, err
	}
	return s.store.GetApplication(ctx, app.ID)
}

func proposedFromInput(input SubmitTermInput) store.ProposedContent {
	var p store.ProposedContent
	setIfPresent := func(target **string, value string) {
		if strings.TrimSpace(value) != "" {
			v := value
			*target = &v
		}
	}
	setIfPresent(&p.Term, input.Term)
	setIfPresent(&p.Definition, input.Definition)
	setIfPresent(&p.Language, input.Language)
	setIfPresent(&p.Category, input.Category)
	setIfPresent(&p.UsageExample, input.UsageExample)
	setIfPresent(&p.Transliteration, input.Transliteration)
	setIfPresent(&p.Notes, input.Notes)
	return p
}

// VoteApplication casts a crowd vote; the store promotes the application
// when the threshold is reached.
func (s *Service) VoteApplication(ctx context.Context, session Session, applicationID string) (store.TermApplication, error) {
	if !s.Can(session.Role, rbac.ActionVote) {
		return store.TermApplication{}, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}

	app, err := s.store.CastVote(ctx, applicationID, session.UserID, util.NewID("vote"), s.cfg.VoteThreshold)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrSelfVote):
			return store.TermApplication{}, domainError(http.StatusBadRequest, "SELF_VOTE", "submitter cannot vote on own application", nil)
		case errors.Is(err, store.ErrDuplicateVote):
			return store.TermApplication{}, domainError(http.StatusBadRequest, "DUPLICATE_VOTE", "vote already cast", nil)
		case errors.Is(err, store.ErrVotingClosed):
			return store.TermApplication{}, domainError(http.StatusBadRequest, "VOTING_CLOSED", "application is no longer accepting votes", nil)
		}
		return store.TermApplication{}, err
	}

	if s.xp != nil {
		if err := s.xp.Award(ctx, session.UserID, xp.AmountVoteCast, xp.ReasonVoteCast, applicationID); err != nil {
			log.Printf("app: award vote xp: %v", err)
		}
	}
	return app, nil
}

// ListPendingVerification returns the linguist review queue.
func (s *Service) ListPendingVerification(ctx context.Context, session Session) ([]store.TermApplication, error) {
	if !s.Can(session.Role, rbac.ActionLinguistReview) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	return s.store.ListApplicationsByStatus(ctx, store.StatusPendingVerification, store.StatusCrowdVerified)
}

// ListPendingAdminVerification returns the admin approval queue.
func (s *Service) ListPendingAdminVerification(ctx context.Context, session Session) ([]store.TermApplication, error) {
	if !s.Can(session.Role, rbac.ActionAdminReview) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	return s.store.ListApplicationsByStatus(ctx, store.StatusCrowdVerified, store.StatusLinguistVerified)
}

func (s *Service) GetApplication(ctx context.Context, applicationID string) (store.TermApplication, error) {
	return s.store.GetApplication(ctx, applicationID)
}

// LinguistVerify marks an application linguist-verified.
func (s *Service) LinguistVerify(ctx context.Context, session Session, applicationID string) (store.TermApplication, error) {
	if !s.Can(session.Role, rbac.ActionLinguistReview) {
		return store.TermApplication{}, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}

	app, err := s.store.VerifyByLinguist(ctx, applicationID, session.UserID)
	if err != nil {
		return store.TermApplication{}, mapWorkflowError(err)
	}
	return app, nil
}

// LinguistReject finalizes a linguist rejection. The review is required
// and validated before any state is touched.
func (s *Service) LinguistReject(ctx context.Context, session Session, applicationID, review string) (store.TermApplication, error) {
	if !s.Can(session.Role, rbac.ActionLinguistReview) {
		return store.TermApplication{}, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	review, err := validateReview(review)
	if err != nil {
		return store.TermApplication{}, err
	}

	app, deletedTermID, err := s.store.RejectApplication(ctx, applicationID, session.UserID, false, review)
	if err != nil {
		return store.TermApplication{}, mapWorkflowError(err)
	}
	s.afterRejection(ctx, app, deletedTermID)
	return app, nil
}

// AdminApprove merges the proposal into the dictionary.
func (s *Service) AdminApprove(ctx context.Context, session Session, applicationID string) (store.TermApplication, error) {
	if !s.Can(session.Role, rbac.ActionAdminReview) {
		return store.TermApplication{}, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}

	app, term, err := s.store.ApproveApplication(ctx, applicationID, session.UserID)
	if err != nil {
		return store.TermApplication{}, mapWorkflowError(err)
	}

	if s.search != nil {
		s.search.IndexTerm(search.TermRecord{
			ID:              term.ID,
			Term:            term.Term,
			Definition:      term.Definition,
			Language:        term.Language,
			Category:        term.Category,
			UsageExample:    term.UsageExample,
			Transliteration: term.Transliteration,
		})
	}
	if s.xp != nil {
		if err := s.xp.Award(ctx, app.SubmitterID, xp.AmountTermApproved, xp.ReasonTermApproved, app.ID); err != nil {
			log.Printf("app: award approval xp: %v", err)
		}
	}
	s.notifyDecision(ctx, app, term.Term, term.Language, "")
	return app, nil
}

// AdminReject finalizes an admin rejection from any non-terminal status.
func (s *Service) AdminReject(ctx context.Context, session Session, applicationID, review string) (store.TermApplication, error) {
	if !s.Can(session.Role, rbac.ActionAdminReview) {
		return store.TermApplication{}, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	review, err := validateReview(review)
	if err != nil {
		return store.TermApplication{}, err
	}

	app, deletedTermID, err := s.store.RejectApplication(ctx, applicationID, session.UserID, true, review)
	if err != nil {
		return store.TermApplication{}, mapWorkflowError(err)
	}
	s.afterRejection(ctx, app, deletedTermID)
	return app, nil
}

// DeleteApplication withdraws an application. Submitter or admin only;
// silent, no review recorded.
func (s *Service) DeleteApplication(ctx context.Context, session Session, applicationID string) error {
	app, err := s.store.GetApplication(ctx, applicationID)
	if err != nil {
		return err
	}
	isAdmin := s.Can(session.Role, rbac.ActionAdminReview)
	if app.SubmitterID != session.UserID && !isAdmin {
		return domainError(http.StatusForbidden, "FORBIDDEN", "only the submitter or an admin may delete an application", nil)
	}

	deletedTermID, err := s.store.DeleteApplication(ctx, applicationID)
	if err != nil {
		return mapWorkflowError(err)
	}
	if deletedTermID != "" && s.search != nil {
		s.search.DeleteTerm(deletedTermID)
	}
	return nil
}

func validateReview(review string) (string, error) {
	review = strings.TrimSpace(review)
	if utf8.RuneCountInString(review) < 10 {
		return "", domainError(http.StatusUnprocessableEntity, "REVIEW_TOO_SHORT", "review must be at least 10 characters", nil)
	}
	return review, nil
}

func mapWorkflowError(err error) error {
	switch {
	case errors.Is(err, store.ErrAlreadyFinalized):
		return domainError(http.StatusBadRequest, "ALREADY_FINALIZED", "application already finalized", nil)
	case errors.Is(err, store.ErrWrongStatus):
		return domainError(http.StatusBadRequest, "WRONG_STATUS", "application is not in a valid status for this transition", nil)
	}
	return err
}

func (s *Service) afterRejection(ctx context.Context, app store.TermApplication, deletedTermID string) {
	if deletedTermID != "" && s.search != nil {
		s.search.DeleteTerm(deletedTermID)
	}
	termName, language := s.describeApplication(ctx, app)
	s.notifyDecision(ctx, app, termName, language, app.Review)
}

func (s *Service) describeApplication(ctx context.Context, app store.TermApplication) (string, string) {
	if app.Proposed.Term != nil {
		language := ""
		if app.Proposed.Language != nil {
			language = *app.Proposed.Language
		}
		return *app.Proposed.Term, language
	}
	if app.EditForTermID != nil {
		if term, err := s.store.GetTerm(ctx, *app.EditForTermID); err == nil {
			return term.Term, term.Language
		}
	}
	return "", ""
}

// notifyDecision emails the submitter about an approval (empty review)
// or rejection. Failures only log; the transition already committed.
func (s *Service) notifyDecision(ctx context.Context, app store.TermApplication, termName, language, review string) {
	if s.email == nil || !s.email.IsConfigured() {
		return
	}
	submitter, err := s.store.GetUserByID(ctx, app.SubmitterID)
	if err != nil {
		log.Printf("app: load submitter for notification: %v", err)
		return
	}
	go func() {
		var err error
		if review == "" {
			err = s.email.SendApplicationApprovedEmail(submitter.Email, submitter.DisplayName, termName, language)
		} else {
			err = s.email.SendApplicationRejectedEmail(submitter.Email, submitter.DisplayName, termName, language, review)
		}
		if err != nil {
			log.Printf("app: send decision email: %v", err)
		}
	}()
}

// --- Catalog reads ---

func (s *Service) GetTerm(ctx context.Context, termID string) (store.Term, error) {
	return s.store.GetTerm(ctx, termID)
}

func (s *Service) ListTerms(ctx context.Context, language string, limit int) ([]store.Term, error) {
	return s.store.ListTerms(ctx, language, limit)
}

func (s *Service) TermReviews(ctx context.Context, termID string) ([]store.TermReview, error) {
	if _, err := s.store.GetTerm(ctx, termID); err != nil {
		// Rejected new-term placeholders are deleted, but their review
		// trail remains addressable by the old term id.
		reviews, listErr := s.store.ListTermReviews(ctx, termID)
		if listErr != nil || len(reviews) == 0 {
			return nil, err
		}
		return reviews, nil
	}
	return s.store.ListTermReviews(ctx, termID)
}

func (s *Service) ListTranslations(ctx context.Context, termID string) ([]store.Term, error) {
	if _, err := s.store.GetTerm(ctx, termID); err != nil {
		return nil, err
	}
	return s.store.ListTranslations(ctx, termID)
}

// LinkTranslation records a symmetric translation pair between two
// published terms.
func (s *Service) LinkTranslation(ctx context.Context, session Session, termID, translatedTermID string) error {
	if !s.Can(session.Role, rbac.ActionLinguistReview) {
		return domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	if termID == translatedTermID {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "a term cannot translate itself", nil)
	}
	for _, id := range []string{termID, translatedTermID} {
		term, err := s.store.GetTerm(ctx, id)
		if err != nil {
			return err
		}
		if term.Status != store.StatusAdminApproved {
			return domainError(http.StatusConflict, "WRONG_STATUS", "only published terms can be linked", nil)
		}
	}
	return s.store.LinkTranslation(ctx, termID, translatedTermID)
}

// --- Search ---

func (s *Service) Search(ctx context.Context, text, language, category string, limit, offset int) (search.Response, error) {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: text}, nil
	}
	return s.search.Search(search.Query{
		Text:           text,
		FilterLanguage: language,
		FilterCategory: category,
		Limit:          limit,
		Offset:         offset,
	}), nil
}

// --- Bookmarks ---

func (s *Service) AddBookmark(ctx context.Context, session Session, termID string) (store.Bookmark, error) {
	term, err := s.store.GetTerm(ctx, termID)
	if err != nil {
		return store.Bookmark{}, err
	}
	bookmark := store.Bookmark{
		ID:     util.NewID("bmk"),
		UserID: session.UserID,
		TermID: term.ID,
	}
	if err := s.store.InsertBookmark(ctx, bookmark); err != nil {
		return store.Bookmark{}, err
	}
	bookmark.TermText = term.Term
	bookmark.Language = term.Language
	return bookmark, nil
}

func (s *Service) RemoveBookmark(ctx context.Context, session Session, termID string) error {
	removed, err := s.store.DeleteBookmark(ctx, session.UserID, termID)
	if err != nil {
		return err
	}
	if !removed {
		return domainError(http.StatusNotFound, "NOT_FOUND", "bookmark not found", nil)
	}
	return nil
}

func (s *Service) ListBookmarks(ctx context.Context, session Session) ([]store.Bookmark, error) {
	return s.store.ListBookmarks(ctx, session.UserID)
}

// --- XP ---

type XPSummary struct {
	Balance int             `json:"balance"`
	Recent  []store.XPEvent `json:"recent"`
}

func (s *Service) XPSummary(ctx context.Context, session Session) (XPSummary, error) {
	if s.xp == nil {
		return XPSummary{Recent: []store.XPEvent{}}, nil
	}
	balance, err := s.xp.Balance(ctx, session.UserID)
	if err != nil {
		return XPSummary{}, err
	}
	recent, err := s.xp.Recent(ctx, session.UserID, 20)
	if err != nil {
		return XPSummary{}, err
	}
	if recent == nil {
		recent = []store.XPEvent{}
	}
	return XPSummary{Balance: balance, Recent: recent}, nil
}
