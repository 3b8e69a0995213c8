package store

import "time"

// Application (and mirrored placeholder Term) statuses. DRAFT exists in
// the enum but no transition produces it.
const (
	StatusDraft               = "DRAFT"
	StatusPendingVerification = "PENDING_VERIFICATION"
	StatusCrowdVerified       = "CROWD_VERIFIED"
	StatusLinguistVerified    = "LINGUIST_VERIFIED"
	StatusAdminApproved       = "ADMIN_APPROVED"
	StatusRejected            = "REJECTED"
)

type User struct {
	ID                    string
	DisplayName           string
	Email                 string
	PasswordHash          string
	Role                  string
	IsEmailVerified       bool
	VerificationToken     string
	VerificationExpiresAt *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Term is a canonical dictionary entry. Status is ADMIN_APPROVED only
// once the owning application has passed the full pipeline; any other
// status mirrors an in-flight application.
type Term struct {
	ID              string
	Term            string
	Definition      string
	Language        string
	Category        string
	UsageExample    string
	Transliteration string
	Notes           string
	Status          string
	OwnerID         string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ProposedContent is the typed patch a submitter wants applied to a
// Term. Every field is optional; it is validated once at submission and
// merged field-wise by the synchronizer on approval.
type ProposedContent struct {
	Term            *string `json:"term,omitempty"`
	Definition      *string `json:"definition,omitempty"`
	Language        *string `json:"language,omitempty"`
	Category        *string `json:"category,omitempty"`
	UsageExample    *string `json:"usageExample,omitempty"`
	Transliteration *string `json:"transliteration,omitempty"`
	Notes           *string `json:"notes,omitempty"`
}

// ApplyTo merges every present field onto the target term.
func (p ProposedContent) ApplyTo(t *Term) {
	if p.Term != nil {
		t.Term = *p.Term
	}
	if p.Definition != nil {
		t.Definition = *p.Definition
	}
	if p.Language != nil {
		t.Language = *p.Language
	}
	if p.Category != nil {
		t.Category = *p.Category
	}
	if p.UsageExample != nil {
		t.UsageExample = *p.UsageExample
	}
	if p.Transliteration != nil {
		t.Transliteration = *p.Transliteration
	}
	if p.Notes != nil {
		t.Notes = *p.Notes
	}
}

// TermApplication is one review ticket moving through the state machine.
type TermApplication struct {
	ID            string
	TermID        *string
	SubmitterID   string
	SubmitterName string
	Proposed      ProposedContent
	Status        string
	SubmittedAt   time.Time
	LinguistID    *string
	AdminID       *string
	ReviewedAt    *time.Time
	EditForTermID *string
	Review        string
	// Derived at read time, never stored on the row.
	CrowdVotes int
}

// IsEdit reports whether this application proposes changes to an
// already-published term rather than a new one.
func (a TermApplication) IsEdit() bool {
	return a.EditForTermID != nil
}

type ApplicationVote struct {
	ID            string
	ApplicationID string
	UserID        string
	CreatedAt     time.Time
}

// TermReview is one piece of rejection feedback in a term's application
// history.
type TermReview struct {
	ApplicationID string
	Review        string
	Status        string
	ReviewerName  string
	ReviewedAt    *time.Time
}

type Bookmark struct {
	ID        string
	UserID    string
	TermID    string
	TermText  string
	Language  string
	CreatedAt time.Time
}

type XPEvent struct {
	ID            int64
	UserID        string
	Amount        int
	Reason        string
	ApplicationID string
	CreatedAt     time.Time
}
