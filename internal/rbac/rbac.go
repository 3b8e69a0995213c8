// Package rbac resolves what a caller's role lets them do in the
// review pipeline. Roles come from the users table via the session.
package rbac

type Role string
type Action string

const (
	RoleContributor Role = "contributor"
	RoleLinguist    Role = "linguist"
	RoleAdmin       Role = "admin"
)

const (
	ActionRead           Action = "read"
	ActionSubmit         Action = "submit"
	ActionVote           Action = "vote"
	ActionLinguistReview Action = "linguist_review"
	ActionAdminReview    Action = "admin_review"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleLinguist:
		return action != ActionAdminReview
	case RoleContributor:
		return action == ActionRead || action == ActionSubmit || action == ActionVote
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleContributor, RoleLinguist, RoleAdmin:
		return Role(role)
	default:
		return RoleContributor
	}
}
