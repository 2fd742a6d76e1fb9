package rbac

type Role string
type Action string

const (
	RoleViewer   Role = "viewer"
	RoleReviewer Role = "reviewer"
	RoleEditor   Role = "editor"
	RoleAdmin    Role = "admin"
)

const (
	// ActionHistory reads a document's analysis run log.
	ActionHistory Action = "history"
	// ActionCheck runs a one-shot check.
	ActionCheck Action = "check"
	// ActionEdit opens a live sync session.
	ActionEdit Action = "edit"
	// ActionAdmin lists every live session.
	ActionAdmin Action = "admin"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleEditor:
		return action == ActionHistory || action == ActionCheck || action == ActionEdit
	case RoleReviewer:
		return action == ActionHistory || action == ActionCheck
	case RoleViewer:
		return action == ActionHistory
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleViewer, RoleReviewer, RoleEditor, RoleAdmin:
		return Role(role)
	default:
		return RoleViewer
	}
}
