package notes

import "github.com/scriptoriumlab/scribe/backend/internal/users"

// Capability is an action a caller may request against a note.
type Capability string

const (
	CapabilityView                Capability = "view"
	CapabilityEdit                Capability = "edit"
	CapabilityDelete              Capability = "delete"
	CapabilityShare               Capability = "share"
	CapabilityManageCollaborators Capability = "manage-collaborators"
)

// Caller identifies the authenticated user requesting an operation.
type Caller struct {
	UserID string
	Role   users.Role
}

// Decide is the single permission check consulted by every facade operation.
// Rules, in precedence order: the owner may do everything; a non-owner may
// view a note they hold a grant on; a non-owner may edit only with an editor
// grant; delete, share, and collaborator management are owner-only regardless
// of grant level. grant is nil when the caller holds none.
//
// A public note is readable by anyone, but only through its opaque public
// identifier; the public flag never widens id-addressed access, so a denied
// note id stays indistinguishable from a missing one.
func Decide(caller Caller, note *Note, grant *CollaboratorGrant, capability Capability) bool {
	if note == nil {
		return false
	}
	if caller.UserID != "" && caller.UserID == note.OwnerID {
		return true
	}

	switch capability {
	case CapabilityView:
		return grant != nil
	case CapabilityEdit:
		return grant != nil && grant.Level == GrantEditor
	default:
		return false
	}
}

// DecideAdmin gates endpoints that require a global role rather than note
// ownership, such as the activity log.
func DecideAdmin(caller Caller, required users.Role) bool {
	return caller.Role.AtLeast(required)
}
