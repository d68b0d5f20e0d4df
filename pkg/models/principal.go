// Package models defines the shared domain types of the orchestration core:
// principals and roles, tool descriptors, agent templates, instances, and
// the append-only event log records.
package models

// Role is the platform role of an authenticated principal.
// The transport layer authenticates; the core only consumes the result.
type Role string

const (
	RoleUser           Role = "user"
	RoleRAGUser        Role = "rag_user"
	RoleAgentUser      Role = "agent_user"
	RoleAgentDeveloper Role = "agent_developer"
	RoleAdmin          Role = "admin"
	RoleOwner          Role = "owner"
)

// roleRank orders roles for hierarchy checks (user < rag_user < agent_user
// < agent_developer < admin < owner). Unknown roles rank below user.
var roleRank = map[Role]int{
	RoleUser:           1,
	RoleRAGUser:        2,
	RoleAgentUser:      3,
	RoleAgentDeveloper: 4,
	RoleAdmin:          5,
	RoleOwner:          6,
}

// AtLeast reports whether r is equal to or above other in the role hierarchy.
func (r Role) AtLeast(other Role) bool {
	return roleRank[r] >= roleRank[other]
}

// Valid reports whether r is a known platform role.
func (r Role) Valid() bool {
	_, ok := roleRank[r]
	return ok
}

// Principal is an authenticated caller as supplied by the transport layer.
type Principal struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}
