// Package catalog holds the project's agent roster: which agent ids exist,
// what role each plays, and which model/runtime they default to absent a
// more specific override. The validator consults it when injecting a step
// for a required role.
package catalog

// Role is a pipeline stage an agent can occupy. RolePrecedence fixes the
// order rule-injected steps must respect.
type Role string

const (
	RoleProduct    Role = "product"
	RoleArchitect  Role = "architect"
	RoleUIUX       Role = "ui-ux"
	RoleDeveloper  Role = "developer"
	RoleCodeReview Role = "code-review"
	RoleQA         Role = "qa"
	RoleSecurity   Role = "security"
	RoleDevOps     Role = "devops"
)

// RolePrecedence is the fixed pipeline order the validator's injection
// ordering must preserve.
var RolePrecedence = []Role{
	RoleProduct, RoleArchitect, RoleUIUX, RoleDeveloper,
	RoleCodeReview, RoleQA, RoleSecurity, RoleDevOps,
}

// PrecedenceIndex returns r's position in RolePrecedence, or -1 if unknown.
func PrecedenceIndex(r Role) int {
	for i, p := range RolePrecedence {
		if p == r {
			return i
		}
	}
	return -1
}

// AgentDefinition describes one agent a project may assign steps to.
type AgentDefinition struct {
	ID            string
	Role          Role
	DefaultModel  string
	DefaultRuntime string
}

// Catalog is a project's agent roster, keyed by agent id.
type Catalog struct {
	agents []AgentDefinition
}

// New builds a Catalog from the given agent definitions.
func New(agents []AgentDefinition) Catalog {
	return Catalog{agents: agents}
}

// ByID returns the agent definition with the given id, if present.
func (c Catalog) ByID(id string) (AgentDefinition, bool) {
	for _, a := range c.agents {
		if a.ID == id {
			return a, true
		}
	}
	return AgentDefinition{}, false
}

// ByRole returns the first catalog agent assigned to role, if present. When
// the project has not supplied a catalog (or no agent occupies the role),
// callers fall back to a platform default agent id equal to the role name.
func (c Catalog) ByRole(role Role) (AgentDefinition, bool) {
	for _, a := range c.agents {
		if a.Role == role {
			return a, true
		}
	}
	return AgentDefinition{}, false
}

// RoleOf returns the role of the given agent id, consulting the catalog
// first and falling back to treating the id itself as a role name (the
// platform default agents are named after their role, e.g. "developer").
func (c Catalog) RoleOf(agentID string) Role {
	if a, ok := c.ByID(agentID); ok {
		return a.Role
	}
	return Role(agentID)
}
