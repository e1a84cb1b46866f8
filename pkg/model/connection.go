package model

import "time"

// ScopeKind distinguishes the three scopes a connection can live in.
type ScopeKind int

const (
	// ScopeDefault holds connections saved without an agent.
	ScopeDefault ScopeKind = iota
	// ScopeCommon holds connections shared by every agent of a user.
	ScopeCommon
	// ScopeAgent holds connections tied to one agent/model identifier.
	ScopeAgent
)

// Reserved scope tokens.
const (
	CommonToken  = "common"
	DefaultToken = "default"
)

// Scope is the agent scope of a connection. AgentID is only meaningful for ScopeAgent.
type Scope struct {
	Kind    ScopeKind
	AgentID string
}

// CommonScope returns the shared-by-all-agents scope.
func CommonScope() Scope { return Scope{Kind: ScopeCommon} }

// DefaultScope returns the no-agent scope.
func DefaultScope() Scope { return Scope{Kind: ScopeDefault} }

// AgentScope returns the scope for agentID; an empty id yields the default scope.
func AgentScope(agentID string) Scope {
	if agentID == "" {
		return DefaultScope()
	}
	return Scope{Kind: ScopeAgent, AgentID: agentID}
}

// ScopeOf builds a scope from the wire representation (agent_id, is_common).
func ScopeOf(agentID string, isCommon bool) Scope {
	if isCommon {
		return CommonScope()
	}
	return AgentScope(agentID)
}

func (s Scope) IsCommon() bool { return s.Kind == ScopeCommon }

// AgentConnection is one named credential owned by a user within a scope.
type AgentConnection struct {
	KeyID       string
	KeyName     string
	Value       string
	OwnerUserID string
	Scope       Scope
	ScopeToken  string
	CreatedAt   time.Time
}

// AgentIDOrNil returns the agent id for agent-scoped connections and nil otherwise.
func (c AgentConnection) AgentIDOrNil() *string {
	if c.Scope.Kind != ScopeAgent {
		return nil
	}
	id := c.ScopeToken
	return &id
}

// Actor is the authenticated caller of an operation.
type Actor struct {
	ID   string
	Role string
}

// User is an entry of the external user directory.
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// OwnedConnection is a connection annotated with its owner's directory entry.
type OwnedConnection struct {
	AgentConnection
	Owner User
}

// ConnectionEvent describes a change to a stored connection. It never carries the value.
type ConnectionEvent struct {
	Type        string    `json:"type"`
	KeyID       string    `json:"key_id,omitempty"`
	PreviousID  string    `json:"previous_key_id,omitempty"`
	OwnerUserID string    `json:"owner_user_id,omitempty"`
	ActorID     string    `json:"actor_id,omitempty"`
	ScopeToken  string    `json:"scope,omitempty"`
	KeyName     string    `json:"key_name,omitempty"`
	Timestamp   time.Time `json:"timestamp"`

	// Set on backend status events only.
	Backend   string `json:"backend,omitempty"`
	Reachable *bool  `json:"reachable,omitempty"`
}

// Connection event types.
const (
	EventConnectionCreated = "connection.created"
	EventConnectionUpdated = "connection.updated"
	EventConnectionDeleted = "connection.deleted"
	EventBackendStatus     = "backend.status_changed"
)
