package api

import (
	"time"

	"github.com/Checker-Finance/agent-connections/pkg/model"
)

// ConnectionResponse is the wire form of a connection. KeyValue is omitted
// from write acknowledgements.
type ConnectionResponse struct {
	Status    string     `json:"status,omitempty"`
	KeyID     string     `json:"key_id"`
	KeyName   string     `json:"key_name"`
	KeyValue  *string    `json:"key_value,omitempty"`
	AgentID   *string    `json:"agent_id"`
	IsCommon  bool       `json:"is_common"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
}

// OwnedConnectionResponse adds the owner's directory entry for admin listings.
type OwnedConnectionResponse struct {
	ConnectionResponse
	OwnerUserID string `json:"owner_user_id"`
	OwnerName   string `json:"owner_name"`
	OwnerEmail  string `json:"owner_email"`
}

// StatusResponse acknowledges operations that return nothing else.
type StatusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

const statusSuccess = "success"

func toAck(c model.AgentConnection) ConnectionResponse {
	created := c.CreatedAt
	return ConnectionResponse{
		Status:    statusSuccess,
		KeyID:     c.KeyID,
		KeyName:   c.KeyName,
		AgentID:   c.AgentIDOrNil(),
		IsCommon:  c.Scope.IsCommon(),
		CreatedAt: &created,
	}
}

func toResponse(c model.AgentConnection) ConnectionResponse {
	value := c.Value
	return ConnectionResponse{
		KeyID:    c.KeyID,
		KeyName:  c.KeyName,
		KeyValue: &value,
		AgentID:  c.AgentIDOrNil(),
		IsCommon: c.Scope.IsCommon(),
	}
}

func toOwnedResponse(c model.OwnedConnection) OwnedConnectionResponse {
	return OwnedConnectionResponse{
		ConnectionResponse: toResponse(c.AgentConnection),
		OwnerUserID:        c.OwnerUserID,
		OwnerName:          c.Owner.Name,
		OwnerEmail:         c.Owner.Email,
	}
}
