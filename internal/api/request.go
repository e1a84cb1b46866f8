package api

// CreateRequest is the payload for creating or overwriting a connection.
type CreateRequest struct {
	KeyName  string  `json:"key_name"`
	KeyValue string  `json:"key_value"`
	AgentID  *string `json:"agent_id"`
	IsCommon bool    `json:"is_common"`
}

// UpdateRequest is the payload for a partial update. Absent fields are left unchanged.
type UpdateRequest struct {
	KeyName  *string `json:"key_name"`
	KeyValue *string `json:"key_value"`
	AgentID  *string `json:"agent_id"`
	IsCommon *bool   `json:"is_common"`
}

// VaultTestRequest carries the settings of a Vault connection check.
type VaultTestRequest struct {
	URL       string `json:"url"`
	Token     string `json:"token"`
	MountPath string `json:"mount_path"`
	KVVersion int    `json:"kv_version"`
	// Timeout is in seconds.
	Timeout   int   `json:"timeout"`
	VerifySSL *bool `json:"verify_ssl"`
}
