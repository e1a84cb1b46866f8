package api

import (
	"fmt"
	"strings"
)

// Validate checks that CreateRequest has all required fields.
func (r *CreateRequest) Validate() error {
	if strings.TrimSpace(r.KeyName) == "" {
		return fmt.Errorf("key_name is required")
	}
	if strings.TrimSpace(r.KeyValue) == "" {
		return fmt.Errorf("key_value is required")
	}
	return nil
}

// Validate checks the fields a Vault connection check cannot run without.
func (r *VaultTestRequest) Validate() error {
	if strings.TrimSpace(r.URL) == "" {
		return fmt.Errorf("url is required")
	}
	if strings.TrimSpace(r.Token) == "" {
		return fmt.Errorf("token is required")
	}
	if r.KVVersion != 0 && r.KVVersion != 1 {
		return fmt.Errorf("kv_version must be 1")
	}
	if r.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative")
	}
	return nil
}
