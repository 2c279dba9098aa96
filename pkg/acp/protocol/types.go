// Package protocol holds the ACP wire shapes the adapter decodes itself
// rather than through the SDK's generated types: authentication methods,
// which vary between agent releases, and the default client identity.
package protocol

import (
	"encoding/json"
	"fmt"
)

// ClientName and ClientVersion identify the adapter during initialize.
const (
	ClientName    = "acpadapter"
	ClientVersion = "0.1.0"
)

// AuthMethod is one entry of the authMethods list in an initialize result.
type AuthMethod struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// AuthenticateParams is the authenticate request body.
type AuthenticateParams struct {
	MethodID string `json:"methodId"`
}

type initializeAuth struct {
	AuthMethods []json.RawMessage `json:"authMethods"`
}

// ParseAuthMethods extracts the advertised authentication methods from a raw
// initialize result. Entries without an id are skipped; a missing list yields
// nil.
func ParseAuthMethods(result json.RawMessage) ([]AuthMethod, error) {
	if len(result) == 0 {
		return nil, nil
	}
	var body initializeAuth
	if err := json.Unmarshal(result, &body); err != nil {
		return nil, fmt.Errorf("decode authMethods: %w", err)
	}
	var out []AuthMethod
	for _, raw := range body.AuthMethods {
		var m AuthMethod
		if err := json.Unmarshal(raw, &m); err != nil || m.ID == "" {
			continue
		}
		if m.Name == "" {
			m.Name = m.ID
		}
		out = append(out, m)
	}
	return out, nil
}
