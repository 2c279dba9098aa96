package protocol

import (
	"encoding/json"
	"testing"
)

func TestParseAuthMethods(t *testing.T) {
	result := json.RawMessage(`{
		"protocolVersion": 1,
		"authMethods": [
			{"id": "oauth", "name": "Sign in", "description": "Browser login"},
			{"id": "api-key"},
			{"name": "no id"},
			"garbage"
		]
	}`)

	methods, err := ParseAuthMethods(result)
	if err != nil {
		t.Fatalf("ParseAuthMethods: %v", err)
	}
	if len(methods) != 2 {
		t.Fatalf("expected 2 methods, got %d: %+v", len(methods), methods)
	}
	if methods[0].ID != "oauth" || methods[0].Description != "Browser login" {
		t.Errorf("unexpected first method: %+v", methods[0])
	}
	if methods[1].Name != "api-key" {
		t.Errorf("name should default to id, got %q", methods[1].Name)
	}
}

func TestParseAuthMethods_Absent(t *testing.T) {
	methods, err := ParseAuthMethods(json.RawMessage(`{"protocolVersion":1}`))
	if err != nil {
		t.Fatalf("ParseAuthMethods: %v", err)
	}
	if methods != nil {
		t.Errorf("expected nil, got %+v", methods)
	}
	if _, err := ParseAuthMethods(json.RawMessage(`[1,2]`)); err == nil {
		t.Error("expected error for non-object result")
	}
}
