package apperrors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestConnectorError_Unwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := fmt.Errorf("fetch: %w", &ConnectorError{Source: "osha", Cause: cause})

	var ce *ConnectorError
	if !errors.As(err, &ce) {
		t.Fatal("expected errors.As to find ConnectorError")
	}
	if ce.Source != "osha" {
		t.Errorf("expected source osha, got %s", ce.Source)
	}
	if !errors.Is(err, cause) {
		t.Error("expected wrapped cause to be reachable via errors.Is")
	}
}

func TestSchemaError_Message(t *testing.T) {
	err := &SchemaError{Source: "cnesst", Column: "incident_id"}
	if !strings.Contains(err.Error(), `"incident_id"`) {
		t.Errorf("expected column name in message, got %q", err.Error())
	}
}

func TestIsFatal(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"fatal load error", &LoadError{Store: "postgres", Fatal: true, Cause: errors.New("pool closed")}, true},
		{"non-fatal load error", &LoadError{Store: "neo4j", Fatal: false, Cause: errors.New("constraint")}, false},
		{"config error", &ConfigError{Key: "osha", Reason: "missing url"}, true},
		{"store unavailable sentinel", fmt.Errorf("connect: %w", ErrStoreUnavailable), true},
		{"connector error", &ConnectorError{Source: "osha", Cause: errors.New("timeout")}, false},
		{"schema error", &SchemaError{Source: "osha", Column: "incident_date"}, false},
		{"plain error", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsFatal(tt.err); got != tt.want {
				t.Errorf("IsFatal() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsFatal_WrappedLoadError(t *testing.T) {
	err := fmt.Errorf("run osha: %w", &LoadError{Store: "postgres", Fatal: true, Cause: errors.New("down")})
	if !IsFatal(err) {
		t.Error("expected wrapped fatal LoadError to remain fatal")
	}
}

func TestConfigError_Message(t *testing.T) {
	withKey := &ConfigError{Key: "dares", Reason: "unknown type"}
	if !strings.Contains(withKey.Error(), `"dares"`) {
		t.Errorf("expected key in message, got %q", withKey.Error())
	}
	withoutKey := &ConfigError{Reason: "empty crosswalk"}
	if strings.Contains(withoutKey.Error(), "source") {
		t.Errorf("expected keyless message without source, got %q", withoutKey.Error())
	}
}
