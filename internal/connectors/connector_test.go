package connectors

import (
	"errors"
	"strings"
	"testing"
)

func TestIsAllowed(t *testing.T) {
	tests := []struct {
		entity  string
		allowed bool
	}{
		{"light.kitchen", true},
		{"switch.porch", true},
		{"fan.bedroom", true},
		{"input_boolean.guest_mode", true},
		{"lock.front_door", false}, // not switchable
		{"cover.garage", false},
		{"kitchen", false}, // no domain
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.entity, func(t *testing.T) {
			if got := IsAllowed(tt.entity); got != tt.allowed {
				t.Errorf("IsAllowed(%q) = %v, want %v", tt.entity, got, tt.allowed)
			}
		})
	}
}

func TestCallError(t *testing.T) {
	var err error = &CallError{Kind: KindHTTP, Status: 502, Detail: "bad gateway"}

	var callErr *CallError
	if !errors.As(err, &callErr) {
		t.Fatal("expected errors.As to match *CallError")
	}
	if !strings.Contains(err.Error(), "502") {
		t.Errorf("expected status in message, got %q", err.Error())
	}

	netErr := &CallError{Kind: KindNetwork, Detail: "connection refused"}
	if strings.Contains(netErr.Error(), "status") {
		t.Errorf("network error should not mention status: %q", netErr.Error())
	}
}
