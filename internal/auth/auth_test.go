package auth

import (
	"errors"
	"testing"
	"time"
)

func TestCapabilities(t *testing.T) {
	tests := []struct {
		role Role
		cmd  Command
		want bool
	}{
		{RoleAdmin, CmdSettleBill, true},
		{RoleAdmin, CmdManageTables, true},
		{RoleWaiter, CmdCreateOrder, true},
		{RoleWaiter, CmdComputeBill, true},
		{RoleWaiter, CmdSettleBill, false},
		{RoleWaiter, CmdMarkItemReady, false},
		{RoleCashier, CmdSettleBill, true},
		{RoleCashier, CmdCloseOrder, true},
		{RoleCashier, CmdCreateOrder, false},
		{RoleKitchen, CmdMarkItemReady, true},
		{RoleKitchen, CmdStartTicket, true},
		{RoleKitchen, CmdCancelOrder, false},
		{Role("guest"), CmdCreateOrder, false},
	}
	for _, tt := range tests {
		if got := Can(tt.role, tt.cmd); got != tt.want {
			t.Errorf("Can(%s, %s) = %v, want %v", tt.role, tt.cmd, got, tt.want)
		}
	}
}

func TestAuthorize(t *testing.T) {
	if err := Authorize(Actor{ID: "k1", Role: RoleKitchen}, CmdSettleBill); !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden, got %v", err)
	}
	if err := Authorize(Actor{Role: RoleAdmin}, CmdSettleBill); !errors.Is(err, ErrForbidden) {
		t.Errorf("anonymous actor must be rejected, got %v", err)
	}
	if err := Authorize(Actor{ID: "c1", Role: RoleCashier}, CmdSettleBill); err != nil {
		t.Errorf("cashier settle: %v", err)
	}
}

func TestTokensRoundTrip(t *testing.T) {
	tokens := NewTokens("test-secret", time.Hour)
	signed, expiresAt, err := tokens.Issue(Actor{ID: "w-7", Role: RoleWaiter})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if time.Until(expiresAt) <= 0 {
		t.Fatalf("token already expired: %v", expiresAt)
	}

	actor, err := tokens.Parse(signed)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if actor.ID != "w-7" || actor.Role != RoleWaiter {
		t.Errorf("unexpected actor %+v", actor)
	}

	if _, err := NewTokens("other-secret", time.Hour).Parse(signed); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("wrong secret should fail, got %v", err)
	}
}

func TestTokensExpired(t *testing.T) {
	tokens := NewTokens("test-secret", -time.Minute)
	signed, _, err := tokens.Issue(Actor{ID: "c-1", Role: RoleCashier})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := tokens.Parse(signed); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expired token should fail, got %v", err)
	}
}

func TestIssueUnknownRole(t *testing.T) {
	if _, _, err := NewTokens("s", time.Hour).Issue(Actor{ID: "x", Role: "owner"}); err == nil {
		t.Error("expected error for unknown role")
	}
}
