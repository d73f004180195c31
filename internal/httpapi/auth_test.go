package httpapi

import (
	"testing"
	"time"

	"github.com/nikadamzafran88/rfid-checkout-web-sub000/internal/domain"
	"github.com/nikadamzafran88/rfid-checkout-web-sub000/internal/store/memory"
)

func newTestAuth(t *testing.T) *AuthManager {
	t.Helper()
	return NewAuthManager(testSecret, time.Hour, memory.NewSeeded())
}

func TestLoginAndParseToken(t *testing.T) {
	auth := newTestAuth(t)

	resp, err := auth.Login(domain.LoginRequest{Username: "admin", Password: "admin123"})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	actor, err := auth.ParseToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("parse token failed: %v", err)
	}
	if actor.Username != "admin" || actor.Role != "admin" {
		t.Fatalf("unexpected actor: %+v", actor)
	}
}

func TestParseTokenRejectsForeignSecret(t *testing.T) {
	auth := newTestAuth(t)
	other := NewAuthManager("another-secret-entirely-of-valid-length", time.Hour, memory.NewSeeded())

	resp, err := other.Login(domain.LoginRequest{Username: "admin", Password: "admin123"})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if _, err := auth.ParseToken(resp.AccessToken); err == nil {
		t.Fatalf("expected token signed with a different secret to be rejected")
	}
}

func TestCreateOperatorValidation(t *testing.T) {
	auth := newTestAuth(t)

	if err := auth.CreateOperator("ab", "secret99", "kiosk"); err == nil {
		t.Fatalf("expected short username to be rejected")
	}
	if err := auth.CreateOperator("lane-5", "123", "kiosk"); err == nil {
		t.Fatalf("expected short password to be rejected")
	}
	if err := auth.CreateOperator("lane-5", "secret99", "superuser"); err == nil {
		t.Fatalf("expected unknown role to be rejected")
	}
	if err := auth.CreateOperator("lane-5", "secret99", "kiosk"); err != nil {
		t.Fatalf("expected valid operator to be created, got %v", err)
	}
	if err := auth.CreateOperator("lane-5", "secret99", "kiosk"); err == nil {
		t.Fatalf("expected duplicate username to be rejected")
	}

	resp, err := auth.Login(domain.LoginRequest{Username: "lane-5", Password: "secret99"})
	if err != nil {
		t.Fatalf("new operator login failed: %v", err)
	}
	if resp.Role != "kiosk" {
		t.Fatalf("expected kiosk role, got %s", resp.Role)
	}
}
