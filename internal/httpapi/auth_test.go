package httpapi

import (
	"context"
	"strings"
	"testing"
	"time"

	"fitpos/backend/internal/domain"
	"fitpos/backend/internal/store/memory"
)

func newTestAuth() (*AuthManager, *memory.Store) {
	repo := memory.NewSeeded()
	return NewAuthManager("0123456789abcdef0123456789abcdef", time.Hour, repo), repo
}

func TestLoginIssuesParseableToken(t *testing.T) {
	auth, _ := newTestAuth()

	resp, err := auth.Login(context.Background(), domain.LoginRequest{
		Username: "admin",
		Password: "admin123",
	})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if resp.Role != "admin" {
		t.Fatalf("role = %s, want admin", resp.Role)
	}

	actor, err := auth.ParseToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if actor.Username != "admin" || actor.Role != "admin" || actor.UserID == "" {
		t.Fatalf("unexpected actor: %+v", actor)
	}
}

func TestLoginRejectsBadPassword(t *testing.T) {
	auth, _ := newTestAuth()

	if _, err := auth.Login(context.Background(), domain.LoginRequest{
		Username: "admin",
		Password: "wrong",
	}); err == nil {
		t.Fatalf("expected login to fail")
	}
	if _, err := auth.Login(context.Background(), domain.LoginRequest{
		Username: "nobody",
		Password: "admin123",
	}); err == nil {
		t.Fatalf("expected unknown user login to fail")
	}
}

func TestParseTokenRejectsGarbage(t *testing.T) {
	auth, _ := newTestAuth()

	if _, err := auth.ParseToken("not-a-jwt"); err == nil {
		t.Fatalf("expected garbage token to be rejected")
	}

	signer, _ := newTestAuth()
	resp, err := signer.Login(context.Background(), domain.LoginRequest{Username: "admin", Password: "admin123"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	other := NewAuthManager("another-secret-another-secret-abc", time.Hour, nil)
	if _, err := other.ParseToken(resp.AccessToken); err == nil {
		t.Fatalf("expected token signed with a different secret to be rejected")
	}
}

func TestCreateStaffValidation(t *testing.T) {
	auth, _ := newTestAuth()
	ctx := context.Background()

	cases := []struct {
		name string
		req  StaffCreateRequest
	}{
		{"short username", StaffCreateRequest{Username: "ab", Password: "secret1", Role: "admin"}},
		{"username with spaces", StaffCreateRequest{Username: "front desk", Password: "secret1", Role: "admin"}},
		{"short password", StaffCreateRequest{Username: "newuser", Password: "abc", Role: "admin"}},
		{"unknown role", StaffCreateRequest{Username: "newuser", Password: "secret1", Role: "owner"}},
	}
	for _, tc := range cases {
		if _, err := auth.CreateStaff(ctx, tc.req); err == nil {
			t.Fatalf("%s: expected validation error", tc.name)
		}
	}
}

func TestCreateStaffNormalizesAndHashes(t *testing.T) {
	auth, repo := newTestAuth()

	user, err := auth.CreateStaff(context.Background(), StaffCreateRequest{
		Username: "  Trainer01 ",
		FullName: "Carlos Trainer",
		Password: "supersafe",
		Role:     "Manager",
	})
	if err != nil {
		t.Fatalf("create staff: %v", err)
	}
	if user.Username != "trainer01" || user.Role != "manager" || !user.Active {
		t.Fatalf("unexpected user: %+v", user)
	}

	stored, err := repo.GetUserByUsername(context.Background(), "trainer01")
	if err != nil {
		t.Fatalf("stored user lookup: %v", err)
	}
	if !strings.HasPrefix(stored.PasswordHash, "$2") {
		t.Fatalf("password was not bcrypt hashed: %q", stored.PasswordHash)
	}
	if !verifyPassword(stored.PasswordHash, "supersafe") {
		t.Fatalf("stored hash does not verify")
	}

	if _, err := auth.CreateStaff(context.Background(), StaffCreateRequest{
		Username: "trainer01",
		Password: "supersafe",
		Role:     "manager",
	}); err == nil {
		t.Fatalf("expected duplicate username to be rejected")
	}
}
