package auth

import (
	"context"
	"errors"
	"testing"
	"time"
)

func withSecret(t *testing.T) {
	t.Helper()
	ResetSecretForTests()
	t.Setenv("PLANTOPS_AUTH_SECRET", "test-secret")
	t.Cleanup(ResetSecretForTests)
}

func TestRegisterBootstrapAdmin(t *testing.T) {
	svc := NewService(NewInMemoryUsers())
	ctx := context.Background()

	// First admin registration bootstraps the installation.
	first, err := svc.Register(ctx, "Boss", "pw123", "The Boss", RoleAdmin)
	if err != nil {
		t.Fatalf("bootstrap admin: %v", err)
	}
	if first.Username != "boss" {
		t.Fatalf("username = %q, want lowercased boss", first.Username)
	}
	if first.Role != RoleAdmin {
		t.Fatalf("role = %s, want admin", first.Role)
	}

	// Second admin via self-registration is refused.
	if _, err := svc.Register(ctx, "evil", "pw123", "", RoleAdmin); !errors.Is(err, ErrAdminExists) {
		t.Fatalf("second admin err = %v, want ErrAdminExists", err)
	}

	// CreateUser (admin provisioning) may still create admins.
	if _, err := svc.CreateUser(ctx, "second", "pw123", "", RoleAdmin); err != nil {
		t.Fatalf("provision admin: %v", err)
	}
}

func TestRegisterDefaultsAndValidation(t *testing.T) {
	svc := NewService(NewInMemoryUsers())
	ctx := context.Background()

	identity, err := svc.Register(ctx, "worker", "pw123", "", "")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if identity.Role != RolePlanner {
		t.Fatalf("default role = %s, want planner", identity.Role)
	}

	if _, err := svc.Register(ctx, "", "pw123", "", ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("blank username err = %v", err)
	}
	if _, err := svc.Register(ctx, "x", "", "", ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("blank password err = %v", err)
	}
	if _, err := svc.Register(ctx, "x", "pw", "", Role("superuser")); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("bogus role err = %v", err)
	}
	if _, err := svc.Register(ctx, "worker", "pw123", "", ""); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("duplicate username err = %v, want ErrAlreadyExists", err)
	}
}

func TestAuthenticateAndResolve(t *testing.T) {
	withSecret(t)
	svc := NewService(NewInMemoryUsers(), WithTokenTTL(time.Hour))
	ctx := context.Background()

	if _, err := svc.Register(ctx, "alice", "s3cret", "Alice", RoleOperator); err != nil {
		t.Fatalf("Register: %v", err)
	}

	token, identity, err := svc.Authenticate(ctx, "ALICE", "s3cret")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if identity.Username != "alice" {
		t.Fatalf("identity = %+v", identity)
	}

	resolved, err := svc.Resolve(ctx, token)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if resolved.Username != "alice" || resolved.Role != RoleOperator {
		t.Fatalf("resolved = %+v", resolved)
	}

	if _, _, err := svc.Authenticate(ctx, "alice", "wrong"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("wrong password err = %v, want ErrUnauthorized", err)
	}
	if _, _, err := svc.Authenticate(ctx, "nobody", "pw"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("unknown user err = %v, want ErrUnauthorized", err)
	}
	if _, err := svc.Resolve(ctx, "garbage"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("garbage token err = %v, want ErrInvalidToken", err)
	}
}

func TestResolveReflectsRoleChange(t *testing.T) {
	withSecret(t)
	svc := NewService(NewInMemoryUsers(), WithTokenTTL(time.Hour))
	ctx := context.Background()

	created, err := svc.Register(ctx, "bob", "pw123", "", RoleViewer)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	token, _, err := svc.Authenticate(ctx, "bob", "pw123")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}

	if err := svc.ChangeRole(ctx, created.ID, RoleAdmin); err != nil {
		t.Fatalf("ChangeRole: %v", err)
	}

	// The role comes from the store, not the token claims.
	resolved, err := svc.Resolve(ctx, token)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if resolved.Role != RoleAdmin {
		t.Fatalf("resolved role = %s, want admin after change", resolved.Role)
	}
}

func TestUpdateProfile(t *testing.T) {
	withSecret(t)
	svc := NewService(NewInMemoryUsers(), WithTokenTTL(time.Hour))
	ctx := context.Background()

	created, err := svc.Register(ctx, "carol", "oldpw", "", "")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	name := "Carol C"
	pw := "newpw"
	updated, err := svc.UpdateProfile(ctx, created.ID, ProfileUpdate{FullName: &name, Password: &pw})
	if err != nil {
		t.Fatalf("UpdateProfile: %v", err)
	}
	if updated.FullName != "Carol C" {
		t.Fatalf("full name = %q", updated.FullName)
	}

	if _, _, err := svc.Authenticate(ctx, "carol", "oldpw"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("old password still accepted: %v", err)
	}
	if _, _, err := svc.Authenticate(ctx, "carol", "newpw"); err != nil {
		t.Fatalf("new password rejected: %v", err)
	}

	blank := "   "
	if _, err := svc.UpdateProfile(ctx, created.ID, ProfileUpdate{Password: &blank}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("blank password err = %v, want ErrInvalidInput", err)
	}
}

func TestListAndDeleteUsers(t *testing.T) {
	svc := NewService(NewInMemoryUsers())
	ctx := context.Background()

	a, _ := svc.Register(ctx, "a", "pw", "", "")
	if _, err := svc.Register(ctx, "b", "pw", "", ""); err != nil {
		t.Fatalf("Register b: %v", err)
	}

	users, err := svc.ListUsers(ctx)
	if err != nil {
		t.Fatalf("ListUsers: %v", err)
	}
	if len(users) != 2 {
		t.Fatalf("users = %d, want 2", len(users))
	}

	if err := svc.DeleteUser(ctx, a.ID); err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}
	if err := svc.DeleteUser(ctx, a.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("double delete err = %v, want ErrNotFound", err)
	}
}

func TestTokenRoundTrip(t *testing.T) {
	withSecret(t)

	token, err := GenerateToken("dave", RolePlanner, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	claims, err := ParseAndValidate(token)
	if err != nil {
		t.Fatalf("ParseAndValidate: %v", err)
	}
	if claims.Subject != "dave" || claims.Role != RolePlanner {
		t.Fatalf("claims = %+v", claims)
	}

	if _, err := GenerateToken("", RoleAdmin, time.Hour); err == nil {
		t.Fatal("blank username accepted")
	}
	if _, err := GenerateToken("dave", RoleAdmin, 0); err == nil {
		t.Fatal("zero ttl accepted")
	}
	if _, err := ParseAndValidate(""); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("empty token err = %v", err)
	}
}

func TestTokenMissingSecret(t *testing.T) {
	ResetSecretForTests()
	t.Setenv("PLANTOPS_AUTH_SECRET", "")
	t.Cleanup(ResetSecretForTests)

	if _, err := GenerateToken("dave", RoleAdmin, time.Hour); err == nil {
		t.Fatal("token generated without a configured secret")
	}
}

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()

	if _, ok := IdentityFromContext(ctx); ok {
		t.Fatal("identity found in empty context")
	}

	identity := Identity{ID: "u1", Username: "z", Role: RoleOperator}
	ctx = ContextWithIdentity(ctx, identity)
	ctx = ContextWithToken(ctx, "tok")

	got, ok := IdentityFromContext(ctx)
	if !ok || got != identity {
		t.Fatalf("IdentityFromContext = %+v, %v", got, ok)
	}
	tok, ok := TokenFromContext(ctx)
	if !ok || tok != "tok" {
		t.Fatalf("TokenFromContext = %q, %v", tok, ok)
	}

	if !HasRole(ctx, RoleOperator, RoleAdmin) {
		t.Fatal("HasRole rejected matching role")
	}
	if HasRole(ctx, RoleAdmin) {
		t.Fatal("HasRole accepted non-matching role")
	}
	if HasRole(context.Background(), RoleOperator) {
		t.Fatal("HasRole accepted empty context")
	}
}
