package fake_test

import (
	"context"
	"errors"
	"testing"
	"time"

	adminauth "github.com/chimerakang/adminauth-go"
	"github.com/chimerakang/adminauth-go/clock"
	"github.com/chimerakang/adminauth-go/fake"
	"github.com/chimerakang/adminauth-go/rest"
	"github.com/chimerakang/adminauth-go/token"
)

var start = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func setup(opts ...fake.Option) *fake.Backend {
	base := []fake.Option{
		fake.WithClock(clock.NewFake(start)),
		fake.WithAccount("alice@example.com", "s3cret",
			adminauth.Profile{ID: "u1", FirstName: "Alice"}, []string{"admin"}),
	}
	return fake.NewBackend(append(base, opts...)...)
}

func creds() adminauth.Credentials {
	return adminauth.Credentials{Identifier: "alice@example.com", Secret: "s3cret"}
}

func TestLogin(t *testing.T) {
	b := setup()
	g, err := b.Login(context.Background(), creds())
	if err != nil {
		t.Fatalf("Login() error: %v", err)
	}
	if g.AccessToken == "" {
		t.Fatal("AccessToken is empty")
	}
	if !g.ExpiresAt.Equal(start.Add(fake.DefaultTTL)) {
		t.Errorf("ExpiresAt = %v", g.ExpiresAt)
	}
	if len(g.Roles) != 1 || g.Roles[0] != "admin" {
		t.Errorf("Roles = %v", g.Roles)
	}
	if !b.Valid(g.AccessToken) {
		t.Error("issued token is not valid")
	}
}

func TestLogin_BadSecret(t *testing.T) {
	b := setup()
	_, err := b.Login(context.Background(), adminauth.Credentials{Identifier: "alice@example.com", Secret: "nope"})
	if !rest.IsUnauthorized(err) {
		t.Fatalf("err = %v, want 401", err)
	}
}

func TestRefreshRotatesToken(t *testing.T) {
	b := setup()
	g, _ := b.Login(context.Background(), creds())

	g2, err := b.Refresh(context.Background(), g.AccessToken)
	if err != nil {
		t.Fatalf("Refresh() error: %v", err)
	}
	if g2.AccessToken == g.AccessToken {
		t.Error("token was not rotated")
	}
	if b.Valid(g.AccessToken) {
		t.Error("old token still valid")
	}
	if _, err := b.Refresh(context.Background(), g.AccessToken); !rest.IsUnauthorized(err) {
		t.Errorf("refresh with revoked token: err = %v", err)
	}
}

func TestProfileAndLogout(t *testing.T) {
	b := setup()
	g, _ := b.Login(context.Background(), creds())

	p, err := b.Profile(context.Background(), g.AccessToken)
	if err != nil {
		t.Fatalf("Profile() error: %v", err)
	}
	if p.Email != "alice@example.com" || p.FirstName != "Alice" {
		t.Errorf("profile = %+v", p)
	}

	if err := b.Logout(context.Background(), g.AccessToken); err != nil {
		t.Fatalf("Logout() error: %v", err)
	}
	if _, err := b.Profile(context.Background(), g.AccessToken); !rest.IsUnauthorized(err) {
		t.Errorf("profile after logout: err = %v", err)
	}
	if b.Calls(fake.OpProfile) != 2 || b.Calls(fake.OpLogout) != 1 {
		t.Errorf("calls: profile=%d logout=%d", b.Calls(fake.OpProfile), b.Calls(fake.OpLogout))
	}
}

func TestFail(t *testing.T) {
	b := setup()
	boom := errors.New("boom")
	b.Fail(fake.OpLogin, boom)
	if _, err := b.Login(context.Background(), creds()); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	b.Fail(fake.OpLogin, nil)
	if _, err := b.Login(context.Background(), creds()); err != nil {
		t.Fatalf("after clearing failure: %v", err)
	}
}

func TestBlock(t *testing.T) {
	b := setup()
	release := b.Block(fake.OpLogin)

	done := make(chan error, 1)
	go func() {
		_, err := b.Login(context.Background(), creds())
		done <- err
	}()

	select {
	case <-done:
		t.Fatal("login returned while blocked")
	case <-time.After(20 * time.Millisecond):
	}
	release()
	release()
	if err := <-done; err != nil {
		t.Fatalf("Login() error: %v", err)
	}
}

func TestBlock_ContextCancel(t *testing.T) {
	b := setup()
	defer b.Block(fake.OpProfile)()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := b.Profile(ctx, "tok-1"); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestJWTBareGrants(t *testing.T) {
	b := setup(fake.WithJWTTokens(), fake.WithBareGrants())
	g, err := b.Login(context.Background(), creds())
	if err != nil {
		t.Fatalf("Login() error: %v", err)
	}
	if !g.ExpiresAt.IsZero() || len(g.Roles) != 0 {
		t.Fatalf("bare grant carries expiry or roles: %+v", g)
	}

	c, err := token.Inspect(g.AccessToken)
	if err != nil {
		t.Fatalf("Inspect() error: %v", err)
	}
	if c.Subject != "u1" || c.Email != "alice@example.com" {
		t.Errorf("claims = %+v", c)
	}
	if !c.ExpiresAt.Equal(start.Add(fake.DefaultTTL)) {
		t.Errorf("ExpiresAt = %v", c.ExpiresAt)
	}
	if len(c.Roles) != 1 || c.Roles[0] != "admin" {
		t.Errorf("Roles = %v", c.Roles)
	}
}
