package driver_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/roostd/roost/internal/driver"
	"github.com/roostd/roost/internal/model"
	"github.com/roostd/roost/internal/testutil"
)

func noSleep(context.Context, time.Duration) error { return nil }

func cookieAccount() *model.Account {
	return &model.Account{
		Username: "alice",
		Password: "pw",
		Usable:   true,
		Cookies: []model.Cookie{
			{Key: "auth_token", Value: "tok", Domain: ".example.com", Path: "/", Secure: true, HTTPOnly: true},
			{Key: "ct0", Value: "csrf", Domain: ".example.com", Path: "/"},
		},
	}
}

func TestEnsureLogin_RefusesLockedAccount(t *testing.T) {
	fake := &testutil.FakeClient{}
	m := driver.NewManager(driver.ManagerConfig{Factory: testutil.NewFakeFactory(fake), Sleep: noSleep})

	acct := &model.Account{Username: "alice", IsLocked: true}
	sess, err := m.Session(acct, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := m.EnsureLogin(context.Background(), sess, acct); !errors.Is(err, driver.ErrAccountLocked) {
		t.Fatalf("err = %v, want ErrAccountLocked", err)
	}
	if fake.LoginCalls != 0 {
		t.Fatal("locked account must never reach the login endpoint")
	}
}

func TestEnsureLogin_CookiesInstalledWithoutValidation(t *testing.T) {
	fake := &testutil.FakeClient{}
	m := driver.NewManager(driver.ManagerConfig{Factory: testutil.NewFakeFactory(fake), Sleep: noSleep})

	acct := cookieAccount()
	sess, err := m.Session(acct, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := m.EnsureLogin(context.Background(), sess, acct); err != nil {
		t.Fatal(err)
	}
	if fake.LoginCalls != 0 {
		t.Fatal("stored cookies must bypass the login endpoint")
	}
	if fake.SetCookieCalls != 1 {
		t.Fatalf("SetCookieCalls = %d, want 1", fake.SetCookieCalls)
	}
	got := fake.InstalledRaw[0]
	if len(got) != 2 {
		t.Fatalf("installed %d cookies, want 2", len(got))
	}
	if got[0] != "auth_token=tok; Domain=.example.com; Path=/; Secure; HttpOnly" {
		t.Fatalf("cookie string = %q", got[0])
	}

	// Second login is a no-op on the same session.
	if err := m.EnsureLogin(context.Background(), sess, acct); err != nil {
		t.Fatal(err)
	}
	if fake.SetCookieCalls != 1 {
		t.Fatal("repeat EnsureLogin must not reinstall cookies")
	}
}

func TestEnsureLogin_CredentialLoginPersistsCookies(t *testing.T) {
	fake := &testutil.FakeClient{
		CookiesFn: func() []string {
			return []string{
				"auth_token=fresh; Domain=.example.com; Path=/; Secure",
				"ct0=csrf2; Domain=.example.com",
				"guest_id=g1",
				"tracking=ignore-me",
			}
		},
	}

	var persistedUser string
	var persisted []model.Cookie
	m := driver.NewManager(driver.ManagerConfig{
		Factory: testutil.NewFakeFactory(fake),
		Sleep:   noSleep,
		OnCookies: func(username string, cookies []model.Cookie) error {
			persistedUser = username
			persisted = cookies
			return nil
		},
	})

	acct := &model.Account{Username: "alice", Password: "pw", Usable: true}
	sess, err := m.Session(acct, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := m.EnsureLogin(context.Background(), sess, acct); err != nil {
		t.Fatal(err)
	}
	if fake.LoginCalls != 1 {
		t.Fatalf("LoginCalls = %d, want 1", fake.LoginCalls)
	}
	if persistedUser != "alice" {
		t.Fatalf("persisted for %q", persistedUser)
	}
	if len(persisted) != 3 {
		t.Fatalf("persisted %d cookies, want the 3 session cookies", len(persisted))
	}
	if persisted[0].Key != "auth_token" || persisted[0].Value != "fresh" || !persisted[0].Secure {
		t.Fatalf("auth_token cookie = %+v", persisted[0])
	}
}

func TestEnsureLogin_LockedCodeMarksAccount(t *testing.T) {
	fake := &testutil.FakeClient{
		LoginFn: func(context.Context, string, string, string, string) error {
			return errors.New(`{"errors":[{"code":326,"message":"account locked"}]}`)
		},
	}

	locked := ""
	m := driver.NewManager(driver.ManagerConfig{
		Factory:  testutil.NewFakeFactory(fake),
		Sleep:    noSleep,
		OnLocked: func(username string) { locked = username },
	})

	acct := &model.Account{Username: "alice", Password: "pw", Usable: true}
	sess, err := m.Session(acct, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := m.EnsureLogin(context.Background(), sess, acct); err == nil {
		t.Fatal("expected login error")
	}
	if locked != "alice" {
		t.Fatalf("locked = %q, want alice", locked)
	}
}

func TestSession_InvalidateForcesRelogin(t *testing.T) {
	fake := &testutil.FakeClient{}
	m := driver.NewManager(driver.ManagerConfig{Factory: testutil.NewFakeFactory(fake), Sleep: noSleep})

	acct := cookieAccount()
	sess, err := m.Session(acct, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := m.EnsureLogin(context.Background(), sess, acct); err != nil {
		t.Fatal(err)
	}
	sess.Invalidate()
	if err := m.EnsureLogin(context.Background(), sess, acct); err != nil {
		t.Fatal(err)
	}
	if fake.SetCookieCalls != 2 {
		t.Fatalf("SetCookieCalls = %d, want 2 after invalidation", fake.SetCookieCalls)
	}
}
