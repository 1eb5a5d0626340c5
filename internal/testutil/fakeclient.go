// Package testutil provides shared test doubles for the upstream driver.
package testutil

import (
	"context"
	"net/http"
	"sync"

	"github.com/roostd/roost/internal/driver"
)

// FakeClient is a scripted driver.Client. Unset hooks return empty batches,
// nil tweet slices, or a minimal profile or tweet echoing the requested key;
// tests override only what they need.
type FakeClient struct {
	mu sync.Mutex

	Transport http.RoundTripper

	// Call records.
	LoginCalls     int
	SetCookieCalls int
	InstalledRaw   [][]string

	// Hooks.
	LoginFn         func(ctx context.Context, username, password, email, totp string) error
	CookiesFn       func() []string
	SearchTweetsFn  func(ctx context.Context, q string, mode driver.SearchMode, cursor string) (*driver.TweetBatch, error)
	GetProfileFn    func(ctx context.Context, username string) (*driver.Profile, error)
	GetTweetFn      func(ctx context.Context, id string) (*driver.Tweet, error)
	GetUserTweetsFn func(ctx context.Context, idOrName string, max int, cursor string) (*driver.TweetBatch, error)
	GetTweetsFn     func(ctx context.Context, username string, max int) ([]*driver.Tweet, error)
	FollowersFn     func(ctx context.Context, id string, max int, cursor string) (*driver.ProfileBatch, error)
	SearchProfFn    func(ctx context.Context, q string, max int, cursor string) (*driver.ProfileBatch, error)
}

// NewFakeFactory returns a driver.Factory handing out the given client for
// every session.
func NewFakeFactory(c *FakeClient) driver.Factory {
	return func(transport http.RoundTripper) driver.Client {
		c.mu.Lock()
		c.Transport = transport
		c.mu.Unlock()
		return c
	}
}

func (c *FakeClient) SearchTweets(ctx context.Context, q string, mode driver.SearchMode, cursor string) (*driver.TweetBatch, error) {
	if c.SearchTweetsFn != nil {
		return c.SearchTweetsFn(ctx, q, mode, cursor)
	}
	return &driver.TweetBatch{}, nil
}

func (c *FakeClient) GetProfile(ctx context.Context, username string) (*driver.Profile, error) {
	if c.GetProfileFn != nil {
		return c.GetProfileFn(ctx, username)
	}
	return &driver.Profile{Username: username}, nil
}

func (c *FakeClient) GetProfileByUserID(ctx context.Context, userID string) (*driver.Profile, error) {
	if c.GetProfileFn != nil {
		return c.GetProfileFn(ctx, userID)
	}
	return &driver.Profile{UserID: userID}, nil
}

func (c *FakeClient) GetTweets(ctx context.Context, username string, max int) ([]*driver.Tweet, error) {
	if c.GetTweetsFn != nil {
		return c.GetTweetsFn(ctx, username, max)
	}
	return nil, nil
}

func (c *FakeClient) GetTweetsAndReplies(ctx context.Context, username string, max int) ([]*driver.Tweet, error) {
	if c.GetTweetsFn != nil {
		return c.GetTweetsFn(ctx, username, max)
	}
	return nil, nil
}

func (c *FakeClient) GetUserTweets(ctx context.Context, idOrName string, max int, cursor string) (*driver.TweetBatch, error) {
	if c.GetUserTweetsFn != nil {
		return c.GetUserTweetsFn(ctx, idOrName, max, cursor)
	}
	return &driver.TweetBatch{}, nil
}

func (c *FakeClient) GetTweet(ctx context.Context, id string) (*driver.Tweet, error) {
	if c.GetTweetFn != nil {
		return c.GetTweetFn(ctx, id)
	}
	return &driver.Tweet{ID: id}, nil
}

func (c *FakeClient) FetchProfileFollowers(ctx context.Context, userID string, max int, cursor string) (*driver.ProfileBatch, error) {
	if c.FollowersFn != nil {
		return c.FollowersFn(ctx, userID, max, cursor)
	}
	return &driver.ProfileBatch{}, nil
}

func (c *FakeClient) FetchProfileFollowing(ctx context.Context, userID string, max int, cursor string) (*driver.ProfileBatch, error) {
	if c.FollowersFn != nil {
		return c.FollowersFn(ctx, userID, max, cursor)
	}
	return &driver.ProfileBatch{}, nil
}

func (c *FakeClient) SearchProfiles(ctx context.Context, q string, max int, cursor string) (*driver.ProfileBatch, error) {
	if c.SearchProfFn != nil {
		return c.SearchProfFn(ctx, q, max, cursor)
	}
	return &driver.ProfileBatch{}, nil
}

func (c *FakeClient) SetCookies(cookies []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.SetCookieCalls++
	c.InstalledRaw = append(c.InstalledRaw, cookies)
	return nil
}

func (c *FakeClient) GetCookies() []string {
	if c.CookiesFn != nil {
		return c.CookiesFn()
	}
	return nil
}

func (c *FakeClient) Login(ctx context.Context, username, password, email, totp string) error {
	c.mu.Lock()
	c.LoginCalls++
	c.mu.Unlock()
	if c.LoginFn != nil {
		return c.LoginFn(ctx, username, password, email, totp)
	}
	return nil
}
