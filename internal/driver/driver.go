// Package driver defines the contract with the opaque upstream scraping
// client and the per-account session layer on top of it. The orchestrator
// never inspects upstream payloads beyond the fields declared here.
package driver

import (
	"context"
	"net/http"
	"time"
)

// Profile is an upstream user profile, passed through with light fixes.
type Profile struct {
	UserID         string `json:"userId"`
	Username       string `json:"username"`
	Name           string `json:"name"`
	Biography      string `json:"biography"`
	Location       string `json:"location"`
	URL            string `json:"url"`
	Avatar         string `json:"avatar"`
	Banner         string `json:"banner"`
	FollowersCount int    `json:"followersCount"`
	FollowingCount int    `json:"followingCount"`
	TweetsCount    int    `json:"tweetsCount"`
	IsVerified     bool   `json:"isVerified"`
	IsPrivate      bool   `json:"isPrivate"`
	Joined         string `json:"joined"`
}

// Tweet is an upstream status, passed through with light fixes.
type Tweet struct {
	ID             string    `json:"id"`
	UserID         string    `json:"userId"`
	Username       string    `json:"username"`
	Name           string    `json:"name"`
	Text           string    `json:"text"`
	HTML           string    `json:"html"`
	PermanentURL   string    `json:"permanentUrl"`
	Timestamp      time.Time `json:"timestamp"`
	Likes          int       `json:"likes"`
	Retweets       int       `json:"retweets"`
	Replies        int       `json:"replies"`
	Quotes         int       `json:"quotes"`
	IsRetweet      bool      `json:"isRetweet"`
	IsReply        bool      `json:"isReply"`
	IsQuoted       bool      `json:"isQuoted"`
	InReplyToID    string    `json:"inReplyToId"`
	InReplyToStatus *Tweet   `json:"inReplyToStatus,omitempty"`
	Photos         []string  `json:"photos,omitempty"`
	Videos         []string  `json:"videos,omitempty"`
}

// TweetBatch is one page of tweets plus the continuation cursor.
type TweetBatch struct {
	Tweets []*Tweet `json:"tweets"`
	Next   string   `json:"next"`
}

// ProfileBatch is one page of profiles plus the continuation cursor.
type ProfileBatch struct {
	Profiles []*Profile `json:"profiles"`
	Next     string     `json:"next"`
}

// SearchMode selects the upstream search ranking.
type SearchMode string

const (
	SearchTop    SearchMode = "top"
	SearchLatest SearchMode = "latest"
	SearchPhotos SearchMode = "photos"
	SearchVideos SearchMode = "videos"
)

// Client is the opaque upstream scraping client. One Client instance is a
// single upstream session; it is never shared across accounts. Errors
// surface as plain errors whose message the classifier understands.
type Client interface {
	SearchTweets(ctx context.Context, query string, mode SearchMode, cursor string) (*TweetBatch, error)
	GetProfile(ctx context.Context, username string) (*Profile, error)
	GetProfileByUserID(ctx context.Context, userID string) (*Profile, error)
	GetTweets(ctx context.Context, username string, max int) ([]*Tweet, error)
	GetTweetsAndReplies(ctx context.Context, username string, max int) ([]*Tweet, error)
	GetUserTweets(ctx context.Context, userIDOrName string, max int, cursor string) (*TweetBatch, error)
	GetTweet(ctx context.Context, id string) (*Tweet, error)
	FetchProfileFollowers(ctx context.Context, userID string, max int, cursor string) (*ProfileBatch, error)
	FetchProfileFollowing(ctx context.Context, userID string, max int, cursor string) (*ProfileBatch, error)
	SearchProfiles(ctx context.Context, query string, max int, cursor string) (*ProfileBatch, error)

	SetCookies(cookies []string) error
	GetCookies() []string
	Login(ctx context.Context, username, password, email, totpSecret string) error
}

// Factory builds a Client bound to the given transport. The transport is
// fixed for the session's lifetime, which is what keeps concurrent calls
// on different accounts from sharing an egress.
type Factory func(transport http.RoundTripper) Client
