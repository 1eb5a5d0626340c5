// Package catalog exposes the fixed set of high-level operations the HTTP
// surface calls. Each operation maps to a single dispatcher execution with
// a fixed timeout class; payload normalization happens here, never in the
// dispatcher.
package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/maypok86/otter"

	"github.com/roostd/roost/internal/dispatch"
	"github.com/roostd/roost/internal/driver"
)

const (
	largeBatchSleep     = 500 * time.Millisecond
	profileStreamBuffer = 16
)

// Catalog is the operation surface over the dispatcher. Profile and tweet
// lookups go through a small TTL cache so hot targets do not burn account
// quota.
type Catalog struct {
	d *dispatch.Dispatcher

	profileCache otter.Cache[string, *driver.Profile]
	tweetCache   otter.Cache[string, *driver.Tweet]
}

// Config tunes the catalog's response cache.
type Config struct {
	Dispatcher   *dispatch.Dispatcher
	CacheEntries int
	CacheTTL     time.Duration
}

// New creates a Catalog.
func New(cfg Config) (*Catalog, error) {
	entries := cfg.CacheEntries
	if entries <= 0 {
		entries = 4096
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}

	profiles, err := otter.MustBuilder[string, *driver.Profile](entries).
		WithTTL(ttl).
		Build()
	if err != nil {
		return nil, fmt.Errorf("catalog: profile cache: %w", err)
	}
	tweets, err := otter.MustBuilder[string, *driver.Tweet](entries).
		WithTTL(ttl).
		Build()
	if err != nil {
		return nil, fmt.Errorf("catalog: tweet cache: %w", err)
	}

	return &Catalog{
		d:            cfg.Dispatcher,
		profileCache: profiles,
		tweetCache:   tweets,
	}, nil
}

// Close releases the cache resources.
func (c *Catalog) Close() {
	c.profileCache.Close()
	c.tweetCache.Close()
}

// SearchTweets runs an upstream tweet search.
func (c *Catalog) SearchTweets(ctx context.Context, query string, mode driver.SearchMode, cursor string) (*driver.TweetBatch, error) {
	payload, err := c.d.Execute(ctx, dispatch.Op{
		Name:  "searchTweets",
		Class: dispatch.ClassSearch,
		Fn: func(ctx context.Context, client driver.Client) (any, error) {
			batch, err := client.SearchTweets(ctx, query, mode, cursor)
			if err != nil {
				return nil, err
			}
			return batch, nil
		},
	})
	if err != nil {
		return nil, err
	}
	batch, ok := payload.(*driver.TweetBatch)
	if !ok || batch == nil {
		return &driver.TweetBatch{}, nil
	}
	normalizeTweets(batch.Tweets)
	return batch, nil
}

// GetProfile fetches a profile by username.
func (c *Catalog) GetProfile(ctx context.Context, username string) (*driver.Profile, error) {
	if cached, ok := c.profileCache.Get("name:" + username); ok {
		return cached, nil
	}
	payload, err := c.d.Execute(ctx, dispatch.Op{
		Name:  "getProfile",
		Class: dispatch.ClassProfile,
		Fn: func(ctx context.Context, client driver.Client) (any, error) {
			return client.GetProfile(ctx, username)
		},
	})
	if err != nil {
		return nil, err
	}
	profile, ok := payload.(*driver.Profile)
	if !ok || profile == nil {
		return nil, nil
	}
	c.profileCache.Set("name:"+username, profile)
	return profile, nil
}

// GetProfileByUserID fetches a profile by numeric user ID.
func (c *Catalog) GetProfileByUserID(ctx context.Context, userID string) (*driver.Profile, error) {
	if cached, ok := c.profileCache.Get("id:" + userID); ok {
		return cached, nil
	}
	payload, err := c.d.Execute(ctx, dispatch.Op{
		Name:  "getProfileByUserId",
		Class: dispatch.ClassProfile,
		Fn: func(ctx context.Context, client driver.Client) (any, error) {
			return client.GetProfileByUserID(ctx, userID)
		},
	})
	if err != nil {
		return nil, err
	}
	profile, ok := payload.(*driver.Profile)
	if !ok || profile == nil {
		return nil, nil
	}
	c.profileCache.Set("id:"+userID, profile)
	return profile, nil
}

// GetTweets returns a user's recent tweets by username.
func (c *Catalog) GetTweets(ctx context.Context, username string, max int) ([]*driver.Tweet, error) {
	payload, err := c.d.Execute(ctx, dispatch.Op{
		Name:  "getTweets",
		Class: dispatch.ClassTweet,
		Fn: func(ctx context.Context, client driver.Client) (any, error) {
			return client.GetTweets(ctx, username, max)
		},
	})
	if err != nil {
		return nil, err
	}
	tweets, _ := payload.([]*driver.Tweet)
	return normalizeTweets(tweets), nil
}

// GetTweetsByUserID returns a user's recent tweets by ID or screen name.
func (c *Catalog) GetTweetsByUserID(ctx context.Context, userIDOrName string, max int, cursor string) (*driver.TweetBatch, error) {
	payload, err := c.d.Execute(ctx, dispatch.Op{
		Name:  "getUserTweets",
		Class: dispatch.ClassTweet,
		Fn: func(ctx context.Context, client driver.Client) (any, error) {
			batch, err := client.GetUserTweets(ctx, userIDOrName, max, cursor)
			if err != nil {
				return nil, err
			}
			return batch, nil
		},
	})
	if err != nil {
		return nil, err
	}
	batch, ok := payload.(*driver.TweetBatch)
	if !ok || batch == nil {
		return &driver.TweetBatch{}, nil
	}
	normalizeTweets(batch.Tweets)
	return batch, nil
}

// GetTweetsAndReplies returns a user's tweets including replies.
func (c *Catalog) GetTweetsAndReplies(ctx context.Context, username string, max int) ([]*driver.Tweet, error) {
	payload, err := c.d.Execute(ctx, dispatch.Op{
		Name:  "getTweetsAndReplies",
		Class: dispatch.ClassTweet,
		Fn: func(ctx context.Context, client driver.Client) (any, error) {
			return client.GetTweetsAndReplies(ctx, username, max)
		},
	})
	if err != nil {
		return nil, err
	}
	tweets, _ := payload.([]*driver.Tweet)
	return normalizeTweets(tweets), nil
}

// GetLatestTweet returns a user's most recent tweet.
func (c *Catalog) GetLatestTweet(ctx context.Context, username string) (*driver.Tweet, error) {
	tweets, err := c.GetTweets(ctx, username, 1)
	if err != nil {
		return nil, err
	}
	if len(tweets) == 0 {
		return nil, nil
	}
	return tweets[0], nil
}

// GetTweet fetches a single tweet by ID.
func (c *Catalog) GetTweet(ctx context.Context, id string) (*driver.Tweet, error) {
	if cached, ok := c.tweetCache.Get(id); ok {
		return cached, nil
	}
	payload, err := c.d.Execute(ctx, dispatch.Op{
		Name:  "getTweet",
		Class: dispatch.ClassTweet,
		Fn: func(ctx context.Context, client driver.Client) (any, error) {
			tweet, err := client.GetTweet(ctx, id)
			if err != nil {
				return nil, err
			}
			return normalizeTweet(tweet), nil
		},
	})
	if err != nil {
		return nil, err
	}
	tweet, ok := payload.(*driver.Tweet)
	if !ok || tweet == nil {
		return nil, nil
	}
	c.tweetCache.Set(id, tweet)
	return tweet, nil
}

// GetTweetReplies returns replies to a tweet, composed over search since
// the driver has no dedicated replies verb.
func (c *Catalog) GetTweetReplies(ctx context.Context, id string, cursor string) (*driver.TweetBatch, error) {
	return c.SearchTweets(ctx, "conversation_id:"+id, driver.SearchLatest, cursor)
}

// GetTweetQuotes returns quote tweets of a tweet.
func (c *Catalog) GetTweetQuotes(ctx context.Context, id string, cursor string) (*driver.TweetBatch, error) {
	return c.SearchTweets(ctx, "quoted_tweet_id:"+id, driver.SearchLatest, cursor)
}

// GetProfileFollowers returns one page of a profile's followers.
func (c *Catalog) GetProfileFollowers(ctx context.Context, userID string, max int, cursor string) (*driver.ProfileBatch, error) {
	payload, err := c.d.Execute(ctx, dispatch.Op{
		Name:  "getProfileFollowers",
		Class: dispatch.ClassProfile,
		Fn: func(ctx context.Context, client driver.Client) (any, error) {
			batch, err := client.FetchProfileFollowers(ctx, userID, max, cursor)
			if err != nil {
				return nil, err
			}
			return batch, nil
		},
	})
	if err != nil {
		return nil, err
	}
	batch, ok := payload.(*driver.ProfileBatch)
	if !ok || batch == nil {
		return &driver.ProfileBatch{}, nil
	}
	return batch, nil
}

// GetProfileFollowing returns one page of the profiles a user follows.
func (c *Catalog) GetProfileFollowing(ctx context.Context, userID string, max int, cursor string) (*driver.ProfileBatch, error) {
	payload, err := c.d.Execute(ctx, dispatch.Op{
		Name:  "getProfileFollowing",
		Class: dispatch.ClassProfile,
		Fn: func(ctx context.Context, client driver.Client) (any, error) {
			batch, err := client.FetchProfileFollowing(ctx, userID, max, cursor)
			if err != nil {
				return nil, err
			}
			return batch, nil
		},
	})
	if err != nil {
		return nil, err
	}
	batch, ok := payload.(*driver.ProfileBatch)
	if !ok || batch == nil {
		return &driver.ProfileBatch{}, nil
	}
	return batch, nil
}

// GetProfiles resolves several usernames through the batch dispatcher.
// Failed slots are nil.
func (c *Catalog) GetProfiles(ctx context.Context, usernames []string) []*driver.Profile {
	ops := make([]dispatch.Op, len(usernames))
	for i, username := range usernames {
		username := username
		ops[i] = dispatch.Op{
			Name:  "getProfile",
			Class: dispatch.ClassProfile,
			Fn: func(ctx context.Context, client driver.Client) (any, error) {
				return client.GetProfile(ctx, username)
			},
		}
	}
	results := c.d.ExecuteBatch(ctx, ops)
	profiles := make([]*driver.Profile, len(results))
	for i, r := range results {
		if p, ok := r.(*driver.Profile); ok {
			profiles[i] = p
		}
	}
	return profiles
}
