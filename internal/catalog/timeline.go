package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/roostd/roost/internal/dispatch"
	"github.com/roostd/roost/internal/driver"
)

// GetUserTweetsLarge collects up to maxTweets from a user's timeline,
// paginating inside a single dispatch with an inter-batch pause. The
// timeout class is doubled to cover the pagination.
func (c *Catalog) GetUserTweetsLarge(ctx context.Context, userIDOrName string, maxTweets int) ([]*driver.Tweet, error) {
	payload, err := c.d.Execute(ctx, dispatch.Op{
		Name:          "getUserTweetsLarge",
		Class:         dispatch.ClassTweet,
		TimeoutFactor: 2,
		Fn: func(ctx context.Context, client driver.Client) (any, error) {
			var collected []*driver.Tweet
			cursor := ""
			for len(collected) < maxTweets {
				batch, err := client.GetUserTweets(ctx, userIDOrName, maxTweets-len(collected), cursor)
				if err != nil {
					return nil, err
				}
				if len(batch.Tweets) == 0 {
					break
				}
				collected = append(collected, batch.Tweets...)
				if batch.Next == "" {
					break
				}
				cursor = batch.Next
				if err := driver.SleepCtx(ctx, largeBatchSleep); err != nil {
					return nil, err
				}
			}
			if len(collected) > maxTweets {
				collected = collected[:maxTweets]
			}
			return collected, nil
		},
	})
	if err != nil {
		return nil, err
	}
	tweets, _ := payload.([]*driver.Tweet)
	return normalizeTweets(tweets), nil
}

// GetUserTimelineInDateRange walks a user's timeline newest-first and
// keeps tweets whose timestamp falls in [endDate, startDate] inclusive.
// Iteration stops at the first tweet older than endDate.
func (c *Catalog) GetUserTimelineInDateRange(ctx context.Context, userIDOrName string, startDate, endDate time.Time) ([]*driver.Tweet, error) {
	payload, err := c.d.Execute(ctx, dispatch.Op{
		Name:          "getUserTimelineInDateRange",
		Class:         dispatch.ClassTweet,
		TimeoutFactor: 2,
		Fn: func(ctx context.Context, client driver.Client) (any, error) {
			var kept []*driver.Tweet
			cursor := ""
			for {
				batch, err := client.GetUserTweets(ctx, userIDOrName, 0, cursor)
				if err != nil {
					return nil, err
				}
				if len(batch.Tweets) == 0 {
					break
				}
				for _, t := range batch.Tweets {
					if t.Timestamp.Before(endDate) {
						return kept, nil
					}
					if !t.Timestamp.After(startDate) {
						kept = append(kept, t)
					}
				}
				if batch.Next == "" {
					break
				}
				cursor = batch.Next
				if err := driver.SleepCtx(ctx, largeBatchSleep); err != nil {
					return nil, err
				}
			}
			return kept, nil
		},
	})
	if err != nil {
		return nil, err
	}
	tweets, _ := payload.([]*driver.Tweet)
	return normalizeTweets(tweets), nil
}

// GetUserTimelineBySearch fetches a user's dated timeline through the
// search surface instead of the timeline pager.
func (c *Catalog) GetUserTimelineBySearch(ctx context.Context, username string, startDate, endDate time.Time, cursor string) (*driver.TweetBatch, error) {
	query := fmt.Sprintf("from:%s since:%s until:%s",
		username, endDate.Format("2006-01-02"), startDate.Format("2006-01-02"))
	return c.SearchTweets(ctx, query, driver.SearchLatest, cursor)
}

// SearchProfiles streams matching profiles lazily. The sequence is finite
// and non-restartable: it ends at maxProfiles, cursor exhaustion, the
// search timeout, or the dispatch failing. The channel is always closed.
func (c *Catalog) SearchProfiles(ctx context.Context, query string, maxProfiles int) <-chan *driver.Profile {
	out := make(chan *driver.Profile, profileStreamBuffer)

	go func() {
		defer close(out)
		_, err := c.d.Execute(ctx, dispatch.Op{
			Name:  "searchProfiles",
			Class: dispatch.ClassSearch,
			Fn: func(ctx context.Context, client driver.Client) (any, error) {
				sent := 0
				cursor := ""
				for sent < maxProfiles {
					batch, err := client.SearchProfiles(ctx, query, maxProfiles-sent, cursor)
					if err != nil {
						return nil, err
					}
					if len(batch.Profiles) == 0 {
						break
					}
					for _, p := range batch.Profiles {
						select {
						case out <- p:
							sent++
						case <-ctx.Done():
							return sent, ctx.Err()
						}
						if sent >= maxProfiles {
							break
						}
					}
					if batch.Next == "" {
						break
					}
					cursor = batch.Next
				}
				return sent, nil
			},
		})
		if err != nil {
			// The stream's consumer sees only the close; the error is
			// already classified and logged by the dispatcher path.
			return
		}
	}()

	return out
}
