package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/cheolwanpark/meows-archive/collector/internal/cache"
	"github.com/cheolwanpark/meows-archive/collector/internal/errs"
	"github.com/cheolwanpark/meows-archive/collector/internal/fetch"
	"github.com/cheolwanpark/meows-archive/collector/internal/ratelimit"
	"github.com/cheolwanpark/meows-archive/collector/internal/statestore"
	"golang.org/x/time/rate"
)

// storeTokenSource reads the Reddit OAuth token from the encrypted
// credentials table. Acquiring and refreshing the token is the external
// collaborator's job; this type only satisfies the executor's dependency
// on a TokenSource using whatever the operator has stored there.
type storeTokenSource struct {
	store   *statestore.Store
	service string
}

func (t *storeTokenSource) Token(ctx context.Context) (string, error) {
	token, err := t.store.GetCredential(ctx, t.service)
	if err != nil {
		return "", errs.NewTransient(fmt.Errorf("load %s credential: %w", t.service, err))
	}
	return token, nil
}

// newTokenPacer builds the coarser per-source-type delay: a token bucket that
// smooths request spacing the way the teacher's scheduler.createRateLimiters
// sizes one rate.Limiter per source type, composed alongside the
// sliding-window admission check (which enforces the hard per-window cap;
// the bucket just spaces admitted requests out).
func newTokenPacer(reqPerSec float64, burst int) *rate.Limiter {
	if reqPerSec <= 0 {
		reqPerSec = 1
	}
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(reqPerSec), burst)
}

// redditCollaborators implements the fetch package's external-collaborator
// contracts. The HTTP client, OAuth flow and markdown renderer that would
// talk to Reddit are external to this engine; this type owns only the
// admission-control wrapping (rate limiting, response caching) around
// wherever those collaborators eventually get plugged in, and reports a
// Transient error until one is configured.
type redditCollaborators struct {
	limiter    *ratelimit.SlidingWindow
	pacer      *rate.Limiter
	jsonCache  *cache.JSONCache
	lister     fetch.SubredditLister
	fetcher    fetch.JSONFetcher
	renderer   fetch.Renderer
	tokens     fetch.TokenSource
	logger     *log.Logger
}

var errNoCollaborator = errors.New("no Reddit client configured for this deployment")

func (c *redditCollaborators) ListPosts(ctx context.Context, subreddit string, limit int) ([]fetch.PostSummary, error) {
	if !c.limiter.IsAllowed() {
		return nil, errs.NewTransient(errors.New("rate limit exceeded listing " + subreddit))
	}
	if err := c.pacer.Wait(ctx); err != nil {
		return nil, errs.NewTransient(err)
	}
	if c.lister == nil {
		return nil, errs.NewTransient(errNoCollaborator)
	}
	return c.lister.ListPosts(ctx, subreddit, limit)
}

func (c *redditCollaborators) FetchPost(ctx context.Context, url string) (*fetch.PostData, error) {
	key := cache.Key(url, c.tokens != nil)
	if raw, ok := c.jsonCache.Get(key); ok {
		var post fetch.PostData
		if err := json.Unmarshal(raw, &post); err == nil {
			return &post, nil
		}
	}
	if !c.limiter.IsAllowed() {
		return nil, errs.NewTransient(errors.New("rate limit exceeded fetching " + url))
	}
	if err := c.pacer.Wait(ctx); err != nil {
		return nil, errs.NewTransient(err)
	}
	if c.fetcher == nil {
		return nil, errs.NewTransient(errNoCollaborator)
	}
	post, err := c.fetcher.FetchPost(ctx, url)
	if err != nil {
		return nil, err
	}
	if raw, err := json.Marshal(post); err == nil {
		c.jsonCache.Put(key, raw)
	}
	return post, nil
}

func (c *redditCollaborators) Render(post *fetch.PostData) (string, error) {
	if c.renderer == nil {
		return "", errs.NewTransient(errNoCollaborator)
	}
	return c.renderer.Render(post)
}
