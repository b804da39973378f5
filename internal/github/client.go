// internal/github/client.go
package github

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/go-github/v62/github"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github-integration-service/internal/sched"
)

const (
	// Max items per page accepted by the GitHub REST API.
	pageSize = 100

	// How long to wait before retrying a rate-limited request.
	rateLimitCooldown = 60 * time.Second

	// Proactive request pacing, kept under the authenticated 5000/hour quota
	// so the reactive cooldown path rarely triggers.
	proactiveRate = 1.2
)

// Client is a wrapper around the go-github client. All list calls absorb
// rate-limit rejections by cooling down and retrying the identical request
// until it succeeds; any other API error propagates to the caller.
type Client struct {
	gh       *github.Client
	logger   *slog.Logger
	limiter  *rate.Limiter
	cooldown time.Duration
}

// NewClient creates and configures a new Client instance.
// The provided token is used to create an authenticated http.Client.
func NewClient(token string, logger *slog.Logger) *Client {
	ctx := context.Background()
	ts := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: token},
	)
	tc := oauth2.NewClient(ctx, ts)

	return &Client{
		gh:       github.NewClient(tc),
		logger:   logger,
		limiter:  rate.NewLimiter(rate.Limit(proactiveRate), 1),
		cooldown: rateLimitCooldown,
	}
}

// do runs one API call, waiting out rate limits. The call is retried with the
// identical arguments until GitHub stops rejecting it; retries are unbounded,
// trading latency for guaranteed eventual progress. Errors other than rate
// limiting are returned as-is.
func (c *Client) do(ctx context.Context, call func() (*github.Response, error)) error {
	for {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return err
			}
		}

		_, err := call()
		if err == nil {
			return nil
		}
		if !isRateLimited(err) {
			return err
		}

		c.logger.Warn("GitHub rate limit exceeded, waiting before retry", "cooldown", c.cooldown.String())
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.cooldown):
		}
	}
}

// isRateLimited reports whether err is GitHub's rate-limit rejection. The API
// signals it with a 403; go-github surfaces the documented variants as typed
// errors and anything else as a plain ErrorResponse.
func isRateLimited(err error) bool {
	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		return true
	}
	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		return true
	}
	var respErr *github.ErrorResponse
	if errors.As(err, &respErr) && respErr.Response != nil {
		return respErr.Response.StatusCode == http.StatusForbidden
	}
	return false
}

// listPage fetches one page of a listing endpoint.
type listPage[T any] func(opts github.ListOptions) ([]T, *github.Response, error)

// listAllPages walks a paged listing endpoint to completion and returns the
// ordered concatenation of all pages. It follows the next-page relation from
// the response metadata, stops when none is present, and yields to the
// scheduler between pages.
func listAllPages[T any](ctx context.Context, c *Client, list listPage[T]) ([]T, error) {
	opts := github.ListOptions{PerPage: pageSize}

	var all []T
	for {
		var (
			items []T
			resp  *github.Response
		)
		err := c.do(ctx, func() (*github.Response, error) {
			var callErr error
			items, resp, callErr = list(opts)
			return resp, callErr
		})
		if err != nil {
			return nil, err
		}
		all = append(all, items...)

		if resp == nil || resp.NextPage == 0 {
			return all, nil
		}
		opts.Page = resp.NextPage

		if err := sched.Checkpoint(ctx); err != nil {
			return nil, err
		}
	}
}
