// internal/github/fetch.go
package github

import (
	"context"
	"fmt"

	"github.com/google/go-github/v62/github"

	apperrors "github-integration-service/internal/errors"
	"github-integration-service/internal/model"
	"github-integration-service/internal/sched"
)

// AuthenticatedUser is the profile of the account behind the access token,
// captured on the OAuth callback.
type AuthenticatedUser struct {
	ID        int64
	Login     string
	Name      *string
	Email     *string
	AvatarURL *string
	HTMLURL   *string
}

// GetAuthenticatedUser fetches the profile of the token's owner.
func (c *Client) GetAuthenticatedUser(ctx context.Context) (*AuthenticatedUser, error) {
	var user *github.User
	err := c.do(ctx, func() (*github.Response, error) {
		var resp *github.Response
		var callErr error
		user, resp, callErr = c.gh.Users.Get(ctx, "")
		return resp, callErr
	})
	if err != nil {
		return nil, &apperrors.FetchError{Resource: "user", Scope: "token owner", Err: err}
	}
	return &AuthenticatedUser{
		ID:        user.GetID(),
		Login:     user.GetLogin(),
		Name:      user.Name,
		Email:     user.Email,
		AvatarURL: user.AvatarURL,
		HTMLURL:   user.HTMLURL,
	}, nil
}

// ListUserOrganizations fetches all organizations of the authenticated user.
func (c *Client) ListUserOrganizations(ctx context.Context) ([]model.Organization, error) {
	orgs, err := listAllPages(ctx, c, func(opts github.ListOptions) ([]*github.Organization, *github.Response, error) {
		return c.gh.Organizations.List(ctx, "", &opts)
	})
	if err != nil {
		return nil, &apperrors.FetchError{Resource: "organizations", Scope: "authenticated user", Err: err}
	}

	out := make([]model.Organization, 0, len(orgs))
	for _, o := range orgs {
		out = append(out, toOrganization(o))
	}
	return out, nil
}

// ListOrganizationRepos fetches all repositories of an organization.
func (c *Client) ListOrganizationRepos(ctx context.Context, org string) ([]model.Repository, error) {
	repos, err := listAllPages(ctx, c, func(opts github.ListOptions) ([]*github.Repository, *github.Response, error) {
		return c.gh.Repositories.ListByOrg(ctx, org, &github.RepositoryListByOrgOptions{ListOptions: opts})
	})
	if err != nil {
		return nil, &apperrors.FetchError{Resource: "repositories", Scope: org, Err: err}
	}

	out := make([]model.Repository, 0, len(repos))
	for _, r := range repos {
		out = append(out, toRepository(r))
	}
	return out, nil
}

// ListOrganizationMembers fetches all members of an organization.
func (c *Client) ListOrganizationMembers(ctx context.Context, org string) ([]model.User, error) {
	members, err := listAllPages(ctx, c, func(opts github.ListOptions) ([]*github.User, *github.Response, error) {
		return c.gh.Organizations.ListMembers(ctx, org, &github.ListMembersOptions{ListOptions: opts})
	})
	if err != nil {
		return nil, &apperrors.FetchError{Resource: "members", Scope: org, Err: err}
	}

	out := make([]model.User, 0, len(members))
	for _, m := range members {
		out = append(out, toUser(m))
	}
	return out, nil
}

// ListRepositoryCommits fetches all commits of a repository. Unlike the other
// fetchers it paginates manually and short-circuits as soon as a page comes
// back smaller than the requested page size.
func (c *Client) ListRepositoryCommits(ctx context.Context, owner, repo string) ([]model.Commit, error) {
	opts := &github.CommitsListOptions{
		ListOptions: github.ListOptions{PerPage: pageSize, Page: 1},
	}

	var all []model.Commit
	for {
		var page []*github.RepositoryCommit
		err := c.do(ctx, func() (*github.Response, error) {
			var resp *github.Response
			var callErr error
			page, resp, callErr = c.gh.Repositories.ListCommits(ctx, owner, repo, opts)
			return resp, callErr
		})
		if err != nil {
			return nil, &apperrors.FetchError{Resource: "commits", Scope: owner + "/" + repo, Err: err}
		}

		for _, rc := range page {
			all = append(all, toCommit(rc))
		}

		if len(page) < pageSize {
			return all, nil
		}
		opts.Page++

		if err := sched.Checkpoint(ctx); err != nil {
			return nil, err
		}
	}
}

// ListRepositoryPullRequests fetches all pull requests of a repository,
// including closed and merged ones.
func (c *Client) ListRepositoryPullRequests(ctx context.Context, owner, repo string) ([]model.PullRequest, error) {
	pulls, err := listAllPages(ctx, c, func(opts github.ListOptions) ([]*github.PullRequest, *github.Response, error) {
		return c.gh.PullRequests.List(ctx, owner, repo, &github.PullRequestListOptions{
			State:       "all",
			ListOptions: opts,
		})
	})
	if err != nil {
		return nil, &apperrors.FetchError{Resource: "pull requests", Scope: owner + "/" + repo, Err: err}
	}

	out := make([]model.PullRequest, 0, len(pulls))
	for _, pr := range pulls {
		out = append(out, toPullRequest(pr))
	}
	return out, nil
}

// ListRepositoryIssues fetches all issues of a repository, including closed
// ones. The issues endpoint also returns pull requests; those are dropped
// since they are synced separately.
func (c *Client) ListRepositoryIssues(ctx context.Context, owner, repo string) ([]model.Issue, error) {
	issues, err := listAllPages(ctx, c, func(opts github.ListOptions) ([]*github.Issue, *github.Response, error) {
		return c.gh.Issues.ListByRepo(ctx, owner, repo, &github.IssueListByRepoOptions{
			State:       "all",
			ListOptions: opts,
		})
	})
	if err != nil {
		return nil, &apperrors.FetchError{Resource: "issues", Scope: owner + "/" + repo, Err: err}
	}

	out := make([]model.Issue, 0, len(issues))
	for _, is := range issues {
		if is.IsPullRequest() {
			continue
		}
		out = append(out, toIssue(is))
	}
	return out, nil
}

// ListIssueEvents fetches all timeline events of one issue.
func (c *Client) ListIssueEvents(ctx context.Context, owner, repo string, number int) ([]model.IssueChangelog, error) {
	events, err := listAllPages(ctx, c, func(opts github.ListOptions) ([]*github.IssueEvent, *github.Response, error) {
		return c.gh.Issues.ListIssueEvents(ctx, owner, repo, number, &opts)
	})
	if err != nil {
		return nil, &apperrors.FetchError{
			Resource: "issue events",
			Scope:    fmt.Sprintf("%s/%s#%d", owner, repo, number),
			Err:      err,
		}
	}

	out := make([]model.IssueChangelog, 0, len(events))
	for _, ev := range events {
		out = append(out, toIssueChangelog(ev))
	}
	return out, nil
}
