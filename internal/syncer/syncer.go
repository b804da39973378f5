// internal/syncer/syncer.go
package syncer

import (
	"context"
	"log/slog"

	apperrors "github-integration-service/internal/errors"
	"github-integration-service/internal/github"
	"github-integration-service/internal/model"
	"github-integration-service/internal/sched"
	"github-integration-service/internal/store"
)

// Store is the persistence surface the syncer writes through.
type Store interface {
	GetIntegration(ctx context.Context, id int64) (*model.Integration, error)
	TouchIntegrationLastSynced(ctx context.Context, id int64) error
	UpsertOrganization(ctx context.Context, org model.Organization) (model.Organization, error)
	UpsertRepository(ctx context.Context, repo model.Repository) (model.Repository, error)
	UpsertCommits(ctx context.Context, commits []model.Commit) (int, error)
	UpsertPullRequests(ctx context.Context, prs []model.PullRequest) (int, error)
	UpsertIssues(ctx context.Context, issues []model.Issue) (int, error)
	UpsertIssueChangelogs(ctx context.Context, events []model.IssueChangelog) (int, error)
	UpsertUsers(ctx context.Context, users []model.User) (int, error)
	GetIssueByRepoAndNumber(ctx context.Context, repositoryID int64, number int) (*model.Issue, error)
}

// GitHub is the fetch surface of the sync run, one operation per resource
// kind.
type GitHub interface {
	ListUserOrganizations(ctx context.Context) ([]model.Organization, error)
	ListOrganizationRepos(ctx context.Context, org string) ([]model.Repository, error)
	ListOrganizationMembers(ctx context.Context, org string) ([]model.User, error)
	ListRepositoryCommits(ctx context.Context, owner, repo string) ([]model.Commit, error)
	ListRepositoryPullRequests(ctx context.Context, owner, repo string) ([]model.PullRequest, error)
	ListRepositoryIssues(ctx context.Context, owner, repo string) ([]model.Issue, error)
	ListIssueEvents(ctx context.Context, owner, repo string, number int) ([]model.IssueChangelog, error)
}

// ClientFactory builds a GitHub client for one integration's access token.
type ClientFactory func(token string) GitHub

// Syncer orchestrates the fetching and storing of data for one integration
// at a time. A sync run walks organizations depth-first: all of an
// organization's repositories (commits, pull requests, issues, issue events)
// are processed before its members, before the next organization.
type Syncer struct {
	store     Store
	logger    *slog.Logger
	newClient ClientFactory
	pool      *Pool
}

// NewSyncer creates a new Syncer instance.
func NewSyncer(st Store, logger *slog.Logger) *Syncer {
	return &Syncer{
		store:  st,
		logger: logger,
		newClient: func(token string) GitHub {
			return github.NewClient(token, logger)
		},
	}
}

// UseWorkerPool switches the per-repository fetch work onto a pool of
// workers. size <= 0 picks a default bounded by available parallelism.
func (s *Syncer) UseWorkerPool(size int) {
	s.pool = NewPool(size, s.newClient, s.logger)
}

// Close releases the worker pool, if any.
func (s *Syncer) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Sync runs one full synchronization pass for an integration and returns the
// number of records written per entity kind. Failures of a single stage
// (one repository's commits, one issue's events) are logged and contribute
// zero; only a missing integration or a failure on the org/repo spine aborts
// the run.
func (s *Syncer) Sync(ctx context.Context, integrationID int64) (*model.SyncStats, error) {
	integration, err := s.store.GetIntegration(ctx, integrationID)
	if err != nil {
		return nil, err
	}
	if integration.Status != model.StatusActive {
		return nil, apperrors.ErrIntegrationInactive
	}

	gh := s.newClient(integration.AccessToken)
	logger := s.logger.With("integration_id", integration.ID)
	logger.Info("Starting sync run")

	stats := &model.SyncStats{}

	orgs, err := gh.ListUserOrganizations(ctx)
	if err != nil {
		return nil, err
	}

	stored := make([]model.Organization, 0, len(orgs))
	for _, org := range orgs {
		org.IntegrationID = integration.ID
		dbOrg, err := s.store.UpsertOrganization(ctx, org)
		if err != nil {
			return nil, err
		}
		stored = append(stored, dbOrg)
		stats.Organizations++

		if err := sched.Checkpoint(ctx); err != nil {
			return nil, err
		}
	}
	logger.Info("Synced organizations", "count", stats.Organizations)

	for _, org := range stored {
		if err := s.syncOrganization(ctx, gh, integration, org, stats); err != nil {
			return nil, err
		}
	}

	if err := s.store.TouchIntegrationLastSynced(ctx, integration.ID); err != nil {
		return stats, err
	}

	logger.Info("Sync run completed",
		"organizations", stats.Organizations,
		"repositories", stats.Repositories,
		"commits", stats.Commits,
		"pull_requests", stats.PullRequests,
		"issues", stats.Issues,
		"issue_changelogs", stats.IssueChangelogs,
		"users", stats.Users)
	return stats, nil
}

// syncOrganization processes all repositories of one organization, then its
// members.
func (s *Syncer) syncOrganization(ctx context.Context, gh GitHub, integration *model.Integration, org model.Organization, stats *model.SyncStats) error {
	logger := s.logger.With("org", org.Login)
	logger.Info("Fetching repositories")

	repos, err := gh.ListOrganizationRepos(ctx, org.Login)
	if err != nil {
		return err
	}

	for _, repo := range repos {
		repo.IntegrationID = integration.ID
		repo.OrganizationID = org.ID
		dbRepo, err := s.store.UpsertRepository(ctx, repo)
		if err != nil {
			return err
		}
		stats.Repositories++

		if err := sched.Checkpoint(ctx); err != nil {
			return err
		}

		if s.pool != nil {
			err = s.syncRepositoryPooled(ctx, integration, dbRepo, stats)
		} else {
			err = s.syncRepository(ctx, gh, integration, dbRepo, stats)
		}
		if err != nil {
			return err
		}
	}

	// Members come last, after every repository of the org is done.
	members, err := gh.ListOrganizationMembers(ctx, org.Login)
	if err != nil {
		logger.Error("Failed to fetch organization members", "error", err)
		return sched.Checkpoint(ctx)
	}
	for i := range members {
		members[i].IntegrationID = integration.ID
		members[i].OrganizationID = org.ID
	}
	n, err := s.store.UpsertUsers(ctx, members)
	if err != nil {
		logger.Error("Failed to store organization members", "error", err)
	} else {
		stats.Users += n
	}
	return sched.Checkpoint(ctx)
}

// syncRepository runs the per-repository stages sequentially: commits, pull
// requests, issues, and each issue's events.
func (s *Syncer) syncRepository(ctx context.Context, gh GitHub, integration *model.Integration, repo model.Repository, stats *model.SyncStats) error {
	logger := s.logger.With("repo", repo.FullName)

	logger.Info("Fetching commits")
	commits, err := gh.ListRepositoryCommits(ctx, repo.OwnerLogin, repo.Name)
	if err != nil {
		logger.Error("Failed to fetch commits", "error", err)
	} else {
		s.storeCommits(ctx, repo, commits, stats)
	}
	if err := sched.Checkpoint(ctx); err != nil {
		return err
	}

	logger.Info("Fetching pull requests")
	prs, err := gh.ListRepositoryPullRequests(ctx, repo.OwnerLogin, repo.Name)
	if err != nil {
		logger.Error("Failed to fetch pull requests", "error", err)
	} else {
		s.storePullRequests(ctx, repo, prs, stats)
	}
	if err := sched.Checkpoint(ctx); err != nil {
		return err
	}

	logger.Info("Fetching issues")
	issues, err := gh.ListRepositoryIssues(ctx, repo.OwnerLogin, repo.Name)
	if err != nil {
		logger.Error("Failed to fetch issues", "error", err)
		return sched.Checkpoint(ctx)
	}
	s.storeIssues(ctx, repo, issues, stats)
	if err := sched.Checkpoint(ctx); err != nil {
		return err
	}

	for _, issue := range issues {
		events, err := s.fetchIssueEvents(ctx, gh, repo, issue.Number)
		if err != nil {
			logger.Error("Failed to fetch issue events", "issue", issue.Number, "error", err)
			continue
		}
		s.storeIssueEvents(ctx, repo, issue.Number, events, stats)

		if err := sched.Checkpoint(ctx); err != nil {
			return err
		}
	}
	return nil
}

// syncRepositoryPooled offloads the whole per-repository fetch bundle to a
// pool worker and persists the returned data.
func (s *Syncer) syncRepositoryPooled(ctx context.Context, integration *model.Integration, repo model.Repository, stats *model.SyncStats) error {
	logger := s.logger.With("repo", repo.FullName)

	data, err := s.pool.FetchRepoData(ctx, RepoJob{
		Token: integration.AccessToken,
		Owner: repo.OwnerLogin,
		Repo:  repo.Name,
	})
	if err != nil {
		logger.Error("Repository fetch job failed", "error", err)
		return sched.Checkpoint(ctx)
	}

	s.storeCommits(ctx, repo, data.Commits, stats)
	if err := sched.Checkpoint(ctx); err != nil {
		return err
	}
	s.storePullRequests(ctx, repo, data.PullRequests, stats)
	if err := sched.Checkpoint(ctx); err != nil {
		return err
	}
	s.storeIssues(ctx, repo, data.Issues, stats)
	if err := sched.Checkpoint(ctx); err != nil {
		return err
	}

	for _, issue := range data.Issues {
		s.storeIssueEvents(ctx, repo, issue.Number, data.IssueEvents[issue.Number], stats)
		if err := sched.Checkpoint(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (s *Syncer) storeCommits(ctx context.Context, repo model.Repository, commits []model.Commit, stats *model.SyncStats) {
	for i := range commits {
		commits[i].IntegrationID = repo.IntegrationID
		commits[i].RepositoryID = repo.ID
	}
	n, err := s.store.UpsertCommits(ctx, commits)
	if err != nil {
		s.logger.Error("Failed to store commits", "repo", repo.FullName, "error", err)
		return
	}
	stats.Commits += n
}

func (s *Syncer) storePullRequests(ctx context.Context, repo model.Repository, prs []model.PullRequest, stats *model.SyncStats) {
	for i := range prs {
		prs[i].IntegrationID = repo.IntegrationID
		prs[i].RepositoryID = repo.ID
	}
	n, err := s.store.UpsertPullRequests(ctx, prs)
	if err != nil {
		s.logger.Error("Failed to store pull requests", "repo", repo.FullName, "error", err)
		return
	}
	stats.PullRequests += n
}

func (s *Syncer) storeIssues(ctx context.Context, repo model.Repository, issues []model.Issue, stats *model.SyncStats) {
	for i := range issues {
		issues[i].IntegrationID = repo.IntegrationID
		issues[i].RepositoryID = repo.ID
	}
	n, err := s.store.UpsertIssues(ctx, issues)
	if err != nil {
		s.logger.Error("Failed to store issues", "repo", repo.FullName, "error", err)
		return
	}
	stats.Issues += n
}

func (s *Syncer) fetchIssueEvents(ctx context.Context, gh GitHub, repo model.Repository, number int) ([]model.IssueChangelog, error) {
	return gh.ListIssueEvents(ctx, repo.OwnerLogin, repo.Name, number)
}

// storeIssueEvents keys events by the stored issue row, re-read by natural
// key rather than taken from the upsert result: if the issue write was
// skipped or failed, its events are skipped too instead of failing the run.
func (s *Syncer) storeIssueEvents(ctx context.Context, repo model.Repository, issueNumber int, events []model.IssueChangelog, stats *model.SyncStats) {
	issue, err := s.store.GetIssueByRepoAndNumber(ctx, repo.ID, issueNumber)
	if err != nil {
		if store.IsNotFound(err) {
			s.logger.Debug("Issue row missing, skipping its events", "repo", repo.FullName, "issue", issueNumber)
		} else {
			s.logger.Error("Failed to re-read issue", "repo", repo.FullName, "issue", issueNumber, "error", err)
		}
		return
	}

	for i := range events {
		events[i].IntegrationID = repo.IntegrationID
		events[i].RepositoryID = repo.ID
		events[i].IssueID = issue.ID
	}
	n, err := s.store.UpsertIssueChangelogs(ctx, events)
	if err != nil {
		s.logger.Error("Failed to store issue events", "repo", repo.FullName, "issue", issueNumber, "error", err)
		return
	}
	stats.IssueChangelogs += n
}
