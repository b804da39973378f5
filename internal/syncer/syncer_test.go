// internal/syncer/syncer_test.go
package syncer

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apperrors "github-integration-service/internal/errors"
	"github-integration-service/internal/model"
)

// MockStore is a mock of the Store interface.
type MockStore struct {
	mock.Mock
}

func (m *MockStore) GetIntegration(ctx context.Context, id int64) (*model.Integration, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Integration), args.Error(1)
}
func (m *MockStore) TouchIntegrationLastSynced(ctx context.Context, id int64) error {
	return m.Called(ctx, id).Error(0)
}
func (m *MockStore) UpsertOrganization(ctx context.Context, org model.Organization) (model.Organization, error) {
	args := m.Called(ctx, org)
	return args.Get(0).(model.Organization), args.Error(1)
}
func (m *MockStore) UpsertRepository(ctx context.Context, repo model.Repository) (model.Repository, error) {
	args := m.Called(ctx, repo)
	return args.Get(0).(model.Repository), args.Error(1)
}
func (m *MockStore) UpsertCommits(ctx context.Context, commits []model.Commit) (int, error) {
	args := m.Called(ctx, commits)
	return args.Int(0), args.Error(1)
}
func (m *MockStore) UpsertPullRequests(ctx context.Context, prs []model.PullRequest) (int, error) {
	args := m.Called(ctx, prs)
	return args.Int(0), args.Error(1)
}
func (m *MockStore) UpsertIssues(ctx context.Context, issues []model.Issue) (int, error) {
	args := m.Called(ctx, issues)
	return args.Int(0), args.Error(1)
}
func (m *MockStore) UpsertIssueChangelogs(ctx context.Context, events []model.IssueChangelog) (int, error) {
	args := m.Called(ctx, events)
	return args.Int(0), args.Error(1)
}
func (m *MockStore) UpsertUsers(ctx context.Context, users []model.User) (int, error) {
	args := m.Called(ctx, users)
	return args.Int(0), args.Error(1)
}
func (m *MockStore) GetIssueByRepoAndNumber(ctx context.Context, repositoryID int64, number int) (*model.Issue, error) {
	args := m.Called(ctx, repositoryID, number)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Issue), args.Error(1)
}

// fakeGitHub is a canned-response GitHub fetcher. Each stage can be failed
// independently through its error field.
type fakeGitHub struct {
	orgs    []model.Organization
	repos   []model.Repository
	members []model.User
	commits []model.Commit
	prs     []model.PullRequest
	issues  []model.Issue
	events  map[int][]model.IssueChangelog

	orgsErr    error
	reposErr   error
	membersErr error
	commitsErr error
	prsErr     error
	issuesErr  error
	eventsErr  error
}

func (f *fakeGitHub) ListUserOrganizations(ctx context.Context) ([]model.Organization, error) {
	return f.orgs, f.orgsErr
}
func (f *fakeGitHub) ListOrganizationRepos(ctx context.Context, org string) ([]model.Repository, error) {
	return f.repos, f.reposErr
}
func (f *fakeGitHub) ListOrganizationMembers(ctx context.Context, org string) ([]model.User, error) {
	return f.members, f.membersErr
}
func (f *fakeGitHub) ListRepositoryCommits(ctx context.Context, owner, repo string) ([]model.Commit, error) {
	return f.commits, f.commitsErr
}
func (f *fakeGitHub) ListRepositoryPullRequests(ctx context.Context, owner, repo string) ([]model.PullRequest, error) {
	return f.prs, f.prsErr
}
func (f *fakeGitHub) ListRepositoryIssues(ctx context.Context, owner, repo string) ([]model.Issue, error) {
	return f.issues, f.issuesErr
}
func (f *fakeGitHub) ListIssueEvents(ctx context.Context, owner, repo string, number int) ([]model.IssueChangelog, error) {
	return f.events[number], f.eventsErr
}

func newTestSyncer(st Store, gh GitHub) *Syncer {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	return &Syncer{
		store:     st,
		logger:    logger,
		newClient: func(token string) GitHub { return gh },
	}
}

func activeIntegration() *model.Integration {
	return &model.Integration{ID: 1, UserID: "77", Provider: "github", AccessToken: "tok", Status: model.StatusActive}
}

// happyGitHub returns a fake with one org, one repo, two commits, one PR, one
// issue with two events, and one member.
func happyGitHub() *fakeGitHub {
	return &fakeGitHub{
		orgs:    []model.Organization{{GithubID: 100, Login: "acme"}},
		repos:   []model.Repository{{GithubID: 200, Name: "widgets", FullName: "acme/widgets", OwnerLogin: "acme"}},
		members: []model.User{{GithubID: 300, Login: "dev"}},
		commits: []model.Commit{{SHA: "aaa"}, {SHA: "bbb"}},
		prs:     []model.PullRequest{{GithubID: 400, Number: 1}},
		issues:  []model.Issue{{GithubID: 500, Number: 5}},
		events: map[int][]model.IssueChangelog{
			5: {{GithubEventID: 600, Event: "labeled"}, {GithubEventID: 601, Event: "closed"}},
		},
	}
}

func TestSyncer_Sync(t *testing.T) {
	ctx := context.Background()

	t.Run("full run counts every written record", func(t *testing.T) {
		st := new(MockStore)
		gh := happyGitHub()
		s := newTestSyncer(st, gh)

		st.On("GetIntegration", ctx, int64(1)).Return(activeIntegration(), nil).Once()
		st.On("UpsertOrganization", ctx, mock.MatchedBy(func(o model.Organization) bool {
			return o.IntegrationID == 1 && o.GithubID == 100
		})).Return(model.Organization{ID: 10, IntegrationID: 1, GithubID: 100, Login: "acme"}, nil).Once()
		st.On("UpsertRepository", ctx, mock.MatchedBy(func(r model.Repository) bool {
			return r.IntegrationID == 1 && r.OrganizationID == 10
		})).Return(model.Repository{ID: 20, IntegrationID: 1, OrganizationID: 10, Name: "widgets", FullName: "acme/widgets", OwnerLogin: "acme"}, nil).Once()
		st.On("UpsertCommits", ctx, mock.MatchedBy(func(cs []model.Commit) bool {
			return len(cs) == 2 && cs[0].IntegrationID == 1 && cs[0].RepositoryID == 20
		})).Return(2, nil).Once()
		st.On("UpsertPullRequests", ctx, mock.Anything).Return(1, nil).Once()
		st.On("UpsertIssues", ctx, mock.Anything).Return(1, nil).Once()
		st.On("GetIssueByRepoAndNumber", ctx, int64(20), 5).Return(&model.Issue{ID: 30, RepositoryID: 20, Number: 5}, nil).Once()
		st.On("UpsertIssueChangelogs", ctx, mock.MatchedBy(func(evs []model.IssueChangelog) bool {
			return len(evs) == 2 && evs[0].IssueID == 30 && evs[0].RepositoryID == 20
		})).Return(2, nil).Once()
		st.On("UpsertUsers", ctx, mock.MatchedBy(func(us []model.User) bool {
			return len(us) == 1 && us[0].OrganizationID == 10
		})).Return(1, nil).Once()
		st.On("TouchIntegrationLastSynced", ctx, int64(1)).Return(nil).Once()

		stats, err := s.Sync(ctx, 1)

		require.NoError(t, err)
		assert.Equal(t, &model.SyncStats{
			Organizations:   1,
			Repositories:    1,
			Commits:         2,
			PullRequests:    1,
			Issues:          1,
			IssueChangelogs: 2,
			Users:           1,
		}, stats)
		st.AssertExpectations(t)
	})

	t.Run("missing integration aborts the run", func(t *testing.T) {
		st := new(MockStore)
		s := newTestSyncer(st, happyGitHub())

		st.On("GetIntegration", ctx, int64(9)).Return(nil, apperrors.ErrIntegrationNotFound).Once()

		_, err := s.Sync(ctx, 9)

		assert.ErrorIs(t, err, apperrors.ErrIntegrationNotFound)
		st.AssertNotCalled(t, "UpsertOrganization")
	})

	t.Run("inactive integration aborts the run", func(t *testing.T) {
		st := new(MockStore)
		s := newTestSyncer(st, happyGitHub())

		in := activeIntegration()
		in.Status = model.StatusDisconnected
		st.On("GetIntegration", ctx, int64(1)).Return(in, nil).Once()

		_, err := s.Sync(ctx, 1)

		assert.ErrorIs(t, err, apperrors.ErrIntegrationInactive)
		st.AssertNotCalled(t, "UpsertOrganization")
	})

	t.Run("organizations fetch failure aborts the run", func(t *testing.T) {
		st := new(MockStore)
		gh := happyGitHub()
		gh.orgsErr = errors.New("boom")
		s := newTestSyncer(st, gh)

		st.On("GetIntegration", ctx, int64(1)).Return(activeIntegration(), nil).Once()

		_, err := s.Sync(ctx, 1)

		assert.Error(t, err)
		st.AssertNotCalled(t, "TouchIntegrationLastSynced")
	})

	t.Run("commits fetch failure contributes zero and the run continues", func(t *testing.T) {
		st := new(MockStore)
		gh := happyGitHub()
		gh.commitsErr = errors.New("commits unavailable")
		s := newTestSyncer(st, gh)

		st.On("GetIntegration", ctx, int64(1)).Return(activeIntegration(), nil).Once()
		st.On("UpsertOrganization", ctx, mock.Anything).Return(model.Organization{ID: 10, IntegrationID: 1, Login: "acme"}, nil).Once()
		st.On("UpsertRepository", ctx, mock.Anything).Return(model.Repository{ID: 20, IntegrationID: 1, OrganizationID: 10, Name: "widgets", OwnerLogin: "acme"}, nil).Once()
		st.On("UpsertPullRequests", ctx, mock.Anything).Return(1, nil).Once()
		st.On("UpsertIssues", ctx, mock.Anything).Return(1, nil).Once()
		st.On("GetIssueByRepoAndNumber", ctx, int64(20), 5).Return(&model.Issue{ID: 30, RepositoryID: 20, Number: 5}, nil).Once()
		st.On("UpsertIssueChangelogs", ctx, mock.Anything).Return(2, nil).Once()
		st.On("UpsertUsers", ctx, mock.Anything).Return(1, nil).Once()
		st.On("TouchIntegrationLastSynced", ctx, int64(1)).Return(nil).Once()

		stats, err := s.Sync(ctx, 1)

		require.NoError(t, err)
		assert.Equal(t, 0, stats.Commits)
		assert.Equal(t, 1, stats.PullRequests)
		st.AssertNotCalled(t, "UpsertCommits")
	})

	t.Run("commit write failure contributes zero and the run continues", func(t *testing.T) {
		st := new(MockStore)
		s := newTestSyncer(st, happyGitHub())

		st.On("GetIntegration", ctx, int64(1)).Return(activeIntegration(), nil).Once()
		st.On("UpsertOrganization", ctx, mock.Anything).Return(model.Organization{ID: 10, IntegrationID: 1, Login: "acme"}, nil).Once()
		st.On("UpsertRepository", ctx, mock.Anything).Return(model.Repository{ID: 20, IntegrationID: 1, OrganizationID: 10, Name: "widgets", OwnerLogin: "acme"}, nil).Once()
		st.On("UpsertCommits", ctx, mock.Anything).Return(0, errors.New("constraint violation")).Once()
		st.On("UpsertPullRequests", ctx, mock.Anything).Return(1, nil).Once()
		st.On("UpsertIssues", ctx, mock.Anything).Return(1, nil).Once()
		st.On("GetIssueByRepoAndNumber", ctx, int64(20), 5).Return(&model.Issue{ID: 30, RepositoryID: 20, Number: 5}, nil).Once()
		st.On("UpsertIssueChangelogs", ctx, mock.Anything).Return(2, nil).Once()
		st.On("UpsertUsers", ctx, mock.Anything).Return(1, nil).Once()
		st.On("TouchIntegrationLastSynced", ctx, int64(1)).Return(nil).Once()

		stats, err := s.Sync(ctx, 1)

		require.NoError(t, err)
		assert.Equal(t, 0, stats.Commits)
		assert.Equal(t, 2, stats.IssueChangelogs)
	})

	t.Run("events of an unstored issue are skipped", func(t *testing.T) {
		st := new(MockStore)
		s := newTestSyncer(st, happyGitHub())

		st.On("GetIntegration", ctx, int64(1)).Return(activeIntegration(), nil).Once()
		st.On("UpsertOrganization", ctx, mock.Anything).Return(model.Organization{ID: 10, IntegrationID: 1, Login: "acme"}, nil).Once()
		st.On("UpsertRepository", ctx, mock.Anything).Return(model.Repository{ID: 20, IntegrationID: 1, OrganizationID: 10, Name: "widgets", OwnerLogin: "acme"}, nil).Once()
		st.On("UpsertCommits", ctx, mock.Anything).Return(2, nil).Once()
		st.On("UpsertPullRequests", ctx, mock.Anything).Return(1, nil).Once()
		st.On("UpsertIssues", ctx, mock.Anything).Return(1, nil).Once()
		st.On("GetIssueByRepoAndNumber", ctx, int64(20), 5).Return(nil, pgx.ErrNoRows).Once()
		st.On("UpsertUsers", ctx, mock.Anything).Return(1, nil).Once()
		st.On("TouchIntegrationLastSynced", ctx, int64(1)).Return(nil).Once()

		stats, err := s.Sync(ctx, 1)

		require.NoError(t, err)
		assert.Equal(t, 0, stats.IssueChangelogs)
		st.AssertNotCalled(t, "UpsertIssueChangelogs")
	})

	t.Run("members fetch failure is logged and the run completes", func(t *testing.T) {
		st := new(MockStore)
		gh := happyGitHub()
		gh.membersErr = errors.New("members unavailable")
		s := newTestSyncer(st, gh)

		st.On("GetIntegration", ctx, int64(1)).Return(activeIntegration(), nil).Once()
		st.On("UpsertOrganization", ctx, mock.Anything).Return(model.Organization{ID: 10, IntegrationID: 1, Login: "acme"}, nil).Once()
		st.On("UpsertRepository", ctx, mock.Anything).Return(model.Repository{ID: 20, IntegrationID: 1, OrganizationID: 10, Name: "widgets", OwnerLogin: "acme"}, nil).Once()
		st.On("UpsertCommits", ctx, mock.Anything).Return(2, nil).Once()
		st.On("UpsertPullRequests", ctx, mock.Anything).Return(1, nil).Once()
		st.On("UpsertIssues", ctx, mock.Anything).Return(1, nil).Once()
		st.On("GetIssueByRepoAndNumber", ctx, int64(20), 5).Return(&model.Issue{ID: 30, RepositoryID: 20, Number: 5}, nil).Once()
		st.On("UpsertIssueChangelogs", ctx, mock.Anything).Return(2, nil).Once()
		st.On("TouchIntegrationLastSynced", ctx, int64(1)).Return(nil).Once()

		stats, err := s.Sync(ctx, 1)

		require.NoError(t, err)
		assert.Equal(t, 0, stats.Users)
		st.AssertNotCalled(t, "UpsertUsers")
	})

	t.Run("cancelled context stops the run at the next checkpoint", func(t *testing.T) {
		st := new(MockStore)
		s := newTestSyncer(st, happyGitHub())

		cctx, cancel := context.WithCancel(ctx)
		st.On("GetIntegration", cctx, int64(1)).Return(activeIntegration(), nil).Once()
		st.On("UpsertOrganization", cctx, mock.Anything).Run(func(args mock.Arguments) {
			cancel()
		}).Return(model.Organization{ID: 10, IntegrationID: 1, Login: "acme"}, nil).Once()

		_, err := s.Sync(cctx, 1)

		assert.ErrorIs(t, err, context.Canceled)
		st.AssertNotCalled(t, "UpsertRepository")
	})
}

func TestSyncer_PooledRun(t *testing.T) {
	ctx := context.Background()

	t.Run("pooled fetch produces the same writes", func(t *testing.T) {
		st := new(MockStore)
		gh := happyGitHub()
		s := newTestSyncer(st, gh)
		s.UseWorkerPool(2)
		defer s.Close()

		st.On("GetIntegration", ctx, int64(1)).Return(activeIntegration(), nil).Once()
		st.On("UpsertOrganization", ctx, mock.Anything).Return(model.Organization{ID: 10, IntegrationID: 1, Login: "acme"}, nil).Once()
		st.On("UpsertRepository", ctx, mock.Anything).Return(model.Repository{ID: 20, IntegrationID: 1, OrganizationID: 10, Name: "widgets", OwnerLogin: "acme"}, nil).Once()
		st.On("UpsertCommits", ctx, mock.Anything).Return(2, nil).Once()
		st.On("UpsertPullRequests", ctx, mock.Anything).Return(1, nil).Once()
		st.On("UpsertIssues", ctx, mock.Anything).Return(1, nil).Once()
		st.On("GetIssueByRepoAndNumber", ctx, int64(20), 5).Return(&model.Issue{ID: 30, RepositoryID: 20, Number: 5}, nil).Once()
		st.On("UpsertIssueChangelogs", ctx, mock.Anything).Return(2, nil).Once()
		st.On("UpsertUsers", ctx, mock.Anything).Return(1, nil).Once()
		st.On("TouchIntegrationLastSynced", ctx, int64(1)).Return(nil).Once()

		stats, err := s.Sync(ctx, 1)

		require.NoError(t, err)
		assert.Equal(t, 2, stats.Commits)
		assert.Equal(t, 2, stats.IssueChangelogs)
		st.AssertExpectations(t)
	})

	t.Run("failed job skips the repository but finishes the run", func(t *testing.T) {
		st := new(MockStore)
		gh := happyGitHub()
		gh.issuesErr = errors.New("issues unavailable")
		s := newTestSyncer(st, gh)
		s.UseWorkerPool(2)
		defer s.Close()

		st.On("GetIntegration", ctx, int64(1)).Return(activeIntegration(), nil).Once()
		st.On("UpsertOrganization", ctx, mock.Anything).Return(model.Organization{ID: 10, IntegrationID: 1, Login: "acme"}, nil).Once()
		st.On("UpsertRepository", ctx, mock.Anything).Return(model.Repository{ID: 20, IntegrationID: 1, OrganizationID: 10, Name: "widgets", OwnerLogin: "acme"}, nil).Once()
		st.On("UpsertUsers", ctx, mock.Anything).Return(1, nil).Once()
		st.On("TouchIntegrationLastSynced", ctx, int64(1)).Return(nil).Once()

		stats, err := s.Sync(ctx, 1)

		require.NoError(t, err)
		assert.Equal(t, 0, stats.Commits)
		assert.Equal(t, 0, stats.Issues)
		assert.Equal(t, 1, stats.Users)
		st.AssertNotCalled(t, "UpsertCommits")
	})
}
