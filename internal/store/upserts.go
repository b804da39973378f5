// internal/store/upserts.go
package store

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"

	"github-integration-service/internal/model"
)

// UpsertOrganization writes one organization keyed by its external id and
// returns the stored row, including the internal id used as a foreign key by
// later stages.
func (db *DB) UpsertOrganization(ctx context.Context, org model.Organization) (model.Organization, error) {
	row := db.pool.QueryRow(ctx, `
		INSERT INTO organizations (
			integration_id, github_id, login, name, description, html_url, avatar_url,
			type, public_repos, followers, following, org_created_at, org_updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (github_id) DO UPDATE SET
			integration_id = EXCLUDED.integration_id,
			login = EXCLUDED.login,
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			html_url = EXCLUDED.html_url,
			avatar_url = EXCLUDED.avatar_url,
			type = EXCLUDED.type,
			public_repos = EXCLUDED.public_repos,
			followers = EXCLUDED.followers,
			following = EXCLUDED.following,
			org_created_at = EXCLUDED.org_created_at,
			org_updated_at = EXCLUDED.org_updated_at,
			db_updated_at = now()
		RETURNING id, db_created_at, db_updated_at`,
		org.IntegrationID, org.GithubID, org.Login, org.Name, org.Description, org.HTMLURL,
		org.AvatarURL, org.Type, org.PublicRepos, org.Followers, org.Following,
		org.OrgCreatedAt, org.OrgUpdatedAt)

	err := row.Scan(&org.ID, &org.DBCreatedAt, &org.DBUpdatedAt)
	return org, err
}

// UpsertRepository writes one repository keyed by its external id and returns
// the stored row.
func (db *DB) UpsertRepository(ctx context.Context, repo model.Repository) (model.Repository, error) {
	row := db.pool.QueryRow(ctx, `
		INSERT INTO repositories (
			integration_id, organization_id, github_id, name, full_name, description,
			html_url, private, fork, size, stars_count, watchers_count, forks_count,
			open_issues_count, language, default_branch, owner_login, owner_id,
			owner_type, pushed_at, repo_created_at, repo_updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
			$16, $17, $18, $19, $20, $21, $22)
		ON CONFLICT (github_id) DO UPDATE SET
			integration_id = EXCLUDED.integration_id,
			organization_id = EXCLUDED.organization_id,
			name = EXCLUDED.name,
			full_name = EXCLUDED.full_name,
			description = EXCLUDED.description,
			html_url = EXCLUDED.html_url,
			private = EXCLUDED.private,
			fork = EXCLUDED.fork,
			size = EXCLUDED.size,
			stars_count = EXCLUDED.stars_count,
			watchers_count = EXCLUDED.watchers_count,
			forks_count = EXCLUDED.forks_count,
			open_issues_count = EXCLUDED.open_issues_count,
			language = EXCLUDED.language,
			default_branch = EXCLUDED.default_branch,
			owner_login = EXCLUDED.owner_login,
			owner_id = EXCLUDED.owner_id,
			owner_type = EXCLUDED.owner_type,
			pushed_at = EXCLUDED.pushed_at,
			repo_created_at = EXCLUDED.repo_created_at,
			repo_updated_at = EXCLUDED.repo_updated_at,
			db_updated_at = now()
		RETURNING id, db_created_at, db_updated_at`,
		repo.IntegrationID, repo.OrganizationID, repo.GithubID, repo.Name, repo.FullName,
		repo.Description, repo.HTMLURL, repo.Private, repo.Fork, repo.Size, repo.StarsCount,
		repo.WatchersCount, repo.ForksCount, repo.OpenIssuesCount, repo.Language,
		repo.DefaultBranch, repo.OwnerLogin, repo.OwnerID, repo.OwnerType, repo.PushedAt,
		repo.RepoCreatedAt, repo.RepoUpdatedAt)

	err := row.Scan(&repo.ID, &repo.DBCreatedAt, &repo.DBUpdatedAt)
	return repo, err
}

const upsertCommitSQL = `
	INSERT INTO commits (
		integration_id, repository_id, sha, message, html_url, author_name,
		author_email, author_date, committer_name, committer_email, committer_date,
		parent_shas, additions, deletions, total_changes
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	ON CONFLICT (sha) DO UPDATE SET
		integration_id = EXCLUDED.integration_id,
		repository_id = EXCLUDED.repository_id,
		message = EXCLUDED.message,
		html_url = EXCLUDED.html_url,
		author_name = EXCLUDED.author_name,
		author_email = EXCLUDED.author_email,
		author_date = EXCLUDED.author_date,
		committer_name = EXCLUDED.committer_name,
		committer_email = EXCLUDED.committer_email,
		committer_date = EXCLUDED.committer_date,
		parent_shas = EXCLUDED.parent_shas,
		additions = EXCLUDED.additions,
		deletions = EXCLUDED.deletions,
		total_changes = EXCLUDED.total_changes,
		db_updated_at = now()`

// UpsertCommits bulk-writes commits keyed by sha. One batch per call; a
// failure fails the whole batch so the caller can treat the stage as
// zero-contribution.
func (db *DB) UpsertCommits(ctx context.Context, commits []model.Commit) (int, error) {
	if len(commits) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, c := range commits {
		parents := c.ParentSHAs
		if parents == nil {
			parents = []string{}
		}
		batch.Queue(upsertCommitSQL,
			c.IntegrationID, c.RepositoryID, c.SHA, c.Message, c.HTMLURL, c.AuthorName,
			c.AuthorEmail, c.AuthorDate, c.CommitterName, c.CommitterEmail, c.CommitterDate,
			parents, c.Additions, c.Deletions, c.TotalChanges)
	}
	return db.runBatch(ctx, batch)
}

const upsertPullRequestSQL = `
	INSERT INTO pull_requests (
		integration_id, repository_id, github_id, number, title, state, body,
		html_url, created_at, updated_at, closed_at, merged_at, user_login, user_id,
		user_avatar_url, head_ref, head_sha, base_ref, base_sha, merged, mergeable,
		comments, commits, additions, deletions, changed_files
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
		$17, $18, $19, $20, $21, $22, $23, $24, $25, $26)
	ON CONFLICT (repository_id, number) DO UPDATE SET
		integration_id = EXCLUDED.integration_id,
		github_id = EXCLUDED.github_id,
		title = EXCLUDED.title,
		state = EXCLUDED.state,
		body = EXCLUDED.body,
		html_url = EXCLUDED.html_url,
		created_at = EXCLUDED.created_at,
		updated_at = EXCLUDED.updated_at,
		closed_at = EXCLUDED.closed_at,
		merged_at = EXCLUDED.merged_at,
		user_login = EXCLUDED.user_login,
		user_id = EXCLUDED.user_id,
		user_avatar_url = EXCLUDED.user_avatar_url,
		head_ref = EXCLUDED.head_ref,
		head_sha = EXCLUDED.head_sha,
		base_ref = EXCLUDED.base_ref,
		base_sha = EXCLUDED.base_sha,
		merged = EXCLUDED.merged,
		mergeable = EXCLUDED.mergeable,
		comments = EXCLUDED.comments,
		commits = EXCLUDED.commits,
		additions = EXCLUDED.additions,
		deletions = EXCLUDED.deletions,
		changed_files = EXCLUDED.changed_files,
		db_updated_at = now()`

// UpsertPullRequests bulk-writes pull requests keyed by (repository, number).
func (db *DB) UpsertPullRequests(ctx context.Context, prs []model.PullRequest) (int, error) {
	if len(prs) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, pr := range prs {
		batch.Queue(upsertPullRequestSQL,
			pr.IntegrationID, pr.RepositoryID, pr.GithubID, pr.Number, pr.Title, pr.State,
			pr.Body, pr.HTMLURL, pr.CreatedAt, pr.UpdatedAt, pr.ClosedAt, pr.MergedAt,
			pr.UserLogin, pr.UserID, pr.UserAvatarURL, pr.HeadRef, pr.HeadSHA, pr.BaseRef,
			pr.BaseSHA, pr.Merged, pr.Mergeable, pr.Comments, pr.Commits, pr.Additions,
			pr.Deletions, pr.ChangedFiles)
	}
	return db.runBatch(ctx, batch)
}

const upsertIssueSQL = `
	INSERT INTO issues (
		integration_id, repository_id, github_id, number, title, state, body,
		html_url, created_at, updated_at, closed_at, user_login, user_id,
		user_avatar_url, labels, assignees, comments, locked
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
		$15::jsonb, $16::jsonb, $17, $18)
	ON CONFLICT (repository_id, number) DO UPDATE SET
		integration_id = EXCLUDED.integration_id,
		github_id = EXCLUDED.github_id,
		title = EXCLUDED.title,
		state = EXCLUDED.state,
		body = EXCLUDED.body,
		html_url = EXCLUDED.html_url,
		created_at = EXCLUDED.created_at,
		updated_at = EXCLUDED.updated_at,
		closed_at = EXCLUDED.closed_at,
		user_login = EXCLUDED.user_login,
		user_id = EXCLUDED.user_id,
		user_avatar_url = EXCLUDED.user_avatar_url,
		labels = EXCLUDED.labels,
		assignees = EXCLUDED.assignees,
		comments = EXCLUDED.comments,
		locked = EXCLUDED.locked,
		db_updated_at = now()`

// UpsertIssues bulk-writes issues keyed by (repository, number).
func (db *DB) UpsertIssues(ctx context.Context, issues []model.Issue) (int, error) {
	if len(issues) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, is := range issues {
		labels, err := marshalJSONB(is.Labels)
		if err != nil {
			return 0, err
		}
		assignees, err := marshalJSONB(is.Assignees)
		if err != nil {
			return 0, err
		}
		batch.Queue(upsertIssueSQL,
			is.IntegrationID, is.RepositoryID, is.GithubID, is.Number, is.Title, is.State,
			is.Body, is.HTMLURL, is.CreatedAt, is.UpdatedAt, is.ClosedAt, is.UserLogin,
			is.UserID, is.UserAvatarURL, labels, assignees, is.Comments, is.Locked)
	}
	return db.runBatch(ctx, batch)
}

const upsertIssueChangelogSQL = `
	INSERT INTO issue_changelogs (
		integration_id, repository_id, issue_id, github_event_id, event, created_at,
		actor_login, actor_id, label_name, label_color, assignee_login, assignee_id,
		rename_from, rename_to, commit_sha
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	ON CONFLICT (issue_id, github_event_id) DO UPDATE SET
		integration_id = EXCLUDED.integration_id,
		repository_id = EXCLUDED.repository_id,
		event = EXCLUDED.event,
		created_at = EXCLUDED.created_at,
		actor_login = EXCLUDED.actor_login,
		actor_id = EXCLUDED.actor_id,
		label_name = EXCLUDED.label_name,
		label_color = EXCLUDED.label_color,
		assignee_login = EXCLUDED.assignee_login,
		assignee_id = EXCLUDED.assignee_id,
		rename_from = EXCLUDED.rename_from,
		rename_to = EXCLUDED.rename_to,
		commit_sha = EXCLUDED.commit_sha,
		db_updated_at = now()`

// UpsertIssueChangelogs bulk-writes issue events keyed by
// (issue, external event id).
func (db *DB) UpsertIssueChangelogs(ctx context.Context, events []model.IssueChangelog) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, ev := range events {
		batch.Queue(upsertIssueChangelogSQL,
			ev.IntegrationID, ev.RepositoryID, ev.IssueID, ev.GithubEventID, ev.Event,
			ev.CreatedAt, ev.ActorLogin, ev.ActorID, ev.LabelName, ev.LabelColor,
			ev.AssigneeLogin, ev.AssigneeID, ev.RenameFrom, ev.RenameTo, ev.CommitSHA)
	}
	return db.runBatch(ctx, batch)
}

const upsertUserSQL = `
	INSERT INTO users (
		integration_id, organization_id, github_id, login, name, email, avatar_url,
		html_url, type, site_admin, company, blog, location, bio, public_repos,
		public_gists, followers, following, user_created_at, user_updated_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
		$16, $17, $18, $19, $20)
	ON CONFLICT (github_id) DO UPDATE SET
		integration_id = EXCLUDED.integration_id,
		organization_id = EXCLUDED.organization_id,
		login = EXCLUDED.login,
		name = EXCLUDED.name,
		email = EXCLUDED.email,
		avatar_url = EXCLUDED.avatar_url,
		html_url = EXCLUDED.html_url,
		type = EXCLUDED.type,
		site_admin = EXCLUDED.site_admin,
		company = EXCLUDED.company,
		blog = EXCLUDED.blog,
		location = EXCLUDED.location,
		bio = EXCLUDED.bio,
		public_repos = EXCLUDED.public_repos,
		public_gists = EXCLUDED.public_gists,
		followers = EXCLUDED.followers,
		following = EXCLUDED.following,
		user_created_at = EXCLUDED.user_created_at,
		user_updated_at = EXCLUDED.user_updated_at,
		db_updated_at = now()`

// UpsertUsers bulk-writes organization members keyed by their external id.
func (db *DB) UpsertUsers(ctx context.Context, users []model.User) (int, error) {
	if len(users) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, u := range users {
		batch.Queue(upsertUserSQL,
			u.IntegrationID, u.OrganizationID, u.GithubID, u.Login, u.Name, u.Email,
			u.AvatarURL, u.HTMLURL, u.Type, u.SiteAdmin, u.Company, u.Blog, u.Location,
			u.Bio, u.PublicRepos, u.PublicGists, u.Followers, u.Following,
			u.UserCreatedAt, u.UserUpdatedAt)
	}
	return db.runBatch(ctx, batch)
}

// GetIssueByRepoAndNumber re-reads a just-written issue by its natural key.
// The event stage uses this instead of trusting the upsert result, so a
// skipped or failed issue write skips that issue's events.
func (db *DB) GetIssueByRepoAndNumber(ctx context.Context, repositoryID int64, number int) (*model.Issue, error) {
	row := db.pool.QueryRow(ctx, `
		SELECT id, integration_id, repository_id, github_id, number, title, state, body,
			html_url, created_at, updated_at, closed_at, user_login, user_id,
			user_avatar_url, labels, assignees, comments, locked, db_created_at, db_updated_at
		FROM issues WHERE repository_id = $1 AND number = $2`,
		repositoryID, number)

	var (
		is        model.Issue
		labels    []byte
		assignees []byte
	)
	err := row.Scan(
		&is.ID, &is.IntegrationID, &is.RepositoryID, &is.GithubID, &is.Number, &is.Title,
		&is.State, &is.Body, &is.HTMLURL, &is.CreatedAt, &is.UpdatedAt, &is.ClosedAt,
		&is.UserLogin, &is.UserID, &is.UserAvatarURL, &labels, &assignees, &is.Comments,
		&is.Locked, &is.DBCreatedAt, &is.DBUpdatedAt)
	if err != nil {
		return nil, err
	}

	if len(labels) > 0 {
		if err := json.Unmarshal(labels, &is.Labels); err != nil {
			return nil, err
		}
	}
	if len(assignees) > 0 {
		if err := json.Unmarshal(assignees, &is.Assignees); err != nil {
			return nil, err
		}
	}
	return &is, nil
}

// IsNotFound reports whether err is the store's row-not-found condition.
func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// runBatch executes all queued statements and reports how many records were
// processed. Execution stops at the first failing statement.
func (db *DB) runBatch(ctx context.Context, batch *pgx.Batch) (int, error) {
	br := db.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			return 0, err
		}
	}
	return batch.Len(), nil
}

// marshalJSONB encodes a slice for a jsonb column, storing an empty array
// instead of SQL null when the slice is nil.
func marshalJSONB[T any](v []T) ([]byte, error) {
	if v == nil {
		v = []T{}
	}
	return json.Marshal(v)
}
