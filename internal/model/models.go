// internal/model/models.go
package model

import "time"

// Integration status values.
const (
	StatusActive       = "active"
	StatusDisconnected = "disconnected"
)

// Integration represents one connected GitHub account (credential/session).
// The natural key is (UserID, Provider).
type Integration struct {
	ID           int64      `json:"id"`
	UserID       string     `json:"userId"`
	Provider     string     `json:"provider"`
	AccessToken  string     `json:"-"`
	RefreshToken *string    `json:"-"`
	TokenType    *string    `json:"tokenType,omitempty"`
	Scope        *string    `json:"scope,omitempty"`
	Status       string     `json:"status"`
	ConnectedAt  time.Time  `json:"connectedAt"`
	LastSyncedAt *time.Time `json:"lastSyncedAt,omitempty"`

	// Profile of the GitHub account behind the token.
	GithubUserID    int64   `json:"githubUserId"`
	GithubLogin     string  `json:"githubLogin"`
	GithubName      *string `json:"githubName,omitempty"`
	GithubEmail     *string `json:"githubEmail,omitempty"`
	GithubAvatarURL *string `json:"githubAvatarUrl,omitempty"`
	GithubHTMLURL   *string `json:"githubHtmlUrl,omitempty"`

	DBCreatedAt time.Time `json:"-"`
	DBUpdatedAt time.Time `json:"-"`
}

// Organization represents a GitHub organization the integration belongs to.
// The natural key is GithubID.
type Organization struct {
	ID            int64
	IntegrationID int64
	GithubID      int64
	Login         string
	Name          *string
	Description   *string
	HTMLURL       string
	AvatarURL     string
	Type          string
	PublicRepos   int
	Followers     int
	Following     int
	OrgCreatedAt  *time.Time
	OrgUpdatedAt  *time.Time
	DBCreatedAt   time.Time
	DBUpdatedAt   time.Time
}

// Repository represents a repository within an organization.
// The natural key is GithubID.
type Repository struct {
	ID              int64
	IntegrationID   int64
	OrganizationID  int64
	GithubID        int64
	Name            string
	FullName        string
	Description     *string
	HTMLURL         string
	Private         bool
	Fork            bool
	Size            int
	StarsCount      int
	WatchersCount   int
	ForksCount      int
	OpenIssuesCount int
	Language        *string
	DefaultBranch   string
	OwnerLogin      string
	OwnerID         int64
	OwnerType       string
	PushedAt        *time.Time
	RepoCreatedAt   *time.Time
	RepoUpdatedAt   *time.Time
	DBCreatedAt     time.Time
	DBUpdatedAt     time.Time
}

// Commit is one commit in a repository, keyed by its content hash. Parent
// hashes may reference commits that have not been synced yet.
type Commit struct {
	ID             int64
	IntegrationID  int64
	RepositoryID   int64
	SHA            string
	Message        string
	HTMLURL        string
	AuthorName     *string
	AuthorEmail    *string
	AuthorDate     *time.Time
	CommitterName  *string
	CommitterEmail *string
	CommitterDate  *time.Time
	ParentSHAs     []string
	Additions      *int
	Deletions      *int
	TotalChanges   *int
	DBCreatedAt    time.Time
	DBUpdatedAt    time.Time
}

// PullRequest is keyed by (RepositoryID, Number).
type PullRequest struct {
	ID            int64
	IntegrationID int64
	RepositoryID  int64
	GithubID      int64
	Number        int
	Title         string
	State         string
	Body          *string
	HTMLURL       string
	CreatedAt     *time.Time
	UpdatedAt     *time.Time
	ClosedAt      *time.Time
	MergedAt      *time.Time
	UserLogin     string
	UserID        int64
	UserAvatarURL string
	HeadRef       string
	HeadSHA       string
	BaseRef       string
	BaseSHA       string
	Merged        bool
	Mergeable     *bool
	Comments      int
	Commits       int
	Additions     int
	Deletions     int
	ChangedFiles  int
	DBCreatedAt   time.Time
	DBUpdatedAt   time.Time
}

// Label is a flattened issue label.
type Label struct {
	GithubID int64  `json:"id"`
	Name     string `json:"name"`
	Color    string `json:"color"`
}

// Assignee is a flattened issue assignee.
type Assignee struct {
	Login    string `json:"login"`
	GithubID int64  `json:"id"`
}

// Issue is keyed by (RepositoryID, Number).
type Issue struct {
	ID            int64
	IntegrationID int64
	RepositoryID  int64
	GithubID      int64
	Number        int
	Title         string
	State         string
	Body          *string
	HTMLURL       string
	CreatedAt     *time.Time
	UpdatedAt     *time.Time
	ClosedAt      *time.Time
	UserLogin     string
	UserID        int64
	UserAvatarURL string
	Labels        []Label
	Assignees     []Assignee
	Comments      int
	Locked        bool
	DBCreatedAt   time.Time
	DBUpdatedAt   time.Time
}

// IssueChangelog is one timeline event of an issue, keyed by
// (IssueID, GithubEventID).
type IssueChangelog struct {
	ID            int64
	IntegrationID int64
	RepositoryID  int64
	IssueID       int64
	GithubEventID int64
	Event         string
	CreatedAt     *time.Time
	ActorLogin    string
	ActorID       int64
	LabelName     *string
	LabelColor    *string
	AssigneeLogin *string
	AssigneeID    *int64
	RenameFrom    *string
	RenameTo      *string
	CommitSHA     *string
	DBCreatedAt   time.Time
	DBUpdatedAt   time.Time
}

// User is an organization member. The natural key is GithubID.
type User struct {
	ID             int64
	IntegrationID  int64
	OrganizationID int64
	GithubID       int64
	Login          string
	Name           *string
	Email          *string
	AvatarURL      string
	HTMLURL        string
	Type           string
	SiteAdmin      bool
	Company        *string
	Blog           *string
	Location       *string
	Bio            *string
	PublicRepos    int
	PublicGists    int
	Followers      int
	Following      int
	UserCreatedAt  *time.Time
	UserUpdatedAt  *time.Time
	DBCreatedAt    time.Time
	DBUpdatedAt    time.Time
}

// SyncStats aggregates the number of records written per entity kind during
// one sync run. A failed stage contributes zero to its counter.
type SyncStats struct {
	Organizations   int `json:"organizations"`
	Repositories    int `json:"repositories"`
	Commits         int `json:"commits"`
	PullRequests    int `json:"pullRequests"`
	Issues          int `json:"issues"`
	IssueChangelogs int `json:"issueChangelogs"`
	Users           int `json:"users"`
}
