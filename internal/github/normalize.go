// internal/github/normalize.go
package github

import (
	"time"

	"github.com/google/go-github/v62/github"

	"github-integration-service/internal/model"
)

// The translators below map raw API objects to the flat persisted shapes.
// They are pure and defensive: a missing nested object (a commit without an
// author, an event without a label) leaves the corresponding fields unset
// instead of failing or inventing defaults.

func toOrganization(o *github.Organization) model.Organization {
	return model.Organization{
		GithubID:     o.GetID(),
		Login:        o.GetLogin(),
		Name:         o.Name,
		Description:  o.Description,
		HTMLURL:      o.GetHTMLURL(),
		AvatarURL:    o.GetAvatarURL(),
		Type:         o.GetType(),
		PublicRepos:  o.GetPublicRepos(),
		Followers:    o.GetFollowers(),
		Following:    o.GetFollowing(),
		OrgCreatedAt: timePtr(o.CreatedAt),
		OrgUpdatedAt: timePtr(o.UpdatedAt),
	}
}

func toRepository(r *github.Repository) model.Repository {
	return model.Repository{
		GithubID:        r.GetID(),
		Name:            r.GetName(),
		FullName:        r.GetFullName(),
		Description:     r.Description,
		HTMLURL:         r.GetHTMLURL(),
		Private:         r.GetPrivate(),
		Fork:            r.GetFork(),
		Size:            r.GetSize(),
		StarsCount:      r.GetStargazersCount(),
		WatchersCount:   r.GetWatchersCount(),
		ForksCount:      r.GetForksCount(),
		OpenIssuesCount: r.GetOpenIssuesCount(),
		Language:        r.Language,
		DefaultBranch:   r.GetDefaultBranch(),
		OwnerLogin:      r.GetOwner().GetLogin(),
		OwnerID:         r.GetOwner().GetID(),
		OwnerType:       r.GetOwner().GetType(),
		PushedAt:        timePtr(r.PushedAt),
		RepoCreatedAt:   timePtr(r.CreatedAt),
		RepoUpdatedAt:   timePtr(r.UpdatedAt),
	}
}

func toCommit(rc *github.RepositoryCommit) model.Commit {
	c := model.Commit{
		SHA:     rc.GetSHA(),
		Message: rc.GetCommit().GetMessage(),
		HTMLURL: rc.GetHTMLURL(),
	}

	if author := rc.GetCommit().GetAuthor(); author != nil {
		c.AuthorName = author.Name
		c.AuthorEmail = author.Email
		c.AuthorDate = timePtr(author.Date)
	}
	if committer := rc.GetCommit().GetCommitter(); committer != nil {
		c.CommitterName = committer.Name
		c.CommitterEmail = committer.Email
		c.CommitterDate = timePtr(committer.Date)
	}
	for _, p := range rc.Parents {
		c.ParentSHAs = append(c.ParentSHAs, p.GetSHA())
	}
	if stats := rc.GetStats(); stats != nil {
		c.Additions = stats.Additions
		c.Deletions = stats.Deletions
		c.TotalChanges = stats.Total
	}
	return c
}

func toPullRequest(pr *github.PullRequest) model.PullRequest {
	return model.PullRequest{
		GithubID:      pr.GetID(),
		Number:        pr.GetNumber(),
		Title:         pr.GetTitle(),
		State:         pr.GetState(),
		Body:          pr.Body,
		HTMLURL:       pr.GetHTMLURL(),
		CreatedAt:     timePtr(pr.CreatedAt),
		UpdatedAt:     timePtr(pr.UpdatedAt),
		ClosedAt:      timePtr(pr.ClosedAt),
		MergedAt:      timePtr(pr.MergedAt),
		UserLogin:     pr.GetUser().GetLogin(),
		UserID:        pr.GetUser().GetID(),
		UserAvatarURL: pr.GetUser().GetAvatarURL(),
		HeadRef:       pr.GetHead().GetRef(),
		HeadSHA:       pr.GetHead().GetSHA(),
		BaseRef:       pr.GetBase().GetRef(),
		BaseSHA:       pr.GetBase().GetSHA(),
		// The list endpoint leaves the merged flag unset; merged_at is
		// authoritative there.
		Merged:       pr.GetMerged() || pr.MergedAt != nil,
		Mergeable:    pr.Mergeable,
		Comments:     pr.GetComments(),
		Commits:      pr.GetCommits(),
		Additions:    pr.GetAdditions(),
		Deletions:    pr.GetDeletions(),
		ChangedFiles: pr.GetChangedFiles(),
	}
}

func toIssue(is *github.Issue) model.Issue {
	m := model.Issue{
		GithubID:      is.GetID(),
		Number:        is.GetNumber(),
		Title:         is.GetTitle(),
		State:         is.GetState(),
		Body:          is.Body,
		HTMLURL:       is.GetHTMLURL(),
		CreatedAt:     timePtr(is.CreatedAt),
		UpdatedAt:     timePtr(is.UpdatedAt),
		ClosedAt:      timePtr(is.ClosedAt),
		UserLogin:     is.GetUser().GetLogin(),
		UserID:        is.GetUser().GetID(),
		UserAvatarURL: is.GetUser().GetAvatarURL(),
		Comments:      is.GetComments(),
		Locked:        is.GetLocked(),
	}

	for _, l := range is.Labels {
		m.Labels = append(m.Labels, model.Label{
			GithubID: l.GetID(),
			Name:     l.GetName(),
			Color:    l.GetColor(),
		})
	}
	for _, a := range is.Assignees {
		m.Assignees = append(m.Assignees, model.Assignee{
			Login:    a.GetLogin(),
			GithubID: a.GetID(),
		})
	}
	return m
}

func toIssueChangelog(ev *github.IssueEvent) model.IssueChangelog {
	c := model.IssueChangelog{
		GithubEventID: ev.GetID(),
		Event:         ev.GetEvent(),
		CreatedAt:     timePtr(ev.CreatedAt),
		ActorLogin:    ev.GetActor().GetLogin(),
		ActorID:       ev.GetActor().GetID(),
		CommitSHA:     ev.CommitID,
	}

	if label := ev.GetLabel(); label != nil {
		c.LabelName = label.Name
		c.LabelColor = label.Color
	}
	if assignee := ev.GetAssignee(); assignee != nil {
		c.AssigneeLogin = assignee.Login
		c.AssigneeID = assignee.ID
	}
	if rename := ev.GetRename(); rename != nil {
		c.RenameFrom = rename.From
		c.RenameTo = rename.To
	}
	return c
}

func toUser(u *github.User) model.User {
	return model.User{
		GithubID:      u.GetID(),
		Login:         u.GetLogin(),
		Name:          u.Name,
		Email:         u.Email,
		AvatarURL:     u.GetAvatarURL(),
		HTMLURL:       u.GetHTMLURL(),
		Type:          u.GetType(),
		SiteAdmin:     u.GetSiteAdmin(),
		Company:       u.Company,
		Blog:          u.Blog,
		Location:      u.Location,
		Bio:           u.Bio,
		PublicRepos:   u.GetPublicRepos(),
		PublicGists:   u.GetPublicGists(),
		Followers:     u.GetFollowers(),
		Following:     u.GetFollowing(),
		UserCreatedAt: timePtr(u.CreatedAt),
		UserUpdatedAt: timePtr(u.UpdatedAt),
	}
}

func timePtr(ts *github.Timestamp) *time.Time {
	if ts == nil {
		return nil
	}
	t := ts.Time
	return &t
}
