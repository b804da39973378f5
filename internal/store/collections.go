// internal/store/collections.go
package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

const (
	defaultPageSize = 100

	// Upper bound on a single page, matching the read API contract.
	maxPageSize = 1000
)

// Kind enumerates the queryable entity kinds. Each variant carries its table
// and column metadata as data, replacing any string-keyed lookup at runtime:
// an unknown collection name fails at the boundary, not deep in a query.
type Kind int

const (
	KindOrganizations Kind = iota
	KindRepositories
	KindCommits
	KindPullRequests
	KindIssues
	KindIssueChangelogs
	KindUsers
)

type collectionMeta struct {
	name       string
	table      string
	fields     []string
	searchable []string
}

var collectionMetas = [...]collectionMeta{
	KindOrganizations: {
		name:  "organizations",
		table: "organizations",
		fields: []string{
			"id", "integration_id", "github_id", "login", "name", "description",
			"html_url", "avatar_url", "type", "public_repos", "followers", "following",
			"org_created_at", "org_updated_at", "db_created_at", "db_updated_at",
		},
		searchable: []string{"login", "name", "description"},
	},
	KindRepositories: {
		name:  "repositories",
		table: "repositories",
		fields: []string{
			"id", "integration_id", "organization_id", "github_id", "name", "full_name",
			"description", "html_url", "private", "fork", "size", "stars_count",
			"watchers_count", "forks_count", "open_issues_count", "language",
			"default_branch", "owner_login", "owner_type", "pushed_at",
			"repo_created_at", "repo_updated_at", "db_created_at", "db_updated_at",
		},
		searchable: []string{"name", "full_name", "description", "language", "owner_login"},
	},
	KindCommits: {
		name:  "commits",
		table: "commits",
		fields: []string{
			"id", "integration_id", "repository_id", "sha", "message", "html_url",
			"author_name", "author_email", "author_date", "committer_name",
			"committer_email", "committer_date", "additions", "deletions",
			"total_changes", "db_created_at", "db_updated_at",
		},
		searchable: []string{"sha", "message", "author_name", "author_email"},
	},
	KindPullRequests: {
		name:  "pullrequests",
		table: "pull_requests",
		fields: []string{
			"id", "integration_id", "repository_id", "github_id", "number", "title",
			"state", "body", "html_url", "created_at", "updated_at", "closed_at",
			"merged_at", "user_login", "head_ref", "head_sha", "base_ref", "base_sha",
			"merged", "comments", "commits", "additions", "deletions", "changed_files",
			"db_created_at", "db_updated_at",
		},
		searchable: []string{"title", "state", "body", "user_login", "head_ref", "base_ref"},
	},
	KindIssues: {
		name:  "issues",
		table: "issues",
		fields: []string{
			"id", "integration_id", "repository_id", "github_id", "number", "title",
			"state", "body", "html_url", "created_at", "updated_at", "closed_at",
			"user_login", "labels", "assignees", "comments", "locked",
			"db_created_at", "db_updated_at",
		},
		searchable: []string{"title", "state", "body", "user_login"},
	},
	KindIssueChangelogs: {
		name:  "issuechangelogs",
		table: "issue_changelogs",
		fields: []string{
			"id", "integration_id", "repository_id", "issue_id", "github_event_id",
			"event", "created_at", "actor_login", "label_name", "assignee_login",
			"rename_from", "rename_to", "commit_sha", "db_created_at", "db_updated_at",
		},
		searchable: []string{"event", "actor_login", "label_name", "commit_sha"},
	},
	KindUsers: {
		name:  "users",
		table: "users",
		fields: []string{
			"id", "integration_id", "organization_id", "github_id", "login", "name",
			"email", "avatar_url", "html_url", "type", "site_admin", "company", "blog",
			"location", "bio", "public_repos", "public_gists", "followers", "following",
			"user_created_at", "user_updated_at", "db_created_at", "db_updated_at",
		},
		searchable: []string{"login", "name", "email", "company", "location", "bio"},
	},
}

// AllKinds returns every queryable kind in a stable order.
func AllKinds() []Kind {
	kinds := make([]Kind, 0, len(collectionMetas))
	for k := range collectionMetas {
		kinds = append(kinds, Kind(k))
	}
	return kinds
}

// KindFromName resolves a collection name to its kind.
func KindFromName(name string) (Kind, bool) {
	for k, meta := range collectionMetas {
		if meta.name == name {
			return Kind(k), true
		}
	}
	return 0, false
}

// Name returns the collection name exposed through the read API.
func (k Kind) Name() string {
	return collectionMetas[k].name
}

// Fields returns the queryable column names of the kind.
func (k Kind) Fields() []string {
	return collectionMetas[k].fields
}

func (k Kind) meta() collectionMeta {
	return collectionMetas[k]
}

func (m collectionMeta) hasField(name string) bool {
	for _, f := range m.fields {
		if f == name {
			return true
		}
	}
	return false
}

// QueryParams describe one paginated read over a collection. Results are
// always scoped to the given integrations.
type QueryParams struct {
	IntegrationIDs []int64
	Page           int
	PageSize       int
	SortField      string
	SortDesc       bool
	Filters        map[string]string
	Search         string
}

// QueryResult is one page of collection rows plus paging metadata.
type QueryResult struct {
	Data       []map[string]any `json:"data"`
	Total      int64            `json:"total"`
	Page       int              `json:"page"`
	PageSize   int              `json:"pageSize"`
	TotalPages int              `json:"totalPages"`
	Fields     []string         `json:"fields"`
}

// buildCollectionQuery renders the data and count statements for one read.
// Sort and filter fields outside the kind's column whitelist are dropped
// silently; filter and search matching is case-insensitive substring over the
// column's text form.
func buildCollectionQuery(m collectionMeta, p QueryParams) (dataSQL, countSQL string, args []any) {
	var where []string

	args = append(args, p.IntegrationIDs)
	where = append(where, fmt.Sprintf("integration_id = ANY($%d)", len(args)))

	for _, field := range sortedFilterKeys(p.Filters) {
		if !m.hasField(field) {
			continue
		}
		args = append(args, "%"+p.Filters[field]+"%")
		where = append(where, fmt.Sprintf("%s::text ILIKE $%d", field, len(args)))
	}

	if p.Search != "" && len(m.searchable) > 0 {
		args = append(args, "%"+p.Search+"%")
		n := len(args)
		var ors []string
		for _, field := range m.searchable {
			ors = append(ors, fmt.Sprintf("%s::text ILIKE $%d", field, n))
		}
		where = append(where, "("+strings.Join(ors, " OR ")+")")
	}

	whereClause := " WHERE " + strings.Join(where, " AND ")

	order := " ORDER BY id"
	if p.SortField != "" && m.hasField(p.SortField) {
		order = " ORDER BY " + p.SortField
		if p.SortDesc {
			order += " DESC"
		}
	}

	limitArgs := fmt.Sprintf(" LIMIT %d OFFSET %d", p.PageSize, (p.Page-1)*p.PageSize)

	cols := strings.Join(m.fields, ", ")
	dataSQL = "SELECT " + cols + " FROM " + m.table + whereClause + order + limitArgs
	countSQL = "SELECT count(*) FROM " + m.table + whereClause
	return dataSQL, countSQL, args
}

// sortedFilterKeys yields filter fields in a deterministic order so the
// rendered SQL is stable for identical inputs.
func sortedFilterKeys(filters map[string]string) []string {
	keys := make([]string, 0, len(filters))
	for k := range filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// QueryCollection runs one paginated, filterable, searchable read over a
// collection. Rows come back as generic field maps since the read API is
// schema-driven, not type-driven.
func (db *DB) QueryCollection(ctx context.Context, kind Kind, p QueryParams) (*QueryResult, error) {
	m := kind.meta()

	if p.Page < 1 {
		p.Page = 1
	}
	if p.PageSize < 1 {
		p.PageSize = defaultPageSize
	}
	if p.PageSize > maxPageSize {
		p.PageSize = maxPageSize
	}

	result := &QueryResult{
		Data:     []map[string]any{},
		Page:     p.Page,
		PageSize: p.PageSize,
		Fields:   m.fields,
	}
	if len(p.IntegrationIDs) == 0 {
		return result, nil
	}

	dataSQL, countSQL, args := buildCollectionQuery(m, p)

	if err := db.pool.QueryRow(ctx, countSQL, args...).Scan(&result.Total); err != nil {
		return nil, err
	}
	result.TotalPages = int((result.Total + int64(p.PageSize) - 1) / int64(p.PageSize))

	rows, err := db.pool.Query(ctx, dataSQL, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		record := make(map[string]any, len(m.fields))
		for i, field := range m.fields {
			record[field] = values[i]
		}
		result.Data = append(result.Data, record)
	}
	return result, rows.Err()
}
