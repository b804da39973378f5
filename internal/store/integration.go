// internal/store/integration.go
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	apperrors "github-integration-service/internal/errors"
	"github-integration-service/internal/model"
)

const integrationColumns = `id, user_id, provider, access_token, refresh_token, token_type, scope,
	status, connected_at, last_synced_at, github_user_id, github_login, github_name,
	github_email, github_avatar_url, github_html_url, db_created_at, db_updated_at`

func scanIntegration(row pgx.Row) (*model.Integration, error) {
	var in model.Integration
	err := row.Scan(
		&in.ID, &in.UserID, &in.Provider, &in.AccessToken, &in.RefreshToken, &in.TokenType, &in.Scope,
		&in.Status, &in.ConnectedAt, &in.LastSyncedAt, &in.GithubUserID, &in.GithubLogin, &in.GithubName,
		&in.GithubEmail, &in.GithubAvatarURL, &in.GithubHTMLURL, &in.DBCreatedAt, &in.DBUpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrIntegrationNotFound
	}
	if err != nil {
		return nil, err
	}
	return &in, nil
}

// GetIntegration looks up one integration by its internal id.
func (db *DB) GetIntegration(ctx context.Context, id int64) (*model.Integration, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+integrationColumns+` FROM integrations WHERE id = $1`, id)
	return scanIntegration(row)
}

// FindIntegrationByUserAndProvider looks up one integration by its natural
// key.
func (db *DB) FindIntegrationByUserAndProvider(ctx context.Context, userID, provider string) (*model.Integration, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+integrationColumns+` FROM integrations WHERE user_id = $1 AND provider = $2`,
		userID, provider)
	return scanIntegration(row)
}

// FindActiveIntegrationsByUser returns all active integrations owned by a
// user.
func (db *DB) FindActiveIntegrationsByUser(ctx context.Context, userID string) ([]model.Integration, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+integrationColumns+` FROM integrations WHERE user_id = $1 AND status = $2`,
		userID, model.StatusActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Integration
	for rows.Next() {
		in, err := scanIntegration(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *in)
	}
	return out, rows.Err()
}

// UpsertIntegration creates or refreshes an integration keyed by
// (user_id, provider). A reconnect replaces the credential, reactivates the
// integration, and resets connected_at.
func (db *DB) UpsertIntegration(ctx context.Context, in *model.Integration) (*model.Integration, error) {
	row := db.pool.QueryRow(ctx, `
		INSERT INTO integrations (
			user_id, provider, access_token, refresh_token, token_type, scope, status,
			connected_at, github_user_id, github_login, github_name, github_email,
			github_avatar_url, github_html_url
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (user_id, provider) DO UPDATE SET
			access_token = EXCLUDED.access_token,
			refresh_token = COALESCE(EXCLUDED.refresh_token, integrations.refresh_token),
			token_type = EXCLUDED.token_type,
			scope = EXCLUDED.scope,
			status = EXCLUDED.status,
			connected_at = EXCLUDED.connected_at,
			github_user_id = EXCLUDED.github_user_id,
			github_login = EXCLUDED.github_login,
			github_name = EXCLUDED.github_name,
			github_email = EXCLUDED.github_email,
			github_avatar_url = EXCLUDED.github_avatar_url,
			github_html_url = EXCLUDED.github_html_url,
			db_updated_at = now()
		RETURNING `+integrationColumns,
		in.UserID, in.Provider, in.AccessToken, in.RefreshToken, in.TokenType, in.Scope, in.Status,
		in.ConnectedAt, in.GithubUserID, in.GithubLogin, in.GithubName, in.GithubEmail,
		in.GithubAvatarURL, in.GithubHTMLURL)
	return scanIntegration(row)
}

// TouchIntegrationLastSynced stamps last_synced_at. Called only after a full
// sync pass completes.
func (db *DB) TouchIntegrationLastSynced(ctx context.Context, id int64) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE integrations SET last_synced_at = now(), db_updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrIntegrationNotFound
	}
	return nil
}

// childTables lists the per-entity tables carrying an integration_id, in
// delete-safe order (children before their parents).
var childTables = []struct {
	name  string
	table string
}{
	{"issueChangelogs", "issue_changelogs"},
	{"issues", "issues"},
	{"pullRequests", "pull_requests"},
	{"commits", "commits"},
	{"repositories", "repositories"},
	{"users", "users"},
	{"organizations", "organizations"},
}

// CountsByIntegration returns per-collection document counts for one
// integration.
func (db *DB) CountsByIntegration(ctx context.Context, id int64) (map[string]int64, error) {
	counts := make(map[string]int64, len(childTables))
	for _, t := range childTables {
		var n int64
		err := db.pool.QueryRow(ctx,
			fmt.Sprintf(`SELECT count(*) FROM %s WHERE integration_id = $1`, t.table), id,
		).Scan(&n)
		if err != nil {
			return nil, err
		}
		counts[t.name] = n
	}
	return counts, nil
}

// RemoveIntegration deletes the integration and the exact closure of entities
// it owns, inside one transaction. Either everything goes or nothing does.
func (db *DB) RemoveIntegration(ctx context.Context, id int64) (map[string]int64, error) {
	return db.deleteIntegrationData(ctx, id, true)
}

// ClearIntegrationData deletes all synced entities of an integration but
// keeps the integration itself, stamping last_synced_at. Used for resync.
func (db *DB) ClearIntegrationData(ctx context.Context, id int64) (map[string]int64, error) {
	return db.deleteIntegrationData(ctx, id, false)
}

func (db *DB) deleteIntegrationData(ctx context.Context, id int64, removeIntegration bool) (map[string]int64, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx) // Rollback is a no-op once committed.

	var status string
	err = tx.QueryRow(ctx, `SELECT status FROM integrations WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrIntegrationNotFound
	}
	if err != nil {
		return nil, err
	}

	deleted := make(map[string]int64, len(childTables))
	for _, t := range childTables {
		tag, err := tx.Exec(ctx,
			fmt.Sprintf(`DELETE FROM %s WHERE integration_id = $1`, t.table), id)
		if err != nil {
			return nil, err
		}
		deleted[t.name] = tag.RowsAffected()
	}

	if removeIntegration {
		if _, err := tx.Exec(ctx, `DELETE FROM integrations WHERE id = $1`, id); err != nil {
			return nil, err
		}
	} else {
		_, err := tx.Exec(ctx,
			`UPDATE integrations SET last_synced_at = now(), db_updated_at = now() WHERE id = $1`, id)
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return deleted, nil
}
