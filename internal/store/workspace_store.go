package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/fuba/youtube2slackthread/internal/apierr"
)

// PutWorkspace inserts or replaces the workspace registration identified by
// w.TeamID. BotToken, SigningSecret and AppToken are sealed before the write.
func (d *DB) PutWorkspace(w Workspace) error {
	botToken, err := d.box.SealString(w.BotToken)
	if err != nil {
		return fmt.Errorf("store: seal bot token: %w", err)
	}
	signingSecret, err := d.box.SealString(w.SigningSecret)
	if err != nil {
		return fmt.Errorf("store: seal signing secret: %w", err)
	}
	var appToken []byte
	if w.AppToken != "" {
		appToken, err = d.box.SealString(w.AppToken)
		if err != nil {
			return fmt.Errorf("store: seal app token: %w", err)
		}
	}

	_, err = d.sql.Exec(`
		INSERT INTO workspaces (team_id, team_name, bot_token, signing_secret, app_token, active, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(team_id) DO UPDATE SET
			team_name = excluded.team_name,
			bot_token = excluded.bot_token,
			signing_secret = excluded.signing_secret,
			app_token = excluded.app_token,
			active = excluded.active,
			updated_at = CURRENT_TIMESTAMP
	`, w.TeamID, w.TeamName, botToken, signingSecret, appToken, w.Active)
	if err != nil {
		return fmt.Errorf("store: put workspace %s: %w", w.TeamID, err)
	}
	return nil
}

// GetWorkspace loads and decrypts the workspace registered under teamID.
// Returns *apierr.IntegrityError if no such workspace exists.
func (d *DB) GetWorkspace(teamID string) (Workspace, error) {
	var row workspaceRow
	err := d.sql.Get(&row, `SELECT team_id, team_name, bot_token, signing_secret, app_token, active, created_at, updated_at
		FROM workspaces WHERE team_id = ?`, teamID)
	if errors.Is(err, sql.ErrNoRows) {
		return Workspace{}, &apierr.IntegrityError{Message: fmt.Sprintf("workspace %s is not registered", teamID)}
	}
	if err != nil {
		return Workspace{}, fmt.Errorf("store: get workspace %s: %w", teamID, err)
	}
	return d.openWorkspaceRow(row)
}

// ListActiveWorkspaces returns every workspace with active = true, decrypted.
func (d *DB) ListActiveWorkspaces() ([]Workspace, error) {
	var rows []workspaceRow
	if err := d.sql.Select(&rows, `SELECT team_id, team_name, bot_token, signing_secret, app_token, active, created_at, updated_at
		FROM workspaces WHERE active = 1 ORDER BY team_id`); err != nil {
		return nil, fmt.Errorf("store: list active workspaces: %w", err)
	}
	out := make([]Workspace, 0, len(rows))
	for _, row := range rows {
		w, err := d.openWorkspaceRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, nil
}

// DeactivateWorkspace flips a workspace's active flag to false without
// deleting it. A stream already RUNNING under this workspace is left to
// finish; CommandRouter rejects new /transcribe starts once active is false.
func (d *DB) DeactivateWorkspace(teamID string) error {
	res, err := d.sql.Exec(`UPDATE workspaces SET active = 0, updated_at = CURRENT_TIMESTAMP WHERE team_id = ?`, teamID)
	if err != nil {
		return fmt.Errorf("store: deactivate workspace %s: %w", teamID, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return &apierr.IntegrityError{Message: fmt.Sprintf("workspace %s is not registered", teamID)}
	}
	return nil
}

func (d *DB) openWorkspaceRow(row workspaceRow) (Workspace, error) {
	botToken, err := d.box.OpenString(row.BotToken)
	if err != nil {
		return Workspace{}, fmt.Errorf("store: decrypt bot token for %s: %w", row.TeamID, err)
	}
	signingSecret, err := d.box.OpenString(row.SigningSecret)
	if err != nil {
		return Workspace{}, fmt.Errorf("store: decrypt signing secret for %s: %w", row.TeamID, err)
	}
	var appToken string
	if len(row.AppToken) > 0 {
		appToken, err = d.box.OpenString(row.AppToken)
		if err != nil {
			return Workspace{}, fmt.Errorf("store: decrypt app token for %s: %w", row.TeamID, err)
		}
	}
	return Workspace{
		TeamID:        row.TeamID,
		TeamName:      row.TeamName,
		BotToken:      botToken,
		SigningSecret: signingSecret,
		AppToken:      appToken,
		Active:        row.Active,
		CreatedAt:     row.CreatedAt,
		UpdatedAt:     row.UpdatedAt,
	}, nil
}
