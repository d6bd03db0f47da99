package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fuba/youtube2slackthread/internal/apierr"
)

// PutUserCookies seals and stores raw (a cookies.txt payload) for the given
// workspace/user pair, replacing any prior jar.
func (d *DB) PutUserCookies(teamID, userID, raw string) error {
	sealed, err := d.box.SealString(raw)
	if err != nil {
		return fmt.Errorf("store: seal cookies for %s/%s: %w", teamID, userID, err)
	}
	_, err = d.sql.Exec(`
		INSERT INTO user_cookies (team_id, user_id, cookies, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(team_id, user_id) DO UPDATE SET
			cookies = excluded.cookies,
			updated_at = CURRENT_TIMESTAMP
	`, teamID, userID, sealed)
	if err != nil {
		return fmt.Errorf("store: put cookies for %s/%s: %w", teamID, userID, err)
	}
	return nil
}

// GetUserCookies loads and decrypts the cookie jar for teamID/userID.
// Returns *apierr.AuthFailure if no jar has been uploaded yet.
func (d *DB) GetUserCookies(teamID, userID string) (UserCookies, error) {
	var row userCookiesRow
	err := d.sql.Get(&row, `SELECT team_id, user_id, cookies, updated_at FROM user_cookies WHERE team_id = ? AND user_id = ?`, teamID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return UserCookies{}, &apierr.AuthFailure{Reason: fmt.Sprintf("no cookie jar on file for %s/%s", teamID, userID)}
	}
	if err != nil {
		return UserCookies{}, fmt.Errorf("store: get cookies for %s/%s: %w", teamID, userID, err)
	}
	raw, err := d.box.OpenString(row.Cookies)
	if err != nil {
		return UserCookies{}, fmt.Errorf("store: decrypt cookies for %s/%s: %w", teamID, userID, err)
	}
	return UserCookies{TeamID: row.TeamID, UserID: row.UserID, Raw: raw, UpdatedAt: row.UpdatedAt}, nil
}

// DeleteUserCookies removes a user's cookie jar, e.g. on /transcribe logout.
func (d *DB) DeleteUserCookies(teamID, userID string) error {
	if _, err := d.sql.Exec(`DELETE FROM user_cookies WHERE team_id = ? AND user_id = ?`, teamID, userID); err != nil {
		return fmt.Errorf("store: delete cookies for %s/%s: %w", teamID, userID, err)
	}
	return nil
}

// PutUserSettings seals and stores settings for teamID/userID as a JSON blob.
func (d *DB) PutUserSettings(teamID, userID string, settings map[string]string) error {
	raw, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("store: marshal settings for %s/%s: %w", teamID, userID, err)
	}
	sealed, err := d.box.Seal(raw)
	if err != nil {
		return fmt.Errorf("store: seal settings for %s/%s: %w", teamID, userID, err)
	}
	_, err = d.sql.Exec(`
		INSERT INTO user_settings (team_id, user_id, settings, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(team_id, user_id) DO UPDATE SET
			settings = excluded.settings,
			updated_at = CURRENT_TIMESTAMP
	`, teamID, userID, sealed)
	if err != nil {
		return fmt.Errorf("store: put settings for %s/%s: %w", teamID, userID, err)
	}
	return nil
}

// GetUserSettings loads and decrypts settings for teamID/userID. Returns an
// empty, non-nil map (not an error) if the user has never saved settings.
func (d *DB) GetUserSettings(teamID, userID string) (UserSettings, error) {
	var row userSettingsRow
	err := d.sql.Get(&row, `SELECT team_id, user_id, settings, updated_at FROM user_settings WHERE team_id = ? AND user_id = ?`, teamID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return UserSettings{TeamID: teamID, UserID: userID, Settings: map[string]string{}}, nil
	}
	if err != nil {
		return UserSettings{}, fmt.Errorf("store: get settings for %s/%s: %w", teamID, userID, err)
	}
	raw, err := d.box.Open(row.Settings)
	if err != nil {
		return UserSettings{}, fmt.Errorf("store: decrypt settings for %s/%s: %w", teamID, userID, err)
	}
	var settings map[string]string
	if err := json.Unmarshal(raw, &settings); err != nil {
		return UserSettings{}, fmt.Errorf("store: unmarshal settings for %s/%s: %w", teamID, userID, err)
	}
	return UserSettings{TeamID: row.TeamID, UserID: row.UserID, Settings: settings, UpdatedAt: row.UpdatedAt}, nil
}
