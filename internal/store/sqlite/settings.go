package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"

	"google_account/internal/model"
)

const (
	emailSettingsKey     = "email_settings"
	captchaSettingsKey   = "captcha_settings"
	hubstudioSettingsKey = "hubstudio_settings"
	channelSettingsKey   = "channel_settings"
)

func (s *Store) getSetting(ctx context.Context, key string, out any) (bool, error) {
	var valueJSON string
	err := s.db.QueryRowContext(ctx, `
		SELECT value_json FROM settings WHERE key = ?
	`, key).Scan(&valueJSON)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal([]byte(valueJSON), out); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) putSetting(ctx context.Context, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value_json, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value_json = excluded.value_json,
			updated_at = excluded.updated_at
	`, key, string(b), s.nowMs())
	return err
}

func (s *Store) GetEmailSettings(ctx context.Context) (model.EmailSettings, bool, error) {
	var out model.EmailSettings
	ok, err := s.getSetting(ctx, emailSettingsKey, &out)
	return out, ok, err
}

func (s *Store) UpsertEmailSettings(ctx context.Context, v model.EmailSettings) (model.EmailSettings, error) {
	v.Email = strings.TrimSpace(v.Email)
	v.AuthCode = strings.TrimSpace(v.AuthCode)
	if err := s.putSetting(ctx, emailSettingsKey, v); err != nil {
		return model.EmailSettings{}, err
	}
	return v, nil
}

func (s *Store) GetCaptchaSettings(ctx context.Context) (model.CaptchaSettings, bool, error) {
	var out model.CaptchaSettings
	ok, err := s.getSetting(ctx, captchaSettingsKey, &out)
	return out, ok, err
}

func (s *Store) UpsertCaptchaSettings(ctx context.Context, v model.CaptchaSettings) (model.CaptchaSettings, error) {
	v.APIKey = strings.TrimSpace(v.APIKey)
	if err := s.putSetting(ctx, captchaSettingsKey, v); err != nil {
		return model.CaptchaSettings{}, err
	}
	return v, nil
}

func (s *Store) GetHubStudioSettings(ctx context.Context) (model.HubStudioSettings, bool, error) {
	var out model.HubStudioSettings
	ok, err := s.getSetting(ctx, hubstudioSettingsKey, &out)
	return out, ok, err
}

func (s *Store) UpsertHubStudioSettings(ctx context.Context, v model.HubStudioSettings) (model.HubStudioSettings, error) {
	v.BaseURL = strings.TrimRight(strings.TrimSpace(v.BaseURL), "/")
	if err := s.putSetting(ctx, hubstudioSettingsKey, v); err != nil {
		return model.HubStudioSettings{}, err
	}
	return v, nil
}

func (s *Store) GetChannelSettings(ctx context.Context) (model.ChannelSettings, bool, error) {
	var out model.ChannelSettings
	ok, err := s.getSetting(ctx, channelSettingsKey, &out)
	return out, ok, err
}

func (s *Store) UpsertChannelSettings(ctx context.Context, v model.ChannelSettings) (model.ChannelSettings, error) {
	v.AvatarDir = strings.TrimSpace(v.AvatarDir)
	if err := s.putSetting(ctx, channelSettingsKey, v); err != nil {
		return model.ChannelSettings{}, err
	}
	return v, nil
}
