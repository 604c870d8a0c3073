package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"google_account/internal/notify"
)

type emailSettingsPayload struct {
	Enabled  *bool   `json:"enabled,omitempty"`
	Email    *string `json:"email,omitempty"`
	AuthCode *string `json:"authCode,omitempty"`
}

func (s *Server) handleEmailSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		val, _, err := s.store.GetEmailSettings(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		val.AuthCode = mask(val.AuthCode)
		writeJSON(w, http.StatusOK, map[string]any{"data": val})
	case http.MethodPost:
		var body emailSettingsPayload
		if err := readJSON(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		next, _, err := s.store.GetEmailSettings(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		if body.Enabled != nil {
			next.Enabled = *body.Enabled
		}
		if body.Email != nil {
			next.Email = strings.TrimSpace(*body.Email)
		}
		next.AuthCode = keepSecret(next.AuthCode, body.AuthCode)

		saved, err := s.store.UpsertEmailSettings(r.Context(), next)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		saved.AuthCode = mask(saved.AuthCode)
		writeJSON(w, http.StatusOK, map[string]any{"data": saved})
	default:
		methodNotAllowed(w)
	}
}

type emailTestPayload struct {
	Email    string `json:"email,omitempty"`
	AuthCode string `json:"authCode,omitempty"`
}

func (s *Server) handleEmailTest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var body emailTestPayload
	if err := readJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	val, _, err := s.store.GetEmailSettings(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if v := strings.TrimSpace(body.Email); v != "" {
		val.Email = v
	}
	if v := strings.TrimSpace(body.AuthCode); v != "" && v != maskedSecret {
		val.AuthCode = v
	}

	ctx, cancel := context.WithTimeout(r.Context(), 20*time.Second)
	defer cancel()
	if err := notify.SendTestEmail(ctx, val); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type captchaSettingsPayload struct {
	Enabled *bool   `json:"enabled,omitempty"`
	APIKey  *string `json:"apiKey,omitempty"`
}

func (s *Server) handleCaptchaSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		val, ok, err := s.store.GetCaptchaSettings(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		if !ok {
			val.Enabled = s.cfg.Captcha.Enabled
		}
		val.APIKey = mask(val.APIKey)
		writeJSON(w, http.StatusOK, map[string]any{"data": val})
	case http.MethodPost:
		var body captchaSettingsPayload
		if err := readJSON(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		next, _, err := s.store.GetCaptchaSettings(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		if body.Enabled != nil {
			next.Enabled = *body.Enabled
		}
		next.APIKey = keepSecret(next.APIKey, body.APIKey)
		saved, err := s.store.UpsertCaptchaSettings(r.Context(), next)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		saved.APIKey = mask(saved.APIKey)
		writeJSON(w, http.StatusOK, map[string]any{"data": saved})
	default:
		methodNotAllowed(w)
	}
}

type hubStudioSettingsPayload struct {
	BaseURL   *string `json:"baseURL,omitempty"`
	AppID     *string `json:"appId,omitempty"`
	AppSecret *string `json:"appSecret,omitempty"`
}

func (s *Server) handleHubStudioSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		val, ok, err := s.store.GetHubStudioSettings(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		if !ok {
			val.BaseURL = s.cfg.HubStudio.BaseURL
			val.AppID = s.cfg.HubStudio.AppID
		}
		val.AppSecret = mask(val.AppSecret)
		writeJSON(w, http.StatusOK, map[string]any{"data": val})
	case http.MethodPost:
		var body hubStudioSettingsPayload
		if err := readJSON(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		next, _, err := s.store.GetHubStudioSettings(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		if body.BaseURL != nil {
			next.BaseURL = strings.TrimRight(strings.TrimSpace(*body.BaseURL), "/")
		}
		if body.AppID != nil {
			next.AppID = strings.TrimSpace(*body.AppID)
		}
		next.AppSecret = keepSecret(next.AppSecret, body.AppSecret)
		saved, err := s.store.UpsertHubStudioSettings(r.Context(), next)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		saved.AppSecret = mask(saved.AppSecret)
		writeJSON(w, http.StatusOK, map[string]any{"data": saved})
	default:
		methodNotAllowed(w)
	}
}

type channelSettingsPayload struct {
	AvatarDir *string `json:"avatarDir,omitempty"`
}

func (s *Server) handleChannelSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		val, ok, err := s.store.GetChannelSettings(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		if !ok {
			val.AvatarDir = s.cfg.Channel.AvatarDir
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": val})
	case http.MethodPost:
		var body channelSettingsPayload
		if err := readJSON(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		next, _, err := s.store.GetChannelSettings(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		if body.AvatarDir != nil {
			next.AvatarDir = strings.TrimSpace(*body.AvatarDir)
		}
		saved, err := s.store.UpsertChannelSettings(r.Context(), next)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": saved})
	default:
		methodNotAllowed(w)
	}
}
