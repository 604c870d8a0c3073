package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"google_account/internal/model"
	"google_account/internal/store/sqlite"
)

type accountUpsertPayload struct {
	ID          int64   `json:"id,omitempty"`
	Email       string  `json:"email"`
	Password    *string `json:"password,omitempty"`
	BackupEmail *string `json:"backupEmail,omitempty"`
}

func (s *Server) handleAccounts(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		accounts, err := s.store.ListAccounts(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		for i := range accounts {
			accounts[i].Password = mask(accounts[i].Password)
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": accounts})
	case http.MethodPost:
		var body accountUpsertPayload
		if err := readJSON(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		email := strings.TrimSpace(body.Email)
		if email == "" {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "email is required"})
			return
		}

		var current model.Account
		if body.ID > 0 {
			if found, err := s.store.GetAccount(r.Context(), body.ID); err == nil {
				current = found
			}
		}
		if current.ID == 0 {
			if found, err := s.store.GetAccountByEmail(r.Context(), email); err == nil {
				current = found
			}
		}

		next := current
		next.Email = email
		next.Password = keepSecret(current.Password, body.Password)
		if body.BackupEmail != nil {
			next.BackupEmail = strings.TrimSpace(*body.BackupEmail)
		}

		acc, err := s.store.UpsertAccount(r.Context(), next)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		acc.Password = mask(acc.Password)
		writeJSON(w, http.StatusOK, map[string]any{"data": acc})
	case http.MethodDelete:
		id, ok := queryID(w, r, "id")
		if !ok {
			return
		}
		if err := s.store.DeleteAccount(r.Context(), id); err != nil {
			if errors.Is(err, sqlite.ErrNotFound) {
				writeError(w, http.StatusNotFound, err)
				return
			}
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		methodNotAllowed(w)
	}
}

type accountImportPayload struct {
	Accounts []struct {
		Email       string `json:"email"`
		Password    string `json:"password"`
		BackupEmail string `json:"backupEmail,omitempty"`
	} `json:"accounts"`
}

// handleAccountsImport 批量导入，单条失败不影响其他。
func (s *Server) handleAccountsImport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var body accountImportPayload
	if err := readJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	imported := 0
	var failures []string
	for _, a := range body.Accounts {
		_, err := s.store.UpsertAccount(r.Context(), model.Account{
			Email:       a.Email,
			Password:    a.Password,
			BackupEmail: a.BackupEmail,
		})
		if err != nil {
			failures = append(failures, strings.TrimSpace(a.Email)+": "+err.Error())
			continue
		}
		imported++
	}
	s.bus.Log("info", "账号导入完成", map[string]any{"imported": imported, "failed": len(failures)})
	writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{
		"imported": imported,
		"failed":   failures,
	}})
}

func (s *Server) handleLoginLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	id, ok := queryID(w, r, "accountId")
	if !ok {
		return
	}
	limit, err := parseInt(r.URL.Query().Get("limit"), 100)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	logs, err := s.store.ListLoginLogs(r.Context(), id, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": logs})
}

type accountIDPayload struct {
	AccountID int64 `json:"accountId"`
}

type accountIDsPayload struct {
	AccountIDs []int64 `json:"accountIds"`
}

func (s *Server) handleResetLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var body accountIDPayload
	if err := readJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	acc, err := s.engine.ResetLoginStatus(r.Context(), body.AccountID)
	if err != nil {
		if errors.Is(err, sqlite.ErrNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	acc.Password = mask(acc.Password)
	writeJSON(w, http.StatusOK, map[string]any{"data": acc})
}
