package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"google_account/internal/model"
	"google_account/internal/store/sqlite"
)

type phoneUpsertPayload struct {
	ID          int64      `json:"id,omitempty"`
	PhoneNumber string     `json:"phoneNumber"`
	SMSURL      string     `json:"smsUrl"`
	ExpireAt    *time.Time `json:"expireAt,omitempty"`
	Status      *bool      `json:"status,omitempty"`
}

func (s *Server) handlePhones(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		page, size, ok := pagination(w, r)
		if !ok {
			return
		}
		phones, total, err := s.store.ListPhones(r.Context(), page, size)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": phones, "total": total})
	case http.MethodPost:
		var body phoneUpsertPayload
		if err := readJSON(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		p := model.Phone{ID: body.ID, Number: body.PhoneNumber, SMSURL: body.SMSURL}
		if body.ExpireAt != nil {
			p.ExpireAt = *body.ExpireAt
		}
		if body.Status != nil {
			p.Used = *body.Status
		}
		saved, err := s.store.UpsertPhone(r.Context(), p)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": saved})
	case http.MethodDelete:
		id, ok := queryID(w, r, "id")
		if !ok {
			return
		}
		if err := s.store.DeletePhone(r.Context(), id); err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		methodNotAllowed(w)
	}
}

// handlePhoneReset 手动把号码放回池中，并解除账号绑定。
func (s *Server) handlePhoneReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	id, ok := queryID(w, r, "id")
	if !ok {
		return
	}
	if err := s.store.ResetPhone(r.Context(), id); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type nodeUpsertPayload struct {
	IP       string `json:"ip"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleNodes(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		onlyUnused := strings.EqualFold(r.URL.Query().Get("unused"), "true")
		nodes, err := s.store.ListNodes(r.Context(), onlyUnused)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		for i := range nodes {
			nodes[i].Password = mask(nodes[i].Password)
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": nodes})
	case http.MethodPost:
		var body []nodeUpsertPayload
		if err := readJSON(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		var saved []model.Node
		for _, n := range body {
			node, err := s.store.UpsertNode(r.Context(), model.Node{
				IP:       n.IP,
				Port:     n.Port,
				Username: strings.TrimSpace(n.Username),
				Password: strings.TrimSpace(n.Password),
			})
			if err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}
			node.Password = mask(node.Password)
			saved = append(saved, node)
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": saved})
	case http.MethodDelete:
		id, ok := queryID(w, r, "id")
		if !ok {
			return
		}
		if err := s.store.DeleteNode(r.Context(), id); err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleEnvs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	page, size, ok := pagination(w, r)
	if !ok {
		return
	}
	envs, total, err := s.store.ListBrowserEnvs(r.Context(), page, size)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	free, err := s.store.CountAvailableBrowserEnvs(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": envs, "total": total, "available": free})
}

func pagination(w http.ResponseWriter, r *http.Request) (page, size int, ok bool) {
	q := r.URL.Query()
	page, err := parseInt(q.Get("page"), 1)
	if err != nil || page < 1 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid page"})
		return 0, 0, false
	}
	size, err = parseInt(q.Get("pageSize"), 50)
	if err != nil || size < 1 || size > 500 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid pageSize"})
		return 0, 0, false
	}
	return page, size, true
}

func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, sqlite.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeError(w, http.StatusBadRequest, err)
}
