package httpapi

import (
	"context"
	"net/http"
	"time"
)

func (s *Server) handleLoginStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var body accountIDPayload
	if err := readJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.startBatch(w, func() (string, error) { return s.engine.StartAutoLogin(body.AccountID) })
}

func (s *Server) handleLoginBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var body accountIDsPayload
	if err := readJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.startBatch(w, func() (string, error) { return s.engine.StartBatchLogin(body.AccountIDs) })
}

func (s *Server) handleChannelBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var body accountIDsPayload
	if err := readJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.startBatch(w, func() (string, error) { return s.engine.StartBatchChannelCreation(body.AccountIDs) })
}

// startBatch 立即返回批次 id，任务在后台执行。
func (s *Server) startBatch(w http.ResponseWriter, start func() (string, error)) {
	id, err := start()
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"data": map[string]any{"batchId": id}})
}

func (s *Server) handleTasksStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	n := s.engine.StopAllTasks()
	writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{"stopped": n}})
}

func (s *Server) handleTasksState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": s.engine.State()})
}

func (s *Server) handleEnvSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
	defer cancel()
	inserted, total, err := s.engine.SyncBrowserEnvironments(ctx)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{
		"inserted": inserted,
		"total":    total,
	}})
}

type envCreatePayload struct {
	Count       int    `json:"count"`
	Group       string `json:"group"`
	CoreVersion int    `json:"coreVersion,omitempty"`
}

func (s *Server) handleEnvCreate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var body envCreatePayload
	if err := readJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	res, err := s.engine.CreateEnvironments(r.Context(), body.Count, body.Group, body.CoreVersion)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": res})
}
