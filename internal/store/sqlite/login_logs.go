package sqlite

import (
	"context"

	"google_account/internal/model"
)

func (s *Store) AppendLoginLog(ctx context.Context, l model.LoginLog) (model.LoginLog, error) {
	if l.CreatedAt.IsZero() {
		l.CreatedAt = s.now()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO login_logs (account_id, browser_env_id, action, status, message, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, l.AccountID, l.BrowserEnvID, l.Action, l.Status, l.Message, l.CreatedAt.UnixMilli())
	if err != nil {
		return model.LoginLog{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return model.LoginLog{}, err
	}
	l.ID = id
	return l, nil
}

// ListLoginLogs 最新的在前。
func (s *Store) ListLoginLogs(ctx context.Context, accountID int64, limit int) ([]model.LoginLog, error) {
	if limit <= 0 || limit > 1000 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, browser_env_id, action, status, message, created_at
		FROM login_logs WHERE account_id = ? ORDER BY id DESC LIMIT ?
	`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.LoginLog
	for rows.Next() {
		var (
			l         model.LoginLog
			createdAt int64
		)
		if err := rows.Scan(&l.ID, &l.AccountID, &l.BrowserEnvID, &l.Action, &l.Status, &l.Message, &createdAt); err != nil {
			return nil, err
		}
		l.CreatedAt = msToTime(createdAt)
		out = append(out, l)
	}
	return out, rows.Err()
}
