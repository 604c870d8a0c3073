package sqlite

import (
	"context"
	"errors"
	"strings"

	"google_account/internal/model"
)

const browserEnvColumns = `id, container_code, container_name, status, account_id, created_at, updated_at`

func scanBrowserEnv(sc scanner) (model.BrowserEnv, error) {
	var row struct {
		id        int64
		code      string
		name      string
		status    int
		accountID int64
		createdAt int64
		updatedAt int64
	}
	if err := sc.Scan(&row.id, &row.code, &row.name, &row.status, &row.accountID, &row.createdAt, &row.updatedAt); err != nil {
		return model.BrowserEnv{}, notFound(err)
	}
	return model.BrowserEnv{
		ID:            row.id,
		ContainerCode: row.code,
		ContainerName: row.name,
		Used:          row.status != 0,
		AccountID:     row.accountID,
		CreatedAt:     msToTime(row.createdAt),
		UpdatedAt:     msToTime(row.updatedAt),
	}, nil
}

// InsertMissingBrowserEnvs 只插入本地不存在的环境，返回新插入的记录（按传入顺序）。
func (s *Store) InsertMissingBrowserEnvs(ctx context.Context, envs []model.BrowserEnv) ([]model.BrowserEnv, error) {
	now := s.nowMs()
	var inserted []model.BrowserEnv
	for _, env := range envs {
		code := strings.TrimSpace(env.ContainerCode)
		if code == "" {
			continue
		}
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO browser_envs (container_code, container_name, status, account_id, created_at, updated_at)
			VALUES (?, ?, 0, 0, ?, ?)
			ON CONFLICT(container_code) DO NOTHING
		`, code, env.ContainerName, now, now)
		if err != nil {
			return inserted, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return inserted, err
		}
		if n == 0 {
			continue
		}
		got, err := s.GetBrowserEnvByCode(ctx, code)
		if err != nil {
			return inserted, err
		}
		inserted = append(inserted, got)
	}
	return inserted, nil
}

func (s *Store) GetBrowserEnvByCode(ctx context.Context, code string) (model.BrowserEnv, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+browserEnvColumns+` FROM browser_envs WHERE container_code = ?`, code)
	return scanBrowserEnv(row)
}

func (s *Store) ListBrowserEnvs(ctx context.Context, page, pageSize int) ([]model.BrowserEnv, int, error) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM browser_envs`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+browserEnvColumns+` FROM browser_envs ORDER BY id ASC LIMIT ? OFFSET ?
	`, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []model.BrowserEnv
	for rows.Next() {
		env, err := scanBrowserEnv(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, env)
	}
	return out, total, rows.Err()
}

func (s *Store) CountAvailableBrowserEnvs(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM browser_envs WHERE status = 0`).Scan(&n)
	return n, err
}

// ClaimBrowserEnv 条件更新抢占一个未使用的环境，并发调用不会拿到同一个。
func (s *Store) ClaimBrowserEnv(ctx context.Context, accountID int64) (model.BrowserEnv, bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM browser_envs WHERE status = 0 ORDER BY id ASC LIMIT 20`)
	if err != nil {
		return model.BrowserEnv{}, false, err
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return model.BrowserEnv{}, false, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return model.BrowserEnv{}, false, err
	}

	for _, id := range ids {
		env, ok, err := s.claimBrowserEnvByID(ctx, id, accountID)
		if err != nil {
			return model.BrowserEnv{}, false, err
		}
		if ok {
			return env, true, nil
		}
	}
	return model.BrowserEnv{}, false, nil
}

// ClaimBrowserEnvByCode 抢占指定环境；已属于同一账号时也算成功。
func (s *Store) ClaimBrowserEnvByCode(ctx context.Context, code string, accountID int64) (model.BrowserEnv, bool, error) {
	env, err := s.GetBrowserEnvByCode(ctx, code)
	if err != nil {
		return model.BrowserEnv{}, false, err
	}
	if env.Used && env.AccountID == accountID {
		return env, true, nil
	}
	return s.claimBrowserEnvByID(ctx, env.ID, accountID)
}

func (s *Store) claimBrowserEnvByID(ctx context.Context, id, accountID int64) (model.BrowserEnv, bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE browser_envs SET status = 1, account_id = ?, updated_at = ? WHERE id = ? AND status = 0
	`, accountID, s.nowMs(), id)
	if err != nil {
		return model.BrowserEnv{}, false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return model.BrowserEnv{}, false, err
	}
	if n != 1 {
		return model.BrowserEnv{}, false, nil
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+browserEnvColumns+` FROM browser_envs WHERE id = ?`, id)
	env, err := scanBrowserEnv(row)
	if err != nil {
		return model.BrowserEnv{}, false, err
	}
	return env, true, nil
}

func (s *Store) ReleaseBrowserEnv(ctx context.Context, code string) error {
	if strings.TrimSpace(code) == "" {
		return errors.New("containerCode is required")
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE browser_envs SET status = 0, account_id = 0, updated_at = ? WHERE container_code = ?
	`, s.nowMs(), code)
	if err != nil {
		return err
	}
	return expectOne(res)
}
