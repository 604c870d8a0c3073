package sqlite

import (
	"context"
	"errors"
	"strings"

	"google_account/internal/model"
)

const nodeColumns = `id, ip, port, username, password, status, created_at, updated_at`

func scanNode(sc scanner) (model.Node, error) {
	var row struct {
		id        int64
		ip        string
		port      int
		username  string
		password  string
		status    int
		createdAt int64
		updatedAt int64
	}
	if err := sc.Scan(&row.id, &row.ip, &row.port, &row.username, &row.password, &row.status, &row.createdAt, &row.updatedAt); err != nil {
		return model.Node{}, notFound(err)
	}
	return model.Node{
		ID:        row.id,
		IP:        row.ip,
		Port:      row.port,
		Username:  row.username,
		Password:  row.password,
		Used:      row.status != 0,
		CreatedAt: msToTime(row.createdAt),
		UpdatedAt: msToTime(row.updatedAt),
	}, nil
}

func (s *Store) UpsertNode(ctx context.Context, n model.Node) (model.Node, error) {
	n.IP = strings.TrimSpace(n.IP)
	if n.IP == "" || n.Port <= 0 {
		return model.Node{}, errors.New("ip and port are required")
	}
	now := s.nowMs()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO nodes (ip, port, username, password, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(ip, port) DO UPDATE SET
			username = excluded.username,
			password = excluded.password,
			updated_at = excluded.updated_at
	`, n.IP, n.Port, n.Username, n.Password, boolToInt(n.Used), now, now)
	if err != nil {
		return model.Node{}, err
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+nodeColumns+` FROM nodes WHERE ip = ? AND port = ?`, n.IP, n.Port)
	return scanNode(row)
}

func (s *Store) ListNodes(ctx context.Context, onlyUnused bool) ([]model.Node, error) {
	q := `SELECT ` + nodeColumns + ` FROM nodes`
	if onlyUnused {
		q += ` WHERE status = 0`
	}
	q += ` ORDER BY id ASC`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// ClaimNode 返回 false 表示已被其他任务占用。
func (s *Store) ClaimNode(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE nodes SET status = 1, updated_at = ? WHERE id = ? AND status = 0
	`, s.nowMs(), id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *Store) ReleaseNode(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE nodes SET status = 0, updated_at = ? WHERE id = ?`, s.nowMs(), id)
	return err
}

func (s *Store) DeleteNode(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM nodes WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return expectOne(res)
}
