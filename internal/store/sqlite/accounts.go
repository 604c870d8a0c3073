package sqlite

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google_account/internal/model"
)

const accountColumns = `id, email, password, backup_email, phone_id, in_use, login_status, browser_env_id,
	channel_status, channel_url, monetization, created_at, updated_at`

func scanAccount(sc scanner) (model.Account, error) {
	var row struct {
		id            int64
		email         string
		password      string
		backupEmail   string
		phoneID       int64
		inUse         int
		loginStatus   string
		browserEnvID  string
		channelStatus string
		channelURL    string
		monetization  string
		createdAt     int64
		updatedAt     int64
	}
	if err := sc.Scan(&row.id, &row.email, &row.password, &row.backupEmail, &row.phoneID, &row.inUse, &row.loginStatus,
		&row.browserEnvID, &row.channelStatus, &row.channelURL, &row.monetization, &row.createdAt, &row.updatedAt); err != nil {
		return model.Account{}, notFound(err)
	}
	return model.Account{
		ID:            row.id,
		Email:         row.email,
		Password:      row.password,
		BackupEmail:   row.backupEmail,
		PhoneID:       row.phoneID,
		InUse:         row.inUse != 0,
		LoginStatus:   model.LoginStatus(row.loginStatus),
		BrowserEnvID:  row.browserEnvID,
		ChannelStatus: model.ChannelStatus(row.channelStatus),
		ChannelURL:    row.channelURL,
		Monetization:  model.Monetization(row.monetization),
		CreatedAt:     msToTime(row.createdAt),
		UpdatedAt:     msToTime(row.updatedAt),
	}, nil
}

// UpsertAccount 按邮箱去重，只覆盖运营可编辑的字段。
func (s *Store) UpsertAccount(ctx context.Context, acc model.Account) (model.Account, error) {
	acc.Email = strings.TrimSpace(acc.Email)
	if acc.Email == "" {
		return model.Account{}, errors.New("email is required")
	}
	if acc.LoginStatus == "" {
		acc.LoginStatus = model.LoginStatusNotLogged
	}
	if acc.ChannelStatus == "" {
		acc.ChannelStatus = model.ChannelStatusNotCreated
	}
	now := s.nowMs()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (email, password, backup_email, phone_id, in_use, login_status, browser_env_id,
			channel_status, channel_url, monetization, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(email) DO UPDATE SET
			password = excluded.password,
			backup_email = excluded.backup_email,
			updated_at = excluded.updated_at
	`, acc.Email, acc.Password, strings.TrimSpace(acc.BackupEmail), acc.PhoneID, boolToInt(acc.InUse), string(acc.LoginStatus),
		acc.BrowserEnvID, string(acc.ChannelStatus), acc.ChannelURL, string(acc.Monetization), now, now)
	if err != nil {
		return model.Account{}, err
	}
	return s.GetAccountByEmail(ctx, acc.Email)
}

func (s *Store) GetAccount(ctx context.Context, id int64) (model.Account, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)
	return scanAccount(row)
}

func (s *Store) GetAccountByEmail(ctx context.Context, email string) (model.Account, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE email = ?`, email)
	return scanAccount(row)
}

func (s *Store) ListAccounts(ctx context.Context) ([]model.Account, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Account
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, acc)
	}
	return out, rows.Err()
}

func (s *Store) DeleteAccount(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM accounts WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return expectOne(res)
}

func (s *Store) SetLoginStatus(ctx context.Context, id int64, status model.LoginStatus) error {
	if !status.Valid() {
		return fmt.Errorf("invalid login status %q", status)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE accounts SET login_status = ?, updated_at = ? WHERE id = ?
	`, string(status), s.nowMs(), id)
	if err != nil {
		return err
	}
	return expectOne(res)
}

// TryMarkLogging 原子地把账号置为登录中，已在登录中的返回 false。
func (s *Store) TryMarkLogging(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE accounts SET login_status = ?, updated_at = ?
		WHERE id = ? AND login_status != ?
	`, string(model.LoginStatusLogging), s.nowMs(), id, string(model.LoginStatusLogging))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *Store) SetAccountBrowserEnv(ctx context.Context, id int64, containerCode string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE accounts SET browser_env_id = ?, updated_at = ? WHERE id = ?
	`, containerCode, s.nowMs(), id)
	if err != nil {
		return err
	}
	return expectOne(res)
}

func (s *Store) SetChannelResult(ctx context.Context, id int64, status model.ChannelStatus, channelURL string, m model.Monetization) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE accounts SET channel_status = ?, channel_url = ?, monetization = ?, updated_at = ? WHERE id = ?
	`, string(status), channelURL, string(m), s.nowMs(), id)
	if err != nil {
		return err
	}
	return expectOne(res)
}

// SetChannelStatus 只改状态，保留已有的频道地址。
func (s *Store) SetChannelStatus(ctx context.Context, id int64, status model.ChannelStatus) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE accounts SET channel_status = ?, updated_at = ? WHERE id = ?
	`, string(status), s.nowMs(), id)
	if err != nil {
		return err
	}
	return expectOne(res)
}

func (s *Store) SetMonetization(ctx context.Context, id int64, m model.Monetization) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE accounts SET monetization = ?, updated_at = ? WHERE id = ?
	`, string(m), s.nowMs(), id)
	if err != nil {
		return err
	}
	return expectOne(res)
}

// ResetLoginStatus 释放账号占用的浏览器环境并回到未登录。
func (s *Store) ResetLoginStatus(ctx context.Context, id int64) (model.Account, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Account{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var code string
	if err := tx.QueryRowContext(ctx, `SELECT browser_env_id FROM accounts WHERE id = ?`, id).Scan(&code); err != nil {
		return model.Account{}, notFound(err)
	}
	now := s.nowMs()
	if code != "" {
		if _, err := tx.ExecContext(ctx, `
			UPDATE browser_envs SET status = 0, account_id = 0, updated_at = ? WHERE container_code = ?
		`, now, code); err != nil {
			return model.Account{}, err
		}
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE accounts SET login_status = ?, browser_env_id = '', in_use = 0, updated_at = ? WHERE id = ?
	`, string(model.LoginStatusNotLogged), now, id); err != nil {
		return model.Account{}, err
	}
	if err := tx.Commit(); err != nil {
		return model.Account{}, err
	}
	return s.GetAccount(ctx, id)
}
