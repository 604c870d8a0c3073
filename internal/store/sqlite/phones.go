package sqlite

import (
	"context"
	"errors"
	"strings"
	"time"

	"google_account/internal/model"
)

const phoneColumns = `id, phone_number, sms_url, expire_at, status, created_at, updated_at`

func scanPhone(sc scanner) (model.Phone, error) {
	var row struct {
		id        int64
		number    string
		smsURL    string
		expireAt  int64
		status    int
		createdAt int64
		updatedAt int64
	}
	if err := sc.Scan(&row.id, &row.number, &row.smsURL, &row.expireAt, &row.status, &row.createdAt, &row.updatedAt); err != nil {
		return model.Phone{}, notFound(err)
	}
	return model.Phone{
		ID:        row.id,
		Number:    row.number,
		SMSURL:    row.smsURL,
		ExpireAt:  msToTime(row.expireAt),
		Used:      row.status != 0,
		CreatedAt: msToTime(row.createdAt),
		UpdatedAt: msToTime(row.updatedAt),
	}, nil
}

func (s *Store) UpsertPhone(ctx context.Context, p model.Phone) (model.Phone, error) {
	p.Number = strings.TrimSpace(p.Number)
	if p.Number == "" {
		return model.Phone{}, errors.New("phoneNumber is required")
	}
	now := s.nowMs()
	if p.ID == 0 {
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO phones (phone_number, sms_url, expire_at, status, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, p.Number, strings.TrimSpace(p.SMSURL), timeToMs(p.ExpireAt), boolToInt(p.Used), now, now)
		if err != nil {
			return model.Phone{}, err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return model.Phone{}, err
		}
		return s.GetPhone(ctx, id)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE phones SET phone_number = ?, sms_url = ?, expire_at = ?, status = ?, updated_at = ? WHERE id = ?
	`, p.Number, strings.TrimSpace(p.SMSURL), timeToMs(p.ExpireAt), boolToInt(p.Used), now, p.ID)
	if err != nil {
		return model.Phone{}, err
	}
	if err := expectOne(res); err != nil {
		return model.Phone{}, err
	}
	return s.GetPhone(ctx, p.ID)
}

func (s *Store) GetPhone(ctx context.Context, id int64) (model.Phone, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+phoneColumns+` FROM phones WHERE id = ?`, id)
	return scanPhone(row)
}

// ListPhones 分页，page 从 1 开始。
func (s *Store) ListPhones(ctx context.Context, page, pageSize int) ([]model.Phone, int, error) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM phones`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+phoneColumns+` FROM phones ORDER BY id ASC LIMIT ? OFFSET ?
	`, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []model.Phone
	for rows.Next() {
		p, err := scanPhone(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, p)
	}
	return out, total, rows.Err()
}

func (s *Store) DeletePhone(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM phones WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return expectOne(res)
}

// ClaimPhone 按插入顺序租用一个未使用、未过期的号码。
// 租约只防止并发 worker 拿到同一个号码，status 仍然在绑定成功后才置为已使用。
func (s *Store) ClaimPhone(ctx context.Context, accountID int64, now time.Time, lease time.Duration) (model.Phone, bool, error) {
	nowMs := now.UnixMilli()
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM phones
		WHERE status = 0 AND (expire_at = 0 OR expire_at > ?) AND leased_until <= ?
		ORDER BY id ASC LIMIT 20
	`, nowMs, nowMs)
	if err != nil {
		return model.Phone{}, false, err
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return model.Phone{}, false, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return model.Phone{}, false, err
	}

	for _, id := range ids {
		res, err := s.db.ExecContext(ctx, `
			UPDATE phones SET leased_until = ?, leased_by = ?, updated_at = ?
			WHERE id = ? AND status = 0 AND (expire_at = 0 OR expire_at > ?) AND leased_until <= ?
		`, now.Add(lease).UnixMilli(), accountID, nowMs, id, nowMs, nowMs)
		if err != nil {
			return model.Phone{}, false, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return model.Phone{}, false, err
		}
		if n == 1 {
			p, err := s.GetPhone(ctx, id)
			if err != nil {
				return model.Phone{}, false, err
			}
			return p, true, nil
		}
	}
	return model.Phone{}, false, nil
}

// BindPhone 号码验证成功后绑定到账号并标记已使用；重复绑定不改变结果。
func (s *Store) BindPhone(ctx context.Context, accountID, phoneID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	now := s.nowMs()
	res, err := tx.ExecContext(ctx, `
		UPDATE phones SET status = 1, leased_until = 0, leased_by = 0, updated_at = ? WHERE id = ?
	`, now, phoneID)
	if err != nil {
		return err
	}
	if err := expectOne(res); err != nil {
		return err
	}
	res, err = tx.ExecContext(ctx, `
		UPDATE accounts SET phone_id = ?, updated_at = ? WHERE id = ?
	`, phoneID, now, accountID)
	if err != nil {
		return err
	}
	if err := expectOne(res); err != nil {
		return err
	}
	return tx.Commit()
}

// ReleasePhoneLease 验证失败时归还租约，已绑定的号码不受影响。
func (s *Store) ReleasePhoneLease(ctx context.Context, phoneID int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE phones SET leased_until = 0, leased_by = 0, updated_at = ? WHERE id = ? AND status = 0
	`, s.nowMs(), phoneID)
	return err
}

// ResetPhone 运营手动释放号码。
func (s *Store) ResetPhone(ctx context.Context, phoneID int64) error {
	now := s.nowMs()
	res, err := s.db.ExecContext(ctx, `
		UPDATE phones SET status = 0, leased_until = 0, leased_by = 0, updated_at = ? WHERE id = ?
	`, now, phoneID)
	if err != nil {
		return err
	}
	if err := expectOne(res); err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `UPDATE accounts SET phone_id = 0, updated_at = ? WHERE phone_id = ?`, now, phoneID)
	return err
}
