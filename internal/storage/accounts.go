package storage

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"relaybot/internal/model"
)

var accountColumns = []string{
	"id", "platform", "name", "credential", "status", "last_used_at", "failure_count", "ban_until",
}

// AccountFilter narrows ListAccounts. Empty fields match everything.
type AccountFilter struct {
	Platform string
	Status   model.AccountStatus
}

// CreateAccount provisions an account and returns its id.
func (s *SQLStore) CreateAccount(ctx context.Context, a model.Account) (int64, error) {
	if a.Status == "" {
		a.Status = model.AccountActive
	}
	row, err := queryRow(ctx, s.db, s.sb.Insert("accounts").
		Columns(accountColumns[1:]...).
		Values(a.Platform, a.Name, a.Credential, string(a.Status), millis(a.LastUsedAt), a.FailureCount, millis(a.BanUntil)).
		Suffix("RETURNING id"))
	if err != nil {
		return 0, err
	}
	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, fmt.Errorf("create account %s/%s: %w", a.Platform, a.Name, err)
	}
	return id, nil
}

// ListAccounts returns accounts ordered by last use, oldest first.
func (s *SQLStore) ListAccounts(ctx context.Context, f AccountFilter) ([]model.Account, error) {
	b := s.sb.Select(accountColumns...).From("accounts").OrderBy("last_used_at ASC", "id ASC")
	if f.Platform != "" {
		b = b.Where(sq.Eq{"platform": f.Platform})
	}
	if f.Status != "" {
		b = b.Where(sq.Eq{"status": string(f.Status)})
	}
	rows, err := query(ctx, s.db, b)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQLStore) GetAccount(ctx context.Context, id int64) (model.Account, error) {
	row, err := queryRow(ctx, s.db, s.sb.Select(accountColumns...).From("accounts").Where(sq.Eq{"id": id}))
	if err != nil {
		return model.Account{}, err
	}
	a, err := scanAccount(row)
	if isNoRows(err) {
		return model.Account{}, fmt.Errorf("account %d: %w", id, ErrNotFound)
	}
	return a, err
}

// TouchAccount stamps last_used_at.
func (s *SQLStore) TouchAccount(ctx context.Context, id int64, at time.Time) error {
	return s.updateAccount(ctx, id, map[string]any{"last_used_at": millis(at)})
}

// IncrementAccountFailure bumps failure_count and returns the new value.
func (s *SQLStore) IncrementAccountFailure(ctx context.Context, id int64) (int, error) {
	row, err := queryRow(ctx, s.db, s.sb.Update("accounts").
		Set("failure_count", sq.Expr("failure_count + 1")).
		Where(sq.Eq{"id": id}).
		Suffix("RETURNING failure_count"))
	if err != nil {
		return 0, err
	}
	var n int
	if err := row.Scan(&n); err != nil {
		if isNoRows(err) {
			return 0, fmt.Errorf("account %d: %w", id, ErrNotFound)
		}
		return 0, err
	}
	return n, nil
}

func (s *SQLStore) ResetAccountFailures(ctx context.Context, id int64) error {
	return s.updateAccount(ctx, id, map[string]any{"failure_count": 0})
}

// BanAccount flips the account to inactive until the given time.
func (s *SQLStore) BanAccount(ctx context.Context, id int64, until time.Time) error {
	return s.updateAccount(ctx, id, map[string]any{
		"status":    string(model.AccountInactive),
		"ban_until": millis(until),
	})
}

// SetAccountStatus applies an explicit override. Activating clears any ban
// window and failure count.
func (s *SQLStore) SetAccountStatus(ctx context.Context, id int64, status model.AccountStatus) error {
	if !status.Valid() {
		return fmt.Errorf("invalid account status %q", status)
	}
	set := map[string]any{"status": string(status)}
	if status == model.AccountActive {
		set["ban_until"] = 0
		set["failure_count"] = 0
	}
	return s.updateAccount(ctx, id, set)
}

// UnbanExpired reactivates inactive accounts whose ban window has passed and
// returns how many changed. Accounts banned without a window stay banned.
func (s *SQLStore) UnbanExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := exec(ctx, s.db, s.sb.Update("accounts").
		Set("status", string(model.AccountActive)).
		Set("ban_until", 0).
		Set("failure_count", 0).
		Where(sq.Eq{"status": string(model.AccountInactive)}).
		Where(sq.Gt{"ban_until": 0}).
		Where(sq.LtOrEq{"ban_until": now.UnixMilli()}))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *SQLStore) updateAccount(ctx context.Context, id int64, set map[string]any) error {
	res, err := exec(ctx, s.db, s.sb.Update("accounts").SetMap(set).Where(sq.Eq{"id": id}))
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("account %d: %w", id, ErrNotFound)
	}
	return nil
}

func scanAccount(r rowScanner) (model.Account, error) {
	var (
		a               model.Account
		status          string
		lastUsed, until int64
	)
	if err := r.Scan(&a.ID, &a.Platform, &a.Name, &a.Credential, &status, &lastUsed, &a.FailureCount, &until); err != nil {
		return model.Account{}, err
	}
	a.Status = model.AccountStatus(status)
	a.LastUsedAt = fromMillis(lastUsed)
	a.BanUntil = fromMillis(until)
	return a, nil
}
