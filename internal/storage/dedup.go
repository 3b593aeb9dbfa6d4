package storage

import (
	"context"
	"sync/atomic"
	"time"

	sq "github.com/Masterminds/squirrel"
)

// PutDedup sets key to expire at until.
func (s *SQLStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	if key == "" {
		return nil
	}
	_, err := exec(ctx, s.db, s.sb.Insert("dedup").
		Columns("key", "until").
		Values(key, until.UnixMilli()).
		Suffix("ON CONFLICT (key) DO UPDATE SET until = excluded.until"))
	if err == nil && atomic.AddUint64(&s.opCount, 1)%s.pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 200*time.Millisecond)
		_ = s.pruneExpired(pctx)
		cancel()
	}
	return err
}

// ClaimDedup sets key to expire at until unless an unexpired entry exists.
// It reports whether the caller claimed the key.
func (s *SQLStore) ClaimDedup(ctx context.Context, key string, now, until time.Time) (bool, error) {
	if key == "" {
		return false, nil
	}
	res, err := exec(ctx, s.db, s.sb.Insert("dedup").
		Columns("key", "until").
		Values(key, until.UnixMilli()).
		Suffix("ON CONFLICT (key) DO UPDATE SET until = excluded.until WHERE dedup.until <= ?", now.UnixMilli()))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// GetDedup returns the expiry of key. Expired keys report ok=false.
func (s *SQLStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	if key == "" {
		return time.Time{}, false, nil
	}
	row, err := queryRow(ctx, s.db, s.sb.Select("until").From("dedup").Where(sq.Eq{"key": key}))
	if err != nil {
		return time.Time{}, false, err
	}
	var ms int64
	if err := row.Scan(&ms); err != nil {
		if isNoRows(err) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, err
	}
	until := time.UnixMilli(ms)
	if !until.After(time.Now()) {
		return time.Time{}, false, nil
	}
	return until, true, nil
}

func (s *SQLStore) pruneExpired(ctx context.Context) error {
	_, err := exec(ctx, s.db, s.sb.Delete("dedup").Where(sq.Lt{"until": time.Now().UnixMilli()}))
	return err
}
