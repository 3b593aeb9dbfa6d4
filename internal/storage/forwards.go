package storage

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"
)

// ForwardExists reports whether the article was already delivered to target.
func (s *SQLStore) ForwardExists(ctx context.Context, articleID int64, targetID, taskType string) (bool, error) {
	row, err := queryRow(ctx, s.db, s.sb.Select("1").From("forward_records").
		Where(sq.Eq{"article_id": articleID, "target_id": targetID, "task_type": taskType}).
		Limit(1))
	if err != nil {
		return false, err
	}
	var one int
	switch err := row.Scan(&one); {
	case err == nil:
		return true, nil
	case isNoRows(err):
		return false, nil
	default:
		return false, err
	}
}

// RecordForward inserts a delivery fact. The unique constraint on
// (article_id, target_id, task_type) resolves concurrent writers; a duplicate
// returns false without error.
func (s *SQLStore) RecordForward(ctx context.Context, articleID int64, targetID, taskType string) (bool, error) {
	res, err := exec(ctx, s.db, s.sb.Insert("forward_records").
		Columns("article_id", "target_id", "task_type", "created_at").
		Values(articleID, targetID, taskType, time.Now().UnixMilli()).
		Suffix("ON CONFLICT (article_id, target_id, task_type) DO NOTHING"))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// CountForwards returns how many delivery facts exist for target.
func (s *SQLStore) CountForwards(ctx context.Context, targetID string) (int, error) {
	row, err := queryRow(ctx, s.db, s.sb.Select("COUNT(*)").From("forward_records").
		Where(sq.Eq{"target_id": targetID}))
	if err != nil {
		return 0, err
	}
	var n int
	return n, row.Scan(&n)
}
