// Package storage is the relational persistence layer.
//
// It holds:
//   - articles, saved oldest ancestor first and keyed by (a_id, platform)
//   - forward records, the delivery dedup authority
//   - scraping accounts and follower snapshots
//   - a small expiring key table used for cooldowns
//
// SQLite (modernc) is the default driver; PostgreSQL is available through
// pgx's database/sql adapter. Queries are built with squirrel so both
// dialects share one code path.
package storage
