package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"relaybot/internal/model"
)

var articleColumns = []string{
	"id", "a_id", "platform", "u_id", "username", "url", "kind", "content",
	"translation", "translated_by", "created_at", "has_media", "media", "extra", "ref_id",
}

// CheckExist returns the stored article for key, or nil when absent.
func (s *SQLStore) CheckExist(ctx context.Context, key model.Key) (*model.Article, error) {
	return s.checkExist(ctx, s.db, key)
}

func (s *SQLStore) checkExist(ctx context.Context, q querier, key model.Key) (*model.Article, error) {
	row, err := queryRow(ctx, q, s.sb.Select(articleColumns...).From("articles").
		Where(sq.Eq{"a_id": key.AID, "platform": key.Platform}))
	if err != nil {
		return nil, err
	}
	a, err := scanArticle(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return a, err
}

// TrySave saves a unless an article with the same natural key already
// exists. It returns nil when nothing was saved.
func (s *SQLStore) TrySave(ctx context.Context, a *model.Article) (*model.Article, error) {
	existing, err := s.CheckExist(ctx, a.Key())
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, nil
	}
	return s.Save(ctx, a)
}

// Save persists a and its ref chain, oldest ancestor first, so every ref_id
// points at a stored row. Already stored links are reused and their stored
// translations copied into the in-memory chain. The IDs and RefIDs of the
// in-memory chain are filled in on success.
func (s *SQLStore) Save(ctx context.Context, a *model.Article) (*model.Article, error) {
	if a == nil {
		return nil, errors.New("save: nil article")
	}
	chain, err := a.Chain(model.MaxChainDepth)
	if err != nil {
		return nil, err
	}

	err = s.inTx(ctx, func(q querier) error {
		var parent *int64
		for i := len(chain) - 1; i >= 0; i-- {
			cur := chain[i]
			id, stored, err := s.saveOne(ctx, q, cur, parent)
			if err != nil {
				return fmt.Errorf("save %s: %w", cur.Key(), err)
			}
			if stored != nil {
				adoptTranslations(cur, stored)
			}
			cur.ID = id
			if parent != nil {
				pid := *parent
				cur.RefID = &pid
			}
			parent = &id
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// saveOne inserts a unless its key is stored. The stored row is returned
// when it was reused.
func (s *SQLStore) saveOne(ctx context.Context, q querier, a *model.Article, parent *int64) (int64, *model.Article, error) {
	existing, err := s.checkExist(ctx, q, a.Key())
	if err != nil {
		return 0, nil, err
	}
	if existing != nil {
		return existing.ID, existing, nil
	}

	media, err := json.Marshal(nonNilMedia(a.Media))
	if err != nil {
		return 0, nil, err
	}
	var extra any
	if a.Extra != nil {
		b, err := json.Marshal(a.Extra)
		if err != nil {
			return 0, nil, err
		}
		extra = string(b)
	}
	var ref any
	if parent != nil {
		ref = *parent
	}

	row, err := queryRow(ctx, q, s.sb.Insert("articles").
		Columns(articleColumns[1:]...).
		Values(a.AID, a.Platform, a.UID, a.Username, a.URL, a.Kind, a.Content,
			a.Translation, a.TranslatedBy, a.CreatedAt, a.HasMedia || len(a.Media) > 0,
			string(media), extra, ref).
		Suffix("ON CONFLICT (a_id, platform) DO NOTHING RETURNING id"))
	if err != nil {
		return 0, nil, err
	}
	var id int64
	err = row.Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		// Lost an insert race; the winner's row is authoritative.
		existing, err := s.checkExist(ctx, q, a.Key())
		if err != nil {
			return 0, nil, err
		}
		if existing == nil {
			return 0, nil, fmt.Errorf("article %s vanished after conflict", a.Key())
		}
		return existing.ID, existing, nil
	}
	return id, nil, err
}

// adoptTranslations fills empty translation slots of dst from the stored row.
// Media are matched by position and URL.
func adoptTranslations(dst, stored *model.Article) {
	if dst.Translation == "" {
		dst.Translation, dst.TranslatedBy = stored.Translation, stored.TranslatedBy
	}
	for i := range dst.Media {
		if i < len(stored.Media) && dst.Media[i].Translation == "" && dst.Media[i].URL == stored.Media[i].URL {
			dst.Media[i].Translation = stored.Media[i].Translation
		}
	}
	if dst.Extra != nil && stored.Extra != nil && dst.Extra.Translation == "" {
		dst.Extra.Translation = stored.Extra.Translation
	}
}

// GetArticle loads a single row without following ref.
func (s *SQLStore) GetArticle(ctx context.Context, id int64) (*model.Article, error) {
	row, err := queryRow(ctx, s.db, s.sb.Select(articleColumns...).From("articles").Where(sq.Eq{"id": id}))
	if err != nil {
		return nil, err
	}
	a, err := scanArticle(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("article %d: %w", id, ErrNotFound)
	}
	return a, err
}

// GetFullChainArticle loads id and follows ref_id to the oldest ancestor,
// linking the results through Article.Ref.
func (s *SQLStore) GetFullChainArticle(ctx context.Context, id int64) (*model.Article, error) {
	head, err := s.GetArticle(ctx, id)
	if err != nil {
		return nil, err
	}
	seen := map[int64]bool{head.ID: true}
	cur := head
	for depth := 1; cur.RefID != nil; depth++ {
		if depth >= model.MaxChainDepth {
			return nil, fmt.Errorf("article %d: %w", id, model.ErrChainTooDeep)
		}
		refID := *cur.RefID
		if seen[refID] {
			return nil, fmt.Errorf("article %d: %w at %d", id, model.ErrChainCycle, refID)
		}
		seen[refID] = true
		parent, err := s.GetArticle(ctx, refID)
		if err != nil {
			return nil, err
		}
		cur.Ref = parent
		cur = parent
	}
	return head, nil
}

// SaveTranslation stores a translation only if none is stored yet.
// It reports whether the row changed.
func (s *SQLStore) SaveTranslation(ctx context.Context, id int64, translation, by string) (bool, error) {
	if translation == "" {
		return false, nil
	}
	res, err := exec(ctx, s.db, s.sb.Update("articles").
		Set("translation", translation).
		Set("translated_by", by).
		Where(sq.Eq{"id": id, "translation": ""}))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// SaveAttachmentTranslations merges media caption and extra card translations
// into the stored row. A slot that already holds a translation keeps it, and
// media are matched by position and URL. It reports whether the row changed.
func (s *SQLStore) SaveAttachmentTranslations(ctx context.Context, id int64, media []model.Media, extra *model.Extra) (bool, error) {
	var changed bool
	err := s.inTx(ctx, func(q querier) error {
		sel := s.sb.Select("media", "extra").From("articles").Where(sq.Eq{"id": id})
		if s.dialect == "postgres" {
			sel = sel.Suffix("FOR UPDATE")
		}
		row, err := queryRow(ctx, q, sel)
		if err != nil {
			return err
		}
		var (
			rawMedia string
			rawExtra sql.NullString
		)
		if err := row.Scan(&rawMedia, &rawExtra); err != nil {
			if isNoRows(err) {
				return fmt.Errorf("article %d: %w", id, ErrNotFound)
			}
			return err
		}

		upd := s.sb.Update("articles").Where(sq.Eq{"id": id})
		var stored []model.Media
		if rawMedia != "" {
			if err := json.Unmarshal([]byte(rawMedia), &stored); err != nil {
				return fmt.Errorf("decode media of %d: %w", id, err)
			}
		}
		mediaChanged := false
		for i := range stored {
			if i >= len(media) {
				break
			}
			if stored[i].Translation != "" || media[i].Translation == "" || stored[i].URL != media[i].URL {
				continue
			}
			stored[i].Translation = media[i].Translation
			mediaChanged = true
		}
		if mediaChanged {
			b, err := json.Marshal(stored)
			if err != nil {
				return err
			}
			upd = upd.Set("media", string(b))
		}

		extraChanged := false
		if extra != nil && extra.Translation != "" && rawExtra.Valid && rawExtra.String != "" {
			var cur model.Extra
			if err := json.Unmarshal([]byte(rawExtra.String), &cur); err != nil {
				return fmt.Errorf("decode extra of %d: %w", id, err)
			}
			if cur.Translation == "" {
				cur.Translation = extra.Translation
				b, err := json.Marshal(cur)
				if err != nil {
					return err
				}
				upd = upd.Set("extra", string(b))
				extraChanged = true
			}
		}

		if !mediaChanged && !extraChanged {
			return nil
		}
		if _, err := exec(ctx, q, upd); err != nil {
			return err
		}
		changed = true
		return nil
	})
	return changed, err
}

// SaveFollows appends follower snapshots.
func (s *SQLStore) SaveFollows(ctx context.Context, items []model.FollowSnapshot) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}
	b := s.sb.Insert("follows").Columns("u_id", "platform", "followers", "created_at")
	for _, f := range items {
		b = b.Values(f.UID, f.Platform, f.Followers, f.CreatedAt)
	}
	res, err := exec(ctx, s.db, b)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanArticle(r rowScanner) (*model.Article, error) {
	var (
		a     model.Article
		media string
		extra sql.NullString
		ref   sql.NullInt64
	)
	if err := r.Scan(&a.ID, &a.AID, &a.Platform, &a.UID, &a.Username, &a.URL, &a.Kind, &a.Content,
		&a.Translation, &a.TranslatedBy, &a.CreatedAt, &a.HasMedia, &media, &extra, &ref); err != nil {
		return nil, err
	}
	if media != "" {
		if err := json.Unmarshal([]byte(media), &a.Media); err != nil {
			return nil, fmt.Errorf("decode media of %d: %w", a.ID, err)
		}
	}
	if extra.Valid && extra.String != "" {
		a.Extra = &model.Extra{}
		if err := json.Unmarshal([]byte(extra.String), a.Extra); err != nil {
			return nil, fmt.Errorf("decode extra of %d: %w", a.ID, err)
		}
	}
	if ref.Valid {
		id := ref.Int64
		a.RefID = &id
	}
	return &a, nil
}

func nonNilMedia(m []model.Media) []model.Media {
	if m == nil {
		return []model.Media{}
	}
	return m
}
