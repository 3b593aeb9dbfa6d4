// Package model holds the records shared by storage, workers and the
// forwarding pipeline.
package model

import (
	"fmt"
	"time"
)

// Key is the natural key of an Article.
type Key struct {
	AID      string
	Platform string
}

func (k Key) String() string { return k.Platform + "/" + k.AID }

// Article is one scraped post. Ref points at the post it quotes, retweets or
// replies to; the chain must be finite and acyclic.
type Article struct {
	ID           int64   `json:"id,omitempty"`
	AID          string  `json:"a_id"`
	Platform     string  `json:"platform"`
	UID          string  `json:"u_id,omitempty"`
	Username     string  `json:"username,omitempty"`
	URL          string  `json:"url,omitempty"`
	Kind         string  `json:"type,omitempty"`
	Content      string  `json:"content"`
	Translation  string  `json:"translation,omitempty"`
	TranslatedBy string  `json:"translated_by,omitempty"`
	CreatedAt    int64   `json:"created_at,omitempty"` // unix seconds; 0 when unknown
	HasMedia     bool    `json:"has_media,omitempty"`
	Media        []Media `json:"media,omitempty"`
	Extra        *Extra  `json:"extra,omitempty"`

	RefID *int64   `json:"ref_id,omitempty"`
	Ref   *Article `json:"ref,omitempty"`
}

type Media struct {
	URL         string `json:"url"`
	Type        string `json:"type"`
	Alt         string `json:"alt,omitempty"`
	Translation string `json:"translation,omitempty"`
}

// Extra is an attached card (link preview, poll, ...).
type Extra struct {
	Type        string `json:"type,omitempty"`
	Title       string `json:"title,omitempty"`
	Content     string `json:"content,omitempty"`
	Translation string `json:"translation,omitempty"`
	URL         string `json:"url,omitempty"`
}

func (a *Article) Key() Key { return Key{AID: a.AID, Platform: a.Platform} }

// Time returns the creation time and whether it is known.
func (a *Article) Time() (time.Time, bool) {
	if a == nil || a.CreatedAt <= 0 {
		return time.Time{}, false
	}
	return time.Unix(a.CreatedAt, 0), true
}

// Chain returns a followed by its ancestors, newest first.
// It stops at maxDepth links and reports ErrChainTooDeep beyond that.
func (a *Article) Chain(maxDepth int) ([]*Article, error) {
	var out []*Article
	seen := map[Key]bool{}
	for cur := a; cur != nil; cur = cur.Ref {
		if seen[cur.Key()] {
			return nil, fmt.Errorf("%w at %s", ErrChainCycle, cur.Key())
		}
		if len(out) >= maxDepth {
			return nil, fmt.Errorf("%w (limit %d)", ErrChainTooDeep, maxDepth)
		}
		seen[cur.Key()] = true
		out = append(out, cur)
	}
	return out, nil
}

// AnyMedia reports whether the article or one of its ancestors carries media.
func (a *Article) AnyMedia() bool {
	for cur, n := a, 0; cur != nil && n < MaxChainDepth; cur, n = cur.Ref, n+1 {
		if cur.HasMedia || len(cur.Media) > 0 {
			return true
		}
	}
	return false
}

// FollowSnapshot is one follower-count sample.
type FollowSnapshot struct {
	UID       string `json:"u_id"`
	Platform  string `json:"platform"`
	Followers int64  `json:"followers"`
	CreatedAt int64  `json:"created_at,omitempty"`
}

// ForwardRecord marks that an article reached a target.
type ForwardRecord struct {
	ID        int64
	ArticleID int64
	TargetID  string
	TaskType  string
	CreatedAt time.Time
}
