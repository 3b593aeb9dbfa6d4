package storage

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"relaybot/internal/model"
	"relaybot/pkg/logx"
)

func openTest(t *testing.T) *SQLStore {
	t.Helper()
	st, err := Open(context.Background(), Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "relay.db")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func threeDeep() *model.Article {
	root := &model.Article{AID: "100", Platform: "twitter", Content: "root", CreatedAt: 1, Media: []model.Media{{URL: "https://img/1", Type: "photo"}}}
	mid := &model.Article{AID: "101", Platform: "twitter", Content: "quote", CreatedAt: 2, Ref: root}
	return &model.Article{AID: "102", Platform: "twitter", Content: "reply", CreatedAt: 3, Ref: mid,
		Extra: &model.Extra{Type: "card", Title: "t", Content: "preview"}}
}

func TestSaveChainAncestorFirst(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTest(t)

	leaf := threeDeep()
	saved, err := st.Save(ctx, leaf)
	require.NoError(t, err)

	mid, root := saved.Ref, saved.Ref.Ref
	require.Less(t, root.ID, mid.ID)
	require.Less(t, mid.ID, saved.ID)
	require.Nil(t, root.RefID)
	require.Equal(t, root.ID, *mid.RefID)
	require.Equal(t, mid.ID, *saved.RefID)

	full, err := st.GetFullChainArticle(ctx, saved.ID)
	require.NoError(t, err)
	require.Equal(t, "102", full.AID)
	require.Equal(t, "101", full.Ref.AID)
	require.Equal(t, "100", full.Ref.Ref.AID)
	require.Nil(t, full.Ref.Ref.Ref)
	require.True(t, full.Ref.Ref.HasMedia)
	require.Equal(t, "https://img/1", full.Ref.Ref.Media[0].URL)
	require.Equal(t, "preview", full.Extra.Content)
}

func TestTrySaveIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTest(t)

	first, err := st.TrySave(ctx, &model.Article{AID: "1", Platform: "weibo", Content: "a"})
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := st.TrySave(ctx, &model.Article{AID: "1", Platform: "weibo", Content: "a"})
	require.NoError(t, err)
	require.Nil(t, second)

	var n int
	require.NoError(t, st.db.QueryRow(`SELECT COUNT(*) FROM articles`).Scan(&n))
	require.Equal(t, 1, n)
}

func TestSaveReusesStoredAncestor(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTest(t)

	parent, err := st.Save(ctx, &model.Article{AID: "p", Platform: "x"})
	require.NoError(t, err)

	child, err := st.Save(ctx, &model.Article{AID: "c", Platform: "x", Ref: &model.Article{AID: "p", Platform: "x"}})
	require.NoError(t, err)
	require.Equal(t, parent.ID, *child.RefID)
}

func TestConcurrentSavesOfOverlappingChains(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTest(t)

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := st.Save(ctx, threeDeep())
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	var n int
	require.NoError(t, st.db.QueryRow(`SELECT COUNT(*) FROM articles`).Scan(&n))
	require.Equal(t, 3, n)
}

func TestSaveRejectsCycle(t *testing.T) {
	t.Parallel()
	st := openTest(t)

	a := &model.Article{AID: "a", Platform: "x"}
	b := &model.Article{AID: "b", Platform: "x", Ref: a}
	a.Ref = b
	_, err := st.Save(context.Background(), b)
	require.ErrorIs(t, err, model.ErrChainCycle)
}

func TestGetFullChainArticleGuardsCorruptRefs(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTest(t)

	a, err := st.Save(ctx, &model.Article{AID: "a", Platform: "x"})
	require.NoError(t, err)
	b, err := st.Save(ctx, &model.Article{AID: "b", Platform: "x", Ref: &model.Article{AID: "a", Platform: "x"}})
	require.NoError(t, err)
	_, err = st.db.Exec(`UPDATE articles SET ref_id = ? WHERE id = ?`, b.ID, a.ID)
	require.NoError(t, err)

	_, err = st.GetFullChainArticle(ctx, b.ID)
	require.ErrorIs(t, err, model.ErrChainCycle)

	_, err = st.GetFullChainArticle(ctx, 999)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSaveTranslationOnce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTest(t)

	a, err := st.Save(ctx, &model.Article{AID: "t", Platform: "x", Content: "hola"})
	require.NoError(t, err)

	ok, err := st.SaveTranslation(ctx, a.ID, "hello", "libre")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = st.SaveTranslation(ctx, a.ID, "hi", "other")
	require.NoError(t, err)
	require.False(t, ok)

	got, err := st.GetArticle(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, "hello", got.Translation)
	require.Equal(t, "libre", got.TranslatedBy)
}

func TestSaveAttachmentTranslationsOnce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTest(t)

	a, err := st.Save(ctx, &model.Article{
		AID: "att", Platform: "x", Content: "hola",
		Media: []model.Media{{URL: "u1", Alt: "gato"}, {URL: "u2", Alt: "perro"}},
		Extra: &model.Extra{Content: "tarjeta"},
	})
	require.NoError(t, err)

	ok, err := st.SaveAttachmentTranslations(ctx, a.ID,
		[]model.Media{{URL: "u1", Translation: "cat"}, {URL: "other", Translation: "dog"}},
		&model.Extra{Translation: "card"})
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = st.SaveAttachmentTranslations(ctx, a.ID,
		[]model.Media{{URL: "u1", Translation: "kitty"}},
		&model.Extra{Translation: "ticket"})
	require.NoError(t, err)
	require.False(t, ok)

	got, err := st.GetArticle(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, "cat", got.Media[0].Translation)
	require.Empty(t, got.Media[1].Translation, "mismatched url is ignored")
	require.Equal(t, "card", got.Extra.Translation)
	require.Equal(t, "gato", got.Media[0].Alt)

	_, err = st.SaveAttachmentTranslations(ctx, 999, nil, nil)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSaveAdoptsStoredTranslations(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTest(t)

	p, err := st.Save(ctx, &model.Article{AID: "p", Platform: "x", Content: "hola", Media: []model.Media{{URL: "u", Alt: "gato"}}})
	require.NoError(t, err)
	_, err = st.SaveTranslation(ctx, p.ID, "hello", "libre")
	require.NoError(t, err)
	_, err = st.SaveAttachmentTranslations(ctx, p.ID, []model.Media{{URL: "u", Translation: "cat"}}, nil)
	require.NoError(t, err)

	child := &model.Article{
		AID: "c", Platform: "x", Content: "reply",
		Ref: &model.Article{AID: "p", Platform: "x", Content: "hola", Media: []model.Media{{URL: "u", Alt: "gato"}}},
	}
	_, err = st.Save(ctx, child)
	require.NoError(t, err)
	require.Equal(t, p.ID, child.Ref.ID)
	require.Equal(t, "hello", child.Ref.Translation)
	require.Equal(t, "libre", child.Ref.TranslatedBy)
	require.Equal(t, "cat", child.Ref.Media[0].Translation)
	require.Empty(t, child.Translation)
}

func TestRecordForwardUnique(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTest(t)

	a, err := st.Save(ctx, &model.Article{AID: "f", Platform: "x"})
	require.NoError(t, err)

	exists, err := st.ForwardExists(ctx, a.ID, "telegram:1", "article")
	require.NoError(t, err)
	require.False(t, exists)

	ins, err := st.RecordForward(ctx, a.ID, "telegram:1", "article")
	require.NoError(t, err)
	require.True(t, ins)
	ins, err = st.RecordForward(ctx, a.ID, "telegram:1", "article")
	require.NoError(t, err)
	require.False(t, ins)

	exists, err = st.ForwardExists(ctx, a.ID, "telegram:1", "article")
	require.NoError(t, err)
	require.True(t, exists)

	n, err := st.CountForwards(ctx, "telegram:1")
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestAccountLifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTest(t)

	id, err := st.CreateAccount(ctx, model.Account{Platform: "twitter", Name: "a1", Credential: "cookie"})
	require.NoError(t, err)

	for want := 1; want <= 3; want++ {
		n, err := st.IncrementAccountFailure(ctx, id)
		require.NoError(t, err)
		require.Equal(t, want, n)
	}
	past := time.Now().Add(-time.Minute)
	require.NoError(t, st.BanAccount(ctx, id, past))

	active, err := st.ListAccounts(ctx, AccountFilter{Platform: "twitter", Status: model.AccountActive})
	require.NoError(t, err)
	require.Empty(t, active)

	n, err := st.UnbanExpired(ctx, time.Now())
	require.NoError(t, err)
	require.Equal(t, 1, n)

	acc, err := st.GetAccount(ctx, id)
	require.NoError(t, err)
	require.Equal(t, model.AccountActive, acc.Status)
	require.Zero(t, acc.FailureCount)
	require.True(t, acc.BanUntil.IsZero())

	require.NoError(t, st.SetAccountStatus(ctx, id, model.AccountBanned))
	n, err = st.UnbanExpired(ctx, time.Now())
	require.NoError(t, err)
	require.Zero(t, n)

	require.ErrorIs(t, st.TouchAccount(ctx, 12345, time.Now()), ErrNotFound)
}

func TestDedupExpiry(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTest(t)

	require.NoError(t, st.PutDedup(ctx, "k", time.Now().Add(time.Hour)))
	_, ok, err := st.GetDedup(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, st.PutDedup(ctx, "k", time.Now().Add(-time.Second)))
	_, ok, err = st.GetDedup(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestClaimDedup(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTest(t)
	now := time.Now()

	ok, err := st.ClaimDedup(ctx, "telegram::1", now, now.Add(time.Hour))
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = st.ClaimDedup(ctx, "telegram::1", now.Add(time.Minute), now.Add(2*time.Hour))
	require.NoError(t, err)
	require.False(t, ok)

	later := now.Add(2 * time.Hour)
	ok, err = st.ClaimDedup(ctx, "telegram::1", later, later.Add(time.Hour))
	require.NoError(t, err)
	require.True(t, ok)
}

func TestSaveFollows(t *testing.T) {
	t.Parallel()
	st := openTest(t)

	n, err := st.SaveFollows(context.Background(), []model.FollowSnapshot{
		{UID: "u1", Platform: "twitter", Followers: 10, CreatedAt: 1},
		{UID: "u2", Platform: "twitter", Followers: 20, CreatedAt: 1},
	})
	require.NoError(t, err)
	require.Equal(t, 2, n)
}
