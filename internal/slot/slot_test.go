package slot

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWidth(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 5, 1, 10, 3, 7, 0, time.UTC)
	cases := []struct {
		spec string
		want time.Duration
	}{
		{"*/5 * * * *", 10 * time.Minute},
		{"* * * * *", 2 * time.Minute},
		{"*/5 * * * * *", MinWidth},
		{"0 * * * *", MaxWidth},
		{"0 0 * * *", MaxWidth},
		{"@every 20m", 40 * time.Minute},
		{"not a cron", DefaultWidth},
		{"", DefaultWidth},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.spec, func(t *testing.T) {
			t.Parallel()
			got := Width(tc.spec, now)
			require.Equal(t, tc.want, got)
			require.GreaterOrEqual(t, got, MinWidth)
			require.LessOrEqual(t, got, MaxWidth)
		})
	}
}

func TestJobIDSameBucket(t *testing.T) {
	t.Parallel()

	spec := "*/5 * * * *" // 600s buckets
	base := time.Unix(600*1000+10, 0)

	a := JobID("crawl", `{"user":"x"}`, spec, base)
	b := JobID("crawl", `{"user":"x"}`, spec, base.Add(5*time.Minute))
	require.Equal(t, a, b)

	require.NotEqual(t, a, JobID("crawl", `{"user":"x"}`, spec, base.Add(10*time.Minute)))
	require.NotEqual(t, a, JobID("crawl", `{"user":"y"}`, spec, base))
	require.NotEqual(t, a, JobID("forward", `{"user":"x"}`, spec, base))
	require.Contains(t, a, "crawl:")
}

func TestBucketFallback(t *testing.T) {
	t.Parallel()
	require.Equal(t, int64(2), Bucket(time.Unix(1200, 0), 0))
}
