// Package slot turns cron schedules into fixed-width time buckets and derives
// job ids from them. Two triggers of the same task inside one bucket share an
// id, which lets a queue that discards duplicate ids coalesce them.
//
// A trigger landing exactly on a bucket boundary can still yield two ids for
// what looks like one run; callers accept that.
package slot

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	MinWidth     = 30 * time.Second
	MaxWidth     = time.Hour
	DefaultWidth = 10 * time.Minute
)

// Parser accepts 5-field, 6-field (seconds) and descriptor specs.
var Parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Width samples the next two fire times of spec after now and returns twice
// their distance, clamped to [MinWidth, MaxWidth]. Unparseable specs get
// DefaultWidth.
func Width(spec string, now time.Time) time.Duration {
	sched, err := Parser.Parse(spec)
	if err != nil {
		return DefaultWidth
	}
	first := sched.Next(now)
	second := sched.Next(first)
	if first.IsZero() || second.IsZero() {
		return DefaultWidth
	}
	w := 2 * second.Sub(first)
	switch {
	case w < MinWidth:
		return MinWidth
	case w > MaxWidth:
		return MaxWidth
	}
	return w.Truncate(time.Second)
}

// Bucket is floor(now / width) in whole seconds.
func Bucket(now time.Time, width time.Duration) int64 {
	secs := int64(width / time.Second)
	if secs <= 0 {
		secs = int64(DefaultWidth / time.Second)
	}
	return now.Unix() / secs
}

// JobID hashes prefix, content and the bucket of now for spec.
func JobID(prefix, content, spec string, now time.Time) string {
	return IDForBucket(prefix, content, Bucket(now, Width(spec, now)))
}

// IDForBucket is JobID with an explicit bucket.
func IDForBucket(prefix, content string, bucket int64) string {
	h := sha256.New()
	h.Write([]byte(prefix))
	h.Write([]byte{0})
	h.Write([]byte(content))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatInt(bucket, 10)))
	sum := hex.EncodeToString(h.Sum(nil))
	if prefix == "" {
		return sum
	}
	return prefix + ":" + sum
}
