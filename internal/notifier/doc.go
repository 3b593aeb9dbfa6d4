// Package notifier turns operator-relevant bus events (account bans, failed
// forwards, jobs that exhausted their retries) into short alert messages
// delivered to one configured target.
//
// Alerts are deduplicated per key inside a window, paced by a token bucket
// and queued so a slow target never blocks event intake. A full queue drops
// the alert.
package notifier
