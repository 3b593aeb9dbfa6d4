// Package worker holds the job handlers run by the engine: the storage
// worker persisting scrape results and the forwarder worker delivering
// stored articles to targets.
package worker

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"

	"relaybot/internal/forward"
	"relaybot/internal/translate"
)

// Job types.
const (
	TypeStorage = "storage"
	TypeForward = "forward"
)

// Storage task types.
const (
	TaskArticle = "article"
	TaskFollows = "follows"
)

// StorageJob carries one scrape result.
type StorageJob struct {
	TaskID     string            `json:"task_id"`
	TaskType   string            `json:"task_type"`
	Items      json.RawMessage   `json:"items"`
	Translator *translate.Config `json:"translator_config,omitempty"`
	// Forward, when set, chains a forwarding job for newly saved articles.
	Forward *forward.ForwarderConfig `json:"forward,omitempty"`
	// ForwarderName selects a configured forwarder when Forward is unset.
	ForwarderName string `json:"forwarder,omitempty"`
}

type ForwardJob struct {
	TaskID        string                  `json:"task_id"`
	StorageTaskID string                  `json:"storage_task_id,omitempty"`
	TaskType      string                  `json:"task_type,omitempty"`
	ArticleIDs    []int64                 `json:"article_ids"`
	Forwarder     forward.ForwarderConfig `json:"forwarder_config"`
}

// ForwardSummary is the Data of a forwarding job result.
type ForwardSummary struct {
	Sent    int `json:"sent"`
	Skipped int `json:"skipped"`
	Blocked int `json:"blocked"`
	Failed  int `json:"failed"`
	Records int `json:"records"`
}

// StorageSummary is the Data of a storage job result.
type StorageSummary struct {
	Saved      int     `json:"saved"`
	Existing   int     `json:"existing"`
	Failed     int     `json:"failed"`
	Translated int     `json:"translated"`
	ArticleIDs []int64 `json:"article_ids,omitempty"`
	ForwardJob string  `json:"forward_job,omitempty"`
}

func decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return fmt.Errorf("empty payload")
	}
	return json.Unmarshal(raw, v)
}

// forwardJobID is stable for a storage task and its article set, so a
// retried storage job does not enqueue a second forwarding job.
func forwardJobID(storageTaskID string, ids []int64) string {
	h := sha256.New()
	h.Write([]byte(storageTaskID))
	for _, id := range ids {
		h.Write([]byte{0})
		h.Write([]byte(strconv.FormatInt(id, 10)))
	}
	return "forward:" + hex.EncodeToString(h.Sum(nil))[:24]
}
