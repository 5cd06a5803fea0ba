package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mailherd/mailherd/pkg/batch"
)

// journalTTL keeps finished-item records around long enough to resume a run
// days later without letting stale runs pile up forever.
const journalTTL = 7 * 24 * time.Hour

func journalKey(runKey, itemKey string) string {
	return "mailherd:journal:" + runKey + ":" + itemKey
}

// Entry is one item's recorded outcome within a named run.
type Entry struct {
	Status     batch.Status `json:"status"`
	Error      string       `json:"error,omitempty"`
	FinishedAt time.Time    `json:"finished_at"`
}

// Journal remembers finished items across invocations so an interrupted run
// can be repeated without redoing completed work.
type Journal interface {
	Get(ctx context.Context, runKey, itemKey string) (*Entry, error)
	Record(ctx context.Context, runKey, itemKey string, entry Entry) error
	Clear(ctx context.Context, runKey string) (int, error)
}

type journal struct {
	client *redis.Client
}

// NewJournal creates a Redis-backed Journal.
func NewJournal(client *redis.Client) Journal {
	return &journal{client: client}
}

// NewClient creates and returns a new Redis client.
func NewClient(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
		PoolSize:     10,
	})
}

// Get returns the recorded entry for an item, or nil when the item has none.
// A miss is not an error.
func (j *journal) Get(ctx context.Context, runKey, itemKey string) (*Entry, error) {
	data, err := j.client.Get(ctx, journalKey(runKey, itemKey)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("journal get %s/%s: %w", runKey, itemKey, err)
	}
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("unmarshal journal entry %s/%s: %w", runKey, itemKey, err)
	}
	return &entry, nil
}

func (j *journal) Record(ctx context.Context, runKey, itemKey string, entry Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal journal entry: %w", err)
	}
	if err := j.client.Set(ctx, journalKey(runKey, itemKey), data, journalTTL).Err(); err != nil {
		return fmt.Errorf("journal record %s/%s: %w", runKey, itemKey, err)
	}
	return nil
}

// Clear deletes every entry recorded under runKey and reports how many were
// removed.
func (j *journal) Clear(ctx context.Context, runKey string) (int, error) {
	iter := j.client.Scan(ctx, 0, journalKey(runKey, "*"), 200).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("journal scan %s: %w", runKey, err)
	}
	if len(keys) == 0 {
		return 0, nil
	}
	removed, err := j.client.Del(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("journal clear %s: %w", runKey, err)
	}
	return int(removed), nil
}
