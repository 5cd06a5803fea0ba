package redis

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailherd/mailherd/pkg/batch"
)

// ── mocks ─────────────────────────────────────────────────────────────────────

type fakeJournal struct {
	mu        sync.Mutex
	entries   map[string]Entry
	getErr    error
	recordErr error
	records   int
}

func newFakeJournal() *fakeJournal {
	return &fakeJournal{entries: map[string]Entry{}}
}

func (f *fakeJournal) Get(_ context.Context, runKey, itemKey string) (*Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	entry, ok := f.entries[runKey+"/"+itemKey]
	if !ok {
		return nil, nil
	}
	return &entry, nil
}

func (f *fakeJournal) Record(_ context.Context, runKey, itemKey string, entry Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records++
	if f.recordErr != nil {
		return f.recordErr
	}
	f.entries[runKey+"/"+itemKey] = entry
	return nil
}

func (f *fakeJournal) Clear(_ context.Context, runKey string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var removed int
	for k := range f.entries {
		if len(k) > len(runKey) && k[:len(runKey)+1] == runKey+"/" {
			delete(f.entries, k)
			removed++
		}
	}
	return removed, nil
}

var _ Journal = (*fakeJournal)(nil)

// ── helpers ───────────────────────────────────────────────────────────────────

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func identityKey(s string) string { return s }

// ── tests ─────────────────────────────────────────────────────────────────────

func TestJournalKey_Layout(t *testing.T) {
	assert.Equal(t, "mailherd:journal:create:alice@example.com",
		journalKey("create", "alice@example.com"))
}

func TestWrapSkipDone_SkipsRecordedSuccess(t *testing.T) {
	j := newFakeJournal()
	j.entries["create/alice@example.com"] = Entry{Status: batch.StatusSuccess}

	called := false
	fn := WrapSkipDone(j, "create", identityKey, func(_ context.Context, _ string, _ int) (string, error) {
		called = true
		return "made", nil
	}, testLogger())

	_, err := fn(context.Background(), "alice@example.com", 0)
	require.ErrorIs(t, err, batch.ErrSkip)
	assert.False(t, called, "a recorded success must not be processed again")
}

func TestWrapSkipDone_ProcessesUnrecordedItem(t *testing.T) {
	j := newFakeJournal()

	fn := WrapSkipDone(j, "create", identityKey, func(_ context.Context, item string, _ int) (string, error) {
		return "made:" + item, nil
	}, testLogger())

	got, err := fn(context.Background(), "bob@example.com", 3)
	require.NoError(t, err)
	assert.Equal(t, "made:bob@example.com", got)
}

func TestWrapSkipDone_ProcessesRecordedFailure(t *testing.T) {
	j := newFakeJournal()
	j.entries["create/bob@example.com"] = Entry{Status: batch.StatusFailed, Error: "quota"}

	called := false
	fn := WrapSkipDone(j, "create", identityKey, func(_ context.Context, _ string, _ int) (string, error) {
		called = true
		return "", nil
	}, testLogger())

	_, err := fn(context.Background(), "bob@example.com", 0)
	require.NoError(t, err)
	assert.True(t, called, "failed items are retried on the next run")
}

func TestWrapSkipDone_LookupErrorProcessesAnyway(t *testing.T) {
	j := newFakeJournal()
	j.getErr = errors.New("connection refused")

	called := false
	fn := WrapSkipDone(j, "create", identityKey, func(_ context.Context, _ string, _ int) (string, error) {
		called = true
		return "", nil
	}, testLogger())

	_, err := fn(context.Background(), "carol@example.com", 0)
	require.NoError(t, err)
	assert.True(t, called)
}

func TestWrapSkipDone_EndToEndWithRun(t *testing.T) {
	j := newFakeJournal()
	j.entries["create/b"] = Entry{Status: batch.StatusSuccess}
	j.entries["create/d"] = Entry{Status: batch.StatusSuccess}

	var processed itemRecorder
	fn := WrapSkipDone(j, "create", identityKey, func(_ context.Context, item string, _ int) (string, error) {
		processed.add(item)
		return item, nil
	}, testLogger())

	outcomes, err := batch.Run(context.Background(), []string{"a", "b", "c", "d"}, fn,
		batch.Options[string]{Concurrency: 2, Logger: testLogger()})
	require.NoError(t, err)

	assert.Equal(t, batch.StatusSuccess, outcomes[0].Status)
	assert.Equal(t, batch.StatusSkipped, outcomes[1].Status)
	assert.Equal(t, batch.StatusSuccess, outcomes[2].Status)
	assert.Equal(t, batch.StatusSkipped, outcomes[3].Status)
	assert.ElementsMatch(t, []string{"a", "c"}, processed.items())
}

// itemRecorder collects processed items from concurrent workers.
type itemRecorder struct {
	mu   sync.Mutex
	seen []string
}

func (r *itemRecorder) add(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, s)
}

func (r *itemRecorder) items() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.seen...)
}

func TestJournalObserver_RecordsFinishedItems(t *testing.T) {
	j := newFakeJournal()
	items := []string{"alice@example.com", "bob@example.com"}
	observe := JournalObserver[string](j, "create", func(i int) string { return items[i] }, testLogger())

	finished := time.Date(2026, 8, 21, 10, 0, 0, 0, time.UTC)
	observe(batch.Outcome[string]{Index: 0, Status: batch.StatusSuccess, FinishedAt: finished}, 1, 2)
	observe(batch.Outcome[string]{Index: 1, Status: batch.StatusFailed, Error: "quota", FinishedAt: finished}, 2, 2)

	got, err := j.Get(context.Background(), "create", "alice@example.com")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, batch.StatusSuccess, got.Status)
	assert.Equal(t, finished, got.FinishedAt)

	got, err = j.Get(context.Background(), "create", "bob@example.com")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, batch.StatusFailed, got.Status)
	assert.Equal(t, "quota", got.Error)
}

func TestJournalObserver_SkipsAreNotRecorded(t *testing.T) {
	j := newFakeJournal()
	j.entries["create/alice@example.com"] = Entry{Status: batch.StatusSuccess}
	observe := JournalObserver[string](j, "create", func(int) string { return "alice@example.com" }, testLogger())

	observe(batch.Outcome[string]{Index: 0, Status: batch.StatusSkipped}, 1, 1)

	got, err := j.Get(context.Background(), "create", "alice@example.com")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, batch.StatusSuccess, got.Status, "the success that caused the skip must survive")
	assert.Equal(t, 0, j.records)
}

func TestJournalObserver_RecordFailureOnlyLogs(t *testing.T) {
	j := newFakeJournal()
	j.recordErr = errors.New("connection refused")
	observe := JournalObserver[string](j, "create", func(int) string { return "a" }, testLogger())

	assert.NotPanics(t, func() {
		observe(batch.Outcome[string]{Index: 0, Status: batch.StatusSuccess}, 1, 1)
	})
}
