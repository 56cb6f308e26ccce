package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingSink struct{ err error }

func (f failingSink) Record(context.Context, Entry) error { return f.err }

type captureSink struct{ entries []Entry }

func (c *captureSink) Record(_ context.Context, e Entry) error {
	c.entries = append(c.entries, e)
	return nil
}

func TestFileSinkAppendsJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "audit.jsonl")
	sink, err := NewFileSink(path)
	require.NoError(t, err)
	sink.now = func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) }

	ctx := context.Background()
	require.NoError(t, sink.Record(ctx, Entry{SourceURL: "https://example.com/v", Status: StatusSuccess, Message: "ok"}))
	require.NoError(t, sink.Record(ctx, Entry{SourceURL: "https://example.com/w", Status: StatusError, Message: "boom"}))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []map[string]any
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &m))
		lines = append(lines, m)
	}
	require.Len(t, lines, 2)
	assert.Equal(t, "https://example.com/v", lines[0]["video_url"])
	assert.Equal(t, "success", lines[0]["status"])
	assert.Equal(t, "2025-03-01T12:00:00Z", lines[0]["timestamp"])
	assert.Equal(t, "boom", lines[1]["message"])
}

func TestDBSinkRecentNewestFirst(t *testing.T) {
	sink, err := OpenDBSink(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sink.Close() })

	ctx := context.Background()
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, url := range []string{"a", "b", "c"} {
		require.NoError(t, sink.Record(ctx, Entry{
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			SourceURL: url,
			Status:    StatusSuccess,
		}))
	}

	entries, err := sink.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "c", entries[0].SourceURL)
	assert.Equal(t, "b", entries[1].SourceURL)
}

func TestMultiJoinsErrorsAndKeepsWriting(t *testing.T) {
	capture := &captureSink{}
	boom := errors.New("disk full")
	m := Multi{failingSink{err: boom}, nil, capture}

	err := m.Record(context.Background(), Entry{SourceURL: "x", Status: StatusError})
	assert.ErrorIs(t, err, boom)
	require.Len(t, capture.entries, 1)
	assert.Equal(t, "x", capture.entries[0].SourceURL)
}

func TestNopSink(t *testing.T) {
	assert.NoError(t, Nop{}.Record(context.Background(), Entry{}))
}
