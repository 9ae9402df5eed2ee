package notify

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failing struct{ err error }

func (f failing) Send(context.Context, Notification) error { return f.err }

func TestLogNotifier_Send(t *testing.T) {
	var buf bytes.Buffer
	n := NewLogNotifier(slog.New(slog.NewTextHandler(&buf, nil)))

	err := n.Send(context.Background(), Notification{
		Kind:    KindBothTiersFailed,
		Subject: "verse failed on both tiers",
		Ref:     "Psalms 23:1",
	})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "kind=both_tiers_failed")
	assert.Contains(t, buf.String(), `ref="Psalms 23:1"`)
}

func TestFollowupNotifier_Send(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "followup.jsonl")
	n := NewFollowupNotifier(path)
	n.now = func() time.Time { return time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC) }

	ctx := context.Background()
	require.NoError(t, n.Send(ctx, Notification{Kind: KindBothTiersFailed, Ref: "Genesis 1:1", RunID: "r1"}))
	require.NoError(t, n.Send(ctx, Notification{Kind: KindIntegrity, Ref: "Genesis 1:2"}))

	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()

	var got []Notification
	sc := bufio.NewScanner(file)
	for sc.Scan() {
		var n Notification
		require.NoError(t, json.Unmarshal(sc.Bytes(), &n))
		got = append(got, n)
	}
	require.NoError(t, sc.Err())
	require.Len(t, got, 2)
	assert.Equal(t, "Genesis 1:1", got[0].Ref)
	assert.Equal(t, "r1", got[0].RunID)
	assert.Equal(t, 2025, got[0].Time.Year())
	assert.Equal(t, KindIntegrity, got[1].Kind)
}

func TestMulti_Send(t *testing.T) {
	path := filepath.Join(t.TempDir(), "followup.jsonl")
	boom := errors.New("boom")
	m := Multi{failing{boom}, nil, NewFollowupNotifier(path)}

	err := m.Send(context.Background(), Notification{Kind: KindRunFinished})
	assert.ErrorIs(t, err, boom)

	// Later notifiers still receive it.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"kind":"run_finished"`)
}
