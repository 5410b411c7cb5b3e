package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/camdrive/internal/controlloop"
	"github.com/banshee-data/camdrive/internal/monitoring"
	"github.com/banshee-data/camdrive/internal/policy"
)

var t0 = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func TestOpen_MigratesToLatest(t *testing.T) {
	j := openTestJournal(t)

	version, dirty, err := j.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
	assert.False(t, dirty)

	// Reopening an up to date database is a no-op.
	require.NoError(t, j.MigrateUp())
}

func TestObserve_BeforeStartRunIsIgnored(t *testing.T) {
	j := openTestJournal(t)
	j.ObserveCycle(controlloop.CycleReport{Seq: 1, Started: t0})
	j.Flush()

	var n int
	require.NoError(t, j.DB().QueryRow(`SELECT COUNT(*) FROM cycles`).Scan(&n))
	assert.Zero(t, n)
}

func TestRunLifecycle(t *testing.T) {
	ctx := context.Background()
	j := openTestJournal(t)

	id, err := j.StartRun(ctx, "1.2.3", "tcp://192.168.4.1:100", t0)
	require.NoError(t, err)
	assert.Equal(t, id, j.RunID())

	j.ObserveState(controlloop.Disconnected, controlloop.Connecting, t0)
	j.ObserveState(controlloop.Connecting, controlloop.Connected, t0.Add(time.Second))
	j.ObserveCycle(controlloop.CycleReport{
		Seq:        1,
		SessionID:  "s-1",
		Started:    t0.Add(2 * time.Second),
		Duration:   1500 * time.Millisecond,
		Outcome:    controlloop.OutcomeSent,
		Label:      "allow_path",
		Confidence: 0.91,
		Action:     policy.Advance.String(),
		Reason:     policy.PathAllowed,
		Command:    `{"N":3,"D1":3,"D2":200}`,
		Heartbeat:  true,
	})
	j.ObserveCycle(controlloop.CycleReport{
		Seq:     2,
		Started: t0.Add(4 * time.Second),
		Outcome: controlloop.OutcomeNoFrame,
		Error:   "no frame captured",
	})
	j.Flush()

	cycles, err := j.RecentCycles(ctx, 10)
	require.NoError(t, err)
	require.Len(t, cycles, 2)

	assert.Equal(t, int64(2), cycles[0].Seq)
	assert.Equal(t, controlloop.OutcomeNoFrame, cycles[0].Outcome)
	assert.Equal(t, "no frame captured", cycles[0].Error)

	first := cycles[1]
	assert.Equal(t, "s-1", first.SessionID)
	assert.Equal(t, "allow_path", first.Label)
	assert.InDelta(t, 0.91, first.Confidence, 1e-9)
	assert.Equal(t, policy.PathAllowed, first.Reason)
	assert.Equal(t, 1500*time.Millisecond, first.Duration)
	assert.True(t, first.Heartbeat)
	assert.True(t, first.Started.Equal(t0.Add(2*time.Second)))

	transitions, err := j.Transitions(ctx)
	require.NoError(t, err)
	require.Len(t, transitions, 2)
	assert.Equal(t, "connecting", transitions[0].To)
	assert.Equal(t, "connected", transitions[1].To)

	require.NoError(t, j.FinishRun(ctx, "shutdown", t0.Add(time.Minute)))
	var result string
	require.NoError(t, j.DB().QueryRow(`SELECT result FROM runs WHERE run_id = ?`, id).Scan(&result))
	assert.Equal(t, "shutdown", result)
}

func TestRecentCycles_ScopedToRun(t *testing.T) {
	ctx := context.Background()
	j := openTestJournal(t)

	_, err := j.StartRun(ctx, "dev", "mock", t0)
	require.NoError(t, err)
	j.ObserveCycle(controlloop.CycleReport{Seq: 1, Started: t0, Outcome: controlloop.OutcomeIgnored})

	_, err = j.StartRun(ctx, "dev", "mock", t0.Add(time.Hour))
	require.NoError(t, err)
	cycles, err := j.RecentCycles(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, cycles)
}

func TestObserveCycle_LogsWriteFailure(t *testing.T) {
	rec, restore := monitoring.Capture()
	defer restore()

	j := openTestJournal(t)
	_, err := j.StartRun(context.Background(), "dev", "mock", t0)
	require.NoError(t, err)
	_, err = j.DB().Exec(`DROP TABLE cycles`)
	require.NoError(t, err)

	j.ObserveCycle(controlloop.CycleReport{Seq: 7, Started: t0})
	j.Flush()

	lines := rec.Lines()
	require.NotEmpty(t, lines)
	assert.Contains(t, lines[len(lines)-1], "failed to record cycle 7")
}

func TestObserveCycle_DoesNotBlockOnReader(t *testing.T) {
	ctx := context.Background()
	j := openTestJournal(t)
	_, err := j.StartRun(ctx, "dev", "mock", t0)
	require.NoError(t, err)

	// An open transaction pins the only connection, as a long debug query
	// would.
	tx, err := j.DB().BeginTx(ctx, nil)
	require.NoError(t, err)

	returned := make(chan struct{})
	go func() {
		j.ObserveCycle(controlloop.CycleReport{Seq: 1, Started: t0, Outcome: controlloop.OutcomeIgnored})
		j.ObserveState(controlloop.Connecting, controlloop.Connected, t0)
		close(returned)
	}()
	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("observer blocked behind an open reader")
	}

	require.NoError(t, tx.Rollback())
	j.Flush()

	cycles, err := j.RecentCycles(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, cycles, 1)
	transitions, err := j.Transitions(ctx)
	require.NoError(t, err)
	assert.Len(t, transitions, 1)
}

func TestObserveCycle_DropsWhenQueueFull(t *testing.T) {
	ctx := context.Background()
	j := openTestJournal(t)
	_, err := j.StartRun(ctx, "dev", "mock", t0)
	require.NoError(t, err)

	tx, err := j.DB().BeginTx(ctx, nil)
	require.NoError(t, err)

	total := writeQueueSize + 10
	for i := 0; i < total; i++ {
		j.ObserveCycle(controlloop.CycleReport{Seq: int64(i), Started: t0, Outcome: controlloop.OutcomeIgnored})
	}
	assert.Positive(t, j.Dropped())

	require.NoError(t, tx.Rollback())
	j.Flush()

	var n int
	require.NoError(t, j.DB().QueryRow(`SELECT COUNT(*) FROM cycles`).Scan(&n))
	assert.Equal(t, total, n+j.Dropped())
}

func TestClose_WritesQueuedRows(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := Open(path)
	require.NoError(t, err)
	_, err = j.StartRun(ctx, "dev", "mock", t0)
	require.NoError(t, err)
	j.ObserveCycle(controlloop.CycleReport{Seq: 1, Started: t0, Outcome: controlloop.OutcomeIgnored})
	require.NoError(t, j.Close())
	require.NoError(t, j.Close())

	// Late observers are ignored after Close.
	assert.NotPanics(t, func() {
		j.ObserveCycle(controlloop.CycleReport{Seq: 2, Started: t0})
		j.Flush()
	})

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()
	var n int
	require.NoError(t, reopened.DB().QueryRow(`SELECT COUNT(*) FROM cycles`).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestBackup(t *testing.T) {
	ctx := context.Background()
	j := openTestJournal(t)
	_, err := j.StartRun(ctx, "dev", "mock", t0)
	require.NoError(t, err)
	j.ObserveCycle(controlloop.CycleReport{Seq: 1, Started: t0, Outcome: controlloop.OutcomeIgnored})

	path := filepath.Join(t.TempDir(), "copy.db")
	require.NoError(t, j.Backup(ctx, path))

	copied, err := Open(path)
	require.NoError(t, err)
	defer copied.Close()
	var n int
	require.NoError(t, copied.DB().QueryRow(`SELECT COUNT(*) FROM cycles`).Scan(&n))
	assert.Equal(t, 1, n)

	assert.Error(t, j.Backup(ctx, path), "existing target")
}
