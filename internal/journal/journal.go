// Package journal records control loop activity in a local SQLite database
// so a drive can be reviewed afterwards. Every run gets a row in runs; each
// cycle and each connection state change is appended beneath it.
//
// Cycle and transition rows are written by a single background goroutine
// fed from a bounded queue. The loop never waits on SQLite: when the queue
// is full (a debug reader holding the connection, a slow disk) rows are
// dropped and counted.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/camdrive/internal/controlloop"
	"github.com/banshee-data/camdrive/internal/monitoring"
	"github.com/banshee-data/camdrive/internal/policy"
)

const (
	timeLayout     = time.RFC3339Nano
	writeQueueSize = 256
)

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA foreign_keys=ON",
}

// Journal is a controlloop.Observer backed by SQLite.
type Journal struct {
	db    *sql.DB
	queue chan write
	done  chan struct{}

	mu      sync.Mutex
	runID   string
	dropped int

	// sendMu guards closed and every send on queue.
	sendMu sync.RWMutex
	closed bool
}

// write is one queued statement, or a flush marker when flushed is set.
type write struct {
	what    string
	query   string
	args    []any
	flushed chan struct{}
}

// Open opens (creating if needed) the database at path and brings its
// schema up to date. Use ":memory:" for a throwaway journal.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal %s: %w", path, err)
	}
	// A single connection keeps ":memory:" databases coherent and
	// serialises writers.
	db.SetMaxOpenConns(1)

	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	j := &Journal{
		db:    db,
		queue: make(chan write, writeQueueSize),
		done:  make(chan struct{}),
	}
	if err := j.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	go j.run()
	return j, nil
}

func (j *Journal) run() {
	defer close(j.done)
	for w := range j.queue {
		if w.flushed != nil {
			close(w.flushed)
			continue
		}
		if _, err := j.db.Exec(w.query, w.args...); err != nil {
			monitoring.Logf("journal: failed to record %s: %v", w.what, err)
		}
	}
}

func (j *Journal) enqueue(w write) {
	j.sendMu.RLock()
	defer j.sendMu.RUnlock()
	if j.closed {
		return
	}
	select {
	case j.queue <- w:
	default:
		j.mu.Lock()
		j.dropped++
		j.mu.Unlock()
	}
}

// Flush blocks until every row queued before the call has been written.
func (j *Journal) Flush() {
	flushed := make(chan struct{})
	j.sendMu.RLock()
	if j.closed {
		j.sendMu.RUnlock()
		return
	}
	j.queue <- write{flushed: flushed}
	j.sendMu.RUnlock()
	<-flushed
}

// Dropped reports how many rows were discarded because the write queue was
// full.
func (j *Journal) Dropped() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.dropped
}

// DB exposes the underlying handle for read-only debugging tools.
func (j *Journal) DB() *sql.DB { return j.db }

// RunID returns the current run, or "" before StartRun.
func (j *Journal) RunID() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.runID
}

// StartRun opens a new run and makes it the target for subsequent events.
func (j *Journal) StartRun(ctx context.Context, version, endpoint string, at time.Time) (string, error) {
	id := uuid.NewString()
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, version, endpoint, started_at) VALUES (?, ?, ?, ?)`,
		id, version, endpoint, at.UTC().Format(timeLayout))
	if err != nil {
		return "", fmt.Errorf("failed to start run: %w", err)
	}
	j.mu.Lock()
	j.runID = id
	j.mu.Unlock()
	return id, nil
}

// FinishRun writes any queued rows, then stamps the current run with its
// end time and result.
func (j *Journal) FinishRun(ctx context.Context, result string, at time.Time) error {
	id := j.RunID()
	if id == "" {
		return nil
	}
	j.Flush()
	_, err := j.db.ExecContext(ctx,
		`UPDATE runs SET ended_at = ?, result = ? WHERE run_id = ?`,
		at.UTC().Format(timeLayout), result, id)
	if err != nil {
		return fmt.Errorf("failed to finish run %s: %w", id, err)
	}
	return nil
}

// ObserveCycle queues a cycle row. Failures are logged, not returned: the
// journal must never stall the car.
func (j *Journal) ObserveCycle(r controlloop.CycleReport) {
	id := j.RunID()
	if id == "" {
		return
	}
	j.enqueue(write{
		what: fmt.Sprintf("cycle %d", r.Seq),
		query: `
		INSERT INTO cycles (
			run_id, seq, session_id, started_at, duration_ms, outcome,
			label, confidence, action, reason, command, heartbeat, error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		args: []any{
			id, r.Seq, r.SessionID, r.Started.UTC().Format(timeLayout),
			float64(r.Duration) / float64(time.Millisecond), string(r.Outcome),
			r.Label, r.Confidence, r.Action, string(r.Reason), r.Command,
			r.Heartbeat, r.Error,
		},
	})
}

// ObserveState queues a state transition row.
func (j *Journal) ObserveState(from, to controlloop.State, at time.Time) {
	id := j.RunID()
	if id == "" {
		return
	}
	j.enqueue(write{
		what:  fmt.Sprintf("transition %s -> %s", from, to),
		query: `INSERT INTO transitions (run_id, from_state, to_state, at) VALUES (?, ?, ?, ?)`,
		args:  []any{id, from.String(), to.String(), at.UTC().Format(timeLayout)},
	})
}

// RecentCycles returns up to limit cycles of the current run, newest first.
func (j *Journal) RecentCycles(ctx context.Context, limit int) ([]controlloop.CycleReport, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT seq, session_id, started_at, duration_ms, outcome, label,
		       confidence, action, reason, command, heartbeat, error
		FROM cycles
		WHERE run_id = ?
		ORDER BY seq DESC
		LIMIT ?`, j.RunID(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []controlloop.CycleReport
	for rows.Next() {
		var (
			r         controlloop.CycleReport
			started   string
			durMs     float64
			outcome   string
			heartbeat bool
		)
		var session, label, action, reason, command, errText sql.NullString
		var conf sql.NullFloat64
		if err := rows.Scan(&r.Seq, &session, &started, &durMs, &outcome, &label,
			&conf, &action, &reason, &command, &heartbeat, &errText); err != nil {
			return nil, err
		}
		if r.Started, err = time.Parse(timeLayout, started); err != nil {
			return nil, fmt.Errorf("cycle %d: bad started_at %q: %w", r.Seq, started, err)
		}
		r.SessionID = session.String
		r.Duration = time.Duration(durMs * float64(time.Millisecond))
		r.Outcome = controlloop.Outcome(outcome)
		r.Label = label.String
		r.Confidence = conf.Float64
		r.Action = action.String
		r.Reason = policy.Reason(reason.String)
		r.Command = command.String
		r.Heartbeat = heartbeat
		r.Error = errText.String
		out = append(out, r)
	}
	return out, rows.Err()
}

// Transition is a recorded state change.
type Transition struct {
	From string
	To   string
	At   time.Time
}

// Transitions returns the current run's state changes in order.
func (j *Journal) Transitions(ctx context.Context) ([]Transition, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT from_state, to_state, at FROM transitions WHERE run_id = ? ORDER BY id`, j.RunID())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Transition
	for rows.Next() {
		var t Transition
		var at string
		if err := rows.Scan(&t.From, &t.To, &at); err != nil {
			return nil, err
		}
		if t.At, err = time.Parse(timeLayout, at); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Backup writes queued rows, then a consistent copy of the database to
// path, which must not exist yet.
func (j *Journal) Backup(ctx context.Context, path string) error {
	j.Flush()
	if _, err := j.db.ExecContext(ctx, "VACUUM INTO ?", path); err != nil {
		return fmt.Errorf("failed to back up journal to %s: %w", path, err)
	}
	return nil
}

// Close stops accepting rows, waits for queued ones to be written and
// closes the database.
func (j *Journal) Close() error {
	j.sendMu.Lock()
	if j.closed {
		j.sendMu.Unlock()
		return nil
	}
	j.closed = true
	close(j.queue)
	j.sendMu.Unlock()

	<-j.done
	return j.db.Close()
}
