// Package journal records completed searches and written snapshots in a
// SQLite database. Writes are queued to a single writer goroutine and
// batched into transactions; when the writer falls behind, rows are dropped
// rather than stalling the caller.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"gridweaver/internal/core"
	"gridweaver/internal/pathfinding"
	"gridweaver/internal/request"
	"gridweaver/internal/snapshot"
)

const (
	queueSize     = 4096
	commitEvery   = 256
	commitMaxWait = time.Second
)

var ErrEmptyPath = errors.New("empty journal path")

// Search is one journalled search.
type Search struct {
	Seq       uint64
	Requester core.AgentID
	Target    core.AgentID
	Start     core.Vector3D
	End       core.Vector3D
	OK        bool
	Waypoints []core.Vector3D
	Expanded  int
	Steps     int
	Elapsed   time.Duration
	Queued    time.Duration
	Algorithm string
}

type rowKind int

const (
	rowSearch rowKind = iota + 1
	rowSnapshot
)

type row struct {
	kind     rowKind
	search   Search
	path     string
	snapshot snapshot.Header
	at       time.Time
}

// Journal writes search and snapshot records to SQLite from a background
// goroutine. Records that arrive while its buffer is full are dropped and
// counted.
type Journal struct {
	db     *sql.DB
	logger *log.Logger

	// sendMu orders sends on ch against its close.
	sendMu  sync.RWMutex
	ch      chan row
	wg      sync.WaitGroup
	once    sync.Once
	closed  atomic.Bool
	flushes chan chan struct{}

	dropped atomic.Uint64
	written atomic.Uint64
}

// Open creates or opens the database at path and starts the writer.
func Open(path string, logger *log.Logger) (*Journal, error) {
	if path == "" {
		return nil, ErrEmptyPath
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal pragmas: %w", err)
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal schema: %w", err)
	}

	j := &Journal{
		db:      db,
		logger:  logger,
		ch:      make(chan row, queueSize),
		flushes: make(chan chan struct{}),
	}
	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		j.loop()
	}()
	return j, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS searches (
			seq INTEGER PRIMARY KEY,
			requester INTEGER NOT NULL,
			target INTEGER NOT NULL,
			start_x REAL NOT NULL,
			start_z REAL NOT NULL,
			end_x REAL NOT NULL,
			end_z REAL NOT NULL,
			ok INTEGER NOT NULL,
			waypoints INTEGER NOT NULL,
			expanded INTEGER NOT NULL,
			steps INTEGER NOT NULL,
			elapsed_us INTEGER NOT NULL,
			queued_us INTEGER NOT NULL,
			algorithm TEXT NOT NULL,
			path_json TEXT NOT NULL,
			recorded_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_searches_requester ON searches(requester, seq);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			tick INTEGER PRIMARY KEY,
			path TEXT NOT NULL,
			size_x INTEGER NOT NULL,
			size_y INTEGER NOT NULL,
			obstacles INTEGER NOT NULL,
			recorded_at TEXT NOT NULL
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

// Close drains queued rows and closes the database.
func (j *Journal) Close() error {
	var err error
	j.once.Do(func() {
		j.sendMu.Lock()
		j.closed.Store(true)
		close(j.ch)
		j.sendMu.Unlock()

		j.wg.Wait()
		err = j.db.Close()
		j.logger.Printf("journal closed: %d rows written, %d dropped", j.written.Load(), j.dropped.Load())
	})
	return err
}

// OnStart implements request.Listener.
func (j *Journal) OnStart(request.Request) {}

// OnComplete implements request.Listener.
func (j *Journal) OnComplete(req request.Request, result pathfinding.Result) {
	j.RecordSearch(Search{
		Seq:       req.Seq,
		Requester: req.Requester,
		Target:    req.Target,
		Start:     req.Start,
		End:       req.End,
		OK:        result.OK,
		Waypoints: result.Waypoints,
		Expanded:  result.Expanded,
		Steps:     result.Steps,
		Elapsed:   result.Elapsed,
		Queued:    time.Since(req.Enqueued),
		Algorithm: result.Algorithm,
	})
}

// RecordSearch queues s. It is a no-op after Close.
func (j *Journal) RecordSearch(s Search) {
	j.enqueue(row{kind: rowSearch, search: s, at: time.Now()})
}

func (j *Journal) RecordSnapshot(path string, header snapshot.Header) {
	j.enqueue(row{kind: rowSnapshot, path: path, snapshot: header, at: time.Now()})
}

func (j *Journal) enqueue(r row) {
	if j == nil {
		return
	}
	j.sendMu.RLock()
	defer j.sendMu.RUnlock()
	if j.closed.Load() {
		return
	}
	select {
	case j.ch <- r:
	default:
		j.dropped.Add(1)
	}
}

// Flush commits every row queued before the call.
func (j *Journal) Flush(ctx context.Context) error {
	if j.closed.Load() {
		return nil
	}
	done := make(chan struct{})
	select {
	case j.flushes <- done:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dropped is the number of rows lost to a full queue.
func (j *Journal) Dropped() uint64 { return j.dropped.Load() }

// Searches returns the most recent searches, newest first. A valid
// requester restricts the result to that agent.
func (j *Journal) Searches(ctx context.Context, requester core.AgentID, limit int) ([]Search, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT seq,requester,target,start_x,start_z,end_x,end_z,ok,expanded,steps,elapsed_us,queued_us,algorithm,path_json
		FROM searches`
	args := []any{}
	if requester.Valid() {
		query += ` WHERE requester=?`
		args = append(args, int64(requester))
	}
	query += ` ORDER BY seq DESC LIMIT ?`
	args = append(args, limit)

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Search
	for rows.Next() {
		var (
			s                 Search
			requesterID, tgt  int64
			ok                int
			elapsedUS, queued int64
			pathJSON          string
		)
		if err := rows.Scan(&s.Seq, &requesterID, &tgt, &s.Start.X, &s.Start.Z, &s.End.X, &s.End.Z,
			&ok, &s.Expanded, &s.Steps, &elapsedUS, &queued, &s.Algorithm, &pathJSON); err != nil {
			return nil, err
		}
		s.Requester = core.AgentID(requesterID)
		s.Target = core.AgentID(tgt)
		s.OK = ok != 0
		s.Elapsed = time.Duration(elapsedUS) * time.Microsecond
		s.Queued = time.Duration(queued) * time.Microsecond
		if err := json.Unmarshal([]byte(pathJSON), &s.Waypoints); err != nil {
			return nil, fmt.Errorf("search %d path: %w", s.Seq, err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (j *Journal) loop() {
	ctx := context.Background()

	insertSearch, err := j.db.Prepare(`INSERT OR REPLACE INTO searches(seq,requester,target,start_x,start_z,end_x,end_z,ok,waypoints,expanded,steps,elapsed_us,queued_us,algorithm,path_json,recorded_at)
		VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		j.logger.Printf("journal prepare searches: %v", err)
	}
	insertSnapshot, err := j.db.Prepare(`INSERT OR REPLACE INTO snapshots(tick,path,size_x,size_y,obstacles,recorded_at) VALUES(?,?,?,?,?,?)`)
	if err != nil {
		j.logger.Printf("journal prepare snapshots: %v", err)
	}
	defer func() {
		if insertSearch != nil {
			_ = insertSearch.Close()
		}
		if insertSnapshot != nil {
			_ = insertSnapshot.Close()
		}
	}()

	var (
		tx         *sql.Tx
		opCount    int
		lastCommit = time.Now()
	)
	begin := func() {
		if tx != nil {
			return
		}
		txx, err := j.db.BeginTx(ctx, nil)
		if err != nil {
			j.logger.Printf("journal begin: %v", err)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		if err := tx.Commit(); err != nil {
			j.logger.Printf("journal commit: %v", err)
		}
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func(err error) {
		j.logger.Printf("journal write: %v", err)
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
	}
	write := func(r row) {
		begin()
		if tx == nil {
			j.dropped.Add(1)
			return
		}
		switch r.kind {
		case rowSearch:
			if insertSearch == nil {
				return
			}
			s := r.search
			path, _ := json.Marshal(s.Waypoints)
			if _, err := tx.Stmt(insertSearch).Exec(
				int64(s.Seq), int64(s.Requester), int64(s.Target),
				s.Start.X, s.Start.Z, s.End.X, s.End.Z,
				boolInt(s.OK), len(s.Waypoints), s.Expanded, s.Steps,
				s.Elapsed.Microseconds(), s.Queued.Microseconds(),
				s.Algorithm, string(path), r.at.UTC().Format(time.RFC3339Nano),
			); err != nil {
				rollback(err)
				return
			}
		case rowSnapshot:
			if insertSnapshot == nil {
				return
			}
			h := r.snapshot
			if _, err := tx.Stmt(insertSnapshot).Exec(
				int64(h.Tick), r.path, h.SizeX, h.SizeY, h.Obstacles, r.at.UTC().Format(time.RFC3339Nano),
			); err != nil {
				rollback(err)
				return
			}
		}
		opCount++
		j.written.Add(1)
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}

	ticker := time.NewTicker(commitMaxWait)
	defer ticker.Stop()

	for {
		select {
		case r, ok := <-j.ch:
			if !ok {
				commit()
				return
			}
			write(r)
		case done := <-j.flushes:
			// Drain what was queued before the flush request.
			for pending := len(j.ch); pending > 0; pending-- {
				r, ok := <-j.ch
				if !ok {
					break
				}
				write(r)
			}
			commit()
			close(done)
		case <-ticker.C:
			commit()
		}
	}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
