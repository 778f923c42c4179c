package journal

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"gridweaver/internal/core"
	"gridweaver/internal/pathfinding"
	"gridweaver/internal/request"
	"gridweaver/internal/snapshot"
)

func TestJournalRecordsSearches(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer j.Close()

	for i := 1; i <= 3; i++ {
		req := request.Request{
			Seq:       uint64(i),
			Start:     core.Vector3D{X: 0, Z: 0},
			End:       core.Vector3D{X: float64(i), Z: 2},
			Requester: core.AgentID(i % 2),
			Target:    core.InvalidAgentID,
			Enqueued:  time.Now(),
		}
		j.OnStart(req)
		j.OnComplete(req, pathfinding.Result{
			Waypoints: []core.Vector3D{{X: 1, Z: 1}, req.End},
			OK:        i != 2,
			Expanded:  10 * i,
			Steps:     i,
			Elapsed:   time.Duration(i) * time.Millisecond,
			Algorithm: "theta",
		})
	}

	ctx := context.Background()
	if err := j.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	all, err := j.Searches(ctx, core.InvalidAgentID, 10)
	if err != nil {
		t.Fatalf("Searches: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 searches, got %d", len(all))
	}
	newest := all[0]
	if newest.Seq != 3 || !newest.OK || newest.Expanded != 30 || newest.Algorithm != "theta" {
		t.Fatalf("unexpected newest search %+v", newest)
	}
	if newest.Elapsed != 3*time.Millisecond {
		t.Fatalf("expected 3ms elapsed, got %s", newest.Elapsed)
	}
	if len(newest.Waypoints) != 2 || newest.Waypoints[1] != (core.Vector3D{X: 3, Z: 2}) {
		t.Fatalf("unexpected waypoints %+v", newest.Waypoints)
	}
	if all[1].OK {
		t.Fatalf("expected search 2 to be recorded as failed")
	}

	mine, err := j.Searches(ctx, 1, 10)
	if err != nil {
		t.Fatalf("Searches: %v", err)
	}
	if len(mine) != 2 || mine[0].Seq != 3 || mine[1].Seq != 1 {
		t.Fatalf("expected searches 3 and 1 for agent 1, got %+v", mine)
	}
}

func TestJournalRecordsSnapshots(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	j.RecordSnapshot("/tmp/grid.snap", snapshot.Header{Version: snapshot.Version, Tick: 99, SizeX: 4, SizeY: 5, Obstacles: 2})
	if err := j.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	// Rows after Close are ignored.
	j.RecordSnapshot("/tmp/late.snap", snapshot.Header{Tick: 100})

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	defer db.Close()

	var (
		tick      int64
		snapPath  string
		cells     int
		obstacles int
	)
	row := db.QueryRow(`SELECT tick,path,size_x*size_y,obstacles FROM snapshots`)
	if err := row.Scan(&tick, &snapPath, &cells, &obstacles); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if tick != 99 || snapPath != "/tmp/grid.snap" || cells != 20 || obstacles != 2 {
		t.Fatalf("row mismatch: tick=%d path=%q cells=%d obstacles=%d", tick, snapPath, cells, obstacles)
	}
}

func TestJournalCloseWhileRecording(t *testing.T) {
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	var wg sync.WaitGroup
	start := make(chan struct{})
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			<-start
			for i := 0; i < 500; i++ {
				j.OnComplete(request.Request{Seq: uint64(w*1000 + i), Enqueued: time.Now()}, pathfinding.Result{OK: true})
			}
		}(w)
	}
	close(start)
	if err := j.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	wg.Wait()

	// Recording after Close is a no-op.
	j.RecordSearch(Search{Seq: 1})
}

func TestOpenRejectsEmptyPath(t *testing.T) {
	if _, err := Open("", nil); !errors.Is(err, ErrEmptyPath) {
		t.Fatalf("expected ErrEmptyPath, got %v", err)
	}
}
