// Package indexdb maintains a queryable SQLite index next to the JSONL
// logs: per-chunk bake results, per-tick surface counters, snapshot
// metadata. Writes funnel through a single writer goroutine so neither
// the sim loop nor the bake pipeline ever blocks on the database.
package indexdb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"github.com/noahsabaj/earth-engine-sub003/internal/persistence/snapshot"
	"github.com/noahsabaj/earth-engine-sub003/internal/surface/dual"
)

type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed  atomic.Bool
	dropped atomic.Uint64
}

type reqKind int

const (
	reqBake reqKind = iota + 1
	reqTick
	reqSnapshot
)

type req struct {
	kind reqKind

	bake     BakeRow
	tick     TickRow
	snapshot snapshotRow
}

// BakeRow records one chunk-level mesh generation.
type BakeRow struct {
	CX, CY, CZ int
	Level      string
	Vertices   int
	Triangles  int
	DurationMS float64
	Digest     string
}

// TickRow records the surface counters at one tick.
type TickRow struct {
	Tick            uint64
	Sessions        int
	DirtyChunks     int
	MeshedChunks    int
	Generations     uint64
	Failures        uint64
	MalformedFields uint64
}

type snapshotRow struct {
	Tick       uint64
	Path       string
	Seed       int64
	Chunks     int
	RecordedAt string
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
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
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		// High buffer: a bulk bake dirties thousands of chunk levels in
		// one burst without stalling the pipeline.
		ch: make(chan req, 65536),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	// WAL is much faster for append-style workloads.
	// NORMAL is a decent durability/perf tradeoff for a secondary index.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("pragma %q: %w", p, err)
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS bakes (
			cx INTEGER NOT NULL,
			cy INTEGER NOT NULL,
			cz INTEGER NOT NULL,
			level TEXT NOT NULL,
			vertices INTEGER NOT NULL,
			triangles INTEGER NOT NULL,
			duration_ms REAL NOT NULL,
			digest TEXT NOT NULL,
			recorded_at TEXT NOT NULL,
			PRIMARY KEY(cx, cy, cz, level)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_bakes_level ON bakes(level);`,
		`CREATE TABLE IF NOT EXISTS ticks (
			tick INTEGER PRIMARY KEY,
			sessions INTEGER NOT NULL,
			dirty_chunks INTEGER NOT NULL,
			meshed_chunks INTEGER NOT NULL,
			generations INTEGER NOT NULL,
			failures INTEGER NOT NULL,
			malformed_fields INTEGER NOT NULL,
			recorded_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			tick INTEGER PRIMARY KEY,
			path TEXT NOT NULL,
			seed INTEGER NOT NULL,
			chunks INTEGER NOT NULL,
			recorded_at TEXT NOT NULL
		);`,
		`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1');`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// RecordBake enqueues one bake row. Drops when the indexer falls
// behind; the OBJ output on disk remains the source of truth.
func (s *SQLiteIndex) RecordBake(row BakeRow) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- req{kind: reqBake, bake: row}:
	default:
		s.dropped.Add(1)
	}
}

// ObserveTick satisfies the world loop's surface observer.
func (s *SQLiteIndex) ObserveTick(tick uint64, stats dual.Stats, sessions int) {
	if s == nil || s.closed.Load() {
		return
	}
	r := TickRow{
		Tick:            tick,
		Sessions:        sessions,
		DirtyChunks:     stats.DirtyChunks,
		MeshedChunks:    stats.MeshedChunks,
		Generations:     stats.Generations,
		Failures:        stats.Failures,
		MalformedFields: stats.MalformedFields,
	}
	select {
	case s.ch <- req{kind: reqTick, tick: r}:
	default:
		s.dropped.Add(1)
	}
}

func (s *SQLiteIndex) RecordSnapshot(path string, snap snapshot.SnapshotV1) {
	if s == nil || s.closed.Load() {
		return
	}
	r := snapshotRow{
		Tick:       snap.Header.Tick,
		Path:       path,
		Seed:       snap.Seed,
		Chunks:     len(snap.Chunks),
		RecordedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
	select {
	case s.ch <- req{kind: reqSnapshot, snapshot: r}:
	default:
		s.dropped.Add(1)
	}
}

// QueueStats reports the writer backlog and how many records were
// dropped because it was full.
func (s *SQLiteIndex) QueueStats() (depth int, dropped uint64) {
	if s == nil {
		return 0, 0
	}
	return len(s.ch), s.dropped.Load()
}

// Bake returns the recorded row for one chunk and level.
func (s *SQLiteIndex) Bake(cx, cy, cz int, level string) (BakeRow, bool, error) {
	var r BakeRow
	row := s.db.QueryRow(
		`SELECT cx,cy,cz,level,vertices,triangles,duration_ms,digest FROM bakes WHERE cx=? AND cy=? AND cz=? AND level=?`,
		cx, cy, cz, level,
	)
	err := row.Scan(&r.CX, &r.CY, &r.CZ, &r.Level, &r.Vertices, &r.Triangles, &r.DurationMS, &r.Digest)
	if err == sql.ErrNoRows {
		return r, false, nil
	}
	if err != nil {
		return r, false, err
	}
	return r, true, nil
}

// TickStats returns recorded tick rows in [from, to], ascending.
func (s *SQLiteIndex) TickStats(from, to uint64) ([]TickRow, error) {
	rows, err := s.db.Query(
		`SELECT tick,sessions,dirty_chunks,meshed_chunks,generations,failures,malformed_fields FROM ticks WHERE tick>=? AND tick<=? ORDER BY tick`,
		int64(from), int64(to),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TickRow
	for rows.Next() {
		var r TickRow
		if err := rows.Scan(&r.Tick, &r.Sessions, &r.DirtyChunks, &r.MeshedChunks, &r.Generations, &r.Failures, &r.MalformedFields); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// LatestSnapshot returns the highest-tick recorded snapshot path.
func (s *SQLiteIndex) LatestSnapshot() (path string, tick uint64, ok bool, err error) {
	row := s.db.QueryRow(`SELECT path,tick FROM snapshots ORDER BY tick DESC LIMIT 1`)
	err = row.Scan(&path, &tick)
	if err == sql.ErrNoRows {
		return "", 0, false, nil
	}
	if err != nil {
		return "", 0, false, err
	}
	return path, tick, true, nil
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertBake, _ := s.db.Prepare(`INSERT OR REPLACE INTO bakes(cx,cy,cz,level,vertices,triangles,duration_ms,digest,recorded_at) VALUES(?,?,?,?,?,?,?,?,?)`)
	insertTick, _ := s.db.Prepare(`INSERT OR REPLACE INTO ticks(tick,sessions,dirty_chunks,meshed_chunks,generations,failures,malformed_fields,recorded_at) VALUES(?,?,?,?,?,?,?,?)`)
	insertSnapshot, _ := s.db.Prepare(`INSERT OR REPLACE INTO snapshots(tick,path,seed,chunks,recorded_at) VALUES(?,?,?,?,?)`)
	defer func() {
		if insertBake != nil {
			_ = insertBake.Close()
		}
		if insertTick != nil {
			_ = insertTick.Close()
		}
		if insertSnapshot != nil {
			_ = insertSnapshot.Close()
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			// If we can't start a tx, we can't do much; sleep a bit.
			time.Sleep(50 * time.Millisecond)
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
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	flushIfNeeded := func() {
		if tx == nil {
			return
		}
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		now := time.Now().UTC().Format(time.RFC3339Nano)
		switch r.kind {
		case reqBake:
			b := r.bake
			if insertBake != nil {
				if _, err := tx.Stmt(insertBake).Exec(
					b.CX, b.CY, b.CZ,
					b.Level,
					b.Vertices,
					b.Triangles,
					b.DurationMS,
					b.Digest,
					now,
				); err != nil {
					rollback()
					continue
				}
				opCount++
			}

		case reqTick:
			t := r.tick
			if insertTick != nil {
				if _, err := tx.Stmt(insertTick).Exec(
					int64(t.Tick),
					t.Sessions,
					t.DirtyChunks,
					t.MeshedChunks,
					int64(t.Generations),
					int64(t.Failures),
					int64(t.MalformedFields),
					now,
				); err != nil {
					rollback()
					continue
				}
				opCount++
			}

		case reqSnapshot:
			sn := r.snapshot
			if insertSnapshot != nil {
				if _, err := tx.Stmt(insertSnapshot).Exec(
					int64(sn.Tick),
					sn.Path,
					sn.Seed,
					sn.Chunks,
					sn.RecordedAt,
				); err != nil {
					rollback()
					continue
				}
				opCount++
			}
		}
		flushIfNeeded()
	}

	commit()
}
