package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/noahsabaj/earth-engine-sub003/internal/gpu"
	"github.com/noahsabaj/earth-engine-sub003/internal/persistence/archive"
	"github.com/noahsabaj/earth-engine-sub003/internal/persistence/indexdb"
	persistlog "github.com/noahsabaj/earth-engine-sub003/internal/persistence/log"
	"github.com/noahsabaj/earth-engine-sub003/internal/persistence/snapshot"
	"github.com/noahsabaj/earth-engine-sub003/internal/sim/tuning"
	"github.com/noahsabaj/earth-engine-sub003/internal/sim/voxel"
	"github.com/noahsabaj/earth-engine-sub003/internal/sim/world"
	"github.com/noahsabaj/earth-engine-sub003/internal/surface/dual"
	"github.com/noahsabaj/earth-engine-sub003/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		worldID    = flag.String("world", "world_1", "world id")
		seed       = flag.Int64("seed", 1337, "world seed (used only when starting fresh)")
		configDir  = flag.String("configs", "./configs", "config directory")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite index")

		snapPath   = flag.String("snapshot", "", "path to snapshot to load (optional)")
		loadLatest = flag.Bool("load_latest_snapshot", true, "load latest snapshot from data dir if present (when -snapshot is empty)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	worldDir := filepath.Join(*dataDir, "worlds", *worldID)
	_ = os.MkdirAll(worldDir, 0o755)

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Printf("tuning not found (%s); using defaults", tp)
			tune = tuning.Default()
		} else {
			logger.Fatalf("load tuning: %v", err)
		}
	}

	var idx *indexdb.SQLiteIndex
	if !*disableDB {
		idx, err = indexdb.OpenSQLite(filepath.Join(worldDir, "index", "surface.db"))
		if err != nil {
			logger.Fatalf("open index: %v", err)
		}
		defer idx.Close()
	}

	snapshotToLoad := strings.TrimSpace(*snapPath)
	if snapshotToLoad == "" && *loadLatest {
		snapshotToLoad = snapshot.FindLatest(worldDir)
	}

	var resumed *snapshot.SnapshotV1
	if snapshotToLoad != "" {
		snap, err := snapshot.ReadSnapshot(snapshotToLoad)
		if err != nil {
			logger.Fatalf("read snapshot: %v", err)
		}
		if snap.Header.WorldID != "" && snap.Header.WorldID != *worldID {
			logger.Fatalf("snapshot world id mismatch: flag=%s snap=%s", *worldID, snap.Header.WorldID)
		}
		// The snapshot's worldgen parameters win so unloaded chunks
		// regenerate identically.
		tune.World.Seed = snap.Seed
		tune.World.BoundaryR = snap.BoundaryR
		tune.World.GroundLevel = snap.GroundLevel
		tune.World.HillAmplitude = snap.HillAmplitude
		tune.World.HillPeriod = snap.HillPeriod
		tune.World.DirtDepth = snap.DirtDepth
		tune.World.OrePermille = snap.OrePermille
		resumed = &snap
	} else if tune.World.Seed == 0 {
		tune.World.Seed = *seed
	}

	w := world.New(tune, gpu.NewCPUDevice(runtime.NumCPU()), logger)

	if resumed != nil {
		if err := resumed.Apply(w.Store()); err != nil {
			logger.Fatalf("apply snapshot: %v", err)
		}
		for _, k := range w.Store().LoadedChunkKeys() {
			w.Coordinator().EnsureChunk(k)
		}
		logger.Printf("resumed from snapshot=%s tick=%d chunks=%d",
			filepath.Base(snapshotToLoad), resumed.Header.Tick, len(resumed.Chunks))
	}

	ctx, cancel := signalContext()
	defer cancel()

	surfaceLog := persistlog.NewSurfaceLogger(worldDir)
	defer surfaceLog.Close()
	if idx != nil {
		w.SetSurfaceObserver(multiObserver{surfaceLog, idx})
	} else {
		w.SetSurfaceObserver(surfaceLog)
	}

	genLog := persistlog.NewGenerationLogger(worldDir)
	defer genLog.Close()
	w.Coordinator().SetGenerationObserver(genLog.Observe)

	// Snapshot writer.
	snapCh := make(chan snapshot.SnapshotV1, 2)
	w.SetSnapshotSink(*worldID, tune.SnapshotEveryTicks, snapCh)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case snap := <-snapCh:
				path := snapshot.PathFor(worldDir, snap.Header.Tick)
				if err := snapshot.WriteSnapshot(path, snap); err != nil {
					logger.Printf("snapshot write: %v", err)
					continue
				}
				if idx != nil {
					idx.RecordSnapshot(path, snap)
				}
				if _, archived, err := archive.ArchiveSnapshot(worldDir, path, snap, 10*tune.SnapshotEveryTicks); err != nil {
					logger.Printf("archive snapshot: %v", err)
				} else if archived {
					logger.Printf("archived milestone snapshot tick=%d", snap.Header.Tick)
				}
				if err := archive.PruneSnapshots(worldDir, tune.SnapshotKeep); err != nil {
					logger.Printf("prune snapshots: %v", err)
				}
			}
		}
	}()

	go func() {
		if err := w.Run(ctx); err != nil && err != context.Canceled {
			logger.Printf("world stopped: %v", err)
		}
	}()

	srv := ws.NewServer(w, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/admin/v1/state", func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		depth, dropped := idx.QueueStats()
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(struct {
			WorldID      string     `json:"world_id"`
			Tick         uint64     `json:"tick"`
			ChunkSize    int        `json:"chunk_size"`
			Surface      dual.Stats `json:"surface"`
			IndexDepth   int        `json:"index_queue_depth"`
			IndexDropped uint64     `json:"index_dropped"`
		}{
			WorldID:      *worldID,
			Tick:         w.CurrentTick(),
			ChunkSize:    voxel.ChunkSize,
			Surface:      w.Coordinator().Stats(),
			IndexDepth:   depth,
			IndexDropped: dropped,
		})
	})
	if envBool("EE_ENABLE_PPROF_HTTP", false) {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	mux.HandleFunc("/v1/bootstrap", srv.BootstrapHandler())
	mux.HandleFunc("/v1/ws", srv.Handler())

	httpSrv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = httpSrv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s", *addr)
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
}

// multiObserver fans each tick out to every sink.
type multiObserver []world.SurfaceObserver

func (m multiObserver) ObserveTick(tick uint64, stats dual.Stats, sessions int) {
	for _, o := range m {
		o.ObserveTick(tick, stats, sessions)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func envBool(name string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(name))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
