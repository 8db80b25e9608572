package world

import (
	"context"
	"time"

	"github.com/noahsabaj/earth-engine-sub003/internal/persistence/snapshot"
)

func (w *World) Run(ctx context.Context) error {
	interval := time.Second / time.Duration(w.cfg.TickRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var pendingJoins []JoinRequest
	var pendingLeaves []string
	var pendingEdits []EditEnvelope
	var pendingCameras []CameraEnvelope

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stop:
			return nil
		case req := <-w.join:
			pendingJoins = append(pendingJoins, req)
		case id := <-w.leave:
			pendingLeaves = append(pendingLeaves, id)
		case env := <-w.edits:
			pendingEdits = append(pendingEdits, env)
		case env := <-w.cameras:
			pendingCameras = append(pendingCameras, env)
		case <-ticker.C:
			w.step(pendingJoins, pendingLeaves, pendingEdits, pendingCameras)
			pendingJoins = pendingJoins[:0]
			pendingLeaves = pendingLeaves[:0]
			pendingEdits = pendingEdits[:0]
			pendingCameras = pendingCameras[:0]
		}
	}
}

func (w *World) Stop() { close(w.stop) }

// step is one tick: control traffic first, then edits, then the
// budgeted surface rebuild, then frames. StepOnce exposes the same
// ordering for deterministic tests.
func (w *World) step(joins []JoinRequest, leaves []string, edits []EditEnvelope, cameras []CameraEnvelope) {
	for _, id := range leaves {
		delete(w.sessions, id)
	}
	for _, req := range joins {
		w.handleJoin(req)
	}
	for _, env := range cameras {
		w.handleCamera(env)
	}
	for _, env := range edits {
		w.handleEdit(env)
	}

	w.coord.UpdateDirtyChunks(w.cfg.Surface.MaxChunkUpdates)
	tick := w.tick.Add(1)

	w.broadcastFrames(tick)

	if w.snapCh != nil && w.snapEvery > 0 && tick%w.snapEvery == 0 {
		select {
		case w.snapCh <- snapshot.Capture(w.store, w.snapID, tick):
		default:
			// Writer behind; skip this snapshot rather than stall.
		}
	}

	if w.observer != nil {
		w.observer.ObserveTick(tick, w.coord.Stats(), len(w.sessions))
	}
}

// StepOnce advances the world a single tick outside the ticker, for
// tests and replays.
func (w *World) StepOnce(joins []JoinRequest, leaves []string, edits []EditEnvelope, cameras []CameraEnvelope) uint64 {
	w.step(joins, leaves, edits, cameras)
	return w.tick.Load()
}
