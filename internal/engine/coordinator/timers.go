package coordinator

import (
	"time"

	"github.com/AminBhst/brisk-engine/internal/engine/protocol"
	"github.com/AminBhst/brisk-engine/internal/engine/segment"
	"github.com/AminBhst/brisk-engine/internal/enginelog"
)

// onSpawnTick implements the dynamic-spawn timer (spec.md §4.3): every
// eligible download gets its largest IN_USE leaf split, and the donor
// worker is told to shrink to the left half. The right half is spawned
// once the donor confirms the split in handleSegmentResponse.
func (e *Engine) onSpawnTick() {
	for uid, ds := range e.downloads {
		if !e.shouldCreateNewConnections(ds) {
			continue
		}
		result, err := ds.tree.Split()
		if err != nil {
			continue // no leaf large enough to split this tick; not an error
		}
		ds.tree.SetStatus(result.Left, segment.RefreshRequested)

		donorConn := ds.tree.Node(result.Left).ConnectionNumber
		h, ok := ds.workers[donorConn]
		if !ok {
			enginelog.Error("coordinator: %s: split produced left child with no worker (connection %d)", uid, donorConn)
			continue
		}
		ds.pendingSplits[donorConn] = *result
		leftSeg := ds.tree.Node(result.Left).Segment
		h.Segment = leftSeg
		h.Send(protocol.CoordinatorCommand{Command: protocol.CmdRefreshSegment, Segment: &leftSeg})
	}
}

// shouldCreateNewConnections is spec.md §4.3's _shouldCreateNewConnections
// conjunction.
func (e *Engine) shouldCreateNewConnections(ds *downloadState) bool {
	if len(ds.tree.LeavesWithStatus(segment.RefreshRequested)) > 0 {
		return false
	}
	if len(ds.connProgress) >= ds.settings.TotalConnections {
		return false
	}
	if ds.createdConnections >= ds.settings.TotalConnections {
		return false
	}
	if ds.spawnIgnored {
		return false
	}
	if ds.etaKnown && ds.etaSeconds < e.cfg.NearCompletionETASeconds {
		return false
	}
	return true
}

// onReuseTick implements the dynamic-reuse timer: a finished worker
// popped off the reuse queue is handed a freshly split-off tail of
// whichever leaf has gone the longest without an update.
func (e *Engine) onReuseTick() {
	for uid, ds := range e.downloads {
		if len(ds.reuseQueue) == 0 {
			continue
		}
		if e.shouldCreateNewConnections(ds) {
			continue // a spawn would fire this tick; let it have priority
		}
		if e.anyAwaitingReset(ds) {
			continue
		}
		if _, totalProgress := e.totals(ds); totalProgress >= 1 {
			continue
		}

		connNum := ds.reuseQueue[0]
		ds.reuseQueue = ds.reuseQueue[1:]
		delete(ds.reuseQueued, connNum)

		target, ok := e.chooseReuseTarget(ds, connNum)
		if !ok {
			continue
		}
		result, err := ds.tree.SplitSegmentNode(target, false)
		if err != nil {
			enginelog.Warn("coordinator: %s: reuse split refused: %v", uid, err)
			continue
		}
		ds.tree.SetConnectionNumber(result.Right, connNum)
		ds.tree.SetStatus(result.Left, segment.RefreshRequested)
		ds.tree.SetStatus(result.Right, segment.ReuseRequested)

		donorConn := ds.tree.Node(result.Left).ConnectionNumber
		h, ok := ds.workers[donorConn]
		if !ok {
			enginelog.Error("coordinator: %s: reuse split produced left child with no worker (connection %d)", uid, donorConn)
			continue
		}
		ds.pendingSplits[donorConn] = *result
		leftSeg := ds.tree.Node(result.Left).Segment
		h.Segment = leftSeg
		h.Send(protocol.CoordinatorCommand{Command: protocol.CmdRefreshSegmentReuseConnection, Segment: &leftSeg})
	}
}

// chooseReuseTarget picks the leaf to split off a tail from: the
// oldest-by-LastUpdateMillis among COMPLETE (in-queue) leaves if any
// exist, else among IN_USE leaves, excluding the reusing connection's own
// leaf.
func (e *Engine) chooseReuseTarget(ds *downloadState, excludeConn int) (segment.NodeID, bool) {
	pool := excluding(ds.tree.InQueueLeaves(), ds, excludeConn)
	if len(pool) == 0 {
		pool = excluding(ds.tree.InUseLeaves(), ds, excludeConn)
	}
	if len(pool) == 0 {
		return segment.NoNode, false
	}
	best := pool[0]
	for _, id := range pool[1:] {
		if ds.tree.Node(id).LastUpdateMillis < ds.tree.Node(best).LastUpdateMillis {
			best = id
		}
	}
	return best, true
}

func excluding(ids []segment.NodeID, ds *downloadState, excludeConn int) []segment.NodeID {
	out := make([]segment.NodeID, 0, len(ids))
	for _, id := range ids {
		if ds.tree.Node(id).ConnectionNumber == excludeConn {
			continue
		}
		out = append(out, id)
	}
	return out
}

func (e *Engine) anyAwaitingReset(ds *downloadState) bool {
	for _, h := range ds.workers {
		if h.AwaitingResetResponse {
			return true
		}
	}
	return false
}

// onResetTick implements the connection-reset timer: a worker that has
// gone silent past its retry timeout is reset, up to maxConnectionRetryCount
// attempts (−1 for unlimited).
func (e *Engine) onResetTick() {
	now := e.now()
	for _, ds := range e.downloads {
		if ds.status == protocol.StatusPaused {
			continue
		}
		for connNum, h := range ds.workers {
			if h.DetailsStatus == protocol.DetailsPaused || h.DetailsStatus == protocol.DetailsCanceled || h.DetailsStatus == protocol.DetailsConnectionComplete {
				continue
			}
			maxRetries := ds.settings.MaxConnectionRetryCount
			if maxRetries != -1 && h.ResetCount >= maxRetries {
				continue
			}
			deadline := h.LastResponseTime.Add(time.Duration(ds.settings.ConnectionRetryTimeoutMillis) * time.Millisecond)
			if deadline.After(now) {
				continue
			}
			connCopy := connNum
			h.Send(protocol.CoordinatorCommand{Command: protocol.CmdResetConnection, ConnectionNumber: &connCopy})
			h.AwaitingResetResponse = true
			h.ResetCount++
		}
	}
}

// onButtonTick implements the button-availability timer: paused downloads
// periodically get a pause=false/start=<debounced> snapshot even if no
// worker traffic is arriving to trigger one.
func (e *Engine) onButtonTick() {
	for _, ds := range e.downloads {
		if ds.status != protocol.StatusPaused {
			continue
		}
		startReady := !ds.pausedAt.IsZero() && e.now().Sub(ds.pausedAt) >= e.buttonDebounce()
		pm := e.buildProgressMessage(ds)
		pm.ButtonAvailability = protocol.ButtonAvailability{Pause: false, Start: startReady}
		e.publish(pm)
	}
}

func (e *Engine) buttonDebounce() time.Duration {
	return time.Duration(e.cfg.ButtonAvailabilityWaitSec * float64(time.Second))
}
