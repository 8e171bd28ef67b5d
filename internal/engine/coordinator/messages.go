package coordinator

import (
	"github.com/AminBhst/brisk-engine/internal/engine/protocol"
	"github.com/AminBhst/brisk-engine/internal/engine/segment"
	"github.com/AminBhst/brisk-engine/internal/enginelog"
)

// handleWorkerMessage dispatches one of the four worker→coordinator
// message shapes, matching exhaustively per spec.md §9's "runtime type"
// design note — there is no default case a new Kind could silently fall
// into.
func (e *Engine) handleWorkerMessage(msg protocol.WorkerMessage) {
	ds, ok := e.downloads[msg.UID]
	if !ok {
		return // stale message for a cancelled or already-assembled download
	}
	switch msg.Kind {
	case protocol.KindHandshake:
		e.handleHandshake(ds, msg.Handshake)
	case protocol.KindSegmentResponse:
		e.handleSegmentResponse(msg.UID, ds, msg.Segment)
	case protocol.KindProgress:
		e.handleProgress(msg.UID, ds, msg.Progress)
	case protocol.KindLog:
		e.logBuffer(msg.UID).Append(msg.Log.Log)
	}
}

// handleHandshake clears the pending-handshake bit for the worker that
// just came alive. A reuse handshake flips its target leaf from
// ReuseRequested to InUse. Once every outstanding handshake has arrived
// and a pause was requested in the interim, the pause is (re)issued to
// every worker now that the tree is in a consistent state.
func (e *Engine) handleHandshake(ds *downloadState, h *protocol.ConnectionHandshake) {
	connNum := h.NewConnectionNumber
	delete(ds.pendingHandshakes, connNum)

	if h.ReuseConnection {
		if leaf, ok := ds.tree.LeafByConnectionNumber(connNum); ok && ds.tree.Status(leaf) == segment.ReuseRequested {
			ds.tree.SetStatus(leaf, segment.InUse)
		}
	}

	if len(ds.pendingHandshakes) == 0 && ds.pauseOnFinalHandshake {
		ds.pauseOnFinalHandshake = false
		for conn, wh := range ds.workers {
			connCopy := conn
			wh.Send(protocol.CoordinatorCommand{Command: protocol.CmdPause, ConnectionNumber: &connCopy})
		}
	}
}

func (e *Engine) handleSegmentResponse(uid string, ds *downloadState, sm *protocol.ConnectionSegmentMessage) {
	result, ok := ds.pendingSplits[sm.ConnectionNumber]
	if !ok {
		enginelog.Warn("coordinator: %s: segment response from connection %d with no pending split", uid, sm.ConnectionNumber)
		return
	}
	delete(ds.pendingSplits, sm.ConnectionNumber)

	switch sm.InternalMessage {
	case protocol.RefreshSegmentSuccess:
		e.acceptSplit(uid, ds, result, sm.ReuseConnection)
	case protocol.OverlappingRefreshSegment:
		ds.tree.AcceptOverlappingSplit(&result, sm.RefreshedStartByte, sm.RefreshedEndByte, sm.ValidNewStartByte, sm.ValidNewEndByte)
		e.acceptSplit(uid, ds, result, sm.ReuseConnection)
	case protocol.RefreshSegmentRefused, protocol.ReuseConnectionRefreshSegmentRefused:
		e.collapseRefusedSplit(ds, result, sm.ReuseConnection)
	}
}

// acceptSplit commits a successful (or overlap-corrected) split: both
// children become IN_USE, and the right child either gets handed to the
// reusing worker via startReuseConnection or spawned fresh.
func (e *Engine) acceptSplit(uid string, ds *downloadState, result segment.SplitResult, reuse bool) {
	ds.tree.SetStatus(result.Left, segment.InUse)
	ds.tree.SetStatus(result.Right, segment.InUse)

	right := ds.tree.Node(result.Right)
	rightSeg := right.Segment
	rightConn := right.ConnectionNumber
	prevWritten := e.completedBytesForConnection(ds, rightConn)

	if reuse {
		h, ok := ds.workers[rightConn]
		if !ok {
			enginelog.Error("coordinator: %s: no handle for reused connection %d", uid, rightConn)
			return
		}
		h.Segment = rightSeg
		rightConnCopy := rightConn
		h.Send(protocol.CoordinatorCommand{
			Command:                     protocol.CmdStartReuseConnection,
			DownloadItem:                ds.item,
			Settings:                    ds.settings,
			Segment:                     &rightSeg,
			ConnectionNumber:            &rightConnCopy,
			PreviouslyWrittenByteLength: prevWritten,
		})
		ds.pendingHandshakes[rightConn] = struct{}{}
		return
	}

	e.spawnForLeaf(ds, uid, result.Right, prevWritten)
	ds.createdConnections++
}

// collapseRefusedSplit undoes a split whose refresh was refused: the
// parent leaf is reinstated and, if the split was in service of a reuse
// attempt, the reusing connection goes back on the reuse queue to try
// again on a later tick.
func (e *Engine) collapseRefusedSplit(ds *downloadState, result segment.SplitResult, reuse bool) {
	rightConn := ds.tree.Node(result.Right).ConnectionNumber
	ds.tree.CollapseSplit(&result, segment.InUse)
	if reuse {
		e.enqueueReuse(ds, rightConn)
	}
}
