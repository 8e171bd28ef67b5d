package coordinator

import (
	"os"
	"path/filepath"
	"time"

	"github.com/AminBhst/brisk-engine/internal/engine/protocol"
	"github.com/AminBhst/brisk-engine/internal/engine/segment"
	"github.com/AminBhst/brisk-engine/internal/engine/tempstore"
	"github.com/AminBhst/brisk-engine/internal/engine/worker"
	"github.com/AminBhst/brisk-engine/internal/enginelog"
)

// downloadState is everything the coordinator tracks for one download. It
// is owned exclusively by the coordinator goroutine.
type downloadState struct {
	item     protocol.DownloadItem
	settings protocol.DownloadSettings
	tree     *segment.Tree

	workers           map[int]*worker.Handle
	pendingHandshakes map[int]struct{}
	pendingSplits     map[int]segment.SplitResult // keyed by the donor's connection number

	pauseOnFinalHandshake bool
	spawnIgnored          bool
	pausedAt              time.Time

	reuseQueue  []int
	reuseQueued map[int]struct{}

	createdConnections int
	connProgress        map[int]protocol.ConnectionProgress

	status            protocol.DownloadStatus
	assembleRequested bool

	lastETACompute time.Time
	cachedETA      string
	etaSeconds     float64
	etaKnown       bool

	pauseHintsAgree       bool
	startHintsAgree       bool
	pauseHintsStableSince time.Time
	startHintsStableSince time.Time
}

func newDownloadState(item protocol.DownloadItem, settings protocol.DownloadSettings, tree *segment.Tree) *downloadState {
	return &downloadState{
		item:              item,
		settings:          settings,
		tree:              tree,
		workers:           make(map[int]*worker.Handle),
		pendingHandshakes: make(map[int]struct{}),
		pendingSplits:     make(map[int]segment.SplitResult),
		reuseQueued:       make(map[int]struct{}),
		connProgress:      make(map[int]protocol.ConnectionProgress),
		status:            protocol.StatusDownloading,
	}
}

// handleStart implements spec.md §4.3's "On start" rule: a fresh download
// is recovered from whatever temp files already exist and a worker per
// leaf is spawned; a download already in the registry is a resume, and the
// same command is rebroadcast to every live worker with its own
// connectionNumber filled in.
func (e *Engine) handleStart(cmd protocol.CoordinatorCommand) {
	uid := cmd.DownloadItem.UID

	if ds, exists := e.downloads[uid]; exists {
		ds.status = protocol.StatusDownloading
		ds.spawnIgnored = false
		for connNum, h := range ds.workers {
			connCopy := connNum
			h.Send(protocol.CoordinatorCommand{
				Command:          protocol.CmdStart,
				DownloadItem:      cmd.DownloadItem,
				Settings:          ds.settings,
				ConnectionNumber:  &connCopy,
			})
		}
		return
	}

	item := cmd.DownloadItem
	settings := cmd.Settings

	destPath := filepath.Join(settings.BaseSaveDir, item.FileName)
	if info, err := os.Stat(destPath); err == nil {
		if info.Size() != item.ContentLength {
			_ = os.Remove(destPath)
		} else {
			e.downloads[uid] = &downloadState{item: item, settings: settings, status: protocol.StatusAssembleComplete}
			return
		}
	}

	tempDir := e.store.DirFor(uid)
	if _, err := tempstore.ValidateIntegrity(tempDir, item.ContentLength, tempstore.ValidateOptions{DeleteCorrupted: true}); err != nil {
		enginelog.Warn("coordinator: %s: validate temp files: %v", uid, err)
	}

	missing, err := tempstore.FindMissingByteRanges(item.ContentLength, tempDir)
	if err != nil {
		enginelog.Error("coordinator: %s: find missing ranges: %v", uid, err)
		return
	}
	if len(missing) == 0 {
		e.downloads[uid] = newDownloadState(item, settings, segment.BuildFromMissingBytes(item.ContentLength, settings.TotalConnections, nil))
		e.assemble(uid)
		return
	}

	tree := segment.BuildFromMissingBytes(item.ContentLength, settings.TotalConnections, missing)
	ds := newDownloadState(item, settings, tree)
	if len(missing) > 1 {
		// Recovery path: one leaf per gap, already pre-split; pin
		// createdConnections so the dynamic spawn timer leaves it alone.
		ds.createdConnections = settings.TotalConnections
	} else {
		ds.createdConnections = tree.LeafCount()
	}
	e.downloads[uid] = ds

	for _, leafID := range tree.Leaves() {
		tree.SetStatus(leafID, segment.InUse)
		e.spawnForLeaf(ds, uid, leafID, 0)
	}
}

func (e *Engine) spawnForLeaf(ds *downloadState, uid string, leafID segment.NodeID, prevWritten int64) {
	n := ds.tree.Node(leafID)
	h := e.spawn(uid, n.ConnectionNumber, n.Segment, ds.item, ds.settings, prevWritten)
	ds.workers[n.ConnectionNumber] = h
	ds.pendingHandshakes[n.ConnectionNumber] = struct{}{}
}

// handlePause forwards pause to every live worker. If handshakes are still
// pending, pauseOnFinalHandshake defers re-asserting it until they all
// arrive (see handleHandshake), so a worker born mid-pause doesn't start
// downloading before learning it should stop.
func (e *Engine) handlePause(cmd protocol.CoordinatorCommand) {
	ds, ok := e.downloads[cmd.DownloadItem.UID]
	if !ok {
		return
	}
	ds.status = protocol.StatusPaused
	ds.spawnIgnored = true
	ds.pausedAt = e.now()

	for connNum, h := range ds.workers {
		connCopy := connNum
		h.Send(protocol.CoordinatorCommand{Command: protocol.CmdPause, ConnectionNumber: &connCopy})
	}
	if len(ds.pendingHandshakes) > 0 {
		ds.pauseOnFinalHandshake = true
	}
}

func (e *Engine) handleCancel(cmd protocol.CoordinatorCommand) {
	uid := cmd.DownloadItem.UID
	ds, ok := e.downloads[uid]
	if !ok {
		return
	}
	for _, h := range ds.workers {
		h.Send(protocol.CoordinatorCommand{Command: protocol.CmdCancel})
	}
	delete(e.downloads, uid)
	delete(e.logs, uid)
}

// completedBytesForConnection sums the lengths of COMPLETE leaves that
// share connNum — the previouslyWrittenByteLength a newly (re)spawned
// worker needs so its progress accounting includes bytes an earlier
// incarnation of this connection already wrote.
func (e *Engine) completedBytesForConnection(ds *downloadState, connNum int) int64 {
	var total int64
	for _, id := range ds.tree.LeavesWithStatus(segment.Complete) {
		if n := ds.tree.Node(id); n.ConnectionNumber == connNum {
			total += n.Segment.Length()
		}
	}
	return total
}

func (e *Engine) enqueueReuse(ds *downloadState, connNum int) {
	if _, already := ds.reuseQueued[connNum]; already {
		return
	}
	ds.reuseQueued[connNum] = struct{}{}
	ds.reuseQueue = append(ds.reuseQueue, connNum)
}

func (e *Engine) assemble(uid string) {
	ds, ok := e.downloads[uid]
	if !ok {
		return
	}
	tempDir := e.store.DirFor(uid)
	path, err := tempstore.Assemble(tempDir, e.store.BaseSaveDir, ds.item.FileName, ds.item.ContentLength)
	if err != nil {
		enginelog.Error("coordinator: %s: assemble failed: %v", uid, err)
		ds.status = protocol.StatusAssembleFailed
		e.publish(e.buildProgressMessage(ds))
		return
	}
	ds.item.FilePath = path
	ds.status = protocol.StatusAssembleComplete
	e.publish(e.buildProgressMessage(ds))
	delete(e.downloads, uid)
}
