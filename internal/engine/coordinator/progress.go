package coordinator

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/AminBhst/brisk-engine/internal/engine/protocol"
	"github.com/AminBhst/brisk-engine/internal/engine/segment"
	"github.com/AminBhst/brisk-engine/internal/engine/tempstore"
)

// handleProgress implements spec.md §4.4's ten-step merge of one worker's
// progress report into the download's aggregated ProgressMessage.
func (e *Engine) handleProgress(uid string, ds *downloadState, msg *protocol.DownloadProgressMessage) {
	now := e.now()

	cp := protocol.ConnectionProgress{
		ConnectionNumber:             msg.ConnectionNumber,
		Status:                       msg.Status.String(),
		DetailsStatus:                msg.DetailsStatus.String(),
		TotalDownloadProgress:        msg.TotalDownloadProgress,
		TotalConnectionWriteProgress: msg.TotalConnectionWriteProgress,
		TotalReceivedBytes:           msg.TotalReceivedBytes,
		BytesTransferRate:            msg.BytesTransferRate,
	}
	ds.connProgress[msg.ConnectionNumber] = cp

	if h, ok := ds.workers[msg.ConnectionNumber]; ok {
		h.LastResponseTime = now
		h.DetailsStatus = msg.DetailsStatus
		h.ButtonAvailability = msg.ButtonAvailability
		if msg.Status == protocol.WorkerDownloading {
			h.AwaitingResetResponse = false
		}
	}
	if leaf, ok := ds.tree.LeafByConnectionNumber(msg.ConnectionNumber); ok {
		ds.tree.Touch(leaf, now.UnixMilli())
	}

	if now.Sub(ds.lastETACompute) >= time.Second {
		e.recomputeETA(ds, now)
	}
	e.updateButtonStability(ds, now)

	if msg.CompletionSignal {
		e.enqueueReuse(ds, msg.ConnectionNumber)
		if leaf, ok := ds.tree.LeafByConnectionNumber(msg.ConnectionNumber); ok {
			ds.tree.SetStatus(leaf, segment.Complete)
		}
	}

	if e.tempWritesComplete(uid, ds) && !ds.assembleRequested &&
		ds.status != protocol.StatusAssembleComplete && ds.status != protocol.StatusAssembleFailed {
		ds.assembleRequested = true
		e.assemble(uid)
		return // assemble already published its own snapshot
	}

	e.publish(e.buildProgressMessage(ds))
}

// totals sums transfer rate and total-download-progress across every
// worker that has reported in, per spec.md §4.4 steps 3–4.
func (e *Engine) totals(ds *downloadState) (rate, totalProgress float64) {
	for _, cp := range ds.connProgress {
		rate += cp.BytesTransferRate
		totalProgress += cp.TotalDownloadProgress
	}
	return rate, totalProgress
}

func (e *Engine) recomputeETA(ds *downloadState, now time.Time) {
	ds.lastETACompute = now
	_, totalProgress := e.totals(ds)
	if totalProgress >= 1 {
		ds.cachedETA = ""
		ds.etaKnown = false
		return
	}
	rate, _ := e.totals(ds)
	if rate <= 0 {
		ds.cachedETA = ""
		ds.etaKnown = false
		return
	}
	remainingBytes := float64(ds.item.ContentLength) * (1 - totalProgress)
	seconds := remainingBytes / rate
	ds.etaSeconds = seconds
	ds.etaKnown = true
	ds.cachedETA = formatETA(seconds)
}

// formatETA is the pure nowMillis-free helper spec.md §9 calls for: no
// wall-clock reads, just a duration in seconds.
func formatETA(totalSeconds float64) string {
	if totalSeconds <= 0 {
		return ""
	}
	secs := int64(totalSeconds)
	days := secs / 86400
	secs %= 86400
	hours := secs / 3600
	secs %= 3600
	minutes := secs / 60
	seconds := secs % 60

	var parts []string
	started := false
	if days > 0 {
		started = true
		parts = append(parts, fmt.Sprintf("%d Days", days))
	}
	if started || hours > 0 {
		started = true
		parts = append(parts, fmt.Sprintf("%d Hours", hours))
	}
	if started || minutes > 0 {
		started = true
		parts = append(parts, fmt.Sprintf("%d Minutes", minutes))
	}
	parts = append(parts, fmt.Sprintf("%d Seconds", seconds))
	return strings.Join(parts, ", ")
}

// updateButtonStability tracks how long every unfinished worker's hint has
// unanimously agreed on pause/start availability, resetting the stability
// clock the moment that agreement changes.
func (e *Engine) updateButtonStability(ds *downloadState, now time.Time) {
	pauseAgree, startAgree := true, true
	any := false
	for _, h := range ds.workers {
		if h.DetailsStatus == protocol.DetailsConnectionComplete || h.DetailsStatus == protocol.DetailsCanceled {
			continue
		}
		any = true
		if !h.ButtonAvailability.Pause {
			pauseAgree = false
		}
		if !h.ButtonAvailability.Start {
			startAgree = false
		}
	}
	if !any {
		pauseAgree, startAgree = false, false
	}

	if pauseAgree != ds.pauseHintsAgree {
		ds.pauseHintsAgree = pauseAgree
		ds.pauseHintsStableSince = now
	}
	if startAgree != ds.startHintsAgree {
		ds.startHintsAgree = startAgree
		ds.startHintsStableSince = now
	}
}

func (e *Engine) buttonAvailability(ds *downloadState, now time.Time) protocol.ButtonAvailability {
	debounce := e.buttonDebounce()
	pauseReady := ds.pauseHintsAgree && now.Sub(ds.pauseHintsStableSince) >= debounce
	startReady := ds.startHintsAgree && now.Sub(ds.startHintsStableSince) >= debounce
	return protocol.ButtonAvailability{Pause: pauseReady, Start: startReady}
}

// tempWritesComplete is spec.md §4.4's assembly gate: every worker must
// have finished writing its own segment, and no gaps may remain on disk.
func (e *Engine) tempWritesComplete(uid string, ds *downloadState) bool {
	if len(ds.workers) == 0 {
		return false
	}
	for _, h := range ds.workers {
		if h.DetailsStatus != protocol.DetailsConnectionComplete {
			return false
		}
	}
	for _, cp := range ds.connProgress {
		if cp.TotalConnectionWriteProgress < 1 {
			return false
		}
	}
	missing, err := tempstore.FindMissingByteRanges(ds.item.ContentLength, e.store.DirFor(uid))
	if err != nil || len(missing) > 0 {
		return false
	}
	return true
}

// buildProgressMessage assembles the outbound snapshot for one download in
// its current state, without publishing it.
func (e *Engine) buildProgressMessage(ds *downloadState) protocol.ProgressMessage {
	now := e.now()
	rate, totalProgress := e.totals(ds)

	status := protocol.WorkerConnecting
	allConnecting := len(ds.workers) > 0
	anyDownloading := false
	for _, h := range ds.workers {
		if h.DetailsStatus != protocol.DetailsConnecting {
			allConnecting = false
		}
		if h.DetailsStatus == protocol.DetailsDownloading {
			anyDownloading = true
		}
	}
	if allConnecting {
		status = protocol.WorkerConnecting
	}
	if totalProgress >= 1 {
		status = protocol.WorkerConnectionComplete
	}
	if anyDownloading {
		status = protocol.WorkerDownloading
	}
	statusStr := status.String()
	switch ds.status {
	case protocol.StatusPaused:
		statusStr = protocol.StatusPaused.String()
	case protocol.StatusAssembleComplete:
		statusStr = protocol.StatusAssembleComplete.String()
	case protocol.StatusAssembleFailed:
		statusStr = protocol.StatusAssembleFailed.String()
	case protocol.StatusError:
		statusStr = protocol.StatusError.String()
	}

	progresses := make([]protocol.ConnectionProgress, 0, len(ds.connProgress))
	for _, cp := range ds.connProgress {
		progresses = append(progresses, cp)
	}

	return protocol.ProgressMessage{
		DownloadItem:          ds.item,
		Status:                statusStr,
		DownloadProgress:      totalProgress,
		TotalDownloadProgress: totalProgress,
		TransferRate:          formatRate(rate),
		EstimatedRemaining:    ds.cachedETA,
		ButtonAvailability:    e.buttonAvailability(ds, now),
		ConnectionProgresses:  progresses,
	}
}

func formatRate(bytesPerSecond float64) string {
	if bytesPerSecond <= 0 {
		return "0 B/s"
	}
	return humanize.Bytes(uint64(bytesPerSecond)) + "/s"
}

func (e *Engine) publish(pm protocol.ProgressMessage) {
	select {
	case e.progressOut <- pm:
	default:
		// slow consumer: drop the stale snapshot rather than block the
		// coordinator's single goroutine.
		select {
		case <-e.progressOut:
		default:
		}
		e.progressOut <- pm
	}
}
