package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/AminBhst/brisk-engine/internal/engine/protocol"
	"github.com/AminBhst/brisk-engine/internal/engine/segment"
	"github.com/AminBhst/brisk-engine/internal/engine/tempstore"
	"github.com/AminBhst/brisk-engine/internal/enginelog"
)

// Config tunes a worker's HTTP and retry behavior. Every field falls back
// to a sane default when zero, in the same Get*-accessor spirit the
// teacher's RuntimeConfig uses, kept here as plain fields since a worker
// owns its Config exclusively.
type Config struct {
	UserAgent     string
	BufferSize    int
	MaxRetries    int
	RetryBaseDelay time.Duration
	BatchInterval time.Duration
	BatchSize     int64
}

func (c Config) userAgent() string {
	if c.UserAgent != "" {
		return c.UserAgent
	}
	return "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
}

func (c Config) bufferSize() int {
	if c.BufferSize > 0 {
		return c.BufferSize
	}
	return 512 * 1024
}

func (c Config) maxRetries() int {
	if c.MaxRetries > 0 {
		return c.MaxRetries
	}
	return 3
}

func (c Config) retryBaseDelay() time.Duration {
	if c.RetryBaseDelay > 0 {
		return c.RetryBaseDelay
	}
	return 200 * time.Millisecond
}

func (c Config) batchInterval() time.Duration {
	if c.BatchInterval > 0 {
		return c.BatchInterval
	}
	return 200 * time.Millisecond
}

func (c Config) batchSize() int64 {
	if c.BatchSize > 0 {
		return c.BatchSize
	}
	return 1024 * 1024
}

// bufPool reduces GC pressure across the many short-lived per-segment
// reads a busy download performs.
var bufPool = sync.Pool{}

type worker struct {
	uid      string
	cfg      Config
	client   *http.Client
	tempDir  string
	inbox    chan<- protocol.WorkerMessage
	commands chan protocol.CoordinatorCommand

	connNum       int
	downloadURL   string
	contentLength int64
	seg           segment.Segment
	offset        int64

	// previouslyWritten is the byte count this connection number already
	// contributed under a prior segment (spec.md §4.3, "Spawning a
	// worker"), so a reused/respawned connection's progress reports keep
	// crediting those bytes instead of losing them the moment it starts
	// its next segment.
	previouslyWritten int64

	speed       float64
	windowStart time.Time
	windowBytes int64
}

// Spawn starts a worker as its own goroutine and returns the Handle the
// coordinator uses to drive it. The worker never touches the
// coordinator's memory; all coupling is through commands (SPSC, owned by
// this worker) and inbox (MPSC, shared by every worker of the process).
func Spawn(uid string, connNum int, seg segment.Segment, tempDir string, cfg Config, client *http.Client, inbox chan<- protocol.WorkerMessage) *Handle {
	commands := make(chan protocol.CoordinatorCommand, 8)
	w := &worker{
		uid:      uid,
		cfg:      cfg,
		client:   client,
		tempDir:  tempDir,
		inbox:    inbox,
		commands: commands,
		connNum:  connNum,
		seg:      seg,
	}
	go w.run()
	return NewHandle(commands, connNum, seg)
}

func (w *worker) run() {
	for cmd := range w.commands {
		switch cmd.Command {
		case protocol.CmdStartInitial, protocol.CmdStartReuseConnection:
			w.beginSegment(cmd)
			w.downloadLoop()
		case protocol.CmdStart:
			// Resume: carry on with the current segment from the offset the
			// previous attempt stopped at.
			if w.downloadURL == "" || w.offset > w.seg.End {
				w.sendLog(fmt.Sprintf("ignored %s with no unfinished segment", cmd.Command))
				continue
			}
			w.downloadLoop()
		case protocol.CmdCancel:
			return
		case protocol.CmdPause, protocol.CmdResetConnection,
			protocol.CmdRefreshSegment, protocol.CmdRefreshSegmentReuseConnection:
			// Stale: arrived while this worker was idle between segments.
			w.sendLog(fmt.Sprintf("ignored stale %s while idle", cmd.Command))
		}
	}
}

func (w *worker) beginSegment(cmd protocol.CoordinatorCommand) {
	if cmd.Segment != nil {
		w.seg = *cmd.Segment
	}
	if cmd.ConnectionNumber != nil {
		w.connNum = *cmd.ConnectionNumber
	}
	w.downloadURL = cmd.DownloadItem.DownloadURL
	w.contentLength = cmd.DownloadItem.ContentLength
	w.offset = w.seg.Start
	w.previouslyWritten = cmd.PreviouslyWrittenByteLength
	w.speed = 0
	w.windowStart = time.Now()
	w.windowBytes = 0

	w.inbox <- protocol.WorkerMessage{
		UID:  w.uid,
		Kind: protocol.KindHandshake,
		Handshake: &protocol.ConnectionHandshake{
			NewConnectionNumber: w.connNum,
			ReuseConnection:     cmd.Command == protocol.CmdStartReuseConnection,
		},
	}
}

// downloadLoop drives one segment to completion, pause, or cancellation,
// then returns control to run() so the goroutine survives to serve the
// next assignment.
func (w *worker) downloadLoop() {
	dir := filepath.Join(w.tempDir, w.uid)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		w.sendError(err)
		return
	}

	var err error
	for attempt := 0; attempt < w.cfg.maxRetries(); attempt++ {
		if attempt > 0 {
			time.Sleep(time.Duration(1<<uint(attempt)) * w.cfg.retryBaseDelay())
		}
		err = w.attempt(dir)
		if err == nil || err == errRefreshed || err == errPaused || err == errCanceled {
			break
		}
		w.sendLog(fmt.Sprintf("connection %d: attempt %d failed: %v", w.connNum, attempt, err))
	}
	if err != nil && err != errRefreshed && err != errPaused && err != errCanceled {
		w.sendError(err)
	}
}

var (
	errRefreshed = fmt.Errorf("worker: segment refreshed mid-flight")
	errPaused    = fmt.Errorf("worker: paused mid-flight")
	errCanceled  = fmt.Errorf("worker: canceled mid-flight")
)

// attempt performs a single ranged GET for [w.offset, w.seg.End] and
// streams it to a working file, checking for an incoming control command
// between each buffered read. Whatever range actually lands on disk is
// renamed to its real temp-file name on the way out, since a pause,
// cancellation, or reset can end the attempt short of w.seg.End. It
// returns one of the sentinel errors above when a control command ends
// the attempt early, nil on a clean completion, or the underlying I/O
// error otherwise.
func (w *worker) attempt(dir string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ctrlCh := make(chan protocol.CoordinatorCommand, 8)
	stopWatch := make(chan struct{})
	defer close(stopWatch)
	go w.watchCommands(cancel, ctrlCh, stopWatch)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.downloadURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", w.cfg.userAgent())
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", w.offset, w.seg.End))

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusPartialContent && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	start := w.offset
	workingPath := filepath.Join(dir, fmt.Sprintf(".conn-%d.part", w.connNum))
	out, err := os.Create(workingPath)
	if err != nil {
		return err
	}
	finalize := func() {
		_ = out.Close()
		if w.offset <= start {
			_ = os.Remove(workingPath)
			return
		}
		finalPath := filepath.Join(dir, tempstore.TempFileName(segment.New(start, w.offset-1)))
		_ = os.Rename(workingPath, finalPath)
	}

	bufPtr, _ := bufPool.Get().(*[]byte)
	if bufPtr == nil {
		buf := make([]byte, w.cfg.bufferSize())
		bufPtr = &buf
	}
	defer bufPool.Put(bufPtr)
	buf := *bufPtr

	lastReport := time.Now()
	var sinceReport int64

	for {
		remaining := w.seg.End - w.offset + 1
		if remaining <= 0 {
			w.reportProgress(protocol.DetailsConnectionComplete, true)
			finalize()
			return nil
		}

		readSize := int64(len(buf))
		if readSize > remaining {
			readSize = remaining
		}

		n, readErr := resp.Body.Read(buf[:readSize])
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				finalize()
				return fmt.Errorf("write error: %w", werr)
			}
			w.offset += int64(n)
			sinceReport += int64(n)
			w.updateSpeed(int64(n))
		}

		if sinceReport >= w.cfg.batchSize() || time.Since(lastReport) >= w.cfg.batchInterval() {
			w.reportProgress(protocol.DetailsDownloading, false)
			lastReport = time.Now()
			sinceReport = 0
		}

		if ctrl, ok := w.pollCommand(ctrlCh); ok {
			if outcome := w.handleControl(ctrl); outcome != nil {
				finalize()
				return outcome
			}
		}

		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				if w.offset <= w.seg.End {
					continue // short read, more to go
				}
				w.reportProgress(protocol.DetailsConnectionComplete, true)
				finalize()
				return nil
			}
			// A blocked Read can return because watchCommands canceled ctx
			// out from under it (CmdResetConnection/CmdCancel), which
			// surfaces here as a bare context error rather than going
			// through the ctrl channel first. Give the forwarded command
			// one more chance to be picked up so the caller sees the
			// sentinel error it actually asked for instead of a generic
			// I/O failure that would just trigger a pointless retry.
			if ctrl, ok := w.pollCommand(ctrlCh); ok {
				if outcome := w.handleControl(ctrl); outcome != nil {
					finalize()
					return outcome
				}
			}
			finalize()
			return readErr
		}
	}
}

// pollCommand performs a non-blocking receive off the channel watchCommands
// forwards onto, so the read loop above stays responsive between reads
// without itself blocking on the worker's real commands channel.
func (w *worker) pollCommand(ctrlCh <-chan protocol.CoordinatorCommand) (protocol.CoordinatorCommand, bool) {
	select {
	case cmd := <-ctrlCh:
		return cmd, true
	default:
		return protocol.CoordinatorCommand{}, false
	}
}

// watchCommands is the sole reader of w.commands for the duration of one
// attempt. A blocked resp.Body.Read only gets re-checked against incoming
// commands between reads, so a server that holds the connection open but
// stops sending bytes would otherwise never see a CmdResetConnection or
// CmdCancel until it times out on its own (spec.md §5, "no operation
// blocks indefinitely"). This goroutine calls cancel() the moment either
// command arrives, unblocking Read immediately, then forwards the command
// on ctrlCh so attempt's read loop still runs it through handleControl for
// its normal bookkeeping (progress reports, segment responses, ...).
func (w *worker) watchCommands(cancel context.CancelFunc, ctrlCh chan<- protocol.CoordinatorCommand, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case cmd := <-w.commands:
			if cmd.Command == protocol.CmdResetConnection || cmd.Command == protocol.CmdCancel {
				cancel()
			}
			select {
			case ctrlCh <- cmd:
			case <-stop:
				return
			}
		}
	}
}

// handleControl applies a control command received mid-attempt. It
// returns a sentinel error to unwind attempt() when the command ends the
// current range, or nil when the loop should keep reading (a refresh,
// which only moves w.seg.End, or a command that does not apply to an
// in-flight attempt, such as a start).
func (w *worker) handleControl(cmd protocol.CoordinatorCommand) error {
	switch cmd.Command {
	case protocol.CmdCancel:
		return errCanceled
	case protocol.CmdPause:
		w.reportProgress(protocol.DetailsPaused, false)
		return errPaused
	case protocol.CmdResetConnection:
		return fmt.Errorf("worker: reset requested")
	case protocol.CmdRefreshSegment, protocol.CmdRefreshSegmentReuseConnection:
		return w.applyRefresh(cmd)
	default:
		return nil
	}
}

// applyRefresh implements the donor side of a split: the coordinator
// proposes a smaller end for this worker's segment. If this worker has
// not yet read past the proposal, it shrinks cleanly and keeps reading up
// to the new end; if it already has, it reports the overlap so the
// coordinator can renegotiate the boundary without re-downloading any
// bytes, and the bytes it has already written become its whole segment.
func (w *worker) applyRefresh(cmd protocol.CoordinatorCommand) error {
	if cmd.Segment == nil {
		return nil
	}
	proposedEnd := cmd.Segment.End
	reuse := cmd.Command == protocol.CmdRefreshSegmentReuseConnection

	msg := &protocol.ConnectionSegmentMessage{
		ConnectionNumber: w.connNum,
		RequestedSegment: *cmd.Segment,
		ReuseConnection:  reuse,
	}

	if w.offset-1 <= proposedEnd {
		msg.InternalMessage = protocol.RefreshSegmentSuccess
		w.seg.End = proposedEnd
	} else {
		msg.InternalMessage = protocol.OverlappingRefreshSegment
		msg.RefreshedStartByte = cmd.Segment.Start
		msg.RefreshedEndByte = w.offset - 1
		msg.ValidNewStartByte = w.offset
		msg.ValidNewEndByte = w.seg.End
	}

	w.inbox <- protocol.WorkerMessage{UID: w.uid, Kind: protocol.KindSegmentResponse, Segment: msg}

	if msg.InternalMessage == protocol.OverlappingRefreshSegment {
		// Overlap: [w.offset, old end] now belongs to the right child, so
		// this worker's segment ends at the last byte it has written.
		w.seg.End = msg.RefreshedEndByte
	}
	// The read loop carries on against the updated w.seg.End and reports
	// completion once it is reached.
	return nil
}

func (w *worker) updateSpeed(n int64) {
	w.windowBytes += n
	elapsed := time.Since(w.windowStart).Seconds()
	if elapsed < 2.0 {
		return
	}
	recent := float64(w.windowBytes) / elapsed
	if w.speed == 0 {
		w.speed = recent
	} else {
		alpha := 0.3
		w.speed = (1-alpha)*w.speed + alpha*recent
	}
	w.windowBytes = 0
	w.windowStart = time.Now()
}

// reportProgress sends this worker's current state. TotalConnectionWriteProgress
// is this worker's own fraction of its assigned segment (0..1); TotalDownloadProgress
// is this worker's contribution to the whole download (written/contentLength), so
// the coordinator can sum it across workers to get overall progress.
func (w *worker) reportProgress(details protocol.WorkerDetailsStatus, completion bool) {
	total := w.seg.Length()
	segmentWritten := w.offset - w.seg.Start
	localProgress := 1.0
	if total > 0 {
		localProgress = float64(segmentWritten) / float64(total)
	}
	// written includes whatever this connection number already wrote
	// under a prior segment, so the coordinator's per-connection totals
	// don't regress when this connection gets reused or respawned.
	written := segmentWritten + w.previouslyWritten
	downloadContribution := localProgress
	if w.contentLength > 0 {
		downloadContribution = float64(written) / float64(w.contentLength)
	}

	status := protocol.WorkerDownloading
	if details == protocol.DetailsConnectionComplete {
		status = protocol.WorkerConnectionComplete
	}

	w.inbox <- protocol.WorkerMessage{
		UID:  w.uid,
		Kind: protocol.KindProgress,
		Progress: &protocol.DownloadProgressMessage{
			ConnectionNumber:             w.connNum,
			Status:                       status,
			DetailsStatus:                details,
			TotalDownloadProgress:        downloadContribution,
			TotalConnectionWriteProgress: localProgress,
			TotalReceivedBytes:           written,
			BytesTransferRate:            w.speed,
			ButtonAvailability:           protocol.ButtonAvailability{Pause: true, Start: true},
			CompletionSignal:             completion,
			Segment:                      &segment.Segment{Start: w.seg.Start, End: w.seg.End},
		},
	}
}

func (w *worker) sendError(err error) {
	enginelog.Warn("worker %d: %v", w.connNum, err)
	w.inbox <- protocol.WorkerMessage{
		UID:  w.uid,
		Kind: protocol.KindProgress,
		Progress: &protocol.DownloadProgressMessage{
			ConnectionNumber: w.connNum,
			Status:           protocol.WorkerDownloading,
			DetailsStatus:    protocol.DetailsError,
		},
	}
}

func (w *worker) sendLog(text string) {
	w.inbox <- protocol.WorkerMessage{UID: w.uid, Kind: protocol.KindLog, Log: &protocol.LogMessage{Log: text}}
}
