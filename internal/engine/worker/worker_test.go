package worker

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/AminBhst/brisk-engine/internal/engine/protocol"
	"github.com/AminBhst/brisk-engine/internal/engine/segment"
	"github.com/AminBhst/brisk-engine/internal/engine/tempstore"
	"github.com/AminBhst/brisk-engine/internal/testutil"
)

const payload = "the quick brown fox jumps over the lazy dog"

func rangeServer(t *testing.T) *httptest.Server {
	t.Helper()
	return testutil.NewHTTPServerT(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "f.bin", time.Time{}, strings.NewReader(payload))
	}))
}

func waitForHandshake(t *testing.T, inbox chan protocol.WorkerMessage) protocol.WorkerMessage {
	t.Helper()
	select {
	case msg := <-inbox:
		require.Equal(t, protocol.KindHandshake, msg.Kind)
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for handshake")
		return protocol.WorkerMessage{}
	}
}

func waitForCompletion(t *testing.T, inbox chan protocol.WorkerMessage) protocol.WorkerMessage {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case msg := <-inbox:
			if msg.Kind == protocol.KindProgress && msg.Progress.CompletionSignal {
				return msg
			}
		case <-deadline:
			t.Fatal("timed out waiting for completion signal")
			return protocol.WorkerMessage{}
		}
	}
}

func TestWorker_DownloadsFullSegmentAndReportsCompletion(t *testing.T) {
	srv := rangeServer(t)
	defer srv.Close()

	tempDir := t.TempDir()
	inbox := make(chan protocol.WorkerMessage, 32)
	client := &http.Client{Timeout: 5 * time.Second}

	seg := segment.New(0, int64(len(payload)-1))
	handle := Spawn("dl-1", 0, seg, tempDir, Config{}, client, inbox)

	handle.Send(protocol.CoordinatorCommand{
		Command:      protocol.CmdStartInitial,
		DownloadItem: protocol.DownloadItem{UID: "dl-1", DownloadURL: srv.URL},
		Segment:      &seg,
	})

	waitForHandshake(t, inbox)
	waitForCompletion(t, inbox)

	files, err := tempstore.SortedTempFiles(filepath.Join(tempDir, "dl-1"))
	require.NoError(t, err)
	require.Len(t, files, 1)
	require.Equal(t, seg, files[0].Segment)

	data, err := os.ReadFile(files[0].Path)
	require.NoError(t, err)
	require.Equal(t, payload, string(data))
}

func slowServer(t *testing.T) *httptest.Server {
	t.Helper()
	return testutil.NewHTTPServerT(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", fmt.Sprintf("%d", len(payload)))
		w.WriteHeader(http.StatusOK)
		flusher, _ := w.(http.Flusher)
		for i := 0; i < len(payload); i++ {
			w.Write([]byte{payload[i]})
			if flusher != nil {
				flusher.Flush()
			}
			time.Sleep(15 * time.Millisecond)
		}
	}))
}

func TestWorker_RefreshShrinksSegmentBeforeBoundaryIsReached(t *testing.T) {
	srv := slowServer(t)
	defer srv.Close()

	tempDir := t.TempDir()
	inbox := make(chan protocol.WorkerMessage, 32)
	client := &http.Client{Timeout: 5 * time.Second}

	full := segment.New(0, int64(len(payload)-1))
	handle := Spawn("dl-2", 3, full, tempDir, Config{BatchInterval: time.Millisecond}, client, inbox)

	handle.Send(protocol.CoordinatorCommand{
		Command:      protocol.CmdStartInitial,
		DownloadItem: protocol.DownloadItem{UID: "dl-2", DownloadURL: srv.URL},
		Segment:      &full,
	})
	waitForHandshake(t, inbox)

	shrunk := segment.New(0, 9)
	handle.Send(protocol.CoordinatorCommand{
		Command: protocol.CmdRefreshSegment,
		Segment: &shrunk,
	})

	deadline := time.After(3 * time.Second)
	for {
		select {
		case msg := <-inbox:
			if msg.Kind == protocol.KindSegmentResponse {
				require.Contains(t,
					[]protocol.InternalSegmentMessage{protocol.RefreshSegmentSuccess, protocol.OverlappingRefreshSegment},
					msg.Segment.InternalMessage)
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for segment response")
			return
		}
	}
}

func TestWorker_PauseRetainsPartialTempFile(t *testing.T) {
	srv := slowServer(t)
	defer srv.Close()

	tempDir := t.TempDir()
	inbox := make(chan protocol.WorkerMessage, 32)
	client := &http.Client{}

	seg := segment.New(0, int64(len(payload)-1))
	handle := Spawn("dl-3", 1, seg, tempDir, Config{BatchInterval: time.Millisecond}, client, inbox)

	handle.Send(protocol.CoordinatorCommand{
		Command:      protocol.CmdStartInitial,
		DownloadItem: protocol.DownloadItem{UID: "dl-3", DownloadURL: srv.URL},
		Segment:      &seg,
	})
	waitForHandshake(t, inbox)

	time.Sleep(50 * time.Millisecond)
	handle.Send(protocol.CoordinatorCommand{Command: protocol.CmdPause})

	deadline := time.After(2 * time.Second)
wait:
	for {
		select {
		case msg := <-inbox:
			if msg.Kind == protocol.KindProgress && msg.Progress.DetailsStatus == protocol.DetailsPaused {
				break wait
			}
		case <-deadline:
			t.Fatal("timed out waiting for paused status")
		}
	}
	files, err := tempstore.SortedTempFiles(filepath.Join(tempDir, "dl-3"))
	require.NoError(t, err)
	require.Len(t, files, 1)
	require.True(t, files[0].Segment.End < seg.End)
}

// stallingServer sends one byte, then holds the connection open without
// sending any more, so resp.Body.Read blocks indefinitely unless something
// external cancels the request. It closes unblocked once the request's
// context is actually canceled, so a test can assert on how promptly that
// happens.
func stallingServer(t *testing.T) (*httptest.Server, <-chan struct{}) {
	t.Helper()
	unblocked := make(chan struct{})
	srv := testutil.NewHTTPServerT(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", fmt.Sprintf("%d", len(payload)))
		w.WriteHeader(http.StatusOK)
		flusher, _ := w.(http.Flusher)
		w.Write([]byte{payload[0]})
		if flusher != nil {
			flusher.Flush()
		}
		<-r.Context().Done()
		close(unblocked)
	}))
	return srv, unblocked
}

func TestWorker_ResetDuringStalledReadUnblocksPromptly(t *testing.T) {
	srv, unblocked := stallingServer(t)
	defer srv.Close()

	tempDir := t.TempDir()
	inbox := make(chan protocol.WorkerMessage, 32)
	client := &http.Client{}

	seg := segment.New(0, int64(len(payload)-1))
	handle := Spawn("dl-6", 2, seg, tempDir, Config{}, client, inbox)

	handle.Send(protocol.CoordinatorCommand{
		Command:      protocol.CmdStartInitial,
		DownloadItem: protocol.DownloadItem{UID: "dl-6", DownloadURL: srv.URL},
		Segment:      &seg,
	})
	waitForHandshake(t, inbox)

	// Give the first byte time to land so the read loop is blocked on its
	// next Read, not still setting up the request.
	time.Sleep(50 * time.Millisecond)
	handle.Send(protocol.CoordinatorCommand{Command: protocol.CmdResetConnection})

	select {
	case <-unblocked:
	case <-time.After(2 * time.Second):
		t.Fatal("stalled request was not canceled promptly after CmdResetConnection")
	}
}

func TestWorker_IgnoresStaleCommandsWhileIdle(t *testing.T) {
	tempDir := t.TempDir()
	inbox := make(chan protocol.WorkerMessage, 8)
	client := &http.Client{}

	seg := segment.New(0, 99)
	handle := Spawn("dl-5", 4, seg, tempDir, Config{}, client, inbox)

	handle.Send(protocol.CoordinatorCommand{Command: protocol.CmdPause})

	select {
	case msg := <-inbox:
		require.Equal(t, protocol.KindLog, msg.Kind)
		require.Contains(t, msg.Log.Log, "ignored stale")
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the idle-ignore log message")
	}
}
