// Package protocol defines the message shapes that cross the boundary
// between the coordinator and its workers: the inbound command, the
// outbound progress snapshot, and the four worker-to-coordinator message
// variants.
package protocol

import (
	"time"

	"github.com/AminBhst/brisk-engine/internal/engine/segment"
)

// Command is the tag on a CoordinatorCommand.
type Command int

const (
	CmdStart Command = iota
	CmdPause
	CmdCancel
	CmdRefreshSegment
	CmdRefreshSegmentReuseConnection
	CmdResetConnection
	CmdStartInitial
	CmdStartReuseConnection
)

func (c Command) String() string {
	switch c {
	case CmdStart:
		return "start"
	case CmdPause:
		return "pause"
	case CmdCancel:
		return "cancel"
	case CmdRefreshSegment:
		return "refreshSegment"
	case CmdRefreshSegmentReuseConnection:
		return "refreshSegmentReuseConnection"
	case CmdResetConnection:
		return "resetConnection"
	case CmdStartInitial:
		return "startInitial"
	case CmdStartReuseConnection:
		return "startReuseConnection"
	default:
		return "unknown"
	}
}

// DownloadStatus is the lifecycle status of a DownloadItem.
type DownloadStatus int

const (
	StatusPending DownloadStatus = iota
	StatusDownloading
	StatusPaused
	StatusAssembleComplete
	StatusAssembleFailed
	StatusError
)

func (s DownloadStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusDownloading:
		return "downloading"
	case StatusPaused:
		return "paused"
	case StatusAssembleComplete:
		return "assembleComplete"
	case StatusAssembleFailed:
		return "assembleFailed"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// DownloadItem identifies one download across its lifetime.
type DownloadItem struct {
	UID           string
	FileName      string
	FilePath      string
	DownloadURL   string
	ContentLength int64
	Status        DownloadStatus
	FinishDate    *time.Time
}

// DownloadSettings configures a download's coordinator-visible behavior.
type DownloadSettings struct {
	TotalConnections            int
	MaxConnectionRetryCount     int // -1 means infinite
	ConnectionRetryTimeoutMillis int64
	BaseTempDir                  string
	BaseSaveDir                  string
}

// CoordinatorCommand is the inbound message accepted by the coordinator.
type CoordinatorCommand struct {
	Command                     Command
	DownloadItem                DownloadItem
	Settings                    DownloadSettings
	Segment                     *segment.Segment
	ConnectionNumber            *int
	PreviouslyWrittenByteLength int64
}

// ButtonAvailability reports whether the pause/start controls should be
// enabled for a download.
type ButtonAvailability struct {
	Pause bool
	Start bool
}

// ConnectionProgress is one worker's contribution to an outbound
// ProgressMessage.
type ConnectionProgress struct {
	ConnectionNumber          int
	Status                    string
	DetailsStatus             string
	TotalDownloadProgress     float64
	TotalConnectionWriteProgress float64
	TotalReceivedBytes        int64
	BytesTransferRate         float64
}

// ProgressMessage is the coordinator's outbound snapshot of one download.
type ProgressMessage struct {
	DownloadItem          DownloadItem
	Status                string
	DownloadProgress      float64
	TotalDownloadProgress float64
	TransferRate          string
	EstimatedRemaining    string
	ButtonAvailability    ButtonAvailability
	ConnectionProgresses  []ConnectionProgress
	AssembleProgress      *float64
}

// WorkerDetailsStatus is the fine-grained status a worker reports
// alongside its coarse Status.
type WorkerDetailsStatus int

const (
	DetailsConnecting WorkerDetailsStatus = iota
	DetailsDownloading
	DetailsPaused
	DetailsCanceled
	DetailsConnectionComplete
	DetailsError
)

func (d WorkerDetailsStatus) String() string {
	switch d {
	case DetailsConnecting:
		return "connecting"
	case DetailsDownloading:
		return "downloading"
	case DetailsPaused:
		return "paused"
	case DetailsCanceled:
		return "canceled"
	case DetailsConnectionComplete:
		return "connectionComplete"
	case DetailsError:
		return "error"
	default:
		return "unknown"
	}
}

// WorkerStatus is the coarse status surfaced in DownloadProgressMessage and
// in the aggregated ProgressMessage.
type WorkerStatus int

const (
	WorkerConnecting WorkerStatus = iota
	WorkerConnectionComplete
	WorkerDownloading
)

func (s WorkerStatus) String() string {
	switch s {
	case WorkerConnecting:
		return "connecting"
	case WorkerConnectionComplete:
		return "connectionComplete"
	case WorkerDownloading:
		return "downloading"
	default:
		return "unknown"
	}
}

// WorkerMessage is the sum type over everything a worker can send the
// coordinator. Exactly one of the embedded pointer fields is non-nil;
// callers switch on Kind.
type WorkerMessageKind int

const (
	KindProgress WorkerMessageKind = iota
	KindSegmentResponse
	KindHandshake
	KindLog
)

// InternalSegmentMessage tags a ConnectionSegmentMessage's outcome.
type InternalSegmentMessage int

const (
	RefreshSegmentSuccess InternalSegmentMessage = iota
	OverlappingRefreshSegment
	RefreshSegmentRefused
	ReuseConnectionRefreshSegmentRefused
)

// DownloadProgressMessage is a worker's periodic progress report.
type DownloadProgressMessage struct {
	ConnectionNumber             int
	Status                       WorkerStatus
	DetailsStatus                WorkerDetailsStatus
	TotalDownloadProgress        float64
	TotalConnectionWriteProgress float64
	TotalReceivedBytes           int64
	BytesTransferRate            float64
	ButtonAvailability           ButtonAvailability
	CompletionSignal             bool
	Segment                      *segment.Segment
}

// ConnectionSegmentMessage is a worker's reply to refreshSegment or
// refreshSegmentReuseConnection. ConnectionNumber identifies the donor
// worker that sent it, letting the coordinator look up the SplitResult it
// recorded when it issued the refresh.
type ConnectionSegmentMessage struct {
	ConnectionNumber   int
	InternalMessage    InternalSegmentMessage
	RequestedSegment   segment.Segment
	RefreshedStartByte int64
	RefreshedEndByte   int64
	ValidNewStartByte  int64
	ValidNewEndByte    int64
	ReuseConnection    bool
}

// ConnectionHandshake is a worker's acknowledgment that it is live and
// owns its assigned segment.
type ConnectionHandshake struct {
	NewConnectionNumber int
	ReuseConnection     bool
}

// LogMessage is free-form diagnostic text from a worker.
type LogMessage struct {
	Log string
}

// WorkerMessage wraps exactly one of the four message variants above. UID
// identifies the download it belongs to, letting the coordinator fan many
// workers' channels into a single inbox without losing provenance.
type WorkerMessage struct {
	UID       string
	Kind      WorkerMessageKind
	Progress  *DownloadProgressMessage
	Segment   *ConnectionSegmentMessage
	Handshake *ConnectionHandshake
	Log       *LogMessage
}
