// Package worker implements the per-connection download worker: an
// independently scheduled execution unit that owns one HTTP range request
// and writes its bytes to a dedicated temp file, coupled to the
// coordinator only through a pair of message channels.
package worker

import (
	"time"

	"github.com/AminBhst/brisk-engine/internal/engine/protocol"
	"github.com/AminBhst/brisk-engine/internal/engine/segment"
)

// Handle is the coordinator's local mirror of a live worker: its outbound
// channel plus everything the coordinator needs to remember about it
// between messages. The coordinator is the sole owner of a Handle; the
// worker goroutine only ever touches the channels.
type Handle struct {
	Commands chan<- protocol.CoordinatorCommand

	ConnectionNumber      int
	Segment               segment.Segment
	Status                protocol.WorkerStatus
	DetailsStatus         protocol.WorkerDetailsStatus
	ResetCount            int
	LastResponseTime      time.Time
	AwaitingResetResponse bool
	ButtonAvailability    protocol.ButtonAvailability
}

// NewHandle wraps the send side of a worker's command channel along with
// its starting segment and connection number.
func NewHandle(commands chan<- protocol.CoordinatorCommand, connNum int, seg segment.Segment) *Handle {
	return &Handle{
		Commands:         commands,
		ConnectionNumber: connNum,
		Segment:          seg,
		Status:           protocol.WorkerConnecting,
		DetailsStatus:    protocol.DetailsConnecting,
		LastResponseTime: time.Now(),
	}
}

// Send delivers a command to this worker's inbound channel. The channel
// is buffered (see Spawn), so Send returns at once while there is room;
// once the buffer is full it blocks until the worker drains a command.
func (h *Handle) Send(cmd protocol.CoordinatorCommand) {
	h.Commands <- cmd
}
