// Package coordinator implements the engine's central state machine: the
// single goroutine that owns every download's segment tree, dispatches
// commands to workers, and aggregates their progress. It never shares
// memory with a worker — everything crosses the boundary as a message on
// one of three channels (see worker.Handle and protocol.WorkerMessage).
package coordinator

import (
	"net/http"
	"time"

	"github.com/AminBhst/brisk-engine/internal/engine/protocol"
	"github.com/AminBhst/brisk-engine/internal/engine/segment"
	"github.com/AminBhst/brisk-engine/internal/engine/tempstore"
	"github.com/AminBhst/brisk-engine/internal/engine/worker"
	"github.com/AminBhst/brisk-engine/internal/enginelog"
)

// Timer periods, named for the components in spec.md §4.3/§6. These are
// the defaults; EngineConfig lets a caller (internal/config) override them
// without touching this package.
const (
	dynamicSpawnPeriod        = 2 * time.Second
	dynamicReusePeriod        = 2 * time.Second
	connectionResetPeriod     = 4 * time.Second
	buttonNotifyPeriod        = 1 * time.Second
	buttonAvailabilityWaitSec = 2.0
	// nearCompletionETASeconds is the threshold below which dynamic spawn
	// stops creating new connections: the download is close enough to
	// done that another split wouldn't pay for itself.
	nearCompletionETASeconds = 5
)

// EngineConfig holds the coordinator's timer periods, each overridable by
// internal/config so an operator can tune them without a code change. A
// zero field falls back to the package default.
type EngineConfig struct {
	SpawnPeriod               time.Duration
	ReusePeriod               time.Duration
	ResetPeriod               time.Duration
	ButtonPeriod              time.Duration
	ButtonAvailabilityWaitSec float64
	NearCompletionETASeconds  float64
}

func (c EngineConfig) withDefaults() EngineConfig {
	if c.SpawnPeriod <= 0 {
		c.SpawnPeriod = dynamicSpawnPeriod
	}
	if c.ReusePeriod <= 0 {
		c.ReusePeriod = dynamicReusePeriod
	}
	if c.ResetPeriod <= 0 {
		c.ResetPeriod = connectionResetPeriod
	}
	if c.ButtonPeriod <= 0 {
		c.ButtonPeriod = buttonNotifyPeriod
	}
	if c.ButtonAvailabilityWaitSec <= 0 {
		c.ButtonAvailabilityWaitSec = buttonAvailabilityWaitSec
	}
	if c.NearCompletionETASeconds <= 0 {
		c.NearCompletionETASeconds = nearCompletionETASeconds
	}
	return c
}

// spawnFunc starts one worker and returns the coordinator's handle to it.
// It is a field rather than a free function so tests can substitute a
// fake worker that never touches the network.
type spawnFunc func(uid string, connNum int, seg segment.Segment, item protocol.DownloadItem, settings protocol.DownloadSettings, prevWritten int64) *worker.Handle

// Engine is the process-wide coordinator: one goroutine, a registry of
// in-flight downloads, and the four periodic timers spec.md §4.3
// describes. The zero value is not usable; construct with NewEngine.
type Engine struct {
	store  *tempstore.Store
	client *http.Client

	commandsIn  chan protocol.CoordinatorCommand
	workerInbox chan protocol.WorkerMessage
	progressOut chan protocol.ProgressMessage

	downloads map[string]*downloadState
	spawn     spawnFunc
	now       func() time.Time
	cfg       EngineConfig

	logs map[string]*enginelog.Buffer
}

// NewEngine constructs an Engine rooted at store. client is used for every
// worker's HTTP requests unless overridden by a test's spawn func. cfg may
// be nil, in which case every timer period uses its package default.
func NewEngine(store *tempstore.Store, client *http.Client, cfg *EngineConfig) *Engine {
	if client == nil {
		client = &http.Client{}
	}
	resolved := EngineConfig{}
	if cfg != nil {
		resolved = *cfg
	}
	e := &Engine{
		store:       store,
		client:      client,
		commandsIn:  make(chan protocol.CoordinatorCommand, 64),
		workerInbox: make(chan protocol.WorkerMessage, 256),
		progressOut: make(chan protocol.ProgressMessage, 64),
		downloads:   make(map[string]*downloadState),
		now:         time.Now,
		cfg:         resolved.withDefaults(),
		logs:        make(map[string]*enginelog.Buffer),
	}
	e.spawn = e.defaultSpawn
	return e
}

// Submit enqueues an external command (start, pause, cancel, ...) for the
// coordinator goroutine to process. It does not block the caller on the
// coordinator's own processing.
func (e *Engine) Submit(cmd protocol.CoordinatorCommand) {
	e.commandsIn <- cmd
}

// Messages returns the channel the coordinator publishes aggregated
// progress snapshots on.
func (e *Engine) Messages() <-chan protocol.ProgressMessage {
	return e.progressOut
}

// Run drives the coordinator's single event loop until stop is closed.
// Exactly one goroutine should ever call Run for a given Engine, per the
// engine's no-shared-memory ownership model.
func (e *Engine) Run(stop <-chan struct{}) {
	spawnTicker := time.NewTicker(e.cfg.SpawnPeriod)
	reuseTicker := time.NewTicker(e.cfg.ReusePeriod)
	resetTicker := time.NewTicker(e.cfg.ResetPeriod)
	buttonTicker := time.NewTicker(e.cfg.ButtonPeriod)
	defer spawnTicker.Stop()
	defer reuseTicker.Stop()
	defer resetTicker.Stop()
	defer buttonTicker.Stop()

	for {
		select {
		case <-stop:
			return
		case cmd := <-e.commandsIn:
			e.handleCommand(cmd)
		case msg := <-e.workerInbox:
			e.handleWorkerMessage(msg)
		case <-spawnTicker.C:
			e.onSpawnTick()
		case <-reuseTicker.C:
			e.onReuseTick()
		case <-resetTicker.C:
			e.onResetTick()
		case <-buttonTicker.C:
			e.onButtonTick()
		}
	}
}

func (e *Engine) defaultSpawn(uid string, connNum int, seg segment.Segment, item protocol.DownloadItem, settings protocol.DownloadSettings, prevWritten int64) *worker.Handle {
	cfg := worker.Config{
		MaxRetries: settings.MaxConnectionRetryCount,
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	handle := worker.Spawn(uid, connNum, seg, settings.BaseTempDir, cfg, e.client, e.workerInbox)
	connNumCopy := connNum
	handle.Send(protocol.CoordinatorCommand{
		Command:                     protocol.CmdStartInitial,
		DownloadItem:                item,
		Settings:                    settings,
		Segment:                     &seg,
		ConnectionNumber:            &connNumCopy,
		PreviouslyWrittenByteLength: prevWritten,
	})
	return handle
}

func (e *Engine) logBuffer(uid string) *enginelog.Buffer {
	buf, ok := e.logs[uid]
	if !ok {
		buf = enginelog.NewBuffer(200)
		e.logs[uid] = buf
	}
	return buf
}

func (e *Engine) handleCommand(cmd protocol.CoordinatorCommand) {
	switch cmd.Command {
	case protocol.CmdStart, protocol.CmdStartInitial:
		e.handleStart(cmd)
	case protocol.CmdPause:
		e.handlePause(cmd)
	case protocol.CmdCancel:
		e.handleCancel(cmd)
	case protocol.CmdResetConnection, protocol.CmdRefreshSegment, protocol.CmdRefreshSegmentReuseConnection, protocol.CmdStartReuseConnection:
		// These are coordinator-to-worker commands; an external caller
		// issuing one directly is a no-op here, since only the
		// coordinator's own timers and worker-message handlers drive
		// them (see timers.go and messages.go).
		enginelog.Warn("coordinator: ignored externally submitted %s for %s", cmd.Command, cmd.DownloadItem.UID)
	}
}
