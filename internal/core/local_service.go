package core

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AminBhst/brisk-engine/internal/config"
	"github.com/AminBhst/brisk-engine/internal/engine/coordinator"
	"github.com/AminBhst/brisk-engine/internal/engine/probe"
	"github.com/AminBhst/brisk-engine/internal/engine/protocol"
	"github.com/AminBhst/brisk-engine/internal/engine/tempstore"
	"github.com/AminBhst/brisk-engine/internal/enginelog"
)

// LocalDownloadService implements DownloadService directly atop a
// coordinator.Engine running in this process. It is the embedded
// counterpart to RemoteDownloadService, and the thing the headless server
// builds on.
type LocalDownloadService struct {
	settings *config.Settings
	engine   *coordinator.Engine

	mu    sync.RWMutex
	items map[string]protocol.DownloadItem // last known DownloadItem per uid
	last  map[string]protocol.ProgressMessage

	subsMu sync.Mutex
	subs   map[chan interface{}]struct{}

	stop   chan struct{}
	cancel context.CancelFunc
}

// NewLocalDownloadService starts the coordinator's Run loop in the
// background and begins fanning its progress channel out to subscribers.
func NewLocalDownloadService(settings *config.Settings) *LocalDownloadService {
	store := tempstore.New(settings.General.DefaultTempDir, settings.General.DefaultDownloadDir)
	engine := coordinator.NewEngine(store, &http.Client{}, settings.ToEngineConfig())

	ctx, cancel := context.WithCancel(context.Background())
	s := &LocalDownloadService{
		settings: settings,
		engine:   engine,
		items:    make(map[string]protocol.DownloadItem),
		last:     make(map[string]protocol.ProgressMessage),
		subs:     make(map[chan interface{}]struct{}),
		stop:     make(chan struct{}),
		cancel:   cancel,
	}

	go engine.Run(s.stop)
	go s.pump(ctx)
	return s
}

// pump drains the engine's outbound progress channel, updates the
// service's own snapshot cache, and fans each message out to every
// StreamEvents subscriber.
func (s *LocalDownloadService) pump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case pm, ok := <-s.engine.Messages():
			if !ok {
				return
			}
			s.mu.Lock()
			s.items[pm.DownloadItem.UID] = pm.DownloadItem
			s.last[pm.DownloadItem.UID] = pm
			s.mu.Unlock()

			if pm.Status == protocol.StatusAssembleComplete.String() || pm.Status == protocol.StatusPaused.String() {
				_ = upsertHistoryEntry(historyEntryFrom(pm), s.settings.General.HistoryRetention)
			}

			s.broadcast(StatusEvent{DownloadStatus: statusFromProgress(pm)})
		}
	}
}

func (s *LocalDownloadService) broadcast(msg interface{}) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for ch := range s.subs {
		select {
		case ch <- msg:
		default:
			// slow subscriber: drop rather than block the pump
		}
	}
}

func statusFromProgress(pm protocol.ProgressMessage) DownloadStatus {
	return DownloadStatus{
		ID:          pm.DownloadItem.UID,
		URL:         pm.DownloadItem.DownloadURL,
		Filename:    pm.DownloadItem.FileName,
		DestPath:    pm.DownloadItem.FilePath,
		TotalSize:   pm.DownloadItem.ContentLength,
		Downloaded:  int64(pm.TotalDownloadProgress * float64(pm.DownloadItem.ContentLength)),
		Progress:    pm.TotalDownloadProgress,
		Speed:       pm.TransferRate,
		Status:      pm.Status,
		ETA:         pm.EstimatedRemaining,
		Connections: len(pm.ConnectionProgresses),
	}
}

func historyEntryFrom(pm protocol.ProgressMessage) DownloadEntry {
	status := "paused"
	var completedAt int64
	if pm.Status == protocol.StatusAssembleComplete.String() {
		status = "completed"
		completedAt = time.Now().Unix()
	}
	return DownloadEntry{
		ID:          pm.DownloadItem.UID,
		URL:         pm.DownloadItem.DownloadURL,
		DestPath:    pm.DownloadItem.FilePath,
		Filename:    pm.DownloadItem.FileName,
		Status:      status,
		TotalSize:   pm.DownloadItem.ContentLength,
		Downloaded:  int64(pm.TotalDownloadProgress * float64(pm.DownloadItem.ContentLength)),
		CompletedAt: completedAt,
	}
}

// List returns every download the service currently has a progress
// snapshot for.
func (s *LocalDownloadService) List() ([]DownloadStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]DownloadStatus, 0, len(s.last))
	for _, pm := range s.last {
		out = append(out, statusFromProgress(pm))
	}
	return out, nil
}

// History returns the on-disk record of paused/completed downloads.
func (s *LocalDownloadService) History() ([]DownloadEntry, error) {
	list, err := loadHistory()
	if err != nil {
		return nil, err
	}
	return list.Downloads, nil
}

// Add probes rawURL (or, failing that, each of mirrors in order) for its
// metadata, assigns it a UUID, and submits a start command to the
// coordinator using whichever URL actually answered the probe.
func (s *LocalDownloadService) Add(rawURL string, path string, filename string, mirrors []string) (string, error) {
	candidates := append([]string{rawURL}, mirrors...)
	resolvedURL, info, err := probe.ProbeAny(context.Background(), http.DefaultClient, candidates)
	if err != nil {
		return "", fmt.Errorf("core: probe %s: %w", rawURL, err)
	}
	rawURL = resolvedURL
	if filename == "" {
		filename = info.FileName
	}
	if path == "" {
		path = s.settings.General.DefaultDownloadDir
	}

	uid := uuid.New().String()
	item := protocol.DownloadItem{
		UID:           uid,
		FileName:      filename,
		DownloadURL:   rawURL,
		ContentLength: info.ContentLength,
		Status:        protocol.StatusPending,
	}
	s.mu.Lock()
	s.items[uid] = item
	s.mu.Unlock()

	s.engine.Submit(protocol.CoordinatorCommand{
		Command:      protocol.CmdStart,
		DownloadItem: item,
		Settings:     s.settings.ToDownloadSettings(s.settings.General.DefaultTempDir, path),
	})
	s.broadcast(QueuedEvent{ID: uid, URL: rawURL})
	return uid, nil
}

func (s *LocalDownloadService) itemFor(id string) (protocol.DownloadItem, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[id]
	return item, ok
}

// Pause submits a pause command for id.
func (s *LocalDownloadService) Pause(id string) error {
	item, ok := s.itemFor(id)
	if !ok {
		return fmt.Errorf("core: unknown download %s", id)
	}
	s.engine.Submit(protocol.CoordinatorCommand{Command: protocol.CmdPause, DownloadItem: item})
	return nil
}

// Resume re-submits a start command for id, which the coordinator treats
// as a resume for any download already in its registry.
func (s *LocalDownloadService) Resume(id string) error {
	item, ok := s.itemFor(id)
	if !ok {
		return fmt.Errorf("core: unknown download %s", id)
	}
	s.engine.Submit(protocol.CoordinatorCommand{
		Command:      protocol.CmdStart,
		DownloadItem: item,
		Settings:     s.settings.ToDownloadSettings(s.settings.General.DefaultTempDir, s.settings.General.DefaultDownloadDir),
	})
	return nil
}

// Delete cancels id in the engine and removes it from the history list.
func (s *LocalDownloadService) Delete(id string) error {
	item, ok := s.itemFor(id)
	if !ok {
		return fmt.Errorf("core: unknown download %s", id)
	}
	s.engine.Submit(protocol.CoordinatorCommand{Command: protocol.CmdCancel, DownloadItem: item})

	s.mu.Lock()
	delete(s.items, id)
	delete(s.last, id)
	s.mu.Unlock()

	if err := removeHistoryEntry(id); err != nil {
		enginelog.Warn("core: remove history entry %s: %v", id, err)
	}
	s.broadcast(RemovedEvent{ID: id})
	return nil
}

// StreamEvents registers a new subscriber channel; the caller must invoke
// the returned cancel func (or cancel ctx) to unregister it.
func (s *LocalDownloadService) StreamEvents(ctx context.Context) (<-chan interface{}, func(), error) {
	ch := make(chan interface{}, 64)
	s.subsMu.Lock()
	s.subs[ch] = struct{}{}
	s.subsMu.Unlock()

	cancel := func() {
		s.subsMu.Lock()
		delete(s.subs, ch)
		s.subsMu.Unlock()
	}

	if ctx != nil {
		go func() {
			<-ctx.Done()
			cancel()
		}()
	}
	return ch, cancel, nil
}

// Publish broadcasts msg to every current subscriber, bypassing the engine.
func (s *LocalDownloadService) Publish(msg interface{}) error {
	s.broadcast(msg)
	return nil
}

// GetStatus returns the last known snapshot for id, if any.
func (s *LocalDownloadService) GetStatus(id string) (*DownloadStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pm, ok := s.last[id]
	if !ok {
		return nil, fmt.Errorf("core: unknown download %s", id)
	}
	status := statusFromProgress(pm)
	return &status, nil
}

// Shutdown stops the coordinator's Run loop and the progress pump.
func (s *LocalDownloadService) Shutdown() error {
	s.cancel()
	close(s.stop)
	return nil
}
