package core

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/AminBhst/brisk-engine/internal/config"
	"github.com/AminBhst/brisk-engine/internal/testutil"
)

func newTestService(t *testing.T) *LocalDownloadService {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	settings := config.DefaultSettings()
	settings.General.DefaultDownloadDir = t.TempDir()
	settings.General.DefaultTempDir = t.TempDir()

	service := NewLocalDownloadService(settings)
	t.Cleanup(func() { _ = service.Shutdown() })
	return service
}

func TestLocalDownloadService_AddRegistersDownload(t *testing.T) {
	server := testutil.NewMockServerT(t, testutil.WithFileSize(1024), testutil.WithFilename("payload.bin"))
	service := newTestService(t)

	id, err := service.Add(server.Server.URL, "", "", nil)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	_, ok := service.itemFor(id)
	require.True(t, ok)
}

func TestLocalDownloadService_StreamEventsReceivesQueued(t *testing.T) {
	server := testutil.NewMockServerT(t, testutil.WithFileSize(1024))
	service := newTestService(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, unsubscribe, err := service.StreamEvents(ctx)
	require.NoError(t, err)
	defer unsubscribe()

	id, err := service.Add(server.Server.URL, "", "", nil)
	require.NoError(t, err)

	select {
	case msg := <-ch:
		queued, ok := msg.(QueuedEvent)
		require.True(t, ok, "expected a QueuedEvent, got %T", msg)
		require.Equal(t, id, queued.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for queued event")
	}
}

func TestLocalDownloadService_GetStatusUnknownID(t *testing.T) {
	service := newTestService(t)
	_, err := service.GetStatus("does-not-exist")
	require.Error(t, err)
}

func TestLocalDownloadService_DeleteUnknownID(t *testing.T) {
	service := newTestService(t)
	err := service.Delete("does-not-exist")
	require.Error(t, err)
}

func TestLocalDownloadService_ListEmptyInitially(t *testing.T) {
	service := newTestService(t)
	list, err := service.List()
	require.NoError(t, err)
	require.Empty(t, list)
}
