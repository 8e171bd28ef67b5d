package probe

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/AminBhst/brisk-engine/internal/testutil"
)

func TestProbe_ReadsContentLengthAndRangeSupport(t *testing.T) {
	server := testutil.NewMockServerT(t,
		testutil.WithFileSize(5*1024*1024),
		testutil.WithRangeSupport(true),
		testutil.WithFilename("movie.mkv"),
	)
	defer server.Close()

	info, err := Probe(context.Background(), nil, server.URL())
	require.NoError(t, err)
	require.Equal(t, int64(5*1024*1024), info.ContentLength)
	require.True(t, info.SupportsPause)
	require.Equal(t, "movie.mkv", info.FileName)
}

func TestProbe_FallsBackToURLPathWhenNoContentDisposition(t *testing.T) {
	server := testutil.NewMockServerT(t,
		testutil.WithFileSize(1024),
		testutil.WithRangeSupport(false),
		testutil.WithFilename(""),
	)
	defer server.Close()

	info, err := Probe(context.Background(), nil, server.URL()+"/archive%20copy.zip")
	require.NoError(t, err)
	require.Equal(t, "archive copy.zip", info.FileName)
}

func TestProbe_MissingContentLengthIsUnsupported(t *testing.T) {
	server := testutil.NewHTTPServerT(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	_, err := Probe(context.Background(), nil, server.URL())
	require.ErrorIs(t, err, ErrUnsupportedSource)
}

func TestProbe_ServerErrorStatusFails(t *testing.T) {
	server := testutil.NewHTTPServerT(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer server.Close()

	_, err := Probe(context.Background(), nil, server.URL())
	require.Error(t, err)
}
