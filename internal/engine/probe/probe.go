// Package probe implements discovery of a download's metadata before any
// worker is spawned: content length, filename, and whether the server
// supports byte-range requests at all.
package probe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"time"

	"github.com/vfaronov/httpheader"
)

// Timeout bounds a single HEAD probe.
const Timeout = 10 * time.Second

// ErrUnsupportedSource is returned when the server's response carries no
// usable content length, which makes range-splitting impossible.
var ErrUnsupportedSource = errors.New("probe: source has no content length")

// FileInfo is what a caller needs to build a DownloadItem and its
// DownloadSettings before the first worker starts.
type FileInfo struct {
	FileName      string
	ContentLength int64
	SupportsPause bool
}

// Probe issues a HEAD request against rawURL and extracts FileInfo from
// the response headers. client may be nil, in which case http.DefaultClient
// is used.
func Probe(ctx context.Context, client *http.Client, rawURL string) (FileInfo, error) {
	if client == nil {
		client = http.DefaultClient
	}

	ctx, cancel := context.WithTimeout(ctx, Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return FileInfo{}, fmt.Errorf("probe: build request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return FileInfo{}, fmt.Errorf("probe: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return FileInfo{}, fmt.Errorf("probe: unexpected status %d", resp.StatusCode)
	}

	contentLength := resp.ContentLength
	if contentLength <= 0 {
		if v := resp.Header.Get("Content-Length"); v != "" {
			contentLength, _ = strconv.ParseInt(v, 10, 64)
		}
	}
	if contentLength <= 0 {
		return FileInfo{}, ErrUnsupportedSource
	}

	name, err := filenameOf(resp.Header, rawURL)
	if err != nil {
		return FileInfo{}, err
	}

	return FileInfo{
		FileName:      name,
		ContentLength: contentLength,
		SupportsPause: resp.Header.Get("Accept-Ranges") == "bytes",
	}, nil
}

// ProbeAny probes each of urls in order and returns the FileInfo and URL of
// the first one that succeeds. It exists for the mirror-list case: a caller
// that doesn't care which mirror serves the file, only that one does.
func ProbeAny(ctx context.Context, client *http.Client, urls []string) (string, FileInfo, error) {
	if len(urls) == 0 {
		return "", FileInfo{}, errors.New("probe: no urls given")
	}

	var lastErr error
	for _, u := range urls {
		info, err := Probe(ctx, client, u)
		if err == nil {
			return u, info, nil
		}
		lastErr = err
	}
	return "", FileInfo{}, fmt.Errorf("probe: all %d mirrors failed: %w", len(urls), lastErr)
}

// filenameOf prefers Content-Disposition's filename parameter, falling back
// to the URL's last path segment. Either way the result is percent-decoded.
func filenameOf(header http.Header, rawURL string) (string, error) {
	if _, params := httpheader.ContentDisposition(header); params["filename"] != "" {
		return decodeName(params["filename"]), nil
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("probe: parse url: %w", err)
	}
	return decodeName(path.Base(u.Path)), nil
}

func decodeName(name string) string {
	decoded, err := url.QueryUnescape(name)
	if err != nil {
		return name
	}
	return decoded
}
