package core

// DownloadStatus is the transient status of an active or finished
// download, as surfaced to a CLI or HTTP client.
type DownloadStatus struct {
	ID          string  `json:"id"`
	URL         string  `json:"url"`
	Filename    string  `json:"filename"`
	DestPath    string  `json:"dest_path,omitempty"`
	TotalSize   int64   `json:"total_size"`
	Downloaded  int64   `json:"downloaded"`
	Progress    float64 `json:"progress"` // 0-1
	Speed       string  `json:"speed"`
	Status      string  `json:"status"` // "connecting", "connectionComplete", "downloading", "paused", "assembleComplete", "assembleFailed", "error"
	Error       string  `json:"error,omitempty"`
	ETA         string  `json:"eta,omitempty"`
	Connections int     `json:"connections"`
	AddedAt     int64   `json:"added_at"`
}

// DownloadEntry is one row of the on-disk history list: a paused or
// completed download the CLI can show without the engine running.
type DownloadEntry struct {
	ID          string `json:"id"`
	URL         string `json:"url"`
	DestPath    string `json:"dest_path"`
	Filename    string `json:"filename"`
	Status      string `json:"status"` // "paused" or "completed"
	TotalSize   int64  `json:"total_size"`
	Downloaded  int64  `json:"downloaded"`
	CompletedAt int64  `json:"completed_at"`
}

// masterList is the on-disk form of the history: every download recorded
// as paused or completed, trimmed to the configured retention.
type masterList struct {
	Downloads []DownloadEntry `json:"downloads"`
}
