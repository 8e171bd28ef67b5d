package core

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// downloadRequest is the JSON body for POST /download.
type downloadRequest struct {
	URL      string   `json:"url"`
	Path     string   `json:"path"`
	Filename string   `json:"filename"`
	Mirrors  []string `json:"mirrors"`
}

// NewServeMux wires a DownloadService behind the small HTTP surface
// RemoteDownloadService expects on the other end: a JSON request/response
// API for download lifecycle actions, plus a Server-Sent Events stream for
// everything the engine publishes.
func NewServeMux(service DownloadService) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/download", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			handleAdd(service, w, r)
		case http.MethodGet:
			handleGetStatus(service, w, r)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/list", func(w http.ResponseWriter, r *http.Request) { handleList(service, w, r) })
	mux.HandleFunc("/history", func(w http.ResponseWriter, r *http.Request) { handleHistory(service, w, r) })
	mux.HandleFunc("/pause", func(w http.ResponseWriter, r *http.Request) { handleAction(service.Pause, w, r) })
	mux.HandleFunc("/resume", func(w http.ResponseWriter, r *http.Request) { handleAction(service.Resume, w, r) })
	mux.HandleFunc("/delete", func(w http.ResponseWriter, r *http.Request) { handleAction(service.Delete, w, r) })
	mux.HandleFunc("/events", func(w http.ResponseWriter, r *http.Request) { handleEvents(service, w, r) })
	return mux
}

func handleAdd(service DownloadService, w http.ResponseWriter, r *http.Request) {
	var req downloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}
	id, err := service.Add(req.URL, req.Path, req.Filename, req.Mirrors)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]string{"id": id})
}

func handleGetStatus(service DownloadService, w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	status, err := service.GetStatus(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(status)
}

func handleList(service DownloadService, w http.ResponseWriter, r *http.Request) {
	statuses, err := service.List()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(statuses)
}

func handleHistory(service DownloadService, w http.ResponseWriter, r *http.Request) {
	entries, err := service.History()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(entries)
}

func handleAction(action func(id string) error, w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "missing id", http.StatusBadRequest)
		return
	}
	if err := action(id); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func handleEvents(service DownloadService, w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch, cancel, _ := service.StreamEvents(r.Context())
	defer cancel()

	for {
		select {
		case <-r.Context().Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			writeSSE(w, msg)
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, msg interface{}) {
	event := "status"
	switch msg.(type) {
	case QueuedEvent:
		event = "queued"
	case RemovedEvent:
		event = "removed"
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
}
