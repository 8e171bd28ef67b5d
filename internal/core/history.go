package core

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/AminBhst/brisk-engine/internal/config"
)

func historyPath() string {
	return filepath.Join(config.GetConfigDir(), "history.json")
}

func loadHistory() (*masterList, error) {
	data, err := os.ReadFile(historyPath())
	if err != nil {
		if os.IsNotExist(err) {
			return &masterList{}, nil
		}
		return nil, fmt.Errorf("core: read history: %w", err)
	}
	var list masterList
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("core: unmarshal history: %w", err)
	}
	return &list, nil
}

func saveHistory(list *masterList) error {
	path := historyPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("core: create history dir: %w", err)
	}
	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return fmt.Errorf("core: marshal history: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("core: write history: %w", err)
	}
	return os.Rename(tmp, path)
}

// upsertHistoryEntry adds entry to the history list, replacing any
// existing row with the same ID, and trims the list to retention rows
// (oldest dropped first).
func upsertHistoryEntry(entry DownloadEntry, retention int) error {
	list, err := loadHistory()
	if err != nil {
		list = &masterList{}
	}

	found := false
	for i, e := range list.Downloads {
		if e.ID == entry.ID {
			list.Downloads[i] = entry
			found = true
			break
		}
	}
	if !found {
		list.Downloads = append(list.Downloads, entry)
	}

	if retention > 0 && len(list.Downloads) > retention {
		list.Downloads = list.Downloads[len(list.Downloads)-retention:]
	}

	return saveHistory(list)
}

func removeHistoryEntry(id string) error {
	list, err := loadHistory()
	if err != nil {
		return nil
	}
	out := make([]DownloadEntry, 0, len(list.Downloads))
	for _, e := range list.Downloads {
		if e.ID != id {
			out = append(out, e)
		}
	}
	list.Downloads = out
	return saveHistory(list)
}
