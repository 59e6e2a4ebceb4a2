package source

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Checkpoint records where a file-sequence source left off, so a restarted
// supervisor resumes the sequence instead of replaying it from the first
// frame. Only file-backed sources use it; live sources have no position to
// resume.
type Checkpoint struct {
	SessionEpoch int    `json:"session_epoch"`
	LastSeq      uint64 `json:"last_seq"`
}

// LoadCheckpoint reads the checkpoint at path. A missing file yields the
// zero checkpoint and no error (fresh start).
func LoadCheckpoint(path string) (Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Checkpoint{}, nil
		}
		return Checkpoint{}, fmt.Errorf("source: reading checkpoint %s: %w", path, err)
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return Checkpoint{}, fmt.Errorf("source: parsing checkpoint %s: %w", path, err)
	}
	return cp, nil
}

// SaveCheckpoint atomically rewrites the checkpoint at path.
func SaveCheckpoint(path string, cp Checkpoint) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("source: creating checkpoint dir %s: %w", dir, err)
	}
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("source: encoding checkpoint: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("source: writing checkpoint temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("source: renaming checkpoint into place: %w", err)
	}
	return nil
}
