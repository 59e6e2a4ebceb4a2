// Package reporter implements the event reporter: a single-threaded
// dispatcher that serializes ViolationReports, posts them to the backend,
// retries with jittered exponential backoff, and persists undelivered
// records to disk.
//
// The spool is newline-delimited JSON, one record per line, rewritten
// atomically (write to temp, rename) so a crash mid-flush never leaves a
// half-written file.
package reporter

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/odsyjr2/detection-supervisor/internal/model"
)

// LoadSpool reads a newline-delimited JSON file of ReporterRecords. A
// missing file is not an error (fresh start); a malformed line is skipped
// and logged by the caller via the returned warnings slice.
func LoadSpool(path string) ([]model.ReporterRecord, []error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, []error{fmt.Errorf("reporter: opening spool %s: %w", path, err)}
	}
	defer f.Close()

	var records []model.ReporterRecord
	var warnings []error
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec model.ReporterRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			warnings = append(warnings, fmt.Errorf("reporter: skipping malformed spool line: %w", err))
			continue
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		warnings = append(warnings, fmt.Errorf("reporter: reading spool %s: %w", path, err))
	}
	return records, warnings
}

// SaveSpool atomically rewrites path with records as newline-delimited
// JSON: write to a temp file in the same directory, then rename.
func SaveSpool(path string, records []model.ReporterRecord) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("reporter: creating spool dir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("reporter: creating temp spool file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once renamed

	w := bufio.NewWriter(tmp)
	enc := json.NewEncoder(w)
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			tmp.Close()
			return fmt.Errorf("reporter: encoding spool record: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("reporter: flushing spool: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("reporter: syncing spool: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("reporter: closing spool temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("reporter: renaming spool into place: %w", err)
	}
	return nil
}

// AppendDeadLetter appends one record to the dead-letter spool, used when a
// record exhausts its retry budget. Appends rather than
// rewrites since dead-lettered records are never retried or reread except
// for audit.
func AppendDeadLetter(path string, record model.ReporterRecord) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("reporter: creating dead-letter dir %s: %w", dir, err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("reporter: opening dead-letter spool %s: %w", path, err)
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	return enc.Encode(record)
}
