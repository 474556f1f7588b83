package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// StringListReport is an append-only list of lines written out at the end of
// a run, e.g. every archive URL fetched together with its digest.
type StringListReport struct {
	Title string

	mu    sync.Mutex
	items []string
}

var GlobalFetchReport = &StringListReport{Title: "FetchedArchives"}

// Add appends one line to the report.
func (r *StringListReport) Add(item string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, item)
}

// Items returns a copy of the recorded lines.
func (r *StringListReport) Items() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.items))
	copy(out, r.items)
	return out
}

// WriteToFile appends the report to <dir>/fetchurl-<title>.txt and resets it.
// It returns the path written.
func (r *StringListReport) WriteToFile(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating report directory: %w", err)
	}

	title := r.Title
	if title == "" {
		title = "untitled"
	}
	safeTitle := make([]rune, 0, len(title))
	for _, c := range title {
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') {
			safeTitle = append(safeTitle, c)
		} else {
			safeTitle = append(safeTitle, '_')
		}
	}

	reportFullPath := filepath.Join(dir, fmt.Sprintf("fetchurl-%s.txt", string(safeTitle)))
	f, err := os.OpenFile(reportFullPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return "", fmt.Errorf("opening report file: %w", err)
	}
	defer f.Close()

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, item := range r.items {
		if _, err := fmt.Fprintln(f, item); err != nil {
			return "", fmt.Errorf("writing report file: %w", err)
		}
	}
	r.items = nil
	if _, err := fmt.Fprintln(f); err != nil {
		return "", fmt.Errorf("writing new line to report file: %w", err)
	}
	return reportFullPath, nil
}
