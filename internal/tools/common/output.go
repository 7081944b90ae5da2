package common

import (
	"encoding/json"
	"io"
	"time"
)

// CIResult is the single JSON document a tool prints with --ci, so pipelines
// can gate on "ok" without scraping the interactive view.
type CIResult struct {
	OK         bool     `json:"ok"`
	Title      string   `json:"title"`
	Details    []string `json:"details,omitempty"`
	Error      string   `json:"error,omitempty"`
	DurationMS int64    `json:"duration_ms"`
}

func PrintCIResult(w io.Writer, title string, details []string, elapsed time.Duration, err error) error {
	result := CIResult{OK: err == nil, Title: title, Details: details, DurationMS: elapsed.Milliseconds()}
	if err != nil {
		result.Error = err.Error()
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}
