// Package history pages through vendor conversation transcripts.
//
// Vendor CLIs compact long conversations by writing a summary message and
// continuing from it. Messages before the most recent summary are superseded,
// so paging stops there instead of walking into stale context.
package history

import (
	"strings"

	"github.com/tessro/atelier/internal/backend"
)

// DefaultAnalysisMinLength is the size above which an "Analysis:" block is
// treated as a continuation summary.
const DefaultAnalysisMinLength = 500

// analysisMarker flags long analysis blocks written during compaction.
const analysisMarker = "Analysis:"

// DefaultMarkers are substrings that identify a continuation summary.
var DefaultMarkers = []string{
	"This session is being continued",
	"Conversation Flow Analysis",
	"Summary:",
	"conversation was summarized",
	"summarized below",
	"## Summary",
}

// Detector finds continuation summaries in a transcript.
type Detector struct {
	// Markers are matched as exact substrings of message content.
	Markers []string

	// AnalysisMinLength enables the "Analysis:" heuristic for content longer
	// than this many bytes. Zero disables it.
	AnalysisMinLength int
}

// NewDetector returns a detector using markers, or DefaultMarkers when
// markers is empty. A non-positive analysisMinLength selects the default.
func NewDetector(markers []string, analysisMinLength int) *Detector {
	if len(markers) == 0 {
		markers = DefaultMarkers
	}
	if analysisMinLength <= 0 {
		analysisMinLength = DefaultAnalysisMinLength
	}
	return &Detector{Markers: markers, AnalysisMinLength: analysisMinLength}
}

// DefaultDetector returns a detector with the default markers.
func DefaultDetector() *Detector {
	return NewDetector(nil, 0)
}

// IsContinuation reports whether content marks a continuation point.
func (d *Detector) IsContinuation(content string) bool {
	for _, m := range d.Markers {
		if m != "" && strings.Contains(content, m) {
			return true
		}
	}
	return d.AnalysisMinLength > 0 &&
		strings.Contains(content, analysisMarker) &&
		len(content) > d.AnalysisMinLength
}

// LastContinuation returns the index of the most recent continuation
// message, or -1 if there is none.
func (d *Detector) LastContinuation(messages []backend.HistoryMessage) int {
	for i := len(messages) - 1; i >= 0; i-- {
		if d.IsContinuation(messages[i].Content) {
			return i
		}
	}
	return -1
}

// Paginate returns one page of messages, most recent first.
//
// When a continuation marker exists, everything from the most recent marker
// onward is returned in a single page regardless of limit, and HasMore is
// false. Otherwise the window [offset, offset+limit) of the reversed history
// is returned. A non-positive limit yields an empty window; TotalCount and
// HasMore still describe the history.
func (d *Detector) Paginate(messages []backend.HistoryMessage, offset, limit int) backend.PaginatedHistory {
	if offset < 0 {
		offset = 0
	}

	if idx := d.LastContinuation(messages); idx >= 0 {
		page := reversed(messages[idx:])
		return backend.PaginatedHistory{
			Messages:   page,
			TotalCount: len(page),
			HasMore:    false,
			Offset:     0,
		}
	}

	all := reversed(messages)
	total := len(all)
	if offset > total {
		offset = total
	}
	if limit < 0 {
		limit = 0
	}
	end := min(offset+limit, total)
	return backend.PaginatedHistory{
		Messages:   all[offset:end],
		TotalCount: total,
		HasMore:    end < total,
		Offset:     offset,
	}
}

// Paginate pages messages with the default detector.
func Paginate(messages []backend.HistoryMessage, offset, limit int) backend.PaginatedHistory {
	return DefaultDetector().Paginate(messages, offset, limit)
}

func reversed(messages []backend.HistoryMessage) []backend.HistoryMessage {
	out := make([]backend.HistoryMessage, len(messages))
	for i, m := range messages {
		out[len(messages)-1-i] = m
	}
	return out
}
