package models

import (
	"time"
)

// Item is one unit of work: a file on disk plus the stable identity key used
// for progress tracking. Items are immutable once enumerated.
type Item struct {
	Path string `json:"path"`
	Key  string `json:"key"`
}

// TextLine is a single recognized line of text
type TextLine struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	X          int     `json:"x,omitempty"`
	Y          int     `json:"y,omitempty"`
	Width      int     `json:"width,omitempty"`
	Height     int     `json:"height,omitempty"`
}

// Result is the payload produced by an engine for one item. The batch core
// never inspects it beyond handing it to the configured sink.
type Result struct {
	Source      string                 `json:"source"`
	Lines       []TextLine             `json:"lines"`
	ProcessedAt time.Time              `json:"processedAt"`
	Elapsed     time.Duration          `json:"elapsedNs"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// FullText joins all recognized lines with newlines.
func (r *Result) FullText() string {
	if len(r.Lines) == 0 {
		return ""
	}
	out := r.Lines[0].Text
	for _, line := range r.Lines[1:] {
		out += "\n" + line.Text
	}
	return out
}

// AverageConfidence returns the mean line confidence, 0 for empty results.
func (r *Result) AverageConfidence() float64 {
	if len(r.Lines) == 0 {
		return 0
	}
	var total float64
	for _, line := range r.Lines {
		total += line.Confidence
	}
	return total / float64(len(r.Lines))
}
