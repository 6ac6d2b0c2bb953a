package threshold

import "time"

// Sample is the outcome of one learning batch.
type Sample struct {
	Timestamp       time.Time `json:"timestamp" yaml:"timestamp"`
	TotalRules      int       `json:"totalRules" yaml:"total_rules"`
	ApprovedRules   int       `json:"approvedRules" yaml:"approved_rules"`
	AutoApproveRate float64   `json:"autoApproveRate" yaml:"auto_approve_rate"`
	AvgQualityScore float64   `json:"avgQualityScore" yaml:"avg_quality_score"`
	AvgConfidence   float64   `json:"avgConfidence" yaml:"avg_confidence"`
}

// Window is a fixed-capacity FIFO of samples. Pushing onto a full window
// evicts the oldest sample.
type Window struct {
	buf   []Sample
	start int
	n     int
}

// NewWindow creates a window holding at most capacity samples.
func NewWindow(capacity int) *Window {
	if capacity < 1 {
		capacity = 1
	}
	return &Window{buf: make([]Sample, capacity)}
}

// Push appends s.
func (w *Window) Push(s Sample) {
	if w.n < len(w.buf) {
		w.buf[(w.start+w.n)%len(w.buf)] = s
		w.n++
		return
	}
	w.buf[w.start] = s
	w.start = (w.start + 1) % len(w.buf)
}

// Len is the number of samples held.
func (w *Window) Len() int { return w.n }

// Cap is the window capacity.
func (w *Window) Cap() int { return len(w.buf) }

// Samples returns the held samples, oldest first.
func (w *Window) Samples() []Sample {
	out := make([]Sample, w.n)
	for i := range w.n {
		out[i] = w.buf[(w.start+i)%len(w.buf)]
	}
	return out
}

// Last returns up to k of the newest samples, oldest first.
func (w *Window) Last(k int) []Sample {
	all := w.Samples()
	if k < len(all) {
		return all[len(all)-k:]
	}
	return all
}
