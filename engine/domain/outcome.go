package domain

import (
	"fmt"
	"strings"
)

// Status is the result of one unit of work (a chapter, a page, an embedding).
type Status string

const (
	StatusImported Status = "imported"
	StatusSkipped  Status = "skipped"
	StatusFailed   Status = "failed"
)

// Outcome reports what happened to a single unit. Failures never propagate
// past the unit boundary; they are surfaced here instead.
type Outcome struct {
	Key    string `json:"key"`
	Status Status `json:"status"`
	Reason string `json:"reason,omitempty"`
	Err    error  `json:"-"`
}

// Imported returns a successful outcome.
func Imported(key string) Outcome { return Outcome{Key: key, Status: StatusImported} }

// Skipped returns an outcome for a unit that needed no work.
func Skipped(key, reason string) Outcome {
	return Outcome{Key: key, Status: StatusSkipped, Reason: reason}
}

// Failed returns an outcome carrying the error that stopped the unit.
func Failed(key string, err error) Outcome {
	o := Outcome{Key: key, Status: StatusFailed, Err: err}
	if err != nil {
		o.Reason = err.Error()
	}
	return o
}

// Tally counts outcomes per status.
type Tally struct {
	Imported int `json:"imported"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
}

// Add records one outcome.
func (t *Tally) Add(o Outcome) {
	switch o.Status {
	case StatusImported:
		t.Imported++
	case StatusSkipped:
		t.Skipped++
	case StatusFailed:
		t.Failed++
	}
}

// Total is the number of outcomes recorded.
func (t Tally) Total() int { return t.Imported + t.Skipped + t.Failed }

func (t Tally) String() string {
	return fmt.Sprintf("imported=%d skipped=%d failed=%d", t.Imported, t.Skipped, t.Failed)
}

// TallyOf aggregates a slice of outcomes.
func TallyOf(outcomes []Outcome) Tally {
	var t Tally
	for _, o := range outcomes {
		t.Add(o)
	}
	return t
}

// FailureSummary lists failed keys and reasons, one per line.
func FailureSummary(outcomes []Outcome) string {
	var b strings.Builder
	for _, o := range outcomes {
		if o.Status != StatusFailed {
			continue
		}
		fmt.Fprintf(&b, "%s: %s\n", o.Key, o.Reason)
	}
	return b.String()
}
