package pipeline

import (
	"time"
)

// StageReport is the outcome of one stage of one circuit.
type StageReport struct {
	Circuit  string
	Stage    string
	Outcome  Outcome
	Duration time.Duration
	Err      error
}

// Summary collects every stage report of a run.
type Summary struct {
	RunID     string
	Circuits  []string
	Stages    []StageReport
	Published map[string][]string
}

func newSummary(runID string) *Summary {
	return &Summary{RunID: runID, Published: make(map[string][]string)}
}

func (s *Summary) add(r StageReport) {
	s.Stages = append(s.Stages, r)
}

// Outcome returns the outcome of a stage, or "" if it never started.
func (s *Summary) Outcome(circuit, stage string) Outcome {
	for _, r := range s.Stages {
		if r.Circuit == circuit && r.Stage == stage {
			return r.Outcome
		}
	}
	return ""
}

// Count returns the number of stages with the given outcome.
func (s *Summary) Count(outcome Outcome) int {
	n := 0
	for _, r := range s.Stages {
		if r.Outcome == outcome {
			n++
		}
	}
	return n
}
