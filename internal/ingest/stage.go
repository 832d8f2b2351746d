package ingest

import "fmt"

// Stage is the position of a run in the ingestion state machine.
//
//	pending ──► rate_checked ──► fetched ──► normalized ──► deduped ──► persisted ──► done
//	   │                            │
//	   └────────────────────────────┴──► failed
//
// done and failed are terminal.
type Stage string

const (
	StagePending     Stage = "pending"
	StageRateChecked Stage = "rate_checked"
	StageFetched     Stage = "fetched"
	StageNormalized  Stage = "normalized"
	StageDeduped     Stage = "deduped"
	StagePersisted   Stage = "persisted"
	StageDone        Stage = "done"
	StageFailed      Stage = "failed"
)

// validTransitions lists every allowed (from → to) pair. A rate-limited run
// fails from pending, a misconfigured one from rate_checked, and an adapter
// error from fetched.
var validTransitions = map[Stage][]Stage{
	StagePending:     {StageRateChecked, StageFailed},
	StageRateChecked: {StageFetched, StageFailed},
	StageFetched:     {StageNormalized, StageFailed},
	StageNormalized:  {StageDeduped},
	StageDeduped:     {StagePersisted},
	StagePersisted:   {StageDone},
}

// ParseStage converts a raw string to a Stage.
func ParseStage(s string) (Stage, error) {
	st := Stage(s)
	switch st {
	case StagePending, StageRateChecked, StageFetched, StageNormalized,
		StageDeduped, StagePersisted, StageDone, StageFailed:
		return st, nil
	}
	return "", fmt.Errorf("unknown run stage %q", s)
}

// IsTransitionAllowed reports whether a run may move from → to.
func IsTransitionAllowed(from, to Stage) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether s has no outgoing transitions.
func IsTerminal(s Stage) bool { return s == StageDone || s == StageFailed }
