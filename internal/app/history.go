package app

import (
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Dial/internal/domain"
)

// OutcomeRecorder is the boundary to the external call-history ledger.
// The core only reports that a call ended and for how long; persistence
// is the collaborator's problem.
type OutcomeRecorder interface {
	RecordOutcome(domain.Outcome)
}

// LogRecorder is the default sink: it just logs outcomes.
type LogRecorder struct{}

func (LogRecorder) RecordOutcome(o domain.Outcome) {
	log.Info().Str("module", "app.history").
		Str("call", string(o.CallID)).
		Str("caller", string(o.CallerID)).
		Str("receiver", string(o.ReceiverID)).
		Str("reason", string(o.Reason)).
		Bool("answered", o.Answered).
		Dur("duration", o.Duration).
		Msg("call outcome")
}
