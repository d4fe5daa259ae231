package ingest

// Outcome is the explicit result of processing one message. The orchestrator
// decides continuation policy centrally from these values instead of
// scattering catch-and-ignore recovery through the pipeline.
type Outcome int

const (
	// OutcomeIngested means a new email row and its links were written.
	OutcomeIngested Outcome = iota
	// OutcomeDuplicate means the fingerprint matched an existing email; only
	// the mailbox link was (idempotently) added.
	OutcomeDuplicate
	// OutcomeSkipped means the message was dropped by the configured filter.
	OutcomeSkipped
	// OutcomeFailed means the message contributed nothing; the failure was
	// logged and the run moved on.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeIngested:
		return "ingested"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}
