package policy

import "errors"

// ErrSanityCheckFailed is returned when the call event is malformed:
// empty or over-long dialed number, or a missing/invalid account id.
// The host should treat it as "do nothing, continue call".
var ErrSanityCheckFailed = errors.New("sanity check failed")

// Outcome classifies the overall result of a pipeline run.
type Outcome string

const (
	// OutcomeAllowed means the call proceeds.
	OutcomeAllowed Outcome = "allowed"
	// OutcomeBlocked means the call must be terminated.
	OutcomeBlocked Outcome = "blocked"
	// OutcomeAbstain means the event was not a real call (special routing
	// token or failed outgoing spool); the pipeline did nothing.
	OutcomeAbstain Outcome = "abstain"
	// OutcomeSanityFailed means the event was malformed.
	OutcomeSanityFailed Outcome = "sanity_failed"
)

// Event is one call-setup event handed to the pipeline by the host runtime.
type Event struct {
	// CallID uniquely identifies the call.
	CallID string

	// CallerIDNum is the presented caller number.
	CallerIDNum string

	// CallerIDName is the presented caller display name.
	CallerIDName string

	// DialedNumber is the raw destination as dialed.
	DialedNumber string

	// AccountID is the billing account the host currently attributes the
	// call to. The pipeline may re-map it.
	AccountID string

	// FailedOutgoingSpool marks events originating from a failed outgoing
	// spool; such events are not real calls and are abstained.
	FailedOutgoingSpool bool
}

// CallerID is a (number, name) pair to present as the call's caller identity.
type CallerID struct {
	Number string `json:"number"`
	Name   string `json:"name"`
}

// Decision is the pipeline's verdict for one call-setup event. Side
// effects are instructions to the host runtime, never applied here.
type Decision struct {
	// Outcome classifies the run.
	Outcome Outcome `json:"outcome"`

	// Terminate instructs the host to tear the call down.
	Terminate bool `json:"terminate"`

	// Record instructs the host to record the call.
	Record bool `json:"record"`

	// RecordingTarget is the file path the host's recorder should write
	// to when Record is set.
	RecordingTarget string `json:"recording_target,omitempty"`

	// CallerID, when non-nil, replaces the presented caller identity.
	CallerID *CallerID `json:"caller_id,omitempty"`

	// AccountID is the billing account the call was finally attributed to.
	AccountID string `json:"account_id,omitempty"`

	// CanonicalNumber is the destination in canonical international form.
	CanonicalNumber string `json:"canonical_number,omitempty"`
}
