package policy

// CallContext carries the mutable per-call state threaded through the
// pipeline steps. One call-setup event owns exactly one CallContext and
// it is touched by a single goroutine, so no locking is needed.
type CallContext struct {
	// CallID is the host's unique call identifier.
	CallID string

	// CallerIDNum is the presented caller number.
	CallerIDNum string

	// CallerIDName is the presented caller display name.
	CallerIDName string

	// DialedNumber is the raw destination as dialed.
	DialedNumber string

	// AccountID is the billing account; the account resolver may replace it.
	AccountID string

	// CanonicalNumber is filled by the normalizer.
	CanonicalNumber string
}

// newCallContext creates the per-call state from a sanity-checked event.
func newCallContext(ev Event) *CallContext {
	return &CallContext{
		CallID:       ev.CallID,
		CallerIDNum:  ev.CallerIDNum,
		CallerIDName: ev.CallerIDName,
		DialedNumber: ev.DialedNumber,
		AccountID:    ev.AccountID,
	}
}
