package sip

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/emiago/sipgo/sip"

	"github.com/plugandtel/callpolicy/internal/config"
	"github.com/plugandtel/callpolicy/internal/policy"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// captureTx is a ServerTransaction that records every response the
// handler sends.
type captureTx struct {
	responses []*sip.Response
}

func (t *captureTx) Respond(res *sip.Response) error {
	t.responses = append(t.responses, res)
	return nil
}

func (t *captureTx) Acks() <-chan *sip.Request { return nil }
func (t *captureTx) Done() <-chan struct{}     { return nil }
func (t *captureTx) Err() error                { return nil }
func (t *captureTx) Terminate()                {}

// final returns the last response sent, after the 100 Trying.
func (t *captureTx) final(tb testing.TB) *sip.Response {
	tb.Helper()
	if len(t.responses) < 2 {
		tb.Fatalf("got %d responses, want at least trying + final", len(t.responses))
	}
	if t.responses[0].StatusCode != 100 {
		tb.Fatalf("first response = %d, want 100 Trying", t.responses[0].StatusCode)
	}
	return t.responses[len(t.responses)-1]
}

// fakeDecider returns a canned decision and remembers the last event.
type fakeDecider struct {
	decision *policy.Decision
	err      error
	lastEv   policy.Event
}

func (f *fakeDecider) Decide(ctx context.Context, ev policy.Event) (*policy.Decision, error) {
	f.lastEv = ev
	if f.err != nil {
		return nil, f.err
	}
	return f.decision, nil
}

func parseInvite(t *testing.T) *sip.Request {
	t.Helper()
	raw := strings.Join([]string{
		"INVITE sip:0612345678@policy.example.net SIP/2.0",
		"Via: SIP/2.0/UDP 192.0.2.10:5060;branch=z9hG4bK776asdhds",
		"From: \"Alice\" <sip:0611111111@192.0.2.10>;tag=49583",
		"To: <sip:0612345678@policy.example.net>",
		"Call-ID: call-1@192.0.2.10",
		"CSeq: 1 INVITE",
		"X-Account-Code: 100",
		"Max-Forwards: 70",
		"Content-Length: 0",
		"",
		"",
	}, "\r\n")

	msg, err := sip.ParseMessage([]byte(raw))
	if err != nil {
		t.Fatalf("parsing invite: %v", err)
	}
	req, ok := msg.(*sip.Request)
	if !ok {
		t.Fatalf("parsed message is %T, want *sip.Request", msg)
	}
	return req
}

func newTestHandler(decider Decider, gatewayHost string) *InviteHandler {
	holder := config.NewHolder(&config.Config{
		GatewayHost:    gatewayHost,
		DomesticPrefix: "33",
		DefaultTenant:  1,
	})
	return NewInviteHandler(decider, holder, discardLogger())
}

func TestHandleInviteRedirect(t *testing.T) {
	decider := &fakeDecider{decision: &policy.Decision{
		Outcome:         policy.OutcomeAllowed,
		AccountID:       "100",
		CanonicalNumber: "+33612345678",
	}}
	h := newTestHandler(decider, "gw.example.net")

	tx := &captureTx{}
	h.HandleInvite(parseInvite(t), tx)

	res := tx.final(t)
	if res.StatusCode != 302 {
		t.Fatalf("status = %d, want 302", res.StatusCode)
	}
	contact := res.GetHeader("Contact")
	if contact == nil {
		t.Fatal("302 carries no Contact header")
	}
	want := "<sip:+33612345678@gw.example.net>"
	if contact.Value() != want {
		t.Errorf("Contact = %q, want %q", contact.Value(), want)
	}

	// The event was extracted from the request headers.
	if decider.lastEv.CallID != "call-1@192.0.2.10" {
		t.Errorf("CallID = %q, want call-1@192.0.2.10", decider.lastEv.CallID)
	}
	if decider.lastEv.CallerIDNum != "0611111111" || decider.lastEv.CallerIDName != "Alice" {
		t.Errorf("caller = (%q, %q), want (0611111111, Alice)",
			decider.lastEv.CallerIDNum, decider.lastEv.CallerIDName)
	}
	if decider.lastEv.DialedNumber != "0612345678" || decider.lastEv.AccountID != "100" {
		t.Errorf("dialed/account = (%q, %q), want (0612345678, 100)",
			decider.lastEv.DialedNumber, decider.lastEv.AccountID)
	}
}

func TestHandleInviteRedirectDefaultGateway(t *testing.T) {
	decider := &fakeDecider{decision: &policy.Decision{
		Outcome:         policy.OutcomeAllowed,
		CanonicalNumber: "+33612345678",
	}}
	h := newTestHandler(decider, "")

	tx := &captureTx{}
	h.HandleInvite(parseInvite(t), tx)

	res := tx.final(t)
	if res.StatusCode != 302 {
		t.Fatalf("status = %d, want 302", res.StatusCode)
	}
	contact := res.GetHeader("Contact")
	if contact == nil {
		t.Fatal("302 carries no Contact header")
	}

	// Without a configured gateway the Contact falls back to the machine
	// hostname; the URI must never carry an empty host part.
	host, err := os.Hostname()
	if err != nil {
		host = "localhost"
	}
	want := fmt.Sprintf("<sip:+33612345678@%s>", host)
	if contact.Value() != want {
		t.Errorf("Contact = %q, want %q", contact.Value(), want)
	}
	if strings.Contains(contact.Value(), "@>") {
		t.Errorf("Contact = %q has an empty host", contact.Value())
	}
}

func TestHandleInviteRedirectPolicyHeaders(t *testing.T) {
	decider := &fakeDecider{decision: &policy.Decision{
		Outcome:         policy.OutcomeAllowed,
		Record:          true,
		RecordingTarget: "/var/spool/callpolicy/monitor/call-1-20260829-120000.wav",
		CallerID:        &policy.CallerID{Number: "0611111111", Name: "0611111111"},
		CanonicalNumber: "+33612345678",
	}}
	h := newTestHandler(decider, "gw.example.net")

	tx := &captureTx{}
	h.HandleInvite(parseInvite(t), tx)

	res := tx.final(t)
	if res.StatusCode != 302 {
		t.Fatalf("status = %d, want 302", res.StatusCode)
	}

	wantHeaders := map[string]string{
		"X-CallPolicy-Record":        "yes",
		"X-CallPolicy-Record-Target": "/var/spool/callpolicy/monitor/call-1-20260829-120000.wav",
		"X-CallPolicy-Caller-Number": "0611111111",
		"X-CallPolicy-Caller-Name":   "0611111111",
	}
	for name, want := range wantHeaders {
		hdr := res.GetHeader(name)
		if hdr == nil {
			t.Errorf("header %s missing", name)
			continue
		}
		if hdr.Value() != want {
			t.Errorf("header %s = %q, want %q", name, hdr.Value(), want)
		}
	}
}

func TestHandleInviteVerdicts(t *testing.T) {
	tests := []struct {
		name    string
		decider *fakeDecider
		want    int
	}{
		{
			"blocked call is declined",
			&fakeDecider{decision: &policy.Decision{Outcome: policy.OutcomeBlocked, Terminate: true}},
			603,
		},
		{
			"abstain is not found",
			&fakeDecider{decision: &policy.Decision{Outcome: policy.OutcomeAbstain}},
			404,
		},
		{
			"malformed event is bad request",
			&fakeDecider{err: fmt.Errorf("%w: empty account id", policy.ErrSanityCheckFailed)},
			400,
		},
		{
			"unexpected failure is server error",
			&fakeDecider{err: fmt.Errorf("pipeline exploded")},
			500,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(tt.decider, "gw.example.net")

			tx := &captureTx{}
			h.HandleInvite(parseInvite(t), tx)

			res := tx.final(t)
			if int(res.StatusCode) != tt.want {
				t.Errorf("status = %d, want %d", res.StatusCode, tt.want)
			}
		})
	}
}
