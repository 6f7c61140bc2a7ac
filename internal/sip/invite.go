package sip

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/emiago/sipgo/sip"

	"github.com/plugandtel/callpolicy/internal/config"
	"github.com/plugandtel/callpolicy/internal/policy"
)

const decideTimeout = 5 * time.Second

// accountHeader carries the switch-side account code on the INVITE.
const accountHeader = "X-Account-Code"

// InviteHandler turns an incoming INVITE into a policy decision and
// answers as a redirect server: 302 with the canonical target on allow,
// 603 on block, 404 on abstain, 400 on a malformed event.
type InviteHandler struct {
	decider Decider
	holder  *config.Holder
	logger  *slog.Logger
}

func NewInviteHandler(decider Decider, holder *config.Holder, logger *slog.Logger) *InviteHandler {
	return &InviteHandler{
		decider: decider,
		holder:  holder,
		logger:  logger.With("handler", "invite"),
	}
}

func (h *InviteHandler) HandleInvite(req *sip.Request, tx sip.ServerTransaction) {
	callID := ""
	if cid := req.CallID(); cid != nil {
		callID = cid.Value()
	}
	from := req.From()

	ev := policy.Event{
		CallID:       callID,
		CallerIDNum:  from.Address.User,
		CallerIDName: from.DisplayName,
		DialedNumber: req.Recipient.User,
	}
	if hdr := req.GetHeader(accountHeader); hdr != nil {
		ev.AccountID = hdr.Value()
	}

	h.logger.Info("invite received",
		"call_id", callID,
		"caller", ev.CallerIDNum,
		"dialed", ev.DialedNumber,
		"account", ev.AccountID,
		"source", req.Source(),
	)

	// Let the switch know we are working on it.
	trying := sip.NewResponseFromRequest(req, 100, "Trying", nil)
	if err := tx.Respond(trying); err != nil {
		h.logger.Error("failed to send trying", "call_id", callID, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), decideTimeout)
	defer cancel()

	dec, err := h.decider.Decide(ctx, ev)
	if err != nil {
		if errors.Is(err, policy.ErrSanityCheckFailed) {
			h.respond(tx, req, 400, "Bad Request", callID)
			return
		}
		h.logger.Error("decision failed", "call_id", callID, "error", err)
		h.respond(tx, req, 500, "Internal Server Error", callID)
		return
	}

	switch {
	case dec.Outcome == policy.OutcomeAbstain:
		h.respond(tx, req, 404, "Not Found", callID)
	case dec.Terminate:
		h.respond(tx, req, 603, "Decline", callID)
	default:
		h.redirect(tx, req, dec, callID)
	}
}

// redirect answers 302 pointing the switch at the canonical number on
// the configured gateway, with the remaining policy carried in headers.
func (h *InviteHandler) redirect(tx sip.ServerTransaction, req *sip.Request, dec *policy.Decision, callID string) {
	cfg := h.holder.Current()

	res := sip.NewResponseFromRequest(req, 302, "Moved Temporarily", nil)
	contact := fmt.Sprintf("<sip:%s@%s>", dec.CanonicalNumber, cfg.SIPHost())
	res.AppendHeader(sip.NewHeader("Contact", contact))

	if dec.Record {
		res.AppendHeader(sip.NewHeader("X-CallPolicy-Record", "yes"))
		res.AppendHeader(sip.NewHeader("X-CallPolicy-Record-Target", dec.RecordingTarget))
	}
	if dec.CallerID != nil {
		res.AppendHeader(sip.NewHeader("X-CallPolicy-Caller-Number", dec.CallerID.Number))
		res.AppendHeader(sip.NewHeader("X-CallPolicy-Caller-Name", dec.CallerID.Name))
	}

	h.logger.Info("call redirected",
		"call_id", callID,
		"target", dec.CanonicalNumber,
		"record", dec.Record,
	)

	if err := tx.Respond(res); err != nil {
		h.logger.Error("failed to send redirect", "call_id", callID, "error", err)
	}
}

func (h *InviteHandler) respond(tx sip.ServerTransaction, req *sip.Request, code int, reason string, callID string) {
	res := sip.NewResponseFromRequest(req, sip.StatusCode(code), reason, nil)
	if err := tx.Respond(res); err != nil {
		h.logger.Error("failed to respond", "call_id", callID, "code", code, "error", err)
	}
}
