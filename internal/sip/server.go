// Package sip implements the SIP-facing ingress: the switch addresses
// an INVITE at callpolicyd, which answers as a redirect server carrying
// the policy decision.
package sip

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"

	"github.com/plugandtel/callpolicy/internal/config"
	"github.com/plugandtel/callpolicy/internal/policy"
)

// Decider runs the decision pipeline for one call-setup event.
type Decider interface {
	Decide(ctx context.Context, ev policy.Event) (*policy.Decision, error)
}

// Server wraps the sipgo SIP stack with the policy ingress handlers.
type Server struct {
	holder *config.Holder
	ua     *sipgo.UserAgent
	srv    *sipgo.Server
	invite *InviteHandler
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger
}

// NewServer creates a SIP ingress with the INVITE handler registered.
func NewServer(holder *config.Holder, pipeline Decider) (*Server, error) {
	logger := slog.Default().With("component", "sip")

	ua, err := sipgo.NewUA(
		sipgo.WithUserAgent("CallPolicy"),
		sipgo.WithUserAgentHostname(holder.Current().SIPHost()),
	)
	if err != nil {
		return nil, fmt.Errorf("creating sip user agent: %w", err)
	}

	srv, err := sipgo.NewServer(ua)
	if err != nil {
		ua.Close()
		return nil, fmt.Errorf("creating sip server: %w", err)
	}

	s := &Server{
		holder: holder,
		ua:     ua,
		srv:    srv,
		invite: NewInviteHandler(pipeline, holder, logger),
		logger: logger,
	}

	s.srv.OnInvite(s.invite.HandleInvite)
	s.srv.OnOptions(s.handleOptions)
	return s, nil
}

// Start begins listening on UDP and TCP. Listeners run until the context
// is cancelled.
func (s *Server) Start(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)

	cfg := s.holder.Current()
	udpAddr := fmt.Sprintf("0.0.0.0:%d", cfg.SIPPort)
	tcpAddr := fmt.Sprintf("0.0.0.0:%d", cfg.SIPPort)

	// Start UDP listener.
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Info("sip udp listener starting", "addr", udpAddr)
		if err := s.srv.ListenAndServe(ctx, "udp", udpAddr); err != nil {
			s.logger.Error("sip udp listener stopped", "error", err)
		}
	}()

	// Start TCP listener.
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Info("sip tcp listener starting", "addr", tcpAddr)
		if err := s.srv.ListenAndServe(ctx, "tcp", tcpAddr); err != nil {
			s.logger.Error("sip tcp listener stopped", "error", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the SIP listeners and waits for goroutines.
func (s *Server) Stop() {
	s.logger.Info("stopping sip server")
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.srv.Close()
	s.ua.Close()
	s.logger.Info("sip server stopped")
}

// handleOptions responds to SIP OPTIONS requests (keepalive pings from
// the switch).
func (s *Server) handleOptions(req *sip.Request, tx sip.ServerTransaction) {
	s.logger.Debug("sip options received",
		"from", req.From().Address.User,
		"source", req.Source(),
	)

	res := sip.NewResponseFromRequest(req, 200, "OK", nil)
	res.AppendHeader(sip.NewHeader("Allow", "INVITE, ACK, CANCEL, OPTIONS"))

	if err := tx.Respond(res); err != nil {
		s.logger.Error("failed to respond to options", "error", err)
	}
}
