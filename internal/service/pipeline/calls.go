package pipeline

import (
	"context"

	"fleetbot/internal/transport"
)

// HandleCall rejects incoming calls when anti-call is on.
func (p *Pipeline) HandleCall(ctx context.Context, accountID string, sess transport.Session, call *transport.CallOffer) {
	if call == nil {
		return
	}
	if !p.settings.Get(ctx, accountID).AntiCall || p.owners.IsOwner(accountID, call.From) {
		return
	}

	log := p.log.Sub(accountID)
	log.Infof("Rejecting call %s from %s", call.CallID, call.From)
	if err := sess.RejectCall(ctx, call.From, call.CallID); err != nil {
		log.Warnf("[transient] reject call %s: %v", call.CallID, err)
		return
	}
	p.metrics.ModerationActions.WithLabelValues("call").Inc()
	if _, err := sess.Send(ctx, call.From, transport.Outgoing{Text: callRejectedNotice()}); err != nil {
		log.Warnf("[transient] call notice to %s: %v", call.From, err)
	}
}
