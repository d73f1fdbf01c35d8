package whatsapp

import (
	"context"
	"fmt"

	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"

	"fleetbot/internal/transport"
)

// keepAliveLimit is the number of consecutive keepalive failures treated as a
// dead socket.
const keepAliveLimit = 3

func (s *session) handleEvent(evt interface{}) {
	if u, ok := connectionUpdate(evt); ok {
		if _, isQR := evt.(*events.QR); isQR {
			s.qrOnce.Do(func() { close(s.qrReady) })
		}
		if u.State == transport.StateClose {
			s.log.Warnf("Connection closed: %s (%v)", u.Reason, u.Err)
		}
		s.handler.OnConnectionUpdate(u)
		return
	}

	switch e := evt.(type) {
	case *events.PairSuccess:
		s.log.Infof("Paired as %s on %s", e.ID, e.Platform)
		if creds := s.Credentials(); creds != nil {
			s.handler.OnCredentialsUpdate(*creds)
		}
	case *events.Message:
		s.resolveSenderAlt(&e.Info.MessageSource)
		var own types.JID
		if id := s.cli.Store.ID; id != nil {
			own = *id
		}
		if msg := convertMessage(e, own); msg != nil {
			s.handler.OnEvent(msg)
		}
	case *events.GroupInfo:
		for _, u := range groupUpdates(e) {
			s.handler.OnEvent(u)
		}
	case *events.CallOffer:
		s.handler.OnEvent(&transport.CallOffer{From: e.From.String(), CallID: e.CallID})
	}
}

// connectionUpdate maps whatsmeow lifecycle events. ok is false for events
// that do not change the connection state.
func connectionUpdate(evt interface{}) (u transport.ConnectionUpdate, ok bool) {
	switch e := evt.(type) {
	case *events.QR:
		if len(e.Codes) == 0 {
			return u, false
		}
		return transport.ConnectionUpdate{State: transport.StateConnecting, QR: e.Codes[0]}, true
	case *events.Connected:
		return transport.ConnectionUpdate{State: transport.StateOpen}, true
	case *events.LoggedOut:
		return closed(transport.ReasonLoggedOut, fmt.Errorf("logged out: %v", e.Reason)), true
	case *events.StreamReplaced:
		return closed(transport.ReasonConnectionReplaced, nil), true
	case *events.TemporaryBan:
		return closed(transport.ReasonForbidden, fmt.Errorf("temporary ban %v, expires in %s", e.Code, e.Expire)), true
	case *events.ClientOutdated:
		return closed(transport.ReasonForbidden, fmt.Errorf("client outdated")), true
	case *events.PairError:
		return closed(transport.ReasonBadSession, e.Error), true
	case *events.Disconnected:
		return closed(transport.ReasonConnectionLost, nil), true
	case *events.KeepAliveTimeout:
		if e.ErrorCount < keepAliveLimit {
			return u, false
		}
		return closed(transport.ReasonTimedOut, fmt.Errorf("%d keepalive failures", e.ErrorCount)), true
	case *events.ManualLoginReconnect:
		return closed(transport.ReasonRestartRequired, nil), true
	case *events.StreamError:
		return closed(transport.ReasonUnknown, fmt.Errorf("stream error %s", e.Code)), true
	case *events.ConnectFailure:
		err := fmt.Errorf("connect failure %v: %s", e.Reason, e.Message)
		if e.Reason.IsLoggedOut() {
			return closed(transport.ReasonLoggedOut, err), true
		}
		return closed(transport.ReasonConnectionClosed, err), true
	}
	return u, false
}

// resolveSenderAlt fills in the phone-number JID of a LID sender from the
// device's LID map when the server did not send it.
func (s *session) resolveSenderAlt(src *types.MessageSource) {
	if src.Sender.Server != types.HiddenUserServer || src.SenderAlt.Server == types.DefaultUserServer {
		return
	}
	pn, err := s.cli.Store.LIDs.GetPNForLID(context.Background(), src.Sender.ToNonAD())
	if err != nil || pn.IsEmpty() {
		s.log.Debugf("No phone number known for %s: %v", src.Sender, err)
		return
	}
	src.SenderAlt = pn
}

func closed(reason transport.CloseReason, err error) transport.ConnectionUpdate {
	return transport.ConnectionUpdate{State: transport.StateClose, Reason: reason, Err: err}
}

func groupUpdates(e *events.GroupInfo) []*transport.GroupUpdate {
	var author string
	if e.Sender != nil {
		author = e.Sender.ToNonAD().String()
	}

	var out []*transport.GroupUpdate
	add := func(action transport.ParticipantAction, jids []types.JID) {
		if len(jids) == 0 {
			return
		}
		users := make([]string, len(jids))
		for i, j := range jids {
			users[i] = j.ToNonAD().String()
		}
		out = append(out, &transport.GroupUpdate{
			Group:        e.JID.String(),
			Participants: users,
			Action:       action,
			Author:       author,
			Timestamp:    e.Timestamp,
		})
	}
	add(transport.ActionAdd, e.Join)
	add(transport.ActionRemove, e.Leave)
	add(transport.ActionPromote, e.Promote)
	add(transport.ActionDemote, e.Demote)
	return out
}

func convertGroupInfo(info *types.GroupInfo) *transport.GroupInfo {
	out := &transport.GroupInfo{
		JID:      info.JID.String(),
		Name:     info.Name,
		Topic:    info.Topic,
		Announce: info.IsAnnounce,
		Created:  info.GroupCreated,
	}
	if !info.OwnerJID.IsEmpty() {
		out.Owner = info.OwnerJID.String()
	}
	for _, p := range info.Participants {
		out.Participants = append(out.Participants, transport.Participant{
			JID:          p.JID.ToNonAD().String(),
			IsAdmin:      p.IsAdmin,
			IsSuperAdmin: p.IsSuperAdmin,
		})
	}
	return out
}
