package whatsapp

import (
	"context"
	"fmt"
	"time"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waCommon"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"

	"fleetbot/internal/transport"
	"fleetbot/internal/utils/media"
)

// convertMessage extracts a transport.Message from events.Message. own is the
// account's device JID, used to recognise quotes of our own messages.
func convertMessage(evt *events.Message, own types.JID) *transport.Message {
	m := evt.Message
	if m == nil {
		return nil
	}
	info := evt.Info

	msg := &transport.Message{
		Key: transport.MessageKey{
			Chat:   info.Chat.String(),
			Sender: senderPN(info.MessageSource).String(),
			ID:     info.ID,
			FromMe: info.IsFromMe,
		},
		PushName:  info.PushName,
		IsGroup:   info.IsGroup,
		Timestamp: info.Timestamp,
		Kind:      messageKind(m),
		Text:      messageText(m),
		Media:     mediaOf(m),
		ViewOnce:  evt.IsViewOnce || evt.IsViewOnceV2 || mediaViewOnce(m),
	}

	if pm := m.GetProtocolMessage(); pm != nil && pm.GetType() == waE2E.ProtocolMessage_REVOKE {
		msg.RevokedID = pm.GetKey().GetID()
	}

	if ci := contextInfo(m); ci != nil {
		msg.Mentions = ci.GetMentionedJID()
		if id := ci.GetStanzaID(); id != "" {
			q := &transport.Quoted{
				Key: transport.MessageKey{
					Chat:   ci.GetRemoteJID(),
					Sender: ci.GetParticipant(),
					ID:     id,
				},
			}
			if q.Key.Chat == "" {
				q.Key.Chat = msg.Key.Chat
			}
			if p, err := types.ParseJID(q.Key.Sender); err == nil && !own.IsEmpty() && p.User == own.User {
				q.Key.FromMe = true
			}
			if qm := ci.GetQuotedMessage(); qm != nil {
				inner, viewOnce := unwrapViewOnce(qm)
				q.Text = messageText(inner)
				q.Media = mediaOf(inner)
				q.ViewOnce = viewOnce || mediaViewOnce(inner)
			}
			msg.Quoted = q
		}
	}
	return msg
}

// senderPN prefers the phone-number address of a sender the server addressed
// by LID, so owner checks and mentions see the number.
func senderPN(src types.MessageSource) types.JID {
	if src.Sender.Server == types.HiddenUserServer && src.SenderAlt.Server == types.DefaultUserServer {
		return src.SenderAlt.ToNonAD()
	}
	return src.Sender.ToNonAD()
}

// messageKind determines the coarse kind of a message.
func messageKind(msg *waE2E.Message) transport.MessageKind {
	switch {
	case msg.GetConversation() != "", msg.GetExtendedTextMessage() != nil:
		return transport.KindText
	case msg.GetImageMessage() != nil:
		return transport.KindImage
	case msg.GetVideoMessage() != nil:
		return transport.KindVideo
	case msg.GetAudioMessage() != nil:
		return transport.KindAudio
	case msg.GetDocumentMessage() != nil:
		return transport.KindDocument
	case msg.GetStickerMessage() != nil:
		return transport.KindSticker
	case msg.GetReactionMessage() != nil:
		return transport.KindReaction
	case msg.GetProtocolMessage() != nil && msg.GetProtocolMessage().GetType() == waE2E.ProtocolMessage_REVOKE:
		return transport.KindRevoke
	}
	return transport.KindOther
}

// messageText returns the text or caption of a message.
func messageText(msg *waE2E.Message) string {
	if msg == nil {
		return ""
	}
	if text := msg.GetConversation(); text != "" {
		return text
	}
	if ext := msg.GetExtendedTextMessage(); ext != nil {
		return ext.GetText()
	}
	if img := msg.GetImageMessage(); img != nil {
		return img.GetCaption()
	}
	if vid := msg.GetVideoMessage(); vid != nil {
		return vid.GetCaption()
	}
	if doc := msg.GetDocumentMessage(); doc != nil {
		return doc.GetCaption()
	}
	return ""
}

func mediaOf(msg *waE2E.Message) *transport.Media {
	if img := msg.GetImageMessage(); img != nil {
		return &transport.Media{Kind: transport.KindImage, Mimetype: img.GetMimetype(), Caption: img.GetCaption(), Ref: img}
	}
	if vid := msg.GetVideoMessage(); vid != nil {
		return &transport.Media{Kind: transport.KindVideo, Mimetype: vid.GetMimetype(), Caption: vid.GetCaption(), Ref: vid}
	}
	if aud := msg.GetAudioMessage(); aud != nil {
		return &transport.Media{Kind: transport.KindAudio, Mimetype: aud.GetMimetype(), Ref: aud}
	}
	if doc := msg.GetDocumentMessage(); doc != nil {
		return &transport.Media{Kind: transport.KindDocument, Mimetype: doc.GetMimetype(), Caption: doc.GetCaption(),
			FileName: doc.GetFileName(), Ref: doc}
	}
	if stk := msg.GetStickerMessage(); stk != nil {
		return &transport.Media{Kind: transport.KindSticker, Mimetype: stk.GetMimetype(), Ref: stk}
	}
	return nil
}

// mediaViewOnce reports the per-media view-once flag newer clients set
// instead of a wrapper message.
func mediaViewOnce(msg *waE2E.Message) bool {
	return msg.GetImageMessage().GetViewOnce() ||
		msg.GetVideoMessage().GetViewOnce() ||
		msg.GetAudioMessage().GetViewOnce()
}

func unwrapViewOnce(msg *waE2E.Message) (*waE2E.Message, bool) {
	if vo := msg.GetViewOnceMessage(); vo != nil {
		return vo.GetMessage(), true
	}
	if vo := msg.GetViewOnceMessageV2(); vo != nil {
		return vo.GetMessage(), true
	}
	if vo := msg.GetViewOnceMessageV2Extension(); vo != nil {
		return vo.GetMessage(), true
	}
	return msg, false
}

// contextInfo extracts ContextInfo from any message type.
func contextInfo(msg *waE2E.Message) *waE2E.ContextInfo {
	if ext := msg.GetExtendedTextMessage(); ext != nil {
		return ext.GetContextInfo()
	}
	if img := msg.GetImageMessage(); img != nil {
		return img.GetContextInfo()
	}
	if vid := msg.GetVideoMessage(); vid != nil {
		return vid.GetContextInfo()
	}
	if aud := msg.GetAudioMessage(); aud != nil {
		return aud.GetContextInfo()
	}
	if doc := msg.GetDocumentMessage(); doc != nil {
		return doc.GetContextInfo()
	}
	if stk := msg.GetStickerMessage(); stk != nil {
		return stk.GetContextInfo()
	}
	return nil
}

// messageKey builds the protocol key addressing key. Messages of other group
// members need the participant set.
func messageKey(key transport.MessageKey) *waCommon.MessageKey {
	k := &waCommon.MessageKey{
		RemoteJID: proto.String(key.Chat),
		FromMe:    proto.Bool(key.FromMe),
		ID:        proto.String(key.ID),
	}
	if !key.FromMe && key.Sender != "" && key.Sender != key.Chat {
		k.Participant = proto.String(key.Sender)
	}
	return k
}

func reactionMessage(key transport.MessageKey, emoji string, now time.Time) *waE2E.Message {
	return &waE2E.Message{
		ReactionMessage: &waE2E.ReactionMessage{
			Key:               messageKey(key),
			Text:              proto.String(emoji),
			SenderTimestampMS: proto.Int64(now.UnixMilli()),
		},
	}
}

func revokeMessage(key transport.MessageKey) *waE2E.Message {
	return &waE2E.Message{
		ProtocolMessage: &waE2E.ProtocolMessage{
			Key:  messageKey(key),
			Type: waE2E.ProtocolMessage_REVOKE.Enum(),
		},
	}
}

// outgoingContext builds the reply and mention context, or nil.
func outgoingContext(out transport.Outgoing) *waE2E.ContextInfo {
	if len(out.Mentions) == 0 && out.ReplyTo == nil {
		return nil
	}
	ci := &waE2E.ContextInfo{}
	if len(out.Mentions) > 0 {
		ci.MentionedJID = out.Mentions
	}
	if r := out.ReplyTo; r != nil {
		ci.StanzaID = proto.String(r.Key.ID)
		if r.Key.Sender != "" {
			ci.Participant = proto.String(r.Key.Sender)
		}
		ci.QuotedMessage = &waE2E.Message{Conversation: proto.String(r.Text)}
	}
	return ci
}

// textMessage builds a plain or extended text message.
func textMessage(out transport.Outgoing) *waE2E.Message {
	ci := outgoingContext(out)
	if ci == nil {
		return &waE2E.Message{Conversation: proto.String(out.Text)}
	}
	return &waE2E.Message{ExtendedTextMessage: &waE2E.ExtendedTextMessage{
		Text:        proto.String(out.Text),
		ContextInfo: ci,
	}}
}

func (s *session) buildMessage(ctx context.Context, out transport.Outgoing) (*waE2E.Message, error) {
	if out.Media == nil {
		return textMessage(out), nil
	}
	m := *out.Media
	media.Resolve(&m)
	out.Media = &m
	mt, ok := media.UploadType(m.Kind)
	if !ok {
		return nil, fmt.Errorf("cannot send media of kind %q", m.Kind)
	}
	up, err := s.cli.Upload(ctx, out.Media.Data, mt)
	if err != nil {
		return nil, fmt.Errorf("upload %s: %w", out.Media.Kind, err)
	}
	return mediaMessage(out, up), nil
}

// mediaMessage wraps an uploaded blob in the message type for its kind.
func mediaMessage(out transport.Outgoing, up whatsmeow.UploadResponse) *waE2E.Message {
	media := out.Media
	ci := outgoingContext(out)
	var caption *string
	if out.Text != "" {
		caption = proto.String(out.Text)
	}

	switch media.Kind {
	case transport.KindVideo:
		return &waE2E.Message{VideoMessage: &waE2E.VideoMessage{
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			Mimetype:      proto.String(media.Mimetype),
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
			Caption:       caption,
			ContextInfo:   ci,
		}}
	case transport.KindAudio:
		return &waE2E.Message{AudioMessage: &waE2E.AudioMessage{
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			Mimetype:      proto.String(media.Mimetype),
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
			ContextInfo:   ci,
		}}
	case transport.KindDocument:
		return &waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			Mimetype:      proto.String(media.Mimetype),
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
			FileName:      proto.String(media.FileName),
			Caption:       caption,
			ContextInfo:   ci,
		}}
	case transport.KindSticker:
		return &waE2E.Message{StickerMessage: &waE2E.StickerMessage{
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			Mimetype:      proto.String(media.Mimetype),
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
			ContextInfo:   ci,
		}}
	}
	return &waE2E.Message{ImageMessage: &waE2E.ImageMessage{
		URL:           proto.String(up.URL),
		DirectPath:    proto.String(up.DirectPath),
		MediaKey:      up.MediaKey,
		Mimetype:      proto.String(media.Mimetype),
		FileEncSHA256: up.FileEncSHA256,
		FileSHA256:    up.FileSHA256,
		FileLength:    proto.Uint64(up.FileLength),
		Caption:       caption,
		ContextInfo:   ci,
	}}
}
