// Package pipeline runs inbound chat events through the ordered moderation,
// gating and command stages of one account.
package pipeline

import (
	"context"
	"strings"
	"time"

	waLog "go.mau.fi/whatsmeow/util/log"

	"fleetbot/internal/data/store"
	"fleetbot/internal/infra/metrics"
	"fleetbot/internal/service/command"
	"fleetbot/internal/service/settings"
	"fleetbot/internal/transport"
	"fleetbot/internal/utils/jid"
)

// BadWords lists the banned words of an account.
type BadWords interface {
	List(ctx context.Context, accountID string) ([]string, error)
}

// AuditLog records deleted messages.
type AuditLog interface {
	Append(ctx context.Context, m store.DeletedMessage) error
}

// Options tunes the pipeline.
type Options struct {
	// PresenceHold is how long typing/recording stays visible.
	PresenceHold time.Duration
	// HandlerTimeout bounds a single command handler.
	HandlerTimeout time.Duration
	// RecentMessages is the per-account anti-delete cache size.
	RecentMessages int
}

func (o Options) withDefaults() Options {
	if o.PresenceHold <= 0 {
		o.PresenceHold = time.Second
	}
	if o.HandlerTimeout <= 0 {
		o.HandlerTimeout = time.Minute
	}
	if o.RecentMessages <= 0 {
		o.RecentMessages = 500
	}
	return o
}

// Pipeline processes inbound messages for every account.
type Pipeline struct {
	settings *settings.Cache
	commands *command.Registry
	badWords BadWords
	audit    AuditLog
	owners   *Owners
	recent   *recentMessages
	metrics  *metrics.Metrics
	log      waLog.Logger
	opts     Options

	stages []stage
}

// New creates a Pipeline.
func New(
	cache *settings.Cache,
	commands *command.Registry,
	badWords BadWords,
	audit AuditLog,
	owners *Owners,
	m *metrics.Metrics,
	log waLog.Logger,
	opts Options,
) *Pipeline {
	opts = opts.withDefaults()
	p := &Pipeline{
		settings: cache,
		commands: commands,
		badWords: badWords,
		audit:    audit,
		owners:   owners,
		recent:   newRecentMessages(opts.RecentMessages),
		metrics:  m,
		log:      log.Sub("Pipeline"),
		opts:     opts,
	}
	p.stages = []stage{
		{"status", p.statusStage},
		{"viewonce", p.viewOnceStage},
		{"antidelete", p.deleteAuditStage},
		{"antilink", p.linkStage},
		{"badword", p.badWordStage},
		{"mode", p.modeGateStage},
		{"command", p.commandStage},
		{"autoreply", p.autoReplyStage},
	}
	return p
}

// event is one inbound message together with everything resolved for it.
type event struct {
	accountID string
	sess      transport.Session
	msg       *transport.Message
	settings  settings.Settings
	owner     bool
	text      string
	log       waLog.Logger
}

// stage handles ev and reports whether later stages must be skipped.
type stage struct {
	name string
	run  func(ctx context.Context, ev *event) bool
}

// HandleMessage runs msg through every stage in order.
func (p *Pipeline) HandleMessage(ctx context.Context, accountID string, sess transport.Session, msg *transport.Message) {
	if msg == nil {
		return
	}
	ev := &event{
		accountID: accountID,
		sess:      sess,
		msg:       msg,
		settings:  p.settings.Get(ctx, accountID),
		owner:     msg.Key.FromMe || p.owners.IsOwner(accountID, msg.Key.Sender),
		text:      messageText(msg),
		log:       p.log.Sub(accountID),
	}
	p.metrics.MessagesProcessed.Inc()

	p.sideEffects(ctx, ev)
	if msg.Kind != transport.KindRevoke {
		p.recent.add(accountID, msg)
	}

	for _, st := range p.stages {
		if p.runStage(ctx, st, ev) {
			p.metrics.StageShortCircuits.WithLabelValues(st.name).Inc()
			return
		}
	}
}

// runStage isolates a stage so that a panic only skips that stage.
func (p *Pipeline) runStage(ctx context.Context, st stage, ev *event) (handled bool) {
	defer func() {
		if r := recover(); r != nil {
			p.metrics.StagePanics.WithLabelValues(st.name).Inc()
			ev.log.Errorf("[handler] stage %s panicked on %s: %v", st.name, ev.msg.Key.ID, r)
			handled = false
		}
	}()
	return st.run(ctx, ev)
}

// Forget drops cached state for accountID.
func (p *Pipeline) Forget(accountID string) {
	p.recent.forget(accountID)
}

// Owners exposes the owner set.
func (p *Pipeline) Owners() *Owners {
	return p.owners
}

// messageText extracts the conversation text or the media caption.
func messageText(msg *transport.Message) string {
	if msg.Text != "" {
		return msg.Text
	}
	if msg.Media != nil {
		return msg.Media.Caption
	}
	return ""
}

func normalizePhrase(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}

// isSelfChat reports whether chat is the account's own chat.
func isSelfChat(accountID, chat string) bool {
	return !jid.IsGroup(chat) && jid.Number(chat) == accountID
}
