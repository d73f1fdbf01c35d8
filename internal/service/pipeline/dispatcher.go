package pipeline

import (
	"context"
	"fmt"

	"github.com/panjf2000/ants/v2"
	waLog "go.mau.fi/whatsmeow/util/log"

	"fleetbot/internal/transport"
)

// GroupHandler reacts to group membership changes.
type GroupHandler interface {
	HandleGroupUpdate(ctx context.Context, accountID string, sess transport.Session, u *transport.GroupUpdate)
}

// Dispatcher routes session events onto a bounded worker pool. Events of one
// account may run concurrently; stages of one event run in order.
type Dispatcher struct {
	ctx      context.Context
	pipeline *Pipeline
	groups   GroupHandler
	pool     *ants.Pool
	log      waLog.Logger
}

// NewDispatcher creates a Dispatcher with a pool of the given size.
func NewDispatcher(ctx context.Context, p *Pipeline, groups GroupHandler, workers int, log waLog.Logger) (*Dispatcher, error) {
	if workers <= 0 {
		workers = 64
	}
	d := &Dispatcher{
		ctx:      ctx,
		pipeline: p,
		groups:   groups,
		log:      log.Sub("Dispatcher"),
	}
	pool, err := ants.NewPool(workers, ants.WithPanicHandler(func(r interface{}) {
		d.log.Errorf("[handler] event worker panicked: %v", r)
	}))
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}
	d.pool = pool
	return d, nil
}

// Handle routes evt from accountID's session. ctx belongs to the session;
// jobs still queued when it is cancelled are dropped. Handle blocks only
// while the pool is saturated.
func (d *Dispatcher) Handle(ctx context.Context, accountID string, sess transport.Session, evt interface{}) {
	if d.ctx.Err() != nil || ctx.Err() != nil {
		return
	}

	var run func(ctx context.Context)
	switch e := evt.(type) {
	case *transport.Message:
		d.log.Debugf("Message %s from %s in %s", e.Key.ID, e.Key.Sender, e.Key.Chat)
		run = func(ctx context.Context) { d.pipeline.HandleMessage(ctx, accountID, sess, e) }
	case *transport.GroupUpdate:
		d.log.Debugf("Group %s %s %v", e.Group, e.Action, e.Participants)
		if d.groups == nil {
			return
		}
		run = func(ctx context.Context) { d.groups.HandleGroupUpdate(ctx, accountID, sess, e) }
	case *transport.CallOffer:
		d.log.Debugf("Call %s from %s", e.CallID, e.From)
		run = func(ctx context.Context) { d.pipeline.HandleCall(ctx, accountID, sess, e) }
	default:
		return
	}

	job := func() {
		if d.ctx.Err() != nil || ctx.Err() != nil {
			d.log.Debugf("Dropping event of stopped session %s", accountID)
			return
		}
		run(ctx)
	}
	if err := d.pool.Submit(job); err != nil {
		d.log.Warnf("Worker pool unavailable, handling inline: %v", err)
		job()
	}
}

// Running reports how many workers are busy.
func (d *Dispatcher) Running() int {
	return d.pool.Running()
}

// Close releases the pool. Queued jobs still run.
func (d *Dispatcher) Close() {
	d.pool.Release()
}
