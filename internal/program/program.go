// Package program runs an application against the render and scheduling
// core.
//
// A Runtime owns one scheduler, one effect manager registry and one
// renderer. Messages from host events and effect managers are applied to
// the model through Update; the resulting commands and subscriptions are
// handed to the registry and the view is diffed and patched into the host
// tree once per frame.
package program

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/net/html"

	"github.com/conneroisu/tally/internal/decode"
	"github.com/conneroisu/tally/internal/errors"
	"github.com/conneroisu/tally/internal/logging"
	"github.com/conneroisu/tally/internal/monitoring"
	"github.com/conneroisu/tally/internal/registry"
	"github.com/conneroisu/tally/internal/renderer"
	"github.com/conneroisu/tally/internal/scheduler"
	"github.com/conneroisu/tally/internal/vdom"
)

// Program describes an application. F is the type of its startup flags and
// M the type of its model.
type Program[F, M any] struct {
	Flags         decode.Decoder[F]
	Init          func(flags F) (M, registry.Bag)
	Update        func(msg any, model M) (M, registry.Bag)
	View          func(model M) vdom.Node
	Subscriptions func(model M) registry.Bag
}

// Options configures a Runtime.
type Options struct {
	Logger  logging.Logger
	Metrics *monitoring.RuntimeMetrics
	// FrameInterval is how often Run redraws. Defaults to 16ms.
	FrameInterval time.Duration
}

// Observer is told about every host subtree a frame changed. Frames are
// numbered from 1. It runs while the runtime is locked and must not call
// back into it; the nodes are only valid until it returns.
type Observer func(frame uint64, changes []renderer.Change)

type effects struct {
	cmd, sub registry.Bag
}

// Runtime runs one Program.
type Runtime[F, M any] struct {
	program  Program[F, M]
	sched    *scheduler.Scheduler
	registry *registry.Registry
	renderer *renderer.Renderer
	logger   logging.Logger
	metrics  *monitoring.RuntimeMetrics
	interval time.Duration

	mu        sync.Mutex
	started   bool
	stopped   bool
	model     M
	view      vdom.Node
	mount     *html.Node
	root      *html.Node
	dirty     bool
	frame     uint64
	observers []Observer

	inboxMu sync.Mutex
	inbox   []any
	wake    chan struct{}

	fxMu     sync.Mutex
	fxQueue  []effects
	fxActive bool
}

// New creates a Runtime. Managers and ports are registered through
// Registry before Start; the Perform manager is registered already.
func New[F, M any](p Program[F, M], opts Options) *Runtime[F, M] {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	interval := opts.FrameInterval
	if interval <= 0 {
		interval = 16 * time.Millisecond
	}
	sched := scheduler.New(logger, opts.Metrics)
	reg := registry.New(sched, logger, opts.Metrics)
	if err := reg.Register(TaskManager, taskManager()); err != nil {
		panic(fmt.Sprintf("program: cannot register %s: %v", TaskManager, err))
	}

	return &Runtime[F, M]{
		program:  p,
		sched:    sched,
		registry: reg,
		renderer: renderer.New(logger, opts.Metrics),
		logger:   logger.WithComponent("program"),
		metrics:  opts.Metrics,
		interval: interval,
		wake:     make(chan struct{}, 1),
	}
}

// Registry returns the effect manager registry.
func (rt *Runtime[F, M]) Registry() *registry.Registry { return rt.registry }

// Scheduler returns the scheduler running the effect managers.
func (rt *Runtime[F, M]) Scheduler() *scheduler.Scheduler { return rt.sched }

// Start decodes flags, starts the effect managers, renders the initial view
// under mount and dispatches the initial effects. Malformed flags and a
// nil mount are fatal configuration errors.
func (rt *Runtime[F, M]) Start(ctx context.Context, flags []byte, mount *html.Node) error {
	if mount == nil {
		return errors.ErrMountMissing()
	}
	decoder := rt.program.Flags
	if decoder == nil {
		var zero F
		decoder = decode.Succeed(zero)
	}
	if len(flags) == 0 {
		flags = []byte("null")
	}
	f, err := decode.DecodeJSON(decoder, flags)
	if err != nil {
		return errors.ErrFlagsInvalid(err)
	}

	rt.mu.Lock()
	if rt.started {
		rt.mu.Unlock()
		return errors.NewConfigError(errors.ErrCodeConfigInvalid, "runtime already started")
	}
	rt.started = true
	rt.mu.Unlock()

	if err := rt.registry.Setup(rt.Send); err != nil {
		return err
	}

	rt.mu.Lock()
	model, cmd := rt.program.Init(f)
	rt.model = model
	rt.mount = mount
	rt.view = rt.program.View(model)
	rt.root = rt.renderer.Render(rt.view, nil)
	mount.AppendChild(rt.root)
	rt.enqueueEffects(cmd, rt.subscriptions(model))
	rt.mu.Unlock()

	rt.flushEffects()
	rt.logger.Info(ctx, "program started", "managers", rt.registry.Count())
	return nil
}

// Stop ends every subscription and kills the manager processes. Messages
// arriving afterwards are dropped.
func (rt *Runtime[F, M]) Stop() {
	rt.mu.Lock()
	if !rt.started || rt.stopped {
		rt.mu.Unlock()
		return
	}
	rt.stopped = true
	rt.enqueueEffects(registry.None(), registry.None())
	rt.mu.Unlock()

	rt.flushEffects()
	for _, name := range rt.registry.Names() {
		if p, ok := rt.registry.Process(name); ok {
			rt.sched.Kill(p)
		}
	}
}

// Model returns the current model.
func (rt *Runtime[F, M]) Model() M {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.model
}

// Observe adds an observer of host tree changes.
func (rt *Runtime[F, M]) Observe(o Observer) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.observers = append(rt.observers, o)
}

// Snapshot serializes the host tree under the mount node.
func (rt *Runtime[F, M]) Snapshot() (string, error) {
	s, _, err := rt.SnapshotFrame()
	return s, err
}

// SnapshotFrame is Snapshot plus the number of the last frame observers
// were told about. The snapshot includes every change up to that frame
// and none after it.
func (rt *Runtime[F, M]) SnapshotFrame() (string, uint64, error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.root == nil {
		return "", 0, errors.ErrMountMissing()
	}
	s, err := renderer.RenderString(rt.root)
	return s, rt.frame, err
}

// Send queues msg for the next Tick. It is safe to call from any goroutine,
// including from inside effect managers.
func (rt *Runtime[F, M]) Send(msg any) {
	rt.queue(msg)
	rt.metrics.MessageDelivered(false)
}

func (rt *Runtime[F, M]) queue(msgs ...any) {
	if len(msgs) == 0 {
		return
	}
	rt.inboxMu.Lock()
	rt.inbox = append(rt.inbox, msgs...)
	rt.inboxMu.Unlock()

	select {
	case rt.wake <- struct{}{}:
	default:
	}
}

// HandleEvent delivers a host event to the node at path below the mount
// node. When a listener stopped propagation, the event's messages are
// applied and drawn before HandleEvent returns; otherwise they wait for the
// next Tick.
func (rt *Runtime[F, M]) HandleEvent(ctx context.Context, path []int, eventType string, payload any) (renderer.Result, error) {
	rt.mu.Lock()
	if rt.mount == nil {
		rt.mu.Unlock()
		return renderer.Result{}, errors.ErrMountMissing()
	}
	if rt.stopped {
		rt.mu.Unlock()
		return renderer.Result{}, nil
	}
	target := renderer.NodeAt(rt.mount, path)
	if target == nil {
		rt.mu.Unlock()
		rt.logger.Debug(ctx, "event target not found", "path", path, "event", eventType)
		rt.metrics.EventDropped(eventType)
		return renderer.Result{}, nil
	}

	res := rt.renderer.Dispatch(ctx, target, renderer.Event{Type: eventType, Payload: payload})
	if !res.Stopped {
		rt.mu.Unlock()
		msgs := make([]any, len(res.Deliveries))
		for i, d := range res.Deliveries {
			msgs[i] = d.Msg
		}
		rt.queue(msgs...)
		return res, nil
	}

	// A stopped event is handled as a whole, in bubbling order, before the
	// next host event.
	for _, d := range res.Deliveries {
		rt.update(d.Msg)
	}
	rt.draw()
	rt.mu.Unlock()
	rt.flushEffects()
	return res, nil
}

// maxRounds bounds how many times one apply call goes back to the inbox
// for messages queued by the effects of the messages it just applied.
const maxRounds = 32

// Tick applies every queued message and redraws if the model changed. It
// returns how many messages were applied.
func (rt *Runtime[F, M]) Tick() int {
	processed := rt.apply()

	rt.mu.Lock()
	if rt.dirty && !rt.stopped {
		rt.draw()
	}
	rt.mu.Unlock()
	return processed
}

// apply runs Update for queued messages without drawing.
func (rt *Runtime[F, M]) apply() int {
	processed := 0
	for round := 0; round < maxRounds; round++ {
		rt.inboxMu.Lock()
		msgs := rt.inbox
		rt.inbox = nil
		rt.inboxMu.Unlock()
		if len(msgs) == 0 {
			break
		}

		rt.mu.Lock()
		if rt.stopped {
			rt.mu.Unlock()
			return processed
		}
		if rt.mount == nil {
			// Not initialized yet; keep the messages for a later tick.
			rt.mu.Unlock()
			rt.inboxMu.Lock()
			rt.inbox = append(msgs, rt.inbox...)
			rt.inboxMu.Unlock()
			return processed
		}
		for _, msg := range msgs {
			rt.update(msg)
		}
		rt.mu.Unlock()
		processed += len(msgs)

		// Effects may answer synchronously and queue more messages.
		rt.flushEffects()
	}
	return processed
}

// Run applies messages as they arrive and redraws once per frame until ctx
// is done. It stops the runtime before returning.
func (rt *Runtime[F, M]) Run(ctx context.Context) error {
	ticker := time.NewTicker(rt.interval)
	defer ticker.Stop()
	defer rt.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			rt.Tick()
		case <-rt.wake:
			rt.apply()
		}
	}
}

// update applies one message. Called with mu held.
func (rt *Runtime[F, M]) update(msg any) {
	model, cmd := rt.program.Update(msg, rt.model)
	rt.model = model
	rt.dirty = true
	rt.enqueueEffects(cmd, rt.subscriptions(model))
}

func (rt *Runtime[F, M]) subscriptions(model M) registry.Bag {
	if rt.program.Subscriptions == nil {
		return registry.None()
	}
	return rt.program.Subscriptions(model)
}

// draw diffs the view of the current model against the previous one and
// patches the host tree. Called with mu held.
func (rt *Runtime[F, M]) draw() {
	start := time.Now()
	next := rt.program.View(rt.model)
	patches := vdom.Diff(rt.view, next)
	if len(patches) > 0 {
		rt.root = rt.renderer.Apply(rt.root, rt.view, patches, nil)
	}
	rt.view = next
	rt.dirty = false
	rt.metrics.RenderDuration(time.Since(start))

	changes := rt.renderer.TakeChanges(rt.mount)
	if len(changes) == 0 {
		return
	}
	rt.frame++
	for _, o := range rt.observers {
		o(rt.frame, changes)
	}
}

// enqueueEffects records one update's effects. Called with mu held, so the
// queue is in update order.
func (rt *Runtime[F, M]) enqueueEffects(cmd, sub registry.Bag) {
	rt.fxMu.Lock()
	rt.fxQueue = append(rt.fxQueue, effects{cmd: cmd, sub: sub})
	rt.fxMu.Unlock()
}

// flushEffects hands queued effects to the registry, outside mu. Only one
// goroutine flushes at a time; effects queued meanwhile are picked up by
// the flushing one, which keeps managers seeing cycles in update order.
func (rt *Runtime[F, M]) flushEffects() {
	rt.fxMu.Lock()
	if rt.fxActive {
		rt.fxMu.Unlock()
		return
	}
	rt.fxActive = true
	for len(rt.fxQueue) > 0 {
		fx := rt.fxQueue[0]
		rt.fxQueue = rt.fxQueue[1:]
		rt.fxMu.Unlock()
		rt.registry.Dispatch(fx.cmd, fx.sub)
		rt.fxMu.Lock()
	}
	rt.fxActive = false
	rt.fxMu.Unlock()
}
