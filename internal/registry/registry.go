// Package registry connects effect managers to the scheduler.
//
// Every registered manager is backed by exactly one process. After each
// application update the command and subscription bags are gathered by
// manager and every manager receives one Effects message, possibly empty.
package registry

import (
	"context"
	"sort"
	"sync"

	"github.com/conneroisu/tally/internal/errors"
	"github.com/conneroisu/tally/internal/logging"
	"github.com/conneroisu/tally/internal/monitoring"
	"github.com/conneroisu/tally/internal/scheduler"
)

// Manager turns declared effects into real ones. Init, OnEffects and
// OnSelfMsg succeed with the manager's next state.
type Manager struct {
	Init      func() scheduler.Task
	OnEffects func(r *Router, cmds, subs []any, state any) scheduler.Task
	OnSelfMsg func(r *Router, msg any, state any) scheduler.Task
	// CmdMap and SubMap apply a tagger to a command or subscription value.
	// When nil, values of that kind pass through unchanged.
	CmdMap func(tagger func(any) any, cmd any) any
	SubMap func(tagger func(any) any, sub any) any
}

// Router lets a manager talk to the application and to itself.
type Router struct {
	registry *Registry
	self     *scheduler.Process
	name     string
}

// SendToApp delivers msg to the application update.
func (rt *Router) SendToApp(msg any) scheduler.Task {
	return scheduler.Binding(func(resume func(scheduler.Task)) func() {
		rt.registry.toApp(msg)
		resume(scheduler.Succeed(nil))
		return nil
	})
}

// SendToSelf posts msg to this manager's own process, where it is handled
// by OnSelfMsg.
func (rt *Router) SendToSelf(msg any) scheduler.Task {
	return scheduler.Send(rt.self, selfMsg{msg: msg})
}

// Notify posts msg to this manager's own process from outside any task,
// typically from the callback of a long-running binding.
func (rt *Router) Notify(msg any) {
	rt.registry.sched.Send(rt.self, selfMsg{msg: msg})
}

// Name returns the manager name.
func (rt *Router) Name() string { return rt.name }

type effectsMsg struct{ fx Effects }

type selfMsg struct{ msg any }

type entry struct {
	name    string
	manager Manager
	router  *Router
	proc    *scheduler.Process
	order   int
}

func (e *entry) mapValue(isCmd bool, chain *taggers, value any) any {
	if chain == nil {
		return value
	}
	if isCmd && e.manager.CmdMap != nil {
		return e.manager.CmdMap(chain.apply, value)
	}
	if !isCmd && e.manager.SubMap != nil {
		return e.manager.SubMap(chain.apply, value)
	}
	return value
}

// Registry owns the managers of one program.
type Registry struct {
	entries map[string]*entry
	mutex   sync.RWMutex
	started bool
	app     func(msg any)

	sched   *scheduler.Scheduler
	logger  logging.Logger
	metrics *monitoring.RuntimeMetrics
}

// New creates an empty registry whose managers run on sched.
func New(sched *scheduler.Scheduler, logger logging.Logger, metrics *monitoring.RuntimeMetrics) *Registry {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Registry{
		entries: make(map[string]*entry),
		sched:   sched,
		logger:  logger.WithComponent("registry"),
		metrics: metrics,
	}
}

// Register adds a manager. Names are shared with ports; a duplicate name
// is a fatal configuration error. Managers must be registered before
// Setup.
func (r *Registry) Register(name string, m Manager) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.entries[name]; exists {
		return errors.ErrDuplicateManager(name)
	}
	if r.started {
		return errors.NewConfigError(errors.ErrCodeConfigInvalid, "manager registered after setup").
			WithContext("manager", name)
	}
	if m.Init == nil || m.OnEffects == nil {
		return errors.NewConfigError(errors.ErrCodeConfigInvalid, "manager needs Init and OnEffects").
			WithContext("manager", name)
	}
	r.entries[name] = &entry{name: name, manager: m, order: len(r.entries)}
	return nil
}

// Setup spawns one process per manager. Messages the managers send to the
// application are passed to app.
func (r *Registry) Setup(app func(msg any)) error {
	r.mutex.Lock()
	if r.started {
		r.mutex.Unlock()
		return errors.NewConfigError(errors.ErrCodeConfigInvalid, "registry already set up")
	}
	r.started = true
	r.app = app
	entries := r.sorted()
	r.mutex.Unlock()

	for _, e := range entries {
		e.router = &Router{registry: r, name: e.name}
		e.router.self = r.sched.Spawn(r.managerLoop(e))
		e.proc = e.router.self
		r.logger.Debug(context.Background(), "manager started", "manager", e.name, "pid", uint64(e.proc.ID()))
	}
	return nil
}

func (r *Registry) managerLoop(e *entry) scheduler.Task {
	m := e.manager
	var loop func(state any) scheduler.Task
	loop = func(state any) scheduler.Task {
		return scheduler.Receive(func(msg any) scheduler.Task {
			switch msg := msg.(type) {
			case effectsMsg:
				return scheduler.AndThen(m.OnEffects(e.router, msg.fx.Cmds, msg.fx.Subs, state), loop)
			case selfMsg:
				if m.OnSelfMsg == nil {
					return loop(state)
				}
				return scheduler.AndThen(m.OnSelfMsg(e.router, msg.msg, state), loop)
			}
			return loop(state)
		})
	}
	return scheduler.AndThen(m.Init(), loop)
}

// Dispatch gathers cmd and sub and sends every manager its effects for
// this cycle.
func (r *Registry) Dispatch(cmd, sub Bag) {
	r.mutex.RLock()
	if !r.started {
		r.mutex.RUnlock()
		r.logger.Warn(context.Background(), nil, "dispatch before setup ignored")
		return
	}
	fx := make(map[string]*Effects, len(r.entries))
	unknown := func(home string) {
		r.logger.Warn(context.Background(), errors.NewConfigError(errors.ErrCodeUnknownManager, "effect for unknown manager"),
			"effect dropped", "manager", home)
		r.metrics.ErrorOccurred("config", "registry")
	}
	r.gather(true, cmd, fx, unknown)
	r.gather(false, sub, fx, unknown)
	entries := r.sorted()
	r.mutex.RUnlock()

	for _, e := range entries {
		var msg effectsMsg
		if got := fx[e.name]; got != nil {
			msg.fx = *got
		}
		r.sched.Send(e.proc, msg)
	}
}

// Names lists registered managers in registration order.
func (r *Registry) Names() []string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	entries := r.sorted()
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.name
	}
	return names
}

// Count returns the number of registered managers.
func (r *Registry) Count() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return len(r.entries)
}

// Process returns the process backing a manager after Setup.
func (r *Registry) Process(name string) (*scheduler.Process, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	e, ok := r.entries[name]
	if !ok || e.proc == nil {
		return nil, false
	}
	return e.proc, true
}

// sorted returns entries in registration order. Callers hold the mutex.
func (r *Registry) sorted() []*entry {
	out := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].order < out[j].order })
	return out
}

func (r *Registry) toApp(msg any) {
	r.mutex.RLock()
	app := r.app
	r.mutex.RUnlock()
	if app != nil {
		app(msg)
	}
}
