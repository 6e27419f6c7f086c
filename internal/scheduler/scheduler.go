package scheduler

import (
	"context"
	"runtime/debug"
	"sync"

	"github.com/conneroisu/tally/internal/errors"
	"github.com/conneroisu/tally/internal/logging"
	"github.com/conneroisu/tally/internal/monitoring"
)

// ID identifies a process within its Scheduler.
type ID uint64

type procState int

const (
	stateReady procState = iota
	stateRunning
	stateBound
	stateReceiving
	stateDead
)

// frame is a pending continuation. Exactly one of ok and err is set.
type frame struct {
	ok  func(any) Task
	err func(error) Task
}

// suspension is one Binding the process is waiting on.
type suspension struct {
	done      bool
	cancelled bool
	cancel    func()
}

// Process is a spawned task with its own mailbox. Its fields are guarded by
// the owning Scheduler's mutex, except stack, which only the drain loop
// touches while stepping the process.
type Process struct {
	id      ID
	task    Task
	stack   []frame
	mailbox []any
	state   procState
	queued  bool
	pending *suspension
}

// ID returns the process id.
func (p *Process) ID() ID { return p.id }

// Stats summarizes what a Scheduler has done.
type Stats struct {
	Spawned   int
	Killed    int
	Exited    int
	Failed    int
	Live      int
	Steps     int
	Drains    int
	MaxActive int // most drain loops ever running at once
}

// Scheduler owns a process table and the ready queue.
type Scheduler struct {
	mu       sync.Mutex
	queue    []*Process
	draining bool
	active   int
	procs    map[ID]*Process
	nextID   ID
	stats    Stats

	logger  logging.Logger
	metrics *monitoring.RuntimeMetrics
}

// New creates a Scheduler. metrics may be nil.
func New(logger logging.Logger, metrics *monitoring.RuntimeMetrics) *Scheduler {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Scheduler{
		procs:   make(map[ID]*Process),
		logger:  logger.WithComponent("scheduler"),
		metrics: metrics,
	}
}

// Spawn starts t in a new process. If no drain is running the ready queue
// is drained before Spawn returns.
func (s *Scheduler) Spawn(t Task) *Process {
	p := s.newProcess(t)
	s.enqueue(p)
	return p
}

func (s *Scheduler) newProcess(t Task) *Process {
	s.mu.Lock()
	s.nextID++
	p := &Process{id: s.nextID, task: t}
	s.procs[p.id] = p
	s.stats.Spawned++
	live := len(s.procs)
	s.mu.Unlock()

	s.metrics.ProcessSpawned(live)
	return p
}

// Send appends msg to p's mailbox. Messages to dead processes are dropped.
func (s *Scheduler) Send(p *Process, msg any) {
	s.mu.Lock()
	if p.state == stateDead {
		s.mu.Unlock()
		return
	}
	p.mailbox = append(p.mailbox, msg)
	wake := p.state == stateReceiving
	if wake {
		p.state = stateReady
	}
	s.mu.Unlock()

	if wake {
		s.enqueue(p)
	}
}

// Kill stops p. A Binding it is waiting on has its cancel hook called
// once. Killing a dead process does nothing.
func (s *Scheduler) Kill(p *Process) {
	s.mu.Lock()
	if p.state == stateDead {
		s.mu.Unlock()
		return
	}
	var cancel func()
	if sp := p.pending; sp != nil && !sp.done {
		sp.done = true
		sp.cancelled = true
		cancel = sp.cancel
	}
	s.bury(p)
	s.stats.Killed++
	live := len(s.procs)
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.metrics.ProcessExited("killed", live)
}

// Alive reports whether p still exists.
func (s *Scheduler) Alive(p *Process) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return p.state != stateDead
}

// Stats returns a snapshot of the scheduler counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats
	st.Live = len(s.procs)
	return st
}

// bury removes p from the table. Callers hold s.mu.
func (s *Scheduler) bury(p *Process) {
	p.state = stateDead
	p.pending = nil
	p.mailbox = nil
	delete(s.procs, p.id)
}

func (s *Scheduler) enqueue(p *Process) {
	s.mu.Lock()
	if !p.queued && p.state != stateDead {
		p.queued = true
		s.queue = append(s.queue, p)
	}
	if s.draining {
		s.mu.Unlock()
		return
	}
	s.draining = true
	s.active++
	if s.active > s.stats.MaxActive {
		s.stats.MaxActive = s.active
	}
	s.mu.Unlock()

	s.drain()
}

func (s *Scheduler) drain() {
	steps := 0
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.draining = false
			s.active--
			s.stats.Drains++
			s.stats.Steps += steps
			s.mu.Unlock()
			break
		}
		p := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		p.queued = false
		s.mu.Unlock()

		steps += s.step(p)
	}
	s.metrics.Drain(steps)
}

// step runs p until it suspends, finishes or dies, and returns the number
// of transitions taken.
func (s *Scheduler) step(p *Process) int {
	s.mu.Lock()
	if p.state == stateDead {
		s.mu.Unlock()
		return 0
	}
	p.state = stateRunning
	task := p.task
	s.mu.Unlock()

	n := 0
	for {
		n++
		if s.dead(p) {
			return n
		}

		switch t := task.(type) {
		case *succeed:
			fn := p.pop(true)
			if fn.ok == nil {
				s.exit(p, nil)
				return n
			}
			task = s.call(func() Task { return fn.ok(t.value) })

		case *fail:
			fn := p.pop(false)
			if fn.err == nil {
				s.exit(p, t.err)
				return n
			}
			task = s.call(func() Task { return fn.err(t.err) })

		case *andThen:
			p.stack = append(p.stack, frame{ok: t.fn})
			task = t.task

		case *onError:
			p.stack = append(p.stack, frame{err: t.fn})
			task = t.task

		case *binding:
			s.bind(p, t.bind)
			return n

		case *receive:
			s.mu.Lock()
			if p.state == stateDead {
				s.mu.Unlock()
				return n
			}
			if len(p.mailbox) == 0 {
				p.task = t
				p.state = stateReceiving
				s.mu.Unlock()
				return n
			}
			msg := p.mailbox[0]
			p.mailbox[0] = nil
			p.mailbox = p.mailbox[1:]
			s.mu.Unlock()
			task = s.call(func() Task { return t.fn(msg) })

		case *spawn:
			child := s.newProcess(t.task)
			s.enqueue(child)
			task = Succeed(child)

		case *kill:
			s.Kill(t.proc)
			task = Succeed(nil)

		case *send:
			s.Send(t.proc, t.msg)
			task = Succeed(nil)

		default:
			task = Fail(errors.NewInternalError(errors.ErrCodeInternalError, "unknown task", nil))
		}
	}
}

// pop discards frames of the wrong polarity and returns the first frame
// matching success, or the zero frame when the stack runs out.
func (p *Process) pop(success bool) frame {
	for len(p.stack) > 0 {
		f := p.stack[len(p.stack)-1]
		p.stack = p.stack[:len(p.stack)-1]
		if success && f.ok != nil || !success && f.err != nil {
			return f
		}
	}
	return frame{}
}

func (s *Scheduler) dead(p *Process) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return p.state == stateDead
}

// call runs a continuation, turning a panic into a task failure.
func (s *Scheduler) call(fn func() Task) (t Task) {
	defer func() {
		if r := recover(); r != nil {
			pe := &PanicError{Value: r, Stack: debug.Stack()}
			s.logger.Warn(context.Background(), pe, "task continuation panicked")
			t = Fail(errors.NewTaskError(errors.ErrCodeTaskPanic, "task continuation panicked", pe))
		}
	}()
	t = fn()
	if t == nil {
		t = Succeed(nil)
	}
	return t
}

// bind suspends p on b. The resume callback honors only its first call,
// and none after the process is killed.
func (s *Scheduler) bind(p *Process, b Binder) {
	sp := &suspension{}
	s.mu.Lock()
	if p.state == stateDead {
		s.mu.Unlock()
		return
	}
	p.pending = sp
	p.task = nil
	p.state = stateBound
	s.mu.Unlock()

	resume := func(next Task) {
		s.mu.Lock()
		if sp.done || p.pending != sp {
			s.mu.Unlock()
			return
		}
		sp.done = true
		p.pending = nil
		p.task = next
		p.state = stateReady
		s.mu.Unlock()
		s.enqueue(p)
	}

	var cancel func()
	func() {
		defer func() {
			if r := recover(); r != nil {
				pe := &PanicError{Value: r, Stack: debug.Stack()}
				resume(Fail(errors.NewTaskError(errors.ErrCodeTaskPanic, "binding panicked", pe)))
			}
		}()
		cancel = b(resume)
	}()

	s.mu.Lock()
	switch {
	case sp.cancelled:
		// Killed while the binder was running.
		s.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		return
	case !sp.done:
		sp.cancel = cancel
	}
	s.mu.Unlock()
}

func (s *Scheduler) exit(p *Process, err error) {
	s.mu.Lock()
	if p.state == stateDead {
		s.mu.Unlock()
		return
	}
	s.bury(p)
	s.stats.Exited++
	if err != nil {
		s.stats.Failed++
	}
	live := len(s.procs)
	s.mu.Unlock()

	reason := "done"
	if err != nil {
		reason = "failed"
		s.logger.Debug(context.Background(), "process ended with an uncaught failure", "pid", uint64(p.id), "error", err.Error())
	}
	s.metrics.ProcessExited(reason, live)
}
