// Package scheduler runs tasks as cooperatively scheduled processes.
//
// A Task is an immutable description of work. Spawning one creates a
// Process with a FIFO mailbox. Processes run to their next suspension
// point without preemption: a Binding waiting on an external callback, or
// a Receive waiting on the mailbox. Every Scheduler drains its ready queue
// in at most one loop at a time, so sends and spawns made while a drain is
// running only append to the queue.
package scheduler

import (
	"fmt"
	"time"
)

// Task is a unit of work interpreted by a Scheduler.
type Task interface {
	isTask()
}

// Binder starts an external effect. It must call resume at most once with
// the task to continue with, possibly from another goroutine, and may
// return a cancel hook. The hook is called at most once, and only if the
// process is killed before resume.
type Binder func(resume func(Task)) (cancel func())

type succeed struct{ value any }

type fail struct{ err error }

type binding struct{ bind Binder }

type andThen struct {
	task Task
	fn   func(any) Task
}

type onError struct {
	task Task
	fn   func(error) Task
}

type receive struct{ fn func(any) Task }

type spawn struct{ task Task }

type kill struct{ proc *Process }

type send struct {
	proc *Process
	msg  any
}

func (*succeed) isTask() {}
func (*fail) isTask()    {}
func (*binding) isTask() {}
func (*andThen) isTask() {}
func (*onError) isTask() {}
func (*receive) isTask() {}
func (*spawn) isTask()   {}
func (*kill) isTask()    {}
func (*send) isTask()    {}

// Succeed is a task that finishes with v.
func Succeed(v any) Task { return &succeed{value: v} }

// Fail is a task that fails with err.
func Fail(err error) Task { return &fail{err: err} }

// Binding suspends the process until b resumes it.
func Binding(b Binder) Task { return &binding{bind: b} }

// AndThen runs t and continues with fn on success. Failures skip fn.
func AndThen(t Task, fn func(any) Task) Task { return &andThen{task: t, fn: fn} }

// OnError runs t and continues with fn on failure. Successes skip fn.
func OnError(t Task, fn func(error) Task) Task { return &onError{task: t, fn: fn} }

// Receive takes the next mailbox message, suspending while the mailbox is
// empty.
func Receive(fn func(any) Task) Task { return &receive{fn: fn} }

// Spawn starts t in a new process and succeeds with its *Process.
func Spawn(t Task) Task { return &spawn{task: t} }

// Kill stops p and succeeds with nil.
func Kill(p *Process) Task { return &kill{proc: p} }

// Send posts msg to p's mailbox and succeeds with nil.
func Send(p *Process, msg any) Task { return &send{proc: p, msg: msg} }

// Map transforms the result of t.
func Map(t Task, f func(any) any) Task {
	return AndThen(t, func(v any) Task { return Succeed(f(v)) })
}

// Sequence runs tasks in order and succeeds with their results. It fails
// with the first failure.
func Sequence(tasks ...Task) Task {
	results := make([]any, 0, len(tasks))
	var next func(i int) Task
	next = func(i int) Task {
		if i == len(tasks) {
			return Succeed(results)
		}
		return AndThen(tasks[i], func(v any) Task {
			results = append(results, v)
			return next(i + 1)
		})
	}
	return next(0)
}

// Sleep succeeds with nil after d. Killing the process stops the timer.
func Sleep(d time.Duration) Task {
	return Binding(func(resume func(Task)) func() {
		timer := time.AfterFunc(d, func() { resume(Succeed(nil)) })
		return func() { timer.Stop() }
	})
}

// PanicError is the failure of a task whose continuation panicked.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("task panicked: %v", e.Value)
}
