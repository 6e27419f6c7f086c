package scheduler

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder collects values from tasks. It is safe for concurrent use.
type recorder struct {
	mu     sync.Mutex
	values []any
}

func (r *recorder) add(v any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values = append(r.values, v)
}

func (r *recorder) get() []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]any(nil), r.values...)
}

func (r *recorder) ok(v any) Task {
	r.add(v)
	return Succeed(nil)
}

func TestSucceedAndFail(t *testing.T) {
	boom := stderrors.New("boom")

	tests := []struct {
		name string
		task Task
		want []any
	}{
		{
			name: "and then",
			task: AndThen(Succeed(1), func(v any) Task { return Succeed(v.(int) + 1) }),
			want: []any{2},
		},
		{
			name: "failure skips success frames",
			task: OnError(
				AndThen(Fail(boom), func(any) Task { return Succeed("unreachable") }),
				func(err error) Task { return Succeed(err.Error()) },
			),
			want: []any{"boom"},
		},
		{
			name: "success skips error frames",
			task: OnError(Succeed("fine"), func(error) Task { return Succeed("unreachable") }),
			want: []any{"fine"},
		},
		{
			name: "map",
			task: Map(Succeed(20), func(v any) any { return v.(int) * 2 }),
			want: []any{40},
		},
		{
			name: "sequence",
			task: Sequence(Succeed("a"), Succeed("b"), Succeed("c")),
			want: []any{[]any{"a", "b", "c"}},
		},
		{
			name: "sequence stops at first failure",
			task: OnError(
				Sequence(Succeed("a"), Fail(boom), Succeed("c")),
				func(err error) Task { return Succeed("failed") },
			),
			want: []any{"failed"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(nil, nil)
			var rec recorder
			s.Spawn(AndThen(tt.task, rec.ok))
			assert.Equal(t, tt.want, rec.get())
			assert.Equal(t, 0, s.Stats().Live)
		})
	}
}

func TestUncaughtFailureEndsProcess(t *testing.T) {
	s := New(nil, nil)
	var rec recorder
	p := s.Spawn(AndThen(Fail(stderrors.New("x")), rec.ok))

	assert.Empty(t, rec.get())
	assert.False(t, s.Alive(p))
	st := s.Stats()
	assert.Equal(t, 1, st.Exited)
	assert.Equal(t, 1, st.Failed)
}

func TestPanicBecomesFailure(t *testing.T) {
	s := New(nil, nil)
	var caught error
	s.Spawn(OnError(
		AndThen(Succeed(nil), func(any) Task { panic("bad continuation") }),
		func(err error) Task {
			caught = err
			return Succeed(nil)
		},
	))

	require.Error(t, caught)
	var pe *PanicError
	require.ErrorAs(t, caught, &pe)
	assert.Equal(t, "bad continuation", pe.Value)
}

func TestMailboxIsFIFO(t *testing.T) {
	s := New(nil, nil)
	var rec recorder

	child := Receive(func(a any) Task {
		rec.add(a)
		return Receive(func(b any) Task {
			rec.add(b)
			return Succeed(nil)
		})
	})

	// Both sends happen in the same drain, before the child is first stepped.
	s.Spawn(AndThen(Spawn(child), func(v any) Task {
		p := v.(*Process)
		return AndThen(Send(p, "first"), func(any) Task {
			return Send(p, "second")
		})
	}))

	assert.Equal(t, []any{"first", "second"}, rec.get())
}

func TestSendWakesReceiver(t *testing.T) {
	s := New(nil, nil)
	var rec recorder

	var loop func() Task
	loop = func() Task {
		return Receive(func(m any) Task {
			rec.add(m)
			return loop()
		})
	}
	p := s.Spawn(loop())

	s.Send(p, 1)
	s.Send(p, 2)
	assert.Equal(t, []any{1, 2}, rec.get())

	s.Kill(p)
	s.Send(p, 3)
	assert.Equal(t, []any{1, 2}, rec.get())
}

func TestReentrantSpawnDoesNotNestDrains(t *testing.T) {
	s := New(nil, nil)
	var rec recorder

	s.Spawn(AndThen(Succeed(nil), func(any) Task {
		rec.add("outer start")
		s.Spawn(AndThen(Succeed(nil), func(any) Task {
			rec.add("inner")
			return Succeed(nil)
		}))
		rec.add("outer end")
		return Succeed(nil)
	}))

	assert.Equal(t, []any{"outer start", "outer end", "inner"}, rec.get())
	assert.Equal(t, 1, s.Stats().MaxActive)
}

func TestBindingResumes(t *testing.T) {
	s := New(nil, nil)
	var rec recorder
	var resume func(Task)

	p := s.Spawn(AndThen(Binding(func(r func(Task)) func() {
		resume = r
		return nil
	}), rec.ok))

	require.NotNil(t, resume)
	assert.True(t, s.Alive(p))
	assert.Empty(t, rec.get())

	resume(Succeed("done"))
	resume(Succeed("again"))
	assert.Equal(t, []any{"done"}, rec.get())
	assert.False(t, s.Alive(p))
}

func TestSynchronousResume(t *testing.T) {
	s := New(nil, nil)
	var rec recorder
	var cancels int

	s.Spawn(AndThen(Binding(func(r func(Task)) func() {
		r(Succeed("now"))
		return func() { cancels++ }
	}), rec.ok))

	assert.Equal(t, []any{"now"}, rec.get())
	assert.Equal(t, 0, cancels)
}

func TestKillCancelsBindingOnce(t *testing.T) {
	s := New(nil, nil)
	var rec recorder
	var cancels int
	var resume func(Task)

	p := s.Spawn(AndThen(Binding(func(r func(Task)) func() {
		resume = r
		return func() { cancels++ }
	}), rec.ok))

	s.Kill(p)
	s.Kill(p)
	assert.Equal(t, 1, cancels)

	resume(Succeed("late"))
	assert.Empty(t, rec.get())
	assert.Equal(t, 1, s.Stats().Killed)
}

func TestKillFinishedProcessIsNoop(t *testing.T) {
	s := New(nil, nil)
	p := s.Spawn(Succeed(nil))
	require.False(t, s.Alive(p))

	s.Kill(p)
	assert.Equal(t, 0, s.Stats().Killed)
}

func TestKillFromTask(t *testing.T) {
	s := New(nil, nil)
	var cancels int
	victim := s.Spawn(Binding(func(func(Task)) func() {
		return func() { cancels++ }
	}))

	s.Spawn(Kill(victim))
	assert.False(t, s.Alive(victim))
	assert.Equal(t, 1, cancels)
}

func TestSleep(t *testing.T) {
	s := New(nil, nil)
	var rec recorder
	s.Spawn(AndThen(Sleep(5*time.Millisecond), func(any) Task { return rec.ok("woke") }))

	require.Eventually(t, func() bool { return len(rec.get()) == 1 }, time.Second, time.Millisecond)
}

func TestGo(t *testing.T) {
	t.Run("result", func(t *testing.T) {
		s := New(nil, nil)
		var rec recorder
		s.Spawn(AndThen(Go(func(ctx context.Context) (any, error) { return 42, nil }), rec.ok))

		require.Eventually(t, func() bool { return len(rec.get()) == 1 }, time.Second, time.Millisecond)
		assert.Equal(t, []any{42}, rec.get())
	})

	t.Run("error", func(t *testing.T) {
		s := New(nil, nil)
		var rec recorder
		s.Spawn(OnError(
			Do(func(ctx context.Context) error { return stderrors.New("io") }),
			func(err error) Task { return rec.ok(err.Error()) },
		))

		require.Eventually(t, func() bool { return len(rec.get()) == 1 }, time.Second, time.Millisecond)
		assert.Equal(t, []any{"io"}, rec.get())
	})

	t.Run("kill cancels context", func(t *testing.T) {
		s := New(nil, nil)
		stopped := make(chan struct{})
		started := make(chan struct{})
		p := s.Spawn(Go(func(ctx context.Context) (any, error) {
			close(started)
			<-ctx.Done()
			close(stopped)
			return nil, ctx.Err()
		}))

		<-started
		s.Kill(p)
		select {
		case <-stopped:
		case <-time.After(time.Second):
			t.Fatal("goroutine was not cancelled")
		}
	})
}

func TestConcurrentSends(t *testing.T) {
	s := New(nil, nil)
	var count atomic.Int64

	var loop func() Task
	loop = func() Task {
		return Receive(func(any) Task {
			count.Add(1)
			return loop()
		})
	}
	p := s.Spawn(loop())

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s.Send(p, j)
			}
		}()
	}
	wg.Wait()

	require.Eventually(t, func() bool { return count.Load() == 1600 }, time.Second, time.Millisecond)
	assert.Equal(t, 1, s.Stats().MaxActive)
}
