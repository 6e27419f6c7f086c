package watcher

import (
	"context"
	"sort"
	"time"

	"github.com/conneroisu/tally/internal/logging"
	"github.com/conneroisu/tally/internal/monitoring"
	"github.com/conneroisu/tally/internal/registry"
	"github.com/conneroisu/tally/internal/scheduler"
)

// Name is the manager name watch subscriptions are routed to.
const Name = "watcher"

type subscription struct {
	path  string
	toMsg func([]ChangeEvent) any
}

// Watch subscribes to changes of path. Bursts of changes arrive as one
// message holding the last event per file.
func Watch(path string, toMsg func([]ChangeEvent) any) registry.Bag {
	return registry.Leaf(Name, &subscription{path: path, toMsg: toMsg})
}

// state is owned by the manager process; only its continuations touch it.
type state struct {
	watchers map[string]*scheduler.Process
	subs     map[string][]func([]ChangeEvent) any
	pending  map[string][]ChangeEvent
	flushing map[string]bool
}

type changed struct {
	path  string
	event ChangeEvent
}

type flush struct{ path string }

// Manager creates the watcher effect manager. Changes to one path are
// collected for debounce before they are delivered.
func Manager(debounce time.Duration, logger logging.Logger, metrics *monitoring.RuntimeMetrics) registry.Manager {
	if logger == nil {
		logger = logging.Nop()
	}
	logger = logger.WithComponent("watcher")

	return registry.Manager{
		Init: func() scheduler.Task {
			return scheduler.Succeed(&state{
				watchers: make(map[string]*scheduler.Process),
				subs:     make(map[string][]func([]ChangeEvent) any),
				pending:  make(map[string][]ChangeEvent),
				flushing: make(map[string]bool),
			})
		},

		OnEffects: func(rt *registry.Router, _, subs []any, s any) scheduler.Task {
			st := s.(*state)
			next := make(map[string][]func([]ChangeEvent) any)
			for _, v := range subs {
				sub := v.(*subscription)
				next[sub.path] = append(next[sub.path], sub.toMsg)
			}
			st.subs = next

			var tasks []scheduler.Task
			for _, path := range sortedPaths(st.watchers) {
				if _, keep := next[path]; !keep {
					tasks = append(tasks, scheduler.Kill(st.watchers[path]))
					delete(st.watchers, path)
					delete(st.pending, path)
					logger.Debug(context.Background(), "stopped watching", "path", path)
				}
			}
			for _, path := range sortedPaths(next) {
				if _, running := st.watchers[path]; running {
					continue
				}
				tasks = append(tasks, scheduler.AndThen(
					scheduler.Spawn(watch(rt, path, logger)),
					func(p any) scheduler.Task {
						st.watchers[path] = p.(*scheduler.Process)
						return scheduler.Succeed(nil)
					},
				))
				logger.Debug(context.Background(), "watching", "path", path)
			}
			return scheduler.Map(scheduler.Sequence(tasks...), func(any) any { return st })
		},

		OnSelfMsg: func(rt *registry.Router, msg any, s any) scheduler.Task {
			st := s.(*state)
			switch m := msg.(type) {
			case changed:
				metrics.FileWatcherEvent(m.event.Type.String())
				if _, live := st.watchers[m.path]; !live {
					return scheduler.Succeed(st)
				}
				st.pending[m.path] = append(st.pending[m.path], m.event)
				if st.flushing[m.path] {
					return scheduler.Succeed(st)
				}
				st.flushing[m.path] = true
				timer := scheduler.AndThen(scheduler.Sleep(debounce), func(any) scheduler.Task {
					return rt.SendToSelf(flush{path: m.path})
				})
				return scheduler.Map(scheduler.Spawn(timer), func(any) any { return st })

			case flush:
				events := Coalesce(st.pending[m.path])
				delete(st.pending, m.path)
				delete(st.flushing, m.path)
				if len(events) == 0 {
					return scheduler.Succeed(st)
				}
				var tasks []scheduler.Task
				for _, toMsg := range st.subs[m.path] {
					tasks = append(tasks, rt.SendToApp(toMsg(events)))
				}
				return scheduler.Map(scheduler.Sequence(tasks...), func(any) any { return st })
			}
			return scheduler.Succeed(st)
		},

		SubMap: func(tagger func(any) any, v any) any {
			sub := v.(*subscription)
			return &subscription{path: sub.path, toMsg: func(events []ChangeEvent) any {
				return tagger(sub.toMsg(events))
			}}
		},
	}
}

// watch is the task behind one watched path. It never resumes on its own;
// killing its process closes the underlying watcher.
func watch(rt *registry.Router, path string, logger logging.Logger) scheduler.Task {
	run := scheduler.Binding(func(resume func(scheduler.Task)) func() {
		fw, err := NewFileWatcher()
		if err != nil {
			resume(scheduler.Fail(err))
			return nil
		}
		fw.AddFilter(NoHiddenFilter)
		fw.AddFilter(NoTempFilter)
		if err := fw.AddPath(path); err != nil {
			fw.Close()
			resume(scheduler.Fail(err))
			return nil
		}

		ctx, cancel := context.WithCancel(context.Background())
		go fw.Run(ctx,
			func(ev ChangeEvent) { rt.Notify(changed{path: path, event: ev}) },
			func(err error) { logger.Warn(ctx, err, "file watcher error", "path", path) },
		)
		return func() {
			cancel()
			fw.Close()
		}
	})

	return scheduler.OnError(run, func(err error) scheduler.Task {
		logger.Warn(context.Background(), err, "cannot watch path", "path", path)
		return scheduler.Succeed(nil)
	})
}

func sortedPaths[V any](m map[string]V) []string {
	paths := make([]string, 0, len(m))
	for p := range m {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}
