package program

import (
	"github.com/conneroisu/tally/internal/registry"
	"github.com/conneroisu/tally/internal/scheduler"
)

// TaskManager is the name of the built-in manager behind Perform.
const TaskManager = "task"

type perform struct {
	task  scheduler.Task
	toMsg func(value any, err error) any
}

// Perform runs t in its own process and turns its outcome into a message.
func Perform(t scheduler.Task, toMsg func(value any, err error) any) registry.Bag {
	return registry.Leaf(TaskManager, &perform{task: t, toMsg: toMsg})
}

func taskManager() registry.Manager {
	return registry.Manager{
		Init: func() scheduler.Task { return scheduler.Succeed(nil) },
		OnEffects: func(rt *registry.Router, cmds, _ []any, state any) scheduler.Task {
			spawns := make([]scheduler.Task, 0, len(cmds))
			for _, c := range cmds {
				spawns = append(spawns, scheduler.Spawn(run(rt, c.(*perform))))
			}
			return scheduler.Map(scheduler.Sequence(spawns...), func(any) any { return state })
		},
		CmdMap: func(tagger func(any) any, c any) any {
			p := c.(*perform)
			return &perform{task: p.task, toMsg: func(v any, err error) any {
				return tagger(p.toMsg(v, err))
			}}
		},
	}
}

func run(rt *registry.Router, p *perform) scheduler.Task {
	ok := scheduler.AndThen(p.task, func(v any) scheduler.Task {
		return rt.SendToApp(p.toMsg(v, nil))
	})
	return scheduler.OnError(ok, func(err error) scheduler.Task {
		return rt.SendToApp(p.toMsg(nil, err))
	})
}
