package store

import (
	"context"

	"github.com/conneroisu/tally/internal/logging"
	"github.com/conneroisu/tally/internal/monitoring"
	"github.com/conneroisu/tally/internal/registry"
	"github.com/conneroisu/tally/internal/scheduler"
)

// Name is the manager name store commands are routed to.
const Name = "store"

// command is one database operation. run executes it and returns the
// message for the application, or nil for none.
type command struct {
	op  string
	run func(s *Store) (any, error)
}

// PutCmd stores value under key and reports the outcome through onDone,
// which may be nil.
func PutCmd(bucket string, key, value []byte, onDone func(error) any) registry.Bag {
	return registry.Leaf(Name, &command{op: "put", run: func(s *Store) (any, error) {
		err := s.Put(bucket, key, value)
		return reply(onDone, err), err
	}})
}

// AppendCmd appends value to bucket and reports the sequence number it was
// stored under.
func AppendCmd(bucket string, value []byte, onDone func(uint64, error) any) registry.Bag {
	return registry.Leaf(Name, &command{op: "append", run: func(s *Store) (any, error) {
		seq, err := s.Append(bucket, value)
		if onDone == nil {
			return nil, err
		}
		return onDone(seq, err), err
	}})
}

// DeleteCmd removes key from bucket.
func DeleteCmd(bucket string, key []byte, onDone func(error) any) registry.Bag {
	return registry.Leaf(Name, &command{op: "delete", run: func(s *Store) (any, error) {
		err := s.Delete(bucket, key)
		return reply(onDone, err), err
	}})
}

// LoadCmd reads a whole bucket.
func LoadCmd(bucket string, onLoad func([]KV, error) any) registry.Bag {
	return registry.Leaf(Name, &command{op: "load", run: func(s *Store) (any, error) {
		kvs, err := s.All(bucket)
		return onLoad(kvs, err), err
	}})
}

func reply(onDone func(error) any, err error) any {
	if onDone == nil {
		return nil
	}
	return onDone(err)
}

// Manager runs store commands, each in its own process, so a slow write
// never blocks the scheduler. Results reach the application as messages.
func Manager(s *Store, logger logging.Logger, metrics *monitoring.RuntimeMetrics) registry.Manager {
	if logger == nil {
		logger = logging.Nop()
	}
	logger = logger.WithComponent("store")

	return registry.Manager{
		Init: func() scheduler.Task { return scheduler.Succeed(nil) },
		OnEffects: func(rt *registry.Router, cmds, _ []any, state any) scheduler.Task {
			spawns := make([]scheduler.Task, 0, len(cmds))
			for _, c := range cmds {
				cmd := c.(*command)
				spawns = append(spawns, scheduler.Spawn(perform(rt, s, cmd, logger, metrics)))
			}
			return scheduler.Map(scheduler.Sequence(spawns...), func(any) any { return state })
		},
		CmdMap: func(tagger func(any) any, c any) any {
			cmd := c.(*command)
			return &command{op: cmd.op, run: func(s *Store) (any, error) {
				msg, err := cmd.run(s)
				if msg == nil {
					return nil, err
				}
				return tagger(msg), err
			}}
		},
	}
}

type outcome struct {
	msg any
	err error
}

func perform(rt *registry.Router, s *Store, cmd *command, logger logging.Logger, metrics *monitoring.RuntimeMetrics) scheduler.Task {
	work := scheduler.Go(func(ctx context.Context) (any, error) {
		msg, err := cmd.run(s)
		return outcome{msg: msg, err: err}, nil
	})
	return scheduler.AndThen(work, func(v any) scheduler.Task {
		out := v.(outcome)
		metrics.StoreOperation(cmd.op, out.err == nil)
		if out.err != nil {
			logger.Warn(context.Background(), out.err, "store command failed", "op", cmd.op)
		}
		if out.msg == nil {
			return scheduler.Succeed(nil)
		}
		return rt.SendToApp(out.msg)
	})
}
