package registry

import (
	"context"
	"sync"

	"github.com/conneroisu/tally/internal/decode"
	"github.com/conneroisu/tally/internal/errors"
	"github.com/conneroisu/tally/internal/scheduler"
)

// SubscriptionID identifies one outgoing port subscriber.
type SubscriptionID uint64

type subscriber struct {
	id SubscriptionID
	fn func(any)
}

// OutgoingPort carries values from the application to external
// subscribers.
type OutgoingPort struct {
	name   string
	encode func(any) any

	mu     sync.Mutex
	subs   []subscriber
	nextID SubscriptionID
}

// OutgoingPort registers a port named name. encode converts each command
// value into what subscribers receive; nil passes values through.
func (r *Registry) OutgoingPort(name string, encode func(any) any) (*OutgoingPort, error) {
	if encode == nil {
		encode = func(v any) any { return v }
	}
	p := &OutgoingPort{name: name, encode: encode}
	err := r.Register(name, Manager{
		Init: func() scheduler.Task { return scheduler.Succeed(nil) },
		OnEffects: func(_ *Router, cmds, _ []any, state any) scheduler.Task {
			for _, cmd := range cmds {
				p.deliver(cmd)
				r.metrics.PortSend(name, true)
			}
			return scheduler.Succeed(state)
		},
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Cmd sends v out through the port.
func (p *OutgoingPort) Cmd(v any) Bag { return Leaf(p.name, v) }

// Subscribe adds fn to the subscribers.
func (p *OutgoingPort) Subscribe(fn func(any)) SubscriptionID {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.nextID++
	subs := make([]subscriber, len(p.subs), len(p.subs)+1)
	copy(subs, p.subs)
	p.subs = append(subs, subscriber{id: p.nextID, fn: fn})
	return p.nextID
}

// Unsubscribe removes a subscriber. Deliveries already in progress still
// reach it.
func (p *OutgoingPort) Unsubscribe(id SubscriptionID) {
	p.mu.Lock()
	defer p.mu.Unlock()

	subs := make([]subscriber, 0, len(p.subs))
	for _, s := range p.subs {
		if s.id != id {
			subs = append(subs, s)
		}
	}
	p.subs = subs
}

func (p *OutgoingPort) deliver(cmd any) {
	p.mu.Lock()
	subs := p.subs
	p.mu.Unlock()

	v := p.encode(cmd)
	for _, s := range subs {
		s.fn(v)
	}
}

// IncomingPort carries external values into the application.
type IncomingPort struct {
	name     string
	decoder  decode.Decoder[any]
	registry *Registry

	mu   sync.Mutex
	subs []func(any) any
}

// IncomingPort registers a port named name whose values must satisfy
// decoder.
func (r *Registry) IncomingPort(name string, decoder decode.Decoder[any]) (*IncomingPort, error) {
	p := &IncomingPort{name: name, decoder: decoder, registry: r}
	err := r.Register(name, Manager{
		Init: func() scheduler.Task { return scheduler.Succeed(nil) },
		OnEffects: func(_ *Router, _, subs []any, state any) scheduler.Task {
			taggers := make([]func(any) any, 0, len(subs))
			for _, s := range subs {
				taggers = append(taggers, s.(func(any) any))
			}
			p.mu.Lock()
			p.subs = taggers
			p.mu.Unlock()
			return scheduler.Succeed(state)
		},
		SubMap: func(tagger func(any) any, sub any) any {
			inner := sub.(func(any) any)
			return func(v any) any { return tagger(inner(v)) }
		},
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Sub subscribes the application to the port; toMsg turns each received
// value into a message.
func (p *IncomingPort) Sub(toMsg func(any) any) Bag { return Leaf(p.name, toMsg) }

// Send decodes raw JSON and delivers it to every current subscriber. A
// value that does not decode is reported and nothing is delivered.
func (p *IncomingPort) Send(raw []byte) error {
	v, err := decode.Parse(raw)
	if err != nil {
		return p.reject(err)
	}
	return p.SendValue(v)
}

// SendValue is Send for an already parsed value.
func (p *IncomingPort) SendValue(v any) error {
	value, err := p.decoder.Decode(v)
	if err != nil {
		return p.reject(err)
	}

	p.mu.Lock()
	subs := p.subs
	p.mu.Unlock()

	for _, toMsg := range subs {
		p.registry.toApp(toMsg(value))
	}
	p.registry.metrics.PortSend(p.name, true)
	return nil
}

func (p *IncomingPort) reject(err error) error {
	p.registry.metrics.PortSend(p.name, false)
	p.registry.logger.Debug(context.Background(), "port input rejected", "port", p.name, "error", err.Error())
	return errors.ErrPortInput(p.name, err)
}

// Subscribers reports how many subscriptions the port currently has.
func (p *IncomingPort) Subscribers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs)
}
