package graph

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"go.uber.org/multierr"
)

// Observer receives graph change notifications
type Observer interface {
	OnNewNode(node *Node) error
	OnNodeChange(from, to NodeType, node *Node) error
	OnNewEdge(edge *Edge) error
	OnEdgeChange(from, to EdgeType, edge *Edge) error
}

// Subscription identifies a registered observer
type Subscription uint64

type registration struct {
	id       Subscription
	observer Observer
}

// bus fans notifications out to observers in registration order.
// Every observer is called even when an earlier one fails or panics;
// the failures are returned together, wrapped in ErrObserver.
type bus struct {
	lastID    Subscription
	observers []registration
}

func (b *bus) register(o Observer) Subscription {
	b.lastID++
	b.observers = append(b.observers, registration{id: b.lastID, observer: o})
	return b.lastID
}

func (b *bus) unregister(id Subscription) bool {
	for i, r := range b.observers {
		if r.id == id {
			b.observers = append(b.observers[:i:i], b.observers[i+1:]...)
			return true
		}
	}
	return false
}

func (b *bus) len() int { return len(b.observers) }

func (b *bus) publish(event string, call func(Observer) error) error {
	// notifications may register or unregister observers
	snapshot := make([]registration, len(b.observers))
	copy(snapshot, b.observers)

	var errs error
	for _, r := range snapshot {
		if err := safeCall(r.observer, call); err != nil {
			errs = multierr.Append(errs, errors.Wrapf(err, "observer %d", r.id))
		}
	}
	if errs != nil {
		return errors.Wrapf(errors.Mark(errs, ErrObserver), "%s notification", event)
	}
	return nil
}

func safeCall(o Observer, call func(Observer) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("panic: %s", fmt.Sprint(r))
		}
	}()
	return call(o)
}

// Register appends an observer. Observers are notified synchronously in
// registration order.
func (g *Graph) Register(o Observer) Subscription {
	return g.bus.register(o)
}

// Unregister removes a previously registered observer.
// It returns false for unknown subscriptions.
func (g *Graph) Unregister(id Subscription) bool {
	return g.bus.unregister(id)
}

// NotifyForNewNode tells every observer about a new node
func (g *Graph) NotifyForNewNode(node *Node) error {
	return g.bus.publish("new node", func(o Observer) error { return o.OnNewNode(node) })
}

// NotifyForNodeChange tells every observer that a node changed type
func (g *Graph) NotifyForNodeChange(from, to NodeType, node *Node) error {
	return g.bus.publish("node change", func(o Observer) error { return o.OnNodeChange(from, to, node) })
}

// NotifyForNewEdge tells every observer about a new edge
func (g *Graph) NotifyForNewEdge(edge *Edge) error {
	return g.bus.publish("new edge", func(o Observer) error { return o.OnNewEdge(edge) })
}

// NotifyForEdgeChange tells every observer that an edge recorded new traffic
func (g *Graph) NotifyForEdgeChange(from, to EdgeType, edge *Edge) error {
	return g.bus.publish("edge change", func(o Observer) error { return o.OnEdgeChange(from, to, edge) })
}
