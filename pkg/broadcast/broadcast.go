// Package broadcast implements the BroadcastChannel surface: postMessage
// is structured-cloned then delivered as a message
// event to every other open endpoint with the same name in the process;
// after a microtask, the host also fans out cross-process via a
// subscription id.
//
// Cross-process fan-out rides the debug server's gorilla/websocket hub
// (internal/debugserver) as its transport, satisfying "the host also
// fans out cross-process via a subscription id" with a concrete
// transport instead of leaving it unspecified. The
// dependency runs through the CrossProcessTransport interface so this
// package never imports the debug server directly.
package broadcast

import (
	"sync"

	"github.com/andromeda-rt/andromeda/pkg/eventloop"
	"github.com/andromeda-rt/andromeda/pkg/structuredclone"
)

// CrossProcessTransport fans a channel-scoped message out to other
// processes subscribed under the same subscription id, and delivers
// inbound messages back via onMessage.
type CrossProcessTransport interface {
	Publish(subscriptionID string, channelName string, payload []byte) error
	Subscribe(subscriptionID string, onMessage func(channelName string, payload []byte)) (unsubscribe func(), err error)
}

// Endpoint is one open BroadcastChannel handle for a given name.
type Endpoint struct {
	id uint64
	name string
	hub *Hub
	onMessage func(value any)
	closed bool
}

// Hub fans out postMessage calls to every other open Endpoint sharing a
// channel name, within this process, and optionally across processes via
// a CrossProcessTransport.
type Hub struct {
	mu sync.Mutex
	nextID uint64
	endpoints map[string]map[uint64]*Endpoint
	loop *eventloop.Loop
	transport CrossProcessTransport
	subID string
	unsubscribe func()
}

// NewHub constructs a Hub that schedules delivery via loop (so message
// events always run on the script thread).
func NewHub(loop *eventloop.Loop) *Hub {
	return &Hub{endpoints: make(map[string]map[uint64]*Endpoint), loop: loop}
}

// AttachTransport wires a cross-process transport under subscriptionID;
// inbound messages are structured-clone-decoded and delivered to local
// endpoints of the matching channel name.
func (h *Hub) AttachTransport(transport CrossProcessTransport, subscriptionID string) error {
	h.mu.Lock()
	h.transport = transport
	h.subID = subscriptionID
	h.mu.Unlock()

	unsubscribe, err := transport.Subscribe(subscriptionID, func(channelName string, payload []byte) {
		value, err := structuredclone.Decode(payload)
		if err != nil {
			return
		}
		h.deliverLocal(channelName, value, nil)
	})
	if err != nil {
		return err
	}
	h.mu.Lock()
	h.unsubscribe = unsubscribe
	h.mu.Unlock()
	return nil
}

// Open creates a new Endpoint for name, whose onMessage callback fires
// (on the script thread) for every message posted by another open
// Endpoint with the same name.
func (h *Hub) Open(name string, onMessage func(value any)) *Endpoint {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	ep := &Endpoint{id: h.nextID, name: name, hub: h, onMessage: onMessage}
	if h.endpoints[name] == nil {
		h.endpoints[name] = make(map[uint64]*Endpoint)
	}
	h.endpoints[name][ep.id] = ep
	return ep
}

// PostMessage structured-clones value and delivers it to every other
// open local Endpoint with this name, then (after a microtask) fans out
// cross-process if a transport is attached.
func (e *Endpoint) PostMessage(value any) error {
	cloned, err := structuredclone.Clone(value)
	if err != nil {
		return err
	}
	e.hub.deliverLocal(e.name, cloned, e)

	e.hub.mu.Lock()
	transport, subID := e.hub.transport, e.hub.subID
	e.hub.mu.Unlock()
	if transport == nil {
		return nil
	}
	e.hub.loop.ScheduleMicrotask(func() {
		encoded, err := structuredclone.Encode(value)
		if err != nil {
			return
		}
		transport.Publish(subID, e.name, encoded)
	})
	return nil
}

func (h *Hub) deliverLocal(name string, value any, exclude *Endpoint) {
	h.mu.Lock()
	var targets []*Endpoint
	for _, ep := range h.endpoints[name] {
		if ep == exclude {
			continue
		}
		targets = append(targets, ep)
	}
	h.mu.Unlock()

	for _, ep := range targets {
		ep := ep
		h.loop.ScheduleMicrotask(func() {
			if !ep.closed {
				ep.onMessage(value)
			}
		})
	}
}

// Close removes the endpoint from its hub; no further messages are
// delivered to it.
func (e *Endpoint) Close() {
	e.hub.mu.Lock()
	defer e.hub.mu.Unlock()
	e.closed = true
	delete(e.hub.endpoints[e.name], e.id)
}
