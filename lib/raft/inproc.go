package raft

import (
	"context"
	"fmt"

	"github.com/puzpuzpuz/xsync/v3"
)

// --------------------------------------------------------------------------
// In-Process Transport
// --------------------------------------------------------------------------

// InprocNetwork connects consensus nodes living in the same process. It is
// used by single-process deployments and by the cluster tests, where its
// Partition/Heal switches simulate network failures.
type InprocNetwork struct {
	handlers *xsync.MapOf[NodeID, RPCHandler]

	// blocked holds "a->b" links that currently drop all messages
	blocked *xsync.MapOf[string, struct{}]
}

// NewInprocNetwork creates an empty network.
func NewInprocNetwork() *InprocNetwork {
	return &InprocNetwork{
		handlers: xsync.NewMapOf[NodeID, RPCHandler](),
		blocked:  xsync.NewMapOf[string, struct{}](),
	}
}

// Transport returns the sending side for id. It works before Register, so
// a node can be constructed with its transport and attached afterwards;
// until then inbound calls to id fail as unreachable.
func (n *InprocNetwork) Transport(id NodeID) Transport {
	return &inprocTransport{net: n, self: id}
}

// Register attaches a node's handler to the network and returns the
// transport the node should send through.
func (n *InprocNetwork) Register(id NodeID, h RPCHandler) Transport {
	n.handlers.Store(id, h)
	return n.Transport(id)
}

// Deregister removes a node from the network. In-flight calls to it fail.
func (n *InprocNetwork) Deregister(id NodeID) {
	n.handlers.Delete(id)
}

// Partition cuts both directions between a and b.
func (n *InprocNetwork) Partition(a, b NodeID) {
	n.blocked.Store(linkKey(a, b), struct{}{})
	n.blocked.Store(linkKey(b, a), struct{}{})
}

// Heal restores both directions between a and b.
func (n *InprocNetwork) Heal(a, b NodeID) {
	n.blocked.Delete(linkKey(a, b))
	n.blocked.Delete(linkKey(b, a))
}

// Isolate cuts the node off from every other registered node.
func (n *InprocNetwork) Isolate(id NodeID) {
	n.handlers.Range(func(other NodeID, _ RPCHandler) bool {
		if other != id {
			n.Partition(id, other)
		}
		return true
	})
}

// Rejoin undoes Isolate.
func (n *InprocNetwork) Rejoin(id NodeID) {
	n.handlers.Range(func(other NodeID, _ RPCHandler) bool {
		if other != id {
			n.Heal(id, other)
		}
		return true
	})
}

func linkKey(from, to NodeID) string {
	return string(from) + "->" + string(to)
}

func (n *InprocNetwork) deliverable(from, to NodeID) (RPCHandler, error) {
	if _, cut := n.blocked.Load(linkKey(from, to)); cut {
		return nil, fmt.Errorf("inproc: link %s -> %s is partitioned", from, to)
	}
	h, ok := n.handlers.Load(to)
	if !ok {
		return nil, fmt.Errorf("inproc: node %s is not reachable", to)
	}
	return h, nil
}

// ---- Transport ----

type inprocTransport struct {
	net  *InprocNetwork
	self NodeID
}

func (t *inprocTransport) RequestVote(ctx context.Context, target NodeID, req *RequestVoteRequest) (*RequestVoteResponse, error) {
	h, err := t.net.deliverable(t.self, target)
	if err != nil {
		return nil, err
	}

	done := make(chan *RequestVoteResponse, 1)
	go func() { done <- h.HandleRequestVote(req) }()

	select {
	case resp := <-done:
		// the reply direction can be cut independently
		if _, err := t.net.deliverable(target, t.self); err != nil {
			return nil, err
		}
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *inprocTransport) AppendEntries(ctx context.Context, target NodeID, req *AppendEntriesRequest) (*AppendEntriesResponse, error) {
	h, err := t.net.deliverable(t.self, target)
	if err != nil {
		return nil, err
	}

	done := make(chan *AppendEntriesResponse, 1)
	go func() { done <- h.HandleAppendEntries(req) }()

	select {
	case resp := <-done:
		if _, err := t.net.deliverable(target, t.self); err != nil {
			return nil, err
		}
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
