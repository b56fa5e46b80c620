package raft

import (
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	gometrics "github.com/rcrowley/go-metrics"
	log "github.com/sirupsen/logrus"
)

// --------------------------------------------------------------------------
// TCP Transport
// --------------------------------------------------------------------------

// TCPNetwork connects consensus nodes across machines. One network per
// process: it owns the node's listen address and multiplexes every hosted
// shard over it. Outbound connections are dialed lazily, kept open, and
// re-dialed on the next call after a failure.
type TCPNetwork struct {
	addr     string
	listener net.Listener

	// handlers maps shard name -> inbound handler of the local node
	handlers *xsync.MapOf[string, RPCHandler]

	// peers maps node id -> dialable address
	peers *xsync.MapOf[NodeID, string]

	connMu sync.Mutex
	conns  map[NodeID]*tcpPeerConn

	// acceptedMu guards accepted, the inbound connections currently served.
	// Close must terminate them, otherwise a peer holding a connection to a
	// stopped network keeps getting answers from the dead instance.
	acceptedMu sync.Mutex
	accepted   map[net.Conn]struct{}

	stopOnce sync.Once
	stopc    chan struct{}
}

// tcpEnvelope is one request frame on the wire. Exactly one of Vote and
// Append is set.
type tcpEnvelope struct {
	Shard  string
	Vote   *RequestVoteRequest
	Append *AppendEntriesRequest
}

// tcpReply mirrors the envelope on the response side.
type tcpReply struct {
	Err    string
	Vote   *RequestVoteResponse
	Append *AppendEntriesResponse
}

// tcpPeerConn is a single outbound connection with its codec state. The
// mutex serializes round trips; gob streams are not safe for interleaving.
type tcpPeerConn struct {
	mu   sync.Mutex
	conn net.Conn
	enc  *gob.Encoder
	dec  *gob.Decoder
}

// NewTCPNetwork creates a network that will listen on addr once Start is
// called.
func NewTCPNetwork(addr string) *TCPNetwork {
	return &TCPNetwork{
		addr:     addr,
		handlers: xsync.NewMapOf[string, RPCHandler](),
		peers:    xsync.NewMapOf[NodeID, string](),
		conns:    make(map[NodeID]*tcpPeerConn),
		accepted: make(map[net.Conn]struct{}),
		stopc:    make(chan struct{}),
	}
}

// Start opens the listener and begins accepting inbound connections.
func (n *TCPNetwork) Start() error {
	listener, err := net.Listen("tcp", n.addr)
	if err != nil {
		return fmt.Errorf("raft tcp: failed to listen on %s: %w", n.addr, err)
	}
	n.listener = listener

	log.Infof("consensus transport listening on %s", n.addr)

	go n.acceptLoop()
	return nil
}

// Close stops the listener and drops all connections, inbound and outbound.
func (n *TCPNetwork) Close() error {
	n.stopOnce.Do(func() {
		close(n.stopc)
		if n.listener != nil {
			n.listener.Close()
		}

		n.connMu.Lock()
		for id, pc := range n.conns {
			pc.conn.Close()
			delete(n.conns, id)
		}
		n.connMu.Unlock()

		n.acceptedMu.Lock()
		for conn := range n.accepted {
			conn.Close()
			delete(n.accepted, conn)
		}
		n.acceptedMu.Unlock()
	})
	return nil
}

// Register attaches the local node of a shard so inbound RPCs for that
// shard reach it.
func (n *TCPNetwork) Register(shard string, h RPCHandler) {
	n.handlers.Store(shard, h)
}

// Deregister detaches a shard. Inbound RPCs for it fail afterwards.
func (n *TCPNetwork) Deregister(shard string) {
	n.handlers.Delete(shard)
}

// SetPeer records (or updates) the dialable address of a cluster member.
func (n *TCPNetwork) SetPeer(id NodeID, addr string) {
	n.peers.Store(id, addr)
}

// RemovePeer forgets a member and closes any open connection to it.
func (n *TCPNetwork) RemovePeer(id NodeID) {
	n.peers.Delete(id)

	n.connMu.Lock()
	if pc, ok := n.conns[id]; ok {
		pc.conn.Close()
		delete(n.conns, id)
	}
	n.connMu.Unlock()
}

// Transport returns the sending side for one shard. All shards share the
// same connections; the shard name routes the request on the receiving end.
func (n *TCPNetwork) Transport(shard string) Transport {
	return &tcpTransport{net: n, shard: shard}
}

// --------------------------------------------------------------------------
// Inbound Side
// --------------------------------------------------------------------------

func (n *TCPNetwork) acceptLoop() {
	for {
		conn, err := n.listener.Accept()
		if err != nil {
			select {
			case <-n.stopc:
				return
			default:
			}
			log.Errorf("consensus transport accept error: %v", err)
			continue
		}
		if !n.trackConn(conn) {
			return
		}
		go n.handleConn(conn)
	}
}

// trackConn registers an inbound connection for teardown on Close. A
// connection accepted after shutdown began is closed immediately.
func (n *TCPNetwork) trackConn(conn net.Conn) bool {
	n.acceptedMu.Lock()
	defer n.acceptedMu.Unlock()

	select {
	case <-n.stopc:
		conn.Close()
		return false
	default:
	}
	n.accepted[conn] = struct{}{}
	return true
}

func (n *TCPNetwork) untrackConn(conn net.Conn) {
	n.acceptedMu.Lock()
	delete(n.accepted, conn)
	n.acceptedMu.Unlock()
}

// handleConn serves one inbound connection. Requests on a connection are
// handled sequentially, matching the one-round-trip-at-a-time sending side.
func (n *TCPNetwork) handleConn(conn net.Conn) {
	defer n.untrackConn(conn)
	defer conn.Close()

	dec := gob.NewDecoder(conn)
	enc := gob.NewEncoder(conn)

	for {
		var env tcpEnvelope
		if err := dec.Decode(&env); err != nil {
			return
		}

		var reply tcpReply
		h, ok := n.handlers.Load(env.Shard)
		switch {
		case !ok:
			reply.Err = fmt.Sprintf("unknown shard %q", env.Shard)
		case env.Vote != nil:
			reply.Vote = h.HandleRequestVote(env.Vote)
		case env.Append != nil:
			reply.Append = h.HandleAppendEntries(env.Append)
		default:
			reply.Err = "empty rpc envelope"
		}

		if err := enc.Encode(&reply); err != nil {
			return
		}
	}
}

// --------------------------------------------------------------------------
// Outbound Side
// --------------------------------------------------------------------------

const tcpDialTimeout = time.Second

func (n *TCPNetwork) peerConn(target NodeID) (*tcpPeerConn, error) {
	n.connMu.Lock()
	defer n.connMu.Unlock()

	if pc, ok := n.conns[target]; ok {
		return pc, nil
	}

	addr, ok := n.peers.Load(target)
	if !ok {
		return nil, fmt.Errorf("raft tcp: no address for node %s", target)
	}

	conn, err := net.DialTimeout("tcp", addr, tcpDialTimeout)
	if err != nil {
		return nil, fmt.Errorf("raft tcp: dial %s (%s): %w", target, addr, err)
	}
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		tcpConn.SetNoDelay(true)
	}

	pc := &tcpPeerConn{
		conn: conn,
		enc:  gob.NewEncoder(conn),
		dec:  gob.NewDecoder(conn),
	}
	n.conns[target] = pc
	return pc, nil
}

// dropConn discards a connection after an error so the next round trip
// re-dials.
func (n *TCPNetwork) dropConn(target NodeID, pc *tcpPeerConn) {
	n.connMu.Lock()
	if cur, ok := n.conns[target]; ok && cur == pc {
		delete(n.conns, target)
	}
	n.connMu.Unlock()
	pc.conn.Close()
}

// roundTrip sends one envelope and waits for its reply. Context deadlines
// are mapped onto connection deadlines.
func (n *TCPNetwork) roundTrip(ctx context.Context, target NodeID, env *tcpEnvelope) (*tcpReply, error) {
	pc, err := n.peerConn(target)
	if err != nil {
		return nil, err
	}

	start := time.Now()

	pc.mu.Lock()
	defer pc.mu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		pc.conn.SetDeadline(deadline)
	} else {
		pc.conn.SetDeadline(time.Time{})
	}

	if err := pc.enc.Encode(env); err != nil {
		n.dropConn(target, pc)
		return nil, fmt.Errorf("raft tcp: send to %s: %w", target, err)
	}

	var reply tcpReply
	if err := pc.dec.Decode(&reply); err != nil {
		n.dropConn(target, pc)
		return nil, fmt.Errorf("raft tcp: receive from %s: %w", target, err)
	}

	// Per-peer latency sample
	gometrics.GetOrRegisterTimer("raft.rpc."+string(target), nil).UpdateSince(start)

	if reply.Err != "" {
		return nil, errors.New(reply.Err)
	}
	return &reply, nil
}

// ---- Transport ----

type tcpTransport struct {
	net   *TCPNetwork
	shard string
}

func (t *tcpTransport) RequestVote(ctx context.Context, target NodeID, req *RequestVoteRequest) (*RequestVoteResponse, error) {
	reply, err := t.net.roundTrip(ctx, target, &tcpEnvelope{Shard: t.shard, Vote: req})
	if err != nil {
		return nil, err
	}
	if reply.Vote == nil {
		return nil, fmt.Errorf("raft tcp: malformed vote reply from %s", target)
	}
	return reply.Vote, nil
}

func (t *tcpTransport) AppendEntries(ctx context.Context, target NodeID, req *AppendEntriesRequest) (*AppendEntriesResponse, error) {
	reply, err := t.net.roundTrip(ctx, target, &tcpEnvelope{Shard: t.shard, Append: req})
	if err != nil {
		return nil, err
	}
	if reply.Append == nil {
		return nil, fmt.Errorf("raft tcp: malformed append reply from %s", target)
	}
	return reply.Append, nil
}
