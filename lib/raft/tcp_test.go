package raft

import (
	"context"
	"net"
	"testing"
	"time"
)

func testContext(d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), d)
}

// echoHandler answers every RPC with fixed responses so the wire path can
// be verified without a full node.
type echoHandler struct {
	voteResp   RequestVoteResponse
	appendResp AppendEntriesResponse
}

func (h *echoHandler) HandleRequestVote(req *RequestVoteRequest) *RequestVoteResponse {
	resp := h.voteResp
	return &resp
}

func (h *echoHandler) HandleAppendEntries(req *AppendEntriesRequest) *AppendEntriesResponse {
	resp := h.appendResp
	return &resp
}

// freeAddr reserves a localhost port and returns it as an address string.
func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to reserve port: %v", err)
	}
	addr := l.Addr().String()
	l.Close()
	return addr
}

func TestTCPNetworkRoundTrip(t *testing.T) {
	addrA := freeAddr(t)
	addrB := freeAddr(t)

	netA := NewTCPNetwork(addrA)
	netB := NewTCPNetwork(addrB)

	if err := netA.Start(); err != nil {
		t.Fatalf("failed to start network a: %v", err)
	}
	defer netA.Close()
	if err := netB.Start(); err != nil {
		t.Fatalf("failed to start network b: %v", err)
	}
	defer netB.Close()

	handler := &echoHandler{
		voteResp:   RequestVoteResponse{Term: 7, Granted: true},
		appendResp: AppendEntriesResponse{Term: 7, Success: true, MatchIndex: 42},
	}
	netB.Register("shard-0", handler)
	netA.SetPeer("b", addrB)

	trans := netA.Transport("shard-0")
	ctx, cancel := testContext(time.Second)
	defer cancel()

	voteResp, err := trans.RequestVote(ctx, "b", &RequestVoteRequest{Term: 7, Candidate: "a"})
	if err != nil {
		t.Fatalf("request vote failed: %v", err)
	}
	if voteResp.Term != 7 || !voteResp.Granted {
		t.Errorf("unexpected vote response: %+v", voteResp)
	}

	appendResp, err := trans.AppendEntries(ctx, "b", &AppendEntriesRequest{
		Term:   7,
		Leader: "a",
		Entries: []LogEntry{
			{Index: 1, Term: 7, Type: EntryNormal, Command: []byte("cmd")},
		},
	})
	if err != nil {
		t.Fatalf("append entries failed: %v", err)
	}
	if appendResp.MatchIndex != 42 {
		t.Errorf("expected match index 42, got %d", appendResp.MatchIndex)
	}
}

func TestTCPNetworkUnknownShard(t *testing.T) {
	addrA := freeAddr(t)
	addrB := freeAddr(t)

	netA := NewTCPNetwork(addrA)
	netB := NewTCPNetwork(addrB)

	if err := netA.Start(); err != nil {
		t.Fatalf("failed to start network a: %v", err)
	}
	defer netA.Close()
	if err := netB.Start(); err != nil {
		t.Fatalf("failed to start network b: %v", err)
	}
	defer netB.Close()

	netA.SetPeer("b", addrB)

	trans := netA.Transport("shard-99")
	ctx, cancel := testContext(time.Second)
	defer cancel()

	if _, err := trans.RequestVote(ctx, "b", &RequestVoteRequest{Term: 1, Candidate: "a"}); err == nil {
		t.Fatal("expected error for unregistered shard")
	}
}

func TestTCPNetworkUnknownPeer(t *testing.T) {
	netA := NewTCPNetwork(freeAddr(t))
	if err := netA.Start(); err != nil {
		t.Fatalf("failed to start network: %v", err)
	}
	defer netA.Close()

	trans := netA.Transport("shard-0")
	ctx, cancel := testContext(time.Second)
	defer cancel()

	if _, err := trans.RequestVote(ctx, "nobody", &RequestVoteRequest{Term: 1}); err == nil {
		t.Fatal("expected error for unknown peer")
	}
}

func TestTCPNetworkCloseDropsInboundConns(t *testing.T) {
	addrA := freeAddr(t)
	addrB := freeAddr(t)

	netA := NewTCPNetwork(addrA)
	if err := netA.Start(); err != nil {
		t.Fatalf("failed to start network a: %v", err)
	}
	defer netA.Close()

	netB := NewTCPNetwork(addrB)
	if err := netB.Start(); err != nil {
		t.Fatalf("failed to start network b: %v", err)
	}
	netB.Register("shard-0", &echoHandler{voteResp: RequestVoteResponse{Term: 1, Granted: true}})

	netA.SetPeer("b", addrB)
	trans := netA.Transport("shard-0")

	// Establish an inbound connection on b
	ctx, cancel := testContext(time.Second)
	if _, err := trans.RequestVote(ctx, "b", &RequestVoteRequest{Term: 1}); err != nil {
		t.Fatalf("first request failed: %v", err)
	}
	cancel()

	// A closed network must stop answering on connections it already
	// accepted, not only stop accepting new ones
	netB.Close()

	deadline := time.Now().Add(2 * time.Second)
	for {
		ctx, cancel := testContext(200 * time.Millisecond)
		_, err := trans.RequestVote(ctx, "b", &RequestVoteRequest{Term: 1})
		cancel()
		if err != nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("closed network still answers on an established connection")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestTCPNetworkReconnects(t *testing.T) {
	addrA := freeAddr(t)
	addrB := freeAddr(t)

	netA := NewTCPNetwork(addrA)
	if err := netA.Start(); err != nil {
		t.Fatalf("failed to start network a: %v", err)
	}
	defer netA.Close()

	netB := NewTCPNetwork(addrB)
	if err := netB.Start(); err != nil {
		t.Fatalf("failed to start network b: %v", err)
	}
	netB.Register("shard-0", &echoHandler{voteResp: RequestVoteResponse{Term: 1, Granted: true}})

	netA.SetPeer("b", addrB)
	trans := netA.Transport("shard-0")

	ctx, cancel := testContext(time.Second)
	if _, err := trans.RequestVote(ctx, "b", &RequestVoteRequest{Term: 1}); err != nil {
		t.Fatalf("first request failed: %v", err)
	}
	cancel()

	// Kill b and bring it back on the same address
	netB.Close()
	time.Sleep(50 * time.Millisecond)

	netB2 := NewTCPNetwork(addrB)
	if err := netB2.Start(); err != nil {
		t.Fatalf("failed to restart network b: %v", err)
	}
	defer netB2.Close()
	netB2.Register("shard-0", &echoHandler{voteResp: RequestVoteResponse{Term: 2, Granted: true}})

	// The stale connection fails once, the next attempt re-dials
	deadline := time.Now().Add(2 * time.Second)
	for {
		ctx, cancel := testContext(500 * time.Millisecond)
		resp, err := trans.RequestVote(ctx, "b", &RequestVoteRequest{Term: 2})
		cancel()
		if err == nil && resp.Term == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("never reconnected, last error: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}
}
