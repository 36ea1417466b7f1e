package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/sameehj/execbridge/pkg/mcp"
	"github.com/sameehj/execbridge/pkg/tool"
)

func TestAllowlistAuthorizer(t *testing.T) {
	t.Parallel()

	a := AllowlistAuthorizer{Allowed: []string{"127.0.0.1", "10.0.0.0/8", "[::1]:4000"}}
	cases := []struct {
		remote string
		allow  bool
	}{
		{"127.0.0.1:5555", true},
		{"10.20.30.40:1", true},
		{"[::1]:4000", true},
		{"[::1]:4001", false},
		{"192.168.1.5:80", false},
	}
	for _, tc := range cases {
		err := a.Allow(context.Background(), tc.remote)
		if (err == nil) != tc.allow {
			t.Errorf("Allow(%q) = %v, want allow=%v", tc.remote, err, tc.allow)
		}
	}
	if err := (AllowlistAuthorizer{}).Allow(context.Background(), "8.8.8.8:53"); err != nil {
		t.Fatalf("empty allowlist should admit everyone: %v", err)
	}
}

func TestGatewayServesSessions(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("cannot listen: %v", err)
	}
	srv := NewServer(ln.Addr().String(), mcp.NewServer(tool.NewRegistry(), "execbridge", "test"), AllowlistAuthorizer{Allowed: []string{"127.0.0.1"}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

	if _, err := conn.Write([]byte(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}` + "\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var resp map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(line)), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["id"] != float64(1) || resp["result"] == nil {
		t.Fatalf("unexpected response %v", resp)
	}
	if sessions := srv.ListSessions(); len(sessions) != 1 || sessions[0].ID == "" {
		t.Fatalf("expected one registered session, got %+v", sessions)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("gateway did not stop after cancellation")
	}
	if n := len(srv.ListSessions()); n != 0 {
		t.Fatalf("expected sessions to be closed, %d left", n)
	}
}

func TestGatewayEnforcesSessionLimit(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("cannot listen: %v", err)
	}
	srv := NewServer(ln.Addr().String(), mcp.NewServer(tool.NewRegistry(), "execbridge", "test"), nil)
	srv.SetMaxSessions(1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = srv.Serve(ctx, ln) }()

	first, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial first: %v", err)
	}
	defer first.Close()
	deadline := time.Now().Add(5 * time.Second)
	for len(srv.ListSessions()) != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("first session never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	second, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial second: %v", err)
	}
	defer second.Close()
	_ = second.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, err := second.Read(make([]byte, 1)); err == nil {
		t.Fatalf("expected the second connection to be closed by the gateway")
	}
}
