package ws

import (
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// nopConn satisfies net.Conn for manager tests that never touch the socket.
type nopConn struct{}

func (nopConn) Read(b []byte) (int, error)         { return 0, nil }
func (nopConn) Write(b []byte) (int, error)        { return len(b), nil }
func (nopConn) Close() error                       { return nil }
func (nopConn) LocalAddr() net.Addr                { return nil }
func (nopConn) RemoteAddr() net.Addr               { return nil }
func (nopConn) SetDeadline(t time.Time) error      { return nil }
func (nopConn) SetReadDeadline(t time.Time) error  { return nil }
func (nopConn) SetWriteDeadline(t time.Time) error { return nil }

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		forwarded  string
		remoteAddr string
		want       string
	}{
		{"remote addr only", "", "203.0.113.9:54321", "203.0.113.9"},
		{"single forwarded hop", "198.51.100.4", "10.0.0.1:80", "198.51.100.4"},
		{"forwarded chain takes first", "198.51.100.4, 10.0.0.2", "10.0.0.1:80", "198.51.100.4"},
		{"forwarded with spaces", "  198.51.100.4  ", "10.0.0.1:80", "198.51.100.4"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/ws", nil)
			r.RemoteAddr = tt.remoteAddr
			if tt.forwarded != "" {
				r.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			if got := ClientIP(r); got != tt.want {
				t.Errorf("ClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestConnectionManagerRemoveIdempotent(t *testing.T) {
	cm := NewConnectionManager()
	c := &Connection{ID: "c1", Fd: 7, Conn: nopConn{}}
	cm.Add(c)

	if cm.Count() != 1 {
		t.Fatalf("expected 1 connection, got %d", cm.Count())
	}
	if !cm.Remove("c1") {
		t.Fatal("first Remove should report the connection was present")
	}
	if cm.Remove("c1") {
		t.Fatal("second Remove should report the connection was already gone")
	}
	if cm.Get("c1") != nil {
		t.Fatal("removed connection still resolvable by ID")
	}
}

func TestConnectionManagerLookups(t *testing.T) {
	cm := NewConnectionManager()
	cm.Add(&Connection{ID: "a", Fd: 3, Conn: nopConn{}})
	cm.Add(&Connection{ID: "b", Fd: 4, Conn: nopConn{}})

	if got := cm.GetByFd(4); got == nil || got.ID != "b" {
		t.Fatalf("GetByFd(4) = %v, want connection b", got)
	}
	if got := len(cm.All()); got != 2 {
		t.Fatalf("All() returned %d connections, want 2", got)
	}
}
