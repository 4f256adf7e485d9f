// Package ws manages WebSocket connections for the matchmaking engine:
// upgrading HTTP requests, admission control with application close codes,
// epoll-based read readiness on Linux, and a bounded worker pool for frame
// reading. It knows nothing about matching; the application layer attaches
// callbacks for connect, message, and disconnect.
package ws

import (
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"
)

// Config holds tunable parameters for the WebSocket server.
type Config struct {
	WorkerPoolSize int           // max concurrent read-worker goroutines
	MaxConnections int           // hard cap on total connections
	ReadTimeout    time.Duration // timeout for WebSocket read operations
	WriteTimeout   time.Duration // timeout for WebSocket write operations
}

// DefaultConfig returns a Config with sensible production defaults.
func DefaultConfig() Config {
	return Config{
		WorkerPoolSize: 256,
		MaxConnections: 100000,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
	}
}

// Handlers are the application callbacks the server invokes. Admit runs
// before a connection is accepted: a non-zero code refuses the connection,
// which is upgraded just long enough to deliver the close code and reason.
// OnConnect and OnDisconnect bracket a connection's lifetime; OnMessage is
// called from a worker goroutine per complete text frame.
type Handlers struct {
	Admit        func(ip string) (code uint16, reason string)
	OnConnect    func(c *Connection)
	OnMessage    func(c *Connection, data []byte)
	OnDisconnect func(connID string)
}

// Server is the WebSocket layer built on gobwas/ws and Linux epoll. It does
// not own an HTTP listener; mount HandleUpgrade on the application's mux.
type Server struct {
	config     Config
	epoll      *Epoll
	conns      *ConnectionManager
	handlers   Handlers
	workerPool chan struct{} // semaphore limiting concurrent read workers
	done       chan struct{}
	startedAt  time.Time
}

// NewServer creates a Server with the given configuration and callbacks.
func NewServer(config Config, handlers Handlers) *Server {
	return &Server{
		config:     config,
		conns:      NewConnectionManager(),
		handlers:   handlers,
		workerPool: make(chan struct{}, config.WorkerPoolSize),
		done:       make(chan struct{}),
	}
}

// SetHandlers assigns the application callbacks. Supports the wiring order
// where the server must exist before the coordinator that drives it. Call
// before Start.
func (s *Server) SetHandlers(handlers Handlers) {
	s.handlers = handlers
}

// Start initializes the epoll instance and launches the event loop and
// heartbeat monitor in background goroutines. It returns immediately.
func (s *Server) Start() error {
	var err error
	s.epoll, err = NewEpoll()
	if err != nil {
		return fmt.Errorf("ws: failed to create epoll: %w", err)
	}

	s.startedAt = time.Now()

	go s.eventLoop()
	StartHeartbeat(s, DefaultHeartbeatConfig())

	log.Printf("ws: server started (workers=%d, max_conns=%d)",
		s.config.WorkerPoolSize, s.config.MaxConnections)
	return nil
}

// HandleUpgrade is the HTTP handler for the WebSocket endpoint. It resolves
// the client IP, runs admission, upgrades the connection, and registers it
// with the connection manager and epoll.
func (s *Server) HandleUpgrade(w http.ResponseWriter, r *http.Request) {
	if s.conns.Count() >= s.config.MaxConnections {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	ip := ClientIP(r)

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		log.Printf("ws: upgrade failed ip=%s: %v", ip, err)
		return
	}

	// Admission check. The connection is already upgraded so the refusal
	// arrives as a WebSocket close frame with an application code.
	if s.handlers.Admit != nil {
		if code, reason := s.handlers.Admit(ip); code != 0 {
			refuse(conn, code, reason)
			return
		}
	}

	fd := socketFD(conn)
	connID := uuid.New().String()

	c := &Connection{
		ID:        connID,
		IP:        ip,
		Conn:      conn,
		Fd:        fd,
		CreatedAt: time.Now(),
		LastPing:  time.Now(),
	}

	s.conns.Add(c)
	if err := s.epoll.Add(conn); err != nil {
		log.Printf("ws: epoll add failed conn=%s: %v", connID, err)
		s.conns.Remove(connID)
		return
	}

	if s.handlers.OnConnect != nil {
		s.handlers.OnConnect(c)
	}

	log.Printf("ws: new connection conn=%s ip=%s fd=%d (total=%d)", connID, ip, fd, s.conns.Count())
}

// refuse sends a close frame carrying an application close code and reason,
// then closes the socket.
func refuse(conn net.Conn, code uint16, reason string) {
	frame := ws.NewCloseFrame(ws.NewCloseFrameBody(ws.StatusCode(code), reason))
	_ = conn.SetWriteDeadline(time.Now().Add(3 * time.Second))
	_ = ws.WriteFrame(conn, frame)
	_ = conn.Close()
}

// ClientIP resolves the client address from the X-Forwarded-For header when
// present (first hop), falling back to the request's remote address.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			fwd = fwd[:i]
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// eventLoop runs the epoll wait loop, dispatching each ready connection to a
// worker goroutine bounded by the pool semaphore.
func (s *Server) eventLoop() {
	for {
		select {
		case <-s.done:
			return
		default:
		}

		conns, err := s.epoll.Wait()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
				// EINTR is expected during signal handling.
				if isEINTR(err) {
					continue
				}
				log.Printf("ws: epoll wait error: %v", err)
				continue
			}
		}

		for _, conn := range conns {
			conn := conn

			s.workerPool <- struct{}{}
			go func() {
				defer func() { <-s.workerPool }()
				s.readFrame(conn)
			}()
		}
	}
}

// readFrame reads a single WebSocket frame from a ready connection using
// wsutil.NextReader so control frames are handled without blocking on a data
// frame that may never arrive. Read failures remove the connection.
func (s *Server) readFrame(netConn net.Conn) {
	c := s.conns.GetByConn(netConn)
	if c == nil {
		return
	}

	// Guard against duplicate dispatch from level-triggered epoll.
	if !atomic.CompareAndSwapInt32(&c.processing, 0, 1) {
		return
	}
	defer atomic.StoreInt32(&c.processing, 0)

	if s.config.ReadTimeout > 0 {
		_ = netConn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
	}

	header, reader, err := wsutil.NextReader(netConn, ws.StateServerSide)
	if err != nil {
		// A read timeout means no data was available (stale epoll dispatch).
		// The heartbeat handles genuinely dead connections.
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			return
		}
		s.RemoveConnection(c)
		return
	}

	_ = netConn.SetReadDeadline(time.Time{})

	// Any frame proves the connection is alive.
	c.LastPing = time.Now()

	if header.OpCode.IsControl() {
		if header.OpCode == ws.OpClose {
			s.RemoveConnection(c)
		}
		return
	}

	data := make([]byte, header.Length)
	if header.Length > 0 {
		if _, err := io.ReadFull(reader, data); err != nil {
			s.RemoveConnection(c)
			return
		}
	}
	if len(data) == 0 {
		return
	}

	if s.handlers.OnMessage != nil {
		s.handlers.OnMessage(c, data)
	}
}

// RemoveConnection removes a connection from epoll and the connection
// manager, closes the socket, and notifies the application layer. Exported
// so the heartbeat monitor can evict dead connections.
func (s *Server) RemoveConnection(c *Connection) {
	_ = s.epoll.Remove(c.Conn)

	// Only one of the racing removers (read error, heartbeat timeout,
	// forced close) proceeds past this point.
	if !s.conns.Remove(c.ID) {
		return
	}

	if s.handlers.OnDisconnect != nil {
		s.handlers.OnDisconnect(c.ID)
	}

	log.Printf("ws: connection closed conn=%s (total=%d)", c.ID, s.conns.Count())
}

// SendMessage writes a WebSocket text frame to the connection identified by
// connID. Goroutine-safe via the per-connection write mutex.
func (s *Server) SendMessage(connID string, data []byte) error {
	c := s.conns.Get(connID)
	if c == nil {
		return fmt.Errorf("ws: connection %s not found", connID)
	}

	if s.config.WriteTimeout > 0 {
		_ = c.Conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	}

	err := c.WriteMessage(data)

	// Clear the deadline so it does not affect heartbeat pings.
	_ = c.Conn.SetWriteDeadline(time.Time{})

	return err
}

// ForceClose closes the identified connection with the given application
// close code. Used when a connected user becomes banned.
func (s *Server) ForceClose(connID string, code uint16, reason string) {
	c := s.conns.Get(connID)
	if c == nil {
		return
	}
	c.writeMu.Lock()
	frame := ws.NewCloseFrame(ws.NewCloseFrameBody(ws.StatusCode(code), reason))
	_ = c.Conn.SetWriteDeadline(time.Now().Add(3 * time.Second))
	_ = ws.WriteFrame(c.Conn, frame)
	c.writeMu.Unlock()
	s.RemoveConnection(c)
}

// Connections returns the ConnectionManager for external access (heartbeat,
// stats).
func (s *Server) Connections() *ConnectionManager {
	return s.conns
}

// Uptime reports how long the server has been running.
func (s *Server) Uptime() time.Duration {
	return time.Since(s.startedAt)
}

// Shutdown signals the event loop to exit, closes all active connections,
// and releases the epoll instance.
func (s *Server) Shutdown() error {
	log.Println("ws: shutting down...")

	close(s.done)

	for _, c := range s.conns.All() {
		_ = s.epoll.Remove(c.Conn)
		c.Close()
	}

	if s.epoll != nil {
		_ = s.epoll.Close()
	}

	log.Printf("ws: server stopped, all connections closed")
	return nil
}

// isEINTR reports whether the error is an interrupted syscall, which is
// expected during signal handling and should be retried.
func isEINTR(err error) bool {
	if err == nil {
		return false
	}
	return err.Error() == "interrupted system call" ||
		err.Error() == "errno 4"
}
