package servertest

import (
	"encoding/binary"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/xrdc/rpc/common"
	"github.com/ValentinKolb/xrdc/rpc/serializer"
	"github.com/ValentinKolb/xrdc/rpc/wire"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("xrdc/servertest")

// --------------------------------------------------------------------------
// Types
// --------------------------------------------------------------------------

// Request is one request frame received by the server
type Request struct {
	ConnID   int
	StreamID uint16
	Code     common.RequestCode
	Body     []byte
	Decoded  *common.Request // nil if the body could not be decoded
}

// Reply is one frame sent in answer to a request
type Reply struct {
	Status wire.Status
	Body   []byte
	Delay  time.Duration // sleep before sending
	// Close drops the connection instead of sending a frame
	Close bool
}

// HandlerFunc scripts the answer to a request. Returning nil falls back to the
// built-in data server behaviour.
type HandlerFunc func(req Request) []Reply

// Options configure a server
type Options struct {
	Role            common.ServerRole
	ProtocolVersion uint32
	// Legacy answers the handshake with a non-extended type word
	Legacy bool
	// Mechanisms are offered in the login reply, empty means no authentication
	Mechanisms []serializer.Mechanism
	// ChunkSize splits read and dirlist replies into OkSoFar parts (0 = one frame)
	ChunkSize int
	// Files served by the built-in handler
	Files map[string][]byte
}

// Server is a scriptable fake server speaking the wire protocol. It is meant
// for tests and is deliberately tolerant: every request is answered by the
// handler, there is no session state besides open file handles.
type Server struct {
	opts     Options
	listener net.Listener
	ser      serializer.IRPCSerializer

	mu       sync.Mutex
	handler  HandlerFunc
	requests []Request
	conns    map[int]*serverConn
	handles  map[common.FileHandle]string
	nextConn int

	accepted   atomic.Int32
	nextHandle atomic.Uint32
	wg         sync.WaitGroup
}

// serverConn is one accepted client connection
type serverConn struct {
	id      int
	conn    net.Conn
	writeMu sync.Mutex
}

// --------------------------------------------------------------------------
// Server Factory Method
// --------------------------------------------------------------------------

// Start listens on network/address ("tcp", "127.0.0.1:0" or "unix", path) and serves in the background
func Start(network, address string, opts Options) (*Server, error) {
	listener, err := net.Listen(network, address)
	if err != nil {
		return nil, err
	}
	if opts.ProtocolVersion == 0 {
		opts.ProtocolVersion = 0x500
	}
	if opts.Role == common.RoleUnknown {
		opts.Role = common.RoleDataServer
	}

	s := &Server{
		opts:     opts,
		listener: listener,
		ser:      serializer.NewBinarySerializer(),
		conns:    make(map[int]*serverConn),
		handles:  make(map[common.FileHandle]string),
	}

	s.wg.Add(1)
	go s.acceptLoop()
	return s, nil
}

// --------------------------------------------------------------------------
// Public Methods
// --------------------------------------------------------------------------

// Endpoint returns the listen address (host:port for tcp, the path for unix)
func (s *Server) Endpoint() string {
	return s.listener.Addr().String()
}

// Handle installs the request handler
func (s *Server) Handle(fn HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = fn
}

// Requests returns a copy of all requests received so far (handshakes excluded)
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// RequestsWithCode returns the received requests with the given code
func (s *Server) RequestsWithCode(code common.RequestCode) []Request {
	var out []Request
	for _, r := range s.Requests() {
		if r.Code == code {
			out = append(out, r)
		}
	}
	return out
}

// Accepted returns the number of accepted connections
func (s *Server) Accepted() int {
	return int(s.accepted.Load())
}

// OpenConnections returns the number of client connections not yet closed
func (s *Server) OpenConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Notify sends an unsolicited notice to every connected client
func (s *Server) Notify(action int32, params []byte) {
	msg := wire.NewMessage(0, wire.StatusAttn{Action: action, Params: params}, nil)
	for _, c := range s.connections() {
		s.send(c, msg)
	}
}

// DropConnections closes all client connections, the listener stays open
func (s *Server) DropConnections() {
	for _, c := range s.connections() {
		_ = c.conn.Close()
	}
}

// Close stops the listener, drops all connections and waits for the handlers
func (s *Server) Close() {
	_ = s.listener.Close()
	s.DropConnections()
	s.wg.Wait()
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		s.accepted.Add(1)

		s.mu.Lock()
		s.nextConn++
		c := &serverConn{id: s.nextConn, conn: conn}
		s.conns[c.id] = c
		s.mu.Unlock()

		s.wg.Add(1)
		go s.handleConnection(c)
	}
}

// handleConnection runs the handshake and then answers requests until the client disconnects
func (s *Server) handleConnection(c *serverConn) {
	defer s.wg.Done()
	defer func() {
		_ = c.conn.Close()
		s.mu.Lock()
		delete(s.conns, c.id)
		s.mu.Unlock()
	}()

	hello := make([]byte, wire.HandshakeRequestSize)
	if _, err := io.ReadFull(c.conn, hello); err != nil || !wire.IsHandshakeRequest(hello) {
		Logger.Warningf("invalid handshake on connection %d", c.id)
		return
	}
	if s.opts.Legacy {
		legacy := make([]byte, wire.HandshakeTypeSize)
		binary.BigEndian.PutUint32(legacy, 8)
		_, _ = c.conn.Write(legacy)
		return
	}
	if _, err := c.conn.Write(wire.HandshakeReply(s.opts.ProtocolVersion, s.opts.Role)); err != nil {
		return
	}

	var workers sync.WaitGroup
	defer workers.Wait()

	for {
		h, body, err := wire.ReadRequest(c.conn)
		if err != nil {
			return
		}

		req := Request{ConnID: c.id, StreamID: h.StreamID, Code: common.RequestCode(h.Code), Body: body}
		if decoded, err := s.ser.Deserialize(req.Code, body); err == nil {
			req.Decoded = decoded
		}

		s.mu.Lock()
		s.requests = append(s.requests, req)
		handler := s.handler
		s.mu.Unlock()

		// every request is processed in its own goroutine, replies may interleave
		workers.Add(1)
		go func() {
			defer workers.Done()
			var replies []Reply
			if handler != nil {
				replies = handler(req)
			}
			if replies == nil {
				replies = s.builtin(req)
			}
			for _, r := range replies {
				if r.Delay > 0 {
					time.Sleep(r.Delay)
				}
				if r.Close {
					_ = c.conn.Close()
					return
				}
				s.send(c, wire.NewMessage(req.StreamID, r.Status, r.Body))
			}
		}()
	}
}

func (s *Server) send(c *serverConn, msg *wire.Message) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.conn.Write(msg.Marshal()); err != nil {
		Logger.Debugf("write to connection %d failed: %v", c.id, err)
	}
}

func (s *Server) connections() []*serverConn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*serverConn, 0, len(s.conns))
	for _, c := range s.conns {
		out = append(out, c)
	}
	return out
}
