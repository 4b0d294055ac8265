package p2p

import (
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	acceptTimeout    = 10 * time.Second
	handshakeTimeout = 5 * time.Second
	nodeIDLength     = 8
)

// NodeID derives this node's 8-hex-character identifier from its
// advertised host and port, per the wire spec: the first 8 hex
// characters of SHA-512(host + port).
func NodeID(host, port string) string {
	sum := sha512.Sum512([]byte(host + port))
	return hex.EncodeToString(sum[:])[:nodeIDLength]
}

// Server accepts inbound connections and dials outbound ones, keeping
// separate registries for each so the gossip layer can tell who
// initiated a session. It knows nothing about frame contents; messages
// are handed off to OnMessage unparsed.
type Server struct {
	nodeID   string
	listener net.Listener
	log      *logrus.Entry

	mu       sync.Mutex
	inbound  map[string]*Connection
	outbound map[string]*Connection

	dialing atomic.Bool

	OnConnected    func(c *Connection)
	OnMessage      func(c *Connection, frame []byte)
	OnDisconnected func(c *Connection)
}

// NewServer creates a server identified by nodeID. Call Listen to start
// accepting connections.
func NewServer(nodeID string) *Server {
	return &Server{
		nodeID:   nodeID,
		log:      logrus.WithField("component", "peer"),
		inbound:  make(map[string]*Connection),
		outbound: make(map[string]*Connection),
	}
}

// Listen binds addr and starts the accept loop on its own goroutine.
func (s *Server) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	s.listener = ln
	go s.acceptLoop()
	return nil
}

// Shutdown closes the listener and every registered connection.
func (s *Server) Shutdown() {
	if s.listener != nil {
		s.listener.Close()
	}
	s.mu.Lock()
	conns := make([]*Connection, 0, len(s.inbound)+len(s.outbound))
	for _, c := range s.inbound {
		conns = append(conns, c)
	}
	for _, c := range s.outbound {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		c.Close()
	}
}

func (s *Server) acceptLoop() {
	for {
		if tcpLn, ok := s.listener.(*net.TCPListener); ok {
			tcpLn.SetDeadline(time.Now().Add(acceptTimeout))
		}
		conn, err := s.listener.Accept()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			s.log.WithError(err).Info("accept loop stopping")
			return
		}
		go s.handleInbound(conn)
	}
}

func (s *Server) handleInbound(raw net.Conn) {
	remoteID, err := exchangeNodeID(raw, s.nodeID)
	if err != nil {
		s.log.WithError(err).Warn("inbound handshake failed")
		raw.Close()
		return
	}

	c := newConnection(raw, remoteID, true, s.dispatchMessage, s.dispatchClose)
	s.mu.Lock()
	s.inbound[remoteID] = c
	s.mu.Unlock()

	s.log.WithFields(logrus.Fields{"peer": remoteID, "session": c.SessionID()}).Info("inbound peer connected")
	if s.OnConnected != nil {
		s.OnConnected(c)
	}
	c.receiveLoop()
}

// Dial connects to addr, exchanges node ids, and registers the resulting
// connection as outbound. Only one outbound dial may be in flight at a
// time process-wide; concurrent callers get an error rather than
// queueing, matching the single "connecting thread" slot of §5.
func (s *Server) Dial(addr string) (*Connection, error) {
	if !s.dialing.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("dial %s: another outbound dial is already in flight", addr)
	}
	defer s.dialing.Store(false)

	raw, err := net.DialTimeout("tcp", addr, handshakeTimeout)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	remoteID, err := exchangeNodeID(raw, s.nodeID)
	if err != nil {
		raw.Close()
		return nil, fmt.Errorf("dial %s: handshake: %w", addr, err)
	}

	c := newConnection(raw, remoteID, false, s.dispatchMessage, s.dispatchClose)
	s.mu.Lock()
	s.outbound[remoteID] = c
	s.mu.Unlock()

	s.log.WithFields(logrus.Fields{"peer": remoteID, "session": c.SessionID()}).Info("outbound peer connected")
	if s.OnConnected != nil {
		s.OnConnected(c)
	}
	go c.receiveLoop()
	return c, nil
}

func (s *Server) dispatchMessage(c *Connection, frame []byte) {
	if s.OnMessage != nil {
		s.OnMessage(c, frame)
	}
}

func (s *Server) dispatchClose(c *Connection) {
	s.mu.Lock()
	delete(s.inbound, c.ID())
	delete(s.outbound, c.ID())
	s.mu.Unlock()
	s.log.WithField("peer", c.ID()).Info("peer disconnected")
	if s.OnDisconnected != nil {
		s.OnDisconnected(c)
	}
}

// Inbound returns a snapshot of currently registered inbound peers.
func (s *Server) Inbound() []*Connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Connection, 0, len(s.inbound))
	for _, c := range s.inbound {
		out = append(out, c)
	}
	return out
}

// Outbound returns a snapshot of currently registered outbound peers.
func (s *Server) Outbound() []*Connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Connection, 0, len(s.outbound))
	for _, c := range s.outbound {
		out = append(out, c)
	}
	return out
}

// PeerCount returns the total number of registered peers, inbound and
// outbound combined.
func (s *Server) PeerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inbound) + len(s.outbound)
}

func exchangeNodeID(conn net.Conn, localID string) (string, error) {
	conn.SetDeadline(time.Now().Add(handshakeTimeout))
	defer conn.SetDeadline(time.Time{})

	if _, err := conn.Write([]byte(localID)); err != nil {
		return "", err
	}
	buf := make([]byte, 4096)
	n, err := conn.Read(buf)
	if err != nil {
		return "", err
	}
	return string(buf[:n]), nil
}
