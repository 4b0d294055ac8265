// Package p2p is the transport layer: framed TCP connections between
// nodes, and the server that accepts and dials them. It knows nothing
// about the meaning of a frame's contents; that's the gossip package's
// job.
package p2p

import (
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// FrameTerminator ends every frame on the wire. Frames are newline-free
// JSON objects, so a literal marker works as a delimiter even though it
// isn't length-prefixed.
const FrameTerminator = "-TSN"

// DefaultPort is the TCP port nodes listen on absent other configuration.
const DefaultPort = 54846

const recvPollInterval = time.Second

// Connection wraps one peer's socket: a send path guarded by a mutex (so
// concurrent senders don't interleave writes) and a receive loop that
// reassembles frames split across TCP reads.
type Connection struct {
	conn      net.Conn
	id        string
	sessionID string
	inbound   bool

	mu   sync.Mutex
	sendMu sync.Mutex

	version     string
	blockHeight int64

	terminate atomic.Bool
	lastSend  atomic.Int64
	lastRecv  atomic.Int64

	onMessage func(*Connection, []byte)
	onClose   func(*Connection)
}

func newConnection(conn net.Conn, id string, inbound bool, onMessage func(*Connection, []byte), onClose func(*Connection)) *Connection {
	return &Connection{conn: conn, id: id, sessionID: uuid.NewString(), inbound: inbound, onMessage: onMessage, onClose: onClose}
}

// ID returns the peer's 8-hex-character node id, exchanged at handshake.
func (c *Connection) ID() string { return c.id }

// SessionID is a process-local identifier for this socket, distinct
// from the peer's node id. It exists purely to correlate log lines for
// a single TCP connection across reconnects, since the same peer's
// node id is stable but its connection is not.
func (c *Connection) SessionID() string { return c.sessionID }

// Inbound reports whether this connection was accepted (true) or dialed
// by us (false).
func (c *Connection) Inbound() bool { return c.inbound }

// RemoteAddr returns the remote socket address as a string.
func (c *Connection) RemoteAddr() string { return c.conn.RemoteAddr().String() }

// Version returns the peer's last announced protocol version, or "" if
// no version frame has been received yet.
func (c *Connection) Version() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.version
}

// SetVersion records the peer's announced protocol version.
func (c *Connection) SetVersion(v string) {
	c.mu.Lock()
	c.version = v
	c.mu.Unlock()
}

// BlockHeight returns the peer's last announced chain height.
func (c *Connection) BlockHeight() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.blockHeight
}

// SetBlockHeight records the peer's last announced chain height.
func (c *Connection) SetBlockHeight(h int64) {
	c.mu.Lock()
	c.blockHeight = h
	c.mu.Unlock()
}

// Send writes one frame, terminator included.
func (c *Connection) Send(frame string) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if _, err := c.conn.Write([]byte(frame + FrameTerminator)); err != nil {
		c.terminate.Store(true)
		return err
	}
	c.lastSend.Store(time.Now().UnixNano())
	return nil
}

// Close terminates the connection and its receive loop.
func (c *Connection) Close() {
	c.terminate.Store(true)
	c.conn.Close()
}

// receiveLoop reads until the connection is closed or told to stop,
// splitting the accumulated buffer on the frame terminator and
// dispatching each complete frame. A short read deadline is used so the
// terminate flag gets checked regularly instead of blocking forever in
// Read.
func (c *Connection) receiveLoop() {
	buf := make([]byte, 4096)
	var pending strings.Builder

	for !c.terminate.Load() {
		c.conn.SetReadDeadline(time.Now().Add(recvPollInterval))
		n, err := c.conn.Read(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			break
		}
		if n == 0 {
			continue
		}
		c.lastRecv.Store(time.Now().UnixNano())
		pending.Write(buf[:n])

		content := pending.String()
		pending.Reset()
		for {
			idx := strings.Index(content, FrameTerminator)
			if idx < 0 {
				pending.WriteString(content)
				break
			}
			frame := content[:idx]
			content = content[idx+len(FrameTerminator):]
			if c.onMessage != nil {
				c.onMessage(c, []byte(frame))
			}
		}
	}

	c.terminate.Store(true)
	if c.onClose != nil {
		c.onClose(c)
	}
}
