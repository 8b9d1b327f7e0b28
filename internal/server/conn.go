package server

import (
	"io"
	"net"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Conn abstracts a client connection for the engine. Implementations
// deliver raw stream bytes in arbitrary-sized chunks; framing happens
// above this interface, so TCP and WebSocket peers speak the identical
// length-prefixed protocol.
type Conn interface {
	// Read returns the next chunk of stream bytes.
	// Returns io.EOF when the peer closed the connection.
	Read() ([]byte, error)

	// Write sends bytes to the peer.
	Write(data []byte) error

	// Close closes the connection.
	Close() error

	// RemoteAddr returns the remote address for logging.
	RemoteAddr() string
}

const readChunkSize = 16 * 1024

// tcpConn adapts a raw net.Conn. The reader is the buffered reader used
// to peek during protocol detection, so no peeked bytes are lost.
type tcpConn struct {
	conn   net.Conn
	reader io.Reader
}

func newTCPConn(conn net.Conn, reader io.Reader) *tcpConn {
	return &tcpConn{conn: conn, reader: reader}
}

func (c *tcpConn) Read() ([]byte, error) {
	buf := make([]byte, readChunkSize)
	for {
		n, err := c.reader.Read(buf)
		if n > 0 {
			return buf[:n], nil
		}
		if err != nil {
			return nil, err
		}
	}
}

func (c *tcpConn) Write(data []byte) error {
	_, err := c.conn.Write(data)
	return err
}

func (c *tcpConn) Close() error {
	return c.conn.Close()
}

func (c *tcpConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// wsConn adapts an upgraded WebSocket connection using gobwas/ws.
// Each binary WebSocket message carries a slice of the same
// length-prefixed frame stream that raw TCP clients send.
type wsConn struct {
	conn net.Conn
	rw   io.ReadWriter
}

func newWSConn(conn net.Conn, rw io.ReadWriter) *wsConn {
	return &wsConn{conn: conn, rw: rw}
}

func (c *wsConn) Read() ([]byte, error) {
	data, err := wsutil.ReadClientBinary(c.rw)
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (c *wsConn) Write(data []byte) error {
	return wsutil.WriteServerBinary(c.rw, data)
}

func (c *wsConn) Close() error {
	_ = wsutil.WriteServerMessage(c.rw, ws.OpClose, nil)
	return c.conn.Close()
}

func (c *wsConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}
