// Package client provides a TCP client for the roomchat protocol. It is
// the protocol driver behind the terminal UI and the integration tests.
package client

import (
	"fmt"
	"io"
	"log"
	"net"
	"sync"

	"github.com/roomchat-dev/roomchat/pkg/protocol"
)

// Client connects to a roomchat server, assigns request ids as a
// strictly increasing sequence starting at 1, and delivers every
// received message on the Messages channel in arrival order.
type Client struct {
	address string

	mu     sync.Mutex
	conn   net.Conn
	nextID int32

	messages chan protocol.Message
	done     chan struct{}
	wg       sync.WaitGroup
}

// New creates a new Client instance.
func New(address string) *Client {
	return &Client{
		address:  address,
		messages: make(chan protocol.Message, 32),
		done:     make(chan struct{}),
	}
}

// Connect establishes a connection to the server and starts receiving.
func (c *Client) Connect() error {
	conn, err := net.Dial("tcp", c.address)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	c.wg.Add(1)
	go c.receiveLoop(conn)
	return nil
}

// Disconnect closes the connection to the server.
func (c *Client) Disconnect() {
	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()

	close(c.done)
	c.wg.Wait()
}

// Messages returns the channel of messages received from the server.
// It is closed when the connection ends.
func (c *Client) Messages() <-chan protocol.Message {
	return c.messages
}

// Hello authenticates with a display name. It returns the request id
// carried by the server's reply.
func (c *Client) Hello(username string) (int32, error) {
	return c.request(protocol.TypeHello, protocol.F(protocol.FieldUsername, username))
}

// List asks for the sorted room directory.
func (c *Client) List() (int32, error) {
	return c.request(protocol.TypeList)
}

// Create creates a new room without joining it.
func (c *Client) Create(room string) (int32, error) {
	return c.request(protocol.TypeCreate, protocol.F(protocol.FieldRoom, room))
}

// Join joins a room, implicitly leaving the current one.
func (c *Client) Join(room string) (int32, error) {
	return c.request(protocol.TypeJoin, protocol.F(protocol.FieldRoom, room))
}

// Leave leaves the current room.
func (c *Client) Leave() (int32, error) {
	return c.request(protocol.TypeLeave)
}

// Chat sends a chat line to the current room.
func (c *Client) Chat(text string) (int32, error) {
	return c.request(protocol.TypeChat, protocol.F(protocol.FieldText, text))
}

func (c *Client) request(mt protocol.MessageType, fields ...protocol.Field) (int32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return 0, fmt.Errorf("not connected to server")
	}

	c.nextID++
	requestID := c.nextID

	frame, err := protocol.Encode(mt, requestID, fields...)
	if err != nil {
		return 0, fmt.Errorf("failed to encode %v request: %w", mt, err)
	}
	if _, err := c.conn.Write(frame); err != nil {
		return 0, fmt.Errorf("failed to send %v request: %w", mt, err)
	}
	return requestID, nil
}

// receiveLoop reassembles frames from the stream and delivers decoded
// messages until the connection closes.
func (c *Client) receiveLoop(conn net.Conn) {
	defer c.wg.Done()
	defer close(c.messages)

	var framer protocol.Reassembler
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			if err != io.EOF {
				select {
				case <-c.done:
				default:
					log.Printf("error reading from server: %v", err)
				}
			}
			return
		}

		frames, ferr := framer.Feed(buf[:n])
		for _, body := range frames {
			select {
			case c.messages <- protocol.DecodeBody(body):
			case <-c.done:
				return
			}
		}
		if ferr != nil {
			log.Printf("corrupt frame from server, disconnecting")
			conn.Close()
			return
		}
	}
}
