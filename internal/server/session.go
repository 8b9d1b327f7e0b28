package server

import (
	"github.com/roomchat-dev/roomchat/pkg/protocol"
)

// outgoingQueueSize bounds the per-session outbound queue. A session
// whose queue overflows (a reader too slow for the traffic aimed at it)
// is torn down rather than allowed to grow server memory without limit.
const outgoingQueueSize = 256

// Session is the server-side state for one live client connection. All
// fields except the channel are owned by the engine goroutine; only the
// session's writer goroutine receives from outgoing.
type Session struct {
	conn   Conn
	remote string

	// framer is touched only by the session's reader goroutine.
	framer protocol.Reassembler

	outgoing chan []byte

	// username is "" until a successful HELLO; it gates every other
	// request.
	username string

	// room is the room this session is currently a member of, nil if
	// none. A session belongs to at most one room.
	room *Room

	// closed marks teardown as done so it can never run twice.
	closed bool
}

func newSession(conn Conn) *Session {
	return &Session{
		conn:     conn,
		remote:   conn.RemoteAddr(),
		outgoing: make(chan []byte, outgoingQueueSize),
	}
}

// Room is a named broadcast group. Rooms are created by CREATE requests
// (plus the default room at startup) and are never deleted, even when
// empty: the room directory is stable for the process lifetime.
type Room struct {
	name    string
	members map[*Session]struct{}
}

func newRoom(name string) *Room {
	return &Room{
		name:    name,
		members: make(map[*Session]struct{}),
	}
}
