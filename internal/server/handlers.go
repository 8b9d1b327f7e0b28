package server

import (
	"fmt"
	"sort"
	"strings"

	"github.com/roomchat-dev/roomchat/pkg/protocol"
)

// dispatch applies one decoded message to the session and room state.
// Decode failures arrive here as synthesized ERROR messages, so every
// frame takes the same path; a message whose type is not a client
// request is a protocol violation.
func (e *Engine) dispatch(s *Session, msg protocol.Message) {
	if !msg.Type.IsRequest() {
		if msg.Type == protocol.TypeError {
			// Either the codec rejected the frame or the peer sent a
			// server-only code. Echo the diagnostic and drop the peer.
			diag := msg.First(protocol.FieldText)
			if diag == "" {
				diag = "protocol error"
			}
			e.sendError(s, msg.RequestID, diag)
			e.closeSession(s, "protocol violation")
		}
		// Other server-only types from a client are ignored.
		return
	}

	if msg.Type != protocol.TypeHello && s.username == "" {
		e.sendError(s, msg.RequestID, "send HELLO first")
		return
	}

	switch msg.Type {
	case protocol.TypeHello:
		e.onHello(s, msg)
	case protocol.TypeList:
		e.onList(s, msg)
	case protocol.TypeCreate:
		e.onCreate(s, msg)
	case protocol.TypeJoin:
		e.onJoin(s, msg)
	case protocol.TypeLeave:
		e.onLeave(s, msg)
	case protocol.TypeChat:
		e.onChat(s, msg)
	}
}

func (e *Engine) onHello(s *Session, msg protocol.Message) {
	name := protocol.SanitizeUsername(msg.First(protocol.FieldUsername))
	if name == "" {
		e.sendError(s, msg.RequestID, "invalid username")
		return
	}
	s.username = name
	e.sendEncoded(s, protocol.TypeOK, msg.RequestID)
}

func (e *Engine) onList(s *Session, msg protocol.Message) {
	names := make([]string, 0, len(e.rooms))
	for name := range e.rooms {
		names = append(names, name)
	}
	sort.Strings(names)

	fields := make([]protocol.Field, len(names))
	for i, name := range names {
		fields[i] = protocol.F(protocol.FieldRoom, name)
	}
	e.sendEncoded(s, protocol.TypeRooms, msg.RequestID, fields...)
}

func (e *Engine) onCreate(s *Session, msg protocol.Message) {
	name := protocol.SanitizeRoomName(msg.First(protocol.FieldRoom))
	if name == "" {
		e.sendError(s, msg.RequestID, "invalid room name")
		return
	}
	if _, exists := e.rooms[name]; exists {
		e.sendError(s, msg.RequestID, "room exists")
		return
	}
	e.rooms[name] = newRoom(name)
	e.metrics.RoomsCreated.Inc()
	e.sendEncoded(s, protocol.TypeOK, msg.RequestID)
}

func (e *Engine) onJoin(s *Session, msg protocol.Message) {
	name := protocol.SanitizeRoomName(msg.First(protocol.FieldRoom))
	room, ok := e.rooms[name]
	if !ok {
		e.sendError(s, msg.RequestID, "room not found")
		return
	}

	// Leaving the current room is implicit and silent: no LEFT reply,
	// no broadcast to the old room.
	e.leaveCurrentRoom(s)

	room.members[s] = struct{}{}
	s.room = room

	e.sendEncoded(s, protocol.TypeJoined, msg.RequestID, protocol.F(protocol.FieldRoom, room.name))
	e.broadcastSystem(room, s.username+" joined the room")
}

func (e *Engine) onLeave(s *Session, msg protocol.Message) {
	if s.room == nil {
		e.sendError(s, msg.RequestID, "not in a room")
		return
	}
	room := s.room
	e.leaveCurrentRoom(s)

	e.sendEncoded(s, protocol.TypeLeft, msg.RequestID)
	e.broadcastSystem(room, s.username+" left the room")
}

func (e *Engine) onChat(s *Session, msg protocol.Message) {
	if s.room == nil {
		e.sendError(s, msg.RequestID, "join a room first")
		return
	}

	text := strings.TrimSpace(msg.First(protocol.FieldText))
	if text == "" {
		// Blank chat lines are dropped without a reply.
		return
	}
	if protocol.TextTooLong(text) {
		e.sendError(s, msg.RequestID, fmt.Sprintf("message too long, limit is %d characters", protocol.MaxTextChars))
		return
	}

	frame, err := protocol.Encode(protocol.TypeMsg, 0,
		protocol.F(protocol.FieldUsername, s.username),
		protocol.F(protocol.FieldRoom, s.room.name),
		protocol.F(protocol.FieldText, text),
	)
	if err != nil {
		e.sendError(s, msg.RequestID, "message too large")
		return
	}
	e.broadcast(s.room, frame)
}

func (e *Engine) leaveCurrentRoom(s *Session) {
	if s.room == nil {
		return
	}
	delete(s.room.members, s)
	s.room = nil
}
