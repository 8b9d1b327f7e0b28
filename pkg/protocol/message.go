// Package protocol implements the roomchat wire protocol: TLV-encoded
// messages carried in 4-byte length-prefixed frames.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Version is the protocol version byte carried in every frame body.
const Version byte = 1

// Protocol limits. Peers violating them are disconnected.
const (
	// MaxFrameBytes is the maximum frame body size.
	MaxFrameBytes = 8 * 1024
	// MaxTextChars is the maximum chat text length in characters.
	MaxTextChars = 500
	// MaxUsernameChars is the maximum username length in characters.
	MaxUsernameChars = 20
	// MaxRoomChars is the maximum room name length in characters.
	MaxRoomChars = 30

	// maxFieldBytes is the largest value a 16-bit TLV length can describe.
	maxFieldBytes = 65535
)

// TLV field ids.
const (
	FieldUsername byte = 1
	FieldRoom     byte = 2
	FieldText     byte = 3
)

// frameHeaderLen is the size of the length prefix in front of each body.
const frameHeaderLen = 4

// bodyHeaderLen is version + type + request id.
const bodyHeaderLen = 6

// ErrFrameTooLarge is returned by Encode when the assembled body would
// exceed MaxFrameBytes. It indicates a programming error in the caller,
// not malformed peer input.
var ErrFrameTooLarge = errors.New("protocol: frame exceeds maximum size")

// MessageType identifies a protocol message. The set is closed; decode
// maps unknown codes to a synthesized ERROR message.
type MessageType int

const (
	// Client to server.
	TypeHello  MessageType = 1
	TypeList   MessageType = 2
	TypeCreate MessageType = 3
	TypeJoin   MessageType = 4
	TypeLeave  MessageType = 5
	TypeChat   MessageType = 6

	// Server to client.
	TypeOK     MessageType = 100
	TypeError  MessageType = 101
	TypeRooms  MessageType = 102
	TypeJoined MessageType = 103
	TypeLeft   MessageType = 104
	TypeMsg    MessageType = 105
	TypeSystem MessageType = 106
)

// String returns the string representation of MessageType.
func (mt MessageType) String() string {
	switch mt {
	case TypeHello:
		return "HELLO"
	case TypeList:
		return "LIST"
	case TypeCreate:
		return "CREATE"
	case TypeJoin:
		return "JOIN"
	case TypeLeave:
		return "LEAVE"
	case TypeChat:
		return "CHAT"
	case TypeOK:
		return "OK"
	case TypeError:
		return "ERROR"
	case TypeRooms:
		return "ROOMS"
	case TypeJoined:
		return "JOINED"
	case TypeLeft:
		return "LEFT"
	case TypeMsg:
		return "MSG"
	case TypeSystem:
		return "SYSTEM"
	default:
		return "UNKNOWN"
	}
}

// IsRequest reports whether the type is a client-initiated request.
func (mt MessageType) IsRequest() bool {
	return mt >= TypeHello && mt <= TypeChat
}

func typeFromCode(code byte) (MessageType, bool) {
	mt := MessageType(code)
	switch mt {
	case TypeHello, TypeList, TypeCreate, TypeJoin, TypeLeave, TypeChat,
		TypeOK, TypeError, TypeRooms, TypeJoined, TypeLeft, TypeMsg, TypeSystem:
		return mt, true
	}
	return 0, false
}

// Field is one TLV entry in a frame body. A field id may repeat; order
// is preserved by encode and decode.
type Field struct {
	ID    byte
	Value string
}

// F is shorthand for constructing a Field.
func F(id byte, value string) Field {
	return Field{ID: id, Value: value}
}

// Message is a decoded protocol unit. RequestID correlates a reply with
// the client request that caused it; server-initiated broadcasts carry 0.
type Message struct {
	Version   byte
	Type      MessageType
	RequestID int32
	Fields    []Field
}

// First returns the first value for the given field id, or "" if absent.
func (m *Message) First(id byte) string {
	for _, f := range m.Fields {
		if f.ID == id {
			return f.Value
		}
	}
	return ""
}

// All returns every value for the given field id, in wire order.
func (m *Message) All(id byte) []string {
	var values []string
	for _, f := range m.Fields {
		if f.ID == id {
			values = append(values, f.Value)
		}
	}
	return values
}

// Encode assembles a complete frame (length prefix plus body) for one
// message. Each field value is truncated to 65535 bytes of UTF-8 before
// writing; a body over MaxFrameBytes yields ErrFrameTooLarge.
func Encode(mt MessageType, requestID int32, fields ...Field) ([]byte, error) {
	bodyLen := bodyHeaderLen
	values := make([][]byte, len(fields))
	for i, f := range fields {
		v := []byte(f.Value)
		if len(v) > maxFieldBytes {
			v = v[:maxFieldBytes]
		}
		values[i] = v
		bodyLen += 3 + len(v)
	}
	if bodyLen > MaxFrameBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, bodyLen)
	}

	buf := make([]byte, frameHeaderLen, frameHeaderLen+bodyLen)
	binary.BigEndian.PutUint32(buf, uint32(bodyLen))
	buf = append(buf, Version, byte(mt))
	buf = binary.BigEndian.AppendUint32(buf, uint32(requestID))
	for i, f := range fields {
		buf = append(buf, f.ID)
		buf = binary.BigEndian.AppendUint16(buf, uint16(len(values[i])))
		buf = append(buf, values[i]...)
	}
	return buf, nil
}

// DecodeBody parses one frame body into a Message. It never fails:
// malformed input (wrong version, unknown type, truncated TLV) is mapped
// to a synthesized ERROR message carrying a diagnostic in the text
// field, with the request id recovered from the header when enough bytes
// were present to read it. The caller reacts to the result uniformly.
func DecodeBody(body []byte) Message {
	var requestID int32
	if len(body) >= bodyHeaderLen {
		requestID = int32(binary.BigEndian.Uint32(body[2:bodyHeaderLen]))
	}
	if len(body) < bodyHeaderLen {
		return decodeError(requestID, "truncated frame header")
	}

	version := body[0]
	if version != Version {
		return decodeError(requestID, fmt.Sprintf("unsupported protocol version %d", version))
	}

	mt, ok := typeFromCode(body[1])
	if !ok {
		return decodeError(requestID, fmt.Sprintf("unknown message type %d", body[1]))
	}

	msg := Message{Version: version, Type: mt, RequestID: requestID}
	rest := body[bodyHeaderLen:]
	for len(rest) > 0 {
		if len(rest) < 3 {
			return decodeError(requestID, "truncated TLV header")
		}
		id := rest[0]
		length := int(binary.BigEndian.Uint16(rest[1:3]))
		rest = rest[3:]
		if length > len(rest) {
			return decodeError(requestID, "corrupt TLV: declared length exceeds frame")
		}
		msg.Fields = append(msg.Fields, Field{ID: id, Value: string(rest[:length])})
		rest = rest[length:]
	}
	return msg
}

func decodeError(requestID int32, diag string) Message {
	return Message{
		Version:   Version,
		Type:      TypeError,
		RequestID: requestID,
		Fields:    []Field{{ID: FieldText, Value: diag}},
	}
}
