package server

import (
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roomchat-dev/roomchat/pkg/protocol"
)

// DefaultRoomName is the room created at startup that always exists.
const DefaultRoomName = "Lobby"

// closeGrace is how long a torn-down session's writer gets to flush
// its remaining frames before the socket is forced shut.
const closeGrace = 5 * time.Second

type eventKind int

const (
	eventFrame eventKind = iota
	eventClosed
	eventViolation
)

// event is one unit of work posted to the engine by a session's reader
// goroutine.
type event struct {
	kind    eventKind
	session *Session
	body    []byte
	diag    string
}

type connectRequest struct {
	conn  Conn
	reply chan *Session
}

// Engine owns every Session and the room registry. All session and room
// state is mutated on the single Run goroutine; reader goroutines only
// reassemble frames and post events, writer goroutines only drain
// outbound queues. That keeps every protocol transaction atomic with
// respect to all other connections without any locking.
type Engine struct {
	maxSessions int
	metrics     *Metrics

	events   chan event
	connects chan connectRequest
	quit     chan struct{}
	done     chan struct{}

	sessions map[*Session]struct{}
	rooms    map[string]*Room

	sessionCount atomic.Int64

	wg sync.WaitGroup
}

// NewEngine creates an engine with the default room already present.
func NewEngine(maxSessions int, metrics *Metrics) *Engine {
	e := &Engine{
		maxSessions: maxSessions,
		metrics:     metrics,
		events:      make(chan event, 64),
		connects:    make(chan connectRequest),
		quit:        make(chan struct{}),
		done:        make(chan struct{}),
		sessions:    make(map[*Session]struct{}),
		rooms:       make(map[string]*Room),
	}
	e.rooms[DefaultRoomName] = newRoom(DefaultRoomName)
	return e
}

// Run processes events until Stop is called. It must run on exactly one
// goroutine.
func (e *Engine) Run() {
	defer close(e.done)
	for {
		select {
		case req := <-e.connects:
			req.reply <- e.register(req.conn)
		case ev := <-e.events:
			e.handle(ev)
		case <-e.quit:
			e.shutdown()
			return
		}
	}
}

// Stop shuts the engine down: every live session is torn down (with
// disconnect broadcasts where applicable) and all sockets are closed.
func (e *Engine) Stop() {
	close(e.quit)
	<-e.done
	e.wg.Wait()
}

// Connect asks the engine to admit a connection. It returns false when
// the session cap is reached or the engine is stopping; the caller then
// owns the rejection.
func (e *Engine) Connect(conn Conn) bool {
	req := connectRequest{conn: conn, reply: make(chan *Session, 1)}
	select {
	case e.connects <- req:
		return <-req.reply != nil
	case <-e.quit:
		return false
	}
}

// SessionCount returns the number of live sessions.
func (e *Engine) SessionCount() int {
	return int(e.sessionCount.Load())
}

func (e *Engine) register(conn Conn) *Session {
	if len(e.sessions) >= e.maxSessions {
		return nil
	}
	s := newSession(conn)
	e.sessions[s] = struct{}{}
	e.sessionCount.Store(int64(len(e.sessions)))
	e.metrics.SessionsActive.Set(float64(len(e.sessions)))
	e.metrics.ConnectionsAccepted.Inc()
	log.Printf("session connected from %s", s.remote)

	e.wg.Add(2)
	go e.readLoop(s)
	go e.writeLoop(s)
	return s
}

func (e *Engine) handle(ev event) {
	s := ev.session
	if s.closed {
		return
	}
	switch ev.kind {
	case eventFrame:
		msg := protocol.DecodeBody(ev.body)
		e.metrics.FramesReceived.WithLabelValues(msg.Type.String()).Inc()
		e.dispatch(s, msg)
	case eventViolation:
		e.sendEncoded(s, protocol.TypeError, 0, protocol.F(protocol.FieldText, ev.diag))
		e.closeSession(s, ev.diag)
	case eventClosed:
		e.closeSession(s, "peer disconnected")
	}
}

// readLoop shovels bytes from the connection through the session's
// reassembler and posts complete frame bodies to the engine, in order.
func (e *Engine) readLoop(s *Session) {
	defer e.wg.Done()
	for {
		chunk, err := s.conn.Read()
		if err != nil {
			e.post(event{kind: eventClosed, session: s})
			return
		}
		frames, ferr := s.framer.Feed(chunk)
		for _, body := range frames {
			e.post(event{kind: eventFrame, session: s, body: body})
		}
		if ferr != nil {
			e.post(event{kind: eventViolation, session: s, diag: "malformed frame length"})
			return
		}
	}
}

func (e *Engine) post(ev event) {
	select {
	case e.events <- ev:
	case <-e.quit:
	}
}

// writeLoop drains the session's outbound queue. It owns closing the
// connection: the engine closes the queue during teardown, the writer
// flushes what remains and then closes the socket.
func (e *Engine) writeLoop(s *Session) {
	defer e.wg.Done()
	defer s.conn.Close()
	for data := range s.outgoing {
		if err := s.conn.Write(data); err != nil {
			log.Printf("write to %s failed: %v", s.remote, err)
			return
		}
	}
}

// send enqueues a frame for one session without ever blocking the
// engine. A full queue means the peer is not draining; the session is
// torn down per the overflow policy.
func (e *Engine) send(s *Session, frame []byte) {
	if s.closed {
		return
	}
	select {
	case s.outgoing <- frame:
	default:
		e.closeSession(s, "outbound queue overflow")
	}
}

func (e *Engine) sendEncoded(s *Session, mt protocol.MessageType, requestID int32, fields ...protocol.Field) {
	frame, err := protocol.Encode(mt, requestID, fields...)
	if err != nil {
		// Oversized reply bodies are a bug in the handler, not peer input.
		log.Printf("encode %v failed: %v", mt, err)
		return
	}
	e.send(s, frame)
}

func (e *Engine) sendError(s *Session, requestID int32, text string) {
	e.sendEncoded(s, protocol.TypeError, requestID, protocol.F(protocol.FieldText, text))
}

func (e *Engine) broadcast(room *Room, frame []byte) {
	for member := range room.members {
		e.send(member, frame)
		e.metrics.FramesBroadcast.Inc()
	}
}

func (e *Engine) broadcastSystem(room *Room, text string) {
	frame, err := protocol.Encode(protocol.TypeSystem, 0,
		protocol.F(protocol.FieldText, text),
		protocol.F(protocol.FieldRoom, room.name),
	)
	if err != nil {
		log.Printf("encode SYSTEM failed: %v", err)
		return
	}
	e.broadcast(room, frame)
}

// closeSession tears a session down exactly once: broadcast the
// disconnect to its former room, drop the membership, forget the
// session, and hand the socket to the writer for closing.
func (e *Engine) closeSession(s *Session, cause string) {
	if s.closed {
		return
	}
	s.closed = true

	if s.room != nil && s.username != "" {
		e.broadcastSystem(s.room, s.username+" disconnected")
	}
	if s.room != nil {
		delete(s.room.members, s)
		s.room = nil
	}
	delete(e.sessions, s)
	e.sessionCount.Store(int64(len(e.sessions)))
	e.metrics.SessionsActive.Set(float64(len(e.sessions)))
	e.metrics.SessionsClosed.WithLabelValues(cause).Inc()
	close(s.outgoing)
	// The writer normally flushes the queue and closes the socket. If
	// it is wedged in a write to a peer that stopped reading it cannot
	// see the closed queue, so force the socket shut after a grace
	// period to unblock it.
	time.AfterFunc(closeGrace, func() { s.conn.Close() })
	log.Printf("session %s closed: %s", s.remote, cause)
}

func (e *Engine) shutdown() {
	for s := range e.sessions {
		e.closeSession(s, "server shutting down")
	}
}
