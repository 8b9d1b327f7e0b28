package test

import (
	"strings"
	"testing"
	"time"

	"github.com/roomchat-dev/roomchat/internal/client"
	"github.com/roomchat-dev/roomchat/internal/server"
	"github.com/roomchat-dev/roomchat/pkg/protocol"
)

func startServer(t *testing.T) *server.Server {
	t.Helper()
	srv := server.New(server.Config{Addr: "127.0.0.1:0"})
	go func() {
		_ = srv.Start()
	}()
	t.Cleanup(srv.Stop)

	deadline := time.Now().Add(2 * time.Second)
	for srv.Addr() == "" {
		if time.Now().After(deadline) {
			t.Fatal("server did not start listening")
		}
		time.Sleep(10 * time.Millisecond)
	}
	return srv
}

func connect(t *testing.T, addr string) *client.Client {
	t.Helper()
	c := client.New(addr)
	if err := c.Connect(); err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	return c
}

func recv(t *testing.T, c *client.Client, what string) protocol.Message {
	t.Helper()
	select {
	case msg, ok := <-c.Messages():
		if !ok {
			t.Fatalf("connection closed while waiting for %s", what)
		}
		return msg
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
		return protocol.Message{}
	}
}

// TestIntegration_TwoClientSession walks the full protocol: hello,
// listing, joining, chatting, and an abrupt disconnect, with two
// clients observing each other's broadcasts.
func TestIntegration_TwoClientSession(t *testing.T) {
	srv := startServer(t)

	alice := connect(t, srv.Addr())

	if _, err := alice.Hello("alice"); err != nil {
		t.Fatalf("alice Hello() error = %v", err)
	}
	if msg := recv(t, alice, "alice's OK"); msg.Type != protocol.TypeOK {
		t.Fatalf("HELLO reply = %v, want OK", msg.Type)
	}

	if _, err := alice.List(); err != nil {
		t.Fatalf("alice List() error = %v", err)
	}
	msg := recv(t, alice, "alice's ROOMS")
	if msg.Type != protocol.TypeRooms {
		t.Fatalf("LIST reply = %v, want ROOMS", msg.Type)
	}
	rooms := msg.All(protocol.FieldRoom)
	found := false
	for _, r := range rooms {
		if r == server.DefaultRoomName {
			found = true
		}
	}
	if !found {
		t.Fatalf("room listing %v does not contain %s", rooms, server.DefaultRoomName)
	}

	if _, err := alice.Join(server.DefaultRoomName); err != nil {
		t.Fatalf("alice Join() error = %v", err)
	}
	msg = recv(t, alice, "alice's JOINED")
	if msg.Type != protocol.TypeJoined || msg.First(protocol.FieldRoom) != server.DefaultRoomName {
		t.Fatalf("JOIN reply = %v %q, want JOINED Lobby", msg.Type, msg.First(protocol.FieldRoom))
	}
	// Sole member: the join broadcast reaches alice herself.
	msg = recv(t, alice, "alice's join broadcast")
	if msg.Type != protocol.TypeSystem || !strings.Contains(msg.First(protocol.FieldText), "alice") {
		t.Fatalf("join broadcast = %v %q, want SYSTEM about alice", msg.Type, msg.First(protocol.FieldText))
	}

	bob := connect(t, srv.Addr())
	defer bob.Disconnect()

	if _, err := bob.Hello("bob"); err != nil {
		t.Fatalf("bob Hello() error = %v", err)
	}
	if msg := recv(t, bob, "bob's OK"); msg.Type != protocol.TypeOK {
		t.Fatalf("HELLO reply = %v, want OK", msg.Type)
	}
	if _, err := bob.Join(server.DefaultRoomName); err != nil {
		t.Fatalf("bob Join() error = %v", err)
	}
	if msg := recv(t, bob, "bob's JOINED"); msg.Type != protocol.TypeJoined {
		t.Fatalf("JOIN reply = %v, want JOINED", msg.Type)
	}

	// Both members hear that bob joined.
	for _, tc := range []struct {
		name string
		c    *client.Client
	}{{"alice", alice}, {"bob", bob}} {
		msg := recv(t, tc.c, tc.name+"'s bob-joined broadcast")
		if msg.Type != protocol.TypeSystem || !strings.Contains(msg.First(protocol.FieldText), "bob") {
			t.Fatalf("%s got %v %q, want SYSTEM about bob", tc.name, msg.Type, msg.First(protocol.FieldText))
		}
	}

	if _, err := bob.Chat("hi"); err != nil {
		t.Fatalf("bob Chat() error = %v", err)
	}
	for _, tc := range []struct {
		name string
		c    *client.Client
	}{{"alice", alice}, {"bob", bob}} {
		msg := recv(t, tc.c, tc.name+"'s MSG")
		if msg.Type != protocol.TypeMsg {
			t.Fatalf("%s got %v, want MSG", tc.name, msg.Type)
		}
		if msg.First(protocol.FieldUsername) != "bob" ||
			msg.First(protocol.FieldRoom) != server.DefaultRoomName ||
			msg.First(protocol.FieldText) != "hi" {
			t.Fatalf("%s got MSG %v, want bob/Lobby/hi", tc.name, msg.Fields)
		}
		if msg.RequestID != 0 {
			t.Errorf("%s got MSG with request id %d, want 0", tc.name, msg.RequestID)
		}
	}

	// Alice disconnects abruptly, without LEAVE.
	alice.Disconnect()

	msg = recv(t, bob, "bob's disconnect broadcast")
	if msg.Type != protocol.TypeSystem ||
		!strings.Contains(msg.First(protocol.FieldText), "alice") ||
		!strings.Contains(msg.First(protocol.FieldText), "disconnected") {
		t.Fatalf("disconnect broadcast = %v %q, want SYSTEM alice disconnected", msg.Type, msg.First(protocol.FieldText))
	}
}
