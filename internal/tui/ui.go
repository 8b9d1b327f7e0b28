// Package tui is the terminal chat client. It renders rooms and
// messages and turns user input into protocol requests; all protocol
// work happens in internal/client.
package tui

import (
	"fmt"
	"strings"

	"github.com/jroimartin/gocui"

	"github.com/roomchat-dev/roomchat/internal/client"
	"github.com/roomchat-dev/roomchat/pkg/protocol"
)

const (
	msgView    = "messages"
	roomView   = "rooms"
	statusView = "status"
	inputView  = "input"
)

// ChatUI is the gocui front end over one client connection.
type ChatUI struct {
	gui      *gocui.Gui
	client   *client.Client
	username string

	currentRoom string
	rooms       []string
}

// New connects the client, authenticates, and prepares the UI.
func New(addr, username string) (*ChatUI, error) {
	c := client.New(addr)
	if err := c.Connect(); err != nil {
		return nil, err
	}
	if _, err := c.Hello(username); err != nil {
		c.Disconnect()
		return nil, err
	}
	// Ask for the directory up front so the rooms pane is populated.
	if _, err := c.List(); err != nil {
		c.Disconnect()
		return nil, err
	}

	g, err := gocui.NewGui(gocui.OutputNormal)
	if err != nil {
		c.Disconnect()
		return nil, err
	}

	ui := &ChatUI{
		gui:      g,
		client:   c,
		username: username,
	}
	g.SetManagerFunc(ui.layout)
	if err := ui.keybindings(); err != nil {
		g.Close()
		c.Disconnect()
		return nil, err
	}
	return ui, nil
}

// Run drives the UI until quit; it owns both the gocui main loop and
// the goroutine draining server messages.
func (ui *ChatUI) Run() error {
	go ui.receive()
	defer ui.gui.Close()
	defer ui.client.Disconnect()

	if err := ui.gui.MainLoop(); err != nil && err != gocui.ErrQuit {
		return err
	}
	return nil
}

func (ui *ChatUI) layout(g *gocui.Gui) error {
	maxX, maxY := g.Size()
	sidebarWidth := 22
	msgWidth := maxX - sidebarWidth - 1
	msgHeight := maxY - 5

	if v, err := g.SetView(msgView, 0, 0, msgWidth, msgHeight); err != nil {
		if err != gocui.ErrUnknownView {
			return err
		}
		v.Title = "Messages"
		v.Wrap = true
		v.Autoscroll = true
		fmt.Fprintln(v, "Type /join <room> to enter a room, /help for commands.")
	}

	if v, err := g.SetView(roomView, msgWidth+1, 0, maxX-1, msgHeight); err != nil {
		if err != gocui.ErrUnknownView {
			return err
		}
		v.Title = "Rooms"
		v.Wrap = true
	}

	if v, err := g.SetView(statusView, 0, msgHeight+1, maxX-1, msgHeight+3); err != nil {
		if err != gocui.ErrUnknownView {
			return err
		}
		v.Title = "Status"
		fmt.Fprint(v, ui.statusLine())
	}

	if v, err := g.SetView(inputView, 0, msgHeight+3, maxX-1, maxY-1); err != nil {
		if err != gocui.ErrUnknownView {
			return err
		}
		v.Title = "Input"
		v.Editable = true
		v.Wrap = true
		if _, err := g.SetCurrentView(inputView); err != nil {
			return err
		}
	}
	return nil
}

func (ui *ChatUI) keybindings() error {
	if err := ui.gui.SetKeybinding("", gocui.KeyCtrlC, gocui.ModNone,
		func(_ *gocui.Gui, _ *gocui.View) error {
			return gocui.ErrQuit
		}); err != nil {
		return err
	}
	return ui.gui.SetKeybinding(inputView, gocui.KeyEnter, gocui.ModNone, ui.handleInput)
}

func (ui *ChatUI) handleInput(_ *gocui.Gui, v *gocui.View) error {
	input := strings.TrimSpace(v.Buffer())
	v.Clear()
	v.SetCursor(0, 0)
	if input == "" {
		return nil
	}

	if strings.HasPrefix(input, "/") {
		return ui.handleCommand(input)
	}

	if _, err := ui.client.Chat(input); err != nil {
		ui.printLine(fmt.Sprintf("! send failed: %v", err))
	}
	return nil
}

func (ui *ChatUI) handleCommand(input string) error {
	parts := strings.SplitN(input, " ", 2)
	arg := ""
	if len(parts) == 2 {
		arg = strings.TrimSpace(parts[1])
	}

	var err error
	switch parts[0] {
	case "/quit":
		return gocui.ErrQuit
	case "/help":
		ui.printLine("/list, /create <room>, /join <room>, /leave, /quit")
	case "/list":
		_, err = ui.client.List()
	case "/create":
		_, err = ui.client.Create(arg)
	case "/join":
		_, err = ui.client.Join(arg)
	case "/leave":
		_, err = ui.client.Leave()
	default:
		ui.printLine(fmt.Sprintf("! unknown command %s", parts[0]))
	}
	if err != nil {
		ui.printLine(fmt.Sprintf("! %v", err))
	}
	return nil
}

// receive renders every server message until the connection ends.
func (ui *ChatUI) receive() {
	for msg := range ui.client.Messages() {
		ui.render(msg)
	}
	ui.printLine("! disconnected from server")
}

func (ui *ChatUI) render(msg protocol.Message) {
	switch msg.Type {
	case protocol.TypeOK:
		ui.printLine("ok")
	case protocol.TypeError:
		ui.printLine("! " + msg.First(protocol.FieldText))
	case protocol.TypeRooms:
		ui.rooms = msg.All(protocol.FieldRoom)
		ui.updateRooms()
		ui.printLine("rooms: " + strings.Join(ui.rooms, ", "))
	case protocol.TypeJoined:
		ui.currentRoom = msg.First(protocol.FieldRoom)
		ui.updateStatus()
		ui.updateRooms()
	case protocol.TypeLeft:
		ui.currentRoom = ""
		ui.updateStatus()
		ui.updateRooms()
	case protocol.TypeMsg:
		ui.printLine(fmt.Sprintf("[%s] %s: %s",
			msg.First(protocol.FieldRoom),
			msg.First(protocol.FieldUsername),
			msg.First(protocol.FieldText)))
	case protocol.TypeSystem:
		ui.printLine(fmt.Sprintf("[%s] * %s",
			msg.First(protocol.FieldRoom),
			msg.First(protocol.FieldText)))
	}
}

func (ui *ChatUI) printLine(line string) {
	ui.gui.Update(func(g *gocui.Gui) error {
		v, err := g.View(msgView)
		if err != nil {
			return err
		}
		fmt.Fprintln(v, line)
		return nil
	})
}

func (ui *ChatUI) updateRooms() {
	ui.gui.Update(func(g *gocui.Gui) error {
		v, err := g.View(roomView)
		if err != nil {
			return err
		}
		v.Clear()
		for _, name := range ui.rooms {
			prefix := "  "
			if name == ui.currentRoom {
				prefix = "* "
			}
			fmt.Fprintf(v, "%s%s\n", prefix, name)
		}
		return nil
	})
}

func (ui *ChatUI) updateStatus() {
	ui.gui.Update(func(g *gocui.Gui) error {
		v, err := g.View(statusView)
		if err != nil {
			return err
		}
		v.Clear()
		fmt.Fprint(v, ui.statusLine())
		return nil
	})
}

func (ui *ChatUI) statusLine() string {
	room := ui.currentRoom
	if room == "" {
		room = "(no room)"
	}
	return fmt.Sprintf("%s | Room: %s | Ctrl-C: quit", ui.username, room)
}
