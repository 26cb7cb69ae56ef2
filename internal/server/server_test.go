package server

import (
	"bufio"
	"net"
	"testing"
	"time"

	"github.com/beirdo/havokmud/internal/connection"
	"github.com/beirdo/havokmud/internal/lifecycle"
	"github.com/beirdo/havokmud/internal/logpipe"
	"github.com/beirdo/havokmud/internal/netmsg"
	"github.com/beirdo/havokmud/internal/settings"
)

func echo(msg netmsg.UserMessage, conn *connection.Connection) {
	conn.SetAnsiMode(false)
	conn.SendLine(msg.Text)
}

func testSettings(port uint16) *settings.Settings {
	return &settings.Settings{
		Mud: settings.Mud{BindIP: "127.0.0.1", Port: port, Name: "TestMud"},
	}
}

func TestServerAcceptsAndEchoesLines(t *testing.T) {
	log := logpipe.New()
	hub := New(log, nil, nil, echo)

	bus := lifecycle.NewBus()
	startBarrier := lifecycle.NewBarrier(1)
	shutdownBarrier := lifecycle.NewBarrier(1)
	sub := bus.Subscribe()

	go hub.Run(startBarrier, shutdownBarrier, sub)

	bus.Broadcast(lifecycle.ControlSignal{Kind: lifecycle.Reconfigure, Settings: testSettings(0)})

	var addr net.Addr
	select {
	case addr = <-hub.Bound():
	case <-time.After(2 * time.Second):
		t.Fatal("server never bound a listener")
	}

	client, err := net.Dial("tcp", addr.String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	reader := bufio.NewReader(client)
	welcome, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("reading welcome line: %v", err)
	}
	if welcome != "\x1b[0;40;37mWelcome to TestMud.\r\n" {
		t.Fatalf("got %q", welcome)
	}

	if _, err := client.Write([]byte("hello\r\n")); err != nil {
		t.Fatalf("write: %v", err)
	}

	echoed, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("reading echo: %v", err)
	}
	if echoed != "hello\r\n" {
		t.Fatalf("got %q, want %q", echoed, "hello\r\n")
	}

	bus.Broadcast(lifecycle.ControlSignal{Kind: lifecycle.Shutdown})

	buf := make([]byte, 16)
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		n, err := client.Read(buf)
		if err != nil {
			break
		}
		if n == 0 {
			break
		}
	}
}

func TestServerWizlockedConnectionIsTurnedAway(t *testing.T) {
	log := logpipe.New()
	hub := New(log, nil, nil, echo)

	bus := lifecycle.NewBus()
	startBarrier := lifecycle.NewBarrier(1)
	shutdownBarrier := lifecycle.NewBarrier(1)
	sub := bus.Subscribe()

	go hub.Run(startBarrier, shutdownBarrier, sub)

	cur := testSettings(0)
	cur.Mud.Wizlocked = true
	cur.Mud.WizlockReason = "Closed for maintenance."
	bus.Broadcast(lifecycle.ControlSignal{Kind: lifecycle.Reconfigure, Settings: cur})

	var addr net.Addr
	select {
	case addr = <-hub.Bound():
	case <-time.After(2 * time.Second):
		t.Fatal("server never bound a listener")
	}

	client, err := net.Dial("tcp", addr.String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	reader := bufio.NewReader(client)
	welcome, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("reading welcome line: %v", err)
	}
	if welcome != "\x1b[0;40;37mWelcome to TestMud.\r\n" {
		t.Fatalf("got %q", welcome)
	}

	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("reading wizlock reason: %v", err)
	}
	if line != "\x1b[0;40;37mClosed for maintenance.\r\n" {
		t.Fatalf("got %q", line)
	}

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 16)
	if _, err := client.Read(buf); err == nil {
		t.Fatal("expected the connection to be closed after the wizlock reason")
	}

	bus.Broadcast(lifecycle.ControlSignal{Kind: lifecycle.Shutdown})
}
