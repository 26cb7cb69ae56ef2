// Package server implements the hub: the single goroutine that owns the
// listening socket, every live connection, and the handful of maps that
// track them. Nothing outside this goroutine is allowed to mutate those
// maps, so none of them need a mutex.
package server

import (
	"fmt"
	"net"
	"strconv"

	"github.com/google/uuid"

	"github.com/beirdo/havokmud/internal/connection"
	"github.com/beirdo/havokmud/internal/lifecycle"
	"github.com/beirdo/havokmud/internal/logpipe"
	"github.com/beirdo/havokmud/internal/netmsg"
	"github.com/beirdo/havokmud/internal/settings"
)

// Resolver looks up a connection's hostname without blocking the hub. An
// implementation files its answer through the channel Results returns;
// Resolve may be called many times concurrently with the hub reading from
// Results.
type Resolver interface {
	Resolve(id netmsg.ConnID, ip string)
	Results() <-chan netmsg.HostReply
}

// Handler is invoked by the hub, on the hub's own goroutine, for every
// UserMessage that isn't a disconnect sentinel. Implementations must not
// block: the hub's select loop is paused for the duration of the call.
type Handler func(msg netmsg.UserMessage, conn *connection.Connection)

const acceptQueueCapacity = 16

// toHubCapacity is the one queue genuinely shared across every connection
// in this hub (every reader goroutine funnels into it), so it takes the
// larger of the two per-process queue sizes; per-connection queues are
// sized individually in package connection.
const toHubCapacity = 2048

// Server is the hub described by the networking core: an accept loop, and
// four endpoint-keyed maps that are always updated together so that a
// connection ID is present in all four or in none.
type Server struct {
	log      *logpipe.Pipeline
	dns      Resolver
	renderer connection.TemplateRenderer
	handle   Handler
	toHub    chan netmsg.UserMessage
	acceptC  chan net.Conn
	boundC   chan net.Addr
	listener net.Listener

	connections map[netmsg.ConnID]*connection.Connection
	writeHalves map[netmsg.ConnID]chan<- netmsg.NetworkMessage
	readHalves  map[netmsg.ConnID]net.Conn
	readerTasks map[netmsg.ConnID]<-chan struct{}
}

// New builds a Server. dns may be nil, in which case connections keep their
// bare IP address as their Host forever. renderer may be nil, in which case
// connections log and drop any templated outbound message. handle may be
// nil, in which case inbound lines are simply discarded (a bare networking
// core with no game logic attached yet).
func New(log *logpipe.Pipeline, dns Resolver, renderer connection.TemplateRenderer, handle Handler) *Server {
	return &Server{
		log:         log,
		dns:         dns,
		renderer:    renderer,
		handle:      handle,
		toHub:       make(chan netmsg.UserMessage, toHubCapacity),
		acceptC:     make(chan net.Conn, acceptQueueCapacity),
		boundC:      make(chan net.Addr, 1),
		connections: make(map[netmsg.ConnID]*connection.Connection),
		writeHalves: make(map[netmsg.ConnID]chan<- netmsg.NetworkMessage),
		readHalves:  make(map[netmsg.ConnID]net.Conn),
		readerTasks: make(map[netmsg.ConnID]<-chan struct{}),
	}
}

// Bound reports the address of each listener the hub successfully binds,
// in order; tests use it to learn the real port when Port is 0.
func (s *Server) Bound() <-chan net.Addr {
	return s.boundC
}

// SendNetwork addresses data directly to one connection by ID, bypassing
// SendLine's markup compilation. Only valid when called from within Handler,
// i.e. on the hub's own goroutine.
func (s *Server) SendNetwork(dest netmsg.ConnID, data []byte) {
	if conn, ok := s.connections[dest]; ok {
		conn.SendRaw(data)
	}
}

// Run is the hub's body. It waits on startBarrier, then blocks for the
// first Reconfigure to learn its bind address, then loops its four-branch
// select until told to shut down.
func (s *Server) Run(startBarrier, shutdownBarrier *lifecycle.Barrier, sub *lifecycle.Subscription) {
	defer sub.Close()

	s.log.Info("Starting server hub")
	startBarrier.Wait()

	var cur *settings.Settings
	for cur == nil {
		sig, ok := <-sub.C()
		if !ok {
			return
		}
		switch sig.Kind {
		case lifecycle.Shutdown:
			shutdownBarrier.Wait()
			return
		case lifecycle.Reconfigure:
			if err := s.bind(sig.Settings); err != nil {
				s.log.Error("server: initial bind failed: %v", err)
				continue
			}
			cur = sig.Settings
		}
	}

	var dnsResults <-chan netmsg.HostReply
	if s.dns != nil {
		dnsResults = s.dns.Results()
	}

	for {
		select {
		case c := <-s.acceptC:
			s.addConnection(c, cur)

		case reply := <-dnsResults:
			if conn, ok := s.connections[reply.ID]; ok {
				conn.Host = reply.Host
			}

		case msg := <-s.toHub:
			s.dispatch(msg)

		case sig, ok := <-sub.C():
			if !ok {
				return
			}
			switch sig.Kind {
			case lifecycle.Reconfigure:
				s.reconfigure(cur, sig.Settings)
				cur = sig.Settings
			case lifecycle.Shutdown:
				s.shutdown(shutdownBarrier)
				return
			}
		}
	}
}

func (s *Server) dispatch(msg netmsg.UserMessage) {
	if msg.IsDisconnect() {
		s.dropConnection(msg.Source)
		return
	}
	conn, ok := s.connections[msg.Source]
	if !ok {
		return
	}
	if s.handle != nil {
		s.handle(msg, conn)
	}
}

func (s *Server) addConnection(netConn net.Conn, cur *settings.Settings) {
	id := netmsg.ConnID(uuid.NewString())

	ip := netConn.RemoteAddr().String()
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}

	conn := connection.New(id, netConn, ip, s.toHub, s.log, s.renderer)
	done := conn.StartProcessing()

	s.connections[id] = conn
	s.writeHalves[id] = conn.TX()
	s.readHalves[id] = netConn
	s.readerTasks[id] = done

	s.log.Info("server: new connection %s from %s", id, ip)

	if s.dns != nil {
		s.dns.Resolve(id, ip)
	}

	conn.SendLine(fmt.Sprintf("Welcome to %s.", cur.Mud.Name))
	if cur.Mud.Wizlocked {
		conn.SendLine(cur.Mud.WizlockReason)
		conn.Disconnect("")
	}
}

// dropConnection waits for the reader goroutine to finish (it is either
// already done, having just sent the disconnect sentinel, or about to be)
// and removes the connection from all four maps together.
func (s *Server) dropConnection(id netmsg.ConnID) {
	s.dropConnectionWithReason(id, "")
}

func (s *Server) dropConnectionWithReason(id netmsg.ConnID, reason string) {
	conn, ok := s.connections[id]
	if !ok {
		return
	}
	conn.Disconnect(reason)
	<-s.readerTasks[id]
	s.removeConnection(id)
}

func (s *Server) removeConnection(id netmsg.ConnID) {
	delete(s.connections, id)
	delete(s.writeHalves, id)
	delete(s.readHalves, id)
	delete(s.readerTasks, id)
}

// reconfigure applies a new Settings snapshot. The listener is only torn
// down and rebuilt if the bind address actually changed; any other change
// (name, wizlock) takes effect immediately for new connections without
// disturbing connections already established.
func (s *Server) reconfigure(old, next *settings.Settings) {
	if old != nil && old.Mud.BindIP == next.Mud.BindIP && old.Mud.Port == next.Mud.Port {
		s.log.Info("server: settings reloaded, listener unchanged")
		return
	}

	s.log.Info("server: bind address changed, rebinding listener")
	s.disconnectAll("Server is restarting its listener, please reconnect shortly.")
	s.closeListener()

	if err := s.bind(next); err != nil {
		s.log.Error("server: rebind failed: %v", err)
	}
}

func (s *Server) shutdown(shutdownBarrier *lifecycle.Barrier) {
	s.log.Info("server: shutting down")
	s.disconnectAll("Server is shutting down. Goodbye.")
	s.closeListener()
	shutdownBarrier.Wait()
}

func (s *Server) disconnectAll(reason string) {
	for id := range s.connections {
		s.dropConnectionWithReason(id, reason)
	}
}

func (s *Server) bind(cur *settings.Settings) error {
	addr := net.JoinHostPort(cur.Mud.BindIP, strconv.Itoa(int(cur.Mud.Port)))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", addr, err)
	}
	s.listener = ln
	go s.acceptLoop(ln)
	s.log.Info("server: listening on %s", addr)

	select {
	case s.boundC <- ln.Addr():
	default:
		select {
		case <-s.boundC:
		default:
		}
		select {
		case s.boundC <- ln.Addr():
		default:
		}
	}
	return nil
}

func (s *Server) acceptLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		s.acceptC <- conn
	}
}

func (s *Server) closeListener() {
	if s.listener != nil {
		s.listener.Close()
		s.listener = nil
	}
}
