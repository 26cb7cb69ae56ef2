// Package connection owns a single player's socket: the reader goroutine
// that turns bytes into UserMessages for the server hub, the render
// goroutine that turns outbound UserMessages into wire bytes, and the
// writer goroutine that puts those bytes on the socket in order.
package connection

import (
	"net"
	"sync"

	"github.com/beirdo/havokmud/internal/ansiparse"
	"github.com/beirdo/havokmud/internal/framer"
	"github.com/beirdo/havokmud/internal/logpipe"
	"github.com/beirdo/havokmud/internal/netmsg"
	"github.com/beirdo/havokmud/internal/telnet"
)

// queueCapacity bounds how many messages can be queued, per connection, on
// either the outbound presentation queue or the transmit queue, matching
// the per-connection inbound/outbound sizing. A slow or stuck client must
// never be able to stall the server hub's select loop.
const queueCapacity = 256

// IAC WILL/WONT ECHO, queued by SetEcho as a Literal UserMessage so they
// skip the general-purpose Escape path applied to ordinary user data.
var (
	iacWillEcho = []byte{0xFF, 0xFB, 1}
	iacWontEcho = []byte{0xFF, 0xFC, 1}
)

// TemplateRenderer resolves a named template plus its positional arguments
// into display text. Template rendering is an external collaborator the
// networking core only calls out to; a Connection with a nil renderer logs
// and drops any KindTemplate message it is asked to send.
type TemplateRenderer interface {
	Render(name string, args []string) (string, error)
}

// Connection is the per-session state for one accepted socket: its telnet
// filter, line framer, and the three goroutines that drive them.
type Connection struct {
	ID     netmsg.ConnID
	Remote net.Addr
	Host   string // reverse-DNS name, or the bare IP if resolution hasn't completed

	conn     net.Conn
	outbox   chan netmsg.UserMessage    // presentations queued by SendLine/SendRaw/SendTemplate
	tx       chan netmsg.NetworkMessage // rendered bytes waiting to go out the wire
	toHub    chan<- netmsg.UserMessage
	log      *logpipe.Pipeline
	renderer TemplateRenderer

	filter *telnet.Filter
	frame  *framer.Framer

	mu       sync.Mutex
	ansiMode bool
	echo     bool

	closeOnce   sync.Once
	closeSignal chan struct{}
	renderDone  chan struct{}
}

// New wraps an accepted socket. host should be the connection's bare IP
// address; the server hub updates it to a resolved PTR name once the DNS
// resolver task replies. renderer may be nil, in which case SendTemplate
// calls are logged and dropped.
func New(id netmsg.ConnID, conn net.Conn, host string, toHub chan<- netmsg.UserMessage, log *logpipe.Pipeline, renderer TemplateRenderer) *Connection {
	return &Connection{
		ID:          id,
		Remote:      conn.RemoteAddr(),
		Host:        host,
		conn:        conn,
		outbox:      make(chan netmsg.UserMessage, queueCapacity),
		tx:          make(chan netmsg.NetworkMessage, queueCapacity),
		toHub:       toHub,
		log:         log,
		renderer:    renderer,
		filter:      telnet.NewFilter(),
		frame:       framer.New(),
		ansiMode:    true,
		echo:        true,
		closeSignal: make(chan struct{}),
		renderDone:  make(chan struct{}),
	}
}

// TX returns the connection's transmit queue. The server hub keeps this
// only as the "owned write-half" entry in its write-half bookkeeping map;
// nothing outside this package sends on it.
func (c *Connection) TX() chan<- netmsg.NetworkMessage {
	return c.tx
}

// StartProcessing spawns the reader, render, and writer goroutines and
// returns a channel that is closed when the reader goroutine exits (EOF or
// read error). The caller owns removing this connection from the hub's
// maps once it observes readerDone close; StartProcessing does not do this
// itself, since the hub alone knows when all four of its parallel maps
// have been updated consistently.
func (c *Connection) StartProcessing() (readerDone <-chan struct{}) {
	done := make(chan struct{})
	go c.readLoop(done)
	go c.renderLoop()
	go c.writeLoop()
	return done
}

func (c *Connection) readLoop(done chan<- struct{}) {
	defer close(done)

	buf := make([]byte, 4096)
	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			plain := c.filter.Apply(buf[:n])
			for _, line := range c.frame.Feed(plain) {
				c.toHub <- netmsg.UserMessage{
					Source: c.ID,
					Kind:   netmsg.KindText,
					Text:   string(line),
				}
			}
		}
		if err != nil {
			c.toHub <- netmsg.UserMessage{Source: c.ID}
			return
		}
	}
}

// renderLoop is the writer task subscribed to this connection's outbound
// queue: it turns each UserMessage into wire bytes (raw passes through,
// text and templates compile through the ANSI markup layer) and hands the
// result to writeLoop over tx.
func (c *Connection) renderLoop() {
	defer close(c.renderDone)
	for {
		select {
		case msg := <-c.outbox:
			c.renderAndForward(msg)
		case <-c.closeSignal:
			c.drainOutbox()
			return
		}
	}
}

func (c *Connection) drainOutbox() {
	for {
		select {
		case msg := <-c.outbox:
			c.renderAndForward(msg)
		default:
			return
		}
	}
}

func (c *Connection) renderAndForward(msg netmsg.UserMessage) {
	data, ok := c.render(msg)
	if !ok {
		return
	}
	c.pushWire(data, msg.Kind == netmsg.KindRaw && msg.Literal)
}

func (c *Connection) render(msg netmsg.UserMessage) (data []byte, ok bool) {
	switch msg.Kind {
	case netmsg.KindRaw:
		return append([]byte(nil), msg.Raw...), true
	case netmsg.KindText:
		return c.compileLine(msg.Text), true
	case netmsg.KindTemplate:
		if c.renderer == nil {
			c.log.Error("connection %s: no template renderer configured, dropping %q", c.ID, msg.Template)
			return nil, false
		}
		text, err := c.renderer.Render(msg.Template, msg.TemplateArgs)
		if err != nil {
			c.log.Error("connection %s: rendering template %q: %v", c.ID, msg.Template, err)
			return nil, false
		}
		return c.compileLine(text), true
	default:
		return nil, false
	}
}

func (c *Connection) compileLine(text string) []byte {
	data := ansiparse.CompileMessage(text, c.ansiModeSnapshot())
	return append(data, '\r', '\n')
}

func (c *Connection) writeLoop() {
	defer c.conn.Close()
	for {
		select {
		case msg := <-c.tx:
			if msg.IsDisconnect() {
				c.Disconnect("")
				continue
			}
			if _, err := c.conn.Write(c.wireBytes(msg)); err != nil {
				return
			}
		case <-c.renderDone:
			// renderLoop has finished draining the outbox; drain whatever
			// it already pushed onto tx before the socket goes away.
			c.drainTX()
			return
		}
	}
}

func (c *Connection) drainTX() {
	for {
		select {
		case msg := <-c.tx:
			c.conn.Write(c.wireBytes(msg))
		default:
			return
		}
	}
}

func (c *Connection) wireBytes(msg netmsg.NetworkMessage) []byte {
	if msg.Literal {
		return msg.Data
	}
	return telnet.Escape(msg.Data)
}

// pushWire queues data on the transmit queue. A full queue is logged and
// disconnects the connection: a queue that never drains means the peer
// isn't reading, and holding its bytes forever only delays the inevitable.
func (c *Connection) pushWire(data []byte, literal bool) {
	select {
	case c.tx <- netmsg.NetworkMessage{Dest: c.ID, Data: data, Literal: literal}:
	default:
		c.log.Warn("connection %s: transmit queue full, disconnecting", c.ID)
		c.Disconnect("")
	}
}

// SendLine queues text for rendering; the render step compiles it through
// the ANSI mode in effect when it is rendered and appends a CRLF terminator.
func (c *Connection) SendLine(text string) {
	c.enqueueOutbound(netmsg.UserMessage{Source: c.ID, Kind: netmsg.KindText, Text: text})
}

// SendRaw queues data for rendering unmodified (no markup compilation, no
// terminator appended).
func (c *Connection) SendRaw(data []byte) {
	c.enqueueOutbound(netmsg.UserMessage{Source: c.ID, Kind: netmsg.KindRaw, Raw: append([]byte(nil), data...)})
}

// SendTemplate queues a named template for rendering by the configured
// TemplateRenderer. If none is configured, or rendering fails, the message
// is logged and dropped rather than sent.
func (c *Connection) SendTemplate(name string, args []string) {
	c.enqueueOutbound(netmsg.UserMessage{Source: c.ID, Kind: netmsg.KindTemplate, Template: name, TemplateArgs: args})
}

// enqueueOutbound queues a presentation for rendering. A full queue is
// logged and disconnects the connection, same policy as pushWire one stage
// downstream.
func (c *Connection) enqueueOutbound(msg netmsg.UserMessage) {
	select {
	case c.outbox <- msg:
	default:
		c.log.Warn("connection %s: outbound queue full, disconnecting", c.ID)
		c.Disconnect("")
	}
}

// SetEcho toggles whether the server asks the client to suspend local echo
// (on == true sends IAC WILL ECHO, for password prompts; off sends IAC
// WONT ECHO to return control to the client). The command goes through the
// same outbound queue as every SendLine/SendRaw/SendTemplate call, marked
// Literal so the render step hands it straight to the transmit queue
// without the escape pass meant for user data; routing it through the same
// single queue as everything else is what keeps it from ever overtaking (or
// being overtaken by) a line still waiting to be rendered.
func (c *Connection) SetEcho(on bool) {
	c.mu.Lock()
	c.echo = on
	c.mu.Unlock()

	cmd := iacWontEcho
	if on {
		cmd = iacWillEcho
	}
	c.enqueueOutbound(netmsg.UserMessage{Source: c.ID, Kind: netmsg.KindRaw, Raw: cmd, Literal: true})
}

// SetAnsiMode changes whether lines rendered from now on, including ones
// already queued but not yet rendered, compile markup into SGR escapes or
// strip it silently.
func (c *Connection) SetAnsiMode(on bool) {
	c.mu.Lock()
	c.ansiMode = on
	c.mu.Unlock()
}

func (c *Connection) ansiModeSnapshot() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ansiMode
}

// Disconnect queues an optional final line, then signals the render
// goroutine to drain and the writer goroutine to tear down the socket once
// that line (if any) has gone out. Safe to call more than once. The
// farewell line is rendered here directly, not via SendLine, so a full
// outbox can never route back into Disconnect while the first call is
// still running.
func (c *Connection) Disconnect(reason string) {
	c.closeOnce.Do(func() {
		if reason != "" {
			data := c.compileLine(reason)
			select {
			case c.outbox <- netmsg.UserMessage{Source: c.ID, Kind: netmsg.KindRaw, Raw: data}:
			default:
			}
		}
		close(c.closeSignal)
	})
}
