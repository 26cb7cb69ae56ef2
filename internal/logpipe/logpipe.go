// Package logpipe is the logging thread: an intake queue fed by every other
// task, rendered through zap, with a drain-on-shutdown handshake so that
// other workers' final log lines are not lost when the process exits.
package logpipe

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/beirdo/havokmud/internal/lifecycle"
	"github.com/beirdo/havokmud/internal/settings"
)

// Message is one queued log line plus its level, matching the shape the
// rest of the process enqueues via the Pipeline helper methods.
type Message struct {
	Level zapcore.Level
	Text  string
}

const intakeCapacity = 256

// Pipeline owns the intake channel; once started, Run holds the live zap
// logger on its own goroutine. Every other task holds a reference to the
// same Pipeline and calls its Debug/Info/Warn/Error helpers instead of
// touching zap directly.
type Pipeline struct {
	intake chan Message
	logger *zap.Logger // never assigned: Run keeps the live logger in a local variable
}

// New creates a Pipeline with an empty intake queue. Call Run in its own
// goroutine to start draining it.
func New() *Pipeline {
	return &Pipeline{intake: make(chan Message, intakeCapacity)}
}

func (p *Pipeline) enqueue(level zapcore.Level, text string) {
	// A send on the intake after drainRemaining has closed it panics; the
	// recover turns that into a dropped line.
	defer func() { _ = recover() }()
	select {
	case p.intake <- Message{Level: level, Text: text}:
	default:
		// Intake is full or already closed; dropping a log line is
		// preferable to blocking the caller's critical path.
	}
}

// Debug, Info, Warn, and Error enqueue a formatted line at the given level.
// They never block and never fail visibly — logging is best-effort per §7.
func (p *Pipeline) Debug(format string, args ...any) { p.enqueue(zapcore.DebugLevel, fmt.Sprintf(format, args...)) }
func (p *Pipeline) Info(format string, args ...any)  { p.enqueue(zapcore.InfoLevel, fmt.Sprintf(format, args...)) }
func (p *Pipeline) Warn(format string, args ...any)  { p.enqueue(zapcore.WarnLevel, fmt.Sprintf(format, args...)) }
func (p *Pipeline) Error(format string, args ...any) { p.enqueue(zapcore.ErrorLevel, fmt.Sprintf(format, args...)) }

// buildLogger assembles a zap logger that tees to stderr (always Info and
// above) and to the configured log file (Debug and above when the Debug
// flag is set, Info and above otherwise).
func buildLogger(s *settings.Settings) (*zap.Logger, error) {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	consoleEncoder := zapcore.NewConsoleEncoder(encoderCfg)
	fileEncoder := zapcore.NewJSONEncoder(encoderCfg)

	fileLevel := zapcore.InfoLevel
	if s.Global.Debug {
		fileLevel = zapcore.DebugLevel
	}

	file, err := os.OpenFile(s.Global.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("logpipe: opening %s: %w", s.Global.LogFile, err)
	}

	core := zapcore.NewTee(
		zapcore.NewCore(consoleEncoder, zapcore.Lock(os.Stderr), zapcore.InfoLevel),
		zapcore.NewCore(fileEncoder, zapcore.AddSync(file), fileLevel),
	)

	return zap.New(core), nil
}

func logAt(logger *zap.Logger, msg Message) {
	if logger == nil {
		return
	}
	switch msg.Level {
	case zapcore.DebugLevel:
		logger.Debug(msg.Text)
	case zapcore.WarnLevel:
		logger.Warn(msg.Text)
	case zapcore.ErrorLevel:
		logger.Error(msg.Text)
	default:
		logger.Info(msg.Text)
	}
}

// Run is the logging task's body. It waits on startBarrier before it can
// process signals (the bus isn't broadcasting yet), blocks until the first
// Reconfigure to build its zap logger, then alternates between draining the
// intake queue and watching for further Reconfigure/Shutdown signals. On
// Shutdown it waits on shutdownBarrier *before* closing its own intake, so
// every other worker's dying-gasp log line is still accepted.
func (p *Pipeline) Run(startBarrier, shutdownBarrier *lifecycle.Barrier, sub *lifecycle.Subscription) {
	defer sub.Close()

	p.Info("Starting logging thread")
	startBarrier.Wait()

	var logger *zap.Logger
	for logger == nil {
		sig, ok := <-sub.C()
		if !ok {
			return
		}
		switch sig.Kind {
		case lifecycle.Shutdown:
			shutdownBarrier.Wait()
			p.drainRemaining(nil)
			return
		case lifecycle.Reconfigure:
			built, err := buildLogger(sig.Settings)
			if err != nil {
				fmt.Fprintf(os.Stderr, "logpipe: %v\n", err)
				continue
			}
			logger = built
		}
	}
	defer logger.Sync()

	for {
		select {
		case msg, ok := <-p.intake:
			if !ok {
				return
			}
			logAt(logger, msg)
		case sig, ok := <-sub.C():
			if !ok {
				return
			}
			switch sig.Kind {
			case lifecycle.Shutdown:
				shutdownBarrier.Wait()
				logger.Info("Draining logs")
				p.drainRemaining(logger)
				logger.Info("Logs drained")
				return
			case lifecycle.Reconfigure:
				if built, err := buildLogger(sig.Settings); err == nil {
					logger.Sync()
					logger = built
				}
			}
		}
	}
}

// drainRemaining flushes whatever is already queued without blocking for
// new arrivals, used once shutdown has been agreed on by every task.
func (p *Pipeline) drainRemaining(logger *zap.Logger) {
	close(p.intake)
	for msg := range p.intake {
		logAt(logger, msg)
	}
}
