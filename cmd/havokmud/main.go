// Command havokmud is the networking core's process entrypoint: it loads
// settings, starts the logging, server, config-watcher, and signal-watcher
// tasks, and coordinates their startup and shutdown through the lifecycle
// package's bus and barriers.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/beirdo/havokmud/internal/connection"
	"github.com/beirdo/havokmud/internal/dnsresolve"
	"github.com/beirdo/havokmud/internal/lifecycle"
	"github.com/beirdo/havokmud/internal/logpipe"
	"github.com/beirdo/havokmud/internal/netmsg"
	"github.com/beirdo/havokmud/internal/server"
	"github.com/beirdo/havokmud/internal/settings"
)

const appName = "havokmud"

// workerCount is the number of goroutines, besides main itself, that
// subscribe to the control bus: logging, the server hub, the config file
// watcher, the SIGINT watcher, and the SIGHUP watcher.
const workerCount = 5

const reloadDebounce = 250 * time.Millisecond

func main() {
	configDir := flag.String("config-dir", "config", "directory holding default.toml/<run_mode>.toml/local.toml")
	dataDir := flag.String("data-dir", "data", "directory for logs and other runtime state")
	nameserver := flag.String("dns-server", "", "nameserver for reverse lookups (host:port); empty uses the system resolver")
	flag.Parse()

	bus := lifecycle.NewBus()
	startBarrier := lifecycle.NewBarrier(workerCount + 1)
	shutdownBarrier := lifecycle.NewBarrier(workerCount + 1)

	log := logpipe.New()
	resolver := dnsresolve.New(*nameserver)
	// No TemplateRenderer: the bare networking core has no message
	// templates of its own to render.
	hub := server.New(log, resolver, nil, echoHandler)

	go log.Run(startBarrier, shutdownBarrier, bus.Subscribe())
	go hub.Run(startBarrier, shutdownBarrier, bus.Subscribe())
	go runConfigWatcher(*configDir, *dataDir, bus, startBarrier, shutdownBarrier, bus.Subscribe(), log)
	go watchSigint(bus, startBarrier, shutdownBarrier, bus.Subscribe(), log)
	go watchSighup(*configDir, *dataDir, bus, startBarrier, shutdownBarrier, bus.Subscribe(), log)

	// Every worker has already subscribed (bus.Subscribe above ran on this
	// goroutine, synchronously, before each worker's own goroutine started)
	// so waiting here only needs to confirm each worker has reached its own
	// startBarrier.Wait() and is ready to receive the initial Reconfigure.
	startBarrier.Wait()

	initial, err := settings.Load(appName, *configDir, *dataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "havokmud: loading settings: %v\n", err)
		os.Exit(1)
	}
	bus.Broadcast(lifecycle.ControlSignal{Kind: lifecycle.Reconfigure, Settings: initial})

	shutdownBarrier.Wait()
}

// echoHandler is the networking core's only built-in behavior: it has no
// game logic of its own, so every line a player sends is echoed straight
// back. A real deployment replaces this with its own server.Handler.
func echoHandler(msg netmsg.UserMessage, conn *connection.Connection) {
	conn.SendLine(msg.Text)
}

// runConfigWatcher debounces fsnotify events on configDir and reloads
// settings after a quiet period, broadcasting the result as a Reconfigure.
func runConfigWatcher(configDir, dataDir string, bus *lifecycle.Bus, startBarrier, shutdownBarrier *lifecycle.Barrier, sub *lifecycle.Subscription, log *logpipe.Pipeline) {
	defer sub.Close()

	log.Info("Starting config watcher")
	startBarrier.Wait()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Error("config watcher: %v", err)
		awaitShutdownOnly(sub, shutdownBarrier)
		return
	}
	defer watcher.Close()

	if err := watcher.Add(configDir); err != nil {
		log.Warn("config watcher: cannot watch %s: %v", configDir, err)
	}

	var debounce *time.Timer
	reload := make(chan struct{}, 1)

	for {
		select {
		case ev, ok := <-watcher.Events:
			if !ok {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if debounce == nil {
				debounce = time.AfterFunc(reloadDebounce, func() {
					select {
					case reload <- struct{}{}:
					default:
					}
				})
			} else {
				debounce.Reset(reloadDebounce)
			}

		case werr, ok := <-watcher.Errors:
			if !ok {
				continue
			}
			log.Warn("config watcher: %v", werr)

		case <-reload:
			next, err := settings.Load(appName, configDir, dataDir)
			if err != nil {
				log.Error("config watcher: reload failed: %v", err)
				continue
			}
			log.Info("config watcher: configuration changed, reconfiguring")
			bus.Broadcast(lifecycle.ControlSignal{Kind: lifecycle.Reconfigure, Settings: next})

		case sig, ok := <-sub.C():
			if !ok {
				return
			}
			if sig.Kind == lifecycle.Shutdown {
				shutdownBarrier.Wait()
				return
			}
		}
	}
}

// watchSigint turns the first interrupt into a graceful Shutdown broadcast
// and a second one, before the first has finished draining, into an
// immediate process exit.
func watchSigint(bus *lifecycle.Bus, startBarrier, shutdownBarrier *lifecycle.Barrier, sub *lifecycle.Subscription, log *logpipe.Pipeline) {
	defer sub.Close()

	log.Info("Starting interrupt watcher")
	startBarrier.Wait()

	sigc := make(chan os.Signal, 2)
	signal.Notify(sigc, os.Interrupt)
	defer signal.Stop(sigc)

	interrupted := false
	for {
		select {
		case <-sigc:
			if interrupted {
				log.Error("havokmud: second interrupt received, forcing exit")
				os.Exit(1)
			}
			interrupted = true
			log.Info("havokmud: interrupt received, shutting down (press Ctrl-C again to force)")
			bus.Broadcast(lifecycle.ControlSignal{Kind: lifecycle.Shutdown})

		case sig, ok := <-sub.C():
			if !ok {
				return
			}
			if sig.Kind == lifecycle.Shutdown {
				shutdownBarrier.Wait()
				return
			}
		}
	}
}

// watchSighup reloads settings and broadcasts a Reconfigure each time the
// process receives SIGHUP.
func watchSighup(configDir, dataDir string, bus *lifecycle.Bus, startBarrier, shutdownBarrier *lifecycle.Barrier, sub *lifecycle.Subscription, log *logpipe.Pipeline) {
	defer sub.Close()

	log.Info("Starting hangup watcher")
	startBarrier.Wait()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGHUP)
	defer signal.Stop(sigc)

	for {
		select {
		case <-sigc:
			log.Info("havokmud: SIGHUP received, reloading configuration")
			next, err := settings.Load(appName, configDir, dataDir)
			if err != nil {
				log.Error("havokmud: reload failed: %v", err)
				continue
			}
			bus.Broadcast(lifecycle.ControlSignal{Kind: lifecycle.Reconfigure, Settings: next})

		case sig, ok := <-sub.C():
			if !ok {
				return
			}
			if sig.Kind == lifecycle.Shutdown {
				shutdownBarrier.Wait()
				return
			}
		}
	}
}

// awaitShutdownOnly is used by a worker that failed to start properly but
// must still participate in the shutdown barrier like every other
// subscriber.
func awaitShutdownOnly(sub *lifecycle.Subscription, shutdownBarrier *lifecycle.Barrier) {
	for sig := range sub.C() {
		if sig.Kind == lifecycle.Shutdown {
			shutdownBarrier.Wait()
			return
		}
	}
}
