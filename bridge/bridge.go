package bridge

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/RoanBrand/serialbridge/comwrapper"
)

// Bridge relays bytes between one serial device and one TCP client at a time.
type Bridge struct {
	Config Config

	// Logger receives structured log output. If nil, slog.Default() is used.
	Logger *slog.Logger

	// Open opens the serial device. If nil, comwrapper.Open is used.
	Open OpenFunc

	// Locate resolves the device path on every open attempt. If nil, a
	// comwrapper.Locator built from Config.Device and Config.Patterns is used.
	Locate func() (string, error)

	// LocalIn and LocalOut are the local terminal, used only when
	// Config.Passthrough is set.
	LocalIn  io.Reader
	LocalOut io.Writer

	// Metrics may be nil.
	Metrics *Metrics

	cfg      Config
	logger   *slog.Logger
	metrics  *Metrics
	link     link
	channel  *channel
	netQ     *ByteQueue // client and local input -> device
	serialQ  *ByteQueue // device -> client
	localOut io.Writer

	listener net.Listener
	cancel   context.CancelFunc
	stopOnce sync.Once
	pumps    sync.WaitGroup
	done     chan struct{}
}

// Start binds the listener and starts the pumps and the dispatch loop. It
// returns once the listener is accepting. The bridge runs until Stop is
// called, the context is cancelled, or the local escape byte is read.
func (b *Bridge) Start(ctx context.Context) error {
	cfg := b.Config.withDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}
	b.cfg = cfg

	b.logger = b.Logger
	if b.logger == nil {
		b.logger = slog.Default()
	}
	b.metrics = b.Metrics

	locate := b.Locate
	if locate == nil {
		locate = comwrapper.Locator{Device: cfg.Device, Patterns: cfg.Patterns}.Locate
	}
	open := b.Open
	if open == nil {
		open = comwrapper.Open
	}
	b.channel = &channel{
		link:    &b.link,
		locate:  locate,
		open:    open,
		baud:    cfg.Baud,
		logger:  b.logger,
		metrics: b.metrics,
	}
	b.netQ = NewByteQueue()
	b.serialQ = NewByteQueue()
	if cfg.Passthrough {
		b.localOut = b.LocalOut
	}

	listener, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("bridge: failed to listen on %s: %w", cfg.ListenAddr, err)
	}
	b.listener = listener

	ctx, b.cancel = context.WithCancel(ctx)
	b.done = make(chan struct{})

	b.pumps.Add(3)
	go b.acceptLoop(ctx)
	go b.pumpSerial(ctx)
	go b.dispatch(ctx)
	if cfg.Passthrough && b.LocalIn != nil {
		go b.pumpLocal(ctx, b.LocalIn)
	}

	go func() {
		<-ctx.Done()
		b.listener.Close()
		b.pumps.Wait()
		b.channel.Close()
		close(b.done)
	}()

	b.logger.Info("bridge started",
		"listen_addr", listener.Addr().String(),
		"device", cfg.Device,
		"baud", cfg.Baud,
		"write_delay", cfg.WriteDelay,
		"passthrough", cfg.Passthrough,
	)
	return nil
}

// Addr returns the listener's address, useful when binding to port 0.
// Returns nil if the bridge has not been started.
func (b *Bridge) Addr() net.Addr {
	if b.listener == nil {
		return nil
	}
	return b.listener.Addr()
}

// Stop shuts the bridge down and waits for the pumps to exit. The serial
// channel and any session are closed.
func (b *Bridge) Stop() {
	b.shutdown()
	b.Wait()
}

// Wait blocks until the bridge has stopped.
func (b *Bridge) Wait() {
	if b.done != nil {
		<-b.done
	}
}

// Done is closed once the bridge has stopped.
func (b *Bridge) Done() <-chan struct{} {
	return b.done
}

func (b *Bridge) shutdown() {
	b.stopOnce.Do(func() {
		if b.cancel != nil {
			b.cancel()
		}
	})
}
