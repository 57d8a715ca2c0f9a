package bridge

import (
	"fmt"
	"time"

	"github.com/RoanBrand/serialbridge/protocol"
)

// Config holds the bridge settings. It is copied when the bridge starts and
// not consulted again.
type Config struct {
	// Name is announced in the greeting line.
	Name string

	// Device is an explicit serial device path. Empty means auto-discover
	// using Patterns.
	Device string

	// Patterns are glob patterns for device discovery. Empty means the
	// comwrapper defaults.
	Patterns []string

	Baud int

	// ListenAddr is the TCP address to accept clients on (e.g. ":8080").
	ListenAddr string

	// Passthrough forwards local input to the device and echoes device
	// output locally.
	Passthrough bool

	// Verbose logs every relayed chunk.
	Verbose bool

	// WriteDelay is the minimum gap between successive byte writes to the
	// device. Zero writes whole chunks unpaced.
	WriteDelay time.Duration

	// Keyword ends a session when a received chunk starts with it. Empty
	// means the default.
	Keyword string

	// NoKeyword turns termination by keyword off; every chunk is relayed.
	NoKeyword bool

	// EscapeByte read from local input stops the bridge. Zero disables it.
	EscapeByte byte

	PollInterval time.Duration // idle wait for empty reads
	WaitInterval time.Duration // repeat interval of the waiting-for-device notice
	ReadBackoff  time.Duration // pause after a serial read failure
	Cooldown     time.Duration // pause after a session is terminated
	CycleDelay   time.Duration // dispatch loop period when both queues are idle

	NetReadSize    int
	SerialReadSize int
}

// Defaults.
const (
	DefaultName       = "serialbridge"
	DefaultBaud       = 57600
	DefaultListenAddr = ":8080"
	DefaultWriteDelay = 50 * time.Millisecond
	DefaultEscapeByte = 0x1d // ^]
)

// DefaultConfig returns the settings used when nothing is overridden.
func DefaultConfig() Config {
	return Config{
		Name:           DefaultName,
		Baud:           DefaultBaud,
		ListenAddr:     DefaultListenAddr,
		WriteDelay:     DefaultWriteDelay,
		Keyword:        protocol.DefaultKeyword,
		EscapeByte:     DefaultEscapeByte,
		PollInterval:   100 * time.Millisecond,
		WaitInterval:   2 * time.Second,
		ReadBackoff:    time.Second,
		Cooldown:       time.Second,
		CycleDelay:     100 * time.Millisecond,
		NetReadSize:    10240,
		SerialReadSize: 1024,
	}
}

// withDefaults fills unset fields. WriteDelay and EscapeByte are left alone
// since zero is meaningful for both.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Name == "" {
		c.Name = d.Name
	}
	if c.Baud == 0 {
		c.Baud = d.Baud
	}
	if c.ListenAddr == "" {
		c.ListenAddr = d.ListenAddr
	}
	if c.NoKeyword {
		c.Keyword = ""
	} else if c.Keyword == "" {
		c.Keyword = d.Keyword
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.WaitInterval <= 0 {
		c.WaitInterval = d.WaitInterval
	}
	if c.ReadBackoff <= 0 {
		c.ReadBackoff = d.ReadBackoff
	}
	if c.Cooldown <= 0 {
		c.Cooldown = d.Cooldown
	}
	if c.CycleDelay <= 0 {
		c.CycleDelay = d.CycleDelay
	}
	if c.NetReadSize <= 0 {
		c.NetReadSize = d.NetReadSize
	}
	if c.SerialReadSize <= 0 {
		c.SerialReadSize = d.SerialReadSize
	}
	return c
}

// Validate rejects settings the bridge cannot run with.
func (c Config) Validate() error {
	if c.Baud < 0 {
		return fmt.Errorf("bridge: invalid baud rate %d", c.Baud)
	}
	if c.WriteDelay < 0 {
		return fmt.Errorf("bridge: negative write delay %v", c.WriteDelay)
	}
	if c.NetReadSize < 0 || c.SerialReadSize < 0 {
		return fmt.Errorf("bridge: negative read size")
	}
	return nil
}
