// Package router assembles the raw-connection transport, the HTTP/2 frame
// processor, and the HTTP/2-to-delivery adaptor into one runnable server
// bound to a single virtual address (§4.7 item 1, §6 External interfaces).
package router

import (
	"io"
	"log"

	"github.com/trunkline/trunkrouter/internal/flowcontrol"
)

// Config holds the router's listener, protocol, and back-pressure tuning.
type Config struct {
	Addr                 string // Listener address, e.g. ":5672"
	Multicore            bool
	NumEventLoop         int // 0 autodetects
	ReusePort            bool
	MaxConcurrentStreams uint32 // RFC 7540 SETTINGS_MAX_CONCURRENT_STREAMS (§6: default 100)
	MaxFrameSize         uint32 // SETTINGS_MAX_FRAME_SIZE (§6: default 16384); not passed to the listener, which always advertises 16384
	InitialWindowSize    uint32 // SETTINGS_INITIAL_WINDOW_SIZE (§6: default 65536); not passed to the listener, which always advertises 65536
	Logger               *log.Logger

	// VirtualAddress is the single address the HTTP/2 adaptor on this
	// listener maps every incoming stream to (§4.7 item 1).
	VirtualAddress string
	// RouterID is stamped into outgoing router-annotations as the
	// ingress-router field (§4.3).
	RouterID       string
	MaxMessageSize int // 0 disables the oversize-message policy (§7 Capacity)
	Watermarks     flowcontrol.Watermarks
}

func newSilentLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

// DefaultConfig returns a Config with the watermarks and HTTP/2 settings
// named in §6 External interfaces.
func DefaultConfig() Config {
	return Config{
		Addr:                 ":5672",
		Multicore:            true,
		ReusePort:            true,
		MaxConcurrentStreams: 100,
		MaxFrameSize:         16384,
		InitialWindowSize:    65536,
		Logger:               newSilentLogger(),
		VirtualAddress:       "default",
		RouterID:             "trunkrouter-0",
		Watermarks:           flowcontrol.DefaultWatermarks(),
	}
}

// Validate normalizes zero-value fields to their defaults.
func (c *Config) Validate() error {
	if c.Addr == "" {
		c.Addr = ":5672"
	}
	if c.MaxFrameSize < 16384 {
		c.MaxFrameSize = 16384
	}
	if c.MaxFrameSize > (1<<24)-1 {
		c.MaxFrameSize = (1 << 24) - 1
	}
	if c.InitialWindowSize == 0 {
		c.InitialWindowSize = 65536
	}
	if c.MaxConcurrentStreams == 0 {
		c.MaxConcurrentStreams = 100
	}
	if c.Logger == nil {
		c.Logger = log.Default()
	}
	if c.VirtualAddress == "" {
		c.VirtualAddress = "default"
	}
	if c.RouterID == "" {
		c.RouterID = "trunkrouter-0"
	}
	if (c.Watermarks == flowcontrol.Watermarks{}) {
		c.Watermarks = flowcontrol.DefaultWatermarks()
	}
	return nil
}
