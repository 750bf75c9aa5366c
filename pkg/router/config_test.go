package router

import "testing"

func TestValidateFillsZeroValueDefaults(t *testing.T) {
	c := Config{}
	if err := c.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if c.Addr != ":5672" {
		t.Fatalf("expected default addr, got %q", c.Addr)
	}
	if c.MaxFrameSize != 16384 {
		t.Fatalf("expected default max frame size, got %d", c.MaxFrameSize)
	}
	if c.InitialWindowSize != 65536 {
		t.Fatalf("expected default initial window size, got %d", c.InitialWindowSize)
	}
	if c.MaxConcurrentStreams != 100 {
		t.Fatalf("expected default max concurrent streams, got %d", c.MaxConcurrentStreams)
	}
	if c.VirtualAddress != "default" {
		t.Fatalf("expected default virtual address, got %q", c.VirtualAddress)
	}
	if c.Watermarks.Q2Upper != 64 {
		t.Fatalf("expected default watermarks filled in, got %+v", c.Watermarks)
	}
	if c.RouterID == "" {
		t.Fatalf("expected default router id to be filled in")
	}
}

func TestValidateClampsOversizeFrame(t *testing.T) {
	c := Config{MaxFrameSize: 1 << 30}
	if err := c.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if c.MaxFrameSize != (1<<24)-1 {
		t.Fatalf("expected clamped max frame size, got %d", c.MaxFrameSize)
	}
}
