package router

import (
	"context"
	"testing"

	"github.com/trunkline/trunkrouter/internal/delivery"
	"github.com/trunkline/trunkrouter/internal/h2adaptor"
	"github.com/trunkline/trunkrouter/internal/mgmt"
)

func TestLinkTableReflectsIncomingLinkCredit(t *testing.T) {
	config := DefaultConfig()
	s := New(config, func(in *delivery.Delivery) h2adaptor.Response {
		return h2adaptor.Response{Status: 200}
	})
	s.adaptor = h2adaptor.New(config.VirtualAddress, s.pool, config.Watermarks, s.respond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.core.Run(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	table := s.LinkTable()
	if table.Len() != 1 {
		t.Fatalf("expected one incoming link row, got %d", table.Len())
	}
	row := table.Row(0, nil)
	if row["name"] != config.VirtualAddress {
		t.Fatalf("expected link name %q, got %+v", config.VirtualAddress, row)
	}
	if row["direction"] != "incoming" {
		t.Fatalf("expected incoming direction, got %+v", row)
	}
	if row["credit"] != s.adaptor.IncomingLink().Credit() {
		t.Fatalf("expected credit column to match the incoming link's credit, got %+v", row)
	}
}

func TestConnectionTableEmptyBeforeStart(t *testing.T) {
	config := DefaultConfig()
	s := New(config, func(in *delivery.Delivery) h2adaptor.Response {
		return h2adaptor.Response{Status: 200}
	})

	table := s.ConnectionTable()
	if table.Len() != 0 {
		t.Fatalf("expected no connections before the transport starts, got %d", table.Len())
	}
}

func TestDetectorPassOnCoreQueueEvaluatesIncomingLink(t *testing.T) {
	config := DefaultConfig()
	s := New(config, func(in *delivery.Delivery) h2adaptor.Response {
		return h2adaptor.Response{Status: 200}
	})
	s.adaptor = h2adaptor.New(config.VirtualAddress, s.pool, config.Watermarks, s.respond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.core.Run(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	swept := make(chan struct{})
	var results []delivery.SweepResult
	s.core.Queue().Enqueue(func() {
		links := []*delivery.Link{s.adaptor.IncomingLink()}
		results, _ = s.adaptor.Detector().Sweep(links, s.core.Clock().Now(), 0)
		close(swept)
	})
	<-swept

	if len(results) != 1 {
		t.Fatalf("expected the detector to evaluate the one incoming link, got %d results", len(results))
	}
}

func TestWalkerWalksConnectionTableOnCoreThread(t *testing.T) {
	config := DefaultConfig()
	s := New(config, func(in *delivery.Delivery) h2adaptor.Response {
		return h2adaptor.Response{Status: 200}
	})
	s.walker = mgmt.NewWalker(s.core.Queue())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.core.Run(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	table := s.ConnectionTable()
	if _, _, ok := s.walker.GetFirst(table, 0, nil); ok {
		t.Fatalf("expected no rows against an empty connection table")
	}
}
