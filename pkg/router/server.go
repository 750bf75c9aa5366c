package router

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/trunkline/trunkrouter/internal/buffer"
	"github.com/trunkline/trunkrouter/internal/core"
	"github.com/trunkline/trunkrouter/internal/delivery"
	"github.com/trunkline/trunkrouter/internal/h2adaptor"
	"github.com/trunkline/trunkrouter/internal/mgmt"
	"github.com/trunkline/trunkrouter/internal/obsv"
	"github.com/trunkline/trunkrouter/internal/transport"
)

// coreTickPeriod is how often the core's uptime ticker advances, driving
// per-link settle-rate accounting (§4.8).
const coreTickPeriod = 100 * time.Millisecond

// sweepPeriod is how often the stuck-delivery detector is run over the
// link table (§4.8, §5).
const sweepPeriod = time.Second

// Server is one listener mapping HTTP/2 connections to AMQP deliveries on
// a single virtual address.
type Server struct {
	config    Config
	respond   h2adaptor.Responder
	pool      *buffer.Pool
	transport *transport.Server
	adaptor   *h2adaptor.Adaptor
	core      *core.Core
	walker    *mgmt.Walker

	coreCancel context.CancelFunc
	coreDone   chan struct{}
	sweepDone  chan struct{}
}

// New creates a Server bound to config. respond answers every routed
// incoming delivery (§1: the real forwarder is out of scope; respond
// stands in for it).
func New(config Config, respond h2adaptor.Responder) *Server {
	if err := config.Validate(); err != nil {
		panic(err)
	}
	return &Server{
		config:  config,
		respond: respond,
		pool:    buffer.NewPool(buffer.DefaultTuning()),
		core:    core.New(64, coreTickPeriod),
	}
}

// Respond sets or replaces the delivery responder and returns the server
// for chaining.
func (s *Server) Respond(respond h2adaptor.Responder) *Server {
	s.respond = respond
	return s
}

// Start begins accepting HTTP/2 connections.
func (s *Server) Start() error {
	if s.respond == nil {
		return fmt.Errorf("router: no responder set")
	}

	s.adaptor = h2adaptor.New(s.config.VirtualAddress, s.pool, s.config.Watermarks, s.respond)
	s.adaptor.LocalRouterID = s.config.RouterID
	s.adaptor.MaxMessageSize = s.config.MaxMessageSize
	s.adaptor.Tracer = obsv.NewTracer(obsv.DefaultTracingConfig())

	logger, err := zap.NewProduction()
	if err != nil {
		return err
	}

	s.transport = transport.NewServer(s.adaptor, transport.Config{
		Addr:                 s.config.Addr,
		Multicore:            s.config.Multicore,
		NumEventLoop:         s.config.NumEventLoop,
		ReusePort:            s.config.ReusePort,
		Logger:               logger.Sugar(),
		MaxConcurrentStreams: s.config.MaxConcurrentStreams,
	})

	s.walker = mgmt.NewWalker(s.core.Queue())

	coreCtx, cancel := context.WithCancel(context.Background())
	s.coreCancel = cancel
	s.coreDone = make(chan struct{})
	go func() {
		defer close(s.coreDone)
		_ = s.core.Run(coreCtx)
	}()

	s.sweepDone = make(chan struct{})
	go s.runSweeps(coreCtx)

	return s.transport.Start()
}

// runSweeps periodically posts a stuck-delivery detector pass onto the
// core thread and reports the result to the links-stuck gauge (§4.8).
func (s *Server) runSweeps(ctx context.Context) {
	defer close(s.sweepDone)

	ticker := time.NewTicker(sweepPeriod)
	defer ticker.Stop()

	next := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.core.Queue().TryEnqueue(func() {
				if s.adaptor == nil {
					return
				}
				links := []*delivery.Link{s.adaptor.IncomingLink()}
				results, n := s.adaptor.Detector().Sweep(links, s.core.Clock().Now(), next)
				next = n

				var zeroCredit, delayed int
				for _, r := range results {
					if r.Report.ZeroCredit {
						zeroCredit++
					}
					if r.Report.DelayedDelivery {
						delayed++
					}
				}
				obsv.SetLinksStuck("zero_credit", zeroCredit)
				obsv.SetLinksStuck("delayed_delivery", delayed)
			})
		}
	}
}

// Stop shuts down the transport and its connections, then stops the core
// thread. It does not release unsent deliveries or settle in-flight ones.
func (s *Server) Stop(ctx context.Context) error {
	var err error
	if s.transport != nil {
		err = s.transport.Stop(ctx)
	}
	if s.coreCancel != nil {
		s.coreCancel()
		<-s.coreDone
		if s.sweepDone != nil {
			<-s.sweepDone
		}
	}
	return err
}

// IncomingLink exposes the adaptor's incoming delivery link for the
// management table walk (§4.8) once the server has started.
func (s *Server) IncomingLink() *delivery.Link {
	if s.adaptor == nil {
		return nil
	}
	return s.adaptor.IncomingLink()
}

// Walker exposes the management table walker (§4.8) wired onto this
// server's core thread.
func (s *Server) Walker() *mgmt.Walker {
	return s.walker
}

// ConnectionTable builds a Connection management table backed by the
// transport's live connection list.
func (s *Server) ConnectionTable() *mgmt.ConnectionTable {
	return mgmt.NewConnectionTable(func() []mgmt.ConnectionRecord {
		if s.transport == nil {
			return nil
		}
		snapshots := s.transport.Snapshot()
		out := make([]mgmt.ConnectionRecord, len(snapshots))
		for i, c := range snapshots {
			out[i] = mgmt.ConnectionRecord{
				ID:      uint64(i),
				Host:    c.Host,
				Role:    "normal",
				Streams: c.Streams,
			}
		}
		return out
	})
}

// LinkTable builds a Link management table backed by the adaptor's
// incoming link, using the core's uptime ticker to advance settle-rate
// rings lazily (§4.8).
func (s *Server) LinkTable() *mgmt.LinkTable {
	return mgmt.NewLinkTable(s.core.Clock(), func() []*delivery.Link {
		if s.adaptor == nil {
			return nil
		}
		return []*delivery.Link{s.adaptor.IncomingLink()}
	})
}
