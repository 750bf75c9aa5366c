// Command trunkrouterd runs one HTTP/2-to-AMQP router listener.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/trunkline/trunkrouter/internal/config"
	"github.com/trunkline/trunkrouter/internal/delivery"
	"github.com/trunkline/trunkrouter/internal/h2adaptor"
	"github.com/trunkline/trunkrouter/pkg/router"
)

func main() {
	addr := flag.String("addr", ":5672", "listen address")
	virtualAddress := flag.String("address", "default", "virtual address every incoming stream is mapped to")
	tuningPath := flag.String("tuning", "", "path to a YAML file overriding watermark/buffer-pool tuning")
	flag.Parse()

	tuning := config.DefaultConfig()
	if *tuningPath != "" {
		loaded, err := config.Load(*tuningPath)
		if err != nil {
			log.Fatalf("trunkrouterd: %v", err)
		}
		tuning = loaded
	}

	routerConfig := router.DefaultConfig()
	routerConfig.Addr = *addr
	routerConfig.VirtualAddress = *virtualAddress
	routerConfig.Watermarks = tuning.Flowcontrol()

	// No forwarder is wired in (§1: address routing is an out-of-scope
	// collaborator); accept every routed delivery so the process is
	// runnable standalone for conformance testing.
	respond := func(in *delivery.Delivery) h2adaptor.Response {
		return h2adaptor.Response{Status: 200}
	}

	srv := router.New(routerConfig, respond)

	go func() {
		log.Printf("trunkrouterd listening on %s (virtual address %q)", routerConfig.Addr, routerConfig.VirtualAddress)
		if err := srv.Start(); err != nil {
			log.Fatalf("trunkrouterd: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("trunkrouterd: shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Stop(ctx); err != nil {
		log.Printf("trunkrouterd: shutdown error: %v", err)
	}
}
