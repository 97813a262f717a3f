package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"slotarbiter/internal/peer"
	"syscall"
)

func main() {
	conf, err := peer.NewConfig(os.Args[1:])
	if err != nil {
		log.Fatal("Failed to create peer config: ", err)
	}

	p, err := peer.NewPeer(conf)
	if err != nil {
		log.Fatal("Failed to start peer: ", err)
	}
	defer p.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rounds, err := p.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "Peer %d stopped after %d rounds: %v\n", conf.Rank, rounds, err)
		return
	}
	fmt.Printf("Peer %d completed %d rounds\n", conf.Rank, rounds)

	// Keep answering the other peers until interrupted.
	<-ctx.Done()
}
