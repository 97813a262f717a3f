package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"slotarbiter/internal/arbiter"
	"slotarbiter/internal/logging"
	"slotarbiter/internal/peer"
	"slotarbiter/internal/transport"
	"sync"
	"time"
)

func main() {
	numPeers := flag.Int("peers", 3, "number of peers")
	numSlots := flag.Int("slots", 2, "number of slots")
	rounds := flag.Int("rounds", 10, "acquisitions per peer")
	thinkMax := flag.Duration("think", 50*time.Millisecond, "maximum think time")
	useMax := flag.Duration("use", 20*time.Millisecond, "maximum usage time")
	backoff := flag.Duration("backoff", 100*time.Millisecond, "backoff when no slot is free")
	timeout := flag.Duration("timeout", time.Minute, "abort the simulation after this long")
	debug := flag.Bool("debug", false, "log every step of every peer")
	flag.Parse()

	if *numPeers <= 0 || *numSlots <= 0 || *rounds <= 0 {
		fmt.Fprintln(os.Stderr, "peers, slots and rounds must be positive")
		os.Exit(2)
	}

	network := transport.NewMemoryNetwork()
	monitor := peer.NewExclusionMonitor()

	addrs := make([]transport.Address, *numPeers)
	for i := range addrs {
		addrs[i] = transport.Address{IP: "127.0.0.1", Port: uint16(5000 + i)}
	}

	peers := make([]*peer.Peer, *numPeers)
	for i := range peers {
		log := logging.NewStdLogger(fmt.Sprintf("peer(%d)", i))
		if !*debug {
			log = log.WithLogLevel(logging.WARN)
		}
		config := &peer.Config{
			Debug:   *debug,
			Rank:    arbiter.Rank(i),
			Peers:   addrs,
			Slots:   *numSlots,
			Rounds:  *rounds,
			Think:   peer.Interval{Max: *thinkMax},
			Use:     peer.Interval{Max: *useMax},
			Backoff: *backoff,
		}
		peers[i] = peer.NewPeerWithNetwork(log, config, network.Join(addrs[i], log.WithPostfix("mem")), monitor)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	start := time.Now()
	completed := make([]int, len(peers))
	failed := false
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i, p := range peers {
		wg.Add(1)
		go func(i int, p *peer.Peer) {
			defer wg.Done()
			n, err := p.Run(ctx)
			mu.Lock()
			defer mu.Unlock()
			completed[i] = n
			if err != nil {
				fmt.Fprintf(os.Stderr, "peer %d: %v\n", i, err)
				failed = true
			}
		}(i, p)
	}
	wg.Wait()
	elapsed := time.Since(start)

	for _, p := range peers {
		p.Close()
	}

	fmt.Printf("%d peers, %d slots, %v\n", *numPeers, *numSlots, elapsed.Round(time.Millisecond))
	for i, n := range completed {
		fmt.Printf("  P%d: %d rounds, %d acquisitions\n", i, n, monitor.Acquisitions(arbiter.Rank(i)))
	}

	violations := monitor.Violations()
	for _, v := range violations {
		fmt.Println("VIOLATION:", v)
	}
	if len(violations) > 0 || failed {
		os.Exit(1)
	}
	fmt.Println("No slot was ever held by two peers")
}
