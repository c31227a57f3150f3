//go:build ignore

// Run: go run ./build-tools/loadgen.go -url nats://localhost:4222 -subject feed.events -rps 1000 -duration 60s -pools 50 -whale-pct 2

package main

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	mrand "math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
)

type rawEvent struct {
	Kind        string    `json:"kind"`
	TxHash      string    `json:"tx_hash"`
	PoolAddress string    `json:"pool_address"`
	Sender      string    `json:"sender"`
	Recipient   string    `json:"recipient"`
	Token       string    `json:"token"`
	Amount0     int64     `json:"amount0"`
	Amount1     int64     `json:"amount1"`
	AmountUSD   string    `json:"amount_usd"`
	TVLUSD      float64   `json:"tvl_usd"`
	Price       float64   `json:"price"`
	Decimals0   uint8     `json:"decimals0"`
	Decimals1   uint8     `json:"decimals1"`
	BlockNumber uint64    `json:"block_number"`
	EventTime   time.Time `json:"event_time"`
}

func main() {
	var (
		url      = flag.String("url", nats.DefaultURL, "NATS server url")
		subject  = flag.String("subject", "feed.events", "subject to publish raw events on")
		rps      = flag.Int("rps", 1000, "events per second target")
		duration = flag.Duration("duration", 30*time.Second, "how long to run")
		pools    = flag.Int("pools", 50, "distinct pool addresses")
		whalePct = flag.Int("whale-pct", 2, "percent of events above the default whale threshold")
	)
	flag.Parse()

	nc, err := nats.Connect(*url, nats.Name("whalewatch-loadgen"))
	if err != nil {
		fmt.Printf("nats connect error: %v\n", err)
		os.Exit(1)
	}
	defer nc.Drain()

	poolAddrs := make([]string, *pools)
	for i := range poolAddrs {
		poolAddrs[i] = "0x" + randHex(20)
	}
	tokens := []string{"WETH", "USDC", "WBTC", "DAI"}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(time.Second / time.Duration(*rps))
	defer ticker.Stop()
	deadline := time.After(*duration)

	var sent, whales uint64
	var block uint64 = 1_000_000

	for {
		select {
		case <-sigCh:
			fmt.Printf("\ninterrupted: sent=%d whales=%d\n", sent, whales)
			return
		case <-deadline:
			fmt.Printf("done: sent=%d whales=%d\n", sent, whales)
			return
		case <-ticker.C:
			usd := float64(mrand.Intn(9_000) + 100)
			if mrand.Intn(100) < *whalePct {
				usd = float64(mrand.Intn(900_000) + 10_000)
				whales++
			}

			amt0 := mrand.Int63n(1_000_000) + 1
			ev := rawEvent{
				Kind:        "swap",
				TxHash:      "0x" + randHex(32),
				PoolAddress: poolAddrs[mrand.Intn(len(poolAddrs))],
				Sender:      "0x" + randHex(20),
				Recipient:   "0x" + randHex(20),
				Token:       tokens[mrand.Intn(len(tokens))],
				Amount0:     -amt0,
				Amount1:     amt0 * 2,
				AmountUSD:   fmt.Sprintf("%.2f", usd),
				TVLUSD:      float64(mrand.Intn(5_000_000) + 100_000),
				Price:       2.0,
				Decimals0:   18,
				Decimals1:   6,
				BlockNumber: block,
				EventTime:   time.Now().UTC(),
			}
			block++

			b, err := json.Marshal(ev)
			if err != nil {
				fmt.Printf("marshal error: %v\n", err)
				continue
			}
			if err = nc.Publish(*subject, b); err != nil {
				fmt.Printf("publish error: %v\n", err)
				continue
			}
			sent++
		}
	}
}

func randHex(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
