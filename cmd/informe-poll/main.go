package main

// Poll a report until it finishes:
//   go run ./cmd/informe-poll -id <emprendedorId>

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"unicornio-backend/internal/poller"
)

type output struct {
	Estado   poller.State    `json:"estado"`
	Intentos int             `json:"intentos"`
	Mensaje  string          `json:"mensaje,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
}

func main() {
	base := flag.String("base", envOr("API_BASE_URL", "http://localhost:8080"), "API base URL")
	id := flag.String("id", "", "emprendedor id")
	interval := flag.Duration("interval", poller.DefaultInterval, "delay between queries")
	deadline := flag.Duration("deadline", poller.DefaultDeadline, "give up after this long")
	verbose := flag.Bool("v", false, "log every response")
	flag.Parse()

	if *id == "" {
		log.Printf("missing -id")
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p := poller.New(poller.NewHTTPFetcher(*base, 10*time.Second))
	p.Interval = *interval
	p.Deadline = *deadline
	p.OnError = func(err error) {
		log.Printf("query failed, retrying: %v", err)
	}
	if *verbose {
		p.OnStatus = func(s poller.Status) {
			log.Printf("status=%d estado=%s", s.HTTPStatus, s.Estado)
		}
	}

	res, err := p.Poll(ctx, *id)
	if err != nil {
		log.Printf("polling aborted: %v", err)
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(output{Estado: res.State, Intentos: res.Attempts, Mensaje: res.Message, Data: res.Data})

	if res.State != poller.StateCompleted {
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
