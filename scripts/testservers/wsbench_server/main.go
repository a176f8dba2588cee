// Command wsbench_server runs the in-process echo or auction server on a
// real port for local smoke runs of wsbench.
package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/lister-potter/Socket-Benchmarks/internal/testserver"
)

func main() {
	mode := flag.String("mode", "echo", "Server mode: echo, auction")
	port := flag.Int("port", 5000, "Listening port")
	path := flag.String("path", "/ws", "WebSocket endpoint path")
	broadcast := flag.Bool("broadcast", false, "Auction: send lot updates to every member of the lot")
	closed := flag.String("closed-lots", "", "Auction: comma-separated lots that reject bids")
	dropEvery := flag.Int("drop-every", 0, "Echo: swallow every Nth message")
	flag.Parse()

	if *port <= 0 {
		log.Fatalf("port must be > 0")
	}
	switch testserver.Mode(*mode) {
	case testserver.ModeEcho, testserver.ModeAuction:
	default:
		log.Fatalf("unknown mode %q", *mode)
	}

	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	var closedLots []string
	for _, lot := range strings.Split(*closed, ",") {
		if lot = strings.TrimSpace(lot); lot != "" {
			closedLots = append(closedLots, lot)
		}
	}

	mux := http.NewServeMux()
	mux.Handle(*path, testserver.New(testserver.Options{
		Mode:       testserver.Mode(*mode),
		Broadcast:  *broadcast,
		ClosedLots: closedLots,
		DropEvery:  *dropEvery,
		Logger:     logger,
	}))

	addr := fmt.Sprintf(":%d", *port)
	logger.Info("wsbench test server listening", zap.String("addr", addr), zap.String("mode", *mode), zap.String("path", *path))
	log.Fatal(http.ListenAndServe(addr, mux))
}
