// Command healthcheck probes /healthz of a running recorder and exits non-zero
// when it is not healthy. It is meant for container HEALTHCHECK directives.
//
// The target is HEALTHCHECK_URL, or derived from HTTP_ADDR (default :8080).
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/onnwee/stream-tender/config"
)

func main() {
	os.Exit(run())
}

func run() int {
	url := healthURL(config.GetEnv("HEALTHCHECK_URL", ""), config.GetEnv("HTTP_ADDR", ":8080"))
	client := &http.Client{Timeout: 3 * time.Second}
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, url, nil)
	if err != nil {
		log.Printf("bad healthcheck url %q: %v", url, err)
		return 1
	}
	resp, err := client.Do(req)
	if err != nil {
		log.Printf("healthcheck failed: %v", err)
		return 1
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Printf("failed to close response body: %v", err)
		}
	}()
	if resp.StatusCode != http.StatusOK {
		log.Printf("unhealthy: %s", resp.Status)
		return 1
	}
	return 0
}

// healthURL builds the probe URL. A listen address without a host is probed on localhost.
func healthURL(explicit, addr string) string {
	if explicit != "" {
		return explicit
	}
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr + "/healthz"
}
