// Command muxget sends one HTTP request over an in-memory multiplexed session
// whose peer serves the routes and push offers of a configuration file.
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"

	"example.com/muxhttp/v2/internal/config"
	"example.com/muxhttp/v2/internal/handlers/echo"
	"example.com/muxhttp/v2/internal/handlers/static"
	"example.com/muxhttp/v2/internal/logger"
	"example.com/muxhttp/v2/internal/router"
)

// headerFlags collects repeated -H "Name: value" flags.
type headerFlags http.Header

func (h headerFlags) String() string {
	var parts []string
	for name, values := range h {
		for _, v := range values {
			parts = append(parts, name+": "+v)
		}
	}
	sort.Strings(parts)
	return strings.Join(parts, ", ")
}

func (h headerFlags) Set(s string) error {
	name, value, ok := strings.Cut(s, ":")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return fmt.Errorf("header %q must look like \"Name: value\"", s)
	}
	http.Header(h).Add(name, strings.TrimSpace(value))
	return nil
}

func main() {
	var (
		configFilePath string
		method         string
		data           string
		quiet          bool
	)
	header := headerFlags{}
	flag.StringVar(&configFilePath, "config", "", "Path to the configuration file (JSON or TOML)")
	flag.StringVar(&method, "X", http.MethodGet, "Request method")
	flag.StringVar(&data, "d", "", "Request body; sent as an upload when set")
	flag.BoolVar(&quiet, "q", false, "Print the body only")
	flag.Var(header, "H", "Request header \"Name: value\" (repeatable)")
	flag.Parse()

	if configFilePath == "" || flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: muxget -config <file> [flags] <url>")
		flag.Usage()
		os.Exit(2)
	}
	rawURL := flag.Arg(0)

	absConfigPath, err := filepath.Abs(configFilePath)
	if err != nil {
		log.Fatalf("Error getting absolute path for config file %s: %v", configFilePath, err)
	}

	// 1. Load configuration
	cfg, err := config.LoadConfig(absConfigPath)
	if err != nil {
		log.Fatalf("Failed to load configuration from %s: %v", absConfigPath, err)
	}

	// 2. Initialize logger
	appLogger, err := logger.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer appLogger.CloseLogFiles()

	// 3. Register the handlers the peer can serve
	registry, err := newRegistry()
	if err != nil {
		appLogger.Error("Failed to register handler factories", logger.LogFields{"error": err.Error()})
		os.Exit(1)
	}

	// 4. Build the session and send the request
	c, err := newClient(cfg, appLogger, registry)
	if err != nil {
		appLogger.Error("Failed to initialize client", logger.LogFields{"error": err.Error()})
		os.Exit(1)
	}

	var body io.Reader
	if data != "" {
		body = strings.NewReader(data)
	}
	res, err := c.do(method, rawURL, http.Header(header), body)
	if err != nil {
		appLogger.Error("Request failed", logger.LogFields{"url": rawURL, "error": err.Error()})
		os.Exit(1)
	}

	if !quiet {
		printResponseHead(os.Stdout, res)
	}
	os.Stdout.Write(res.Body)
	if !quiet {
		fmt.Fprintf(os.Stderr, "\n%s received, %s sent in %s (stream %d%s)\n",
			humanize.Bytes(uint64(res.Received)), humanize.Bytes(uint64(res.Sent)),
			res.Duration, res.StreamID, pushedSuffix(res.Pushed))
	}
}

// newRegistry returns a registry with every handler type muxget knows.
func newRegistry() (*router.HandlerRegistry, error) {
	registry := router.NewHandlerRegistry()
	if err := static.Register(registry); err != nil {
		return nil, err
	}
	if err := echo.Register(registry); err != nil {
		return nil, err
	}
	return registry, nil
}

func printResponseHead(w io.Writer, res *result) {
	resp := res.Response
	fmt.Fprintf(w, "%s %s\n", resp.ALPNNegotiatedProtocol, resp.Status)
	names := make([]string, 0, len(resp.Header))
	for name := range resp.Header {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		for _, v := range resp.Header[name] {
			fmt.Fprintf(w, "%s: %s\n", name, v)
		}
	}
	fmt.Fprintln(w)
}

func pushedSuffix(pushed bool) string {
	if pushed {
		return ", pushed"
	}
	return ""
}
