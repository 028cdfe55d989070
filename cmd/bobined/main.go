// Command bobined runs the background pipeline daemon.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"bobine/internal/config"
	"bobine/internal/daemonrun"
)

func main() {
	configPath := flag.String("config", "", "configuration file path")
	logLevel := flag.String("log-level", "", "override the configured log level")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bobined: %v\n", err)
		os.Exit(1)
	}

	if err := daemonrun.Run(context.Background(), cfg, daemonrun.Options{LogLevel: *logLevel}); err != nil {
		fmt.Fprintf(os.Stderr, "bobined: %v\n", err)
		os.Exit(1)
	}
}
