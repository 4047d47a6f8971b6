// Command server runs a headless viewport server, suitable for containers.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/tomaslejdung/viewshare/pkg/app"
	"github.com/tomaslejdung/viewshare/pkg/settings"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "Settings file (YAML)")
	port := pflag.IntP("port", "p", 8080, "Server port")
	poolSize := pflag.IntP("pool-size", "n", 0, "Number of viewport slots (0: use settings)")
	imagePath := pflag.StringP("image", "i", "", "Image file to share")
	pflag.Parse()

	s, err := settings.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}

	// Check for PORT env var (for cloud deployments)
	s.Listen, err = listenAddr(s.Listen, *port, pflag.CommandLine.Changed("port"), os.Getenv("PORT"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}
	if *poolSize > 0 {
		s.PoolSize = *poolSize
	}
	if *imagePath != "" {
		s.ImagePath = *imagePath
	}

	logger := app.NewLogger(s.LogLevel, os.Stderr)
	a, err := app.New(s, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

// listenAddr picks the listen address. PORT wins over --port, which wins
// over the settings file.
func listenAddr(current string, flagPort int, flagSet bool, envPort string) (string, error) {
	if envPort != "" {
		p, err := strconv.Atoi(envPort)
		if err != nil || p < 0 || p > 65535 {
			return "", fmt.Errorf("invalid PORT %q", envPort)
		}
		return fmt.Sprintf(":%d", p), nil
	}
	if flagSet {
		return fmt.Sprintf(":%d", flagPort), nil
	}
	return current, nil
}
