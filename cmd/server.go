package cmd

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"github.com/AminBhst/brisk-engine/internal/config"
	"github.com/AminBhst/brisk-engine/internal/core"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run brisk as a background HTTP server",
	Long:  `Start a headless server exposing the download engine over HTTP and Server-Sent Events.`,
}

var serverStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the server in the foreground",
	RunE:  runServerStart,
}

func init() {
	rootCmd.AddCommand(serverCmd)
	serverCmd.AddCommand(serverStartCmd)
	serverStartCmd.Flags().IntP("port", "p", 0, "port to listen on (0 = pick any free port)")
}

// lockPath returns the path to the single-instance lock file, grounded on
// the same advisory-lock-in-config-dir pattern the teacher's server
// subcommand uses.
func lockPath() string {
	return filepath.Join(config.GetConfigDir(), "server.lock")
}

func runServerStart(cmd *cobra.Command, args []string) error {
	if err := os.MkdirAll(config.GetConfigDir(), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	lock := flock.New(lockPath())
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire server lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("a brisk server is already running")
	}
	defer func() { _ = lock.Unlock() }()

	port, _ := cmd.Flags().GetInt("port")
	listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return fmt.Errorf("bind listener: %w", err)
	}

	settings, err := config.LoadSettings()
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	service := core.NewLocalDownloadService(settings)
	defer func() { _ = service.Shutdown() }()

	mux := core.NewServeMux(service)
	httpServer := &http.Server{Handler: mux}
	go func() {
		if err := httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			fmt.Fprintf(os.Stderr, "http server: %v\n", err)
		}
	}()

	fmt.Printf("brisk server listening on %s\n", listener.Addr())
	fmt.Println("Press Ctrl+C to exit.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	fmt.Println("\nshutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	return httpServer.Shutdown(ctx)
}
