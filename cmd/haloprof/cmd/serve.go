package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/affinityprof/haloprof/internal/webui"
	"github.com/affinityprof/haloprof/pkg/utils"
)

var (
	serveDataDir string
	servePort    int
)

// serveCmd represents the serve command.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Browse completed profiler runs over HTTP",
	Long: `serve starts a lightweight read-only HTTP server over a directory of
completed runs, each one a subdirectory named after its run UUID holding
an emitted TGF locality graph and contexts.txt listing.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	binName := BinName()
	serveCmd.Example = `  # Browse runs under ./output on the default port
  ` + binName + ` serve -d ./output

  # Use a different port
  ` + binName + ` serve -d ./output -p 9090`

	serveCmd.Flags().StringVarP(&serveDataDir, "data-dir", "d", "./output", "Directory containing completed run subdirectories")
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 8080, "Port for the web server")
}

func runServe(cmd *cobra.Command, args []string) error {
	return startServeMode(serveDataDir, servePort, GetLogger())
}

// startServeMode starts the web server and blocks until it is shut down.
func startServeMode(dataDir string, port int, log utils.Logger) error {
	if _, err := os.Stat(dataDir); os.IsNotExist(err) {
		return fmt.Errorf("data directory not found: %s", dataDir)
	}

	server := webui.NewServer(dataDir, port, log)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Info("Shutting down server...")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(ctx)
		os.Exit(0)
	}()

	log.Info("Serving runs from %s at http://localhost:%d", dataDir, port)
	log.Info("Press Ctrl+C to stop")

	if err := server.Start(); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}
