package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/AminBhst/brisk-engine/internal/config"
	"github.com/AminBhst/brisk-engine/internal/engine/coordinator"
	"github.com/AminBhst/brisk-engine/internal/engine/probe"
	"github.com/AminBhst/brisk-engine/internal/engine/protocol"
	"github.com/AminBhst/brisk-engine/internal/engine/tempstore"
)

var getCmd = &cobra.Command{
	Use:   "get [url]",
	Short: "get downloads a file from a URL",
	Long:  `get downloads a file from a URL and saves it to the local filesystem, printing progress as it goes.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runGet,
}

func init() {
	getCmd.Flags().StringP("path", "p", "", "the download destination directory")
	getCmd.Flags().IntP("connections", "c", 0, "number of concurrent connections (0 = use configured default)")
}

func runGet(cmd *cobra.Command, args []string) error {
	primaryURL, mirrors := parseURLArg(args[0])
	outPath, _ := cmd.Flags().GetString("path")
	connections, _ := cmd.Flags().GetInt("connections")

	settings, err := config.LoadSettings()
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	if outPath == "" {
		outPath = "."
	}
	if connections > 0 {
		settings.Connections.TotalConnections = connections
	}

	ctx := context.Background()
	resolvedURL, info, err := probe.ProbeAny(ctx, http.DefaultClient, mirrors)
	if err != nil {
		return fmt.Errorf("probe %s: %w", primaryURL, err)
	}

	uid := uuid.New().String()
	item := protocol.DownloadItem{
		UID:           uid,
		FileName:      info.FileName,
		DownloadURL:   resolvedURL,
		ContentLength: info.ContentLength,
		Status:        protocol.StatusPending,
	}

	tempDir := filepath.Join(settings.General.DefaultTempDir, "get")
	store := tempstore.New(tempDir, outPath)
	engine := coordinator.NewEngine(store, &http.Client{}, settings.ToEngineConfig())

	stop := make(chan struct{})
	go engine.Run(stop)
	defer close(stop)

	engine.Submit(protocol.CoordinatorCommand{
		Command:      protocol.CmdStart,
		DownloadItem: item,
		Settings:     settings.ToDownloadSettings(tempDir, outPath),
	})

	for pm := range engine.Messages() {
		fmt.Fprintf(os.Stdout, "\r%s  %5.1f%%  %s  eta %s   ", item.FileName, pm.TotalDownloadProgress*100, pm.TransferRate, pm.EstimatedRemaining)
		switch pm.Status {
		case protocol.StatusAssembleComplete.String():
			fmt.Fprintf(os.Stdout, "\ndone: %s\n", pm.DownloadItem.FilePath)
			return nil
		case protocol.StatusAssembleFailed.String():
			fmt.Fprintln(os.Stdout)
			return fmt.Errorf("assemble failed for %s", item.FileName)
		}
	}
	return nil
}
