package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/tanq16/prometeo/internal/coordinator"
	"github.com/tanq16/prometeo/internal/httpclient"
	"github.com/tanq16/prometeo/internal/logging"
	"github.com/tanq16/prometeo/internal/manager"
	"github.com/tanq16/prometeo/internal/output"
)

var (
	flagOutput        string
	flagConnections   int
	flagTimeout       time.Duration
	flagKeepAlive     time.Duration
	flagUserAgent     string
	flagProxyURL      string
	flagProxyUsername string
	flagProxyPassword string
	flagHeaders       []string
	flagDebug         bool
	flagTempDir       string
	flagSpeedMbps     float64
)

var prometeoVersion = "dev"

var rootCmd = &cobra.Command{
	Use:     "prometeo [url]",
	Short:   "Prometeo is a parallel, resumable HTTP downloader",
	Version: prometeoVersion,
	Args:    cobra.MaximumNArgs(1),
	RunE:    runDownload,
}

func Execute() {
	ctx, cancel := signalContext()
	defer cancel()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.Flags().StringVarP(&flagOutput, "output", "o", "", "Destination directory (default: current directory)")
	rootCmd.Flags().IntVarP(&flagConnections, "connections", "c", manager.DefaultConnections, "Number of range connections per download")
	rootCmd.Flags().DurationVarP(&flagTimeout, "timeout", "t", 60*time.Second, "Connection timeout (e.g. 5s, 10m)")
	rootCmd.Flags().DurationVarP(&flagKeepAlive, "keep-alive-timeout", "k", 60*time.Second, "Keep-alive timeout for the HTTP client")
	rootCmd.Flags().StringVarP(&flagUserAgent, "user-agent", "a", manager.DefaultUserAgent, "User agent sent with every request")
	rootCmd.Flags().StringVarP(&flagProxyURL, "proxy", "p", "", "HTTP/HTTPS proxy URL")
	rootCmd.Flags().StringVar(&flagProxyUsername, "proxy-username", "", "Proxy username (if not in the proxy URL)")
	rootCmd.Flags().StringVar(&flagProxyPassword, "proxy-password", "", "Proxy password (if not in the proxy URL)")
	rootCmd.Flags().StringArrayVarP(&flagHeaders, "header", "H", nil, "Custom header 'Key: Value', repeatable")
	rootCmd.Flags().StringVar(&flagTempDir, "tempdir", "", "Working directory root for in-progress downloads")
	rootCmd.Flags().Float64VarP(&flagSpeedMbps, "speed", "s", manager.DefaultSpeedLimitMbps, "Aggregate bandwidth ceiling in Mbps")
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(resumeCmd, listCmd, speedCmd, cleanCmd)
}

func buildManagerOptions() manager.Options {
	headers := parseHeaders(flagHeaders)
	client := httpclient.New(httpclient.Config{
		Timeout:       flagTimeout,
		KeepAlive:     flagKeepAlive,
		ProxyURL:      flagProxyURL,
		ProxyUsername: flagProxyUsername,
		ProxyPassword: flagProxyPassword,
		UserAgent:     flagUserAgent,
		Headers:       headers,
	})
	return manager.Options{
		Connections: flagConnections,
		TempDir:     flagTempDir,
		UserAgent:   flagUserAgent,
		SpeedLimit:  flagSpeedMbps,
		Client:      client,
	}
}

func parseHeaders(raw []string) map[string]string {
	headers := make(map[string]string, len(raw))
	for _, h := range raw {
		parts := strings.SplitN(h, ":", 2)
		if len(parts) == 2 {
			key := strings.TrimSpace(parts[0])
			value := strings.TrimSpace(parts[1])
			headers[key] = value
		}
	}
	return headers
}

func runDownload(cmd *cobra.Command, args []string) error {
	logging.Init(flagDebug)
	if len(args) == 0 {
		return cmd.Help()
	}
	rawURL := args[0]
	if _, err := url.Parse(rawURL); err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	dest := flagOutput
	if dest == "" {
		dest, _ = os.Getwd()
	}

	disp := output.NewManager(250 * time.Millisecond)
	disp.Start()
	defer disp.Stop()

	m, err := manager.New(buildManagerOptions(), func(e coordinator.Event) {
		switch e.Type {
		case coordinator.EventProgress:
			disp.Update(e.DownloadID, e.Progress, e.SpeedBps, e.ETA)
		case coordinator.EventFinish:
			if e.Err != nil {
				disp.Error(e.DownloadID, e.Err)
			} else {
				disp.Complete(e.DownloadID)
			}
		case coordinator.EventStop:
			disp.Stopped(e.DownloadID)
		}
	})
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if err := m.ScanAndResume(ctx); err != nil {
		return err
	}

	d, err := m.Download(ctx, manager.Request{URL: rawURL, Path: dest})
	if err != nil {
		return err
	}
	disp.Register(d.ID, d.Name)

	for d.State() != coordinator.StateFinished && d.State() != coordinator.StateStopped {
		select {
		case <-ctx.Done():
			m.StopAll(context.Background())
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
	return nil
}
