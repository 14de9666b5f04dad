package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	serverrun "github.com/rzbill/strand/internal/cmd/server"
	cfgpkg "github.com/rzbill/strand/internal/config"
	pebblestore "github.com/rzbill/strand/internal/storage/pebble"
	logpkg "github.com/rzbill/strand/pkg/log"
	"github.com/spf13/cobra"
)

func main() {
	// Respect STRAND_LOG_LEVEL for both CLI and server start output
	level := os.Getenv("STRAND_LOG_LEVEL")
	parsed, err := logpkg.ParseLevel(level)
	if err != nil || level == "" {
		parsed = logpkg.InfoLevel
	}
	logger := logpkg.NewLogger(
		logpkg.WithLevel(parsed),
		logpkg.WithFormatter(&logpkg.TextFormatter{}),
		logpkg.WithOutput(logpkg.NewConsoleOutput()),
	)
	logpkg.RedirectStdLog(logger)

	rootCmd := &cobra.Command{
		Use:   "strand",
		Short: "Strand event store CLI",
		Long:  "Strand is a single-binary append-only event store with durable subscriptions. This CLI manages the server and basic operations.",
	}

	rootCmd.AddCommand(newServerCommand())
	rootCmd.AddCommand(newAppendCommand())
	rootCmd.AddCommand(newSubscriptionsCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newServerCommand() *cobra.Command {
	serverCmd := &cobra.Command{Use: "server", Short: "Server commands"}
	startCmd := &cobra.Command{
		Use:     "start",
		Short:   "Start strand server (HTTP + SSE)",
		Aliases: []string{"run"},
		RunE: func(cmd *cobra.Command, args []string) error {
			dataDir, _ := cmd.Flags().GetString("data-dir")
			httpAddr, _ := cmd.Flags().GetString("http")
			backend, _ := cmd.Flags().GetString("backend")
			postgresDSN, _ := cmd.Flags().GetString("postgres-dsn")
			configPath, _ := cmd.Flags().GetString("config")
			fsyncMode, _ := cmd.Flags().GetString("fsync")
			fsyncIntervalMs, _ := cmd.Flags().GetInt("fsync-interval-ms")
			logLevel, _ := cmd.Flags().GetString("log-level")
			logFormat, _ := cmd.Flags().GetString("log-format")

			mode := pebblestore.FsyncModeAlways
			switch fsyncMode {
			case "never":
				mode = pebblestore.FsyncModeNever
			case "interval":
				mode = pebblestore.FsyncModeInterval
			case "always":
				mode = pebblestore.FsyncModeAlways
			default:
				return fmt.Errorf("invalid --fsync; use always|interval|never")
			}

			cfg, err := cfgpkg.Load(configPath)
			if err != nil {
				return err
			}
			cfgpkg.FromEnv(&cfg)
			if backend != "" {
				cfg.Backend = cfgpkg.Backend(backend)
			}
			if postgresDSN != "" {
				cfg.PostgresDSN = postgresDSN
			}
			if logLevel != "" {
				_ = os.Setenv("STRAND_LOG_LEVEL", logLevel)
			}
			if logFormat != "" {
				_ = os.Setenv("STRAND_LOG_FORMAT", logFormat)
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			if err := serverrun.Run(ctx, serverrun.Options{
				DataDir:       dataDir,
				HTTPAddr:      httpAddr,
				Fsync:         mode,
				FsyncInterval: time.Duration(fsyncIntervalMs) * time.Millisecond,
				Config:        cfg,
			}); err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			// brief delay to allow logs flush
			time.Sleep(100 * time.Millisecond)
			return nil
		},
	}
	startCmd.Flags().String("data-dir", "", "Data directory (if not specified, uses OS-specific application data directory)")
	startCmd.Flags().String("http", ":8080", "HTTP listen address")
	startCmd.Flags().String("backend", "", "Storage backend: pebble|postgres (default pebble)")
	startCmd.Flags().String("postgres-dsn", os.Getenv("STRAND_POSTGRES_DSN"), "Postgres DSN (required for --backend postgres)")
	startCmd.Flags().String("config", "", "Path to JSON config file")
	startCmd.Flags().String("fsync", "always", "Fsync mode: always|interval|never")
	startCmd.Flags().Int("fsync-interval-ms", 5, "When --fsync=interval, group-commit window in ms (default 5)")
	startCmd.Flags().String("log-level", os.Getenv("STRAND_LOG_LEVEL"), "Log level: debug|info|warn|error")
	startCmd.Flags().String("log-format", os.Getenv("STRAND_LOG_FORMAT"), "Log format: text|json (default text)")
	serverCmd.AddCommand(startCmd)
	return serverCmd
}

func newAppendCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "append",
		Short: "Append an event to a stream",
		RunE: func(cmd *cobra.Command, args []string) error {
			stream, _ := cmd.Flags().GetString("stream")
			typ, _ := cmd.Flags().GetString("type")
			payload, _ := cmd.Flags().GetString("payload")
			expected, _ := cmd.Flags().GetInt64("expected-version")

			body := map[string]any{
				"stream":           stream,
				"expected_version": expected,
				"events": []map[string]any{
					{"type": typ, "payload": []byte(payload)},
				},
			}
			b, _ := json.Marshal(body)
			resp, err := http.Post(apiURL()+"/v1/streams/append", "application/json", bytes.NewReader(b))
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			out, _ := io.ReadAll(resp.Body)
			fmt.Println("status:", resp.Status)
			fmt.Println(string(out))
			return nil
		},
	}
	cmd.Flags().String("stream", "", "Stream id")
	cmd.Flags().String("type", "", "Event type")
	cmd.Flags().String("payload", "", "Event payload")
	cmd.Flags().Int64("expected-version", -1, "Expected stream version (-1 disables the check)")
	_ = cmd.MarkFlagRequired("stream")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func newSubscriptionsCommand() *cobra.Command {
	subsCmd := &cobra.Command{Use: "subscriptions", Short: "Subscription operations"}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List durable subscriptions",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := http.Get(apiURL() + "/v1/subscriptions")
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			out, _ := io.ReadAll(resp.Body)
			fmt.Println(string(out))
			return nil
		},
	}

	ackCmd := &cobra.Command{
		Use:   "ack",
		Short: "Acknowledge a position for a subscription",
		RunE: func(cmd *cobra.Command, args []string) error {
			scope, _ := cmd.Flags().GetString("scope")
			name, _ := cmd.Flags().GetString("name")
			position, _ := cmd.Flags().GetUint64("position")
			version, _ := cmd.Flags().GetInt64("version")
			b, _ := json.Marshal(map[string]any{
				"scope": scope, "name": name, "position": position, "version": version,
			})
			resp, err := http.Post(apiURL()+"/v1/subscriptions/ack", "application/json", bytes.NewReader(b))
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			out, _ := io.ReadAll(resp.Body)
			fmt.Println("status:", resp.Status)
			fmt.Println(string(out))
			return nil
		},
	}
	ackCmd.Flags().String("scope", "*", "Subscription scope (stream id or *)")
	ackCmd.Flags().String("name", "", "Subscription name")
	ackCmd.Flags().Uint64("position", 0, "Acknowledged global position")
	ackCmd.Flags().Int64("version", 0, "Acknowledged stream version")
	_ = ackCmd.MarkFlagRequired("name")

	removeCmd := &cobra.Command{
		Use:   "remove",
		Short: "Delete a durable subscription",
		RunE: func(cmd *cobra.Command, args []string) error {
			scope, _ := cmd.Flags().GetString("scope")
			name, _ := cmd.Flags().GetString("name")
			b, _ := json.Marshal(map[string]string{"scope": scope, "name": name})
			resp, err := http.Post(apiURL()+"/v1/subscriptions/unsubscribe", "application/json", bytes.NewReader(b))
			if err != nil {
				return err
			}
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			fmt.Println("status:", resp.Status)
			return nil
		},
	}
	removeCmd.Flags().String("scope", "*", "Subscription scope (stream id or *)")
	removeCmd.Flags().String("name", "", "Subscription name")
	_ = removeCmd.MarkFlagRequired("name")

	tailCmd := &cobra.Command{
		Use:   "tail",
		Short: "Stream events over SSE to stdout",
		RunE: func(cmd *cobra.Command, args []string) error {
			scope, _ := cmd.Flags().GetString("scope")
			name, _ := cmd.Flags().GetString("name")
			filter, _ := cmd.Flags().GetString("filter")
			q := url.Values{}
			q.Set("scope", scope)
			q.Set("name", name)
			if filter != "" {
				q.Set("filter", filter)
			}
			resp, err := http.Get(apiURL() + "/v1/subscribe?" + q.Encode())
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			_, err = io.Copy(os.Stdout, resp.Body)
			return err
		},
	}
	tailCmd.Flags().String("scope", "*", "Subscription scope (stream id or *)")
	tailCmd.Flags().String("name", "", "Subscription name")
	tailCmd.Flags().String("filter", "", "CEL filter expression")
	_ = tailCmd.MarkFlagRequired("name")

	subsCmd.AddCommand(listCmd, ackCmd, removeCmd, tailCmd)
	return subsCmd
}

func apiURL() string {
	if v := os.Getenv("STRAND_HTTP"); v != "" {
		return v
	}
	return "http://127.0.0.1:8080"
}
