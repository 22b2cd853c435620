package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"netscope/internal/capture"
	"netscope/internal/chatbot"
	"netscope/internal/config"
	"netscope/internal/geoip"
	"netscope/internal/handlers"
	"netscope/internal/logging"
	"netscope/internal/session"
	"netscope/internal/store"
)

const version = "1.0.0"

var (
	configFile string
	listenAddr string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "netscope",
	Short: "Local network diagnostics dashboard with live packet capture",
	Long: `Netscope serves a local HTTP/WebSocket API for capturing and analysing
network traffic on this host.

It captures packets on a chosen interface (or replays an uploaded pcap),
classifies them into protocol records, tracks conversations, computes
traffic statistics with anomaly detection, and exposes host diagnostics
(ping, DNS, traceroute) plus system network information.

Optional integrations, all disabled unless configured: GeoIP enrichment
from a GeoLite2 database, Postgres snapshot persistence, and an OpenAI
backed Q&A endpoint.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("netscope %s\n", version)
	},
}

func init() {
	rootCmd.Flags().StringVarP(&configFile, "config", "c", "", "config file path (YAML)")
	rootCmd.Flags().StringVarP(&listenAddr, "listen", "l", "", "listen address (overrides config)")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "", "log level: debug/info/warn/error (overrides config)")
	rootCmd.AddCommand(versionCmd)
}

func runServer() error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	if listenAddr != "" {
		cfg.Listen = listenAddr
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	log, err := logging.Init(cfg.Log)
	if err != nil {
		return err
	}

	opener := func(iface string) (capture.Source, error) {
		if iface == "" {
			iface = cfg.Capture.Interface
		}
		return capture.OpenLive(iface, cfg.Capture.BPF, cfg.Capture.SnapLen)
	}
	sess := session.New(log, opener)
	hub := handlers.NewHub()
	sess.SetBroadcaster(hub)

	var geo *geoip.Resolver
	if cfg.GeoIP.Database != "" {
		geo, err = geoip.Open(cfg.GeoIP.Database)
		if err != nil {
			log.WithError(err).WithField("path", cfg.GeoIP.Database).
				Warn("geoip database unavailable, continuing without enrichment")
			geo = nil
		} else {
			defer geo.Close()
			log.WithField("path", cfg.GeoIP.Database).Info("geoip enrichment enabled")
		}
	}

	var db *store.Store
	if cfg.Database.DSN != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		db, err = store.Open(ctx, cfg.Database.DSN, log)
		cancel()
		if err != nil {
			log.WithError(err).Warn("database unavailable, snapshots will not be persisted")
			db = nil
		} else {
			defer db.Close()
			log.Info("snapshot persistence enabled")
		}
	}

	bot := chatbot.New(log, cfg.OpenAI.APIKey, cfg.OpenAI.Model)

	api := handlers.NewServer(log, cfg, sess, hub, geo, db, bot)
	srv := &http.Server{
		Addr:    cfg.Listen,
		Handler: api.Handler(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", cfg.Listen).Info("netscope listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		log.Info("shutdown signal received")
		sess.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
