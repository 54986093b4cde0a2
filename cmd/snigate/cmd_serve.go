package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/snigate/snigate/pkg/api"
	"github.com/snigate/snigate/pkg/certauth"
	"github.com/snigate/snigate/pkg/eventstream"
	"github.com/snigate/snigate/pkg/intercept"
	"github.com/snigate/snigate/pkg/stats"
	"github.com/snigate/snigate/pkg/tlsconf"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the intercepting listener pool",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("interface", "0.0.0.0", "Interface to bind")
	serveCmd.Flags().IntSlice("port", []int{443}, "Listening port (can be repeated)")
	serveCmd.Flags().String("ca-path", "ca.pem", "Root CA PEM file (key then certificate)")
	serveCmd.Flags().String("ca-name", "snigate root", "Root CA common name")
	serveCmd.Flags().String("cache-dir", "certs", "Leaf certificate cache directory")
	serveCmd.Flags().Bool("per-domain", false, "Issue one certificate per registrable domain")
	serveCmd.Flags().Bool("addons", false, "Fold newly seen domains into the default certificate")
	serveCmd.Flags().String("custom-cert", "", "Serve a fixed custom certificate from this path")
	serveCmd.Flags().String("custom-key", "", "Private key for --custom-cert (omit when the PEM holds both)")
	serveCmd.Flags().Bool("copy-peer-cert", false, "Fetch the destination certificate and copy supported extensions into minted leaves")
	serveCmd.Flags().StringSlice("dns-server", nil, "DNS server for outbound resolution (can be repeated)")
	serveCmd.Flags().String("key-log", "", "Export TLS session secrets to this file (diagnostic only)")
	serveCmd.Flags().String("stats-db", "", "Record accept attempts into this sqlite database")
	serveCmd.Flags().String("event-socket", "", "Broadcast accept records on this unix socket")

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	bindFlags(cmd, map[string]string{
		"listening_interface":                           "interface",
		"listening_port_list":                           "port",
		"ca_path":                                       "ca-path",
		"ca_name":                                       "ca-name",
		"certificate_cache_directory":                   "cache-dir",
		"sni_create_server_certificate_for_each_domain": "per-domain",
		"sni_default_server_certificate_addons":         "addons",
		"custom_server_certificate_path":                "custom-cert",
		"custom_private_key_path":                       "custom-key",
		"sni_get_server_certificate_from_server_socket": "copy-peer-cert",
		"forwarding_dns_service_ipv4_list":              "dns-server",
		"key_log_path":                                  "key-log",
		"stats_db_path":                                 "stats-db",
		"event_socket_path":                             "event-socket",
	})
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	applyModeFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	authority, err := certauth.New(certauth.Options{
		Name:     cfg.CAName,
		RootPath: cfg.CAPath,
		CacheDir: cfg.CacheDirectory,
	})
	if err != nil {
		return err
	}

	keyLog, err := tlsconf.OpenKeyLog(cfg.KeyLogPath)
	if err != nil {
		return err
	}

	records := make(chan *api.AcceptRecord, 256)

	var store *stats.Store
	if cfg.StatsDBPath != "" {
		store, err = stats.Open(cfg.StatsDBPath)
		if err != nil {
			return err
		}
		defer store.Close()
	}

	var broadcaster *eventstream.Broadcaster
	if cfg.EventSocketPath != "" {
		broadcaster, err = eventstream.Listen(cfg.EventSocketPath)
		if err != nil {
			return err
		}
		defer broadcaster.Close()
	}

	go consumeRecords(records, store, broadcaster)

	manager, err := intercept.NewManager(intercept.Options{
		Config:    cfg,
		Authority: authority,
		Records:   records,
		KeyLog:    keyLog,
	})
	if err != nil {
		return err
	}
	if err := manager.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	logrus.Info("shutting down")
	return manager.Close()
}

// applyModeFlags keeps "exactly one certificate mode" intact when a
// mode is chosen on the command line rather than in the config file.
func applyModeFlags(cmd *cobra.Command, cfg *api.Config) {
	if cfg.CustomCertificatePath != "" && cmd.Flags().Changed("custom-cert") {
		cfg.CustomCertificateUsage = true
	}
	if cfg.CustomCertificateUsage || cfg.CertificatePerDomain {
		cfg.DefaultCertificateUsage = false
	}
}

func consumeRecords(records <-chan *api.AcceptRecord, store *stats.Store, broadcaster *eventstream.Broadcaster) {
	for rec := range records {
		if store != nil {
			if err := store.Record(rec); err != nil {
				logrus.WithError(err).Warn("failed to persist accept record")
			}
		}
		if broadcaster != nil {
			broadcaster.Publish(rec)
		}
	}
}
