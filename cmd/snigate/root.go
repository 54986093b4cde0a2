package main

import (
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/snigate/snigate/internal/errx"
	"github.com/snigate/snigate/pkg/api"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "snigate",
	Short: "TLS-intercepting listener pool with SNI-driven certificate issuance",
	Long: `snigate accepts TLS connections on a pool of ports, reads the
client's SNI (or an out-of-band DNS hint), mints or reuses a CA-signed
leaf certificate for the destination, and completes the handshake with
that certificate before handing the connection downstream.`,
	SilenceUsage:      true,
	PersistentPreRunE: setupLogging,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default: ./snigate.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (trace, debug, info, warn, error)")
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("snigate")
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/snigate")
	}
	viper.SetEnvPrefix("SNIGATE")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		logrus.WithField("file", viper.ConfigFileUsed()).Debug("loaded config file")
	}
}

func setupLogging(cmd *cobra.Command, args []string) error {
	level, err := logrus.ParseLevel(viper.GetString("log_level"))
	if err != nil {
		return err
	}
	logrus.SetLevel(level)

	if term.IsTerminal(int(os.Stderr.Fd())) {
		logrus.SetFormatter(&logrus.TextFormatter{ForceColors: true})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{DisableColors: true, FullTimestamp: true})
	}
	return nil
}

// bindFlags points viper keys at the executed command's flags. Done at
// run time, not init, because subcommands share keys (ca_path,
// stats_db_path) and only the running command's flags may win.
func bindFlags(cmd *cobra.Command, keys map[string]string) {
	for key, flag := range keys {
		viper.BindPFlag(key, cmd.Flags().Lookup(flag))
	}
}

// loadConfig merges defaults, the config file, environment, and bound
// flags into the runtime configuration.
func loadConfig() (*api.Config, error) {
	cfg := api.DefaultConfig()
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, errx.Wrap(api.ErrInvalidConfig, err)
	}
	if v := viper.GetString("accept_timeout"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, errx.With(api.ErrInvalidConfig, ": accept_timeout: %w", err)
		}
		cfg.AcceptTimeout = d
	}
	return cfg, nil
}
