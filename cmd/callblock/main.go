package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/telguard/callblock/blacklist"
	"github.com/telguard/callblock/guard"
	"github.com/telguard/callblock/logger"
	"github.com/telguard/callblock/serial"
)

const defaultConfigFile = "/etc/callblock.yaml"

var (
	cfgFile    string
	foreground bool
)

var rootCmd = &cobra.Command{
	Use:   "callblock",
	Short: "callblock intercepts blacklisted callers",
	Long: `callblock drives a caller-ID capable modem, matches incoming calls
against a blacklist of number prefixes and name substrings, and terminates
the ones that match.`,
	Args:         cobra.NoArgs,
	RunE:         run,
	SilenceUsage: true,
}

func init() {
	rootCmd.Flags().StringVarP(&cfgFile, "config", "c", defaultConfigFile, "configuration file")
	rootCmd.Flags().BoolVarP(&foreground, "foreground", "f", false, "run in the foreground and log to stderr")
	rootCmd.Flags().StringP("device", "d", "", "modem device (overrides config)")
	rootCmd.Flags().StringP("logfile", "l", "", "log file (overrides config)")
	rootCmd.Flags().StringP("pidfile", "p", "", "pid file (overrides config)")

	viper.BindPFlag("device", rootCmd.Flags().Lookup("device"))
	viper.BindPFlag("log", rootCmd.Flags().Lookup("logfile"))
	viper.BindPFlag("pidfile", rootCmd.Flags().Lookup("pidfile"))
	viper.SetDefault("log", "/var/log/callblock.log")
	viper.SetDefault("pidfile", "/var/run/callblock.pid")
}

func run(cmd *cobra.Command, args []string) error {
	viper.SetConfigFile(cfgFile)
	if err := viper.ReadInConfig(); err != nil {
		return fmt.Errorf("read configuration: %w", err)
	}

	if foreground {
		logger.Initialize(os.Stderr, true)
	} else {
		logFile, err := os.OpenFile(viper.GetString("log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		defer logFile.Close()
		logger.Initialize(logFile, false)
	}
	log := logger.With("pid", os.Getpid())

	pidfile := viper.GetString("pidfile")
	if err := writePidfile(pidfile); err != nil {
		return err
	}
	defer os.Remove(pidfile)

	device := viper.GetString("device")
	if device == "" {
		name, err := serial.FindModemPortName()
		if err != nil {
			log.Error("no device configured and none detected", "error", err)
			return err
		}
		device = name
		log.Info("autodetected modem device", "device", device)
	}

	m, err := serial.Open(device)
	if err != nil {
		log.Error("failed to open modem", "device", device, "error", err)
		return err
	}
	defer m.Close()

	g := guard.New(m, blacklist.Load(viper.GetViper()), log)
	cleanup := guard.NotifySignals(g, reloadBlacklist)
	defer cleanup()

	log.Info("callblock started", "device", device)
	g.Run(context.Background())
	log.Info("callblock stopped")
	return nil
}

// reloadBlacklist re-reads the configuration from the last-known path and
// builds a fresh snapshot.
func reloadBlacklist() (*blacklist.Blacklist, error) {
	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("re-read configuration: %w", err)
	}
	return blacklist.Load(viper.GetViper()), nil
}

func writePidfile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("pidfile %s exists, is callblock already running?", path)
	}
	return os.WriteFile(path, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0o644)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
