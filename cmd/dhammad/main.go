package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// exitPending is returned when the gate is still open so cron-style callers
// can distinguish "retry later" from a hard failure.
const exitPending = 75

type exitCodeError struct {
	code int
	msg  string
}

func (e *exitCodeError) Error() string { return e.msg }

var rootCmd = &cobra.Command{
	Use:           "dhammad",
	Short:         "Dhamma Channel publish pipeline",
	Long:          "dhammad drives the Dhamma Channel publish pipeline: soft-live enforcement, the human approval gate, and decision webhooks.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		var ec *exitCodeError
		if errors.As(err, &ec) {
			if ec.msg != "" {
				fmt.Fprintln(os.Stderr, ec.msg)
			}
			os.Exit(ec.code)
		}
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", "", "config file (default: ./dhammad.yaml)")
	rootCmd.PersistentFlags().String("output", "", "output root directory holding run directories")
	rootCmd.PersistentFlags().String("log-level", "info", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().Bool("log-json", false, "emit JSON logs")

	_ = viper.BindPFlag("output.root", rootCmd.PersistentFlags().Lookup("output"))
	_ = viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log.json", rootCmd.PersistentFlags().Lookup("log-json"))

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newGateCmd())
	rootCmd.AddCommand(newCancelCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newServeCmd())
}

func initConfig() {
	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("dhammad")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.dhammad")
	}

	viper.SetDefault("output.root", "output")
	viper.SetDefault("gate.enabled", "true")
	viper.SetDefault("gate.grace_minutes", "120")
	viper.SetDefault("gate.store", "file")
	viper.SetDefault("gate.audit.jsonl_path", "")
	viper.SetDefault("gate.audit.rotate_max_bytes", int64(0))
	viper.SetDefault("softlive.enabled", true)
	viper.SetDefault("softlive.mode", "dry_run")
	viper.SetDefault("softlive.fail_closed", true)
	viper.SetDefault("notify.enabled", false)
	viper.SetDefault("notify.fail_open", true)
	viper.SetDefault("notify.timeout_seconds", 3)

	// Environment names kept stable for operators scripting the pipeline.
	_ = viper.BindEnv("gate.enabled", "APPROVAL_ENABLED")
	_ = viper.BindEnv("gate.grace_minutes", "APPROVAL_GRACE_MINUTES")
	_ = viper.BindEnv("softlive.enabled", "SOFT_LIVE_ENABLED")
	_ = viper.BindEnv("softlive.mode", "SOFT_LIVE_YOUTUBE_MODE")
	_ = viper.BindEnv("softlive.fail_closed", "SOFT_LIVE_FAIL_CLOSED")
	_ = viper.BindEnv("notify.enabled", "NOTIFY_ENABLED")
	_ = viper.BindEnv("notify.fail_open", "NOTIFY_FAIL_OPEN")
	_ = viper.BindEnv("notify.timeout_seconds", "NOTIFY_TIMEOUT_SECONDS")
	_ = viper.BindEnv("notify.webhooks_json", "NOTIFY_WEBHOOKS_JSON")

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			fmt.Fprintln(os.Stderr, "config error:", err)
		}
	}

	slog.SetDefault(newLogger())
}

func newLogger() *slog.Logger {
	var level slog.Level
	switch strings.ToLower(viper.GetString("log.level")) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if viper.GetBool("log.json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
