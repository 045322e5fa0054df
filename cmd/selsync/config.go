package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.klb.dev/selsync/internal/clip"
	"go.klb.dev/selsync/internal/compress"
	"go.klb.dev/selsync/internal/logging"
	"go.klb.dev/selsync/internal/negotiate"
	"go.klb.dev/selsync/internal/selection"
)

// bindViper wires a command's flags into a viper instance with the standard
// config file search order and SELSYNC_* env var prefix.
//
// Precedence (lowest → highest): defaults → config file → SELSYNC_* env vars → flags
func bindViper(cmd *cobra.Command, v *viper.Viper) error {
	configFlag, _ := cmd.Flags().GetString("config")
	if configFlag != "" {
		v.SetConfigFile(configFlag)
	} else {
		v.SetConfigName("selsync")
		v.SetConfigType("toml")
		v.AddConfigPath("/etc/selsync/")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(fmt.Sprintf("%s/.config/selsync", home))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("config: %w", err)
		}
	}

	v.SetEnvPrefix("SELSYNC")
	v.AutomaticEnv()

	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("binding flags: %w", err)
	}
	return nil
}

// addLoggingFlags adds the standard logging flags to a command.
func addLoggingFlags(cmd *cobra.Command) {
	cmd.Flags().Bool("no-background", false, "run interactively: tinter logs + debug level")
	cmd.Flags().String("log-format", "auto", "log format: auto|text|json")
	cmd.Flags().String("log-level", "", "log level: debug|info|warn|error (default: info for service, debug for interactive)")
}

// addConfigFlag adds the --config flag to a command.
func addConfigFlag(cmd *cobra.Command) {
	cmd.Flags().String("config", "", "path to config file (overrides auto-discovery)")
}

// addClipboardFlags adds the flags shared by server and client that shape
// the advertised capability set.
func addClipboardFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("direction", "both", "clipboard flow: to-server|to-client|both|disabled")
	f.StringSlice("selections", selection.Canonical(), "selections to sync")
	f.String("remote-clipboard", selection.Clipboard, "remote selection a single physical clipboard maps to")
	f.Bool("greedy", false, "push contents proactively instead of waiting to be asked")
	f.Bool("want-targets", false, "ask which formats are available before answering requests")
	f.StringSlice("preferred", negotiate.DefaultPreferredTargets, "ordered format preference for requests")
	f.Bool("loop-uuids", false, "also stamp tokens with a session loop ID (legacy echo detection)")
	f.Bool("no-clipboard", false, "disable clipboard sync entirely")
	f.Int("compress-threshold", compress.DefaultThreshold, "payload size in bytes above which contents are compressed")
	f.Duration("request-timeout", 0, "watchdog window for unanswered requests (0 = default)")
}

// setupLogging reads logging flags from viper and configures slog.
func setupLogging(v *viper.Viper) {
	interactive := v.GetBool("no-background") || logging.IsTTY(os.Stderr)
	resolveLogging(interactive, v.GetString("log-format"), v.GetString("log-level"))
}

// localConfig builds the negotiation input from flags and the bridge the
// process ended up with. A bridge exposing a single slot switches on the
// local↔remote translation; a bridge exposing none (headless) disables
// clipboard sync for every session.
func localConfig(v *viper.Viper, bridge clip.Bridge) negotiate.Config {
	dir, ok := selection.ParseDirection(v.GetString("direction"))
	if !ok {
		dir = selection.DirBoth
	}

	cfg := negotiate.Config{
		Enabled:          !v.GetBool("no-clipboard"),
		Direction:        dir,
		Selections:       v.GetStringSlice("selections"),
		Greedy:           v.GetBool("greedy"),
		WantTargets:      v.GetBool("want-targets"),
		PreferredTargets: v.GetStringSlice("preferred"),
		LoopUUIDs:        v.GetBool("loop-uuids"),
		Compressors:      compress.Supported(),
	}

	slots := bridge.Selections()
	switch len(slots) {
	case 0:
		cfg.Enabled = false
	case 1:
		cfg.SingleClipboard = true
		cfg.LocalClipboard = slots[0]
		cfg.RemoteClipboard = v.GetString("remote-clipboard")
	}
	return cfg
}

func requestTimeout(v *viper.Viper) time.Duration {
	return v.GetDuration("request-timeout")
}
