// selsync: clipboard selection forwarding between a local desktop and a
// remote session.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"go.klb.dev/selsync/internal/logging"
)

// Version is set at build time via -ldflags "-X main.Version=x.y.z".
var Version = "dev"

func main() {
	root := &cobra.Command{
		Use:   "selsync",
		Short: "Clipboard selection forwarding over TCP",
		Long: `selsync mirrors clipboard selections (CLIPBOARD, PRIMARY, SECONDARY)
between a local desktop and a remote session over an encrypted TCP
connection. Content is announced with payload-free tokens and pulled on
demand, so nothing is transferred that nobody asked for.

Run "selsync server" inside the remote session and "selsync client" on the
desktop. Use "selsync status" on either host to inspect direction, enabled
selections and outstanding requests.

Config file search order (first found wins):
  /etc/selsync/selsync.toml
  $HOME/.config/selsync/selsync.toml
  path supplied via --config

All flags can be set via SELSYNC_<FLAG> env vars or config-file keys.
See "selsync server --help" for the full flag reference.`,
		SilenceUsage: true,
	}

	root.AddCommand(
		newServerCmd(),
		newClientCmd(),
		newStatusCmd(),
		newSyncCmd(),
		newActivateCmd(),
		newVersionCmd(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("selsync %s\n", Version)
		},
	}
}

// resolveLogging sets up the global slog logger after flags are parsed.
func resolveLogging(interactive bool, formatStr, levelStr string) {
	format := logging.ParseFormat(formatStr)
	level := logging.ParseLevel(levelStr)
	if levelStr == "" {
		if interactive {
			level = logging.ParseLevel("debug")
		} else {
			level = logging.ParseLevel("info")
		}
	}
	logging.Setup(format, level)
}
