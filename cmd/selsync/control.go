package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"go.klb.dev/selsync/internal/ipc"
	"go.klb.dev/selsync/internal/packet"
	"go.klb.dev/selsync/internal/wire"
)

func newSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync {on|off}",
		Short: "Pause or resume clipboard sync on the local daemon",
		Long: `Toggles clipboard synchronization on the daemon running on this host.
The daemon informs its peers, so pausing on either end pauses the pair;
pending request counters are reset on pause. Connections stay up.`,
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			var enabled bool
			switch args[0] {
			case "on":
				enabled = true
			case "off":
				enabled = false
			default:
				return fmt.Errorf("argument must be on or off, got %q", args[0])
			}
			reason, _ := cmd.Flags().GetString("reason")
			// The toggle is applied on the session goroutine, so the status
			// in the reply may still show the old state.
			if _, err := control(&packet.Packet{
				Type:    packet.TypeSetEnabled,
				Enabled: packet.Bool(enabled),
				Reason:  reason,
			}); err != nil {
				return err
			}
			fmt.Printf("clipboard sync %s requested\n", args[0])
			return nil
		},
	}
	cmd.Flags().String("reason", "cli", "reason recorded in logs and sent to peers")
	return cmd
}

func newActivateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "activate <peer-id>",
		Short: "Make a connected peer the active clipboard source",
		Long: `Switches which connected client the server mirrors its clipboard against.
Peer IDs are listed by "selsync status"; pending counters on both the old
and new source are reset by the switch. Only meaningful on a server.`,
		Args: cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			st, err := control(&packet.Packet{Type: packet.TypeActivate, Peer: args[0]})
			if err != nil {
				return err
			}
			for _, p := range st.Peers {
				if p.Active {
					fmt.Printf("active clipboard source: %s (%s)\n", p.ID, p.Source)
					return nil
				}
			}
			return fmt.Errorf("no peer %q connected", args[0])
		},
	}
}

// control sends one packet to the local daemon over the IPC socket and
// returns the status it replies with.
func control(p *packet.Packet) (*packet.Status, error) {
	conn, err := ipc.Dial()
	if err != nil {
		return nil, fmt.Errorf("no daemon on %s: %w", ipc.SocketPath(), err)
	}
	wc := wire.New(conn, nil)
	defer wc.Close()

	if err := wc.WritePacket(p); err != nil {
		return nil, fmt.Errorf("control write: %w", err)
	}
	resp, err := wc.ReadPacket()
	if err != nil {
		return nil, fmt.Errorf("control read: %w", err)
	}
	if resp.Type == packet.TypeError {
		return nil, fmt.Errorf("daemon: %s", resp.Error)
	}
	if resp.Type != packet.TypeStatusResponse || resp.Status == nil {
		return nil, fmt.Errorf("unexpected reply %s", resp.Type)
	}
	return resp.Status, nil
}
