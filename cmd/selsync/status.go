package main

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.klb.dev/selsync/internal/crypto"
	"go.klb.dev/selsync/internal/ipc"
	"go.klb.dev/selsync/internal/packet"
	"go.klb.dev/selsync/internal/wire"
)

func newStatusCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show sync direction, selections and outstanding requests",
		Long: `Displays the negotiated clipboard policy and per-selection pending
request counters of a running selsync daemon.

If a local server or client daemon is running, the request is sent via the
IPC socket. Pass --server to target a specific server directly over TCP.`,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(cmd *cobra.Command, _ []string) error { return runStatus(cmd, v) },
	}

	f := cmd.Flags()
	f.String("server", "localhost:8753", "selsync server address (used when no daemon is running)")
	f.String("token", "", "shared secret")
	f.String("source", defaultSource(), "source identifier")
	f.Bool("json", false, "output raw JSON")
	addConfigFlag(cmd)

	return cmd
}

func runStatus(cmd *cobra.Command, v *viper.Viper) error {
	var (
		wc        *wire.Conn
		transport string
	)

	if !cmd.Flags().Changed("server") && ipc.IsRunning() {
		conn, err := ipc.Dial()
		if err == nil {
			wc = wire.New(conn, nil)
			transport = fmt.Sprintf("ipc (%s)", ipc.SocketPath())
		}
	}

	if wc == nil {
		serverAddr := v.GetString("server")
		token := v.GetString("token")

		var key *[32]byte
		if token != "" {
			var err error
			key, err = crypto.DeriveKey(token)
			if err != nil {
				return fmt.Errorf("key derivation: %w", err)
			}
		}
		conn, err := net.DialTimeout("tcp", serverAddr, 5*time.Second)
		if err != nil {
			return fmt.Errorf("dial: %w", err)
		}
		wc = wire.New(conn, key)
		transport = fmt.Sprintf("tcp (%s)", serverAddr)

		if token != "" {
			if err := wc.WritePacket(&packet.Packet{
				Type:   packet.TypeAuth,
				Source: v.GetString("source"),
				Token:  packet.EncodePayload([]byte(token)),
			}); err != nil {
				return fmt.Errorf("auth: %w", err)
			}
		}
	}
	defer wc.Close()

	if err := wc.WritePacket(&packet.Packet{Type: packet.TypeStatus}); err != nil {
		return fmt.Errorf("status request: %w", err)
	}
	wc.SetReadDeadline(5 * time.Second)
	resp, err := wc.ReadPacket()
	if err != nil {
		return fmt.Errorf("status read: %w", err)
	}
	if resp.Type == packet.TypeError {
		return fmt.Errorf("server error: %s", resp.Error)
	}
	if resp.Type != packet.TypeStatusResponse || resp.Status == nil {
		return fmt.Errorf("unexpected reply %s", resp.Type)
	}

	if v.GetBool("json") {
		enc, _ := json.MarshalIndent(resp.Status, "", "  ")
		fmt.Println(string(enc))
		return nil
	}

	printStatus(resp.Status, transport)
	return nil
}

func printStatus(st *packet.Status, transport string) {
	w := tabwriter.NewWriter(os.Stdout, 1, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Role:\t%s\n", st.Role)
	fmt.Fprintf(w, "Transport:\t%s\n", transport)
	fmt.Fprintf(w, "Clipboard:\t%s\n", enabledStr(st.Enabled))
	fmt.Fprintf(w, "Direction:\t%s\n", st.Direction)
	fmt.Fprintf(w, "Pending:\t%d\n", st.Pending)
	fmt.Fprintln(w)
	_ = w.Flush()

	if len(st.Selections) > 0 {
		tw := tabwriter.NewWriter(os.Stdout, 1, 0, 2, ' ', 0)
		_, _ = fmt.Fprintf(tw, "SELECTION\tENABLED\tLOCAL PENDING\tREMOTE PENDING\n")
		_, _ = fmt.Fprintf(tw, "---------\t-------\t-------------\t--------------\n")
		for _, s := range st.Selections {
			_, _ = fmt.Fprintf(tw, "%s\t%v\t%d\t%d\n",
				s.Name, s.Enabled, s.LocalPending, s.RemotePending)
		}
		_ = tw.Flush()
		fmt.Println()
	}

	if len(st.Peers) == 0 {
		fmt.Println("No peers connected.")
		return
	}
	tw := tabwriter.NewWriter(os.Stdout, 1, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(tw, "\tSOURCE\tADDR\tCONNECTED\tLAST SEEN\n")
	_, _ = fmt.Fprintf(tw, "\t------\t----\t---------\t---------\n")
	for _, p := range st.Peers {
		marker := ""
		if p.Active {
			marker = "*"
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			marker, p.Source, p.Addr, fmtAge(p.ConnectedAt), fmtAge(p.LastSeen))
	}
	_ = tw.Flush()
}

func enabledStr(b bool) string {
	if b {
		return "enabled"
	}
	return "disabled"
}

func fmtAge(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	age := time.Since(t).Round(time.Second)
	if age < time.Minute {
		return fmt.Sprintf("%ds ago", int(age.Seconds()))
	}
	if age < time.Hour {
		return fmt.Sprintf("%dm ago", int(age.Minutes()))
	}
	return t.Format("15:04:05")
}
