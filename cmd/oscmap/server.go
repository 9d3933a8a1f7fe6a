package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/oscmap/oscmap/internal/control"
	"github.com/oscmap/oscmap/internal/engine"
)

// newClient returns a control client for the --socket flag or the configured socket.
func newClient() (*control.Client, error) {
	if socketFlag != "" {
		return control.NewClient(socketFlag), nil
	}
	cfg, err := loadConfig(cfgFile)
	if err != nil {
		return nil, err
	}
	return control.NewClient(cfg.Control.Socket), nil
}

func newStartCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the OSC listener of the running daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient()
			if err != nil {
				return err
			}
			st, err := client.Start(host, port)
			if err != nil {
				return fmt.Errorf("failed to start listener: %w", err)
			}
			fmt.Printf("Listening on %s\n", st.Addr)
			return nil
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "listen host (default from config)")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (default from config)")
	return cmd
}

func newStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the OSC listener of the running daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient()
			if err != nil {
				return err
			}
			if _, err := client.Stop(); err != nil {
				return fmt.Errorf("failed to stop listener: %w", err)
			}
			fmt.Println("Listener stopped")
			return nil
		},
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon status",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient()
			if err != nil {
				return err
			}
			st, err := client.Status()
			if err != nil {
				return fmt.Errorf("failed to get status: %w", err)
			}
			printStatus(os.Stdout, st, time.Now())
			return nil
		},
	}
}

func printStatus(w io.Writer, st *engine.Status, now time.Time) {
	_, _ = fmt.Fprintf(w, "State:      %s", st.State)
	if st.Running && !st.Since.IsZero() {
		_, _ = fmt.Fprintf(w, " (since %s)", humanize.RelTime(st.Since, now, "ago", "from now"))
	}
	_, _ = fmt.Fprintln(w)
	if st.Addr != "" {
		_, _ = fmt.Fprintf(w, "Address:    %s\n", st.Addr)
	}
	_, _ = fmt.Fprintf(w, "Auto-key:   %s\n", onOff(st.AutoKey))
	if st.LastError != "" {
		_, _ = fmt.Fprintf(w, "Last error: %s\n", st.LastError)
	}
	_, _ = fmt.Fprintf(w, "Datagrams:  %s (%s malformed)\n",
		humanize.Comma(int64(st.Listener.Datagrams)), humanize.Comma(int64(st.Listener.DecodeErrors)))
	_, _ = fmt.Fprintf(w, "Queue:      %s pending, %s dropped\n",
		humanize.Comma(int64(st.Queue.Depth)), humanize.Comma(int64(st.Queue.Dropped)))
	_, _ = fmt.Fprintf(w, "Cycles:     %s\n", humanize.Comma(int64(st.Cycles)))
	if r := st.LastCycle; r != nil {
		_, _ = fmt.Fprintf(w, "Last cycle: %d messages, %d applied, %d skipped, %d failed in %s\n",
			r.Messages, r.Applied, r.Skipped, r.Failed, r.Duration)
	}
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func newAutoKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "autokey on|off",
		Short:     "Toggle keyframe recording of applied values",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			enabled, err := parseOnOff(args[0])
			if err != nil {
				return err
			}
			client, err := newClient()
			if err != nil {
				return err
			}
			if err := client.SetAutoKey(enabled); err != nil {
				return fmt.Errorf("failed to set auto-key: %w", err)
			}
			fmt.Printf("Auto-key %s\n", onOff(enabled))
			return nil
		},
	}
}

func parseOnOff(s string) (bool, error) {
	switch s {
	case "on", "true", "1":
		return true, nil
	case "off", "false", "0":
		return false, nil
	default:
		return false, fmt.Errorf("expected on or off, got %q", s)
	}
}
