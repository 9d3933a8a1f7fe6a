package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/oscmap/oscmap/internal/codec"
)

func newSendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send <host:port> <address> [args...]",
		Short: "Send one OSC message",
		Long: `Send one OSC message over UDP, for testing mappings.

Arguments are typed by their text: integers become int32, decimals
float32, true/false booleans and anything else a string.

Example:
  oscmap send 127.0.0.1:9000 /jawOpen 0.75`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			oscArgs := parseArgs(args[2:])
			if err := codec.Send(args[0], args[1], oscArgs...); err != nil {
				return err
			}
			fmt.Printf("Sent %s %v to %s\n", args[1], oscArgs, args[0])
			return nil
		},
	}
}

func parseArgs(tokens []string) []any {
	out := make([]any, 0, len(tokens))
	for _, t := range tokens {
		out = append(out, codec.ParseArg(t))
	}
	return out
}
