package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
)

type sendOptions struct {
	hex bool
}

func newSendCmd() *cobra.Command {
	opts := &sendOptions{}
	cmd := &cobra.Command{
		Use:   "send <data> [device-id]",
		Short: "Send a command to the sensor",
		Long: `Connect to the sensor, write data to it and disconnect. Without a device id the
best matching device found by a scan is used.

Examples:
  soundlink send AUDIO_START
  soundlink send --hex "01 02 ff" AA:BB:CC:DD:EE:FF`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSend(cmd, args, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.hex, "hex", false, "Treat data as hex (separators ' ', ':', '-' allowed)")
	return cmd
}

// parseSendData returns the bytes to send
func parseSendData(data string, isHex bool) ([]byte, error) {
	if !isHex {
		if data == "" {
			return nil, fmt.Errorf("data cannot be empty")
		}
		return []byte(data), nil
	}

	cleaned := strings.NewReplacer(" ", "", ":", "", "-", "", "0x", "", "0X", "").Replace(data)
	if cleaned == "" {
		return nil, fmt.Errorf("data cannot be empty")
	}
	b, err := hex.DecodeString(cleaned)
	if err != nil {
		return nil, fmt.Errorf("invalid hex data: %w", err)
	}
	return b, nil
}

func runSend(cmd *cobra.Command, args []string, opts *sendOptions) error {
	data, err := parseSendData(args[0], opts.hex)
	if err != nil {
		return err
	}

	s, err := openSession(cmd, nil)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	target, err := s.resolveTarget(ctx, out, argAt(args, 1))
	if err != nil {
		return err
	}

	if err := s.manager.Connect(ctx, target); err != nil {
		return fmt.Errorf("failed to connect to %s: %w", target, err)
	}
	defer s.manager.Disconnect()

	if err := s.manager.Send(data); err != nil {
		return fmt.Errorf("failed to send to %s: %w", target, err)
	}

	fmt.Fprintf(out, "Sent %d bytes to %s\n", len(data), target)
	return nil
}

func argAt(args []string, i int) string {
	if i < len(args) {
		return args[i]
	}
	return ""
}
