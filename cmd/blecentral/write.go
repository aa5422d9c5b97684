package main

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/srg/blecentral/pkg/central"
)

const writeTag = "write"

type writeFlags struct {
	withoutResponse bool
}

func newWriteCmd() *cobra.Command {
	f := &writeFlags{}
	cmd := &cobra.Command{
		Use:   "write <peripheral-id> <service> <characteristic> <hex-data>",
		Short: "Write a characteristic value",
		Long: `Connects to a peripheral and writes hex data to one characteristic.
Writes use a write request and wait for the acknowledgement unless
--without-response is given. Data longer than the link allows is rejected
before anything is sent.`,
		Example: `  blecentral write 5f1c9a2e-8c4d-4f5b-9a0e-2b7d3c1e6f48 180f 2a19 0a
  blecentral write 5f1c9a2e-8c4d-4f5b-9a0e-2b7d3c1e6f48 ffe0 ffe1 "01 02 03" --without-response`,
		Args: cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWrite(cmd, args, f)
		},
	}
	cmd.Flags().BoolVar(&f.withoutResponse, "without-response", false, "Use a write command (no acknowledgement)")
	return cmd
}

// parseHex accepts "0a0b", "0a 0b", "0a:0b" and an optional 0x prefix.
func parseHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")
	s = strings.NewReplacer(" ", "", ":", "", "-", "").Replace(s)
	data, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex data: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("invalid hex data: empty")
	}
	return data, nil
}

func runWrite(cmd *cobra.Command, args []string, f *writeFlags) error {
	data, err := parseHex(args[3])
	if err != nil {
		return err
	}
	kind := central.WithResponse
	if f.withoutResponse {
		kind = central.WithoutResponse
	}

	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx := cmd.Context()
	p, err := s.open(ctx, args[0])
	if err != nil {
		return err
	}
	chr, err := s.characteristic(ctx, p, args[1], args[2])
	if err != nil {
		return err
	}

	p.GetMaxWriteLenTagged(writeTag)
	mwl, err := await(ctx, s, p, func(e central.GetMaxWriteLenResult) bool { return e.Tag == writeTag })
	if err != nil {
		return err
	}
	if mwl.Err == nil {
		if limit := mwl.MaxWriteLen.For(kind); len(data) > limit {
			return fmt.Errorf("data is %d bytes, the link accepts at most %d for a write %s", len(data), limit, kind)
		}
	}

	p.WriteCharacteristic(chr, data, kind)
	if kind == central.WithResponse {
		r, err := await(ctx, s, p, func(e central.WriteCharacteristicResult) bool { return e.Characteristic.Equal(chr) })
		if err != nil {
			return err
		}
		if r.Err != nil {
			return fmt.Errorf("failed to write %s: %w", chr, r.Err)
		}
	}

	fmt.Fprintf(s.out, "wrote %d bytes to %s (%s)\n", len(data), chr, kind)
	return nil
}
