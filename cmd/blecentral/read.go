package main

import (
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/srg/blecentral/pkg/central"
)

type readFlags struct {
	ascii bool
}

func newReadCmd() *cobra.Command {
	f := &readFlags{}
	cmd := &cobra.Command{
		Use:   "read <peripheral-id> <service> <characteristic>",
		Short: "Read a characteristic value",
		Long: `Connects to a peripheral and reads one characteristic. The value is
printed as hex unless --ascii is given. Service and characteristic accept
16-bit ("180f"), 32-bit or full UUIDs.`,
		Example: `  # Read Battery Level
  blecentral read 5f1c9a2e-8c4d-4f5b-9a0e-2b7d3c1e6f48 180f 2a19`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRead(cmd, args, f)
		},
	}
	cmd.Flags().BoolVar(&f.ascii, "ascii", false, "Print the value as quoted text")
	return cmd
}

func runRead(cmd *cobra.Command, args []string, f *readFlags) error {
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

	p.ReadCharacteristic(chr)
	v, err := await(ctx, s, p, func(e central.CharacteristicValue) bool { return e.Characteristic.Equal(chr) })
	if err != nil {
		return err
	}
	if v.Err != nil {
		return fmt.Errorf("failed to read %s: %w", chr, v.Err)
	}

	if f.ascii {
		fmt.Fprintf(s.out, "%s: %s\n", chr, strconv.Quote(string(v.Value)))
	} else {
		fmt.Fprintf(s.out, "%s: %s\n", chr, hex.EncodeToString(v.Value))
	}
	return nil
}

func newRSSICmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rssi <peripheral-id>",
		Short: "Read the signal strength of a connected peripheral",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
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

			p.ReadRSSI()
			r, err := await(ctx, s, p, func(e central.ReadRSSIResult) bool { return e.Peripheral.Equal(p) })
			if err != nil {
				return err
			}
			if r.Err != nil {
				return fmt.Errorf("failed to read RSSI: %w", r.Err)
			}
			fmt.Fprintf(s.out, "%s %s\n", nameOrDash(p.Name()), rssiString(r.RSSI))
			return nil
		},
	}
}
