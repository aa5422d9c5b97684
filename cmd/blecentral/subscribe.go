package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/blecentral/internal/stream"
	"github.com/srg/blecentral/pkg/central"
)

// rawBufferSize bounds notification bytes waiting for a slow stdout.
const rawBufferSize = 64 * 1024

type subscribeFlags struct {
	raw      bool
	count    int
	duration time.Duration
}

func newSubscribeCmd() *cobra.Command {
	f := &subscribeFlags{}
	cmd := &cobra.Command{
		Use:   "subscribe <peripheral-id> <service> <characteristic>",
		Short: "Print characteristic notifications",
		Long: `Connects to a peripheral, enables notifications on one characteristic
and prints every value as hex until interrupted. With --raw the bytes are
written to stdout unchanged, which suits piping into another tool.`,
		Example: `  blecentral subscribe 5f1c9a2e-8c4d-4f5b-9a0e-2b7d3c1e6f48 180d 2a37
  blecentral subscribe 5f1c9a2e-8c4d-4f5b-9a0e-2b7d3c1e6f48 6e400001-b5a3-f393-e0a9-e50e24dcca9e 6e400003-b5a3-f393-e0a9-e50e24dcca9e --raw`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSubscribe(cmd, args, f)
		},
	}
	cmd.Flags().BoolVar(&f.raw, "raw", false, "Write raw notification bytes")
	cmd.Flags().IntVarP(&f.count, "count", "n", 0, "Stop after this many notifications (0 for no limit)")
	cmd.Flags().DurationVarP(&f.duration, "duration", "d", 0, "Stop after this long (0 for no limit)")
	return cmd
}

func runSubscribe(cmd *cobra.Command, args []string, f *subscribeFlags) (err error) {
	if f.count < 0 {
		return fmt.Errorf("invalid count %d", f.count)
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

	p.Subscribe(chr)
	sc, err := await(ctx, s, p, func(e central.SubscriptionChanged) bool { return e.Characteristic.Equal(chr) })
	if err != nil {
		return err
	}
	if sc.Err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", chr, sc.Err)
	}
	s.logger.WithField("characteristic", chr).Info("Subscribed")

	emit := func(value []byte) {
		fmt.Fprintf(s.out, "%s: %s\n", chr, hex.EncodeToString(value))
	}
	if f.raw {
		pipe := stream.NewPipe(s.out, rawBufferSize, s.logger)
		defer func() {
			if cerr := pipe.Close(); err == nil {
				err = cerr
			}
		}()
		emit = func(value []byte) { pipe.Push(value) }
	}

	runCtx, cancel := bounded(ctx, f.duration)
	defer cancel()

	received := 0
	err = s.next(runCtx, func(ev central.Event) (bool, error) {
		if err := linkLost(ev, p); err != nil {
			return true, err
		}
		v, ok := ev.(central.CharacteristicValue)
		if !ok || !v.Characteristic.Equal(chr) {
			return false, nil
		}
		if v.Err != nil {
			s.logger.WithError(v.Err).WithField("characteristic", chr).Warn("Notification carried an error")
			return false, nil
		}
		emit(v.Value)
		received++
		return f.count > 0 && received >= f.count, nil
	})
	if errors.Is(err, context.DeadlineExceeded) {
		err = nil
	}
	if err != nil {
		return err
	}

	unsubscribe(ctx, s, p, chr)
	return nil
}

// unsubscribe turns notifications off, waiting briefly for the outcome.
func unsubscribe(ctx context.Context, s *session, p central.Peripheral, chr central.Characteristic) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	p.Unsubscribe(chr)
	sc, err := await(ctx, s, p, func(e central.SubscriptionChanged) bool { return e.Characteristic.Equal(chr) })
	if err == nil {
		err = sc.Err
	}
	if err != nil {
		s.logger.WithError(err).WithField("characteristic", chr).Debug("Unsubscribe did not complete")
	}
}
