package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/blecentral/internal/eventlog"
	"github.com/srg/blecentral/pkg/central"
	"github.com/srg/blecentral/pkg/uuid"
)

type monitorFlags struct {
	tail       uint32
	duration   time.Duration
	services   []string
	duplicates bool
	json       bool
}

// clock stamps monitor records.
var clock = time.Now

func newMonitorCmd() *cobra.Command {
	f := &monitorFlags{}
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Scan and print every central event",
		Long: `Scans and prints every event the central manager delivers, one line per
event. With --tail only the last N events are kept and printed when the
monitor stops.`,
		Example: `  blecentral monitor --duration 30s
  blecentral monitor --tail 20 --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMonitor(cmd, f)
		},
	}
	cmd.Flags().Uint32Var(&f.tail, "tail", 0, "Keep only the last N events and print them at the end")
	cmd.Flags().DurationVarP(&f.duration, "duration", "d", 0, "Stop after this long (0 until interrupted)")
	cmd.Flags().StringSliceVarP(&f.services, "services", "s", nil, "Only scan for peripherals advertising these service UUIDs")
	cmd.Flags().BoolVar(&f.duplicates, "duplicates", false, "Report every advertisement")
	cmd.Flags().BoolVar(&f.json, "json", false, "Print records as JSON lines")
	return cmd
}

func runMonitor(cmd *cobra.Command, f *monitorFlags) error {
	services, err := uuid.ParseList(f.services...)
	if err != nil {
		return fmt.Errorf("invalid service UUID: %w", err)
	}

	var recorder *eventlog.Recorder
	if f.tail > 0 {
		if recorder, err = eventlog.NewRecorder(f.tail); err != nil {
			return fmt.Errorf("invalid tail: %w", err)
		}
	}

	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	emit := func(rec eventlog.Record) error {
		if !f.json {
			_, err := fmt.Fprintln(s.out, rec.String())
			return err
		}
		line, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(s.out, string(line))
		return err
	}

	opts := central.ScanOptions{AllowDuplicates: f.duplicates, Services: services}
	scanning := false
	startScan := func() {
		if !scanning {
			s.mgr.Scan(opts)
			scanning = true
		}
	}
	if s.mgr.State() == central.StatePoweredOn {
		startScan()
	}

	ctx, cancel := bounded(cmd.Context(), f.duration)
	defer cancel()

	err = s.next(ctx, func(ev central.Event) (bool, error) {
		if st, ok := ev.(central.ManagerStateChanged); ok {
			if st.NewState == central.StatePoweredOn {
				startScan()
			} else {
				scanning = false
			}
		}
		rec := eventlog.FromEvent(ev, clock())
		if recorder != nil {
			return false, recorder.Add(rec)
		}
		return false, emit(rec)
	})
	s.mgr.CancelScan()
	if errors.Is(err, context.DeadlineExceeded) {
		err = nil
	}
	if err != nil {
		return err
	}

	if recorder == nil {
		return nil
	}
	records, err := recorder.Drain()
	if err != nil {
		return err
	}
	for _, rec := range records {
		if err := emit(rec); err != nil {
			return err
		}
	}
	if dropped := recorder.Overwritten(); dropped > 0 {
		fmt.Fprintf(cmd.ErrOrStderr(), "(%d earlier events not shown)\n", dropped)
	}
	return nil
}
