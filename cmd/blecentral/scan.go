package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/srg/blecentral/internal/bledb"
	"github.com/srg/blecentral/internal/groutine"
	"github.com/srg/blecentral/pkg/uuid"
	"github.com/srg/blecentral/scanner"
)

type scanFlags struct {
	duration   time.Duration
	format     string
	services   []string
	allow      []string
	block      []string
	duplicates bool
	watch      bool
}

func newScanCmd() *cobra.Command {
	f := &scanFlags{}
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan for BLE peripherals",
		Long: `Scan for and display Bluetooth Low Energy peripherals in the vicinity.

Peripherals are listed with their name, identifier, signal strength,
manufacturer and advertised services. Identifiers are the ones every other
command accepts.`,
		Example: `  blecentral scan --duration 5s
  blecentral scan --services 180d,180f --format json
  blecentral scan --block "Flower care" --watch`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runScan(cmd, f)
		},
	}
	cmd.Flags().DurationVarP(&f.duration, "duration", "d", 0, "Scan duration (default from config, 10s)")
	cmd.Flags().StringVarP(&f.format, "format", "f", "", "Output format (table, json)")
	cmd.Flags().StringSliceVarP(&f.services, "services", "s", nil, "Only show peripherals advertising these service UUIDs")
	cmd.Flags().StringSliceVar(&f.allow, "allow", nil, "Only show peripherals with these IDs or names")
	cmd.Flags().StringSliceVar(&f.block, "block", nil, "Hide peripherals with these IDs or names")
	cmd.Flags().BoolVar(&f.duplicates, "duplicates", false, "Report every advertisement, not only the first")
	cmd.Flags().BoolVarP(&f.watch, "watch", "w", false, "Print peripherals as they are discovered")
	return cmd
}

func runScan(cmd *cobra.Command, f *scanFlags) error {
	services, err := uuid.ParseList(f.services...)
	if err != nil {
		return fmt.Errorf("invalid service UUID: %w", err)
	}

	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	format := s.cfg.OutputFormat
	if f.format != "" {
		format = f.format
	}
	if format != "table" && format != "json" {
		return fmt.Errorf("invalid format '%s': must be one of [table json]", format)
	}

	opts := &scanner.ScanOptions{
		Duration:        s.cfg.ScanDuration,
		AllowDuplicates: f.duplicates,
		Services:        services,
		AllowList:       f.allow,
		BlockList:       f.block,
	}
	if f.duration > 0 {
		opts.Duration = f.duration
	}

	sc := scanner.NewScanner(s.mgr, s.events, s.logger)

	var progress scanner.ProgressCallback
	if !f.watch {
		p := newProgressPrinter(cmd.ErrOrStderr(), "Scanning for BLE peripherals", "Scanning", opts.Duration, "Processing results")
		p.Start()
		defer p.Stop()
		progress = p.Callback()
	}

	var live <-chan struct{}
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	if f.watch {
		live = groutine.Go(ctx, "scan-watch", func(ctx context.Context) {
			for {
				select {
				case <-ctx.Done():
					return
				case ev := <-sc.Events():
					printDeviceEvent(s.out, ev)
				}
			}
		})
	}

	devices, err := sc.Scan(ctx, opts, progress)
	if live != nil {
		cancel()
		<-live
		// Events sent before Scan returned are still buffered
		for drained := false; !drained; {
			select {
			case ev := <-sc.Events():
				printDeviceEvent(s.out, ev)
			default:
				drained = true
			}
		}
	}
	if err != nil {
		return err
	}

	entries := scanner.Sorted(devices)
	if format == "json" {
		return displayDevicesJSON(s.out, entries)
	}
	return displayDevicesTable(s.out, entries)
}

func printDeviceEvent(w io.Writer, ev scanner.DeviceEvent) {
	if ev.Type != scanner.EventNew {
		return
	}
	fmt.Fprintf(w, "+ %s %s %d dBm\n", nameOrDash(ev.Entry.Name), ev.Entry.Peripheral.ID(), ev.Entry.RSSI)
}

type deviceRecord struct {
	ID          string   `json:"id"`
	Name        string   `json:"name,omitempty"`
	RSSI        int      `json:"rssi"`
	Company     string   `json:"company,omitempty"`
	Services    []string `json:"services,omitempty"`
	TxPower     *int     `json:"tx_power,omitempty"`
	Connectable *bool    `json:"connectable,omitempty"`
	Seen        int      `json:"seen"`
}

func toDeviceRecord(e scanner.Entry) deviceRecord {
	adv := e.Advertisement
	r := deviceRecord{
		ID:      e.Peripheral.ID().String(),
		Name:    e.Name,
		RSSI:    e.RSSI,
		Company: companyName(adv.ManufacturerData()),
		Seen:    e.Seen,
	}
	for _, u := range adv.ServiceUUIDs() {
		r.Services = append(r.Services, u.ShortString())
	}
	if tx, ok := adv.TxPowerLevel(); ok {
		r.TxPower = &tx
	}
	if c, ok := adv.IsConnectable(); ok {
		r.Connectable = &c
	}
	return r
}

func companyName(mfg []byte) string {
	id, ok := bledb.CompanyOf(mfg)
	if !ok {
		return ""
	}
	if name := bledb.LookupCompany(id); name != "" {
		return name
	}
	return fmt.Sprintf("0x%04x", id)
}

func displayDevicesJSON(w io.Writer, entries []scanner.Entry) error {
	records := make([]deviceRecord, 0, len(entries))
	for _, e := range entries {
		records = append(records, toDeviceRecord(e))
	}
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(records)
}

func displayDevicesTable(w io.Writer, entries []scanner.Entry) error {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No peripherals discovered")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tID\tRSSI\tCOMPANY\tSERVICES")
	for _, e := range entries {
		r := toDeviceRecord(e)
		name := nameOrDash(r.Name)
		if len(name) > 20 {
			name = name[:17] + "..."
		}
		services := strings.Join(r.Services, ",")
		if len(services) > 30 {
			services = services[:27] + "..."
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", name, r.ID, rssiString(r.RSSI), nameOrDash(r.Company), services)
	}
	return tw.Flush()
}

// rssiString colours strong signals green and weak ones red.
func rssiString(rssi int) string {
	s := fmt.Sprintf("%d dBm", rssi)
	switch {
	case rssi >= -60:
		return color.GreenString(s)
	case rssi >= -80:
		return color.YellowString(s)
	default:
		return color.RedString(s)
	}
}

func nameOrDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
