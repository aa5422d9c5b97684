package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/srg/blecentral/internal/bledb"
	"github.com/srg/blecentral/pkg/central"
)

const inspectTag = "inspect"

type inspectFlags struct {
	format string
	read   bool
}

func newInspectCmd() *cobra.Command {
	f := &inspectFlags{}
	cmd := &cobra.Command{
		Use:   "inspect <peripheral-id>",
		Short: "Connect and print the GATT profile of a peripheral",
		Long: `Connects to a peripheral and discovers its whole GATT tree: services,
included services, characteristics and descriptors. Well-known UUIDs are
shown with their assigned names.`,
		Example: `  blecentral inspect 5f1c9a2e-8c4d-4f5b-9a0e-2b7d3c1e6f48
  blecentral inspect 5f1c9a2e-8c4d-4f5b-9a0e-2b7d3c1e6f48 --read --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(cmd, args[0], f)
		},
	}
	cmd.Flags().StringVarP(&f.format, "format", "f", "", "Output format (table, json)")
	cmd.Flags().BoolVar(&f.read, "read", false, "Read readable characteristic and descriptor values")
	return cmd
}

type gattDescriptor struct {
	UUID  string `json:"uuid"`
	Name  string `json:"name,omitempty"`
	Value string `json:"value,omitempty"`
}

type gattCharacteristic struct {
	UUID        string           `json:"uuid"`
	Name        string           `json:"name,omitempty"`
	Properties  string           `json:"properties"`
	Value       string           `json:"value,omitempty"`
	Error       string           `json:"error,omitempty"`
	Descriptors []gattDescriptor `json:"descriptors,omitempty"`
}

type gattService struct {
	UUID            string               `json:"uuid"`
	Name            string               `json:"name,omitempty"`
	Primary         bool                 `json:"primary"`
	Included        []string             `json:"included,omitempty"`
	Characteristics []gattCharacteristic `json:"characteristics,omitempty"`
}

type gattProfile struct {
	ID          string        `json:"id"`
	Name        string        `json:"name,omitempty"`
	MaxWriteLen MaxWriteLen   `json:"max_write_len"`
	Services    []gattService `json:"services"`
}

// MaxWriteLen mirrors central.MaxWriteLen with JSON names.
type MaxWriteLen struct {
	WithResponse    int `json:"with_response"`
	WithoutResponse int `json:"without_response"`
}

func runInspect(cmd *cobra.Command, id string, f *inspectFlags) error {
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

	ctx := cmd.Context()
	p, err := s.open(ctx, id)
	if err != nil {
		return err
	}

	profile, err := discoverProfile(ctx, s, p, f.read)
	if err != nil {
		return err
	}

	if format == "json" {
		encoder := json.NewEncoder(s.out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(profile)
	}
	printProfile(s.out, profile)
	return nil
}

// discoverProfile walks the GATT tree one request at a time.
func discoverProfile(ctx context.Context, s *session, p central.Peripheral, read bool) (*gattProfile, error) {
	profile := &gattProfile{ID: p.ID().String(), Name: p.Name()}

	p.GetMaxWriteLenTagged(inspectTag)
	mwl, err := await(ctx, s, p, func(e central.GetMaxWriteLenResult) bool { return e.Tag == inspectTag })
	if err != nil {
		return nil, err
	}
	if mwl.Err == nil {
		profile.MaxWriteLen = MaxWriteLen{
			WithResponse:    mwl.MaxWriteLen.For(central.WithResponse),
			WithoutResponse: mwl.MaxWriteLen.For(central.WithoutResponse),
		}
	}

	p.DiscoverServices()
	sd, err := await(ctx, s, p, func(e central.ServicesDiscovered) bool { return e.Peripheral.Equal(p) })
	if err != nil {
		return nil, err
	}
	if sd.Err != nil {
		return nil, fmt.Errorf("service discovery failed: %w", sd.Err)
	}

	for _, svc := range sd.Services {
		gs := gattService{
			UUID:    svc.String(),
			Name:    bledb.LookupService(svc.ID()),
			Primary: svc.IsPrimary(),
		}

		p.DiscoverIncludedServices(svc)
		inc, err := await(ctx, s, p, func(e central.IncludedServicesDiscovered) bool { return e.Service.Equal(svc) })
		if err != nil {
			return nil, err
		}
		for _, is := range inc.IncludedServices {
			gs.Included = append(gs.Included, is.String())
		}

		p.DiscoverCharacteristics(svc)
		cd, err := await(ctx, s, p, func(e central.CharacteristicsDiscovered) bool { return e.Service.Equal(svc) })
		if err != nil {
			return nil, err
		}
		if cd.Err != nil {
			return nil, fmt.Errorf("characteristic discovery of %s failed: %w", svc, cd.Err)
		}

		for _, chr := range cd.Characteristics {
			gc, err := inspectCharacteristic(ctx, s, p, chr, read)
			if err != nil {
				return nil, err
			}
			gs.Characteristics = append(gs.Characteristics, gc)
		}
		profile.Services = append(profile.Services, gs)
	}
	return profile, nil
}

func inspectCharacteristic(ctx context.Context, s *session, p central.Peripheral, chr central.Characteristic, read bool) (gattCharacteristic, error) {
	gc := gattCharacteristic{
		UUID:       chr.String(),
		Name:       bledb.LookupCharacteristic(chr.ID()),
		Properties: chr.Properties().String(),
	}

	if read && chr.Properties().Has(central.PropRead) {
		p.ReadCharacteristic(chr)
		v, err := await(ctx, s, p, func(e central.CharacteristicValue) bool { return e.Characteristic.Equal(chr) })
		if err != nil {
			return gc, err
		}
		if v.Err != nil {
			gc.Error = v.Err.Error()
		} else {
			gc.Value = hex.EncodeToString(v.Value)
		}
	}

	p.DiscoverDescriptors(chr)
	dd, err := await(ctx, s, p, func(e central.DescriptorsDiscovered) bool { return e.Characteristic.Equal(chr) })
	if err != nil {
		return gc, err
	}
	if dd.Err != nil {
		s.logger.WithError(dd.Err).WithField("characteristic", chr).Warn("Descriptor discovery failed")
		return gc, nil
	}

	for _, dsc := range dd.Descriptors {
		gd := gattDescriptor{UUID: dsc.String(), Name: bledb.LookupDescriptor(dsc.ID())}
		if read {
			p.ReadDescriptor(dsc)
			v, err := await(ctx, s, p, func(e central.DescriptorValue) bool { return e.Descriptor.Equal(dsc) })
			if err != nil {
				return gc, err
			}
			if v.Err == nil {
				gd.Value = hex.EncodeToString(v.Value)
			}
		}
		gc.Descriptors = append(gc.Descriptors, gd)
	}
	return gc, nil
}

func printProfile(w io.Writer, profile *gattProfile) {
	fmt.Fprintf(w, "Peripheral %s (%s)\n", nameOrDash(profile.Name), profile.ID)
	fmt.Fprintf(w, "  Max write: %d bytes (with response), %d bytes (without response)\n",
		profile.MaxWriteLen.WithResponse, profile.MaxWriteLen.WithoutResponse)

	for _, svc := range profile.Services {
		kind := "Service"
		if !svc.Primary {
			kind = "Secondary service"
		}
		fmt.Fprintf(w, "  %s %s%s\n", kind, color.CyanString(svc.UUID), named(svc.Name))
		if len(svc.Included) > 0 {
			fmt.Fprintf(w, "    Includes: %s\n", strings.Join(svc.Included, ", "))
		}
		for _, chr := range svc.Characteristics {
			fmt.Fprintf(w, "    Characteristic %s%s [%s]\n", chr.UUID, named(chr.Name), chr.Properties)
			switch {
			case chr.Error != "":
				fmt.Fprintf(w, "      Value: %s\n", color.RedString(chr.Error))
			case chr.Value != "":
				fmt.Fprintf(w, "      Value: %s\n", chr.Value)
			}
			for _, d := range chr.Descriptors {
				fmt.Fprintf(w, "      Descriptor %s%s", d.UUID, named(d.Name))
				if d.Value != "" {
					fmt.Fprintf(w, " = %s", d.Value)
				}
				fmt.Fprintln(w)
			}
		}
	}
}

func named(name string) string {
	if name == "" {
		return ""
	}
	return " " + name
}
