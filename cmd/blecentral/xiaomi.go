package main

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/blecentral/internal/mibeacon"
	"github.com/srg/blecentral/pkg/central"
	"github.com/srg/blecentral/pkg/uuid"
)

// LYWSD03MMC thermometer GATT layout.
var (
	miSensorService        = uuid.MustParse("ebe0ccb0-7a0a-4b0c-8a1a-6ff2997da3a6")
	miSensorCharacteristic = uuid.MustParse("ebe0ccc1-7a0a-4b0c-8a1a-6ff2997da3a6")
)

// reconnectDelay postpones reconnection after a failed attempt.
const reconnectDelay = time.Second

type xiaomiFlags struct {
	count    int
	duration time.Duration
}

func (f *xiaomiFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVarP(&f.count, "count", "n", 0, "Stop after this many lines of output (0 for no limit)")
	cmd.Flags().DurationVarP(&f.duration, "duration", "d", 0, "Stop after this long (0 until interrupted)")
}

// done reports whether the output limit is reached.
func (f *xiaomiFlags) done(printed int) bool {
	return f.count > 0 && printed >= f.count
}

// ----------------------------
// mi-sensor
// ----------------------------

func newMiSensorCmd() *cobra.Command {
	f := &xiaomiFlags{}
	cmd := &cobra.Command{
		Use:   "mi-sensor",
		Short: "Read Xiaomi LYWSD03MMC thermometers over GATT",
		Long: `Connects to every Xiaomi LYWSD03MMC thermometer in range, subscribes to
its temperature and humidity characteristic and prints each reading.
Sensors are reconnected when their link drops.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMiSensor(cmd, f)
		},
	}
	f.register(cmd)
	return cmd
}

// miSensorApp follows every sensor through connect, discovery and
// subscription.
type miSensorApp struct {
	s       *session
	flags   *xiaomiFlags
	started bool
	printed int

	// connecting holds every sensor with a link requested or open.
	connecting map[uuid.UUID]central.Peripheral
	shortIDs   map[uuid.UUID]int
}

func runMiSensor(cmd *cobra.Command, f *xiaomiFlags) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	app := &miSensorApp{
		s:          s,
		flags:      f,
		connecting: make(map[uuid.UUID]central.Peripheral),
		shortIDs:   make(map[uuid.UUID]int),
	}
	if s.mgr.State() == central.StatePoweredOn {
		app.start()
	}

	ctx, cancel := bounded(cmd.Context(), f.duration)
	defer cancel()

	err = s.next(ctx, app.handle)
	for _, p := range app.connecting {
		s.connected = append(s.connected, p)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

func (a *miSensorApp) start() {
	if a.started {
		return
	}
	a.started = true
	fmt.Fprintln(a.s.out, "Discovering Xiaomi sensors...")
	a.s.mgr.GetPeripheralsWithServices([]uuid.UUID{miSensorService})
	a.s.mgr.Scan(central.ScanOptions{})
}

func (a *miSensorApp) connect(p central.Peripheral) {
	if _, ok := a.connecting[p.ID()]; ok {
		return
	}
	a.connecting[p.ID()] = p
	a.s.logger.WithField("peripheral", p.ID()).Info("Connecting to sensor")
	a.s.mgr.Connect(p)
}

func (a *miSensorApp) shortID(id uuid.UUID) int {
	n, ok := a.shortIDs[id]
	if !ok {
		n = len(a.shortIDs) + 1
		a.shortIDs[id] = n
	}
	return n
}

func (a *miSensorApp) report(format string, args ...any) bool {
	fmt.Fprintf(a.s.out, format+"\n", args...)
	a.printed++
	return a.flags.done(a.printed)
}

func (a *miSensorApp) handle(ev central.Event) (bool, error) {
	log := a.s.logger

	switch e := ev.(type) {
	case central.ManagerStateChanged:
		if e.NewState == central.StatePoweredOn {
			a.start()
			return false, nil
		}
		// Links do not survive the adapter going away
		a.started = false
		clear(a.connecting)
		if e.NewState == central.StatePoweredOff {
			fmt.Fprintln(a.s.out, "Bluetooth is disabled, please enable it")
		}

	case central.GetPeripheralsWithServicesResult:
		for _, p := range e.Peripherals {
			a.connect(p)
		}

	case central.PeripheralDiscovered:
		if c, known := e.AdvertisementData.IsConnectable(); known && !c {
			return false, nil
		}
		a.connect(e.Peripheral)

	case central.PeripheralConnected:
		e.Peripheral.DiscoverServicesWithUUIDs([]uuid.UUID{miSensorService})

	case central.PeripheralDisconnected:
		log.WithField("peripheral", e.Peripheral.ID()).Debug("Sensor disconnected, reconnecting")
		delete(a.connecting, e.Peripheral.ID())
		a.connect(e.Peripheral)

	case central.PeripheralConnectFailed:
		log.WithError(e.Err).WithField("peripheral", e.Peripheral.ID()).Warn("Failed to connect to sensor")
		a.s.mgr.ConnectWithOptions(e.Peripheral, central.ConnectOptions{StartDelay: reconnectDelay})

	case central.ServicesDiscovered:
		if e.Err != nil {
			log.WithError(e.Err).WithField("peripheral", e.Peripheral.ID()).Error("Couldn't discover services")
			return false, nil
		}
		for _, svc := range e.Services {
			e.Peripheral.DiscoverCharacteristicsWithUUIDs(svc, []uuid.UUID{miSensorCharacteristic})
		}

	case central.CharacteristicsDiscovered:
		if e.Err != nil || len(e.Characteristics) == 0 {
			log.WithError(e.Err).WithField("peripheral", e.Peripheral.ID()).Error("Couldn't discover characteristics")
			return false, nil
		}
		log.WithFields(logrus.Fields{
			"peripheral":     e.Peripheral.ID(),
			"characteristic": e.Characteristics[0],
		}).Info("Subscribing")
		e.Peripheral.Subscribe(e.Characteristics[0])

	case central.SubscriptionChanged:
		if e.Err != nil {
			log.WithError(e.Err).WithField("peripheral", e.Peripheral.ID()).Error("Couldn't subscribe to characteristic")
			return false, nil
		}
		return a.report("Subscribed to %s (#%d)", e.Peripheral.ID(), a.shortID(e.Peripheral.ID())), nil

	case central.CharacteristicValue:
		if e.Err != nil || e.Characteristic.ID() != miSensorCharacteristic {
			return false, nil
		}
		t, rh, err := decodeMiReading(e.Value)
		if err != nil {
			log.WithError(err).WithField("peripheral", e.Peripheral.ID()).Warn("Bad sensor reading")
			return false, nil
		}
		return a.report("[%s] #%d: t = %s C, rh = %d%%",
			clock().Format("2006-01-02 15:04:05"), a.shortID(e.Peripheral.ID()),
			strconv.FormatFloat(t, 'f', -1, 64), rh), nil
	}
	return false, nil
}

// decodeMiReading decodes the thermometer value: temperature as int16 LE in
// hundredths of a degree, then relative humidity in percent.
func decodeMiReading(v []byte) (float64, uint8, error) {
	if len(v) < 3 {
		return 0, 0, fmt.Errorf("reading is %d bytes, want at least 3", len(v))
	}
	t := float64(int16(binary.LittleEndian.Uint16(v[0:2]))) / 100
	return t, v[2], nil
}

// ----------------------------
// mi-passive
// ----------------------------

func newMiPassiveCmd() *cobra.Command {
	f := &xiaomiFlags{}
	cmd := &cobra.Command{
		Use:   "mi-passive",
		Short: "Decode Xiaomi sensor advertisements",
		Long: `Listens for MiBeacon advertisements (service data 0xfe95) and prints
the sensor values they carry, without connecting. Encrypted advertisements
are reported once per device as undecodable.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMiPassive(cmd, f)
		},
	}
	f.register(cmd)
	return cmd
}

func runMiPassive(cmd *cobra.Command, f *xiaomiFlags) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	service := uuid.From16(mibeacon.ServiceUUID16)
	seen := make(map[string]struct{})
	printed := 0
	report := func(format string, args ...any) bool {
		fmt.Fprintf(s.out, format+"\n", args...)
		printed++
		return f.done(printed)
	}

	started := false
	start := func() {
		if !started {
			started = true
			s.logger.Info("Discovering Xiaomi sensors...")
			s.mgr.Scan(central.ScanOptions{AllowDuplicates: true})
		}
	}
	if s.mgr.State() == central.StatePoweredOn {
		start()
	}

	ctx, cancel := bounded(cmd.Context(), f.duration)
	defer cancel()

	err = s.next(ctx, func(ev central.Event) (bool, error) {
		switch e := ev.(type) {
		case central.ManagerStateChanged:
			switch e.NewState {
			case central.StatePoweredOn:
				start()
			case central.StatePoweredOff:
				started = false
				s.logger.Error("Bluetooth is disabled, please enable it")
			}

		case central.PeripheralDiscovered:
			frame, ok := e.AdvertisementData.ServiceData().Get(service)
			if !ok {
				return false, nil
			}
			packet, err := mibeacon.Parse(frame)
			switch {
			case errors.Is(err, mibeacon.ErrEncrypted):
				if _, dup := seen[packet.MAC.String()]; dup {
					return false, nil
				}
				seen[packet.MAC.String()] = struct{}{}
				return report("%s (%s): encrypted advertisement, cannot decode", packet.MAC, packet.Product), nil
			case err != nil:
				s.logger.WithError(err).WithField("peripheral", e.Peripheral.ID()).Warn("Error parsing packet")
				return false, nil
			}

			if packet.Truncated || len(packet.Unknown) > 0 {
				s.logger.WithFields(logrus.Fields{
					"mac":       packet.MAC,
					"unknown":   len(packet.Unknown),
					"truncated": packet.Truncated,
				}).Warn("Couldn't decode every sensor value")
			}
			if len(packet.Readings) > 0 {
				return report("%s", packet), nil
			}
			if _, dup := seen[packet.MAC.String()]; !dup {
				seen[packet.MAC.String()] = struct{}{}
				return report("New device: %s (%s)", packet.MAC, packet.Product), nil
			}
		}
		return false, nil
	})
	if errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}
