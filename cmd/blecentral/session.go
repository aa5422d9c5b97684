package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/blecentral/internal/native"
	"github.com/srg/blecentral/pkg/bleerror"
	"github.com/srg/blecentral/pkg/central"
	"github.com/srg/blecentral/pkg/config"
	"github.com/srg/blecentral/pkg/eventchan"
	"github.com/srg/blecentral/pkg/uuid"
)

// stackFactory replaces backend selection when set.
var stackFactory native.Factory

const resolveTag = "resolve"

// session is one command's manager, its event stream and the settings it
// runs with. Every event is consumed on the command goroutine.
type session struct {
	cfg    *config.Config
	logger *logrus.Logger
	mgr    *central.Manager
	events *eventchan.Receiver[central.Event]
	out    io.Writer

	connected []central.Peripheral
}

// loadConfig reads --config (if any) and applies --backend over it.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if backend, _ := cmd.Flags().GetString("backend"); backend != "" {
		cfg.Backend = backend
	}
	if err := cfg.Validate(central.Backends()); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func openSession(cmd *cobra.Command) (*session, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	// Logs stay quiet unless asked for by flag or config file
	fallback := logrus.PanicLevel
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		fallback, _ = cfg.Level()
	}
	logger, err := configureLogger(cmd, "verbose", fallback)
	if err != nil {
		return nil, err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	builder := central.NewBuilder().
		WithLogger(logger).
		WithShowPowerAlert(cfg.ShowPowerAlert)
	if stackFactory != nil {
		builder = builder.WithStack(stackFactory)
	} else {
		builder = builder.WithBackend(cfg.Backend)
	}

	mgr, events, err := builder.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to start BLE central: %w", err)
	}

	return &session{
		cfg:    cfg,
		logger: logger,
		mgr:    mgr,
		events: events,
		out:    cmd.OutOrStdout(),
	}, nil
}

// Close drops every link the session opened and shuts the manager down.
func (s *session) Close() {
	for _, p := range s.connected {
		s.mgr.CancelConnect(p)
	}
	s.mgr.Close()
}

// next feeds events to fn until it reports done or fails. A fatal manager
// state ends the wait.
func (s *session) next(ctx context.Context, fn func(ev central.Event) (bool, error)) error {
	for {
		ev, err := s.events.RecvContext(ctx)
		if err != nil {
			if errors.Is(err, eventchan.ErrClosed) {
				return fmt.Errorf("central event stream ended: %w", err)
			}
			return err
		}
		s.logger.WithField("event", ev.Kind()).Debug("Event received")

		if st, ok := ev.(central.ManagerStateChanged); ok && st.NewState.Fatal() {
			return fmt.Errorf("%w: adapter is %s", ErrBluetoothUnavailable, st.NewState)
		}

		done, err := fn(ev)
		if err != nil || done {
			return err
		}
	}
}

// waitPoweredOn returns once the adapter can be used, or fails after the
// connect timeout.
func (s *session) waitPoweredOn(ctx context.Context) error {
	switch st := s.mgr.State(); {
	case st == central.StatePoweredOn:
		return nil
	case st.Fatal():
		return fmt.Errorf("%w: adapter is %s", ErrBluetoothUnavailable, st)
	}

	s.logger.WithField("state", s.mgr.State()).Info("Waiting for Bluetooth to power on")
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()

	err := s.next(ctx, func(ev central.Event) (bool, error) {
		st, ok := ev.(central.ManagerStateChanged)
		return ok && st.NewState == central.StatePoweredOn, nil
	})
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: adapter is %s", ErrBluetoothUnavailable, s.mgr.State())
	}
	return err
}

// resolve turns a peripheral ID argument into a handle. Peripherals the
// system does not know are looked for by scanning for up to the configured
// scan duration.
func (s *session) resolve(ctx context.Context, arg string) (central.Peripheral, error) {
	id, err := uuid.Parse(arg)
	if err != nil {
		return central.Peripheral{}, fmt.Errorf("invalid peripheral ID: %w", err)
	}
	if err := s.waitPoweredOn(ctx); err != nil {
		return central.Peripheral{}, err
	}

	var found central.Peripheral
	s.mgr.GetPeripheralsTagged([]uuid.UUID{id}, resolveTag)
	err = s.next(ctx, func(ev central.Event) (bool, error) {
		r, ok := ev.(central.GetPeripheralsResult)
		if !ok || r.Tag != resolveTag {
			return false, nil
		}
		if i := slices.IndexFunc(r.Peripherals, func(p central.Peripheral) bool { return p.ID() == id }); i >= 0 {
			found = r.Peripherals[i]
		}
		return true, nil
	})
	if err != nil || found.IsValid() {
		return found, err
	}

	s.logger.WithField("peripheral", id).Info("Peripheral not known yet, scanning for it")
	scanCtx := ctx
	if s.cfg.ScanDuration > 0 {
		var cancel context.CancelFunc
		scanCtx, cancel = context.WithTimeout(ctx, s.cfg.ScanDuration)
		defer cancel()
	}

	s.mgr.Scan(central.ScanOptions{})
	err = s.next(scanCtx, func(ev central.Event) (bool, error) {
		d, ok := ev.(central.PeripheralDiscovered)
		if ok && d.Peripheral.ID() == id {
			found = d.Peripheral
			return true, nil
		}
		return false, nil
	})
	s.mgr.CancelScan()

	if errors.Is(err, context.DeadlineExceeded) {
		return found, fmt.Errorf("%w: %s", ErrPeripheralNotFound, id)
	}
	return found, err
}

// connect opens a link to p, giving up after the configured timeout.
func (s *session) connect(ctx context.Context, p central.Peripheral) error {
	timeout := s.cfg.ConnectTimeout
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	s.logger.WithField("peripheral", p.ID()).Info("Connecting")
	s.mgr.Connect(p)

	err := s.next(ctx, func(ev central.Event) (bool, error) {
		switch e := ev.(type) {
		case central.PeripheralConnected:
			return e.Peripheral.Equal(p), nil
		case central.PeripheralConnectFailed:
			if !e.Peripheral.Equal(p) {
				return false, nil
			}
			cause := e.Err
			if cause == nil {
				cause = bleerror.ErrConnectionFailed
			}
			return true, fmt.Errorf("failed to connect to %s: %w", p.ID(), cause)
		}
		return false, nil
	})
	if errors.Is(err, context.DeadlineExceeded) {
		s.mgr.CancelConnect(p)
		return fmt.Errorf("failed to connect to %s: %w", p.ID(),
			bleerror.New(bleerror.KindConnectionTimeout, fmt.Sprintf("no link after %s", timeout)))
	}
	if err != nil {
		return err
	}

	s.connected = append(s.connected, p)
	s.logger.WithField("peripheral", p.ID()).Info("Connected")
	return nil
}

// open resolves the ID argument and connects to it.
func (s *session) open(ctx context.Context, arg string) (central.Peripheral, error) {
	p, err := s.resolve(ctx, arg)
	if err != nil {
		return p, err
	}
	return p, s.connect(ctx, p)
}

// await waits for the first E event accepted by match. Losing the link to p
// or the adapter ends the wait with ErrConnectionLost.
func await[E central.Event](ctx context.Context, s *session, p central.Peripheral, match func(E) bool) (E, error) {
	var out E
	err := s.next(ctx, func(ev central.Event) (bool, error) {
		if err := linkLost(ev, p); err != nil {
			return true, err
		}
		e, ok := ev.(E)
		if !ok || !match(e) {
			return false, nil
		}
		out = e
		return true, nil
	})
	return out, err
}

func linkLost(ev central.Event, p central.Peripheral) error {
	switch e := ev.(type) {
	case central.PeripheralDisconnected:
		if !e.Peripheral.Equal(p) {
			return nil
		}
		if e.Err != nil {
			return fmt.Errorf("%w: %w", ErrConnectionLost, e.Err)
		}
		return ErrConnectionLost
	case central.ManagerStateChanged:
		if e.NewState != central.StatePoweredOn {
			return fmt.Errorf("%w: adapter is %s", ErrConnectionLost, e.NewState)
		}
	}
	return nil
}

// characteristic discovers one characteristic of one service.
func (s *session) characteristic(ctx context.Context, p central.Peripheral, svcArg, chrArg string) (central.Characteristic, error) {
	svcID, err := uuid.ParseShort(svcArg)
	if err != nil {
		return central.Characteristic{}, fmt.Errorf("invalid service UUID: %w", err)
	}
	chrID, err := uuid.ParseShort(chrArg)
	if err != nil {
		return central.Characteristic{}, fmt.Errorf("invalid characteristic UUID: %w", err)
	}

	p.DiscoverServicesWithUUIDs([]uuid.UUID{svcID})
	sd, err := await(ctx, s, p, func(e central.ServicesDiscovered) bool { return e.Peripheral.Equal(p) })
	if err != nil {
		return central.Characteristic{}, err
	}
	if sd.Err != nil {
		return central.Characteristic{}, fmt.Errorf("service discovery failed: %w", sd.Err)
	}
	i := slices.IndexFunc(sd.Services, func(svc central.Service) bool { return svc.ID() == svcID })
	if i < 0 {
		return central.Characteristic{}, fmt.Errorf("service %s not found on %s", svcID.ShortString(), p.ID())
	}
	svc := sd.Services[i]

	p.DiscoverCharacteristicsWithUUIDs(svc, []uuid.UUID{chrID})
	cd, err := await(ctx, s, p, func(e central.CharacteristicsDiscovered) bool {
		return e.Peripheral.Equal(p) && e.Service.Equal(svc)
	})
	if err != nil {
		return central.Characteristic{}, err
	}
	if cd.Err != nil {
		return central.Characteristic{}, fmt.Errorf("characteristic discovery failed: %w", cd.Err)
	}
	j := slices.IndexFunc(cd.Characteristics, func(c central.Characteristic) bool { return c.ID() == chrID })
	if j < 0 {
		return central.Characteristic{}, fmt.Errorf("characteristic %s not found in service %s", chrID.ShortString(), svcID.ShortString())
	}
	return cd.Characteristics[j], nil
}

// bounded limits ctx to d; zero leaves it unbounded.
func bounded(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
