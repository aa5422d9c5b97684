package main

import (
	"errors"
	"fmt"

	"github.com/srg/blecentral/pkg/bleerror"
)

// Command-level errors
var (
	// ErrConnectionLost indicates the BLE connection was unexpectedly lost during operation.
	// This is distinct from bleerror.ErrNotConnected, which is reported for an
	// operation issued without a link.
	ErrConnectionLost = errors.New("connection lost")

	// ErrPeripheralNotFound is returned when a peripheral ID is neither known
	// to the system nor seen while scanning.
	ErrPeripheralNotFound = errors.New("peripheral not found")

	// ErrBluetoothUnavailable is returned when the adapter never reaches the
	// powered-on state.
	ErrBluetoothUnavailable = errors.New("bluetooth is not available")
)

// FormatUserError turns an error chain into a one-line message. Stack errors
// get a hint where one is known.
func FormatUserError(err error) string {
	var be *bleerror.Error
	if !errors.As(err, &be) {
		return err.Error()
	}

	var hint string
	switch {
	case be.Kind == bleerror.KindAtt && be.Att == bleerror.AttReadNotPermitted:
		hint = "the characteristic is not readable"
	case be.Kind == bleerror.KindAtt && be.Att == bleerror.AttWriteNotPermitted:
		hint = "the characteristic is not writable"
	case be.Kind == bleerror.KindAtt && (be.Att == bleerror.AttInsufficientAuthentication || be.Att == bleerror.AttInsufficientEncryption):
		hint = "the peripheral requires pairing"
	case be.Kind == bleerror.KindConnectionTimeout:
		hint = "is the peripheral powered and in range?"
	case be.Kind == bleerror.KindPeripheralDisconnected:
		hint = "the peripheral dropped the link"
	case be.Kind == bleerror.KindNotConnected:
		hint = "the peripheral is not connected"
	}
	if hint == "" {
		return err.Error()
	}
	return fmt.Sprintf("%s (%s)", err, hint)
}
