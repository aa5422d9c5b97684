package goble

import (
	"context"
	"errors"
	"strings"

	"github.com/go-ble/ble"
	"github.com/srg/blecentral/pkg/bleerror"
)

// NormalizeError maps go-ble errors, many of which are plain strings, onto
// the bleerror taxonomy. The original message is kept as the description.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	var be *bleerror.Error
	if errors.As(err, &be) {
		return be
	}

	var attErr ble.ATTError
	if errors.As(err, &attErr) {
		return bleerror.NewAtt(bleerror.AttKindFromCode(int(attErr)), err.Error())
	}

	msg := err.Error()
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return bleerror.New(bleerror.KindConnectionTimeout, msg)
	case errors.Is(err, context.Canceled):
		return bleerror.New(bleerror.KindOperationCancelled, msg)
	case containsIgnoreCase(msg, "central manager has invalid state"),
		containsIgnoreCase(msg, "bluetooth is turned off"):
		return bleerror.New(bleerror.KindConnectionFailed, msg)
	case containsIgnoreCase(msg, "device not connected"),
		containsIgnoreCase(msg, "disconnected"):
		return bleerror.New(bleerror.KindNotConnected, msg)
	case containsIgnoreCase(msg, "device already connected"):
		return bleerror.New(bleerror.KindConnectionFailed, msg)
	case containsIgnoreCase(msg, "not supported"):
		return bleerror.New(bleerror.KindOperationNotSupported, msg)
	default:
		return bleerror.Wrap(err)
	}
}

// isPoweredOff reports errors raised when the adapter is off.
func isPoweredOff(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return containsIgnoreCase(msg, "central manager has invalid state") ||
		containsIgnoreCase(msg, "bluetooth is turned off") ||
		containsIgnoreCase(msg, "powered off")
}

// containsIgnoreCase checks the substring case-insensitively
func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
