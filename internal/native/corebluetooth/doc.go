// Package corebluetooth implements the native contract on macOS through
// CoreBluetooth, using the cbgo bindings. CoreBluetooth invokes its
// delegates on its own dispatch queue; every callback here snapshots what
// it needs and re-posts itself onto the bridge queue.
//
// The package is empty unless built for darwin with cgo enabled.
package corebluetooth
