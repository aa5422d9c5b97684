//go:build darwin && cgo

package central

import (
	"github.com/srg/blecentral/internal/native/corebluetooth"
	"github.com/srg/blecentral/internal/native/goble"
)

func init() {
	registerStack("corebluetooth", corebluetooth.New, true)
	registerStack("goble", goble.New, false)
}
