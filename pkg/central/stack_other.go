//go:build !(darwin && cgo)

package central

import "github.com/srg/blecentral/internal/native/goble"

func init() {
	registerStack("goble", goble.New, true)
}
