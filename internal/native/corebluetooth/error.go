package corebluetooth

import (
	"github.com/srg/blecentral/internal/native"
	"github.com/srg/blecentral/pkg/bleerror"
	"github.com/srg/blecentral/pkg/uuid"
)

// nativeError converts an NSError-backed error into a native.Error. Errors
// without a code are returned unchanged.
func nativeError(err error) error {
	if err == nil {
		return nil
	}
	coded, ok := err.(interface{ Code() int })
	if !ok {
		return err
	}

	ne := &native.Error{Domain: bleerror.DomainCB, Code: coded.Code(), Description: err.Error()}
	if d, ok := err.(interface{ Domain() string }); ok && d.Domain() != "" {
		ne.Domain = d.Domain()
	}
	if m, ok := err.(interface{ Message() string }); ok {
		ne.Description = m.Message()
	}
	return ne
}

// parseUUID reads the string form CoreBluetooth prints: a 4 or 8 digit
// short form or the canonical one. Malformed input yields the zero UUID.
func parseUUID(s string) uuid.UUID {
	u, err := uuid.ParseShort(s)
	if err != nil {
		return uuid.UUID{}
	}
	return u
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}
