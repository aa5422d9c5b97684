// Package bleerror maps native BLE stack errors onto a closed taxonomy with an
// ATT protocol sub-taxonomy and open Unknown/Other fallbacks.
package bleerror

import (
	"errors"
	"fmt"
)

// Native error domains understood by FromNative.
const (
	DomainCB    = "CBErrorDomain"
	DomainCBATT = "CBATTErrorDomain"
)

// Kind is the generic stack error classification.
type Kind int

const (
	KindUnknown Kind = iota
	KindInvalidParameters
	KindInvalidHandle
	KindNotConnected
	KindOutOfSpace
	KindOperationCancelled
	KindConnectionTimeout
	KindPeripheralDisconnected
	KindUUIDNotAllowed
	KindAlreadyAdvertising
	KindConnectionFailed
	KindConnectionLimitReached
	KindUnknownDevice
	KindOperationNotSupported
	// KindAtt marks a GATT/ATT protocol error; see Error.Att.
	KindAtt
	// KindOther is used for errors from an unrecognised domain.
	KindOther
)

var kindNames = map[Kind]string{
	KindUnknown:                "Unknown",
	KindInvalidParameters:      "InvalidParameters",
	KindInvalidHandle:          "InvalidHandle",
	KindNotConnected:           "NotConnected",
	KindOutOfSpace:             "OutOfSpace",
	KindOperationCancelled:     "OperationCancelled",
	KindConnectionTimeout:      "ConnectionTimeout",
	KindPeripheralDisconnected: "PeripheralDisconnected",
	KindUUIDNotAllowed:         "UuidNotAllowed",
	KindAlreadyAdvertising:     "AlreadyAdvertising",
	KindConnectionFailed:       "ConnectionFailed",
	KindConnectionLimitReached: "ConnectionLimitReached",
	KindUnknownDevice:          "UnknownDevice",
	KindOperationNotSupported:  "OperationNotSupported",
	KindAtt:                    "Att",
	KindOther:                  "Other",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// cbCodes follows CBError numbering.
var cbCodes = map[int]Kind{
	1:  KindInvalidParameters,
	2:  KindInvalidHandle,
	3:  KindNotConnected,
	4:  KindOutOfSpace,
	5:  KindOperationCancelled,
	6:  KindConnectionTimeout,
	7:  KindPeripheralDisconnected,
	8:  KindUUIDNotAllowed,
	9:  KindAlreadyAdvertising,
	10: KindConnectionFailed,
	11: KindConnectionLimitReached,
	12: KindUnknownDevice,
	13: KindOperationNotSupported,
}

// AttKind is the ATT protocol error classification, numbered as on the wire.
type AttKind int

const (
	AttSuccess AttKind = iota
	AttInvalidHandle
	AttReadNotPermitted
	AttWriteNotPermitted
	AttInvalidPdu
	AttInsufficientAuthentication
	AttRequestNotSupported
	AttInvalidOffset
	AttInsufficientAuthorization
	AttPrepareQueueFull
	AttAttributeNotFound
	AttAttributeNotLong
	AttInsufficientEncryptionKeySize
	AttInvalidAttributeValueLength
	AttUnlikelyError
	AttInsufficientEncryption
	AttUnsupportedGroupType
	AttInsufficientResources
	// AttOther covers codes outside 0..17.
	AttOther AttKind = -1
)

var attNames = [...]string{
	"Success",
	"InvalidHandle",
	"ReadNotPermitted",
	"WriteNotPermitted",
	"InvalidPdu",
	"InsufficientAuthentication",
	"RequestNotSupported",
	"InvalidOffset",
	"InsufficientAuthorization",
	"PrepareQueueFull",
	"AttributeNotFound",
	"AttributeNotLong",
	"InsufficientEncryptionKeySize",
	"InvalidAttributeValueLength",
	"UnlikelyError",
	"InsufficientEncryption",
	"UnsupportedGroupType",
	"InsufficientResources",
}

func (k AttKind) String() string {
	if k >= 0 && int(k) < len(attNames) {
		return attNames[k]
	}
	return "Other"
}

// AttKindFromCode maps an ATT error code; unknown codes become AttOther.
func AttKindFromCode(code int) AttKind {
	if code >= 0 && code < len(attNames) {
		return AttKind(code)
	}
	return AttOther
}

// Error is a classified native error.
type Error struct {
	Kind        Kind
	Att         AttKind // meaningful only when Kind == KindAtt
	Domain      string
	Code        int
	Description string
}

// FromNative classifies a native (domain, code) pair. It never fails: unknown
// codes fall back to KindUnknown / AttOther and unknown domains to KindOther.
func FromNative(domain string, code int, description string) *Error {
	e := &Error{Domain: domain, Code: code, Description: description}
	switch domain {
	case DomainCB:
		if k, ok := cbCodes[code]; ok {
			e.Kind = k
		} else {
			e.Kind = KindUnknown
		}
	case DomainCBATT:
		e.Kind = KindAtt
		e.Att = AttKindFromCode(code)
	default:
		e.Kind = KindOther
	}
	return e
}

// New builds an error of the given kind, e.g. for rejections raised by the
// bridge itself.
func New(kind Kind, description string) *Error {
	return &Error{Kind: kind, Domain: DomainCB, Description: description}
}

// NewAtt builds an ATT protocol error.
func NewAtt(kind AttKind, description string) *Error {
	return &Error{Kind: KindAtt, Att: kind, Domain: DomainCBATT, Code: int(kind), Description: description}
}

// Wrap classifies an arbitrary error: *Error values pass through, anything
// else becomes KindOther.
func Wrap(err error) *Error {
	if err == nil {
		return nil
	}
	var be *Error
	if errors.As(err, &be) {
		return be
	}
	return &Error{Kind: KindOther, Description: err.Error()}
}

func (e *Error) Error() string {
	kind := e.Kind.String()
	if e.Kind == KindAtt {
		kind = "Att(" + e.Att.String() + ")"
	}
	if e.Description == "" {
		return kind
	}
	return fmt.Sprintf("%s: %s", kind, e.Description)
}

// Is matches errors of the same kind (and ATT kind), so the sentinels below
// can be used with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if e.Kind != t.Kind {
		return false
	}
	return e.Kind != KindAtt || e.Att == t.Att
}

// Sentinels for errors.Is comparisons.
var (
	ErrInvalidParameters      = &Error{Kind: KindInvalidParameters}
	ErrInvalidHandle          = &Error{Kind: KindInvalidHandle}
	ErrNotConnected           = &Error{Kind: KindNotConnected}
	ErrOperationCancelled     = &Error{Kind: KindOperationCancelled}
	ErrConnectionTimeout      = &Error{Kind: KindConnectionTimeout}
	ErrPeripheralDisconnected = &Error{Kind: KindPeripheralDisconnected}
	ErrConnectionFailed       = &Error{Kind: KindConnectionFailed}
	ErrUnknownDevice          = &Error{Kind: KindUnknownDevice}
	ErrOperationNotSupported  = &Error{Kind: KindOperationNotSupported}
	ErrUnknown                = &Error{Kind: KindUnknown}
	ErrOther                  = &Error{Kind: KindOther}
)
