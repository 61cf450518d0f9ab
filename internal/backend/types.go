package backend

import (
	"errors"
	"fmt"
	"strings"

	"github.com/sigreer/ledctl/internal/ibpi"
)

// Common errors
var (
	ErrBackendUnavailable = errors.New("backend not available")
	ErrControllerFiltered = errors.New("controller filtered out")
	ErrNotFound           = errors.New("slot not found")
	ErrDeviceNotFound     = errors.New("device not found")
	ErrDeviceNotSupported = errors.New("device not supported")
	ErrAmbiguousDevice    = errors.New("ambiguous controller priority for device")
	ErrWriteRejected      = errors.New("write rejected by controller")
	ErrStateMismatch      = errors.New("led state mismatch after write")
	ErrProtocolViolation  = errors.New("malformed slot line")
	ErrBackendTimeout     = errors.New("backend call timed out")
	ErrInvalidController  = errors.New("invalid controller type")
)

// ControllerType identifies a hardware backend
type ControllerType int

const (
	Unknown ControllerType = iota
	SCSI
	VMD
	NPEM
)

// SlotControllers lists every controller type with slot management
var SlotControllers = []ControllerType{SCSI, VMD, NPEM}

func (c ControllerType) String() string {
	switch c {
	case SCSI:
		return "SCSI"
	case VMD:
		return "VMD"
	case NPEM:
		return "NPEM"
	}
	return "unknown"
}

// ParseControllerType accepts controller names case-insensitively
func ParseControllerType(name string) (ControllerType, error) {
	for _, c := range SlotControllers {
		if strings.EqualFold(strings.TrimSpace(name), c.String()) {
			return c, nil
		}
	}
	return Unknown, fmt.Errorf("%q: %w", name, ErrInvalidController)
}

// Slot is a point-in-time snapshot of one bay behind a controller
type Slot struct {
	Controller ControllerType
	ID         string
	State      ibpi.State
	Device     string // /dev node, empty for an unpopulated bay
}

// Populated reports whether a device sits in the bay
func (s Slot) Populated() bool {
	return s.Device != ""
}

// Address selects a slot either by id or by the device it holds.
// Exactly one field is expected to be set.
type Address struct {
	SlotID string
	Device string
}

func (a Address) String() string {
	if a.Device != "" {
		return a.Device
	}
	return a.SlotID
}

// TargetError attaches the user supplied target to a resolution failure.
// Its message shapes are part of the command line contract.
type TargetError struct {
	Target string
	Err    error
}

func (e *TargetError) Error() string {
	switch {
	case errors.Is(e.Err, ErrDeviceNotFound):
		return "Could not find " + e.Target
	case errors.Is(e.Err, ErrDeviceNotSupported):
		return e.Target + ": device not supported"
	}
	return fmt.Sprintf("%s: %v", e.Target, e.Err)
}

func (e *TargetError) Unwrap() error {
	return e.Err
}

// Target is one resolved LED request: the owning controller, the slot or
// device to address and the pattern to drive.
type Target struct {
	Controller ControllerType
	Address    Address
	State      ibpi.State
	Source     string // expression member the target came from
}

func (t Target) String() string {
	return fmt.Sprintf("%s %s=%s", t.Controller, t.State, t.Address)
}
