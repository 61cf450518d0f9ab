// Package protocol renders and parses the one-line slot description shared
// by --list-slots and --get-slot:
//
//	slot: <id> led state: <STATE> device: <node>
package protocol

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/sigreer/ledctl/internal/backend"
	"github.com/sigreer/ledctl/internal/ibpi"
)

// Empty is printed in the device field of an unpopulated bay
const Empty = "(empty)"

var lineRe = regexp.MustCompile(`^slot:\s+(\S+)\s+led state:\s+(\S+)\s+device:\s*(\S*)\s*$`)

// Format renders one slot
func Format(s backend.Slot) string {
	dev := s.Device
	if dev == "" {
		dev = Empty
	}
	return fmt.Sprintf("slot: %-15s led state: %-15s device: %-15s", s.ID, s.State, dev)
}

// Write renders slots one per line
func Write(w io.Writer, slots []backend.Slot) error {
	for _, s := range slots {
		if _, err := fmt.Fprintln(w, Format(s)); err != nil {
			return err
		}
	}
	return nil
}

// Parse reads one line back into a slot. The controller is not part of
// the line and is left unset. UNKNOWN is accepted as printed for a slot
// whose register could not be read. Anything that does not have the exact
// three field shape, or carries another unknown state, is a protocol
// violation.
func Parse(line string) (backend.Slot, error) {
	m := lineRe.FindStringSubmatch(strings.TrimRight(line, "\r\n"))
	if m == nil {
		return backend.Slot{}, fmt.Errorf("%q: %w", line, backend.ErrProtocolViolation)
	}
	state := ibpi.Unknown
	if m[2] != ibpi.Unknown.String() {
		var err error
		if state, err = ibpi.Parse(m[2]); err != nil {
			return backend.Slot{}, fmt.Errorf("%q: %w: %v", line, backend.ErrProtocolViolation, err)
		}
	}
	dev := m[3]
	if dev == Empty {
		dev = ""
	}
	return backend.Slot{ID: m[1], State: state, Device: dev}, nil
}

// ParseAll parses every line of r. The first malformed line aborts.
func ParseAll(r io.Reader) ([]backend.Slot, error) {
	var slots []backend.Slot
	scanner := bufio.NewScanner(r)
	n := 0
	for scanner.Scan() {
		n++
		s, err := Parse(scanner.Text())
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", n, err)
		}
		slots = append(slots, s)
	}
	return slots, scanner.Err()
}
