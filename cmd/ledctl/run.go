package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/sigreer/ledctl/internal/address"
	"github.com/sigreer/ledctl/internal/backend"
	"github.com/sigreer/ledctl/internal/cache"
	"github.com/sigreer/ledctl/internal/ibpi"
	"github.com/sigreer/ledctl/internal/ledstate"
	"github.com/sigreer/ledctl/internal/protocol"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

func run(cmd *cobra.Command, opts *options, args []string, stdout io.Writer, c *cache.Cache) error {
	modes := 0
	for _, set := range []bool{opts.listControllers, opts.listSlots, opts.getSlot, opts.setSlot, opts.history > 0} {
		if set {
			modes++
		}
	}
	switch {
	case modes > 1:
		return usageErrorf("--list-controllers, --list-slots, --get-slot, --set-slot and --history are exclusive")
	case modes == 1 && len(args) > 0:
		return usageErrorf("IBPI patterns cannot be combined with slot mode")
	case modes == 0 && len(args) == 0:
		return usageErrorf("No IBPI pattern given")
	}
	switch opts.print {
	case "", "slot", "state", "device":
	default:
		return usageErrorf("--print accepts slot, state or device, not %q", opts.print)
	}

	ctx := context.Background()
	s, err := newSession(ctx, opts, invocationArgs(cmd, args), c)
	if err != nil {
		return err
	}
	defer s.Close()

	switch {
	case opts.listControllers:
		for _, ct := range s.reg.Discover(ctx) {
			fmt.Fprintln(stdout, ct)
		}
		return nil
	case opts.history > 0:
		return printHistory(ctx, s, opts.history, stdout)
	case opts.listSlots, opts.getSlot, opts.setSlot:
		return slotMode(ctx, s, opts, stdout)
	}
	return ibpiMode(ctx, s, opts, args)
}

// invocationArgs rebuilds the command line for the journal
func invocationArgs(cmd *cobra.Command, args []string) []string {
	out := []string{cmd.Name()}
	cmd.Flags().Visit(func(f *pflag.Flag) {
		out = append(out, fmt.Sprintf("--%s=%s", f.Name, f.Value))
	})
	return append(out, args...)
}

func slotMode(ctx context.Context, s *session, opts *options, stdout io.Writer) error {
	if opts.controllerType == "" {
		return usageErrorf("--controller-type is required in slot mode")
	}
	ct, err := backend.ParseControllerType(opts.controllerType)
	if err != nil {
		return err
	}

	if opts.listSlots {
		slots, err := s.reg.ListSlots(ctx, ct)
		if err != nil {
			return err
		}
		if opts.table {
			renderSlots(stdout, ct, slots)
			return nil
		}
		return protocol.Write(stdout, slots)
	}

	switch {
	case opts.slot != "" && opts.device != "":
		return usageErrorf("Device and slot parameters are exclusive")
	case opts.slot == "" && opts.device == "":
		return usageErrorf("--slot or --device is required")
	}

	if opts.getSlot {
		addr := backend.Address{SlotID: opts.slot}
		if opts.device != "" {
			if _, addr.Device, err = s.resolver.Device(ctx, opts.device); err != nil {
				return &backend.TargetError{Target: opts.device, Err: err}
			}
		}
		slot, err := s.reg.ReadSlot(ctx, ct, addr)
		if err != nil {
			if opts.device != "" {
				return &backend.TargetError{Target: opts.device, Err: err}
			}
			return err
		}
		printSlot(stdout, slot, opts.print)
		return nil
	}

	if opts.state == "" {
		return usageErrorf("--state is required with --set-slot")
	}
	state, err := ibpi.Parse(opts.state)
	if err != nil {
		return err
	}
	if _, err := s.reg.Driver(ctx, ct); err != nil {
		return err
	}

	target := backend.Target{Controller: ct, State: state, Address: backend.Address{SlotID: opts.slot}}
	if opts.device != "" {
		owner, node, err := s.resolver.Device(ctx, opts.device)
		if err != nil {
			return &backend.TargetError{Target: opts.device, Err: err}
		}
		if owner != ct {
			log.WithFields(log.Fields{
				"device":     node,
				"requested":  ct.String(),
				"controller": owner.String(),
			}).Info("Multipath device is controlled through another controller")
		}
		target.Controller = owner
		target.Address = backend.Address{Device: node}
	}

	// locate_off is written even when the slot already reads NORMAL
	skip := !strings.EqualFold(strings.TrimSpace(opts.state), "locate_off")
	m := s.machine(ledstate.WithSkipUnchanged(skip), ledstate.WithVerify(opts.verify))
	if err := m.Set(ctx, target); err != nil {
		if opts.device != "" {
			return &backend.TargetError{Target: opts.device, Err: err}
		}
		return err
	}
	return nil
}

func printSlot(w io.Writer, s backend.Slot, property string) {
	switch property {
	case "state":
		fmt.Fprintln(w, s.State)
	case "slot":
		fmt.Fprintln(w, s.ID)
	case "device":
		if s.Device == "" {
			fmt.Fprintln(w, protocol.Empty)
		} else {
			fmt.Fprintln(w, s.Device)
		}
	default:
		fmt.Fprintln(w, protocol.Format(s))
	}
}

func renderSlots(w io.Writer, ct backend.ControllerType, slots []backend.Slot) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle(ct.String() + " slots")
	t.AppendHeader(table.Row{"#", "Slot", "LED state", "Device"})
	for i, s := range slots {
		dev := s.Device
		if dev == "" {
			dev = protocol.Empty
		}
		t.AppendRow(table.Row{i + 1, s.ID, s.State.String(), dev})
	}
	t.Render()
}

func ibpiMode(ctx context.Context, s *session, opts *options, args []string) error {
	clauses, err := address.Parse(args)
	if err != nil {
		return err
	}

	targets, resolveErr := s.resolver.Resolve(ctx, clauses)
	m := s.machine(ledstate.WithVerify(opts.verify))
	applyErr := m.Apply(ctx, targets)

	var resetErr error
	if opts.all && len(targets) > 0 {
		resetErr = m.ResetUnlisted(ctx, targets)
	}
	return errors.Join(resolveErr, applyErr, resetErr)
}

func printHistory(ctx context.Context, s *session, n int, w io.Writer) error {
	if s.journal == nil {
		return usageErrorf("--history needs a journal path in the config file")
	}
	events, err := s.journal.Recent(ctx, n)
	if err != nil {
		return err
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"When", "Controller", "Slot", "Device", "Change", "Run"})
	for _, e := range events {
		id := e.Invocation
		if len(id) > 8 {
			id = id[:8]
		}
		t.AppendRow(table.Row{
			humanize.Time(e.Timestamp),
			e.Controller,
			e.Slot,
			e.Device,
			e.OldState + " -> " + e.NewState,
			id,
		})
	}
	t.Render()
	return nil
}
