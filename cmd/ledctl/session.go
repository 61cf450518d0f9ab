package main

import (
	"context"
	"io"
	"os"

	"github.com/sigreer/ledctl/internal/address"
	"github.com/sigreer/ledctl/internal/arbiter"
	"github.com/sigreer/ledctl/internal/backend"
	"github.com/sigreer/ledctl/internal/backend/npem"
	"github.com/sigreer/ledctl/internal/backend/scsi"
	"github.com/sigreer/ledctl/internal/backend/sim"
	"github.com/sigreer/ledctl/internal/backend/vmd"
	"github.com/sigreer/ledctl/internal/blockdev"
	"github.com/sigreer/ledctl/internal/cache"
	"github.com/sigreer/ledctl/internal/config"
	"github.com/sigreer/ledctl/internal/journal"
	"github.com/sigreer/ledctl/internal/ledstate"
	"github.com/sigreer/ledctl/internal/logging"
	"github.com/sigreer/ledctl/internal/registry"
	log "github.com/sirupsen/logrus"
)

// session is everything one invocation works with
type session struct {
	cfg      *config.Config
	reg      *registry.Registry
	arb      *arbiter.Arbiter
	resolver *address.Resolver
	journal  *journal.Journal
	closers  []io.Closer
}

func (s *session) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i].Close()
	}
}

// machine builds a state machine journaling into the session journal
func (s *session) machine(opts ...ledstate.Option) *ledstate.Machine {
	if s.journal != nil {
		opts = append(opts, ledstate.WithRecorder(s.journal))
	}
	return ledstate.New(s.reg, opts...)
}

// newSession loads the configuration, applies command line overrides and
// wires the controllers
func newSession(ctx context.Context, opts *options, args []string, c *cache.Cache) (*session, error) {
	cfg, err := config.Load(opts.cfgFile)
	if err != nil {
		return nil, err
	}

	if opts.logFile != "" {
		cfg.LogFile = opts.logFile
	}
	if opts.logLevel != "" {
		cfg.LogLevel = opts.logLevel
	}
	cfg.SlotFilters = append(cfg.SlotFilters, opts.slotFilters...)
	cfg.ControllerFilters = append(cfg.ControllerFilters, opts.excludedControllers...)
	if opts.timeout > 0 {
		cfg.Timeout = opts.timeout
	}

	s := &session{cfg: cfg}
	logCloser, err := logging.Setup(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, logCloser)

	if !opts.test && os.Geteuid() != 0 {
		s.Close()
		return nil, errNotPrivileged
	}

	excluded, err := cfg.ExcludedControllers()
	if err != nil {
		s.Close()
		return nil, err
	}
	priority, err := cfg.PriorityTable()
	if err != nil {
		s.Close()
		return nil, err
	}

	var drivers []backend.Driver
	var locator address.Locator
	if opts.test {
		fabric, err := sim.New(cfg.Topology())
		if err != nil {
			s.Close()
			return nil, err
		}
		drivers = fabric.Drivers()
		locator = fabric
	} else {
		drivers = []backend.Driver{
			scsi.New(cfg.SysfsRoot),
			vmd.New(cfg.SysfsRoot),
			npem.New(cfg.SysfsRoot),
		}
		locator = blockdev.New(cfg.SysfsRoot)
	}

	filter := registry.Filter{SlotPrefixes: cfg.SlotFilters, ExcludedControllers: excluded}
	s.reg = registry.New(drivers, filter, registry.WithCache(c), registry.WithTimeout(cfg.Timeout))
	if s.arb, err = arbiter.New(s.reg, priority, c); err != nil {
		s.Close()
		return nil, err
	}
	s.resolver = address.New(s.reg, s.arb, locator)

	if cfg.Journal != "" {
		j, err := journal.Open(cfg.Journal, args)
		if err != nil {
			log.WithError(err).Warn("LED journal disabled")
		} else {
			s.journal = j
			s.closers = append(s.closers, j)
		}
	}

	log.WithFields(log.Fields{
		"config":   cfg.Path,
		"test":     opts.test,
		"priority": cfg.Priority,
		"timeout":  cfg.Timeout,
	}).Debug("Session ready")
	return s, nil
}
