package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sigreer/ledctl/internal/cache"
	"github.com/sigreer/ledctl/internal/ibpi"
	"github.com/sigreer/ledctl/internal/version"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// options holds the parsed command line
type options struct {
	cfgFile string

	listControllers bool
	listSlots       bool
	getSlot         bool
	setSlot         bool

	controllerType string
	slot           string
	device         string
	state          string
	print          string

	test       bool
	logFile    string
	logLevel   string
	listedOnly bool
	all        bool
	verify     bool
	table      bool
	history    int
	version    bool

	slotFilters         []string
	excludedControllers []string
	timeout             time.Duration
}

func newRootCmd(stdout, stderr io.Writer, c *cache.Cache) *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "ledctl [OPTIONS] pattern=list_of_devices ...",
		Short: "Storage enclosure LED control",
		Long: `ledctl drives the status LEDs of drive bays behind SES enclosures (SCSI),
Intel VMD hotplug slots and NPEM capable PCIe ports.

Slot mode works on one slot of one controller:
  ledctl --list-controllers
  ledctl --list-slots --controller-type SCSI
  ledctl --get-slot --controller-type VMD --device /dev/nvme0n1
  ledctl --set-slot --controller-type NPEM --slot 0000:65:00.0 --state locate

IBPI mode sets patterns on devices, several per invocation:
  ledctl locate=/dev/sda,/dev/sdb failure={ /dev/nvme0n1 /dev/nvme1n1 }
  ledctl normal=/dev/nvme*n1

Patterns: ` + fmt.Sprint(ibpi.Names()),
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.version {
				fmt.Fprintf(stdout, "ledctl %s\n", version.Version)
				return nil
			}
			return run(cmd, opts, args, stdout, c)
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return fmt.Errorf("%v: %w", err, errUsage)
	})

	f := cmd.Flags()
	f.SortFlags = false
	f.StringVarP(&opts.cfgFile, "config", "c", "", "config file (default is /etc/ledctl/ledctl.yaml)")

	f.BoolVarP(&opts.listControllers, "list-controllers", "L", false, "Prints the type of every controller detected")
	f.BoolVarP(&opts.listSlots, "list-slots", "P", false, "Prints all slots for the controller type")
	f.BoolVarP(&opts.getSlot, "get-slot", "G", false, "Prints slot details for a device or slot")
	f.BoolVarP(&opts.setSlot, "set-slot", "S", false, "Sets the LED state for a device or slot")

	f.StringVarP(&opts.controllerType, "controller-type", "n", "", "Controller type: SCSI, VMD or NPEM")
	f.StringVarP(&opts.slot, "slot", "p", "", "Slot identifier")
	f.StringVarP(&opts.device, "device", "d", "", "Device node")
	f.StringVarP(&opts.state, "state", "s", "", "LED pattern to set")
	f.StringVarP(&opts.print, "print", "r", "", "Print only one property of the slot: slot, state or device")

	f.BoolVarP(&opts.test, "test", "T", false, "Run against simulated controllers, no hardware or privileges required")
	f.StringVarP(&opts.logFile, "log", "l", "", "Log file path")
	f.StringVar(&opts.logLevel, "log-level", "", "Log level: quiet, error, warning, info, debug, all or 0-6")
	f.BoolVarP(&opts.listedOnly, "listed-only", "x", true, "Only change the LEDs of listed devices")
	f.BoolVarP(&opts.all, "all", "a", false, "Reset the LEDs of unlisted slots on touched controllers to normal")
	f.BoolVar(&opts.verify, "verify", false, "Read every LED back after writing it")
	f.BoolVar(&opts.table, "table", false, "Render --list-slots as a table")
	f.IntVar(&opts.history, "history", 0, "Print the last N journal entries")
	f.Lookup("history").NoOptDefVal = "20"
	f.BoolVarP(&opts.version, "version", "v", false, "Displays version and license information")

	f.StringSliceVar(&opts.slotFilters, "slot-filter", nil, "Hide slots whose id starts with this prefix (repeatable)")
	f.StringSliceVar(&opts.excludedControllers, "exclude-controller", nil, "Treat this controller type as absent (repeatable)")
	f.DurationVar(&opts.timeout, "timeout", 0, "Bound on every controller call (default 5s)")

	f.SetNormalizeFunc(func(f *pflag.FlagSet, name string) pflag.NormalizedName {
		// --controller_type and --controller-type are the same flag
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	return cmd
}

// execute runs one invocation and returns the exit status
func execute(args []string, stdout, stderr io.Writer, c *cache.Cache) int {
	cmd := newRootCmd(stdout, stderr, c)
	cmd.SetArgs(args)
	err := cmd.Execute()
	if err != nil {
		fmt.Fprintln(stderr, err)
	}
	return exitCode(err)
}

func main() {
	os.Exit(execute(os.Args[1:], os.Stdout, os.Stderr, cache.Global()))
}
