// Command upnp-log is a tool for viewing and analyzing UPnP control point
// protocol log files.
//
// Log files are written by upnp-controller with the -protocol-log flag, or
// by any application that passes a log.FileLogger to the control point.
//
// Usage:
//
//	upnp-log <command> [flags] <file.ulog>
//
// Commands:
//
//	view     View log file in human-readable format
//	export   Export log file to JSON or CSV format
//	filter   Filter log file and write to new file
//	stats    Show statistics about the log file
//
// A file name of "-" reads the log from standard input.
//
// Examples:
//
//	# View all events
//	upnp-log view controller.ulog
//
//	# View only GENA events
//	upnp-log view --layer gena controller.ulog
//
//	# Export to CSV
//	upnp-log export --format csv -o calls.csv controller.ulog
//
//	# Keep only the NOTIFY messages of one device
//	upnp-log filter --device uuid:... --method notify -o notify.ulog controller.ulog
//
//	# Show statistics
//	upnp-log stats controller.ulog
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/upnpkit/upnpkit-go/cmd/upnp-log/commands"
)

const usage = `upnp-log - UPnP Protocol Log Analyzer

Usage:
  upnp-log <command> [flags] <file.ulog>

Commands:
  view     View log file in human-readable format
  export   Export log file to JSON or CSV format
  filter   Filter log file and write to new file
  stats    Show statistics about the log file

Use "upnp-log <command> -help" for more information about a command.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "view":
		runView(args)
	case "export":
		runExport(args)
	case "filter":
		runFilter(args)
	case "stats":
		runStats(args)
	case "-h", "-help", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

// logPath returns the single positional argument or exits.
func logPath(fs *flag.FlagSet) string {
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Error: log file path required")
		fs.Usage()
		os.Exit(1)
	}
	return fs.Arg(0)
}

func runView(args []string) {
	fs := flag.NewFlagSet("view", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `upnp-log view - View log file in human-readable format

Usage:
  upnp-log view [flags] <file.ulog>

Flags:
`)
		fs.PrintDefaults()
	}

	layer := fs.String("layer", "", "Filter by layer (soap, gena, connection)")
	direction := fs.String("direction", "", "Filter by direction (in, out)")
	category := fs.String("category", "", "Filter by category (message, state, error)")
	device := fs.String("device", "", "Filter by device UUID")

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	path := logPath(fs)

	filter := commands.ViewFilter{Device: *device}
	if *layer != "" {
		l, err := commands.ParseLayerFlag(*layer)
		if err != nil {
			fail(err)
		}
		filter.Layer = &l
	}
	if *direction != "" {
		d, err := commands.ParseDirectionFlag(*direction)
		if err != nil {
			fail(err)
		}
		filter.Direction = &d
	}
	if *category != "" {
		c, err := commands.ParseCategoryFlag(*category)
		if err != nil {
			fail(err)
		}
		filter.Category = &c
	}

	if err := commands.RunView(path, filter, os.Stdout); err != nil {
		fail(err)
	}
}

func runExport(args []string) {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `upnp-log export - Export log file to JSON or CSV format

Usage:
  upnp-log export [flags] <file.ulog>

Flags:
`)
		fs.PrintDefaults()
	}

	format := fs.String("format", "jsonl", "Output format (jsonl, csv)")
	output := fs.String("o", "", "Output file (default: stdout)")

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	path := logPath(fs)

	if err := commands.RunExport(path, *format, *output); err != nil {
		fail(err)
	}
}

func runFilter(args []string) {
	fs := flag.NewFlagSet("filter", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `upnp-log filter - Filter log file and write to new file

Usage:
  upnp-log filter [flags] <file.ulog>

Flags:
`)
		fs.PrintDefaults()
	}

	output := fs.String("o", "", "Output file (required)")
	connID := fs.String("conn-id", "", "Filter by connection ID")
	device := fs.String("device", "", "Filter by device UUID")
	service := fs.String("service", "", "Filter by service ID")
	method := fs.String("method", "", "Filter GENA events by method (subscribe, renew, unsubscribe, notify)")
	timeStart := fs.String("time-start", "", "Filter by start time (RFC3339)")
	timeEnd := fs.String("time-end", "", "Filter by end time (RFC3339)")
	layer := fs.String("layer", "", "Filter by layer (soap, gena, connection)")
	direction := fs.String("direction", "", "Filter by direction (in, out)")
	category := fs.String("category", "", "Filter by category (message, state, error)")

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	path := logPath(fs)

	if *output == "" {
		fmt.Fprintln(os.Stderr, "Error: output file (-o) required")
		fs.Usage()
		os.Exit(1)
	}

	n, err := commands.RunFilter(path, commands.FilterOptions{
		Output:     *output,
		ConnID:     *connID,
		DeviceUUID: *device,
		ServiceID:  *service,
		Method:     *method,
		TimeStart:  *timeStart,
		TimeEnd:    *timeEnd,
		Layer:      *layer,
		Direction:  *direction,
		Category:   *category,
	})
	if err != nil {
		fail(err)
	}
	fmt.Printf("Filtered %d events to %s\n", n, *output)
}

func runStats(args []string) {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `upnp-log stats - Show statistics about the log file

Usage:
  upnp-log stats <file.ulog>

`)
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	path := logPath(fs)

	if err := commands.RunStats(path, os.Stdout); err != nil {
		fail(err)
	}
}
