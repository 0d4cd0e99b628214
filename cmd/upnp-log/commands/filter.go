package commands

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/upnpkit/upnpkit-go/pkg/log"
)

// FilterOptions specifies filtering criteria for the filter command.
type FilterOptions struct {
	Output     string
	ConnID     string
	DeviceUUID string
	ServiceID  string
	Method     string
	TimeStart  string
	TimeEnd    string
	Layer      string
	Direction  string
	Category   string
}

// buildFilter converts the command-line options into a log filter.
func buildFilter(opts FilterOptions) (log.Filter, error) {
	filter := log.Filter{
		ConnectionID: opts.ConnID,
		DeviceUUID:   opts.DeviceUUID,
		ServiceID:    opts.ServiceID,
		GENAMethod:   strings.ToUpper(opts.Method),
	}

	if opts.TimeStart != "" {
		t, err := time.Parse(time.RFC3339, opts.TimeStart)
		if err != nil {
			return filter, fmt.Errorf("invalid time-start format: %w", err)
		}
		filter.TimeStart = &t
	}
	if opts.TimeEnd != "" {
		t, err := time.Parse(time.RFC3339, opts.TimeEnd)
		if err != nil {
			return filter, fmt.Errorf("invalid time-end format: %w", err)
		}
		filter.TimeEnd = &t
	}
	if opts.Layer != "" {
		l, err := parseLayer(opts.Layer)
		if err != nil {
			return filter, err
		}
		filter.Layer = &l
	}
	if opts.Direction != "" {
		d, err := parseDirection(opts.Direction)
		if err != nil {
			return filter, err
		}
		filter.Direction = &d
	}
	if opts.Category != "" {
		c, err := parseCategory(opts.Category)
		if err != nil {
			return filter, err
		}
		filter.Category = &c
	}
	return filter, nil
}

// RunFilter filters the log file and writes matching events to a new file.
// It returns the number of events written.
func RunFilter(path string, opts FilterOptions) (int, error) {
	filter, err := buildFilter(opts)
	if err != nil {
		return 0, err
	}

	reader, err := openLog(path, filter)
	if err != nil {
		return 0, fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	logger, err := log.NewFileLogger(opts.Output)
	if err != nil {
		return 0, fmt.Errorf("failed to create output logger: %w", err)
	}
	defer logger.Close()

	count := 0
	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return count, fmt.Errorf("failed to read event: %w", err)
		}
		logger.Log(event)
		count++
	}
	return count, nil
}
