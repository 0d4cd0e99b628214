// Package commands implements the upnp-log CLI commands.
package commands

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/upnpkit/upnpkit-go/pkg/log"
)

// ViewFilter specifies criteria for filtering events in the view command.
type ViewFilter struct {
	Layer     *log.Layer
	Direction *log.Direction
	Category  *log.Category
	Device    string
}

// formatEvent writes a human-readable representation of the event to w.
func formatEvent(w io.Writer, event log.Event) {
	// timestamp [conn:id] DIRECTION LAYER Type
	ts := event.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z")
	connID := shortenConnID(event.ConnectionID)

	var typeLabel string
	switch {
	case event.Action != nil:
		typeLabel = event.Action.Type.String()
	case event.GENA != nil:
		typeLabel = event.GENA.Method
	case event.StateChange != nil:
		typeLabel = "State"
	case event.Error != nil:
		typeLabel = "Error"
	default:
		typeLabel = "Unknown"
	}

	fmt.Fprintf(w, "%s [conn:%s] %-3s %s %s\n", ts, connID, event.Direction.String(), event.Layer.String(), typeLabel)
	if event.DeviceUUID != "" {
		fmt.Fprintf(w, "  Device: %s\n", event.DeviceUUID)
	}
	if event.ServiceID != "" {
		fmt.Fprintf(w, "  Service: %s\n", event.ServiceID)
	}

	switch {
	case event.Action != nil:
		formatActionDetails(w, event.Action)
	case event.GENA != nil:
		formatGENADetails(w, event.GENA)
	case event.StateChange != nil:
		formatStateChangeDetails(w, event.StateChange)
	case event.Error != nil:
		formatErrorDetails(w, event.Error)
	}

	fmt.Fprintln(w)
}

// shortenConnID returns the first 8 characters of the connection ID.
func shortenConnID(id string) string {
	if len(id) >= 8 {
		return id[:8]
	}
	return id
}

func formatActionDetails(w io.Writer, a *log.ActionEvent) {
	fmt.Fprintf(w, "  Call: %d %s\n", a.CallID, a.Action)
	if len(a.Arguments) > 0 {
		fmt.Fprintf(w, "  Arguments: [%s]\n", strings.Join(a.Arguments, ", "))
	}
	if a.Type != log.MessageTypeResponse {
		return
	}
	if a.Outcome != "" {
		fmt.Fprintf(w, "  Outcome: %s\n", a.Outcome)
	}
	if a.HTTPStatus != 0 {
		fmt.Fprintf(w, "  HTTP: %d\n", a.HTTPStatus)
	}
	if a.FaultCode != nil {
		fmt.Fprintf(w, "  Fault: %d\n", *a.FaultCode)
	}
	if a.Duration != nil {
		fmt.Fprintf(w, "  Duration: %s\n", formatDuration(*a.Duration))
	}
}

func formatGENADetails(w io.Writer, g *log.GENAEvent) {
	if g.SID != "" {
		fmt.Fprintf(w, "  SID: %s\n", g.SID)
	}
	if g.Seq != nil {
		fmt.Fprintf(w, "  SEQ: %d\n", *g.Seq)
	}
	if g.Timeout != nil {
		fmt.Fprintf(w, "  Timeout: %s\n", *g.Timeout)
	}
	if g.Status != 0 {
		fmt.Fprintf(w, "  Status: %d\n", g.Status)
	}
	if len(g.Variables) > 0 {
		names := make([]string, 0, len(g.Variables))
		for name := range g.Variables {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(w, "  %s = %q\n", name, g.Variables[name])
		}
	}
}

// formatStateChangeDetails writes state change details.
func formatStateChangeDetails(w io.Writer, sc *log.StateChangeEvent) {
	fmt.Fprintf(w, "  Entity: %s\n", sc.Entity.String())
	if sc.OldState != "" {
		fmt.Fprintf(w, "  %s -> %s\n", sc.OldState, sc.NewState)
	} else {
		fmt.Fprintf(w, "  -> %s\n", sc.NewState)
	}
	if sc.Reason != "" {
		fmt.Fprintf(w, "  Reason: %s\n", sc.Reason)
	}
}

// formatErrorDetails writes error details.
func formatErrorDetails(w io.Writer, err *log.ErrorEventData) {
	fmt.Fprintf(w, "  Layer: %s\n", err.Layer.String())
	fmt.Fprintf(w, "  Message: %s\n", err.Message)
	if err.Code != nil {
		fmt.Fprintf(w, "  Code: %d\n", *err.Code)
	}
	if err.Context != "" {
		fmt.Fprintf(w, "  Context: %s\n", err.Context)
	}
}

// formatDuration formats a duration for display.
func formatDuration(d time.Duration) string {
	if d < time.Millisecond {
		return fmt.Sprintf("%.3fus", float64(d.Nanoseconds())/1000)
	}
	if d < time.Second {
		return fmt.Sprintf("%.3fms", float64(d.Microseconds())/1000)
	}
	return fmt.Sprintf("%.3fs", d.Seconds())
}

// ParseLayerFlag parses a layer string from command-line flag (case-insensitive).
func ParseLayerFlag(s string) (log.Layer, error) {
	return parseLayer(s)
}

func parseLayer(s string) (log.Layer, error) {
	switch strings.ToLower(s) {
	case "soap":
		return log.LayerSOAP, nil
	case "gena":
		return log.LayerGENA, nil
	case "connection":
		return log.LayerConnection, nil
	default:
		return 0, fmt.Errorf("invalid layer: %s (must be soap, gena, or connection)", s)
	}
}

// ParseDirectionFlag parses a direction string from command-line flag (case-insensitive).
func ParseDirectionFlag(s string) (log.Direction, error) {
	return parseDirection(s)
}

func parseDirection(s string) (log.Direction, error) {
	switch strings.ToLower(s) {
	case "in":
		return log.DirectionIn, nil
	case "out":
		return log.DirectionOut, nil
	default:
		return 0, fmt.Errorf("invalid direction: %s (must be in or out)", s)
	}
}

// ParseCategoryFlag parses a category string from command-line flag (case-insensitive).
func ParseCategoryFlag(s string) (log.Category, error) {
	return parseCategory(s)
}

func parseCategory(s string) (log.Category, error) {
	switch strings.ToLower(s) {
	case "message":
		return log.CategoryMessage, nil
	case "state":
		return log.CategoryState, nil
	case "error":
		return log.CategoryError, nil
	default:
		return 0, fmt.Errorf("invalid category: %s (must be message, state, or error)", s)
	}
}

// RunView executes the view command.
func RunView(path string, filter ViewFilter, output io.Writer) error {
	reader, err := log.NewFilteredReader(path, log.Filter{
		Layer:      filter.Layer,
		Direction:  filter.Direction,
		Category:   filter.Category,
		DeviceUUID: filter.Device,
	})
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		formatEvent(output, event)
	}
	return nil
}
