package commands

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/upnpkit/upnpkit-go/pkg/log"
)

// openLog opens a log file, or standard input when path is "-".
func openLog(path string, filter log.Filter) (*log.Reader, error) {
	if path == "-" {
		return log.NewStreamReader(os.Stdin, filter), nil
	}
	return log.NewFilteredReader(path, filter)
}

// RunExport exports the log file to the specified format.
func RunExport(path, format, output string) error {
	reader, err := openLog(path, log.Filter{})
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	var w io.Writer = os.Stdout
	if output != "" {
		f, err := os.Create(output)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	switch format {
	case "jsonl":
		return exportJSONL(reader, w)
	case "csv":
		return exportCSV(reader, w)
	default:
		return fmt.Errorf("unknown format: %s (supported: jsonl, csv)", format)
	}
}

func exportJSONL(reader *log.Reader, w io.Writer) error {
	encoder := json.NewEncoder(w)
	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		if err := encoder.Encode(event); err != nil {
			return fmt.Errorf("failed to encode event: %w", err)
		}
	}
	return nil
}

var csvHeader = []string{
	"timestamp", "connection_id", "direction", "layer", "category",
	"device_uuid", "service_id", "type", "call_id", "action", "outcome", "sid", "seq",
}

func exportCSV(reader *log.Reader, w io.Writer) error {
	cw := csv.NewWriter(w)
	defer cw.Flush()

	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}

		eventType := "unknown"
		var callID, action, outcome, sid, seq string
		switch {
		case event.Action != nil:
			eventType = event.Action.Type.String()
			callID = strconv.FormatUint(event.Action.CallID, 10)
			action = event.Action.Action
			outcome = event.Action.Outcome
		case event.GENA != nil:
			eventType = event.GENA.Method
			sid = event.GENA.SID
			if event.GENA.Seq != nil {
				seq = strconv.FormatUint(uint64(*event.GENA.Seq), 10)
			}
		case event.StateChange != nil:
			eventType = "state"
		case event.Error != nil:
			eventType = "error"
		}

		row := []string{
			event.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z"),
			event.ConnectionID,
			event.Direction.String(),
			event.Layer.String(),
			event.Category.String(),
			event.DeviceUUID,
			event.ServiceID,
			eventType,
			callID,
			action,
			outcome,
			sid,
			seq,
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}
	return nil
}
