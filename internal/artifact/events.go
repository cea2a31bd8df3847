package artifact

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/golang/snappy"

	"github.com/arkilian/churnfeat/pkg/types"
)

const eventsFormat = "churnfeat.events.v1"

// eventsHeader is the first line of an events stream.
type eventsHeader struct {
	Format string   `json:"format"`
	Fields []string `json:"fields"`
	Count  int      `json:"count"`
}

// WriteEvents writes the normalized log as snappy-framed NDJSON: a header
// line naming the optional fields present, then one event per line.
func WriteEvents(w io.Writer, log *types.EventLog) error {
	sw := snappy.NewBufferedWriter(w)
	enc := json.NewEncoder(sw)

	if err := enc.Encode(eventsHeader{Format: eventsFormat, Fields: log.Fields(), Count: log.Len()}); err != nil {
		return fmt.Errorf("artifact: failed to write events header: %w", err)
	}
	for i := range log.Events {
		if err := enc.Encode(&log.Events[i]); err != nil {
			return fmt.Errorf("artifact: failed to write event %d: %w", i, err)
		}
	}
	if err := sw.Close(); err != nil {
		return fmt.Errorf("artifact: failed to flush events: %w", err)
	}
	return nil
}

// ReadEvents reads a stream written by WriteEvents.
func ReadEvents(r io.Reader) (*types.EventLog, error) {
	dec := json.NewDecoder(snappy.NewReader(r))

	var h eventsHeader
	if err := dec.Decode(&h); err != nil {
		return nil, fmt.Errorf("artifact: failed to read events header: %w", err)
	}
	if h.Format != eventsFormat {
		return nil, fmt.Errorf("artifact: unsupported events format %q", h.Format)
	}

	events := make([]types.Event, 0, h.Count)
	for {
		var ev types.Event
		err := dec.Decode(&ev)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("artifact: failed to read event %d: %w", len(events), err)
		}
		events = append(events, ev)
	}
	if len(events) != h.Count {
		return nil, fmt.Errorf("artifact: events stream truncated: header says %d, read %d", h.Count, len(events))
	}
	return types.NewEventLog(events, h.Fields), nil
}
