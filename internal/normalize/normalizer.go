// Package normalize turns a raw activity log into a typed, deduplicated and
// ordered event log.
package normalize

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	ferrors "github.com/arkilian/churnfeat/internal/errors"
	"github.com/arkilian/churnfeat/internal/ingest"
	"github.com/arkilian/churnfeat/internal/observability"
	"github.com/arkilian/churnfeat/pkg/types"
)

// Options controls normalization.
type Options struct {
	// DropColumns are non-predictive raw columns to remove. Every name must be
	// present in the log.
	DropColumns []string

	// Stats receives drop counts; may be nil.
	Stats *observability.Stats
}

// Normalizer cleans raw logs.
type Normalizer struct {
	opts Options
}

// New creates a normalizer.
func New(opts Options) *Normalizer {
	return &Normalizer{opts: opts}
}

// canonical lists the raw columns parsed into Event fields.
var canonical = map[string]bool{
	types.FieldEntityID:     true,
	types.FieldSessionID:    true,
	types.FieldEventType:    true,
	types.FieldTimestamp:    true,
	types.FieldStatus:       true,
	types.FieldTier:         true,
	types.FieldGender:       true,
	types.FieldDevice:       true,
	types.FieldSong:         true,
	types.FieldArtist:       true,
	types.FieldLength:       true,
	types.FieldRegistration: true,
}

// maxEpochMillis bounds epoch timestamps to what fits in int64 nanoseconds;
// anything further out is treated as unparsable.
const maxEpochMillis = 9.2e12

// parsed is a raw row after coercion, before imputation.
type parsed struct {
	ev           types.Event
	ms           float64
	status       *float64
	length       *float64
	registration *float64
}

// Normalize validates the log schema, removes the configured columns, coerces
// and cleans every row, imputes missing values and returns the events sorted
// by (entity, session, timestamp).
func (n *Normalizer) Normalize(ctx context.Context, log *ingest.Log) (*types.EventLog, error) {
	if log == nil || len(log.Records) == 0 {
		return nil, ferrors.NewEmptyDatasetError("normalize: input log has no records")
	}

	if err := checkRequired(log); err != nil {
		return nil, err
	}

	retained, err := n.applyDropSet(log)
	if err != nil {
		return nil, err
	}

	present := make(map[string]bool)
	for _, c := range retained {
		if canonical[c] {
			present[c] = true
		}
	}

	stats := n.opts.Stats
	stats.RecordsRead(len(log.Records))

	rows := make([]parsed, 0, len(log.Records))
	seen := make(map[string]struct{}, len(log.Records))

	for i, rec := range log.Records {
		if i%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		p, reason := parseRecord(rec, present)
		if reason != "" {
			stats.RowDropped(reason)
			continue
		}

		key := dedupeKey(p, rec, retained)
		if _, dup := seen[key]; dup {
			stats.RowDropped(observability.DropDuplicate)
			continue
		}
		seen[key] = struct{}{}
		rows = append(rows, p)
	}

	if len(rows) == 0 {
		return nil, ferrors.NewEmptyDatasetError("normalize: no rows survived cleaning")
	}

	impute(rows, present)

	events := make([]types.Event, len(rows))
	for i := range rows {
		events[i] = rows[i].ev
	}
	SortEvents(events)

	var fields []string
	for _, f := range types.OptionalFields {
		if present[f] {
			fields = append(fields, f)
		}
	}

	stats.EventsKept(len(events))
	return types.NewEventLog(events, fields), nil
}

// SortEvents stably orders events by (entity, session, timestamp).
func SortEvents(events []types.Event) {
	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if a.EntityID != b.EntityID {
			return a.EntityID < b.EntityID
		}
		if a.SessionID != b.SessionID {
			return a.SessionID < b.SessionID
		}
		return a.Timestamp.Before(b.Timestamp)
	})
}

func checkRequired(log *ingest.Log) error {
	var missing []string
	for _, f := range types.RequiredFields {
		if !log.HasColumn(f) {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		return ferrors.NewSchemaError(
			fmt.Sprintf("normalize: required columns absent from log: %s", strings.Join(missing, ", ")),
		).WithDetails(map[string]interface{}{"missing": missing})
	}
	return nil
}

// applyDropSet removes the requested columns and returns the retained ones.
// The set actually removed must equal the requested set.
func (n *Normalizer) applyDropSet(log *ingest.Log) ([]string, error) {
	requested := make(map[string]bool, len(n.opts.DropColumns))
	for _, c := range n.opts.DropColumns {
		requested[c] = true
	}

	for _, f := range types.RequiredFields {
		if requested[f] {
			return nil, ferrors.NewSchemaError(fmt.Sprintf("normalize: required column %q cannot be dropped", f))
		}
	}

	var retained []string
	removed := make(map[string]bool, len(requested))
	for _, c := range log.Columns {
		if requested[c] {
			removed[c] = true
			continue
		}
		retained = append(retained, c)
	}

	if len(removed) != len(requested) {
		var notPresent []string
		for c := range requested {
			if !removed[c] {
				notPresent = append(notPresent, c)
			}
		}
		sort.Strings(notPresent)
		return nil, ferrors.NewDropSetMismatchError(
			fmt.Sprintf("normalize: removed columns differ from requested; not present: %s", strings.Join(notPresent, ", ")),
		).WithDetails(map[string]interface{}{
			"requested":   sortedSet(requested),
			"removed":     sortedSet(removed),
			"not_present": notPresent,
		})
	}

	return retained, nil
}

func parseRecord(rec ingest.Record, present map[string]bool) (parsed, string) {
	var p parsed

	entity, ok := toID(rec[types.FieldEntityID])
	if !ok || entity == "" {
		return p, observability.DropMissingEntity
	}

	ms, ok := epochMillis(rec[types.FieldTimestamp])
	if !ok {
		return p, observability.DropMissingTimestamp
	}
	ts := fromMillis(ms)

	p.ms = ms
	p.ev = types.Event{
		EntityID:  entity,
		Timestamp: ts,
		Date:      time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC),
		EventType: categorical(rec[types.FieldEventType]),
		Tier:      categorical(rec[types.FieldTier]),
		Gender:    categorical(rec[types.FieldGender]),
		Song:      text(rec[types.FieldSong]),
		Artist:    text(rec[types.FieldArtist]),
	}

	if session, ok := toID(rec[types.FieldSessionID]); ok && session != "" {
		p.ev.SessionID = session
	} else {
		p.ev.SessionID = types.Unknown
	}

	p.ev.Device = categorical(rec[types.FieldDevice])
	if _, isString := rec[types.FieldDevice].(string); !isString {
		p.ev.DeviceMissing = true
	}

	if present[types.FieldStatus] {
		if v, ok := toFloat(rec[types.FieldStatus]); ok {
			p.status = &v
		}
	}
	if present[types.FieldLength] {
		if v, ok := toFloat(rec[types.FieldLength]); ok {
			p.length = &v
		}
	}
	if present[types.FieldRegistration] {
		if v, ok := epochMillis(rec[types.FieldRegistration]); ok {
			p.registration = &v
		}
	}

	return p, ""
}

// impute fills missing numeric values with the column median.
func impute(rows []parsed, present map[string]bool) {
	var statuses, lengths, regs []float64
	for _, r := range rows {
		if r.status != nil {
			statuses = append(statuses, *r.status)
		}
		if r.length != nil {
			lengths = append(lengths, *r.length)
		}
		if r.registration != nil {
			regs = append(regs, *r.registration)
		}
	}
	statusMedian := Median(statuses)
	lengthMedian := Median(lengths)
	regMedian := Median(regs)

	for i := range rows {
		r := &rows[i]
		if present[types.FieldStatus] {
			v := statusMedian
			if r.status != nil {
				v = *r.status
			}
			r.ev.Status = int(math.Round(v))
		}
		if present[types.FieldLength] {
			v := lengthMedian
			if r.length != nil {
				v = *r.length
			}
			r.ev.Length = math.Max(v, 0)
		}
		if present[types.FieldRegistration] {
			v := regMedian
			if r.registration != nil {
				v = *r.registration
			}
			r.ev.Registration = fromMillis(v)
		}
	}
}

// Median returns the median of values, or 0 when empty. The input is not modified.
func Median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	s := append([]float64(nil), values...)
	sort.Float64s(s)
	mid := len(s) / 2
	if len(s)%2 == 1 {
		return s[mid]
	}
	return (s[mid-1] + s[mid]) / 2
}

// dedupeKey identifies a row by its retained raw values, before any trimming
// or case folding. Identifiers are compared trimmed and the timestamp by its
// coerced value.
func dedupeKey(p parsed, rec ingest.Record, columns []string) string {
	var b strings.Builder
	for _, c := range columns {
		b.WriteString(c)
		b.WriteByte('=')
		switch c {
		case types.FieldTimestamp:
			b.WriteString(strconv.FormatFloat(p.ms, 'g', -1, 64))
		case types.FieldEntityID, types.FieldSessionID:
			b.WriteString(strings.TrimSpace(fmt.Sprint(rec[c])))
		default:
			if v, ok := rec[c]; ok && v != nil {
				fmt.Fprintf(&b, "%T:%v", v, v)
			} else {
				b.WriteString("<nil>")
			}
		}
		b.WriteByte('\x1f')
	}
	return b.String()
}

// epochMillis coerces an epoch-milliseconds value, rejecting values outside
// the representable range.
func epochMillis(v any) (float64, bool) {
	ms, ok := toFloat(v)
	if !ok || math.Abs(ms) > maxEpochMillis {
		return 0, false
	}
	return ms, true
}

func fromMillis(ms float64) time.Time {
	return time.Unix(0, int64(ms*float64(time.Millisecond))).UTC()
}

// toID renders an identifier as a trimmed, lower-cased string. Whole numbers
// are rendered without a fractional part.
func toID(v any) (string, bool) {
	switch x := v.(type) {
	case nil:
		return "", false
	case string:
		return strings.ToLower(strings.TrimSpace(x)), true
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return strconv.FormatInt(i, 10), true
		}
		return strings.TrimSpace(x.String()), true
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	case int:
		return strconv.Itoa(x), true
	case int64:
		return strconv.FormatInt(x, 10), true
	}
	return strings.ToLower(strings.TrimSpace(fmt.Sprint(v))), true
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case json.Number:
		f, err := x.Float64()
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return 0, false
		}
		return x, true
	}
	return types.ToFloat(v)
}

// categorical trims and lower-cases a value; missing becomes "unknown".
func categorical(v any) string {
	s := text(v)
	if s == types.Unknown {
		return s
	}
	return strings.ToLower(s)
}

// text trims a value; missing or blank becomes "unknown".
func text(v any) string {
	var s string
	switch x := v.(type) {
	case nil:
		return types.Unknown
	case string:
		s = strings.TrimSpace(x)
	default:
		s = strings.TrimSpace(fmt.Sprint(x))
	}
	if s == "" {
		return types.Unknown
	}
	return s
}

func sortedSet(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
