// Package ingest decodes newline-delimited JSON activity logs into
// loosely-typed records.
package ingest

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	ferrors "github.com/arkilian/churnfeat/internal/errors"
	"github.com/arkilian/churnfeat/pkg/types"
)

// maxLineBytes bounds a single NDJSON record.
const maxLineBytes = 4 * 1024 * 1024

// Record is one decoded raw event. Numbers are json.Number.
type Record map[string]any

// Log is a decoded raw log.
type Log struct {
	// Columns is the sorted union of keys seen across all records
	Columns []string

	Records []Record
}

// HasColumn reports whether any record carried the key.
func (l *Log) HasColumn(name string) bool {
	i := sort.SearchStrings(l.Columns, name)
	return i < len(l.Columns) && l.Columns[i] == name
}

// Options controls decoding.
type Options struct {
	// Aliases renames source keys to canonical keys before column discovery.
	// A record that carries both an alias and its canonical key keeps the
	// canonical value.
	Aliases map[string]string
}

// DefaultAliases maps the keys of the common music-streaming log layout to
// canonical field names.
func DefaultAliases() map[string]string {
	return map[string]string{
		"userId":       types.FieldEntityID,
		"sessionId":    types.FieldSessionID,
		"page":         types.FieldEventType,
		"ts":           types.FieldTimestamp,
		"level":        types.FieldTier,
		"userAgent":    types.FieldDevice,
		"registration": types.FieldRegistration,
	}
}

// Decode reads one JSON object per line from r. Blank lines are skipped.
func Decode(ctx context.Context, r io.Reader, opts Options) (*Log, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	seen := make(map[string]struct{})
	log := &Log{}
	lineNo := 0

	for scanner.Scan() {
		lineNo++
		if lineNo%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		dec := json.NewDecoder(bytes.NewReader(line))
		dec.UseNumber()
		var raw map[string]any
		if err := dec.Decode(&raw); err != nil {
			return nil, ferrors.NewIngestError(ferrors.CodeMalformedRecord,
				fmt.Sprintf("line %d is not a JSON object", lineNo), err)
		}

		rec := applyAliases(raw, opts.Aliases)
		for k := range rec {
			seen[k] = struct{}{}
		}
		log.Records = append(log.Records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, ferrors.NewIngestError(ferrors.CodeMalformedRecord,
			fmt.Sprintf("failed reading after line %d", lineNo), err)
	}

	log.Columns = make([]string, 0, len(seen))
	for k := range seen {
		log.Columns = append(log.Columns, k)
	}
	sort.Strings(log.Columns)

	return log, nil
}

// ReadFile decodes the NDJSON file at path.
func ReadFile(ctx context.Context, path string, opts Options) (*Log, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("ingest: failed to open %s: %w", path, err)
	}
	defer f.Close()

	return Decode(ctx, f, opts)
}

// NewLog builds a log from in-memory records, discovering columns.
func NewLog(records []Record) *Log {
	seen := make(map[string]struct{})
	for _, r := range records {
		for k := range r {
			seen[k] = struct{}{}
		}
	}
	cols := make([]string, 0, len(seen))
	for k := range seen {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return &Log{Columns: cols, Records: records}
}

func applyAliases(raw map[string]any, aliases map[string]string) Record {
	rec := make(Record, len(raw))
	for k, v := range raw {
		if _, isAlias := aliases[k]; !isAlias {
			rec[k] = v
		}
	}
	for k, v := range raw {
		canonical, isAlias := aliases[k]
		if !isAlias {
			continue
		}
		if _, exists := rec[canonical]; !exists {
			rec[canonical] = v
		}
	}
	return rec
}
