// Package aggregate reduces a normalized event log into one feature row per
// entity.
//
// Events are routed to shards by a murmur3 hash of the entity id. Each shard
// builds mergeable per-entity states; the states are merged and joined on the
// full entity population, so the output does not depend on the shard count or
// on the order in which partial states are merged.
package aggregate

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	ferrors "github.com/arkilian/churnfeat/internal/errors"
	"github.com/arkilian/churnfeat/internal/useragent"
	"github.com/arkilian/churnfeat/pkg/types"
)

// Default option values.
const (
	DefaultOKStatus = 200
)

// DefaultPlayEventTypes are the event types counted as plays.
var DefaultPlayEventTypes = []string{"nextsong", "play"}

// Options configures the engine.
type Options struct {
	// Vocabulary fixes the pivot column sets. When nil it is derived from the
	// log being aggregated.
	Vocabulary *types.Vocabulary

	// Workers bounds the number of shards reduced concurrently (default GOMAXPROCS).
	Workers int

	// PlayEventTypes lists the event types counted by the content block.
	PlayEventTypes []string

	// OKStatus is the status counted as success.
	OKStatus int

	plays map[string]bool
}

func (o *Options) isPlay(eventType string) bool {
	return o.plays[eventType]
}

// Result is the output of one aggregation.
type Result struct {
	// Table has one row per entity, sorted by entity id
	Table *types.Table

	// Vocabulary is the vocabulary the table columns were built from
	Vocabulary *types.Vocabulary

	// GlobalMax is the latest event time in the log
	GlobalMax time.Time
}

// Engine computes per-entity features.
type Engine struct {
	opts Options
}

// NewEngine creates an engine, filling unset options with defaults.
func NewEngine(opts Options) *Engine {
	if opts.Workers <= 0 {
		opts.Workers = runtime.GOMAXPROCS(0)
	}
	if len(opts.PlayEventTypes) == 0 {
		opts.PlayEventTypes = DefaultPlayEventTypes
	}
	if opts.OKStatus == 0 {
		opts.OKStatus = DefaultOKStatus
	}
	opts.plays = make(map[string]bool, len(opts.PlayEventTypes))
	for _, p := range opts.PlayEventTypes {
		opts.plays[strings.ToLower(strings.TrimSpace(p))] = true
	}
	return &Engine{opts: opts}
}

// Aggregate reduces the log to the feature table.
func (e *Engine) Aggregate(ctx context.Context, log *types.EventLog) (*Result, error) {
	if log.Len() == 0 {
		return nil, ferrors.NewEmptyDatasetError("aggregate: event log is empty")
	}
	for i := range log.Events {
		ev := &log.Events[i]
		if ev.EntityID == "" || ev.Timestamp.IsZero() {
			return nil, ferrors.NewSchemaError(
				fmt.Sprintf("aggregate: event %d has no entity id or timestamp", i))
		}
	}

	b := blocksFor(log)
	vocab := e.opts.Vocabulary.Clone()
	if vocab == nil {
		vocab = deriveVocabulary(log, b)
	}

	states, err := e.reduce(ctx, log.Events)
	if err != nil {
		return nil, err
	}

	globalMax := log.MaxTimestamp()
	ids := make([]string, 0, len(states))
	for id := range states {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	table := &types.Table{
		Columns: columns(b, vocab),
		Rows:    make([]types.Row, len(ids)),
	}
	for i, id := range ids {
		table.Rows[i] = e.row(states[id], b, vocab, globalMax, table.Columns)
	}

	return &Result{Table: table, Vocabulary: vocab, GlobalMax: globalMax}, nil
}

// reduce builds per-entity states shard by shard and merges them.
func (e *Engine) reduce(ctx context.Context, events []types.Event) (map[string]*entityState, error) {
	shards := routeEvents(events, e.opts.Workers)
	partials := make([]map[string]*entityState, len(shards))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Workers)
	for i, shard := range shards {
		if len(shard) == 0 {
			continue
		}
		g.Go(func() error {
			states := make(map[string]*entityState)
			for j, ev := range shard {
				if j%4096 == 0 {
					if err := gctx.Err(); err != nil {
						return err
					}
				}
				st, ok := states[ev.EntityID]
				if !ok {
					st = newEntityState(ev.EntityID)
					states[ev.EntityID] = st
				}
				st.add(ev, &e.opts)
			}
			partials[i] = states
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return mergeStates(partials), nil
}

// mergeStates merges per-shard partial states into one state per entity.
func mergeStates(partials []map[string]*entityState) map[string]*entityState {
	merged := make(map[string]*entityState)
	for _, p := range partials {
		for id, st := range p {
			cur, ok := merged[id]
			if !ok {
				cur = newEntityState(id)
				merged[id] = cur
			}
			cur.merge(st)
		}
	}
	return merged
}

// row materializes one entity's features. Every column in cols is set.
func (e *Engine) row(s *entityState, b blocks, vocab *types.Vocabulary, globalMax time.Time, cols []string) types.Row {
	events := float64(s.events)
	r := types.Row{
		types.ColEntityID:    s.entityID,
		types.ColEvents:      events,
		types.ColSessions:    float64(len(s.sessions)),
		types.ColDaysActive:  float64(len(s.days)),
		types.ColFirstTS:     s.first,
		types.ColLastTS:      s.last,
		types.ColRecencyDays: DaysBetween(s.last, globalMax),
	}

	if b.registration {
		r[types.ColRegistration] = s.registration
		r[types.ColTenureDays] = DaysBetween(s.registration, s.last)
	}

	if b.content {
		r[types.ColSongsPlayed] = float64(s.plays)
		r[types.ColUniqueSongs] = float64(len(s.songs))
		r[types.ColUniqueArtists] = float64(len(s.artists))
		r[types.ColTotalSongLength] = s.totalLength
		r[types.ColAvgSongLength] = mean(s.totalLength, s.plays)
	}

	if b.status {
		for _, code := range vocab.Statuses {
			r[StatusColumn(code)] = float64(s.statuses[code])
		}
		success := float64(s.statuses[e.opts.OKStatus])
		errs := math.Max(events-success, 0)
		r[types.ColSuccessEvents] = success
		r[types.ColErrorEvents] = errs
		r[types.ColErrorRate] = Ratio(errs, events)
	}

	if b.gender {
		usage(r, prefixGender, vocab.Genders, s.genders)
	}
	if b.tier {
		usage(r, prefixTier, vocab.Tiers, s.tiers)
		r[types.ColLastTier] = s.lastTier
	}
	if b.device {
		oses := make(map[string]int, len(s.oses))
		for os, c := range s.oses {
			oses[string(os)] = c
		}
		all := useragent.All()
		names := make([]string, len(all))
		for i, os := range all {
			names[i] = string(os)
		}
		usage(r, prefixOS, names, oses)
		r[types.ColPrimaryOS] = string(s.primaryOS())
	}

	if b.pages {
		for _, p := range vocab.Pages {
			total := float64(s.pageTotal[p])
			success := float64(s.pageSuccess[p])
			r[PageSuccessColumn(p)] = Ratio(success, events)
			r[PageFailedColumn(p)] = Ratio(total-success, events)
		}
	}

	for _, c := range cols {
		if _, ok := r[c]; !ok {
			r[c] = 0.0
		}
	}
	return r
}

// usage writes count/pivot-total ratios for the given category values. The
// pivot total includes values outside the vocabulary.
func usage(r types.Row, prefix string, values []string, counts map[string]int) {
	total := 0
	for _, c := range counts {
		total += c
	}
	for _, v := range values {
		r[UsageColumn(prefix, v)] = Ratio(float64(counts[v]), float64(total))
	}
}

// Ratio divides a part by its whole, returning 0 when whole is 0. The
// result is clamped to [0, 1].
func Ratio(part, whole float64) float64 {
	if whole == 0 {
		return 0
	}
	return math.Min(math.Max(part/whole, 0), 1)
}

// mean returns sum/n, or 0 when n is 0.
func mean(sum float64, n int) float64 {
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// DaysBetween returns the whole days from a to b, rounded down.
func DaysBetween(a, b time.Time) float64 {
	return math.Floor(b.Sub(a).Hours() / 24)
}

func deriveVocabulary(log *types.EventLog, b blocks) *types.Vocabulary {
	vb := types.NewVocabularyBuilder()
	for _, ev := range log.Events {
		vb.Add(ev)
	}
	v := vb.Build()
	if !b.pages {
		v.Pages = nil
	}
	if !b.status {
		v.Statuses = nil
	}
	if !b.tier {
		v.Tiers = nil
	}
	if !b.gender {
		v.Genders = nil
	}
	return v
}
