package aggregate

import (
	"time"

	"github.com/arkilian/churnfeat/internal/useragent"
	"github.com/arkilian/churnfeat/pkg/types"
)

// entityState holds the partial reduction of one entity's events. Two states
// of the same entity built from disjoint event subsets merge into the state
// of their union, in any order.
type entityState struct {
	entityID string

	events   int
	sessions map[string]struct{}
	days     map[int64]struct{}
	first    time.Time
	last     time.Time

	// registration is the earliest registration time seen
	registration time.Time

	plays       int
	songs       map[string]struct{}
	artists     map[string]struct{}
	totalLength float64

	statuses map[int]int
	genders  map[string]int
	tiers    map[string]int
	oses     map[useragent.OS]int

	pageTotal   map[string]int
	pageSuccess map[string]int

	// lastTier is the tier of the greatest (timestamp, session, tier) event
	lastTier        string
	lastTierAt      time.Time
	lastTierSession string
}

func newEntityState(entityID string) *entityState {
	return &entityState{
		entityID:    entityID,
		sessions:    make(map[string]struct{}),
		days:        make(map[int64]struct{}),
		songs:       make(map[string]struct{}),
		artists:     make(map[string]struct{}),
		statuses:    make(map[int]int),
		genders:     make(map[string]int),
		tiers:       make(map[string]int),
		oses:        make(map[useragent.OS]int),
		pageTotal:   make(map[string]int),
		pageSuccess: make(map[string]int),
	}
}

// add accumulates one event.
func (s *entityState) add(e types.Event, opts *Options) {
	s.events++
	s.sessions[e.SessionID] = struct{}{}
	s.days[e.Date.Unix()] = struct{}{}

	if s.first.IsZero() || e.Timestamp.Before(s.first) {
		s.first = e.Timestamp
	}
	if e.Timestamp.After(s.last) {
		s.last = e.Timestamp
	}
	if !e.Registration.IsZero() && (s.registration.IsZero() || e.Registration.Before(s.registration)) {
		s.registration = e.Registration
	}

	if opts.isPlay(e.EventType) {
		s.plays++
		if e.Song != types.Unknown {
			s.songs[e.Song] = struct{}{}
		}
		if e.Artist != types.Unknown {
			s.artists[e.Artist] = struct{}{}
		}
		s.totalLength += e.Length
	}

	s.statuses[e.Status]++
	s.genders[e.Gender]++
	s.tiers[e.Tier]++

	var device any = e.Device
	if e.DeviceMissing {
		device = nil
	}
	s.oses[useragent.Classify(device)]++

	s.pageTotal[e.EventType]++
	if e.Status == opts.OKStatus {
		s.pageSuccess[e.EventType]++
	}

	s.observeTier(e.Tier, e.Timestamp, e.SessionID)
}

func (s *entityState) observeTier(tier string, at time.Time, session string) {
	switch {
	case s.lastTierAt.IsZero() && s.lastTier == "":
	case at.After(s.lastTierAt):
	case at.Equal(s.lastTierAt) && session > s.lastTierSession:
	case at.Equal(s.lastTierAt) && session == s.lastTierSession && tier > s.lastTier:
	default:
		return
	}
	s.lastTier = tier
	s.lastTierAt = at
	s.lastTierSession = session
}

// merge folds o into s. Both must describe the same entity.
func (s *entityState) merge(o *entityState) {
	if o == nil || o.events == 0 {
		return
	}

	s.events += o.events
	unionString(s.sessions, o.sessions)
	for d := range o.days {
		s.days[d] = struct{}{}
	}
	if s.first.IsZero() || (!o.first.IsZero() && o.first.Before(s.first)) {
		s.first = o.first
	}
	if o.last.After(s.last) {
		s.last = o.last
	}
	if !o.registration.IsZero() && (s.registration.IsZero() || o.registration.Before(s.registration)) {
		s.registration = o.registration
	}

	s.plays += o.plays
	unionString(s.songs, o.songs)
	unionString(s.artists, o.artists)
	s.totalLength += o.totalLength

	for k, v := range o.statuses {
		s.statuses[k] += v
	}
	addCounts(s.genders, o.genders)
	addCounts(s.tiers, o.tiers)
	for k, v := range o.oses {
		s.oses[k] += v
	}
	addCounts(s.pageTotal, o.pageTotal)
	addCounts(s.pageSuccess, o.pageSuccess)

	s.observeTier(o.lastTier, o.lastTierAt, o.lastTierSession)
}

// primaryOS returns the most frequent OS, ties broken by classifier priority.
func (s *entityState) primaryOS() useragent.OS {
	best := useragent.Unknown
	bestCount := 0
	for os, c := range s.oses {
		if c > bestCount || (c == bestCount && c > 0 && useragent.Rank(os) < useragent.Rank(best)) {
			best, bestCount = os, c
		}
	}
	return best
}

func unionString(dst, src map[string]struct{}) {
	for k := range src {
		dst[k] = struct{}{}
	}
}

func addCounts(dst, src map[string]int) {
	for k, v := range src {
		dst[k] += v
	}
}
