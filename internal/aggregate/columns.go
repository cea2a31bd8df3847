package aggregate

import (
	"fmt"

	"github.com/arkilian/churnfeat/internal/useragent"
	"github.com/arkilian/churnfeat/pkg/types"
)

// StatusColumn names the per-status count column.
func StatusColumn(code int) string {
	return fmt.Sprintf("status_%d", code)
}

// PageSuccessColumn names the per-page success share column.
func PageSuccessColumn(page string) string {
	return types.Slug(page) + "_success_ratio"
}

// PageFailedColumn names the per-page failure share column.
func PageFailedColumn(page string) string {
	return types.Slug(page) + "_failed_ratio"
}

// UsageColumn names a categorical usage-ratio column, e.g. tier_usage_paid_ratio.
func UsageColumn(prefix, value string) string {
	return prefix + "_usage_" + types.Slug(value) + "_ratio"
}

// Usage-ratio column prefixes.
const (
	prefixGender = "gender"
	prefixTier   = "tier"
	prefixOS     = "os"
)

// blocks records which optional blocks a log supports.
type blocks struct {
	registration bool
	content      bool
	status       bool
	gender       bool
	tier         bool
	device       bool
	pages        bool
}

func blocksFor(log *types.EventLog) blocks {
	return blocks{
		registration: log.Has(types.FieldRegistration),
		content:      log.HasAll(types.FieldSong, types.FieldArtist, types.FieldLength),
		status:       log.Has(types.FieldStatus),
		gender:       log.Has(types.FieldGender),
		tier:         log.Has(types.FieldTier),
		device:       log.Has(types.FieldDevice),
		pages:        log.HasAll(types.FieldEventType, types.FieldStatus),
	}
}

// columns returns the ordered feature-table columns for a vocabulary.
// Duplicate names produced by slug collisions are kept once.
func columns(b blocks, vocab *types.Vocabulary) []string {
	seen := make(map[string]bool)
	var cols []string
	add := func(names ...string) {
		for _, n := range names {
			if !seen[n] {
				seen[n] = true
				cols = append(cols, n)
			}
		}
	}

	add(types.ColEntityID, types.ColEvents, types.ColSessions, types.ColDaysActive,
		types.ColFirstTS, types.ColLastTS)
	if b.registration {
		add(types.ColRegistration, types.ColTenureDays)
	}
	add(types.ColRecencyDays)

	if b.content {
		add(types.ColSongsPlayed, types.ColUniqueSongs, types.ColUniqueArtists,
			types.ColTotalSongLength, types.ColAvgSongLength)
	}

	if b.status {
		for _, code := range vocab.Statuses {
			add(StatusColumn(code))
		}
		add(types.ColSuccessEvents, types.ColErrorEvents, types.ColErrorRate)
	}

	if b.gender {
		for _, g := range vocab.Genders {
			add(UsageColumn(prefixGender, g))
		}
	}
	if b.tier {
		for _, t := range vocab.Tiers {
			add(UsageColumn(prefixTier, t))
		}
	}
	if b.device {
		for _, os := range useragent.All() {
			add(UsageColumn(prefixOS, string(os)))
		}
		add(types.ColPrimaryOS)
	}
	if b.tier {
		add(types.ColLastTier)
	}

	if b.pages {
		for _, p := range vocab.Pages {
			add(PageSuccessColumn(p), PageFailedColumn(p))
		}
	}
	return cols
}
