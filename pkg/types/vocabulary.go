package types

import (
	"sort"
	"strings"
)

// Vocabulary holds the data-dependent column sets of the pivoted feature
// blocks. It is captured from training data and replayed at inference so
// that the feature table has exactly the same columns.
type Vocabulary struct {
	// Pages are the distinct event types, sorted
	Pages []string `json:"pages"`

	// Statuses are the distinct HTTP status codes, ascending
	Statuses []int `json:"statuses"`

	Tiers   []string `json:"tiers"`
	Genders []string `json:"genders"`
}

// Clone returns a deep copy of the vocabulary.
func (v *Vocabulary) Clone() *Vocabulary {
	if v == nil {
		return nil
	}
	return &Vocabulary{
		Pages:    append([]string(nil), v.Pages...),
		Statuses: append([]int(nil), v.Statuses...),
		Tiers:    append([]string(nil), v.Tiers...),
		Genders:  append([]string(nil), v.Genders...),
	}
}

// VocabularyBuilder collects distinct values while scanning events.
type VocabularyBuilder struct {
	pages    map[string]struct{}
	statuses map[int]struct{}
	tiers    map[string]struct{}
	genders  map[string]struct{}
}

// NewVocabularyBuilder creates an empty builder.
func NewVocabularyBuilder() *VocabularyBuilder {
	return &VocabularyBuilder{
		pages:    make(map[string]struct{}),
		statuses: make(map[int]struct{}),
		tiers:    make(map[string]struct{}),
		genders:  make(map[string]struct{}),
	}
}

// Add records the categorical values of one event.
func (b *VocabularyBuilder) Add(e Event) {
	b.pages[e.EventType] = struct{}{}
	b.statuses[e.Status] = struct{}{}
	b.tiers[e.Tier] = struct{}{}
	b.genders[e.Gender] = struct{}{}
}

// Build returns the sorted vocabulary.
func (b *VocabularyBuilder) Build() *Vocabulary {
	v := &Vocabulary{
		Pages:   sortedKeys(b.pages),
		Tiers:   sortedKeys(b.tiers),
		Genders: sortedKeys(b.genders),
	}
	for s := range b.statuses {
		v.Statuses = append(v.Statuses, s)
	}
	sort.Ints(v.Statuses)
	return v
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Slug turns a category value into a column-name fragment.
func Slug(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), " ", "_")
}
