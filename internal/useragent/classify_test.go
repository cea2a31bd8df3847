package useragent

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestClassify_OrderingAndDefaults(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want OS
	}{
		{"iphone", "Mozilla/5.0 (iPhone; CPU iPhone OS 14_0 like Mac OS X)", IOS},
		{"ipad", "Mozilla/5.0 (iPad; CPU OS 13_3 like Mac OS X)", IOS},
		{"android", "Mozilla/5.0 (Linux; Android 10; SM-G975F)", Android},
		{"windows", "Mozilla/5.0 (Windows NT 10.0; Win64; x64)", Windows},
		{"mac", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7)", Mac},
		{"linux", "Mozilla/5.0 (X11; Linux x86_64)", Linux},
		{"other", "Totally Unknown UA", Other},
		{"empty string", "", Other},
		{"nil", nil, Unknown},
		{"number", 42, Unknown},
		{"mixed case", "MOZILLA/5.0 (IPHONE; CPU IPHONE OS 14_6 LIKE MAC OS X)", IOS},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.in); got != tt.want {
				t.Errorf("Classify(%v) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestRank(t *testing.T) {
	if Rank(IOS) >= Rank(Mac) {
		t.Error("ios must outrank mac")
	}
	if Rank(Other) >= Rank(Unknown) {
		t.Error("other must outrank unknown")
	}
	if len(All()) != 7 {
		t.Errorf("got %d families, want 7", len(All()))
	}
}

func TestProperty_ClassifierPriority(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	noMarkers := gen.AlphaString().SuchThat(func(s string) bool {
		l := strings.ToLower(s)
		for _, r := range rules {
			for _, m := range r.markers {
				if strings.Contains(l, m) {
					return false
				}
			}
		}
		return true
	})

	properties.Property("an iOS marker wins over a mac marker anywhere in the string", prop.ForAll(
		func(prefix, suffix string, macFirst bool) bool {
			s := prefix + "iPhone" + suffix + "Mac OS X"
			if macFirst {
				s = prefix + "Macintosh" + suffix + "iPad"
			}
			return Classify(s) == IOS
		},
		gen.AlphaString(),
		gen.AlphaString(),
		gen.Bool(),
	))

	properties.Property("strings without markers are other", prop.ForAll(
		func(s string) bool {
			return Classify(s) == Other
		},
		noMarkers,
	))

	properties.Property("classification ignores case", prop.ForAll(
		func(s string) bool {
			return Classify(strings.ToUpper(s)) == Classify(strings.ToLower(s))
		},
		gen.OneConstOf("iphone", "android 10", "windows nt", "mac os x", "x11; linux", "beos"),
	))

	properties.TestingRun(t)
}
