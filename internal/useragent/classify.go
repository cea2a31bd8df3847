// Package useragent classifies device strings into operating-system families.
package useragent

import "strings"

// OS is an operating-system family.
type OS string

const (
	IOS     OS = "ios"
	Android OS = "android"
	Windows OS = "windows"
	Mac     OS = "mac"
	Linux   OS = "linux"
	Other   OS = "other"
	Unknown OS = "unknown"
)

// rule maps a set of lower-case markers to a family.
type rule struct {
	os      OS
	markers []string
}

// rules are evaluated in order. iOS device strings usually carry
// "like Mac OS X", so iOS must be matched before mac.
var rules = []rule{
	{IOS, []string{"iphone", "ipad", "ipod"}},
	{Android, []string{"android"}},
	{Windows, []string{"windows"}},
	{Mac, []string{"macintosh", "mac os"}},
	{Linux, []string{"linux"}},
}

// Classify maps a device string to its OS family. Non-string input,
// including nil, is Unknown; a string with no known marker is Other.
func Classify(v any) OS {
	s, ok := v.(string)
	if !ok {
		return Unknown
	}
	return ClassifyString(s)
}

// ClassifyString maps a device string to its OS family.
func ClassifyString(s string) OS {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, r := range rules {
		for _, m := range r.markers {
			if strings.Contains(s, m) {
				return r.os
			}
		}
	}
	return Other
}

// All returns every family in match priority order, followed by Other and Unknown.
func All() []OS {
	out := make([]OS, 0, len(rules)+2)
	for _, r := range rules {
		out = append(out, r.os)
	}
	return append(out, Other, Unknown)
}

// Rank returns the priority position of a family; lower ranks win ties.
func Rank(os OS) int {
	for i, o := range All() {
		if o == os {
			return i
		}
	}
	return len(rules) + 2
}
