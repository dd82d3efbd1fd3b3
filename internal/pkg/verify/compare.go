// Package verify compares what a live router session carries with what the
// subscriber's effective policy says it should carry. It only reports drift;
// it never writes to a provider.
package verify

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/ManuelReschke/HotspotSync/internal/pkg/attrmap"
)

// Status is the outcome of verifying one subscriber
type Status string

const (
	StatusOK            Status = "OK"
	StatusWarning       Status = "WARNING"
	StatusError         Status = "ERROR"
	StatusNotConnected  Status = "NOT_CONNECTED"
	StatusProviderError Status = "PROVIDER_ERROR"
)

// AttrAAAGroup is the pseudo attribute used to report a wrong group membership
const AttrAAAGroup = "AAA-Group"

const (
	timeoutTolerance = 0.05
	bytesTolerance   = 0.01
)

// RouterFieldMap translates router session field names to engine attribute
// names. Fields not listed here are ignored.
var RouterFieldMap = map[string]string{
	"rate-limit":        attrmap.AttrRateLimit,
	"session-timeout":   attrmap.AttrSessionTimeout,
	"idle-timeout":      attrmap.AttrIdleTimeout,
	"limit-bytes-total": attrmap.AttrMaxTotalOctets,
	"profile":           attrmap.AttrHotspotProfile,
}

var criticalAttributes = map[string]bool{
	attrmap.AttrRateLimit:      true,
	attrmap.AttrBandwidthDown:  true,
	attrmap.AttrBandwidthUp:    true,
	attrmap.AttrMaxTotalOctets: true,
}

// Mismatch is one attribute whose live value differs from the expected one.
// An empty Expected means the attribute should not be present; an empty
// Actual means it is missing.
type Mismatch struct {
	Attribute string `json:"attribute"`
	Expected  string `json:"expected"`
	Actual    string `json:"actual"`
	Critical  bool   `json:"critical"`
}

// IsCritical reports whether drift on name is an ERROR rather than a WARNING
func IsCritical(name string) bool {
	return criticalAttributes[name]
}

// Translate maps router session fields to engine attributes
func Translate(fields map[string]string) attrmap.AttributeSet {
	set := attrmap.AttributeSet{}
	for field, value := range fields {
		name, ok := RouterFieldMap[field]
		if !ok {
			continue
		}
		set = append(set, attrmap.Attribute{Name: name, Op: attrmap.OpReply, Value: value, Source: attrmap.SourceRouter})
	}
	sort.Slice(set, func(i, j int) bool { return set[i].Name < set[j].Name })
	return set
}

// Compare returns the mismatches between expected and actual, ordered by
// attribute name. Unexpected attributes count only when they carry a
// non-zero value.
func Compare(expected, actual attrmap.AttributeSet) []Mismatch {
	want := expected.Values()
	got := actual.Values()
	var out []Mismatch
	for name, w := range want {
		g, ok := got[name]
		if ok && Equivalent(name, w, g) {
			continue
		}
		out = append(out, Mismatch{Attribute: name, Expected: w, Actual: g, Critical: IsCritical(name)})
	}
	for name, g := range got {
		if _, ok := want[name]; ok || isZero(g) {
			continue
		}
		out = append(out, Mismatch{Attribute: name, Actual: g, Critical: IsCritical(name)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Attribute < out[j].Attribute })
	return out
}

// StatusOf derives the verification status from a list of mismatches
func StatusOf(mismatches []Mismatch) Status {
	if len(mismatches) == 0 {
		return StatusOK
	}
	for _, m := range mismatches {
		if m.Critical {
			return StatusError
		}
	}
	return StatusWarning
}

// Equivalent compares one attribute value using the rule for its kind
func Equivalent(name, expected, actual string) bool {
	switch name {
	case attrmap.AttrRateLimit:
		return NormalizeRateLimit(expected) == NormalizeRateLimit(actual)
	case attrmap.AttrSessionTimeout, attrmap.AttrIdleTimeout:
		e, err1 := attrmap.ParseDuration(expected)
		a, err2 := attrmap.ParseDuration(actual)
		if err1 != nil || err2 != nil {
			return strings.TrimSpace(expected) == strings.TrimSpace(actual)
		}
		return withinTolerance(float64(e), float64(a), timeoutTolerance)
	case attrmap.AttrMaxTotalOctets, attrmap.AttrBandwidthDown, attrmap.AttrBandwidthUp:
		e, err1 := strconv.ParseInt(strings.TrimSpace(expected), 10, 64)
		a, err2 := strconv.ParseInt(strings.TrimSpace(actual), 10, 64)
		if err1 != nil || err2 != nil {
			return strings.TrimSpace(expected) == strings.TrimSpace(actual)
		}
		return withinTolerance(float64(e), float64(a), bytesTolerance)
	}
	return strings.TrimSpace(expected) == strings.TrimSpace(actual)
}

// NormalizeRateLimit rewrites every rate in a router rate-limit string to
// plain bits per second so "10M/5M", "10240k / 5M" and "10485760/5242880"
// compare equal. Tokens that are not rates are lower-cased and kept.
func NormalizeRateLimit(s string) string {
	var parts []string
	s = strings.ReplaceAll(strings.ReplaceAll(s, " /", "/"), "/ ", "/")
	for _, field := range strings.Fields(s) {
		var rates []string
		for _, tok := range strings.Split(field, "/") {
			tok = strings.TrimSpace(tok)
			if tok == "" {
				continue
			}
			if bps, ok := parseRate(tok); ok {
				rates = append(rates, strconv.FormatInt(bps, 10))
				continue
			}
			rates = append(rates, strings.ToLower(tok))
		}
		parts = append(parts, strings.Join(rates, "/"))
	}
	return strings.Join(parts, " ")
}

func parseRate(tok string) (int64, bool) {
	mult := int64(1)
	switch tok[len(tok)-1] {
	case 'k', 'K':
		mult = 1 << 10
	case 'm', 'M':
		mult = 1 << 20
	case 'g', 'G':
		mult = 1 << 30
	}
	if mult > 1 {
		tok = tok[:len(tok)-1]
	}
	v, err := strconv.ParseInt(tok, 10, 64)
	if err != nil || v < 0 {
		return 0, false
	}
	return v * mult, true
}

func withinTolerance(expected, actual, tol float64) bool {
	if expected == 0 {
		return actual == 0
	}
	return math.Abs(expected-actual)/math.Abs(expected) <= tol
}

func isZero(v string) bool {
	v = strings.TrimSpace(v)
	switch v {
	case "", "0", "0s", "none", "0/0":
		return true
	}
	return false
}
