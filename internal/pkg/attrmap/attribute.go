// Package attrmap translates policies into the attribute vocabularies of the
// AAA store and the router, and diffs attribute sets for reconciliation.
package attrmap

import "sort"

// Operator is an AAA attribute operator
type Operator string

const (
	OpSet   Operator = ":="
	OpEqual Operator = "=="
	OpReply Operator = "="
)

// Source says which provider table or view an attribute lives in
type Source string

const (
	SourceGroupReply Source = "group_reply"
	SourceGroupCheck Source = "group_check"
	SourceUserCheck  Source = "user_check"
	SourceRouter     Source = "router"
)

// Attribute names in the engine vocabulary
const (
	AttrBandwidthDown     = "WISPr-Bandwidth-Max-Down"
	AttrBandwidthUp       = "WISPr-Bandwidth-Max-Up"
	AttrRateLimit         = "Mikrotik-Rate-Limit"
	AttrSessionTimeout    = "Session-Timeout"
	AttrIdleTimeout       = "Idle-Timeout"
	AttrSimultaneousUse   = "Simultaneous-Use"
	AttrMaxTotalOctets    = "Max-Total-Octets"
	AttrCleartextPassword = "Cleartext-Password"
	AttrAuthType          = "Auth-Type"
	AttrHotspotProfile    = "Hotspot-Profile"
)

// AuthTypeReject is the Auth-Type value that blocks a credential
const AuthTypeReject = "Reject"

// Attribute is a single (name, operator, value) triple tagged with its source.
type Attribute struct {
	Name   string   `json:"name"`
	Op     Operator `json:"op"`
	Value  string   `json:"value"`
	Source Source   `json:"source"`
}

// Key identifies the attribute slot independent of its value.
func (a Attribute) Key() string {
	return string(a.Source) + "/" + a.Name
}

// AttributeSet is an ordered collection of attributes
type AttributeSet []Attribute

// Get returns the first attribute named name
func (s AttributeSet) Get(name string) (Attribute, bool) {
	for _, a := range s {
		if a.Name == name {
			return a, true
		}
	}
	return Attribute{}, false
}

// Has reports whether an attribute named name is present
func (s AttributeSet) Has(name string) bool {
	_, ok := s.Get(name)
	return ok
}

// Names returns the sorted attribute names
func (s AttributeSet) Names() []string {
	names := make([]string, 0, len(s))
	for _, a := range s {
		names = append(names, a.Name)
	}
	sort.Strings(names)
	return names
}

// Values flattens the set into name -> value
func (s AttributeSet) Values() map[string]string {
	out := make(map[string]string, len(s))
	for _, a := range s {
		out[a.Name] = a.Value
	}
	return out
}
