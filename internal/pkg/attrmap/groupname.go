package attrmap

import (
	"strconv"
	"strings"
)

// MaxGroupNameLength is the AAA schema limit on group names
const MaxGroupNameLength = 64

// GroupName derives the stable AAA group and router profile name for a policy.
// The id prefix keeps names unique even when slugs collide or get truncated.
func GroupName(id uint, name string) string {
	prefix := "p" + strconv.FormatUint(uint64(id), 10)
	slug := Slugify(name)
	if slug == "" {
		return prefix
	}
	group := prefix + "-" + slug
	if len(group) > MaxGroupNameLength {
		group = strings.TrimRight(group[:MaxGroupNameLength], "-")
	}
	return group
}

// Slugify lowercases s and collapses every run of non [a-z0-9] characters to one dash
func Slugify(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimRight(b.String(), "-")
}
