// Package version classifies and orders release tags by semantic version
// precedence.
package version

import (
	"slices"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/pkghub/hubcap/internal/domain"
)

// Version is a release tag that parsed as a semantic version
type Version struct {
	original string
	sv       *semver.Version
}

// StripV removes a single leading "v"
func StripV(tag string) string {
	return strings.TrimPrefix(tag, "v")
}

// Parse classifies tag. A leading "v" is accepted and ignored.
func Parse(tag string) (*Version, error) {
	s := StripV(tag)
	if !domain.SemVerRegex.MatchString(s) {
		return nil, domain.Errorf(domain.KindVersion, "parse version", "%q is not a semantic version", tag)
	}
	sv, err := semver.StrictNewVersion(s)
	if err != nil {
		return nil, domain.Errorf(domain.KindVersion, "parse version", "%q: %w", tag, err)
	}
	return &Version{original: tag, sv: sv}, nil
}

// IsValid reports whether tag parses
func IsValid(tag string) bool {
	_, err := Parse(tag)
	return err == nil
}

// Original returns the tag as given to Parse
func (v *Version) Original() string { return v.original }

// String returns the version without the "v" prefix
func (v *Version) String() string { return StripV(v.original) }

func (v *Version) Major() uint64 { return v.sv.Major() }
func (v *Version) Minor() uint64 { return v.sv.Minor() }
func (v *Version) Patch() uint64 { return v.sv.Patch() }
func (v *Version) Prerelease() string { return v.sv.Prerelease() }
func (v *Version) Metadata() string { return v.sv.Metadata() }
func (v *Version) IsStable() bool { return v.sv.Prerelease() == "" }
func (v *Version) Equal(o *Version) bool { return v.Compare(o) == 0 }

// Compare orders by semver precedence. Build metadata is ignored.
func (v *Version) Compare(o *Version) int {
	return v.sv.Compare(o.sv)
}

// compareRaw breaks precedence ties on the tag text so ordering is total
func compareRaw(a, b *Version) int {
	if c := a.Compare(b); c != 0 {
		return c
	}
	return strings.Compare(a.original, b.original)
}

// ParseAll returns the tags that parse, dropping the rest
func ParseAll(tags []string) []*Version {
	out := make([]*Version, 0, len(tags))
	for _, t := range tags {
		if v, err := Parse(t); err == nil {
			out = append(out, v)
		}
	}
	return out
}

// FilterValid returns the distinct valid tags of tags in ascending order.
// The result does not depend on input order.
func FilterValid(tags []string) []string {
	vs := ParseAll(tags)
	slices.SortFunc(vs, compareRaw)
	vs = slices.CompactFunc(vs, func(a, b *Version) bool { return a.original == b.original })
	out := make([]string, len(vs))
	for i, v := range vs {
		out[i] = v.original
	}
	return out
}

// Sort orders valid tags ascending by precedence. Invalid tags are dropped.
func Sort(tags []string) []string {
	return FilterValid(tags)
}

// Canonical collapses tags naming the same version text with and without
// a "v" prefix, keeping the unprefixed form. Invalid tags are dropped and
// the result is ascending.
func Canonical(tags []string) []string {
	byKey := make(map[string]string, len(tags))
	for _, t := range FilterValid(tags) {
		key := StripV(t)
		if prev, ok := byKey[key]; ok && !strings.HasPrefix(prev, "v") {
			continue
		}
		byKey[key] = t
	}
	out := make([]string, 0, len(byKey))
	for _, t := range byKey {
		out = append(out, t)
	}
	return FilterValid(out)
}

// Latest picks the newest tag. Any stable release outranks every
// prerelease, so a final 1.2.2 beats 1.2.3-rc. Ties on precedence resolve
// to the lexically smallest tag.
func Latest(tags []string) (*Version, error) {
	if len(tags) == 0 {
		return nil, domain.Errorf(domain.KindVersion, "latest version", "no tags given")
	}
	vs := ParseAll(tags)
	if len(vs) == 0 {
		return nil, domain.Errorf(domain.KindVersion, "latest version", "none of %d tags is a semantic version", len(tags))
	}

	var best *Version
	for _, v := range vs {
		if best == nil || outranks(v, best) {
			best = v
		}
	}
	return best, nil
}

func outranks(a, b *Version) bool {
	if a.IsStable() != b.IsStable() {
		return a.IsStable()
	}
	if c := a.Compare(b); c != 0 {
		return c > 0
	}
	return a.original < b.original
}
