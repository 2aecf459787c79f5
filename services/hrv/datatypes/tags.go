// Copyright (C) 2025 HRVBrain Project (dev@hrvbrain.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"fmt"
	"regexp"
	"strconv"
)

// Tag classifies a recording session into one of the four supported
// protocols.
//
//   - TagA: morning baseline reading, standalone or the "pre" half of a pair.
//   - TagB: evening baseline reading, standalone or the "post" half of a pair.
//   - TagC: one interval of a multi-part continuous recording (sleep night).
//     C sessions belong to an event group and carry an interval number.
//   - TagD: ad-hoc reading, standalone or attached to a named protocol.
type Tag string

const (
	TagA Tag = "A"
	TagB Tag = "B"
	TagC Tag = "C"
	TagD Tag = "D"
)

// AllTags lists every valid tag in a stable order.
func AllTags() []Tag {
	return []Tag{TagA, TagB, TagC, TagD}
}

// Valid reports whether t is one of the four known tags.
func (t Tag) Valid() bool {
	switch t {
	case TagA, TagB, TagC, TagD:
		return true
	}
	return false
}

// ParseTag converts a raw string into a Tag.
func ParseTag(s string) (Tag, error) {
	t := Tag(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown tag %q", s)
	}
	return t, nil
}

// Subtag grammar per tag. C and D carry open-ended suffixes (interval
// number, protocol slug); A and B are fixed literals.
var (
	subtagA        = regexp.MustCompile(`^A_(single|paired_pre)$`)
	subtagB        = regexp.MustCompile(`^B_(single|paired_post)$`)
	subtagC        = regexp.MustCompile(`^C_interval_([1-9][0-9]*)$`)
	subtagD        = regexp.MustCompile(`^D_(single|protocol_[a-z0-9_]+)$`)
	subtagPatterns = map[Tag]*regexp.Regexp{
		TagA: subtagA,
		TagB: subtagB,
		TagC: subtagC,
		TagD: subtagD,
	}
)

// ValidSubtag reports whether subtag matches the grammar of tag.
func ValidSubtag(tag Tag, subtag string) bool {
	re, ok := subtagPatterns[tag]
	if !ok {
		return false
	}
	return re.MatchString(subtag)
}

// IntervalFromSubtag extracts the 1-based interval number from a C subtag
// such as "C_interval_3". Returns 0, false when the subtag is not a valid
// C interval form.
func IntervalFromSubtag(subtag string) (int, bool) {
	m := subtagC.FindStringSubmatch(subtag)
	if m == nil {
		return 0, false
	}
	k, err := strconv.Atoi(m[1])
	if err != nil || k < 1 {
		return 0, false
	}
	return k, true
}
