// Package extract splits a raw model text stream into visible and reasoning
// sub-streams by scanning for configurable thinking-tag pairs. The scanner is
// incremental: a tag may arrive split across any number of chunks.
package extract

import (
	"strings"
	"time"
)

// TagPair is one (open, close) tag vocabulary entry.
type TagPair struct {
	Start string
	End   string
}

// DefaultTagPairs covers the tag vocabularies seen across open-weight models.
// Longer variants come first so "<thinking>" is not swallowed by "<think>".
var DefaultTagPairs = []TagPair{
	{Start: "<thinking>", End: "</thinking>"},
	{Start: "<think>", End: "</think>"},
	{Start: "<reasoning>", End: "</reasoning>"},
	{Start: "<reason>", End: "</reason>"},
}

// State survives across chunks for the lifetime of one response.
// Invariant: EndTag != "" iff InTag.
type State struct {
	InTag     bool
	EndTag    string
	EnteredAt *time.Time

	// carry holds text that may be the prefix of a tag split across chunks.
	carry string
}

// Reset clears the state for a new response.
func (s *State) Reset() {
	s.InTag = false
	s.EndTag = ""
	s.EnteredAt = nil
	s.carry = ""
}

// Extract consumes one chunk and returns the visible and reasoning deltas,
// plus whether a tag was entered or exited during this call. Text held back
// as a possible partial tag is carried into the next call, so concatenated
// outputs are identical however the input is split.
func Extract(chunk string, pairs []TagPair, st *State) (visible, reasoning string, started, ended bool) {
	if st == nil {
		return chunk, "", false, false
	}
	rest := st.carry + chunk
	st.carry = ""

	var vis, rea strings.Builder
	for rest != "" {
		if !st.InTag {
			idx, pair := earliestStart(rest, pairs)
			if idx >= 0 {
				vis.WriteString(rest[:idx])
				rest = rest[idx+len(pair.Start):]
				st.InTag = true
				st.EndTag = pair.End
				started = true
				if st.EnteredAt == nil {
					now := time.Now()
					st.EnteredAt = &now
				}
				continue
			}
			hold := holdback(rest, startTokens(pairs))
			vis.WriteString(rest[:len(rest)-hold])
			st.carry = rest[len(rest)-hold:]
			rest = ""
			continue
		}

		if idx := strings.Index(rest, st.EndTag); idx >= 0 {
			rea.WriteString(rest[:idx])
			rest = rest[idx+len(st.EndTag):]
			st.InTag = false
			st.EndTag = ""
			ended = true
			continue
		}
		hold := holdback(rest, []string{st.EndTag})
		rea.WriteString(rest[:len(rest)-hold])
		st.carry = rest[len(rest)-hold:]
		rest = ""
	}

	return vis.String(), rea.String(), started, ended
}

// Drain flushes any held-back text at end of stream. Inside an unterminated
// tag the residue counts as reasoning, outside it counts as visible.
func Drain(st *State) (visible, reasoning string) {
	if st == nil || st.carry == "" {
		return "", ""
	}
	out := st.carry
	st.carry = ""
	if st.InTag {
		return "", out
	}
	return out, ""
}

// earliestStart returns the position and pair of the first open tag in s.
// Ties on position resolve to the first configured pair.
func earliestStart(s string, pairs []TagPair) (int, TagPair) {
	best := -1
	var bestPair TagPair
	for _, p := range pairs {
		if p.Start == "" {
			continue
		}
		if i := strings.Index(s, p.Start); i >= 0 && (best < 0 || i < best) {
			best = i
			bestPair = p
		}
	}
	return best, bestPair
}

func startTokens(pairs []TagPair) []string {
	out := make([]string, 0, len(pairs))
	for _, p := range pairs {
		if p.Start != "" {
			out = append(out, p.Start)
		}
	}
	return out
}

// holdback returns the length of the longest suffix of s that is a strict
// prefix of any token, i.e. text that might become a tag once more arrives.
func holdback(s string, tokens []string) int {
	max := 0
	for _, tok := range tokens {
		lim := len(tok) - 1
		if lim > len(s) {
			lim = len(s)
		}
		for n := lim; n > max; n-- {
			if strings.HasPrefix(tok, s[len(s)-n:]) {
				max = n
				break
			}
		}
	}
	return max
}
