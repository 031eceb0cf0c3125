package authz

import "strings"

// MatchPattern reports whether an ant-style pattern matches the given
// request key. Within a single path segment, '?' matches one character and
// '*' matches any run of characters; a segment of exactly "**" matches
// zero or more whole segments. Matching is exact otherwise: no case
// folding, no trailing-slash normalisation.
func MatchPattern(pattern, key string) bool {
	return matchSegments(
		strings.Split(pattern, "/"),
		strings.Split(key, "/"),
	)
}

func matchSegments(pattern, key []string) bool {
	if len(pattern) == 0 {
		return len(key) == 0
	}

	if pattern[0] == "**" {
		// greedily consume zero or more segments, backtracking until the
		// remainder of the pattern matches
		for skip := 0; skip <= len(key); skip++ {
			if matchSegments(pattern[1:], key[skip:]) {
				return true
			}
		}
		return false
	}

	if len(key) == 0 {
		return false
	}

	return matchSegment(pattern[0], key[0]) && matchSegments(pattern[1:], key[1:])
}

// matchSegment matches a single segment with '*' and '?' wildcards, using
// the standard backtracking approach: remember the most recent '*' and
// rewind to it on mismatch.
func matchSegment(pattern, segment string) bool {
	var p, s int
	starP, starS := -1, 0

	for s < len(segment) {
		switch {
		case p < len(pattern) && (pattern[p] == '?' || pattern[p] == segment[s]):
			p++
			s++
		case p < len(pattern) && pattern[p] == '*':
			starP, starS = p, s
			p++
		case starP >= 0:
			starS++
			p, s = starP+1, starS
		default:
			return false
		}
	}

	for p < len(pattern) && pattern[p] == '*' {
		p++
	}

	return p == len(pattern)
}
