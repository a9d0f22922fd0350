// Package parser classifies the free-text message field of a Decode
// packet into a REPLY, CQ, or no match, in that priority order.
package parser

import (
	"regexp"
)

// Kind identifies which pattern matched.
type Kind int

const (
	NoMatch Kind = iota
	Reply
	CQ
)

// Result is the outcome of parsing one on-air message.
type Result struct {
	Kind  Kind
	To    string // REPLY only: the station being addressed
	Call  string // the originating/calling station
	Extra string // CQ only: free-text tag ("DX", "POTA", a continent code); empty if absent
	Grid  string // CQ only: 4-character Maidenhead locator; empty for a broken CQ
}

var (
	cqPattern       = regexp.MustCompile(`^CQ (?:CQ |(?P<extra>\S+) |)(?P<call>\w+(?:/\w+)?) (?P<grid>[A-Z]{2}[0-9]{2})`)
	brokenCQPattern = regexp.MustCompile(`^CQ (?P<call>\w+(?:/\w+)?)$`)
)

// replyPatternStrict must never match a message beginning with "CQ";
// RE2 has no negative lookahead, so the exclusion is applied as a
// precondition instead of inside the pattern.
var replyPatternStrict = regexp.MustCompile(`^(?P<to>\w+)(?:/\w+)? (?P<call>\w+)(?:/\w+)? .*`)

// Parse classifies message, trying REPLY, then CQ, then BROKENCQ, in that
// order; the first match wins. An unparseable message yields NoMatch,
// which the sequencer treats as "ignore" rather than an error.
func Parse(message string) Result {
	if !startsWithCQ(message) {
		if m := replyPatternStrict.FindStringSubmatch(message); m != nil {
			return Result{Kind: Reply, To: namedGroup(replyPatternStrict, m, "to"), Call: namedGroup(replyPatternStrict, m, "call")}
		}
	}

	if m := cqPattern.FindStringSubmatch(message); m != nil {
		return Result{
			Kind:  CQ,
			Call:  namedGroup(cqPattern, m, "call"),
			Extra: namedGroup(cqPattern, m, "extra"),
			Grid:  namedGroup(cqPattern, m, "grid"),
		}
	}

	if m := brokenCQPattern.FindStringSubmatch(message); m != nil {
		// Normalized to CQ with no extra tag and no grid.
		return Result{Kind: CQ, Call: namedGroup(brokenCQPattern, m, "call")}
	}

	return Result{Kind: NoMatch}
}

func startsWithCQ(message string) bool {
	return len(message) >= 2 && message[0] == 'C' && message[1] == 'Q'
}

func namedGroup(re *regexp.Regexp, match []string, name string) string {
	for i, n := range re.SubexpNames() {
		if n == name && i < len(match) {
			return match[i]
		}
	}
	return ""
}
