// Package blacklist decides whether an incoming call should be intercepted.
package blacklist

import (
	"sort"
	"strings"

	"github.com/bits-and-blooms/bloom/v3"
)

// bloomFPRate is the target false positive rate of the prefix reject filter.
const bloomFPRate = 0.001

// Blacklist is an immutable snapshot of blocked number prefixes and name
// substrings. A snapshot is built wholesale on load and replaced rather than
// mutated, so a concurrent reader never observes a half-updated list.
type Blacklist struct {
	numbers       map[string]struct{}
	prefixLengths []int // distinct, longest first
	reject        *bloom.BloomFilter
	names         []string
}

// Match identifies the entry that caused a call to be blocked.
type Match struct {
	Entry string
	Field string // "number" or "name"
}

// New builds a snapshot from number prefixes and name substrings. Empty
// entries are dropped since they would match every call. Names are
// normalized to upper case.
func New(numbers []string, names []string) *Blacklist {
	prefixes := make(map[string]struct{}, len(numbers))
	lengthSet := make(map[int]struct{})
	for _, number := range numbers {
		if number == "" {
			continue
		}
		prefixes[number] = struct{}{}
		lengthSet[len(number)] = struct{}{}
	}

	lengths := make([]int, 0, len(lengthSet))
	for l := range lengthSet {
		lengths = append(lengths, l)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(lengths)))

	size := uint(len(prefixes))
	if size == 0 {
		size = 1
	}
	reject := bloom.NewWithEstimates(size, bloomFPRate)
	for prefix := range prefixes {
		reject.AddString(prefix)
	}

	cleaned := make([]string, 0, len(names))
	for _, name := range names {
		if name == "" {
			continue
		}
		cleaned = append(cleaned, strings.ToUpper(name))
	}

	return &Blacklist{
		numbers:       prefixes,
		prefixLengths: lengths,
		reject:        reject,
		names:         cleaned,
	}
}

// Match reports whether a call with the given number and name is blocked.
// Number prefixes are checked first, case-sensitive; name substrings only
// when no prefix matched. Pure, no side effects.
func (b *Blacklist) Match(number string, name string) (Match, bool) {
	if entry, ok := b.matchNumber(number); ok {
		return Match{Entry: entry, Field: "number"}, true
	}
	if entry, ok := b.matchName(name); ok {
		return Match{Entry: entry, Field: "name"}, true
	}
	return Match{}, false
}

// matchNumber checks every candidate prefix length of the number, longest
// first. The bloom filter rejects most non-matches before the exact lookup.
func (b *Blacklist) matchNumber(number string) (string, bool) {
	for _, k := range b.prefixLengths {
		if k > len(number) {
			continue
		}
		prefix := number[:k]
		if !b.reject.TestString(prefix) {
			continue
		}
		if _, ok := b.numbers[prefix]; ok {
			return prefix, true
		}
	}
	return "", false
}

func (b *Blacklist) matchName(name string) (string, bool) {
	upper := strings.ToUpper(name)
	for _, entry := range b.names {
		if strings.Contains(upper, entry) {
			return entry, true
		}
	}
	return "", false
}

// NumberCount returns the number of blocked number prefixes.
func (b *Blacklist) NumberCount() int {
	return len(b.numbers)
}

// NameCount returns the number of blocked name substrings.
func (b *Blacklist) NameCount() int {
	return len(b.names)
}
