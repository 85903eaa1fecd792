package storage

import (
	"sort"
	"strings"
)

// SortEntries orders entries directories-first, then files, each group in
// case-insensitive name order. Ties on the folded name fall back to the raw
// name so the order is deterministic.
func SortEntries(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Type != b.Type {
			return a.Type == TypeDir
		}
		af, bf := strings.ToLower(a.Name), strings.ToLower(b.Name)
		if af != bf {
			return af < bf
		}
		return a.Name < b.Name
	})
}

// Page applies offset-then-limit slicing to sorted entries.
func Page(entries []Entry, opts ListOptions) []Entry {
	if opts.Offset > 0 {
		if opts.Offset >= len(entries) {
			return []Entry{}
		}
		entries = entries[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(entries) {
		entries = entries[:opts.Limit]
	}
	return entries
}
