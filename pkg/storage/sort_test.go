package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSortEntries(t *testing.T) {
	entries := []Entry{
		{Name: "zeta.txt", Type: TypeFile},
		{Name: "Alpha", Type: TypeDir},
		{Name: "beta.txt", Type: TypeFile},
		{Name: "gamma", Type: TypeDir},
		{Name: "ALPHA.txt", Type: TypeFile},
	}
	SortEntries(entries)

	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name
	}
	assert.Equal(t, []string{"Alpha", "gamma", "ALPHA.txt", "beta.txt", "zeta.txt"}, names)
}

func TestPage(t *testing.T) {
	entries := []Entry{{Name: "a"}, {Name: "b"}, {Name: "c"}, {Name: "d"}}

	assert.Len(t, Page(entries, ListOptions{}), 4)
	assert.Equal(t, "c", Page(entries, ListOptions{Offset: 2})[0].Name)
	assert.Len(t, Page(entries, ListOptions{Limit: 2}), 2)
	assert.Len(t, Page(entries, ListOptions{Offset: 3, Limit: 5}), 1)
	assert.Empty(t, Page(entries, ListOptions{Offset: 10}))
}
