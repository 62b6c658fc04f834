package domain

import (
	"slices"
	"strings"
)

// DefaultColor is assigned to notes created without an explicit color.
const DefaultColor = "#feff9c"

// Note is a single editable, colorable, positionable unit of content on a board.
type Note struct {
	ID      string `json:"noteId"`
	Content string `json:"content"`
	Color   string `json:"color"`
	Order   int    `json:"order"`
}

// Board is an immutable snapshot of a board's notes. Every applied mutation
// produces a new Board with Version incremented by one.
type Board struct {
	ID      string
	Version uint64
	Notes   map[string]Note
}

func NewBoard(id string) *Board {
	return &Board{ID: id, Notes: map[string]Note{}}
}

// Note returns the note with the given id.
func (b *Board) Note(id string) (Note, bool) {
	n, ok := b.Notes[id]
	return n, ok
}

func (b *Board) Len() int { return len(b.Notes) }

// Sorted returns the board's notes ordered by Order, ties broken by ID.
func (b *Board) Sorted() []Note {
	notes := make([]Note, 0, len(b.Notes))
	for _, n := range b.Notes {
		notes = append(notes, n)
	}
	slices.SortFunc(notes, compareNotes)
	return notes
}

func compareNotes(a, b Note) int {
	if a.Order != b.Order {
		if a.Order < b.Order {
			return -1
		}
		return 1
	}
	return strings.Compare(a.ID, b.ID)
}

// with returns a copy of b carrying n and the next version.
func (b *Board) with(n Note) *Board {
	notes := make(map[string]Note, len(b.Notes)+1)
	for id, existing := range b.Notes {
		notes[id] = existing
	}
	notes[n.ID] = n
	return &Board{ID: b.ID, Version: b.Version + 1, Notes: notes}
}
