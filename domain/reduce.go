package domain

import "fmt"

// Reduce applies m to b and returns the next board state together with the
// messages to broadcast. b is never modified. On error the returned board is
// nil and there is nothing to broadcast.
//
// Conflicts resolve last-writer-wins per field: concurrent edits to the same
// note's content are not merged, the most recently applied one is kept.
func Reduce(b *Board, m Mutation) (*Board, []Message, error) {
	if m.NoteID == "" {
		return nil, nil, fmt.Errorf("%w: %s without noteId", ErrUnrecognizedMutation, m.Type)
	}
	switch m.Type {
	case NewNoteOrEdit:
		if m.Content == nil {
			return nil, nil, fmt.Errorf("%w: %s without content", ErrUnrecognizedMutation, m.Type)
		}
		n, ok := b.Note(m.NoteID)
		if !ok {
			n = Note{ID: m.NoteID, Color: DefaultColor, Order: b.Len() + 1}
		}
		n.Content = *m.Content
		next := b.with(n)
		content := n.Content
		return next, []Message{{Type: NewNoteOrEdit, NoteID: n.ID, Content: &content, Seq: next.Version}}, nil
	case MoveNote:
		if m.Order == nil {
			return nil, nil, fmt.Errorf("%w: %s without order", ErrUnrecognizedMutation, m.Type)
		}
		n, ok := b.Note(m.NoteID)
		if !ok {
			return nil, nil, fmt.Errorf("%w: %s", ErrUnknownNote, m.NoteID)
		}
		n.Order = *m.Order
		next := b.with(n)
		order := n.Order
		return next, []Message{{Type: MoveNote, NoteID: n.ID, Order: &order, Seq: next.Version}}, nil
	case ColorChange:
		if m.Color == nil || *m.Color == "" {
			return nil, nil, fmt.Errorf("%w: %s without color", ErrUnrecognizedMutation, m.Type)
		}
		n, ok := b.Note(m.NoteID)
		if !ok {
			return nil, nil, fmt.Errorf("%w: %s", ErrUnknownNote, m.NoteID)
		}
		n.Color = *m.Color
		next := b.with(n)
		return next, []Message{{Type: ColorChange, NoteID: n.ID, Color: n.Color, Seq: next.Version}}, nil
	default:
		return nil, nil, fmt.Errorf("%w: type %q", ErrUnrecognizedMutation, m.Type)
	}
}
