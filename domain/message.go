package domain

import (
	"fmt"

	"github.com/bytedance/sonic"
)

const (
	NewNoteOrEdit = "NEW_NOTE_OR_EDIT"
	MoveNote      = "MOVE_NOTE"
	ColorChange   = "COLOR_CHANGE"
	BoardState    = "BOARD_STATE"
	ErrorReply    = "ERROR"
)

// Mutation is a client-submitted intent to change board state.
type Mutation struct {
	Type    string  `json:"type"`
	NoteID  string  `json:"noteId"`
	Content *string `json:"content,omitempty"`
	Order   *int    `json:"order,omitempty"`
	Color   *string `json:"color,omitempty"`
}

// Message is the outbound envelope. Pointer fields are emitted whenever set,
// so empty content and order zero survive encoding.
type Message struct {
	Type    string  `json:"type"`
	NoteID  string  `json:"noteId,omitempty"`
	Content *string `json:"content,omitempty"`
	Order   *int    `json:"order,omitempty"`
	Color   string  `json:"color,omitempty"`
	Seq     uint64  `json:"seq,omitempty"`
	Code    string  `json:"code,omitempty"`
	Error   string  `json:"error,omitempty"`
}

type boardStateMessage struct {
	Type    string `json:"type"`
	BoardID string `json:"boardId"`
	Seq     uint64 `json:"seq"`
	Notes   []Note `json:"notes"`
}

// Event is published to the board event stream for every applied mutation.
// Note carries the full resulting state of the affected note.
type Event struct {
	ID      string `json:"id"`
	BoardID string `json:"boardId"`
	UserID  string `json:"userId"`
	Type    string `json:"type"`
	Seq     uint64 `json:"seq"`
	Note    Note   `json:"note"`
	Time    int64  `json:"time"`
}

// ParseMutation decodes an inbound frame. Any decoding failure is reported
// as ErrUnrecognizedMutation.
func ParseMutation(data []byte) (Mutation, error) {
	var m Mutation
	if err := sonic.ConfigStd.Unmarshal(data, &m); err != nil {
		return Mutation{}, fmt.Errorf("%w: %v", ErrUnrecognizedMutation, err)
	}
	return m, nil
}

func EncodeMessage(m Message) ([]byte, error) {
	return sonic.ConfigStd.Marshal(m)
}

// EncodeBoardState renders the snapshot sent to a session when it joins.
func EncodeBoardState(b *Board) ([]byte, error) {
	return sonic.ConfigStd.Marshal(boardStateMessage{
		Type:    BoardState,
		BoardID: b.ID,
		Seq:     b.Version,
		Notes:   b.Sorted(),
	})
}

// ErrorMessage builds the reply sent only to the session whose mutation failed.
func ErrorMessage(noteID string, err error) Message {
	return Message{Type: ErrorReply, NoteID: noteID, Code: ErrorCode(err), Error: err.Error()}
}

func EncodeEvent(ev Event) ([]byte, error) {
	return sonic.ConfigStd.Marshal(ev)
}

func DecodeEvent(data []byte) (Event, error) {
	var ev Event
	err := sonic.ConfigStd.Unmarshal(data, &ev)
	return ev, err
}
