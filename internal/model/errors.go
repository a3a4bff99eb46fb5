package model

import (
	"encoding/json"
	"errors"

	"notiflow/internal/recurrence"
)

var (
	// ErrRejectedInput: malformed course identifier or a field the kind
	// requires is missing. The item is dropped, the batch continues.
	ErrRejectedInput = errors.New("rejected input")

	// ErrInvalidRecurrence: empty weekday set, non-positive interval.
	// Fatal for that one class meeting only.
	ErrInvalidRecurrence = recurrence.ErrInvalid

	// ErrEncodingFailure: an event failed validation at export time and
	// was left out of the calendar.
	ErrEncodingFailure = errors.New("encoding failure")

	// ErrDuplicate: the item shares its Key with an earlier one in the batch.
	ErrDuplicate = errors.New("duplicate event")
)

// Rejection pairs a dropped raw item with the reason it was dropped.
type Rejection struct {
	Item   any   `json:"item"`
	Reason error `json:"-"`
}

func (r Rejection) Error() string {
	if r.Reason == nil {
		return "rejected"
	}
	return r.Reason.Error()
}

func (r Rejection) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Item   any    `json:"item"`
		Reason string `json:"reason"`
	}{r.Item, r.Error()})
}

// Warning flags an accepted item with a suspicious field.
type Warning struct {
	Item    any    `json:"item"`
	Message string `json:"message"`
}
