// Package playback tracks which queue entry a client is playing. The cursor
// is local to one client and is never shared with the room.
package playback

import (
	"errors"
	"fmt"
)

// None is the index of a cursor that points at nothing.
const None = -1

var ErrOutOfRange = errors.New("index out of range")

// Cursor is an index into the latest queue snapshot. The zero value is not
// usable; call New.
type Cursor struct {
	index  int
	length int
}

func New() *Cursor {
	return &Cursor{index: None}
}

// Index returns the current position, or None.
func (c *Cursor) Index() int {
	return c.index
}

func (c *Cursor) Len() int {
	return c.length
}

// Select points the cursor at i.
func (c *Cursor) Select(i int) error {
	if i < 0 || i >= c.length {
		return fmt.Errorf("%w: %d of %d", ErrOutOfRange, i, c.length)
	}
	c.index = i
	return nil
}

// Next advances, wrapping from the last entry to the first. It reports false
// when the queue is empty.
func (c *Cursor) Next() bool {
	if c.length == 0 {
		return false
	}
	if c.index == None {
		c.index = 0
		return true
	}
	c.index = (c.index + 1) % c.length
	return true
}

// Previous steps back, wrapping from the first entry to the last.
func (c *Cursor) Previous() bool {
	if c.length == 0 {
		return false
	}
	if c.index == None {
		c.index = c.length - 1
		return true
	}
	c.index = (c.index - 1 + c.length) % c.length
	return true
}

// Ended advances after the current track finishes playing.
func (c *Cursor) Ended() bool {
	return c.Next()
}

// Sync adopts the length of a new queue snapshot. An index past the end is
// clamped to the last entry; an empty queue resets to None. A cursor that
// is None stays None until something is selected.
func (c *Cursor) Sync(length int) {
	if length < 0 {
		length = 0
	}
	c.length = length
	switch {
	case length == 0:
		c.index = None
	case c.index >= length:
		c.index = length - 1
	}
}
