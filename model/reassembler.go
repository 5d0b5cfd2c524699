package model

import (
	"bytes"
	"errors"
)

type (
	// Reassembler restores complete wire messages from a text stream with no
	// framing guarantee: a delivered chunk may carry zero, one or many JSON
	// objects, and an object may be split across chunks.
	Reassembler struct {
		buf []byte
	}
)

// NewReassembler creates a new Reassembler object.
func NewReassembler() *Reassembler {
	return &Reassembler{}
}

// Feed appends a transport chunk and returns every message completed by it,
// in arrival order. A malformed span is skipped one character at a time so it
// never blocks the messages behind it; spans with an unknown envelope tag are
// consumed and dropped.
func (r *Reassembler) Feed(chunk []byte) []Message {
	r.buf = append(r.buf, chunk...)

	var msgs []Message
	for {
		start := bytes.IndexByte(r.buf, '{')
		if start < 0 {
			r.buf = nil
			break
		}

		end, complete := scanBalancedObject(r.buf, start)
		if !complete {
			// Keep the unconsumed remainder for the next chunk.
			r.buf = append([]byte(nil), r.buf[start:]...)
			break
		}

		span := r.buf[start : end+1]
		msg, err := ParseMessage(span)
		if err != nil {
			if errors.Is(err, ErrUnknownMessage) {
				r.buf = r.buf[end+1:]
				continue
			}
			// One character forward to avoid an infinite loop on the span.
			r.buf = r.buf[start+1:]
			continue
		}

		msgs = append(msgs, msg)
		r.buf = r.buf[end+1:]
	}

	return msgs
}

// PendingBytes returns the size of the buffered incomplete remainder.
func (r *Reassembler) PendingBytes() int {
	return len(r.buf)
}

// scanBalancedObject returns the index of the brace closing the object
// starting at start. Braces inside JSON strings (including escaped quotes) do
// not affect the depth.
func scanBalancedObject(buf []byte, start int) (int, bool) {
	depth := 0
	inString, escaped := false, false

	for i := start; i < len(buf); i++ {
		c := buf[i]

		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}

	return 0, false
}
