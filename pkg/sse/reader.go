package sse

import (
	"bufio"
	"io"
	"strings"
)

// Reader parses an event stream. Comment frames are skipped.
type Reader struct {
	scanner *bufio.Scanner
}

// NewReader wraps r
func NewReader(r io.Reader) *Reader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	return &Reader{scanner: scanner}
}

// Next returns the next event. It returns io.EOF when the stream ends
// cleanly and io.ErrUnexpectedEOF when it ends mid-frame.
func (r *Reader) Next() (Event, error) {
	var (
		ev      Event
		data    []string
		pending bool
	)

	for r.scanner.Scan() {
		line := strings.TrimSuffix(r.scanner.Text(), "\r")

		if line == "" {
			if !pending {
				continue
			}
			ev.Data = []byte(strings.Join(data, "\n"))
			return ev, nil
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")

		switch field {
		case "data":
			data = append(data, value)
			pending = true
		case "event":
			ev.Name = value
			pending = true
		case "id":
			ev.ID = value
			pending = true
		}
	}

	if err := r.scanner.Err(); err != nil {
		return Event{}, err
	}
	if pending {
		return Event{}, io.ErrUnexpectedEOF
	}
	return Event{}, io.EOF
}
