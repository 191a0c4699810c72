package liveupdate

import (
	"bufio"
	"bytes"
	"io"
)

// rawEvent is one server-sent event as read off the wire.
type rawEvent struct {
	id   string
	name string
	data []byte
}

// eventReader parses a text/event-stream body one event at a time.
type eventReader struct {
	scanner *bufio.Scanner
}

func newEventReader(r io.Reader) *eventReader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), 1<<20)
	return &eventReader{scanner: sc}
}

// next returns the next complete event, or io.EOF when the stream ends.
// Comment lines (leading colon) and unknown fields are skipped per the
// event-stream format; multiple data lines are joined with newlines.
func (er *eventReader) next() (rawEvent, error) {
	var evt rawEvent
	var data [][]byte
	dispatchable := false

	for er.scanner.Scan() {
		line := er.scanner.Bytes()
		if len(line) == 0 {
			if dispatchable {
				evt.data = bytes.Join(data, []byte("\n"))
				return evt, nil
			}
			continue
		}
		if line[0] == ':' {
			continue
		}

		field, value := splitField(line)
		switch field {
		case "data":
			data = append(data, append([]byte(nil), value...))
			dispatchable = true
		case "id":
			evt.id = string(value)
			dispatchable = true
		case "event":
			evt.name = string(value)
			dispatchable = true
		}
	}

	if err := er.scanner.Err(); err != nil {
		return rawEvent{}, err
	}
	return rawEvent{}, io.EOF
}

func splitField(line []byte) (string, []byte) {
	i := bytes.IndexByte(line, ':')
	if i < 0 {
		return string(line), nil
	}
	value := line[i+1:]
	if len(value) > 0 && value[0] == ' ' {
		value = value[1:]
	}
	return string(line[:i]), value
}
