package notify

import (
	"bufio"
	"io"
	"strconv"
	"strings"
	"time"
)

const maxEventLine = 1 << 20

// Event is one dispatched server-sent event.
type Event struct {
	ID    string
	Name  string
	Data  string
	Retry time.Duration
}

// decoder reads text/event-stream framing. The last seen id carries over to
// later events that do not set one, as browsers do.
type decoder struct {
	scanner *bufio.Scanner
	lastID  string
}

func newDecoder(r io.Reader) *decoder {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), maxEventLine)
	return &decoder{scanner: scanner}
}

// Next blocks until a complete event arrives. Comment lines such as ":hb"
// heartbeats and blocks without data are skipped.
func (d *decoder) Next() (Event, error) {
	var (
		name    string
		data    strings.Builder
		hasData bool
		retry   time.Duration
	)

	for d.scanner.Scan() {
		line := d.scanner.Text()
		if line == "" {
			if !hasData {
				name, retry = "", 0
				continue
			}
			if name == "" {
				name = "message"
			}
			return Event{ID: d.lastID, Name: name, Data: data.String(), Retry: retry}, nil
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			name = value
		case "data":
			if hasData {
				data.WriteByte('\n')
			}
			data.WriteString(value)
			hasData = true
		case "id":
			if !strings.ContainsRune(value, 0) {
				d.lastID = value
			}
		case "retry":
			if ms, err := strconv.Atoi(value); err == nil && ms >= 0 {
				retry = time.Duration(ms) * time.Millisecond
			}
		}
	}

	if err := d.scanner.Err(); err != nil {
		return Event{}, err
	}
	return Event{}, io.EOF
}
