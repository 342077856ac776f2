package analyzer

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/kiranshivaraju/handhunter/pkg/models"
)

var schemas = mustCompileSchemas()

func mustCompileSchemas() *payloadSchemas {
	s, err := compileSchemas()
	if err != nil {
		panic(err)
	}
	return s
}

// Parser turns arbitrarily chunked stream text into events. Incomplete
// trailing text is kept until a later chunk completes it.
type Parser struct {
	buf []byte
}

func NewParser() *Parser {
	return &Parser{}
}

var (
	crlf      = []byte("\r\n")
	lf        = []byte("\n")
	delimiter = []byte("\n\n")
)

// Feed appends chunk and returns every event it completed.
func (p *Parser) Feed(chunk []byte) []Event {
	p.buf = append(p.buf, chunk...)
	if bytes.Contains(p.buf, crlf) {
		p.buf = bytes.ReplaceAll(p.buf, crlf, lf)
	}

	var events []Event
	for {
		i := bytes.Index(p.buf, delimiter)
		if i < 0 {
			break
		}
		block := string(p.buf[:i])
		p.buf = p.buf[i+len(delimiter):]
		if ev := parseBlock(block); ev != nil {
			events = append(events, ev)
		}
	}
	if len(p.buf) == 0 {
		p.buf = nil
	}
	return events
}

// Pending reports how many bytes are waiting for a delimiter.
func (p *Parser) Pending() int {
	return len(p.buf)
}

// parseBlock returns nil for comments, blank blocks, events without data
// and event names it does not recognize.
func parseBlock(block string) Event {
	if strings.TrimSpace(block) == "" {
		return nil
	}

	var name string
	var data []string
	for _, line := range strings.Split(block, "\n") {
		switch {
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(line[len("event:"):])
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimSpace(line[len("data:"):]))
		}
	}
	payload := strings.Join(data, "\n")
	if name == "" || payload == "" {
		return nil
	}
	return decodeEvent(name, payload)
}

func decodeEvent(name, payload string) Event {
	malformed := func(err error) Event {
		return MalformedEvent{Event: name, Data: payload, Err: err}
	}

	switch name {
	case EventProgress:
		if err := validatePayload(schemas.progress, payload); err != nil {
			return malformed(err)
		}
		var v struct {
			Percent float64 `json:"percent"`
		}
		if err := json.Unmarshal([]byte(payload), &v); err != nil {
			return malformed(err)
		}
		return ProgressEvent{Percent: clampPercent(v.Percent)}

	case EventComplete:
		if err := validatePayload(schemas.complete, payload); err != nil {
			return malformed(err)
		}
		var v CompletePayload
		if err := json.Unmarshal([]byte(payload), &v); err != nil {
			return malformed(err)
		}
		return CompleteEvent{Hands: v.Hands}

	case EventError:
		return ErrorEvent{Message: errorMessage(payload), Raw: payload}
	}
	return nil
}

// CompletePayload is the body of a complete event.
type CompletePayload struct {
	Hands []models.ExtractedHand `json:"hands"`
}

func clampPercent(p float64) float64 {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}

// errorMessage pulls a human-readable message out of a free-form error payload.
func errorMessage(payload string) string {
	var v map[string]any
	if err := json.Unmarshal([]byte(payload), &v); err == nil {
		for _, k := range []string{"message", "error", "detail"} {
			if s, ok := v[k].(string); ok && s != "" {
				return s
			}
		}
	}
	var s string
	if err := json.Unmarshal([]byte(payload), &s); err == nil {
		return s
	}
	return payload
}

// Decoder reads events from a stream body.
type Decoder struct {
	r       io.Reader
	p       *Parser
	pending []Event
	buf     []byte
	err     error
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: r, p: NewParser(), buf: make([]byte, 32*1024)}
}

// Next returns the next event, or io.EOF once the stream has ended and
// every complete event has been returned. Trailing text without a closing
// blank line is discarded.
func (d *Decoder) Next() (Event, error) {
	for len(d.pending) == 0 {
		if d.err != nil {
			return nil, d.err
		}
		n, err := d.r.Read(d.buf)
		if n > 0 {
			d.pending = append(d.pending, d.p.Feed(d.buf[:n])...)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				d.err = io.EOF
			} else {
				d.err = fmt.Errorf("read event stream: %w", err)
			}
		}
	}
	ev := d.pending[0]
	d.pending = d.pending[1:]
	return ev, nil
}
