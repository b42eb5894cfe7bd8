package event

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/golang/snappy"

	"github.com/roach88/vmstate/internal/value"
)

// Source yields events in trace order. Next returns io.EOF after the last
// event.
type Source interface {
	Next() (Event, error)
}

// SliceSource replays a fixed slice of events.
type SliceSource struct {
	events []Event
	pos    int
}

// NewSliceSource returns a Source over events.
func NewSliceSource(events ...Event) *SliceSource {
	return &SliceSource{events: events}
}

// Next implements Source.
func (s *SliceSource) Next() (Event, error) {
	if s.pos >= len(s.events) {
		return Event{}, io.EOF
	}
	ev := s.events[s.pos]
	s.pos++
	return ev, nil
}

// wireEvent is the JSON-lines form of an event.
//
//	{"kind":"thread_start","ts":1000,"cpu":2,"fields":{"tid":10,"pid":100,"name":"worker"}}
type wireEvent struct {
	Kind   string                     `json:"kind"`
	TS     *json.Number               `json:"ts"`
	CPU    *json.Number               `json:"cpu,omitempty"`
	Fields map[string]json.RawMessage `json:"fields"`
}

// DecodeError reports one malformed line. The decoder can continue past it.
type DecodeError struct {
	Line int
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// maxLine bounds a single encoded event.
const maxLine = 4 << 20

// Decoder reads JSON-lines events. Blank lines and lines starting with '#'
// are skipped.
type Decoder struct {
	scanner *bufio.Scanner
	line    int
}

// NewDecoder returns a Decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLine)
	return &Decoder{scanner: sc}
}

// Line returns the line number of the last event returned.
func (d *Decoder) Line() int {
	return d.line
}

// Next implements Source.
func (d *Decoder) Next() (Event, error) {
	for d.scanner.Scan() {
		d.line++
		raw := bytes.TrimSpace(d.scanner.Bytes())
		if len(raw) == 0 || raw[0] == '#' {
			continue
		}
		ev, err := decodeLine(raw)
		if err != nil {
			return Event{}, &DecodeError{Line: d.line, Err: err}
		}
		return ev, nil
	}
	if err := d.scanner.Err(); err != nil {
		return Event{}, fmt.Errorf("read events: %w", err)
	}
	return Event{}, io.EOF
}

func decodeLine(raw []byte) (Event, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	dec.DisallowUnknownFields()

	var w wireEvent
	if err := dec.Decode(&w); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	if w.Kind == "" {
		return Event{}, errors.New("decode event: kind is required")
	}
	if w.TS == nil {
		return Event{}, fmt.Errorf("decode event %s: ts is required", w.Kind)
	}
	ts, err := w.TS.Int64()
	if err != nil {
		return Event{}, fmt.Errorf("decode event %s: ts %q is not an integer", w.Kind, w.TS.String())
	}

	ev := Event{Kind: w.Kind, Timestamp: ts, CPU: NoCPU, Fields: make(map[string]value.Value, len(w.Fields))}
	if w.CPU != nil {
		cpu, err := w.CPU.Int64()
		if err != nil || cpu < 0 {
			return Event{}, fmt.Errorf("decode event %s: cpu %q is not a non-negative integer", w.Kind, w.CPU.String())
		}
		ev.CPU = int(cpu)
	}
	for name, rawField := range w.Fields {
		v, err := value.Unmarshal(rawField)
		if err != nil {
			return Event{}, fmt.Errorf("decode event %s: field %q: %w", w.Kind, name, err)
		}
		ev.Fields[name] = v
	}
	return ev, nil
}

// Encode writes ev as one JSON line.
func Encode(w io.Writer, ev Event) error {
	fields := make(map[string]any, len(ev.Fields))
	for k, v := range ev.Fields {
		fields[k] = v
	}
	doc := map[string]any{
		"kind":   ev.Kind,
		"ts":     ev.Timestamp,
		"fields": fields,
	}
	if ev.CPU >= 0 {
		doc["cpu"] = ev.CPU
	}
	line, err := value.MarshalCanonical(doc)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", ev.Kind, err)
	}
	line = append(line, '\n')
	_, err = w.Write(line)
	return err
}

// SnappySuffix marks event files stored in the snappy framing format.
const SnappySuffix = ".sz"

// File is an event Source backed by a file on disk.
type File struct {
	*Decoder
	f *os.File
}

// OpenFile opens a JSON-lines event file. Files ending in ".sz" are
// decompressed with snappy.
func OpenFile(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open events: %w", err)
	}
	var r io.Reader = f
	if strings.HasSuffix(path, SnappySuffix) {
		r = snappy.NewReader(f)
	}
	return &File{Decoder: NewDecoder(r), f: f}, nil
}

// Close closes the underlying file.
func (f *File) Close() error {
	return f.f.Close()
}
