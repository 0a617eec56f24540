package arduino

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/nerrad567/ccbc-core/internal/brewery"
)

// RecordCategory identifies what a device line describes. Categories are
// matched case-insensitively and stored lower-case.
type RecordCategory string

// Device record categories.
const (
	CategoryTSensor    RecordCategory = "tsensor"
	CategoryHeater     RecordCategory = "heater"
	CategoryAnalogPin  RecordCategory = "analogpin"
	CategoryDigitalPin RecordCategory = "digitalpin"
)

// wireNames are the spellings the firmware uses.
var wireNames = map[RecordCategory]string{
	CategoryTSensor:    "Tsensor",
	CategoryHeater:     "heater",
	CategoryAnalogPin:  "analogpin",
	CategoryDigitalPin: "digitalpin",
}

// WireName returns the category as the firmware spells it.
func (c RecordCategory) WireName() string {
	if n, ok := wireNames[c]; ok {
		return n
	}
	return string(c)
}

func parseRecordCategory(s string) (RecordCategory, bool) {
	c := RecordCategory(strings.ToLower(strings.TrimSpace(s)))
	_, ok := wireNames[c]
	return c, ok
}

// Framing records how a line was delimited on the wire.
type Framing int

const (
	// FramingPlain is category:k=v;k=v
	FramingPlain Framing = iota
	// FramingBracketed is <category:k=v,k=v>
	FramingBracketed
)

// Wire-level constants.
const (
	// commandTerminator ends every host-to-device message.
	commandTerminator = '#'

	// floatTolerance is the slack allowed when comparing device-reported
	// numbers, which the firmware prints with two decimals.
	floatTolerance = 0.005
)

// DumpRequest asks the device to print every sensor and actuator line.
var DumpRequest = []byte("!")

// Record is one decoded device line.
type Record struct {
	Category RecordCategory
	Fields   map[string]string

	// Keys holds field names in wire order.
	Keys []string

	Framing Framing
}

// Get returns a field value.
func (r Record) Get(key string) (string, bool) {
	v, ok := r.Fields[key]
	return v, ok
}

// First returns the value of the first key present. Used where old and new
// firmware name the same field differently.
func (r Record) First(keys ...string) (string, bool) {
	for _, k := range keys {
		if v, ok := r.Fields[k]; ok {
			return v, true
		}
	}
	return "", false
}

// Float parses the first present key as a finite float.
func (r Record) Float(keys ...string) (float64, error) {
	raw, ok := r.First(keys...)
	if !ok {
		return 0, fmt.Errorf("missing field %s", strings.Join(keys, "/"))
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, fmt.Errorf("field %s=%q: %w", keys[0], raw, err)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("field %s=%q is not finite", keys[0], raw)
	}
	return f, nil
}

// Int parses the first present key as an integer.
func (r Record) Int(keys ...string) (int, error) {
	raw, ok := r.First(keys...)
	if !ok {
		return 0, fmt.Errorf("missing field %s", strings.Join(keys, "/"))
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("field %s=%q: %w", keys[0], raw, err)
	}
	return n, nil
}

// DecodeLine parses a single device line.
//
// Both framings are accepted: "Tsensor:index=0;serial=28FF...;cur_temp=66.4"
// and "<Tsensor:name=Temp1,serial_num=28FF...,value=66.4>". The field
// separator is ';' if the payload contains one, otherwise ','. A trailing
// '#' is ignored so host commands decode too. Values are left as strings.
//
// Returns a *ParseError wrapping ErrMalformed or ErrUnknownCategory.
func DecodeLine(line string) (Record, error) {
	s := strings.TrimSpace(line)
	s = strings.TrimSuffix(s, string(commandTerminator))

	framing := FramingPlain
	switch {
	case strings.HasPrefix(s, "<") && strings.HasSuffix(s, ">"):
		s = s[1 : len(s)-1]
		framing = FramingBracketed
	case strings.HasPrefix(s, "<"), strings.HasSuffix(s, ">"):
		return Record{}, &ParseError{Kind: Malformed, Line: line, Detail: "unbalanced frame brackets"}
	}

	head, payload, ok := strings.Cut(s, ":")
	if !ok {
		return Record{}, &ParseError{Kind: Malformed, Line: line, Detail: "missing ':' after category"}
	}
	cat, known := parseRecordCategory(head)
	if !known {
		return Record{}, &ParseError{Kind: UnknownCategory, Line: line, Detail: fmt.Sprintf("category %q", head)}
	}

	fields, keys, err := decodeFields(payload)
	if err != nil {
		return Record{}, &ParseError{Kind: Malformed, Line: line, Detail: err.Error()}
	}

	return Record{Category: cat, Fields: fields, Keys: keys, Framing: framing}, nil
}

func decodeFields(payload string) (map[string]string, []string, error) {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return nil, nil, fmt.Errorf("empty payload")
	}

	sep := ","
	if strings.Contains(payload, ";") {
		sep = ";"
	}

	fields := make(map[string]string)
	var keys []string
	for _, pair := range strings.Split(payload, sep) {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		k, v, ok := strings.Cut(pair, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, nil, fmt.Errorf("pair %q is not key=value", pair)
		}
		if _, dup := fields[k]; !dup {
			keys = append(keys, k)
		}
		fields[k] = strings.TrimSpace(v)
	}
	if len(fields) == 0 {
		return nil, nil, fmt.Errorf("no key=value pairs")
	}
	return fields, keys, nil
}

// SplitFrames breaks a line holding several bracketed frames
// ("<a:..><..>") into one string per frame. Other lines are returned as is.
func SplitFrames(line string) []string {
	s := strings.TrimSpace(line)
	if !strings.HasPrefix(s, "<") || !strings.Contains(s, "><") {
		return []string{s}
	}
	parts := strings.Split(s, "><")
	for i, p := range parts {
		if i > 0 {
			p = "<" + p
		}
		if i < len(parts)-1 {
			p += ">"
		}
		parts[i] = p
	}
	return parts
}

// DecodeFrames decodes every frame on a line. Frames after the first that
// carry no category inherit the first frame's, as older firmware printed
// all temperature probes on one line behind a single "Tsensor:" prefix.
// Decoding continues past bad frames; their errors are returned alongside
// the good records.
func DecodeFrames(line string) ([]Record, []error) {
	frames := SplitFrames(line)
	records := make([]Record, 0, len(frames))
	var errs []error

	var inherited RecordCategory
	for i, frame := range frames {
		if i > 0 && inherited != "" && !hasCategory(frame) {
			inner := strings.TrimSuffix(strings.TrimPrefix(frame, "<"), ">")
			frame = "<" + inherited.WireName() + ":" + inner + ">"
		}
		rec, err := DecodeLine(frame)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if i == 0 {
			inherited = rec.Category
		}
		records = append(records, rec)
	}
	return records, errs
}

// hasCategory reports whether a frame has a category prefix, i.e. a ':'
// before the first '='.
func hasCategory(frame string) bool {
	colon := strings.IndexByte(frame, ':')
	if colon < 0 {
		return false
	}
	eq := strings.IndexByte(frame, '=')
	return eq < 0 || colon < eq
}

// FormatFloat renders v the way the firmware parses it: shortest decimal
// form with at least one fractional digit (128.0, 99.9).
func FormatFloat(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

// EncodeStatusCommand builds a digital output command, e.g. "4=ON#".
func EncodeStatusCommand(pin int, status brewery.Status) []byte {
	return []byte(fmt.Sprintf("%d=%s%c", pin, status, commandTerminator))
}

// EncodeFieldUpdate builds a device configuration update, e.g.
// "heater:index=0;setpoint_high=128.0#".
func EncodeFieldUpdate(category RecordCategory, index int, field, value string) []byte {
	return []byte(fmt.Sprintf("%s:index=%d;%s=%s%c", category.WireName(), index, field, value, commandTerminator))
}

// EncodeRecord renders a record as "category:k=v;k=v#". Fields follow
// r.Keys when set, otherwise sorted key order.
func EncodeRecord(r Record) []byte {
	keys := r.Keys
	if len(keys) == 0 {
		keys = make([]string, 0, len(r.Fields))
		for k := range r.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
	}

	var b strings.Builder
	b.WriteString(r.Category.WireName())
	b.WriteByte(':')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(';')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(r.Fields[k])
	}
	b.WriteByte(commandTerminator)
	return []byte(b.String())
}
