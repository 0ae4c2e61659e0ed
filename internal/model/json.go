package model

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"

	"github.com/goccy/go-json"
)

type JSONKind uint8

const (
	JSONNull JSONKind = iota
	JSONBool
	JSONNumber
	JSONString
	JSONArray
	JSONObject
)

// JSON is an untyped payload value. Numbers keep their literal text so that
// re-rendering never changes them.
type JSON struct {
	kind JSONKind
	b    bool
	s    string // string payload or number literal
	arr  []JSON
	obj  map[string]JSON
}

func NullJSON() JSON             { return JSON{} }
func BoolJSON(b bool) JSON       { return JSON{kind: JSONBool, b: b} }
func StringJSON(s string) JSON   { return JSON{kind: JSONString, s: s} }
func ArrayJSON(v ...JSON) JSON   { return JSON{kind: JSONArray, arr: v} }
func NumberJSON(lit string) JSON { return JSON{kind: JSONNumber, s: lit} }

func IntJSON(n int64) JSON { return NumberJSON(strconv.FormatInt(n, 10)) }

func ObjectJSON(m map[string]JSON) JSON {
	if m == nil {
		m = map[string]JSON{}
	}
	return JSON{kind: JSONObject, obj: m}
}

func (v JSON) Kind() JSONKind { return v.kind }
func (v JSON) IsNull() bool   { return v.kind == JSONNull }

func (v JSON) Bool() (bool, bool) { return v.b, v.kind == JSONBool }

func (v JSON) AsString() (string, bool) {
	if v.kind != JSONString {
		return "", false
	}
	return v.s, true
}

func (v JSON) Int() (int64, bool) {
	if v.kind != JSONNumber {
		return 0, false
	}
	if n, err := strconv.ParseInt(v.s, 10, 64); err == nil {
		return n, true
	}
	f, err := strconv.ParseFloat(v.s, 64)
	if err != nil {
		return 0, false
	}
	return int64(f), true
}

func (v JSON) Array() []JSON { return v.arr }

// Get returns the member named key of an object value.
func (v JSON) Get(key string) (JSON, bool) {
	if v.kind != JSONObject {
		return JSON{}, false
	}
	m, ok := v.obj[key]
	return m, ok
}

// Path walks nested objects.
func (v JSON) Path(keys ...string) (JSON, bool) {
	cur := v
	for _, k := range keys {
		next, ok := cur.Get(k)
		if !ok {
			return JSON{}, false
		}
		cur = next
	}
	return cur, true
}

// Keys returns object member names in sorted order.
func (v JSON) Keys() []string {
	if v.kind != JSONObject {
		return nil
	}
	keys := make([]string, 0, len(v.obj))
	for k := range v.obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Text returns the raw string for string values and the canonical rendering
// for everything else. Null renders as the empty string.
func (v JSON) Text() string {
	switch v.kind {
	case JSONNull:
		return ""
	case JSONString:
		return v.s
	default:
		return v.Canonical()
	}
}

// Canonical renders v deterministically: object keys sorted, no whitespace.
func (v JSON) Canonical() string {
	var buf bytes.Buffer
	v.writeCanonical(&buf)
	return buf.String()
}

func (v JSON) writeCanonical(buf *bytes.Buffer) {
	switch v.kind {
	case JSONNull:
		buf.WriteString("null")
	case JSONBool:
		buf.WriteString(strconv.FormatBool(v.b))
	case JSONNumber:
		buf.WriteString(v.s)
	case JSONString:
		writeQuoted(buf, v.s)
	case JSONArray:
		buf.WriteByte('[')
		for i, e := range v.arr {
			if i > 0 {
				buf.WriteByte(',')
			}
			e.writeCanonical(buf)
		}
		buf.WriteByte(']')
	case JSONObject:
		buf.WriteByte('{')
		for i, k := range v.Keys() {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeQuoted(buf, k)
			buf.WriteByte(':')
			v.obj[k].writeCanonical(buf)
		}
		buf.WriteByte('}')
	}
}

func writeQuoted(buf *bytes.Buffer, s string) {
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(s)
	// Encode appends a newline
	buf.Truncate(buf.Len() - 1)
}

func (v JSON) MarshalJSON() ([]byte, error) {
	return []byte(v.Canonical()), nil
}

func (v *JSON) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	out, err := fromAny(raw)
	if err != nil {
		return err
	}
	*v = out
	return nil
}

// ParseJSON decodes a standalone JSON document into a JSON value.
func ParseJSON(data []byte) (JSON, error) {
	var v JSON
	err := v.UnmarshalJSON(data)
	return v, err
}

func fromAny(raw any) (JSON, error) {
	switch t := raw.(type) {
	case nil:
		return JSON{}, nil
	case bool:
		return BoolJSON(t), nil
	case json.Number:
		return NumberJSON(t.String()), nil
	case float64:
		return NumberJSON(strconv.FormatFloat(t, 'g', -1, 64)), nil
	case string:
		return StringJSON(t), nil
	case []any:
		arr := make([]JSON, 0, len(t))
		for _, e := range t {
			ev, err := fromAny(e)
			if err != nil {
				return JSON{}, err
			}
			arr = append(arr, ev)
		}
		return JSON{kind: JSONArray, arr: arr}, nil
	case map[string]any:
		obj := make(map[string]JSON, len(t))
		for k, e := range t {
			ev, err := fromAny(e)
			if err != nil {
				return JSON{}, err
			}
			obj[k] = ev
		}
		return JSON{kind: JSONObject, obj: obj}, nil
	default:
		return JSON{}, fmt.Errorf("unsupported json value %T", raw)
	}
}
