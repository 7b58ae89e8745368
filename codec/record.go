// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

package codec

import (
	"encoding/json"
	"fmt"
)

// A Tag identifies the runtime type of a serialized record.
type Tag string

// Record type tags. Every value reachable from the root of a serialized
// graph occupies exactly one record; payloads refer to other records by
// numeric index, never by embedding, which is what lets cycles and shared
// references survive transport.
const (
	TagVoid       Tag = "void"    // no payload
	TagBool       Tag = "bool"    // bool
	TagString     Tag = "str"     // string
	TagInt        Tag = "int"     // int64
	TagFloat      Tag = "float"   // float64, finite
	TagNaN        Tag = "nan"     // no payload
	TagPosInf     Tag = "+inf"    // no payload
	TagNegInf     Tag = "-inf"    // no payload
	TagBigInt     Tag = "bigint"  // decimal string
	TagTime       Tag = "time"    // RFC 3339 string with nanoseconds
	TagRegexp     Tag = "regexp"  // source string
	TagURL        Tag = "url"     // absolute URL string
	TagArray      Tag = "arr"     // []int element indexes
	TagTypedArray Tag = "tarr"    // typedArray
	TagObject     Tag = "obj"     // map[string]int property indexes
	TagMap        Tag = "map"     // [][2]int key/value index pairs
	TagSet        Tag = "set"     // []int element indexes
	TagError      Tag = "err"     // errorRecord
	TagFunc       Tag = "fn"      // funcRecord
	TagChain      Tag = "chain"   // []chainOp
	TagMarker     Tag = "marker"  // markerRecord
	TagHeader     Tag = "hdr"     // [][2]string name/value pairs
	TagRequest    Tag = "req"     // requestRecord
	TagResponse   Tag = "rsp"     // responseRecord
)

// A Record is one [typeTag, payload] entry of a serialized value graph.
// On the wire a record is a two-element JSON array; records without a
// payload marshal as a one-element array.
type Record struct {
	Tag Tag
	Val any // payload, shape determined by Tag
}

// Records is a flat, index-addressed list of records. Index 0 holds the
// root value.
type Records []Record

// chainOp is the record payload form of one chain operation. Apply
// arguments are record indexes, since chain arguments may be arbitrary
// structured values.
type chainOp struct {
	Type string `json:"type"`
	Key  string `json:"key,omitempty"`
	Args []int  `json:"args,omitempty"`
}

// markerRecord is the payload of a nested operation marker. Chain is the
// record index of the inline chain, or -1 for a ref marker.
type markerRecord struct {
	Ref   string `json:"ref,omitempty"`
	Chain int    `json:"chain"`
}

// typedArray is the payload of a specialized binary view, spread into a
// plain numeric array tagged with its original element type.
type typedArray struct {
	Kind string        `json:"kind"` // Go type, e.g. "[]int32"
	Vals []json.Number `json:"vals"`
}

// errorRecord is the payload of a serialized error. Cause is a record
// index or -1. The name/message/stack trio has dedicated slots and never
// appears in Props.
type errorRecord struct {
	Name    string         `json:"name"`
	Message string         `json:"message"`
	Stack   string         `json:"stack,omitempty"`
	Cause   int            `json:"cause"`
	Props   map[string]int `json:"props,omitempty"`
}

// funcRecord is the payload of a function marker: an inert description of
// a live function encountered during serialization, never re-executed by
// the codec itself. Chain is the record index of the access path at which
// the function was found, or -1.
type funcRecord struct {
	Name  string `json:"name,omitempty"`
	Chain int    `json:"chain"`
}

// requestRecord and responseRecord are the payloads of HTTP protocol
// objects. Body is nil when the object had no body; only text bodies are
// captured. Cancellation signals are never carried across.
type requestRecord struct {
	Method string  `json:"method"`
	URL    string  `json:"url"`
	Header int     `json:"header"`
	Body   *string `json:"body"`
}

type responseRecord struct {
	Status int     `json:"status"`
	Header int     `json:"header"`
	Body   *string `json:"body"`
}

// MarshalJSON implements json.Marshaler, rendering the record as a
// [tag, payload] array.
func (r Record) MarshalJSON() ([]byte, error) {
	if r.Val == nil && noPayload(r.Tag) {
		return json.Marshal([1]any{r.Tag})
	}
	return json.Marshal([2]any{r.Tag, r.Val})
}

func noPayload(t Tag) bool {
	switch t {
	case TagVoid, TagNaN, TagPosInf, TagNegInf:
		return true
	}
	return false
}

// UnmarshalJSON implements json.Unmarshaler, restoring the canonical
// payload shape for the record's tag.
func (r *Record) UnmarshalJSON(data []byte) error {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return fmt.Errorf("invalid record: %w", err)
	}
	if len(parts) < 1 || len(parts) > 2 {
		return fmt.Errorf("invalid record: %d elements", len(parts))
	}
	var tag string
	if err := json.Unmarshal(parts[0], &tag); err != nil {
		return fmt.Errorf("invalid record tag: %w", err)
	}
	r.Tag = Tag(tag)
	if len(parts) == 1 || string(parts[1]) == "null" {
		if !noPayload(r.Tag) && r.Tag != TagVoid {
			return fmt.Errorf("record %q: missing payload", tag)
		}
		r.Val = nil
		return nil
	}
	val, err := decodePayload(r.Tag, parts[1])
	if err != nil {
		return fmt.Errorf("record %q: %w", tag, err)
	}
	r.Val = val
	return nil
}

func decodePayload(tag Tag, data json.RawMessage) (any, error) {
	unmarshal := func(v any) (any, error) {
		if err := json.Unmarshal(data, v); err != nil {
			return nil, err
		}
		return v, nil
	}
	switch tag {
	case TagVoid, TagNaN, TagPosInf, TagNegInf:
		return nil, nil
	case TagBool:
		var b bool
		_, err := unmarshal(&b)
		return b, err
	case TagString, TagBigInt, TagTime, TagRegexp, TagURL:
		var s string
		_, err := unmarshal(&s)
		return s, err
	case TagInt:
		var n int64
		_, err := unmarshal(&n)
		return n, err
	case TagFloat:
		var f float64
		_, err := unmarshal(&f)
		return f, err
	case TagArray, TagSet:
		var idx []int
		_, err := unmarshal(&idx)
		return idx, err
	case TagObject:
		var m map[string]int
		_, err := unmarshal(&m)
		return m, err
	case TagMap:
		var ent [][2]int
		_, err := unmarshal(&ent)
		return ent, err
	case TagTypedArray:
		var ta typedArray
		_, err := unmarshal(&ta)
		return ta, err
	case TagError:
		var er errorRecord
		_, err := unmarshal(&er)
		return er, err
	case TagFunc:
		var fr funcRecord
		_, err := unmarshal(&fr)
		return fr, err
	case TagChain:
		var ops []chainOp
		_, err := unmarshal(&ops)
		return ops, err
	case TagMarker:
		var mr markerRecord
		_, err := unmarshal(&mr)
		return mr, err
	case TagHeader:
		var pairs [][2]string
		_, err := unmarshal(&pairs)
		return pairs, err
	case TagRequest:
		var rr requestRecord
		_, err := unmarshal(&rr)
		return rr, err
	case TagResponse:
		var rr responseRecord
		_, err := unmarshal(&rr)
		return rr, err
	}
	return nil, fmt.Errorf("unknown tag")
}
