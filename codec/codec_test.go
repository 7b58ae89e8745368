// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

package codec_test

import (
	"errors"
	"fmt"
	"io"
	"math"
	"math/big"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/creachadair/chaincall/codec"
	"github.com/creachadair/chaincall/opchain"
	"github.com/google/go-cmp/cmp"
	"github.com/sebdah/goldie/v2"
)

// roundTrip serializes v, pushes the records through their JSON wire form,
// and deserializes the result.
func roundTrip(t *testing.T, v any, opts ...codec.Option) any {
	t.Helper()
	recs, err := codec.Serialize(v)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	data, err := codec.MarshalRecords(recs)
	if err != nil {
		t.Fatalf("MarshalRecords: %v", err)
	}
	back, err := codec.UnmarshalRecords(data)
	if err != nil {
		t.Fatalf("UnmarshalRecords: %v", err)
	}
	out, err := codec.Deserialize(back, opts...)
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}
	return out
}

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		input any
		want  any
	}{
		{"Nil", nil, nil},
		{"True", true, true},
		{"String", "hello", "hello"},
		{"Int", 42, int64(42)},
		{"NegInt", int32(-17), int64(-17)},
		{"SmallUint", uint16(9), int64(9)},
		{"Float", 3.25, 3.25},
		{"WholeFloat", 2.0, 2.0},
		{"BigUint", uint64(math.MaxUint64), new(big.Int).SetUint64(math.MaxUint64)},
		{"BigInt", new(big.Int).SetInt64(1 << 40), big.NewInt(1 << 40)},
		{"Array", []any{"a", int64(1), nil}, []any{"a", int64(1), nil}},
		{"Object",
			map[string]any{"x": int64(1), "y": []any{true}},
			map[string]any{"x": int64(1), "y": []any{true}}},
		{"Set", codec.NewSet("a", "b"), codec.NewSet("a", "b")},
		{"GenericMap",
			map[int]string{1: "one", 2: "two"},
			map[any]any{int64(1): "one", int64(2): "two"}},
		{"Bytes", []byte{1, 2, 3}, []byte{1, 2, 3}},
		{"Int32Array", []int32{-5, 0, 5}, []int32{-5, 0, 5}},
		{"IntArray", []int{10, 20}, []int{10, 20}},
		{"Float64Array", []float64{0.5, -1.25}, []float64{0.5, -1.25}},
		{"Struct",
			struct {
				Name  string
				Count int
			}{Name: "box", Count: 3},
			map[string]any{"Name": "box", "Count": int64(3)}},
		{"Chain",
			opchain.New().Get("a").Call(int64(1)).Chain(),
			opchain.Chain{
				{Type: opchain.OpGet, Key: "a"},
				{Type: opchain.OpApply, Args: []any{int64(1)}},
			}},
		{"RefMarker", opchain.Result(), opchain.Result()},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got := roundTrip(t, test.input)
			if diff := cmp.Diff(test.want, got, cmp.AllowUnexported(big.Int{})); diff != "" {
				t.Errorf("Round trip (-want, +got):\n%s", diff)
			}
		})
	}
}

func TestRoundTripSpecial(t *testing.T) {
	t.Run("NaN", func(t *testing.T) {
		f, ok := roundTrip(t, math.NaN()).(float64)
		if !ok || !math.IsNaN(f) {
			t.Errorf("Got %v, want NaN", f)
		}
	})
	t.Run("PosInf", func(t *testing.T) {
		if f := roundTrip(t, math.Inf(1)); f != math.Inf(1) {
			t.Errorf("Got %v, want +Inf", f)
		}
	})
	t.Run("NegInf", func(t *testing.T) {
		if f := roundTrip(t, math.Inf(-1)); f != math.Inf(-1) {
			t.Errorf("Got %v, want -Inf", f)
		}
	})
	t.Run("Time", func(t *testing.T) {
		in := time.Date(2025, 6, 1, 12, 30, 0, 987654321, time.UTC)
		out, ok := roundTrip(t, in).(time.Time)
		if !ok || !out.Equal(in) {
			t.Errorf("Got %v, want %v", out, in)
		}
	})
	t.Run("Regexp", func(t *testing.T) {
		in := regexp.MustCompile(`^ab+c$`)
		out, ok := roundTrip(t, in).(*regexp.Regexp)
		if !ok || out.String() != in.String() {
			t.Errorf("Got %v, want %v", out, in)
		}
	})
	t.Run("URL", func(t *testing.T) {
		in, _ := url.Parse("https://example.com/a?b=c")
		out, ok := roundTrip(t, in).(*url.URL)
		if !ok || out.String() != in.String() {
			t.Errorf("Got %v, want %v", out, in)
		}
	})
}

func TestSharedReference(t *testing.T) {
	shared := map[string]any{"n": int64(1)}
	out := roundTrip(t, []any{shared, shared})

	arr, ok := out.([]any)
	if !ok || len(arr) != 2 {
		t.Fatalf("Got %v, want 2-element array", out)
	}
	m0, ok := arr[0].(map[string]any)
	if !ok {
		t.Fatalf("Element 0 is %T, want map", arr[0])
	}

	// Mutating one element must be visible through the other: the two
	// references decoded to the same object.
	m0["probe"] = true
	m1 := arr[1].(map[string]any)
	if _, ok := m1["probe"]; !ok {
		t.Error("Shared reference decoded as two distinct objects")
	}
}

func TestCycle(t *testing.T) {
	root := map[string]any{"name": "loop"}
	root["self"] = root

	out := roundTrip(t, root)
	m, ok := out.(map[string]any)
	if !ok {
		t.Fatalf("Got %T, want map", out)
	}
	self, ok := m["self"].(map[string]any)
	if !ok {
		t.Fatalf("self is %T, want map", m["self"])
	}
	self["probe"] = true
	if _, ok := m["probe"]; !ok {
		t.Error("Cycle did not resolve to the root object")
	}
}

func TestCyclicArray(t *testing.T) {
	arr := make([]any, 2)
	arr[0] = "head"
	arr[1] = arr

	out := roundTrip(t, arr)
	got, ok := out.([]any)
	if !ok || len(got) != 2 {
		t.Fatalf("Got %v, want 2-element array", out)
	}
	inner, ok := got[1].([]any)
	if !ok || len(inner) != 2 || inner[0] != "head" {
		t.Errorf("Cyclic element: got %v", got[1])
	}
}

// TestSubsliceIdentity verifies that a subslice sharing its parent's
// backing array is encoded as its own value, while true aliases of the
// same slice still decode to one shared instance.
func TestSubsliceIdentity(t *testing.T) {
	s := []any{"a", "b"}
	out := roundTrip(t, []any{s, s[:1], s})

	arr, ok := out.([]any)
	if !ok || len(arr) != 3 {
		t.Fatalf("Got %v, want 3-element array", out)
	}
	full, ok := arr[0].([]any)
	if !ok || len(full) != 2 {
		t.Fatalf("Element 0 has %d elements, want 2 (got %v)", len(full), arr[0])
	}
	sub, ok := arr[1].([]any)
	if !ok || len(sub) != 1 {
		t.Fatalf("Element 1 has %d elements, want 1 (got %v)", len(sub), arr[1])
	}
	if sub[0] != "a" {
		t.Errorf("Subslice element: got %v, want a", sub[0])
	}

	alias := arr[2].([]any)
	alias[0] = "probe"
	if full[0] != "probe" {
		t.Error("Aliased slices decoded as distinct objects")
	}
}

func TestFuncMarker(t *testing.T) {
	out := roundTrip(t, map[string]any{
		"greet": func() string { return "hi" },
	})
	m, ok := out.(map[string]any)
	if !ok {
		t.Fatalf("Got %T, want map", out)
	}
	ref, ok := m["greet"].(codec.FuncRef)
	if !ok {
		t.Fatalf("greet is %T, want FuncRef", m["greet"])
	}
	if want := (opchain.Chain{{Type: opchain.OpGet, Key: "greet"}}); !cmp.Equal(want, ref.Chain) {
		t.Errorf("FuncRef chain: got %v, want %v", ref.Chain, want)
	}
	if ref.Name == "" {
		t.Error("FuncRef has no runtime name")
	}
}

func TestUnsupported(t *testing.T) {
	for _, bad := range []any{
		make(chan int),
		complex(1, 2),
		map[string]any{"deep": []any{make(chan int)}},
	} {
		if recs, err := codec.Serialize(bad); err == nil {
			t.Errorf("Serialize %T: got %v, want error", bad, recs)
		}
	}
}

// timeoutLike implements the error extension interfaces consulted by the
// serializer.
type timeoutLike struct {
	wrapped error
	limit   int64
}

func (e *timeoutLike) Error() string                  { return "deadline exceeded" }
func (e *timeoutLike) Unwrap() error                  { return e.wrapped }
func (e *timeoutLike) ErrorName() string              { return "DeadlineError" }
func (e *timeoutLike) ErrorStack() string             { return "at work (job.go:10)" }
func (e *timeoutLike) ErrorProperties() map[string]any {
	return map[string]any{"limitMs": e.limit, "name": "must-not-appear"}
}

func TestErrorRoundTrip(t *testing.T) {
	in := &timeoutLike{wrapped: errors.New("io stalled"), limit: 250}

	t.Run("Generic", func(t *testing.T) {
		out, ok := roundTrip(t, in).(*codec.Error)
		if !ok {
			t.Fatalf("Got %T, want *codec.Error", out)
		}
		if out.Name != "DeadlineError" {
			t.Errorf("Name: got %q, want DeadlineError", out.Name)
		}
		if out.Message != "deadline exceeded" {
			t.Errorf("Message: got %q", out.Message)
		}
		if out.Stack != "at work (job.go:10)" {
			t.Errorf("Stack: got %q", out.Stack)
		}
		if got := out.Props["limitMs"]; got != int64(250) {
			t.Errorf("Props[limitMs]: got %v, want 250", got)
		}
		if _, ok := out.Props["name"]; ok {
			t.Error("Props contains reserved key name")
		}
		cause := errors.Unwrap(out)
		if cause == nil || cause.Error() != "io stalled" {
			t.Errorf("Cause: got %v, want io stalled", cause)
		}
	})

	t.Run("Registered", func(t *testing.T) {
		reg := codec.NewRegistry().Register("DeadlineError", func(e *codec.Error) error {
			limit, _ := e.Props["limitMs"].(int64)
			return &timeoutLike{wrapped: e.Cause, limit: limit}
		})
		out := roundTrip(t, in, codec.WithErrorRegistry(reg))
		var got *timeoutLike
		if err, ok := out.(error); !ok || !errors.As(err, &got) {
			t.Fatalf("Got %T, want *timeoutLike", out)
		}
		if got.limit != 250 {
			t.Errorf("limit: got %d, want 250", got.limit)
		}
		if got.wrapped == nil || got.wrapped.Error() != "io stalled" {
			t.Errorf("wrapped: got %v", got.wrapped)
		}
	})

	t.Run("Plain", func(t *testing.T) {
		out, ok := roundTrip(t, errors.New("boom")).(*codec.Error)
		if !ok {
			t.Fatalf("Got %T, want *codec.Error", out)
		}
		if out.Name != "Error" || out.Message != "boom" {
			t.Errorf("Got %q / %q, want Error / boom", out.Name, out.Message)
		}
	})

	t.Run("WrappedChain", func(t *testing.T) {
		in := fmt.Errorf("outer: %w", fmt.Errorf("middle: %w", errors.New("inner")))
		out, ok := roundTrip(t, in).(*codec.Error)
		if !ok {
			t.Fatalf("Got %T, want *codec.Error", out)
		}
		depth := 0
		for err := error(out); err != nil; err = errors.Unwrap(err) {
			depth++
		}
		if depth != 3 {
			t.Errorf("Cause chain depth: got %d, want 3", depth)
		}
	})
}

func TestErrorName(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{errors.New("x"), "Error"},
		{fmt.Errorf("wrap: %w", errors.New("x")), "Error"},
		{&timeoutLike{}, "DeadlineError"},
		{io.ErrUnexpectedEOF, "Error"},
		{&url.Error{Op: "Get", Err: errors.New("x")}, "Error"},
	}
	for _, test := range tests {
		if got := codec.ErrorName(test.err); got != test.want {
			t.Errorf("ErrorName(%v): got %q, want %q", test.err, got, test.want)
		}
	}
}

func TestHeaderRoundTrip(t *testing.T) {
	h := http.Header{}
	h.Add("Accept", "text/html")
	h.Add("Accept", "application/json")
	h.Set("X-Token", "abc123")

	out, ok := roundTrip(t, h).(http.Header)
	if !ok {
		t.Fatalf("Got %T, want http.Header", out)
	}

	// Repeated values combine into one comma-joined value.
	if got, want := out.Get("Accept"), "text/html, application/json"; got != want {
		t.Errorf("Accept: got %q, want %q", got, want)
	}
	if got := out.Get("X-Token"); got != "abc123" {
		t.Errorf("X-Token: got %q", got)
	}
}

func TestRequestRoundTrip(t *testing.T) {
	req, err := http.NewRequest("POST", "https://api.example.com/jobs", strings.NewReader(`{"id":1}`))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	out, ok := roundTrip(t, req).(*http.Request)
	if !ok {
		t.Fatalf("Got %T, want *http.Request", out)
	}
	if out.Method != "POST" || out.URL.String() != "https://api.example.com/jobs" {
		t.Errorf("Got %s %v", out.Method, out.URL)
	}
	if got := out.Header.Get("Content-Type"); got != "application/json" {
		t.Errorf("Content-Type: got %q", got)
	}
	body, err := io.ReadAll(out.Body)
	if err != nil {
		t.Fatalf("Read body: %v", err)
	}
	if string(body) != `{"id":1}` {
		t.Errorf("Body: got %q", body)
	}

	// Serialization must not consume the original request's body.
	orig, err := io.ReadAll(req.Body)
	if err != nil {
		t.Fatalf("Read original body: %v", err)
	}
	if string(orig) != `{"id":1}` {
		t.Errorf("Original body was consumed: got %q", orig)
	}
}

func TestResponseRoundTrip(t *testing.T) {
	rsp := &http.Response{
		StatusCode: 404,
		Header:     http.Header{"Content-Type": []string{"text/plain"}},
		Body:       io.NopCloser(strings.NewReader("not found")),
	}
	out, ok := roundTrip(t, rsp).(*http.Response)
	if !ok {
		t.Fatalf("Got %T, want *http.Response", out)
	}
	if out.StatusCode != 404 {
		t.Errorf("Status: got %d, want 404", out.StatusCode)
	}
	body, err := io.ReadAll(out.Body)
	if err != nil {
		t.Fatalf("Read body: %v", err)
	}
	if string(body) != "not found" {
		t.Errorf("Body: got %q", body)
	}
}

// The golden tests pin the wire encoding itself: record order, tag names,
// and payload shapes must not drift.
func TestGolden(t *testing.T) {
	g := goldie.New(t)

	serialize := func(v any) []byte {
		recs, err := codec.Serialize(v)
		if err != nil {
			t.Fatalf("Serialize: %v", err)
		}
		data, err := codec.MarshalRecords(recs)
		if err != nil {
			t.Fatalf("MarshalRecords: %v", err)
		}
		return data
	}

	g.Assert(t, "object", serialize(map[string]any{
		"name": "Ada",
		"tags": []any{"x", "y"},
	}))
	g.Assert(t, "chain", serialize(opchain.New().Get("users").Get("find").Call(5).Chain()))
	g.Assert(t, "specials", serialize([]any{math.NaN(), math.Inf(1), math.Inf(-1)}))
}

func TestDeserializeErrors(t *testing.T) {
	if _, err := codec.Deserialize(nil); err == nil {
		t.Error("Deserialize(nil): unexpectedly succeeded")
	}
	if _, err := codec.Deserialize(codec.Records{{Tag: "mystery"}}); err == nil {
		t.Error("Deserialize(unknown tag): unexpectedly succeeded")
	}
	if _, err := codec.UnmarshalRecords([]byte(`[["int"]]`)); err == nil {
		t.Error("UnmarshalRecords(missing payload): unexpectedly succeeded")
	}
	if _, err := codec.UnmarshalRecords([]byte(`[["arr",[1]]]`)); err != nil {
		t.Errorf("UnmarshalRecords: %v", err)
	} else if _, err := codec.Deserialize(codec.Records{{Tag: codec.TagArray, Val: []int{5}}}); err == nil {
		t.Error("Deserialize(index out of range): unexpectedly succeeded")
	}
}
