package canonical

import (
	"encoding/json"
	"strings"
	"testing"
)

type nested struct {
	Z string `json:"z"`
	A string `json:"a"`
}

type sample struct {
	B       int            `json:"b"`
	A       string         `json:"a"`
	Nested  nested         `json:"nested"`
	Signed  string         `json:"signed"`
	Omitted map[string]any `json:"omitted"`
}

func TestBytesSortsKeys(t *testing.T) {
	v := sample{B: 1, A: "x", Nested: nested{Z: "z", A: "a"}}
	b, err := Bytes(v)
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	got := string(b)
	if !strings.HasPrefix(got, `{"a":"x","b":1,"nested":{"a":"a","z":"z"}`) {
		t.Fatalf("keys not sorted: %s", got)
	}
}

func TestBytesIsDeterministic(t *testing.T) {
	v := sample{B: 1, A: "x", Nested: nested{Z: "z", A: "a"}}
	b1, err := Bytes(v)
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	b2, err := Bytes(v)
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	if string(b1) != string(b2) {
		t.Fatalf("canonicalization is not deterministic: %s vs %s", b1, b2)
	}
}

func TestBytesExcludesPaths(t *testing.T) {
	v := sample{B: 1, A: "x", Signed: "should-vanish"}
	b, err := Bytes(v, "signed")
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	if strings.Contains(string(b), "signed") {
		t.Fatalf("excluded field leaked into canonical bytes: %s", b)
	}
}

func TestBytesExcludesNestedDottedPath(t *testing.T) {
	type outer struct {
		Inner struct {
			Secret string `json:"secret"`
			Keep   string `json:"keep"`
		} `json:"inner"`
	}
	var o outer
	o.Inner.Secret = "gone"
	o.Inner.Keep = "stays"

	b, err := Bytes(o, "inner.secret")
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	got := string(b)
	if strings.Contains(got, "gone") {
		t.Fatalf("nested excluded field leaked: %s", got)
	}
	if !strings.Contains(got, "stays") {
		t.Fatalf("sibling field was wrongly dropped: %s", got)
	}
}

func TestBytesNoInsignificantWhitespace(t *testing.T) {
	b, err := Bytes(sample{B: 1, A: "x"})
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	if strings.ContainsAny(string(b), " \t\n") {
		t.Fatalf("canonical bytes contain whitespace: %q", b)
	}
}

func TestBytesPreservesArrayOrder(t *testing.T) {
	v := map[string]any{"list": []int{3, 1, 2}}
	b, err := Bytes(v)
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	if string(b) != `{"list":[3,1,2]}` {
		t.Fatalf("array order not preserved: %s", b)
	}
}

func TestBytesNumbersRoundTripExactly(t *testing.T) {
	v := map[string]any{"amount": "89.99"}
	b, err := Bytes(v)
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	if string(b) != `{"amount":"89.99"}` {
		t.Fatalf("string amount mangled: %s", b)
	}
}

func TestBytesIdempotentAfterRoundTrip(t *testing.T) {
	v := sample{B: 2, A: "y", Nested: nested{Z: "q", A: "p"}}
	b1, err := Bytes(v)
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}

	var roundTripped map[string]any
	if err := json.Unmarshal(b1, &roundTripped); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	b2, err := Bytes(roundTripped)
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	if string(b1) != string(b2) {
		t.Fatalf("canonicalization not idempotent across round-trip: %s vs %s", b1, b2)
	}
}
