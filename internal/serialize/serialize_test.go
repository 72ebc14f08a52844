package serialize

import (
	"bytes"
	"testing"
)

func TestRawRoundTrip(t *testing.T) {
	var s Raw
	in := []byte("hello world")
	data, err := s.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal returned error: %v", err)
	}
	out, err := s.Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal returned error: %v", err)
	}
	if !bytes.Equal(in, out) {
		t.Fatalf("round trip = %v, want %v", out, in)
	}
}

type point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func TestJSONRoundTrip(t *testing.T) {
	var s JSON[point]
	in := point{X: 3, Y: 4}
	data, err := s.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal returned error: %v", err)
	}
	out, err := s.Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal returned error: %v", err)
	}
	if out != in {
		t.Fatalf("round trip = %+v, want %+v", out, in)
	}
}

func TestJSONUnmarshalEmptyPayloadErrors(t *testing.T) {
	var s JSON[point]
	if _, err := s.Unmarshal(nil); err == nil {
		t.Fatal("Unmarshal on an empty payload should return an error")
	}
}

func TestJSONUnmarshalInvalidPayloadErrors(t *testing.T) {
	var s JSON[point]
	if _, err := s.Unmarshal([]byte("not json")); err == nil {
		t.Fatal("Unmarshal on malformed JSON should return an error")
	}
}
