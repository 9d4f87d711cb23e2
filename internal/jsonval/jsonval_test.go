package jsonval

import (
	"encoding/json"
	"math/big"
	"reflect"
	"testing"
	"time"
)

func TestSerialize_Scalars(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want any
	}{
		{"nil", nil, nil},
		{"bool", true, true},
		{"string", "hi", "hi"},
		{"float", 1.5, 1.5},
		{"small int", 42, float64(42)},
		{"negative int", -7, float64(-7)},
		{"safe int64", int64(1 << 52), float64(1 << 52)},
		{"unsafe int64", int64(1 << 60), "1152921504606846976"},
		{"unsafe negative", int64(-1) << 60, "-1152921504606846976"},
		{"unsafe uint64", uint64(1) << 60, "1152921504606846976"},
		{"big int", big.NewInt(1).Lsh(big.NewInt(1), 80), "1208925819614629174706176"},
		{"json number int", json.Number("9007199254740993"), "9007199254740993"},
		{"json number float", json.Number("2.5"), 2.5},
		{"func becomes nil", func() {}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Serialize(tt.in)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Serialize(%v) = %#v, want %#v", tt.in, got, tt.want)
			}
		})
	}
}

func TestSerialize_BigIntArray(t *testing.T) {
	in := []any{int64(1 << 60), int64(2)}
	got := Serialize(in)
	want := []any{"1152921504606846976", float64(2)}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %#v, want %#v", got, want)
	}
}

func TestSerialize_NestedTree(t *testing.T) {
	in := map[string]any{
		"name":  "ada",
		"tags":  []any{"a", 1, nil},
		"inner": map[string]any{"n": int64(1 << 60)},
	}
	want := map[string]any{
		"name":  "ada",
		"tags":  []any{"a", float64(1), nil},
		"inner": map[string]any{"n": "1152921504606846976"},
	}
	if got := Serialize(in); !reflect.DeepEqual(got, want) {
		t.Fatalf("got %#v, want %#v", got, want)
	}
}

func TestSerialize_Struct(t *testing.T) {
	type contact struct {
		Phone string `json:"phone_number"`
		Name  string `json:"first_name"`
	}
	got := Serialize(contact{Phone: "+123", Name: "Ada"})
	want := map[string]any{"phone_number": "+123", "first_name": "Ada"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %#v, want %#v", got, want)
	}
}

func TestSerialize_TypedCollections(t *testing.T) {
	got := Serialize(map[string]int{"a": 1})
	want := map[string]any{"a": float64(1)}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("map: got %#v, want %#v", got, want)
	}

	got = Serialize([]string{"x", "y"})
	wantSlice := []any{"x", "y"}
	if !reflect.DeepEqual(got, wantSlice) {
		t.Fatalf("slice: got %#v, want %#v", got, wantSlice)
	}

	if got := Serialize(map[int]string{1: "a"}); got != nil {
		t.Fatalf("non-string keys: got %#v, want nil", got)
	}
}

func TestSerialize_Idempotent(t *testing.T) {
	inputs := []any{
		nil,
		"s",
		int64(1 << 60),
		[]any{int64(1 << 60), map[string]any{"k": uint64(1) << 61}},
		map[string]any{"a": []any{1, 2.5, "x"}, "b": nil},
	}
	for i, in := range inputs {
		once := Serialize(in)
		twice := Serialize(once)
		if !reflect.DeepEqual(once, twice) {
			t.Errorf("input %d: Serialize not idempotent: %#v vs %#v", i, once, twice)
		}
	}
}

func TestSerializeMap_NilMap(t *testing.T) {
	got := SerializeMap(nil)
	if got == nil || len(got) != 0 {
		t.Fatalf("got %#v, want empty map", got)
	}
}

func TestDeepEqual(t *testing.T) {
	a := map[string]any{"n": int64(5), "s": "x"}
	b := map[string]any{"n": float64(5), "s": "x"}
	if !DeepEqual(a, b) {
		t.Fatal("canonically equal maps reported unequal")
	}
	if DeepEqual(a, map[string]any{"n": float64(6), "s": "x"}) {
		t.Fatal("different maps reported equal")
	}
}

func TestNormalizeHistory(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want int
	}{
		{"nil", nil, 0},
		{"scalar", "junk", 0},
		{"object", map[string]any{"pageId": "a"}, 0},
		{"mixed entries", []any{map[string]any{"pageId": "a", "value": "v", "timestamp": "2024-01-01T00:00:00Z"}, "junk", 7}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeHistory(tt.in)
			if got == nil {
				t.Fatal("normalized history must not be nil")
			}
			if len(got) != tt.want {
				t.Fatalf("len = %d, want %d", len(got), tt.want)
			}
		})
	}
}

func TestNormalizeHistory_Coercion(t *testing.T) {
	got := NormalizeHistory([]any{
		map[string]any{"pageId": float64(12), "value": "v"},
	})
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
	if got[0].PageID != "12" {
		t.Errorf("pageId = %q, want %q", got[0].PageID, "12")
	}
	if got[0].Timestamp == "" {
		t.Error("missing timestamp not defaulted")
	}
	if _, err := time.Parse(time.RFC3339Nano, got[0].Timestamp); err != nil {
		t.Errorf("defaulted timestamp not RFC 3339: %v", err)
	}
}

func TestNormalizeHistory_TypedPassThrough(t *testing.T) {
	in := []HistoryEntry{{PageID: "a", Value: "v", Timestamp: Timestamp(time.Now())}}
	got := NormalizeHistory(in)
	if len(got) != 1 || got[0].PageID != "a" {
		t.Fatalf("typed history not preserved: %#v", got)
	}
}
