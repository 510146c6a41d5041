package json

import (
	stdjson "encoding/json"
	"strings"
	"testing"
)

type entity struct {
	Name    string  `json:"name"`
	Count   int     `json:"count"`
	Balance float64 `json:"balance,omitempty"`
}

func TestMarshalUnmarshal(t *testing.T) {
	original := entity{Name: "Contoso", Count: 25, Balance: 100.50}

	data, err := Marshal(original)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if !strings.Contains(string(data), `"name":"Contoso"`) {
		t.Errorf("Marshal output missing name field: %s", data)
	}

	var decoded entity
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if decoded != original {
		t.Errorf("Unmarshal mismatch: got %+v, want %+v", decoded, original)
	}
}

func TestMarshalSortsMapKeys(t *testing.T) {
	data, err := Marshal(map[string]any{"b": 1, "a": 2, "c": 3})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if string(data) != `{"a":2,"b":1,"c":3}` {
		t.Errorf("keys not sorted: %s", data)
	}
}

func TestQuote(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"x", `"x"`},
		{`say "hi"`, `"say \"hi\""`},
		{"a<b>&c", `"a<b>&c"`},
		{"line\nbreak", `"line\nbreak"`},
	}
	for _, tt := range tests {
		if got := Quote(tt.in); got != tt.want {
			t.Errorf("Quote(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestUnmarshalNumber(t *testing.T) {
	var v map[string]any
	if err := UnmarshalNumber([]byte(`{"revenue": 12345678901234567890, "rate": 0.1}`), &v); err != nil {
		t.Fatalf("UnmarshalNumber failed: %v", err)
	}
	n, ok := v["revenue"].(Number)
	if !ok {
		t.Fatalf("expected Number, got %T", v["revenue"])
	}
	if n.String() != "12345678901234567890" {
		t.Errorf("precision lost: %s", n)
	}
}

func TestCompatibilityWithStdLib(t *testing.T) {
	v := entity{Name: "Fabrikam", Count: 3}
	ours, err := Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	std, err := stdjson.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	if string(ours) != string(std) {
		t.Errorf("output differs from encoding/json:\n ours %s\n std  %s", ours, std)
	}
}
