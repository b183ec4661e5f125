package classify

import (
	"errors"
	"reflect"
	"testing"
)

func TestDecodeResponse(t *testing.T) {
	tx := testTaxonomies()

	tests := []struct {
		name string
		raw  string
		n    int
		want []Labels
	}{
		{
			name: "bare object",
			raw:  `{"field": "Software Engineering", "digital_competences": ["Programming"]}`,
			n:    1,
			want: []Labels{{"field": {"Software Engineering"}, "digital_competences": {"Programming"}}},
		},
		{
			name: "results wrapper",
			raw:  `{"results": [{"field": "Non Technical"}, {"field": ["Mechanical Engineering"]}]}`,
			n:    2,
			want: []Labels{{"field": {"Non Technical"}}, {"field": {"Mechanical Engineering"}}},
		},
		{
			name: "bare array",
			raw:  `[{"field": "Non Technical", "digital_competences": null}]`,
			n:    1,
			want: []Labels{{"field": {"Non Technical"}, "digital_competences": nil}},
		},
		{
			name: "code fence",
			raw:  "```json\n{\"field\": \"Non Technical\"}\n```",
			n:    1,
			want: []Labels{{"field": {"Non Technical"}}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeResponse(tt.raw, tt.n, tx)
			if err != nil {
				t.Fatalf("DecodeResponse() error: %v", err)
			}

			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("DecodeResponse() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDecodeResponse_Malformed(t *testing.T) {
	tx := testTaxonomies()

	tests := []struct {
		name string
		raw  string
		n    int
	}{
		{"empty", "", 1},
		{"prose", "The field is Software Engineering.", 1},
		{"wrong count", `{"results": [{"field": "Non Technical"}]}`, 2},
		{"object for batch", `{"field": "Non Technical"}`, 2},
		{"no taxonomy key", `{"answer": "Non Technical"}`, 1},
		{"number value", `{"field": 7}`, 1},
		{"truncated", `{"field": "Non Tech`, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeResponse(tt.raw, tt.n, tx)
			if !errors.Is(err, ErrMalformedResponse) {
				t.Errorf("DecodeResponse(%q) error = %v, want ErrMalformedResponse", tt.raw, err)
			}
		})
	}
}

func TestDecodeFallback(t *testing.T) {
	tx := testTaxonomies()

	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"quoted in prose", `Sure! The field is "Mechanical Engineering".`, "Mechanical Engineering"},
		{"skips key names", `{"field": "Software Engineering"`, "Software Engineering"},
		{"bare label", "Non Technical", "Non Technical"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeFallback(tt.raw, tx)
			if err != nil {
				t.Fatalf("DecodeFallback() error: %v", err)
			}

			if v := got["field"]; len(v) != 1 || v[0] != tt.want {
				t.Errorf("DecodeFallback(%q) = %v, want %q", tt.raw, got, tt.want)
			}
		})
	}

	if _, err := DecodeFallback(`{"results": []}`, tx); !errors.Is(err, ErrMalformedResponse) {
		t.Errorf("DecodeFallback(empty results) error = %v", err)
	}
}

func TestFilterLabels(t *testing.T) {
	got := filterLabels(Labels{
		"field":               {"Astrology", "software engineering"},
		"digital_competences": {"Programming", "Juggling", "programming"},
		"unknown":             {"x"},
	}, testTaxonomies())

	want := Labels{
		"field":               {"Software Engineering"},
		"digital_competences": {"Programming"},
	}

	if !reflect.DeepEqual(got, want) {
		t.Errorf("filterLabels() = %v, want %v", got, want)
	}
}
