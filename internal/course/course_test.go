package course

import (
	"errors"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want ID
	}{
		{name: "space separator", raw: "CPEN 221", want: ID{Subject: "CPEN", Code: "221"}},
		{name: "no separator", raw: "MATH253", want: ID{Subject: "MATH", Code: "253"}},
		{name: "underscore", raw: "CPSC_110", want: ID{Subject: "CPSC", Code: "110"}},
		{name: "hyphen with section", raw: "ELEC-201A", want: ID{Subject: "ELEC", Code: "201", Section: "A"}},
		{name: "surrounding whitespace", raw: "  PHYS 158 ", want: ID{Subject: "PHYS", Code: "158"}},
		{name: "single letter subject", raw: "X 100", want: ID{Subject: "X", Code: "100"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.raw)
			if err != nil {
				t.Fatalf("Parse(%q) returned error: %v", tt.raw, err)
			}
			if got != tt.want {
				t.Errorf("Parse(%q) = %+v, want %+v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestParseRejects(t *testing.T) {
	rejected := []string{
		"Intro to Programming",
		"",
		"CPEN",
		"221",
		"cpen 221",
		"CPEN 22",
		"CPEN 2210",
		"CPEN  221",
		"CPEN 221 101",
		"CPEN_V 221",
		"CPEN 221AB",
		"CPEN 221a",
		"CPEN 221 - Lecture",
	}

	for _, raw := range rejected {
		t.Run(raw, func(t *testing.T) {
			_, err := Parse(raw)
			if err == nil {
				t.Fatalf("Parse(%q) succeeded, want rejection", raw)
			}
			if !errors.Is(err, ErrInvalid) {
				t.Errorf("Parse(%q) error = %v, want ErrInvalid", raw, err)
			}
		})
	}
}

func TestString(t *testing.T) {
	if got := MustParse("MATH253").String(); got != "MATH 253" {
		t.Errorf("String() = %q, want %q", got, "MATH 253")
	}
	if got := MustParse("ELEC 201A").String(); got != "ELEC 201A" {
		t.Errorf("String() = %q, want %q", got, "ELEC 201A")
	}
	if got := (ID{}).String(); got != "" {
		t.Errorf("zero ID String() = %q, want empty", got)
	}
}

func TestMustParsePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("MustParse did not panic on invalid input")
		}
	}()
	MustParse("not a course")
}
