package textutil

import "testing"

func TestNormalize(t *testing.T) {
	cases := []struct {
		name  string
		input string
		want  string
	}{
		{name: "accents stripped", input: "Société Générale", want: "societe generale"},
		{name: "punctuation removed", input: "Rondot S.A.S. (Lyon)", want: "rondot s a s lyon"},
		{name: "whitespace collapsed", input: "  LIFT\t ROLLER   STUD ", want: "lift roller stud"},
		{name: "empty", input: "", want: ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Normalize(tc.input); got != tc.want {
				t.Fatalf("got %q want %q", got, tc.want)
			}
		})
	}
}

func TestCompact(t *testing.T) {
	if got := Compact("Société Générale"); got != "societegenerale" {
		t.Fatalf("got %q", got)
	}
}

func TestRatio(t *testing.T) {
	cases := []struct {
		name string
		a, b string
		min  float64
		max  float64
	}{
		{name: "equal", a: "moulinex", b: "moulinex", min: 1, max: 1},
		{name: "empty", a: "", b: "moulinex", min: 0, max: 0},
		{name: "one edit", a: "moulinex", b: "moulinez", min: 0.85, max: 0.95},
		{name: "unrelated", a: "moulinex", b: "zzzzzzzz", min: 0, max: 0.2},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Ratio(tc.a, tc.b)
			if got < tc.min || got > tc.max {
				t.Fatalf("ratio %v outside [%v, %v]", got, tc.min, tc.max)
			}
		})
	}
}

func TestRatioSymmetry(t *testing.T) {
	if Ratio("stud roller", "roller stud") != Ratio("roller stud", "stud roller") {
		t.Fatal("ratio must be symmetric")
	}
}

func TestDiceCoefficient(t *testing.T) {
	if got := DiceCoefficient("night", "nacht"); got <= 0 || got >= 1 {
		t.Fatalf("expected partial overlap, got %v", got)
	}
	if got := DiceCoefficient("abc", "abc"); got != 1 {
		t.Fatalf("identical strings should score 1, got %v", got)
	}
}

func TestSignificantWords(t *testing.T) {
	words := SignificantWords("le stud de LIFT ROLLER")
	want := map[string]bool{"stud": true, "lift": true, "roller": true}
	if len(words) != len(want) {
		t.Fatalf("got %v", words)
	}
	for _, w := range words {
		if !want[w] {
			t.Fatalf("unexpected word %q", w)
		}
	}
}
