package enginetest

import (
	"testing"

	"github.com/chazu/jfe/engine"
)

func run(t *testing.T, in *Instance, sentence string) (string, int) {
	t.Helper()
	code := in.Do(engine.MustCString(sentence))
	return in.GetR(), code
}

func TestDisplay(t *testing.T) {
	lib := New()
	i, err := lib.Init()
	if err != nil {
		t.Fatal(err)
	}
	in := i.(*Instance)

	tests := []struct {
		sentence string
		want     string
	}{
		{"1 + 2", "3\n"},
		{"- 3", "_3\n"},
		{"i. 5", "0 1 2 3 4\n"},
		{"2 3 $ 1 _10 100", "1 _10 100\n1 _10 100\n"},
		{"*: 1 2 3", "1 4 9\n"},
		{"'abc'", "abc\n"},
		{"$ 2 3 $ 0", "2 3\n"},
		{"# 'hello'", "5\n"},
		{"< 'ab'", "+--+\n|ab|\n+--+\n"},
		{"(< 1 2) , < 'x'", "+---+-+\n|1 2|x|\n+---+-+\n"},
		{"2 2 2 $ i. 8", "0 1\n2 3\n\n4 5\n6 7\n"},
		{"x =: 5", ""},
		{"NB. nothing", ""},
	}
	for _, tt := range tests {
		got, code := run(t, in, tt.sentence)
		if code != 0 {
			t.Errorf("%q: status %d (%q)", tt.sentence, code, got)
			continue
		}
		if got != tt.want {
			t.Errorf("%q: got %q, want %q", tt.sentence, got, tt.want)
		}
	}
}

func TestErrors(t *testing.T) {
	lib := New()
	i, _ := lib.Init()
	in := i.(*Instance)

	tests := []struct {
		sentence string
		code     int
	}{
		{"nope", codeValue},
		{"1 2 + 1 2 3", codeLength},
		{"'a' + 1", codeDomain},
		{"1 2 )", codeSyntax},
		{"'open", codeSyntax},
	}
	for _, tt := range tests {
		if _, code := run(t, in, tt.sentence); code != tt.code {
			t.Errorf("%q: got status %d, want %d", tt.sentence, code, tt.code)
		}
	}
}

func TestOpenNames(t *testing.T) {
	lib := New()
	i, _ := lib.Init()
	in := i.(*Instance)

	run(t, in, "beta =: 1")
	run(t, in, "alpha =: 2")
	got, _ := run(t, in, "> 4!:1 ] 0")
	if got != "alpha\nbeta \n" {
		t.Errorf("got %q", got)
	}
}

func TestRecordLayout(t *testing.T) {
	a := charList("hi")
	rec := record(a)
	if len(rec) != 5*8+8 {
		t.Fatalf("record length: got %d", len(rec))
	}
	if string(rec[40:42]) != "hi" {
		t.Errorf("payload: got %q", rec[40:42])
	}
}
