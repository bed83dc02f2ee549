// Package script runs J script files one sentence at a time.
package script

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("jfe.script")

// Sentence is one line of a script that will be executed.
type Sentence struct {
	Line int
	Text string
}

// Result is the outcome of one sentence.
type Result struct {
	Line     int
	Sentence string
	Status   int
	Output   string
}

// Failed reports whether the engine rejected the sentence.
func (r Result) Failed() bool { return r.Status != 0 }

// Runner executes sentences. *command.Protocol implements it.
type Runner interface {
	Run(sentence string) (int, error)
	Output() string
}

// Split breaks a script into sentences, skipping blank lines and lines
// that hold only a comment. Line numbers start at 1.
//
// An explicit definition such as "f =: 3 : 0" takes every following line
// up to one holding only ")" as its body. The whole block is one sentence
// with its lines joined by LF, numbered by its first line. A block left
// open runs to the end of the script.
func Split(src string) []Sentence {
	var out []Sentence
	var block []string
	start := 0
	for i, line := range strings.Split(src, "\n") {
		line = strings.TrimRight(line, "\r")
		trimmed := strings.TrimSpace(line)
		if block != nil {
			block = append(block, line)
			if trimmed == ")" {
				out = append(out, Sentence{Line: start, Text: strings.Join(block, "\n")})
				block = nil
			}
			continue
		}
		if trimmed == "" || strings.HasPrefix(trimmed, "NB.") {
			continue
		}
		if opensDefinition(line) {
			block = []string{line}
			start = i + 1
			continue
		}
		out = append(out, Sentence{Line: i + 1, Text: line})
	}
	if block != nil {
		for len(block) > 1 && strings.TrimSpace(block[len(block)-1]) == "" {
			block = block[:len(block)-1]
		}
		out = append(out, Sentence{Line: start, Text: strings.Join(block, "\n")})
	}
	return out
}

var definitionRE = regexp.MustCompile(`(^|[^A-Za-z0-9_])([0-4]|noun|adverb|conjunction|verb|monad|dyad)\s*:\s*0$|(^|\s|=[.:])\s*define$`)

// opensDefinition reports whether the code part of line ends in a
// "m : 0" explicit definition whose body follows on later lines.
func opensDefinition(line string) bool {
	return definitionRE.MatchString(strings.TrimSpace(stripComment(line)))
}

// stripComment drops a trailing NB. comment that is not inside a quoted
// literal.
func stripComment(line string) string {
	quoted := false
	for i := 0; i < len(line); i++ {
		switch {
		case line[i] == '\'':
			quoted = !quoted
		case !quoted && strings.HasPrefix(line[i:], "NB."):
			return line[:i]
		}
	}
	return line
}

// Run executes the sentences of src in order and stops after the first
// one with a non-zero status. The error is only set when a sentence could
// not be handed to the engine at all.
func Run(r Runner, src string) ([]Result, error) {
	var results []Result
	for _, s := range Split(src) {
		code, err := r.Run(s.Text)
		if err != nil {
			return results, fmt.Errorf("line %d: %w", s.Line, err)
		}
		res := Result{Line: s.Line, Sentence: s.Text, Status: code, Output: r.Output()}
		results = append(results, res)
		if res.Failed() {
			log.Infof("line %d: status %d", s.Line, code)
			break
		}
	}
	return results, nil
}

// RunFile reads and runs the script at path.
func RunFile(r Runner, path string) ([]Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	log.Debugf("running %s", path)
	return Run(r, string(data))
}

// Failure returns the failing result of a run, if any.
func Failure(results []Result) (Result, bool) {
	if n := len(results); n > 0 && results[n-1].Failed() {
		return results[n-1], true
	}
	return Result{}, false
}
