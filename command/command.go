// Package command runs J text against a session and decodes what it
// produces.
//
// EvalValue and EvalBinary assign the expression to a scratch name and
// decode that name, so a Protocol owns one engine name for its lifetime.
// A Protocol is not safe for concurrent use.
package command

import (
	"fmt"
	"regexp"

	"github.com/tliron/commonlog"

	"github.com/chazu/jfe/decode"
	"github.com/chazu/jfe/jarray"
)

var log = commonlog.GetLogger("jfe.command")

// DefaultScratch is the name results are assigned to: a locative in a
// locale of its own, so it cannot clash with user names in base.
const DefaultScratch = "result_jfe_"

var nameRE = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// Engine is the part of an engine session a Protocol needs.
// *engine.Session implements it.
type Engine interface {
	decode.Describer
	Execute(sentence string) (int, error)
	CapturedOutput() string
}

// StatusError is returned by the Eval methods when the engine reports a
// non-zero status for the sentence they ran.
type StatusError struct {
	Code     int
	Sentence string
	Output   string
}

func (e *StatusError) Error() string {
	if e.Output == "" {
		return fmt.Sprintf("command: %q: status %d", e.Sentence, e.Code)
	}
	return fmt.Sprintf("command: %q: status %d: %s", e.Sentence, e.Code, e.Output)
}

// Option configures New.
type Option func(*Protocol) error

// WithScratch sets the scratch name. It must be a valid J name.
func WithScratch(name string) Option {
	return func(p *Protocol) error {
		if !ValidName(name) {
			return fmt.Errorf("command: invalid scratch name %q", name)
		}
		p.scratch = name
		return nil
	}
}

// ValidName reports whether s is a J name, locatives included.
func ValidName(s string) bool {
	return nameRE.MatchString(s)
}

// Protocol is the command protocol over one session.
type Protocol struct {
	eng     Engine
	scratch string
}

// New returns a Protocol over eng.
func New(eng Engine, opts ...Option) (*Protocol, error) {
	p := &Protocol{eng: eng, scratch: DefaultScratch}
	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Scratch returns the name results are assigned to.
func (p *Protocol) Scratch() string {
	return p.scratch
}

// Run executes cmd and returns the engine status unchanged.
func (p *Protocol) Run(cmd string) (int, error) {
	return p.eng.Execute(cmd)
}

// Output returns the captured output of the last sentence.
func (p *Protocol) Output() string {
	return p.eng.CapturedOutput()
}

// exec runs sentence and converts a non-zero status into a StatusError.
func (p *Protocol) exec(sentence string) error {
	code, err := p.eng.Execute(sentence)
	if err != nil {
		return err
	}
	if code != 0 {
		out := p.eng.CapturedOutput()
		log.Noticef("%q: status %d", sentence, code)
		return &StatusError{Code: code, Sentence: sentence, Output: out}
	}
	return nil
}

func (p *Protocol) assign(expr string) error {
	return p.exec(p.scratch + " =: " + expr)
}

// EvalText executes expr and returns the engine's formatted output. On a
// non-zero status the output, usually the engine's error message, is
// returned together with a *StatusError.
func (p *Protocol) EvalText(expr string) (string, error) {
	if err := p.exec(expr); err != nil {
		if se, ok := err.(*StatusError); ok {
			return se.Output, err
		}
		return "", err
	}
	return p.eng.CapturedOutput(), nil
}

// EvalValue evaluates expr and decodes the result.
func (p *Protocol) EvalValue(expr string) (jarray.Value, error) {
	if err := p.assign(expr); err != nil {
		return jarray.Value{}, err
	}
	return decode.Value(p.eng, p.scratch)
}

// EvalBinary evaluates expr and captures the literal result in binary
// form. A non-literal result fails with decode.ErrTypeMismatch.
func (p *Protocol) EvalBinary(expr string) (jarray.Raw, error) {
	if err := p.assign(expr); err != nil {
		return jarray.Raw{}, err
	}
	return decode.Binary(p.eng, p.scratch)
}

// Names returns the names bound in the current locale.
func (p *Protocol) Names() ([]string, error) {
	v, err := p.EvalValue("> 4!:1 ] 0 1 2 3")
	if err != nil {
		return nil, err
	}
	if _, ok := v.Payload.(jarray.Boxed); ok {
		// Nothing bound: opening an empty list of boxes stays boxed.
		return nil, nil
	}
	var names []string
	for _, n := range v.Rows() {
		if n != p.scratch {
			names = append(names, n)
		}
	}
	return names, nil
}
