package engine

import (
	"fmt"
	"io"
	"strings"
)

// OutputKind is the engine's classification of text passed to Write.
type OutputKind int

const (
	OutputFormatted OutputKind = 1
	OutputError     OutputKind = 2
	OutputLog       OutputKind = 3
	OutputSystem    OutputKind = 4
	OutputExit      OutputKind = 5
	OutputFile      OutputKind = 6
)

func (k OutputKind) String() string {
	switch k {
	case OutputFormatted:
		return "formatted"
	case OutputError:
		return "error"
	case OutputLog:
		return "log"
	case OutputSystem:
		return "system"
	case OutputExit:
		return "exit"
	case OutputFile:
		return "file"
	}
	return fmt.Sprintf("output(%d)", int(k))
}

// SessionKind tells the engine which front end it is talking to.
type SessionKind int

const (
	KindWindows SessionKind = 0
	KindJava    SessionKind = 2
	KindConsole SessionKind = 3
)

// ParseSessionKind maps a config name to a SessionKind.
func ParseSessionKind(s string) (SessionKind, error) {
	switch strings.ToLower(s) {
	case "", "console":
		return KindConsole, nil
	case "java":
		return KindJava, nil
	case "windows":
		return KindWindows, nil
	}
	return 0, fmt.Errorf("engine: unknown session kind %q", s)
}

// DefaultInput is what the default Read callback answers with.
const DefaultInput = "i.3 3"

// Callbacks is the per-session front-end configuration. The engine may
// call Write, Read and Window synchronously from inside Execute.
type Callbacks struct {
	// Write receives text the engine displays.
	Write func(kind OutputKind, text string)

	// Read answers an engine request for a line of input.
	Read func(prompt string) string

	// Window is the window driver.
	Window func(op int) int

	Kind SessionKind
}

// DefaultCallbacks prints engine output to w, answers reads with
// DefaultInput and ignores window driver calls.
func DefaultCallbacks(w io.Writer) Callbacks {
	return Callbacks{
		Write: func(_ OutputKind, text string) {
			fmt.Fprint(w, text)
		},
		Read:   func(string) string { return DefaultInput },
		Window: func(int) int { return 0 },
		Kind:   KindConsole,
	}
}

// complete fills unset callbacks with silent ones.
func (c Callbacks) complete() Callbacks {
	if c.Write == nil {
		c.Write = func(OutputKind, string) {}
	}
	if c.Read == nil {
		c.Read = func(string) string { return "" }
	}
	if c.Window == nil {
		c.Window = func(int) int { return 0 }
	}
	return c
}
