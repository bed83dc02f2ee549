package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/chazu/jfe/script"
)

const (
	prompt         = "   "
	defaultHistory = 20
)

// repl is an interactive read-eval-print loop over a front end.
type repl struct {
	fe     frontEnd
	in     io.Reader
	out    io.Writer
	format string
}

// run reads sentences until end of input or exit. Every line is one
// sentence; lines starting with ':' are REPL commands.
func (r *repl) run(ctx context.Context) {
	fmt.Fprintln(r.out, "jfe (type 'exit' to quit, ':help' for commands)")

	scanner := bufio.NewScanner(r.in)
	for {
		fmt.Fprint(r.out, prompt)
		if !scanner.Scan() {
			break
		}
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)

		switch {
		case trimmed == "":
			continue
		case trimmed == "exit" || trimmed == "quit":
			return
		case strings.HasPrefix(trimmed, ":"):
			r.command(ctx, trimmed)
		default:
			r.evalAndPrint(ctx, line)
		}
	}
	fmt.Fprintln(r.out)
}

// evalAndPrint runs a sentence and prints whatever the engine displayed.
func (r *repl) evalAndPrint(ctx context.Context, sentence string) {
	_, out, err := r.fe.Run(ctx, sentence)
	if err != nil {
		fmt.Fprintf(r.out, "Error: %v\n", err)
		return
	}
	writeOutput(r.out, out)
}

func (r *repl) command(ctx context.Context, line string) {
	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case ":help", ":h", ":?":
		fmt.Fprintln(r.out, "REPL Commands:")
		fmt.Fprintln(r.out, "  :help, :h, :?      Show this help")
		fmt.Fprintln(r.out, "  :names [prefix]    List bound names")
		fmt.Fprintln(r.out, "  :value <expr>      Decode the value of an expression")
		fmt.Fprintln(r.out, "  :binary <expr>     Capture a literal result byte for byte")
		fmt.Fprintln(r.out, "  :history [n]       Show the last n sentences")
		fmt.Fprintln(r.out, "  :load <file>       Run a script")
		fmt.Fprintln(r.out, "  exit, quit         Exit REPL")
	case ":names":
		names, err := r.fe.Complete(ctx, arg)
		if err != nil {
			fmt.Fprintf(r.out, "Error: %v\n", err)
			return
		}
		if len(names) > 0 {
			fmt.Fprintln(r.out, strings.Join(names, " "))
		}
	case ":value":
		if r.needArg(cmd, arg) {
			v, err := r.fe.Value(ctx, arg)
			if err != nil {
				fmt.Fprintf(r.out, "Error: %v\n", err)
				return
			}
			if err := printValue(r.out, v, r.textual()); err != nil {
				fmt.Fprintf(r.out, "Error: %v\n", err)
			}
		}
	case ":binary":
		if r.needArg(cmd, arg) {
			raw, err := r.fe.Binary(ctx, arg)
			if err != nil {
				fmt.Fprintf(r.out, "Error: %v\n", err)
				return
			}
			if err := printRaw(r.out, raw, r.textual()); err != nil {
				fmt.Fprintf(r.out, "Error: %v\n", err)
			}
		}
	case ":history":
		n := defaultHistory
		if arg != "" {
			v, err := strconv.Atoi(arg)
			if err != nil || v <= 0 {
				fmt.Fprintf(r.out, "Error: bad count %q\n", arg)
				return
			}
			n = v
		}
		entries, err := r.fe.History(ctx, n)
		if err != nil {
			fmt.Fprintf(r.out, "Error: %v\n", err)
			return
		}
		printHistory(r.out, entries)
	case ":load":
		if r.needArg(cmd, arg) {
			results, err := script.RunFile(&scriptRunner{ctx: ctx, fe: r.fe}, arg)
			reportScript(r.out, arg, results, err)
		}
	default:
		fmt.Fprintf(r.out, "Unknown command: %s (type :help for commands)\n", cmd)
	}
}

func (r *repl) needArg(cmd, arg string) bool {
	if arg == "" {
		fmt.Fprintf(r.out, "Usage: %s <arg>\n", cmd)
		return false
	}
	return true
}

// textual keeps binary CBOR off the terminal.
func (r *repl) textual() string {
	if r.format == formatCBOR {
		return formatText
	}
	return r.format
}

// scriptRunner adapts a front end to script.Runner.
type scriptRunner struct {
	ctx  context.Context
	fe   frontEnd
	last string
}

func (s *scriptRunner) Run(sentence string) (int, error) {
	code, out, err := s.fe.Run(s.ctx, sentence)
	s.last = out
	return code, err
}

func (s *scriptRunner) Output() string { return s.last }
