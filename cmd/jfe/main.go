// jfe CLI - runs J sentences against an embedded engine, locally or through
// a jfe server
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/jfe/command"
	"github.com/chazu/jfe/config"
	"github.com/chazu/jfe/engine"
	"github.com/chazu/jfe/history"
	"github.com/chazu/jfe/script"
	"github.com/chazu/jfe/server"
)

var log = commonlog.GetLogger("jfe")

// localSession names the transcript of the local REPL, so history carries
// over between runs.
const localSession = "local"

func main() {
	verbose := flag.Bool("v", false, "Verbose (debug) logging")
	configDir := flag.String("C", ".", "Directory to search for jfe.toml (walks up)")
	expr := flag.String("e", "", "Run one sentence and print its output")
	valueExpr := flag.String("value", "", "Evaluate an expression and print the decoded value")
	binaryExpr := flag.String("binary", "", "Evaluate a literal expression and print its binary capture")
	format := flag.String("o", formatText, "Output format for -value and -binary: text, json, cbor")
	watchFile := flag.String("watch", "", "Run a script and rerun it whenever it changes")
	historyN := flag.Int("history", 0, "Print the last N recorded sentences")
	noProfile := flag.Bool("no-profile", false, "Skip the profile script")
	remote := flag.String("remote", "", "Use a jfe server at this URL instead of a local engine")
	sessionID := flag.String("session", "", "Remote session ID (default session if empty)")
	serveMode := flag.Bool("serve", false, "Start the Connect server (HTTP/JSON)")
	addr := flag.String("addr", "", "Server address (default from jfe.toml)")
	lspMode := flag.Bool("lsp", false, "Start the language server on stdio")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: jfe [options] [script.ijs...]\n\n")
		fmt.Fprintf(os.Stderr, "Runs J through an embedded engine. Scripts given as arguments run first.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  jfe                          # Start REPL\n")
		fmt.Fprintf(os.Stderr, "  jfe -e '+/ i. 10'            # Run one sentence\n")
		fmt.Fprintf(os.Stderr, "  jfe -value 'i. 2 3' -o json  # Decode a value as JSON\n")
		fmt.Fprintf(os.Stderr, "  jfe -binary \"'abc'\"          # Capture a literal byte for byte\n")
		fmt.Fprintf(os.Stderr, "  jfe -watch build.ijs         # Rerun a script on every save\n")
		fmt.Fprintf(os.Stderr, "\nServers:\n")
		fmt.Fprintf(os.Stderr, "  jfe -serve                   # Serve sessions on the configured address\n")
		fmt.Fprintf(os.Stderr, "  jfe -serve -addr :9000       # Serve on :9000\n")
		fmt.Fprintf(os.Stderr, "  jfe -lsp                     # Language server for editors\n")
		fmt.Fprintf(os.Stderr, "  jfe -remote http://localhost:8975 -e 'x =: 1'\n")
	}
	flag.Parse()

	os.Exit(run(cliOptions{
		verbose:   *verbose,
		configDir: *configDir,
		noProfile: *noProfile,
		remote:    *remote,
		session:   *sessionID,
		serve:     *serveMode,
		addr:      *addr,
		lsp:       *lspMode,
		watch:     *watchFile,
		args: frontEndArgs{
			scripts: flag.Args(),
			expr:    *expr,
			value:   *valueExpr,
			binary:  *binaryExpr,
			format:  *format,
			history: *historyN,
		},
	}))
}

type cliOptions struct {
	verbose   bool
	configDir string
	noProfile bool
	remote    string
	session   string
	serve     bool
	addr      string
	lsp       bool
	watch     string
	args      frontEndArgs
}

// run does everything main does and returns the exit code, so deferred
// cleanup happens before the process exits.
func run(opts cliOptions) int {
	if !validFormat(opts.args.format) {
		fmt.Fprintf(os.Stderr, "Error: unknown output format %q\n", opts.args.format)
		return 2
	}

	cfg, err := config.FindAndLoad(opts.configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if opts.verbose {
		cfg.Log.Verbosity = 2
	}
	configureLogging(cfg)
	if opts.noProfile {
		cfg.Engine.Profile = ""
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var store *history.Store
	if cfg.History.Enabled && opts.remote == "" {
		store, err = history.Open(cfg.HistoryPath())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		defer store.Close()
	}

	if opts.serve {
		if opts.addr != "" {
			cfg.Server.Addr = opts.addr
		}
		if err := serve(ctx, cfg, store); err != nil {
			fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
			return 1
		}
		return 0
	}

	if opts.lsp {
		if err := serveLSP(cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		return 0
	}

	if opts.remote != "" {
		fe := newRemoteFrontEnd(opts.remote, opts.session)
		return runFrontEnd(ctx, fe, opts.args, os.Stdin, os.Stdout, os.Stderr)
	}

	proto, closeFn, err := openLocal(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer closeFn()

	if opts.watch != "" {
		if err := watch(ctx, proto, opts.watch, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		return 0
	}

	fe := &localFrontEnd{proto: proto, history: store, session: localSession}
	return runFrontEnd(ctx, fe, opts.args, os.Stdin, os.Stdout, os.Stderr)
}

// configureLogging points commonlog at the configured file, or stderr.
func configureLogging(cfg *config.Config) {
	if path := cfg.LogPath(); path != "" {
		commonlog.Configure(cfg.Log.Verbosity, &path)
		return
	}
	commonlog.Configure(cfg.Log.Verbosity, nil)
}

// callbacks keeps the engine quiet: output is read back through the
// protocol and printed by the caller, which also keeps stdout clean for
// the language server.
func callbacks(cfg *config.Config) engine.Callbacks {
	return engine.Callbacks{
		Read: func(string) string { return engine.DefaultInput },
		Kind: cfg.SessionKind(),
	}
}

func protocolOptions(cfg *config.Config) []command.Option {
	return []command.Option{command.WithScratch(cfg.Protocol.Scratch)}
}

// openSession loads the engine library named by cfg.
func openSession(cfg *config.Config) (*engine.Session, error) {
	return engine.Open(cfg.LibraryPath(), engine.WithCallbacks(callbacks(cfg)))
}

// openLocal opens a session, wraps it in a protocol and runs the profile.
func openLocal(cfg *config.Config) (*command.Protocol, func(), error) {
	sess, err := openSession(cfg)
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() {
		if err := sess.Close(); err != nil {
			log.Warningf("close: %v", err)
		}
	}
	proto, err := command.New(sess, protocolOptions(cfg)...)
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	if err := runProfile(proto, cfg.ProfilePath()); err != nil {
		closeFn()
		return nil, nil, err
	}
	return proto, closeFn, nil
}

func runProfile(proto *command.Protocol, path string) error {
	if path == "" {
		return nil
	}
	log.Infof("running profile %s", path)
	results, err := script.RunFile(proto, path)
	if err != nil {
		return fmt.Errorf("profile: %w", err)
	}
	if res, failed := script.Failure(results); failed {
		return fmt.Errorf("profile %s line %d: status %d: %s", path, res.Line, res.Status, res.Output)
	}
	return nil
}

func serve(ctx context.Context, cfg *config.Config, store *history.Store) error {
	opts := []server.ServerOption{
		server.WithSnapshotTTL(cfg.Server.SnapshotTTL, cfg.Server.SweepInterval),
		server.WithEvalTimeout(cfg.Server.EvalTimeout),
		server.WithProfile(cfg.ProfilePath()),
		server.WithProtocolOptions(protocolOptions(cfg)...),
	}
	if store != nil {
		opts = append(opts, server.WithHistory(store))
	}
	srv, err := server.New(func() (*engine.Session, error) { return openSession(cfg) }, opts...)
	if err != nil {
		return err
	}
	defer srv.Stop()

	go func() {
		<-ctx.Done()
		srv.Stop()
	}()
	return srv.ListenAndServe(cfg.Server.Addr)
}

func serveLSP(cfg *config.Config) error {
	sess, err := openSession(cfg)
	if err != nil {
		return err
	}
	proto, err := command.New(sess, protocolOptions(cfg)...)
	if err != nil {
		sess.Close()
		return err
	}
	if err := runProfile(proto, cfg.ProfilePath()); err != nil {
		sess.Close()
		return err
	}
	// The worker owns the session from here and closes it on shutdown.
	return server.NewLSP(server.NewEngineWorker(sess, proto)).Run()
}

// watch runs path now and again after every change until ctx ends.
func watch(ctx context.Context, proto *command.Protocol, path string, w io.Writer) error {
	runOnce := func() {
		results, err := script.RunFile(proto, path)
		reportScript(w, path, results, err)
	}
	runOnce()
	return script.Watch(ctx, path, script.DefaultDebounce, func() {
		fmt.Fprintf(w, "--- %s changed\n", path)
		runOnce()
	})
}

// reportScript prints the output of a script run and where it stopped.
// It reports whether the whole script succeeded.
func reportScript(w io.Writer, path string, results []script.Result, err error) bool {
	for _, res := range results {
		writeOutput(w, res.Output)
	}
	if err != nil {
		fmt.Fprintf(w, "Error: %v\n", err)
		return false
	}
	if res, failed := script.Failure(results); failed {
		fmt.Fprintf(w, "%s:%d: status %d\n", path, res.Line, res.Status)
		return false
	}
	return true
}

type frontEndArgs struct {
	scripts []string
	expr    string
	value   string
	binary  string
	format  string
	history int
}

// runFrontEnd runs the scripts and one-shot modes in args, or the REPL if
// there are none, and returns the process exit code.
func runFrontEnd(ctx context.Context, fe frontEnd, args frontEndArgs, in io.Reader, out, errOut io.Writer) int {
	for _, path := range args.scripts {
		results, err := script.RunFile(&scriptRunner{ctx: ctx, fe: fe}, path)
		if !reportScript(out, path, results, err) {
			return 1
		}
	}

	oneShot := args.expr != "" || args.value != "" || args.binary != "" || args.history > 0
	code := 0
	fail := func(err error) {
		fmt.Fprintf(errOut, "Error: %v\n", err)
		code = 1
	}

	if args.expr != "" {
		status, text, err := fe.Run(ctx, args.expr)
		if err != nil {
			fail(err)
		} else {
			writeOutput(out, text)
			if status != 0 {
				code = 1
			}
		}
	}
	if args.value != "" {
		if v, err := fe.Value(ctx, args.value); err != nil {
			fail(err)
		} else if err := printValue(out, v, args.format); err != nil {
			fail(err)
		}
	}
	if args.binary != "" {
		if r, err := fe.Binary(ctx, args.binary); err != nil {
			fail(err)
		} else if err := printRaw(out, r, args.format); err != nil {
			fail(err)
		}
	}
	if args.history > 0 {
		if entries, err := fe.History(ctx, args.history); err != nil {
			fail(err)
		} else {
			printHistory(out, entries)
		}
	}

	if !oneShot && len(args.scripts) == 0 {
		(&repl{fe: fe, in: in, out: out, format: args.format}).run(ctx)
	}
	return code
}

func writeOutput(w io.Writer, text string) {
	if text == "" {
		return
	}
	fmt.Fprint(w, text)
	if text[len(text)-1] != '\n' {
		fmt.Fprintln(w)
	}
}
