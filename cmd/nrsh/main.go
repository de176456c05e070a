// nrsh evaluates expressions on a running nREPL server and routes the
// results to scripts: stdout and stderr are mirrored, values print one
// per line, and the exit code says what happened (0 ok, 1 failure,
// 2 timeout).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/sammck-go/logger"

	"github.com/nrsh-go/nrsh/pkg/nrepl"
	"github.com/nrsh-go/nrsh/pkg/output"
	"github.com/nrsh-go/nrsh/pkg/route"
)

var (
	exprs = newStringsOpt("e", nil, "expression to evaluate (repeatable); positional arguments are appended")

	connArg      = flag.String("p", "", "connection expression: port set, addr:ports, [user@]hop[:port]:addr:ports, or an alias")
	portFile     = flag.String("port-file", "", "read the port from this file instead of searching for .nrepl-port")
	waitPortFile = flag.Duration("wait-port-file", 0, "wait up to this long for the port file to appear")
	hostsFile    = flag.String("hosts-file", defaultHostsPath(), "alias file of alias=expression lines")

	outSpec     = flag.String("out", output.SpecStdout, "sink for the server's stdout: - stdout, = stderr, none, or a path")
	errSpec     = flag.String("err", output.SpecStderr, "sink for the server's stderr")
	resultsSpec = flag.String("results", output.SpecStdout, "sink for result values, one per line")

	runTimeout  = flag.Duration("timeout", 0, "abort the whole run after this duration (exit code 2)")
	dialTimeout = flag.Duration("dial-timeout", 5*time.Second, "per-candidate dial timeout")
	ns          = flag.String("ns", "", "namespace to evaluate in")
	strict      = flag.Bool("strict", false, "stop at the first evaluation error and exit 1")
	nativeSSH   = flag.Bool("native-ssh", false, "tunnel with the built-in ssh client (agent auth) instead of the ssh binary")
	verbose     = flag.Bool("v", false, "debug logging on stderr")
)

func main() {
	flag.Parse()
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "nrsh: %s\n", err)
	}
	os.Exit(exitCodeFor(err))
}

// exitCodeFor maps run's error to the process exit code. An evaluation
// error only escapes run under -strict, where it means failure.
func exitCodeFor(err error) int {
	code := nrepl.ExitCode(err)
	var evalErr *nrepl.EvaluationError
	if code == 0 && errors.As(err, &evalErr) {
		code = 1
	}
	return code
}

func run() error {
	expressions := append(exprs.List(), flag.Args()...)
	if len(expressions) == 0 {
		return fmt.Errorf("nothing to evaluate; pass expressions with -e or as arguments")
	}

	logLevel := logger.LogLevelWarning
	if *verbose {
		logLevel = logger.LogLevelDebug
	}
	log, err := logger.New(
		logger.WithWriter(os.Stderr),
		logger.WithLogLevel(logLevel),
		logger.WithPrefix("nrsh"),
	)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	exprStr, err := connectionExpression(ctx, log)
	if err != nil {
		return err
	}

	resolver := &route.Resolver{
		Logger:      log,
		DialTimeout: *dialTimeout,
		Aliases:     aliasResolver(log),
	}
	if *nativeSSH {
		resolver.Mode = route.TunnelNative
	}
	conn, err := resolver.Resolve(ctx, exprStr)
	if err != nil {
		return err
	}

	client := nrepl.NewClient(conn, nrepl.Options{Logger: log, Timeout: *runTimeout})
	defer client.Close()

	router, sinks, err := output.Open(log, *outSpec, *errSpec, *resultsSpec)
	if err != nil {
		return err
	}
	defer sinks.Close()

	sess, err := client.Open(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()

	return evalAll(ctx, log, sess, expressions, nrepl.EvalOptions{Ns: *ns}, router, *strict)
}

// evaluator is the part of a session the eval loop needs.
type evaluator interface {
	Eval(ctx context.Context, code string, opts nrepl.EvalOptions, sink nrepl.EvalSink) error
}

// evalAll evaluates expressions in order. A remote evaluation error is
// reported but does not stop the remaining expressions or fail the run
// unless strict; anything else aborts immediately.
func evalAll(ctx context.Context, log logger.Logger, sess evaluator, expressions []string, opts nrepl.EvalOptions, sink nrepl.EvalSink, strict bool) error {
	for _, code := range expressions {
		err := sess.Eval(ctx, code, opts, sink)
		if err == nil {
			continue
		}
		var evalErr *nrepl.EvaluationError
		if !errors.As(err, &evalErr) {
			return err
		}
		if strict {
			return err
		}
		log.WLogf("Evaluation failed, continuing: %s", evalErr)
	}
	return nil
}

// connectionExpression picks where to connect: the -p expression when
// given, otherwise a port file.
func connectionExpression(ctx context.Context, log logger.Logger) (string, error) {
	if *connArg != "" {
		return *connArg, nil
	}

	path := *portFile
	if path == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return "", err
		}
		found, err := route.FindPortFile(cwd)
		if err != nil {
			if *waitPortFile <= 0 {
				return "", err
			}
			// Nothing yet; wait for one to land in the cwd.
			found = route.PortFileName
		}
		path = found
	}

	if *waitPortFile > 0 {
		waitCtx, cancel := context.WithTimeout(ctx, *waitPortFile)
		defer cancel()
		port, err := route.AwaitPortFile(waitCtx, log, path)
		if err != nil {
			if waitCtx.Err() != nil && ctx.Err() == nil {
				return "", &nrepl.TimeoutError{Op: "port file wait", Limit: *waitPortFile}
			}
			return "", err
		}
		return fmt.Sprintf("%d", port), nil
	}

	port, err := route.ReadPortFile(path)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d", port), nil
}

// aliasResolver loads the hosts file lazily, on the first alias that
// actually needs it. A missing default file just means no aliases.
func aliasResolver(log logger.Logger) route.AliasResolver {
	var hosts map[string]string
	var loadErr error
	loaded := false
	return func(alias string) (string, error) {
		if !loaded {
			loaded = true
			path := *hostsFile
			if path == "" {
				loadErr = fmt.Errorf("no hosts file configured")
			} else if hosts, loadErr = loadHosts(path); loadErr != nil && os.IsNotExist(loadErr) {
				loadErr = fmt.Errorf("unknown host alias (no hosts file at %s)", path)
			}
			if loadErr == nil {
				log.DLogf("Loaded %d host aliases from %s", len(hosts), path)
			}
		}
		if loadErr != nil {
			return "", loadErr
		}
		expr, ok := hosts[alias]
		if !ok {
			return "", fmt.Errorf("unknown host alias %q", alias)
		}
		return expr, nil
	}
}
