package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/HyphaGroup/airops-go"
	"github.com/HyphaGroup/airops-go/chat"
	"github.com/HyphaGroup/airops-go/execution"
	"github.com/HyphaGroup/airops-go/internal/audit"
	"github.com/HyphaGroup/airops-go/internal/config"
	"github.com/HyphaGroup/airops-go/internal/logger"
	"github.com/HyphaGroup/airops-go/internal/store"
	"github.com/HyphaGroup/airops-go/internal/validation"
	"github.com/HyphaGroup/airops-go/realtime"
)

// env is the shared state every command runs with
type env struct {
	cfg     *config.LoadedConfig
	client  *airops.Client
	history *store.Store
	audit   *audit.Logger
}

func setup(configDir string) (*env, error) {
	cfg, err := config.LoadAll(configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := logger.Init(logger.Options{
		Dir:   cfg.Logging.Dir,
		JSON:  cfg.Logging.JSON,
		Level: cfg.Logging.Level,
		Out:   os.Stderr,
	}); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	history, err := store.Open(cfg.Storage.DataDir)
	if err != nil {
		_ = logger.CloseSlog()
		return nil, fmt.Errorf("failed to open history: %w", err)
	}

	client, err := cfg.NewClient(
		airops.WithRecorder(history),
		airops.WithLogger(logger.Slog()),
	)
	if err != nil {
		_ = history.Close()
		_ = logger.CloseSlog()
		return nil, err
	}

	return &env{
		cfg:     cfg,
		client:  client,
		history: history,
		audit:   audit.New(cfg.Logging.Audit, os.Stderr),
	}, nil
}

func (e *env) Close() {
	_ = e.client.Close()
	_ = e.history.Close()
	_ = logger.CloseSlog()
}

// resolveApp maps a configured app name to its id and default version
func (e *env) resolveApp(nameOrID string) (string, int, error) {
	appID, version := e.cfg.Registry.Resolve(nameOrID)
	if err := validation.ValidateAppID(appID); err != nil {
		return "", 0, err
	}
	return appID, version, nil
}

// parseArgs parses flags that may appear before, between or after
// positional arguments
func parseArgs(fs *flag.FlagSet, args []string) ([]string, error) {
	var positional []string
	for {
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
		rest := fs.Args()
		if len(rest) == 0 {
			return positional, nil
		}
		if rest[0] == "--" {
			return append(positional, rest[1:]...), nil
		}
		positional = append(positional, rest[0])
		args = rest[1:]
	}
}

// inputFlags collects repeated --input key=value flags
type inputFlags map[string]any

func (f inputFlags) String() string {
	pairs := make([]string, 0, len(f))
	for k, v := range f {
		pairs = append(pairs, fmt.Sprintf("%s=%v", k, v))
	}
	return strings.Join(pairs, ",")
}

func (f inputFlags) Set(value string) error {
	key, raw, ok := strings.Cut(value, "=")
	if !ok || key == "" {
		return fmt.Errorf("input %q must be key=value", value)
	}
	f[key] = parseInputValue(raw)
	return nil
}

// parseInputValue decodes raw as JSON, keeping it as a string otherwise
func parseInputValue(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		return v
	}
	return raw
}

// buildInputs merges the --inputs object with individual --input flags
func buildInputs(inputsJSON string, inputs inputFlags) (map[string]any, error) {
	merged := make(map[string]any)
	if inputsJSON != "" {
		if err := json.Unmarshal([]byte(inputsJSON), &merged); err != nil {
			return nil, fmt.Errorf("--inputs must be a JSON object: %w", err)
		}
	}
	for k, v := range inputs {
		merged[k] = v
	}
	return merged, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func cmdExecute(args []string) error {
	fs := flag.NewFlagSet("execute", flag.ExitOnError)
	configDir := fs.String("config", "", "Directory holding airops.jsonc")
	version := fs.Int("version", 0, "App version (default: configured version or latest)")
	inputsJSON := fs.String("inputs", "", "Inputs as a JSON object")
	inputs := inputFlags{}
	fs.Var(inputs, "input", "Input as key=value, repeatable")
	stream := fs.Bool("stream", false, "Print output chunks as they arrive")
	noWait := fs.Bool("no-wait", false, "Print the execution id and exit")
	timeout := fs.Duration("timeout", 0, "Give up waiting after this long")
	asJSON := fs.Bool("json", false, "Print the full execution result as JSON")

	positional, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	if len(positional) != 1 {
		return errors.New("usage: airops execute <app> [options]")
	}

	payloadInputs, err := buildInputs(*inputsJSON, inputs)
	if err != nil {
		return err
	}

	e, err := setup(*configDir)
	if err != nil {
		return err
	}
	defer e.Close()

	appID, appVersion, err := e.resolveApp(positional[0])
	if err != nil {
		return err
	}
	if *version > 0 {
		appVersion = *version
	}

	ctx, stop := signalContext()
	defer stop()

	req := execution.Request{
		AppID:   appID,
		Version: appVersion,
		Payload: map[string]any{"inputs": payloadInputs},
		Stream:  *stream,
	}
	if *stream && !*asJSON {
		req.OnChunk = func(c realtime.Chunk) { fmt.Print(c.Content) }
	}

	exec, err := e.client.Apps().Execute(ctx, req)
	e.audit.Record(ctx, audit.Event{Operation: audit.OpExecutionSubmit, AppID: appID, ExecutionID: executionID(exec)}, err)
	if err != nil {
		return err
	}

	if *noWait {
		fmt.Println(exec.ID())
		return nil
	}

	waitCtx := ctx
	if *timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, *timeout)
		defer cancel()
	}

	res, err := exec.Result(waitCtx)
	if err != nil {
		if ctx.Err() != nil {
			// interrupted: stop the remote run too
			cancelCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			cerr := exec.Cancel(cancelCtx)
			e.audit.Record(cancelCtx, audit.Event{Operation: audit.OpExecutionCancel, AppID: appID, ExecutionID: exec.ID()}, cerr)
			if cerr != nil {
				return fmt.Errorf("interrupted, cancel failed: %w", cerr)
			}
			return fmt.Errorf("interrupted, execution %s cancelled", exec.ID())
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("execution %s still running after %s; check it later with: airops get %s %s", exec.ID(), *timeout, positional[0], exec.ID())
		}
		return err
	}

	if *stream && !*asJSON {
		fmt.Println()
	}
	return printResult(os.Stdout, res, *asJSON)
}

func cmdChat(args []string) error {
	fs := flag.NewFlagSet("chat", flag.ExitOnError)
	configDir := fs.String("config", "", "Directory holding airops.jsonc")
	sessionID := fs.String("session", "", "Continue an existing chat session")
	inputsJSON := fs.String("inputs", "", "Inputs as a JSON object")
	timeout := fs.Duration("timeout", 0, "Give up waiting after this long")

	positional, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	if len(positional) < 2 {
		return errors.New("usage: airops chat <app> <message...> [options]")
	}

	message := strings.Join(positional[1:], " ")
	if err := validation.ValidateMessage(message); err != nil {
		return err
	}
	if *sessionID != "" {
		if err := validation.ValidateSessionID(*sessionID); err != nil {
			return err
		}
	}
	inputs, err := buildInputs(*inputsJSON, nil)
	if err != nil {
		return err
	}
	if len(inputs) == 0 {
		inputs = nil
	}

	e, err := setup(*configDir)
	if err != nil {
		return err
	}
	defer e.Close()

	appID, _, err := e.resolveApp(positional[0])
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	var streamed bool
	session, err := e.client.Apps().ChatStream(ctx, chat.Request{
		AppID:     appID,
		Message:   message,
		SessionID: *sessionID,
		Inputs:    inputs,
		OnEvent: func(ev realtime.Event) {
			switch ev := ev.(type) {
			case realtime.AgentResponse:
				if ev.Token != "" {
					streamed = true
					fmt.Print(ev.Token)
				}
			case realtime.AgentAction:
				fmt.Fprintf(os.Stderr, "[action] %s %s\n", ev.Tool, ev.ToolInput)
			case realtime.AgentActionError:
				fmt.Fprintf(os.Stderr, "[action error] %s: %s\n", ev.Tool, ev.ToolError)
			}
		},
	})
	sessionRef := *sessionID
	if session != nil {
		sessionRef = session.SessionID
	}
	e.audit.Record(ctx, audit.Event{Operation: audit.OpChatSubmit, AppID: appID, SessionID: sessionRef}, err)
	if err != nil {
		return err
	}

	waitCtx := ctx
	if *timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, *timeout)
		defer cancel()
	}

	res, err := session.Result(waitCtx)
	if err != nil {
		return err
	}
	if !streamed {
		fmt.Print(res.Result)
	}
	fmt.Println()
	fmt.Fprintf(os.Stderr, "session: %s\n", res.SessionID)
	return nil
}

func cmdGet(args []string) error {
	fs := flag.NewFlagSet("get", flag.ExitOnError)
	configDir := fs.String("config", "", "Directory holding airops.jsonc")
	wait := fs.Bool("wait", false, "Wait for the execution to finish")
	asJSON := fs.Bool("json", false, "Print the full execution result as JSON")

	positional, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	if len(positional) != 2 {
		return errors.New("usage: airops get <app> <execution-id> [options]")
	}
	if err := validation.ValidateExecutionID(positional[1]); err != nil {
		return err
	}

	e, err := setup(*configDir)
	if err != nil {
		return err
	}
	defer e.Close()

	appID, _, err := e.resolveApp(positional[0])
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	var res *execution.Result
	if *wait {
		res, err = e.client.Apps().Resume(ctx, appID, positional[1]).Result(ctx)
	} else {
		res, err = e.client.Apps().GetResults(ctx, appID, positional[1])
	}
	if err != nil {
		return err
	}
	if res == nil {
		return fmt.Errorf("execution %s not found", positional[1])
	}
	return printResult(os.Stdout, res, *asJSON)
}

func cmdCancel(args []string) error {
	fs := flag.NewFlagSet("cancel", flag.ExitOnError)
	configDir := fs.String("config", "", "Directory holding airops.jsonc")

	positional, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	if len(positional) != 2 {
		return errors.New("usage: airops cancel <app> <execution-id>")
	}
	if err := validation.ValidateExecutionID(positional[1]); err != nil {
		return err
	}

	e, err := setup(*configDir)
	if err != nil {
		return err
	}
	defer e.Close()

	appID, _, err := e.resolveApp(positional[0])
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	err = e.client.Apps().Cancel(ctx, appID, positional[1])
	e.audit.Record(ctx, audit.Event{Operation: audit.OpExecutionCancel, AppID: appID, ExecutionID: positional[1]}, err)
	if err != nil {
		return err
	}
	fmt.Printf("Execution %s cancelled\n", positional[1])
	return nil
}

func cmdHistory(args []string) error {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	configDir := fs.String("config", "", "Directory holding airops.jsonc")
	app := fs.String("app", "", "Only records for this app name or id")
	kind := fs.String("kind", "", "execution or chat")
	unresolved := fs.Bool("unresolved", false, "Only work that has not resolved")
	limit := fs.Int("limit", 20, "Maximum records to show")
	prune := fs.Duration("prune", 0, "Delete resolved records older than this and exit")
	asJSON := fs.Bool("json", false, "Print records as JSON")

	if _, err := parseArgs(fs, args); err != nil {
		return err
	}
	switch *kind {
	case "", execution.KindExecution, execution.KindChat:
	default:
		return fmt.Errorf("invalid --kind %q: must be %s or %s", *kind, execution.KindExecution, execution.KindChat)
	}

	e, err := setup(*configDir)
	if err != nil {
		return err
	}
	defer e.Close()

	ctx, stop := signalContext()
	defer stop()

	if *prune > 0 {
		n, err := e.history.Prune(ctx, *prune)
		if err != nil {
			return err
		}
		fmt.Printf("Pruned %d records\n", n)
		return nil
	}

	filter := store.ListFilter{Kind: *kind, Unresolved: *unresolved, Limit: *limit}
	if *app != "" {
		appID, _, err := e.resolveApp(*app)
		if err != nil {
			return err
		}
		filter.AppID = appID
	}

	records, err := e.history.List(ctx, filter)
	if err != nil {
		return err
	}
	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if records == nil {
			records = []*store.Record{}
		}
		return enc.Encode(records)
	}
	printRecords(os.Stdout, records)
	return nil
}

func printResult(w io.Writer, res *execution.Result, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	switch res.Status {
	case execution.StatusSuccess:
		if text := res.Text(); text != "" {
			_, err := fmt.Fprintln(w, text)
			return err
		}
		return nil
	case execution.StatusError:
		return fmt.Errorf("execution %s failed: %s %s", res.ID, res.ErrorCode, res.ErrorMessage)
	default:
		_, err := fmt.Fprintf(w, "Execution %s: %s\n", res.ID, res.Status)
		return err
	}
}

func printRecords(w io.Writer, records []*store.Record) {
	if len(records) == 0 {
		fmt.Fprintln(w, "No records")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "KIND\tAPP\tREF\tSTATUS\tSOURCE\tCREATED")
	for _, r := range records {
		status := r.Status
		if !r.Resolved() {
			status = "unresolved"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.Kind, r.AppID, r.Ref, status, r.Source, r.CreatedAt.Local().Format(time.DateTime))
	}
	_ = tw.Flush()
}

func executionID(exec *execution.Execution) string {
	if exec == nil {
		return ""
	}
	return exec.ID()
}
