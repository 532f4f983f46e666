package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/jiglab/jigbridge/internal/api"
	"github.com/jiglab/jigbridge/internal/config"
)

// Version is stamped at build time via -ldflags.
var Version = "dev"

type Runner struct {
	baseURL string
	client  *http.Client
	out     io.Writer
	errOut  io.Writer
}

func NewRunner(addr string, out, errOut io.Writer) *Runner {
	base := strings.TrimSpace(addr)
	if base == "" {
		base = config.DefaultConfig().ListenAddr
	}
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return NewRunnerWithClient(base, &http.Client{}, out, errOut)
}

func NewRunnerWithClient(baseURL string, client *http.Client, out, errOut io.Writer) *Runner {
	if out == nil {
		out = os.Stdout
	}
	if errOut == nil {
		errOut = os.Stderr
	}
	if client == nil {
		client = &http.Client{}
	}
	return &Runner{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		out:     out,
		errOut:  errOut,
	}
}

func (r *Runner) Run(ctx context.Context, args []string) int {
	addr, rest, err := parseGlobalArgs(args)
	if err != nil {
		_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
		return 2
	}
	if addr != "" {
		*r = *NewRunnerWithClient(normalizeBaseURL(addr), r.client, r.out, r.errOut)
	}
	if len(rest) == 0 {
		r.printUsage()
		return 2
	}
	switch rest[0] {
	case "snapshot":
		return r.runSnapshot(ctx, rest[1:])
	case "logs":
		return r.runLogs(ctx, rest[1:])
	case "truncate-logs":
		return r.runTruncateLogs(ctx, rest[1:])
	case "select":
		return r.runSelect(ctx, rest[1:])
	case "start":
		return r.runStart(ctx, rest[1:])
	case "abort":
		return r.runBareCommand(ctx, rest[1:], "abort")
	case "hello":
		return r.runBareCommand(ctx, rest[1:], "hello")
	case "jig":
		return r.runBareCommand(ctx, rest[1:], "jig")
	case "scenarios":
		return r.runBareCommand(ctx, rest[1:], "scenarios")
	case "tests":
		return r.runBareCommand(ctx, rest[1:], "tests")
	case "log":
		return r.runLog(ctx, rest[1:])
	case "shutdown":
		return r.runShutdown(ctx, rest[1:])
	case "health":
		return r.runHealth(ctx, rest[1:])
	case "version":
		_, _ = fmt.Fprintf(r.out, "jigbridge %s\n", Version)
		return 0
	default:
		_, _ = fmt.Fprintf(r.errOut, "unknown command: %s\n", rest[0])
		r.printUsage()
		return 2
	}
}

// parseGlobalArgs peels the daemon address flag off anywhere in args so
// it can precede or follow the subcommand.
func parseGlobalArgs(args []string) (string, []string, error) {
	addr := ""
	rest := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		if args[i] == "-addr" || args[i] == "--addr" {
			if i+1 >= len(args) {
				return "", nil, fmt.Errorf("-addr requires value")
			}
			addr = args[i+1]
			i++
			continue
		}
		rest = append(rest, args[i])
	}
	return addr, rest, nil
}

func normalizeBaseURL(addr string) string {
	base := strings.TrimSpace(addr)
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return strings.TrimRight(base, "/")
}

func (r *Runner) runSnapshot(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("snapshot", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	jsonOut := fs.Bool("json", false, "output JSON")
	if err := fs.Parse(args); err != nil {
		_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
		return 2
	}
	body, err := r.request(ctx, http.MethodGet, "/v1/snapshot", nil, nil)
	if err != nil {
		return r.handleErr(err)
	}
	if *jsonOut {
		_, _ = r.out.Write(body)
		_, _ = fmt.Fprintln(r.out)
		return 0
	}
	var env api.SnapshotEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return r.handleErr(err)
	}
	_, _ = fmt.Fprintf(r.out, "server\t%s\n", env.Server)
	_, _ = fmt.Fprintf(r.out, "jig\t%s\t%s\n", env.Jig.ID, env.Jig.Name)
	_, _ = fmt.Fprintf(r.out, "scenario\t%s\t%s\n", env.Scenario.ID, env.Scenario.State)
	for _, id := range env.Scenarios {
		marker := " "
		if id == env.Scenario.ID {
			marker = "*"
		}
		_, _ = fmt.Fprintf(r.out, "%s %s\t%s\n", marker, id, env.ScenarioNames[id])
	}
	tests := env.Tests[env.Scenario.ID]
	for _, id := range tests {
		res := env.Results[id]
		_, _ = fmt.Fprintf(r.out, "test %s\t%s\t%s\n", id, res.State, res.Detail)
	}
	_, _ = fmt.Fprintf(r.out, "log\tcurrent=%d previous=%d global=%d\n",
		env.CurrentLogLen, env.PreviousLogLen, env.GlobalLogLen)
	return 0
}

func (r *Runner) runLogs(ctx context.Context, args []string) int {
	if len(args) == 0 {
		_, _ = fmt.Fprintln(r.errOut, "usage: jigbridge logs <global|current|previous> [-start <n>] [-end <n>] [-json]")
		return 2
	}
	sequence := args[0]
	if sequence != "global" && sequence != "current" && sequence != "previous" {
		_, _ = fmt.Fprintf(r.errOut, "invalid log sequence: %s\n", sequence)
		return 2
	}
	fs := flag.NewFlagSet("logs "+sequence, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	start := fs.String("start", "", "window start index")
	end := fs.String("end", "", "window end index")
	jsonOut := fs.Bool("json", false, "output JSON")
	if err := fs.Parse(args[1:]); err != nil {
		_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
		return 2
	}
	query := url.Values{}
	if strings.TrimSpace(*start) != "" {
		query.Set("start", strings.TrimSpace(*start))
	}
	if strings.TrimSpace(*end) != "" {
		query.Set("end", strings.TrimSpace(*end))
	}
	body, err := r.request(ctx, http.MethodGet, "/v1/logs/"+sequence, query, nil)
	if err != nil {
		return r.handleErr(err)
	}
	if *jsonOut {
		_, _ = r.out.Write(body)
		_, _ = fmt.Fprintln(r.out)
		return 0
	}
	var env api.LogWindowEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return r.handleErr(err)
	}
	for _, entry := range env.Entries {
		_, _ = fmt.Fprintf(r.out, "%d.%09d\t%s\t%s/%s\t%s\n",
			entry.Timestamp.Secs, entry.Timestamp.Nsecs,
			entry.Class, entry.UnitID, entry.UnitType, entry.Message)
	}
	return 0
}

func (r *Runner) runTruncateLogs(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("truncate-logs", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	if err := fs.Parse(args); err != nil {
		_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
		return 2
	}
	if _, err := r.request(ctx, http.MethodPost, "/v1/logs/global/truncate", nil, nil); err != nil {
		return r.handleErr(err)
	}
	_, _ = fmt.Fprintln(r.out, "truncated global log")
	return 0
}

func (r *Runner) runSelect(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("select", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	jsonOut := fs.Bool("json", false, "output JSON")
	rest := args
	id := ""
	if len(rest) > 0 && !strings.HasPrefix(rest[0], "-") {
		id = rest[0]
		rest = rest[1:]
	}
	if err := fs.Parse(rest); err != nil {
		_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
		return 2
	}
	if id == "" && fs.NArg() > 0 {
		id = fs.Arg(0)
	}
	id = strings.TrimSpace(id)
	if id == "" {
		_, _ = fmt.Fprintln(r.errOut, "usage: jigbridge select <scenario> [-json]")
		return 2
	}
	return r.postCommand(ctx, "/v1/commands/select", map[string]any{"id": id}, *jsonOut)
}

func (r *Runner) runStart(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	jsonOut := fs.Bool("json", false, "output JSON")
	rest := args
	id := ""
	if len(rest) > 0 && !strings.HasPrefix(rest[0], "-") {
		id = rest[0]
		rest = rest[1:]
	}
	if err := fs.Parse(rest); err != nil {
		_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
		return 2
	}
	if id == "" && fs.NArg() > 0 {
		id = fs.Arg(0)
	}
	var req any
	if id = strings.TrimSpace(id); id != "" {
		req = map[string]any{"id": id}
	}
	return r.postCommand(ctx, "/v1/commands/start", req, *jsonOut)
}

func (r *Runner) runBareCommand(ctx context.Context, args []string, name string) int {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	jsonOut := fs.Bool("json", false, "output JSON")
	if err := fs.Parse(args); err != nil {
		_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
		return 2
	}
	return r.postCommand(ctx, "/v1/commands/"+name, nil, *jsonOut)
}

func (r *Runner) runLog(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("log", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	jsonOut := fs.Bool("json", false, "output JSON")
	if err := fs.Parse(args); err != nil {
		_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
		return 2
	}
	message := strings.Join(fs.Args(), " ")
	if strings.TrimSpace(message) == "" {
		_, _ = fmt.Fprintln(r.errOut, "usage: jigbridge log [-json] <message...>")
		return 2
	}
	return r.postCommand(ctx, "/v1/commands/log", map[string]any{"message": message}, *jsonOut)
}

func (r *Runner) runShutdown(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("shutdown", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	jsonOut := fs.Bool("json", false, "output JSON")
	if err := fs.Parse(args); err != nil {
		_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
		return 2
	}
	var req any
	if reason := strings.TrimSpace(strings.Join(fs.Args(), " ")); reason != "" {
		req = map[string]any{"reason": reason}
	}
	return r.postCommand(ctx, "/v1/commands/shutdown", req, *jsonOut)
}

func (r *Runner) runHealth(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("health", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	jsonOut := fs.Bool("json", false, "output JSON")
	if err := fs.Parse(args); err != nil {
		_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
		return 2
	}
	body, err := r.request(ctx, http.MethodGet, "/v1/health", nil, nil)
	if err != nil {
		return r.handleErr(err)
	}
	if *jsonOut {
		_, _ = r.out.Write(body)
		_, _ = fmt.Fprintln(r.out)
		return 0
	}
	var resp api.HealthResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return r.handleErr(err)
	}
	_, _ = fmt.Fprintf(r.out, "%s\t%s\n", resp.Status, resp.Signature)
	return 0
}

func (r *Runner) postCommand(ctx context.Context, path string, req any, jsonOut bool) int {
	body, err := r.request(ctx, http.MethodPost, path, nil, req)
	if err != nil {
		return r.handleErr(err)
	}
	if jsonOut {
		_, _ = r.out.Write(body)
		_, _ = fmt.Fprintln(r.out)
		return 0
	}
	var ack api.CommandAck
	if err := json.Unmarshal(body, &ack); err != nil {
		return r.handleErr(err)
	}
	_, _ = fmt.Fprintf(r.out, "sent %s\n", ack.Line)
	return 0
}

func (r *Runner) request(ctx context.Context, method, path string, query url.Values, body any) ([]byte, error) {
	u := r.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	var reqBody io.Reader
	if body != nil {
		buf := &bytes.Buffer{}
		if err := json.NewEncoder(buf).Encode(body); err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		reqBody = buf
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close() //nolint:errcheck
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		var er api.ErrorResponse
		if unmarshalErr := json.Unmarshal(payload, &er); unmarshalErr == nil && er.Error.Code != "" {
			return nil, fmt.Errorf("%s: %s", er.Error.Code, er.Error.Message)
		}
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}
	return payload, nil
}

func (r *Runner) handleErr(err error) int {
	_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
	return 1
}

func (r *Runner) printUsage() {
	_, _ = fmt.Fprintln(r.errOut, "usage: jigbridge [-addr <host:port>] <snapshot|logs|truncate-logs|select|start|abort|hello|jig|scenarios|tests|log|shutdown|health|version> ...")
}
