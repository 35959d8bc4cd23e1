// Package supabase talks to a Supabase project over its REST API: statement
// execution through an exec_sql RPC, and a read-only row visibility probe.
package supabase

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/printshop-ops/rlsctl/internal/logger"
	"github.com/supabase-community/postgrest-go"
)

const (
	// DefaultRPCFunction is the SQL function used to run statements.
	DefaultRPCFunction = "exec_sql"
	// DefaultRPCArgument is its single text parameter.
	DefaultRPCArgument = "sql"
)

// RESTURL returns the PostgREST endpoint of a project URL.
func RESTURL(projectURL string) string {
	u := strings.TrimRight(projectURL, "/")
	if !strings.HasSuffix(u, "/rest/v1") {
		u += "/rest/v1"
	}
	return u
}

// RPCError is a PostgREST error body. Code carries the SQLSTATE when the
// failure came from Postgres.
type RPCError struct {
	Code    string  `json:"code"`
	Message string  `json:"message"`
	Details *string `json:"details"`
	Hint    *string `json:"hint"`
}

func (e *RPCError) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return fmt.Sprintf("(%s) %s", e.Code, e.Message)
}

// SQLState returns the SQLSTATE of the failed statement.
func (e *RPCError) SQLState() string {
	return e.Code
}

// Diagnostics returns the detail and hint fields.
func (e *RPCError) Diagnostics() (detail, hint string) {
	if e.Details != nil {
		detail = *e.Details
	}
	if e.Hint != nil {
		hint = *e.Hint
	}
	return detail, hint
}

// RPCOptions configures an RPCExecer.
type RPCOptions struct {
	Function string
	Argument string
}

// RPCExecer runs SQL through a SECURITY DEFINER function exposed by
// PostgREST. Each call autocommits, so it only supports statement mode.
// It is not safe for concurrent use.
type RPCExecer struct {
	client   *postgrest.Client
	status   *statusTransport
	function string
	argument string
}

// statusTransport records the status of the last response, which
// postgrest.Client.Rpc does not return, and binds requests to the caller's
// context.
type statusTransport struct {
	ctx  context.Context
	last int
}

func (t *statusTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.ctx != nil {
		req = req.WithContext(t.ctx)
	}
	resp, err := http.DefaultTransport.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	t.last = resp.StatusCode
	return resp, nil
}

// NewRPCExecer creates an execer for projectURL authenticated with key, which
// must be a secret or service_role key.
func NewRPCExecer(projectURL, key string, opts RPCOptions) *RPCExecer {
	if opts.Function == "" {
		opts.Function = DefaultRPCFunction
	}
	if opts.Argument == "" {
		opts.Argument = DefaultRPCArgument
	}
	client := postgrest.NewClient(RESTURL(projectURL), "", map[string]string{
		"apikey":        key,
		"Authorization": "Bearer " + key,
	})
	status := &statusTransport{}
	if client.Transport != nil {
		client.Transport.Parent = status
	}
	return &RPCExecer{client: client, status: status, function: opts.Function, argument: opts.Argument}
}

// ExecContext runs query through the RPC. Arguments are not supported.
func (r *RPCExecer) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if len(args) > 0 {
		return nil, fmt.Errorf("%s does not accept query arguments", r.function)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if r.client.Transport == nil {
		return nil, fmt.Errorf("rpc %s: %w", r.function, r.client.ClientError)
	}

	r.client.ClientError = nil
	r.status.ctx, r.status.last = ctx, 0
	defer func() { r.status.ctx = nil }()

	body := r.client.Rpc(r.function, "", map[string]string{r.argument: query})
	if r.client.ClientError != nil {
		return nil, fmt.Errorf("rpc %s: %w", r.function, r.client.ClientError)
	}
	if err := parseRPCBody(r.status.last, body); err != nil {
		return nil, err
	}
	logger.Get().Debug("rpc statement executed", "function", r.function, "status", r.status.last)
	return driver.RowsAffected(0), nil
}

// maxErrorBody bounds how much of a non-JSON error body ends up in a message.
const maxErrorBody = 200

// parseRPCBody turns a response into an error. Any non-2xx status fails; a
// PostgREST error object keeps its SQLSTATE, anything else becomes an
// *RPCError without one. A 2xx body must be empty or valid JSON.
func parseRPCBody(status int, body string) error {
	trimmed := strings.TrimSpace(body)

	if status < 200 || status > 299 {
		var rpcErr RPCError
		if json.Unmarshal([]byte(trimmed), &rpcErr) == nil && (rpcErr.Code != "" || rpcErr.Message != "") {
			return &rpcErr
		}
		msg := fmt.Sprintf("HTTP %d %s", status, http.StatusText(status))
		if trimmed != "" {
			if len(trimmed) > maxErrorBody {
				trimmed = trimmed[:maxErrorBody] + "..."
			}
			msg += ": " + trimmed
		}
		return &RPCError{Message: msg}
	}

	if trimmed == "" {
		return nil
	}
	if !json.Valid([]byte(trimmed)) {
		return fmt.Errorf("unexpected rpc response (HTTP %d): %q", status, trimmed)
	}
	if strings.HasPrefix(trimmed, "{") {
		var rpcErr RPCError
		if json.Unmarshal([]byte(trimmed), &rpcErr) == nil && rpcErr.Code != "" && rpcErr.Message != "" {
			return &rpcErr
		}
	}
	return nil
}
