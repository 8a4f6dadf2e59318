// Package onebot is a minimal client for OneBot-compatible HTTP APIs,
// covering the group check-in call. Calls report a Result instead of
// panicking or leaking transport errors to callers.
package onebot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type Config struct {
	Host    string
	Port    int
	Token   string
	Timeout time.Duration
}

// FailKind classifies why a call did not succeed.
type FailKind int

const (
	FailNone FailKind = iota
	FailTransport
	FailTimeout
	FailHTTPStatus
	FailBadResponse
	FailAPIRefused
)

func (k FailKind) String() string {
	switch k {
	case FailNone:
		return "ok"
	case FailTransport:
		return "transport"
	case FailTimeout:
		return "timeout"
	case FailHTTPStatus:
		return "http_status"
	case FailBadResponse:
		return "bad_response"
	case FailAPIRefused:
		return "api_refused"
	default:
		return "unknown"
	}
}

// Result is the outcome of one API call. Detail is human-readable and, for
// refusals, carries the server's own wording.
type Result struct {
	OK     bool
	Kind   FailKind
	Detail string
}

func ok() Result                              { return Result{OK: true, Kind: FailNone, Detail: "ok"} }
func fail(k FailKind, detail string) Result   { return Result{Kind: k, Detail: detail} }
func failf(k FailKind, f string, a ...any) Result { return fail(k, fmt.Sprintf(f, a...)) }

type Client struct {
	base  string
	token string
	http  *http.Client
}

func NewClient(cfg Config) *Client {
	host := cfg.Host
	if host == "" {
		host = "127.0.0.1"
	}
	port := cfg.Port
	if port <= 0 {
		port = 3000
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		base:  fmt.Sprintf("http://%s:%d", host, port),
		token: cfg.Token,
		http:  &http.Client{Timeout: timeout},
	}
}

// BaseURL reports the endpoint the client talks to, for status output.
func (c *Client) BaseURL() string { return c.base }

type apiEnvelope struct {
	Status  string `json:"status"`
	Retcode int64  `json:"retcode"`
	Message string `json:"message"`
	Wording string `json:"wording"`
}

// SetGroupSign performs the daily check-in for one group. It never returns
// an error; every outcome is folded into the Result.
func (c *Client) SetGroupSign(ctx context.Context, groupID string) Result {
	body, err := json.Marshal(map[string]string{"group_id": groupID})
	if err != nil {
		return failf(FailBadResponse, "encode request: %v", err)
	}
	return c.post(ctx, "/set_group_sign", body)
}

func (c *Client) post(ctx context.Context, path string, body []byte) Result {
	u := c.base + path
	if c.token != "" {
		u += "?access_token=" + url.QueryEscape(c.token)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return failf(FailTransport, "build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return failf(FailTimeout, "request timed out: %v", err)
		}
		if errors.Is(err, context.Canceled) {
			return fail(FailTransport, "request cancelled")
		}
		return failf(FailTransport, "request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return failf(FailHTTPStatus, "unexpected HTTP status %d", resp.StatusCode)
	}

	var env apiEnvelope
	dec := json.NewDecoder(resp.Body)
	if err := dec.Decode(&env); err != nil {
		return failf(FailBadResponse, "invalid JSON response: %v", err)
	}

	if env.Status != "ok" || env.Retcode != 0 {
		detail := env.Wording
		if detail == "" {
			detail = env.Message
		}
		if detail == "" {
			detail = fmt.Sprintf("status=%s retcode=%d", env.Status, env.Retcode)
		}
		return fail(FailAPIRefused, detail)
	}
	return ok()
}

func isTimeout(err error) bool {
	type timeouter interface{ Timeout() bool }
	var t timeouter
	if errors.As(err, &t) {
		return t.Timeout()
	}
	return strings.Contains(err.Error(), "Client.Timeout")
}
