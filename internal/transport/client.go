// Package transport POSTs enrollment requests to the remote service.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/sirupsen/logrus"

	"github.com/oxygenesis/enrollment/pkg/id"
	"github.com/oxygenesis/enrollment/pkg/logger"
)

const (
	DefaultTimeout  = 60 * time.Second
	RequestIDHeader = "X-Request-ID"

	maxResponseBytes = 1 << 20
)

type Options struct {
	Timeout   time.Duration
	UserAgent string
	Logger    *logrus.Entry
	IDs       id.Generator
}

// Response is the status code and decoded body of a POST. Body is nil when
// the server did not answer with a JSON object; Raw always holds the bytes.
type Response struct {
	StatusCode int
	Body       map[string]any
	Raw        []byte
}

func (r *Response) Success() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

type Client struct {
	cli       *http.Client
	userAgent string
	logger    *logrus.Entry
	ids       id.Generator
}

func NewClient(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = logger.Discard()
	}
	if opts.IDs == nil {
		opts.IDs = id.Prefixed{Prefix: "enroll"}
	}

	cli := cleanhttp.DefaultPooledClient()
	cli.Timeout = opts.Timeout
	cli.Transport = loggingRoundTripper{transport: cli.Transport, logger: opts.Logger}

	return &Client{cli: cli, userAgent: opts.UserAgent, logger: opts.Logger, ids: opts.IDs}
}

// Post sends body as JSON. Only transport failures are errors; the caller
// decides what a status code means.
func (c *Client) Post(ctx context.Context, url string, body any) (*Response, error) {
	buf := new(bytes.Buffer)
	if err := json.NewEncoder(buf).Encode(body); err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, buf)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(RequestIDHeader, c.ids.New())
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	res, err := c.cli.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	out := &Response{StatusCode: res.StatusCode, Raw: raw}
	if len(bytes.TrimSpace(raw)) > 0 {
		var obj map[string]any
		if err := json.Unmarshal(raw, &obj); err != nil {
			c.logger.WithField("req-id", req.Header.Get(RequestIDHeader)).Debugf("response is not a JSON object: %s", err)
		} else {
			out.Body = obj
		}
	}
	return out, nil
}

type loggingRoundTripper struct {
	transport http.RoundTripper
	logger    *logrus.Entry
}

func (lrt loggingRoundTripper) RoundTrip(req *http.Request) (res *http.Response, err error) {
	start := time.Now()
	log := lrt.logger.WithField("req-id", req.Header.Get(RequestIDHeader))

	res, err = lrt.transport.RoundTrip(req)
	if err != nil {
		log.Errorf("%s %s (%s): %s", req.Method, req.URL, time.Since(start), err)
		return nil, err
	}
	log.Debugf("%s %s %d (%s)", req.Method, req.URL, res.StatusCode, time.Since(start))
	return res, nil
}
