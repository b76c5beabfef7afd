package onvif

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/juju/errors"

	"github.com/SridarDhandapani/onvif/v2/xmltree"
)

// Callback receives the outcome of one request: the parsed SOAP Body, the
// raw response and an error. It is invoked exactly once per request.
type Callback func(err error, body *xmltree.Node, raw []byte)

// Target selects the address of a request. An explicit Endpoint wins over a
// Service name; a service missing from the directory falls back to the
// device service address.
type Target struct {
	Endpoint string
	Service  string

	// Timeout bounds this request only. Zero uses Config.Timeout.
	Timeout time.Duration
}

type request struct {
	target Target
	body   string
	header string
	signed bool
}

// latch lets only the first of several competing completions through
type latch struct {
	fired atomic.Bool
}

func (l *latch) fire(fn func()) bool {
	if !l.fired.CompareAndSwap(false, true) {
		return false
	}
	fn()
	return true
}

// Send issues one signed request asynchronously. cb is invoked exactly once
// with whichever happens first: the full response, the timeout, or a
// transport error. Later events are discarded.
func (c *Client) Send(ctx context.Context, target Target, body string, cb Callback) {
	c.send(ctx, request{target: target, body: body, signed: true}, cb)
}

// Request sends a signed body to the named service and waits for the result
func (c *Client) Request(ctx context.Context, service, body string) (*xmltree.Node, []byte, error) {
	return c.do(ctx, request{target: Target{Service: service}, body: body, signed: true})
}

// RequestTo sends a signed body to an explicit endpoint
func (c *Client) RequestTo(ctx context.Context, endpoint, body string) (*xmltree.Node, []byte, error) {
	return c.do(ctx, request{target: Target{Endpoint: endpoint}, body: body, signed: true})
}

// RequestTarget sends a signed body to target and waits for the result,
// honouring the per-call timeout carried by target
func (c *Client) RequestTarget(ctx context.Context, target Target, body string) (*xmltree.Node, []byte, error) {
	return c.do(ctx, request{target: target, body: body, signed: true})
}

// RequestWithHeader sends a signed body with additional header elements,
// for instance WS-Addressing headers required by the events service
func (c *Client) RequestWithHeader(ctx context.Context, service, header, body string) (*xmltree.Node, []byte, error) {
	return c.do(ctx, request{target: Target{Service: service}, body: body, header: header, signed: true})
}

func (c *Client) do(ctx context.Context, r request) (*xmltree.Node, []byte, error) {
	type result struct {
		err  error
		body *xmltree.Node
		raw  []byte
	}

	done := make(chan result, 1)
	c.send(ctx, r, func(err error, body *xmltree.Node, raw []byte) {
		done <- result{err: err, body: body, raw: raw}
	})

	res := <-done
	return res.body, res.raw, res.err
}

func (c *Client) send(ctx context.Context, r request, cb Callback) {
	op := operationName(r.body)
	endpoint := c.resolveTarget(r.target)
	timeout := r.target.Timeout
	if timeout <= 0 {
		timeout = c.cfg.Timeout
	}

	envelope, err := c.buildEnvelope(r.body, r.header, r.signed)
	if err != nil {
		cb(errors.Annotatef(err, "failed to build %s envelope", op), nil, nil)
		return
	}
	payload := []byte(envelope)

	var l latch
	ctx, cancel := context.WithCancel(ctx)

	timer := time.AfterFunc(timeout, func() {
		l.fire(func() {
			c.log.Debug().Str("op", op).Str("endpoint", endpoint).Dur("timeout", timeout).Msg("request timed out")
			cb(timeoutError(op, timeout), nil, nil)
		})
		// unblocks the round trip; its late result is discarded by the latch
		cancel()
	})

	c.emitRawRequest(endpoint, payload)
	c.log.Debug().Str("op", op).Str("endpoint", endpoint).Msg("sending request")

	go func() {
		defer cancel()

		raw, status, err := c.roundTrip(ctx, endpoint, payload)
		timer.Stop()

		if err != nil {
			l.fire(func() {
				cb(roundTripError(op, err, timeout), nil, nil)
			})
			return
		}

		l.fire(func() {
			c.emitRawResponse(endpoint, raw)
			cb(classifyResponse(op, status, raw))
		})
	}()
}

// roundTripError classifies a failed round trip. Deadlines hit below the
// client, such as a net.Error or url.Error reporting Timeout, count as
// timeouts too.
func roundTripError(op string, err error, timeout time.Duration) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return timeoutError(op, timeout)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return timeoutError(op, timeout)
	}
	return transportError(op, err)
}

// classifyResponse turns a complete HTTP response into the callback triple
func classifyResponse(op string, status int, raw []byte) (error, *xmltree.Node, []byte) {
	// some cameras return error codes with an empty body instead of a SOAP fault
	if status >= 400 && len(bytes.TrimSpace(raw)) == 0 {
		return protocolError(op, "HTTP %d with empty response", status), nil, raw
	}

	body, err := decode(op, raw)
	if err != nil {
		return err, body, raw
	}
	if status >= 400 {
		return protocolError(op, "HTTP %d: %s", status, http.StatusText(status)), body, raw
	}
	return nil, body, raw
}

func (c *Client) roundTrip(ctx context.Context, endpoint string, payload []byte) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, 0, err
	}

	// byte length of the UTF-8 body, not its character count
	req.ContentLength = int64(len(payload))
	req.Header.Set("Content-Type", "application/soap+xml; charset=utf-8")
	req.Header.Set("Charset", "utf-8")

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return raw, resp.StatusCode, nil
}

func (c *Client) resolveTarget(t Target) string {
	if t.Endpoint != "" {
		return t.Endpoint
	}
	if t.Service != "" {
		if uri, ok := c.ServiceURI(strings.ToLower(t.Service)); ok {
			return uri
		}
	}
	return c.cfg.BaseURL()
}

// operationName returns the local name of the first element of a body
// fragment, used to label errors and log lines
func operationName(body string) string {
	start := strings.Index(body, "<")
	if start == -1 {
		return "request"
	}
	rest := body[start+1:]
	end := strings.IndexAny(rest, " \t\r\n/>")
	if end == -1 {
		end = len(rest)
	}
	return localName(rest[:end])
}
