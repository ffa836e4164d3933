/*Package client talks to a trcaen server over HTTP.

Requests such as RESET or OPEN_STATE are accepted immediately and finish on
the server's worker later.  WaitFor and WaitDone poll the parameter with an
exponential backoff until it settles.
*/
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/klauer/TRCAEN/caen"
	"github.com/klauer/TRCAEN/generichttp/digitizer"
	"github.com/klauer/TRCAEN/server"
)

// StatusError is a non-200 reply from the server
type StatusError struct {
	Code int
	Msg  string
}

func (e StatusError) Error() string {
	return fmt.Sprintf("%d %s: %s", e.Code, http.StatusText(e.Code), e.Msg)
}

// Client is bound to the routes of one digitizer, e.g. http://host:8000/dgtz0
type Client struct {
	URL  string
	HTTP *http.Client

	// Poll configures the backoff of WaitFor and Connect
	Poll backoff.ExponentialBackOff
}

// New returns a client with a 10 second request timeout and a polling
// interval growing from 10 ms to 500 ms
func New(url string) *Client {
	return &Client{
		URL:  strings.TrimSuffix(url, "/"),
		HTTP: &http.Client{Timeout: 10 * time.Second},
		Poll: backoff.ExponentialBackOff{
			InitialInterval:     10 * time.Millisecond,
			RandomizationFactor: 0.,
			Multiplier:          2.,
			MaxInterval:         500 * time.Millisecond,
			MaxElapsedTime:      0,
			Clock:               backoff.SystemClock},
	}
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var rdr io.Reader
	if body != nil {
		buf := &bytes.Buffer{}
		if err := json.NewEncoder(buf).Encode(body); err != nil {
			return err
		}
		rdr = buf
	}
	req, err := http.NewRequestWithContext(ctx, method, c.URL+path, rdr)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return StatusError{Code: resp.StatusCode, Msg: strings.TrimSpace(string(msg))}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Connect waits for the server to answer, retrying refused connections
// until ctx is done
func (c *Client) Connect(ctx context.Context) error {
	op := func() error {
		var eps []string
		err := c.do(ctx, http.MethodGet, "/endpoints", nil, &eps)
		var se StatusError
		if errors.As(err, &se) {
			return backoff.Permanent(err)
		}
		return err
	}
	b := c.Poll
	return backoff.Retry(op, backoff.WithContext(&b, ctx))
}

// Get reads one parameter
func (c *Client) Get(ctx context.Context, name string) (digitizer.ParamPayload, error) {
	var p digitizer.ParamPayload
	err := c.do(ctx, http.MethodGet, "/param/"+name, nil, &p)
	return p, err
}

// GetInt reads an integer parameter
func (c *Client) GetInt(ctx context.Context, name string) (int, error) {
	p, err := c.Get(ctx, name)
	if err != nil {
		return 0, err
	}
	f, ok := p.Value.(float64)
	if !ok {
		return 0, fmt.Errorf("%s is %s, not int", name, p.Type)
	}
	return int(f), nil
}

// List reads every parameter
func (c *Client) List(ctx context.Context) ([]digitizer.ParamPayload, error) {
	var ps []digitizer.ParamPayload
	err := c.do(ctx, http.MethodGet, "/params", nil, &ps)
	return ps, err
}

// SetInt writes an integer parameter
func (c *Client) SetInt(ctx context.Context, name string, v int) error {
	return c.do(ctx, http.MethodPost, "/param/"+name, server.IntT{Int: v}, nil)
}

// SetFloat writes a float parameter
func (c *Client) SetFloat(ctx context.Context, name string, f float64) error {
	return c.do(ctx, http.MethodPost, "/param/"+name, server.FloatT{F64: f}, nil)
}

// Arm starts an acquisition
func (c *Client) Arm(ctx context.Context, s caen.ArmSettings) (caen.ArmResult, error) {
	var res caen.ArmResult
	err := c.do(ctx, http.MethodPost, "/arm", s, &res)
	return res, err
}

// Disarm stops the acquisition
func (c *Client) Disarm(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/disarm", nil, nil)
}

var errNotSettled = errors.New("not settled")

// WaitFor polls an integer parameter until done returns true for its value.
// Errors from the server other than a failed connection end the wait.
func (c *Client) WaitFor(ctx context.Context, name string, done func(int) bool) (int, error) {
	var last int
	op := func() error {
		v, err := c.GetInt(ctx, name)
		if err != nil {
			var se StatusError
			if errors.As(err, &se) {
				return backoff.Permanent(err)
			}
			return err
		}
		last = v
		if !done(v) {
			return errNotSettled
		}
		return nil
	}
	b := c.Poll
	err := backoff.Retry(op, backoff.WithContext(&b, ctx))
	return last, err
}

// WaitDone waits for a RESET, CALIBRATE or REFRESH request to leave Running
func (c *Client) WaitDone(ctx context.Context, name string) (caen.RequestState, error) {
	v, err := c.WaitFor(ctx, name, func(v int) bool { return caen.RequestState(v) != caen.Running })
	return caen.RequestState(v), err
}

// WaitOpenState waits for OPEN_STATE to leave Opening or Closing
func (c *Client) WaitOpenState(ctx context.Context) (caen.OpenState, error) {
	v, err := c.WaitFor(ctx, caen.ParamOpenState, func(v int) bool {
		s := caen.OpenState(v)
		return s == caen.Opened || s == caen.Closed
	})
	return caen.OpenState(v), err
}
