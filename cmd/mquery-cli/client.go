package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	perr "mquery/internal/platform/errors"
)

// client talks to mquery-api and unwraps the response envelope
type client struct {
	base string
	http *http.Client
}

func newClient(base string, timeout time.Duration) *client {
	return &client{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: timeout},
	}
}

// apiError is a non-2xx answer decoded from the envelope
type apiError struct {
	Status int
	Wire   perr.Wire
}

func (e *apiError) Error() string {
	if e.Wire.Field != "" {
		return fmt.Sprintf("%s (%d): %s [field %s]", e.Wire.Kind, e.Status, e.Wire.Message, e.Wire.Field)
	}
	return fmt.Sprintf("%s (%d): %s", e.Wire.Kind, e.Status, e.Wire.Message)
}

type envelope struct {
	StatusCode int             `json:"status_code"`
	Data       json.RawMessage `json:"data"`
	Error      *perr.Wire      `json:"error"`
}

func (c *client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNoContent {
		return nil
	}

	var env envelope
	if err := json.NewDecoder(res.Body).Decode(&env); err != nil {
		return fmt.Errorf("%s %s: status %d: decode: %w", method, path, res.StatusCode, err)
	}
	if res.StatusCode >= 300 || env.Error != nil {
		e := &apiError{Status: res.StatusCode}
		if env.Error != nil {
			e.Wire = *env.Error
		} else {
			e.Wire = perr.Wire{Kind: "http", Message: http.StatusText(res.StatusCode)}
		}
		return e
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	return json.Unmarshal(env.Data, out)
}

func esc(s string) string { return url.PathEscape(s) }
