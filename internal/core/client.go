package core

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// Request describes one registry document to fetch.
type Request struct {
	Source string // npm, jsr, github; used for metrics and error messages
	URL    string
	Header http.Header
}

// Doer fetches registry documents. Implementations own retry and transport policy.
type Doer interface {
	Fetch(ctx context.Context, req *Request) ([]byte, error)
}

// DoerFunc adapts a function to the Doer interface.
type DoerFunc func(ctx context.Context, req *Request) ([]byte, error)

// Fetch calls f(ctx, req).
func (f DoerFunc) Fetch(ctx context.Context, req *Request) ([]byte, error) {
	return f(ctx, req)
}

// FetchJSON fetches req through doer and decodes the body into v.
func FetchJSON(ctx context.Context, doer Doer, req *Request, v any) error {
	body, err := doer.Fetch(ctx, req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decoding %s response from %s: %w", req.Source, req.URL, err)
	}
	return nil
}
