package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/mickgian/pratikoai-retrieval/internal/core/domain"
)

// HTTPStatusError carries a non-2xx upstream answer together with its body.
type HTTPStatusError struct {
	Provider   string
	Operation  string
	StatusCode int
	Status     string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	if e == nil {
		return "llm status error"
	}
	if strings.TrimSpace(e.Body) == "" {
		return fmt.Sprintf("%s %s status: %s", e.Provider, e.Operation, e.Status)
	}
	return fmt.Sprintf("%s %s status: %s: %s", e.Provider, e.Operation, e.Status, strings.TrimSpace(e.Body))
}

// Request describes one JSON round trip to a provider API.
type Request struct {
	Provider  string
	Operation string
	Method    string
	URL       string
	Headers   map[string]string
	Payload   any
}

// DoJSON sends req and decodes a 2xx body into out. out may be nil.
func DoJSON(ctx context.Context, client *http.Client, req Request, out any) error {
	method := req.Method
	if method == "" {
		method = http.MethodPost
	}

	var body io.Reader
	if req.Payload != nil {
		raw, err := json.Marshal(req.Payload)
		if err != nil {
			return fmt.Errorf("marshal %s request: %w", req.Operation, err)
		}
		body = bytes.NewReader(raw)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return fmt.Errorf("create %s request: %w", req.Operation, err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for key, value := range req.Headers {
		httpReq.Header.Set(key, value)
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%s %s request: %w", req.Provider, req.Operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &HTTPStatusError{
			Provider:   req.Provider,
			Operation:  req.Operation,
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       string(msg),
		}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return domain.WrapError(domain.ErrMalformedResponse, "decode "+req.Operation+" response", err)
	}
	return nil
}
