package importflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/zulandar/jigged/internal/importer"
)

// RemoteError is a non-2xx answer from the import service.
type RemoteError struct {
	Status  int
	Kind    string
	Message string
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("import service returned %d", e.Status)
	}
	return e.Message
}

// HTTPRemote calls the import endpoints of a jig API server.
type HTTPRemote struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

// NewHTTPRemote returns a remote for baseURL authenticating with token.
func NewHTTPRemote(baseURL, token string) *HTTPRemote {
	return &HTTPRemote{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		Client:  &http.Client{Timeout: 2 * time.Minute},
	}
}

// Analyze implements Remote.
func (h *HTTPRemote) Analyze(ctx context.Context, module string, req importer.AnalyzeRequest) (*importer.AnalyzeResult, error) {
	var out importer.AnalyzeResult
	if err := h.post(ctx, module, "analyze", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Validate implements Remote.
func (h *HTTPRemote) Validate(ctx context.Context, module string, req importer.ValidateRequest) (*importer.ValidateResult, error) {
	var out importer.ValidateResult
	if err := h.post(ctx, module, "validate", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Execute implements Remote.
func (h *HTTPRemote) Execute(ctx context.Context, module string, req importer.ExecuteRequest) (*importer.ExecuteResult, error) {
	var out importer.ExecuteResult
	if err := h.post(ctx, module, "execute", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (h *HTTPRemote) post(ctx context.Context, module, step string, body, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("importflow: encode %s request: %w", step, err)
	}
	url := fmt.Sprintf("%s/api/%s/import/%s", h.BaseURL, module, step)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("importflow: %s request: %w", step, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if h.Token != "" {
		req.Header.Set("Authorization", "Bearer "+h.Token)
	}

	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("importflow: %s: %w", step, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("importflow: read %s response: %w", step, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		re := &RemoteError{Status: resp.StatusCode}
		var body struct {
			Error string `json:"error"`
			Kind  string `json:"kind"`
		}
		if json.Unmarshal(data, &body) == nil {
			re.Message, re.Kind = body.Error, body.Kind
		}
		return re
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("importflow: decode %s response: %w", step, err)
	}
	return nil
}
