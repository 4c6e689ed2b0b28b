// Package client is the GraphQL client for the project-management platform's
// chat and entity APIs.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"
)

// Options configures a Client.
type Options struct {
	// Endpoint is the GraphQL HTTP endpoint.
	Endpoint string
	// Token is sent verbatim as a bearer token.
	Token string
	// Timeout bounds every HTTP request. Sends may take as long as the model does.
	Timeout time.Duration
	Logger  *slog.Logger
}

// Client is a GraphQL client for the platform. It is safe for concurrent use.
type Client struct {
	endpoint   string
	token      string
	httpClient *http.Client
	logger     *slog.Logger

	// operation names keyed by query document
	opNames sync.Map
}

// New creates a client.
func New(opts Options) *Client {
	if opts.Endpoint == "" {
		opts.Endpoint = "http://localhost:8080/graphql"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Client{
		endpoint:   opts.Endpoint,
		token:      opts.Token,
		httpClient: &http.Client{Timeout: opts.Timeout},
		logger:     opts.Logger.With("component", "client"),
	}
}

// graphQLRequest is the request payload for GraphQL operations.
type graphQLRequest struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName,omitempty"`
	Variables     map[string]any `json:"variables,omitempty"`
}

// graphQLResponse is the response payload from GraphQL operations.
type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphQLError  `json:"errors,omitempty"`
}

// graphQLError represents a GraphQL error.
type graphQLError struct {
	Message    string         `json:"message"`
	Path       []any          `json:"path,omitempty"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

func (e graphQLError) code() string {
	code, _ := e.Extensions["code"].(string)
	return code
}

// operationName returns the name of the document's first operation.
// Documents that do not parse are a programming error and are reported as such.
func (c *Client) operationName(query string) (string, error) {
	if v, ok := c.opNames.Load(query); ok {
		return v.(string), nil
	}
	doc, err := parser.ParseQuery(&ast.Source{Input: query})
	if err != nil {
		return "", fmt.Errorf("parse graphql document: %w", err)
	}
	name := ""
	if len(doc.Operations) > 0 {
		name = doc.Operations[0].Name
	}
	c.opNames.Store(query, name)
	return name, nil
}

// Execute sends a GraphQL query or mutation and decodes data into result.
//
// Transport failures and 5xx responses wrap ErrTransient, quota failures are
// returned as *QuotaError, and a cancelled ctx is returned as ctx.Err().
func (c *Client) Execute(ctx context.Context, query string, variables map[string]any, result any) error {
	opName, err := c.operationName(query)
	if err != nil {
		return err
	}

	start := time.Now()
	err = c.execute(ctx, opName, query, variables, result)
	c.logRequest(opName, variables, time.Since(start), err)
	return err
}

func (c *Client) execute(ctx context.Context, opName, query string, variables map[string]any, result any) error {
	reqBody, err := json.Marshal(graphQLRequest{
		Query:         query,
		OperationName: opName,
		Variables:     variables,
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%s: %w: %w", opName, ErrTransient, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%s: read response: %w: %w", opName, ErrTransient, err)
	}
	if err := classifyStatus(resp.StatusCode, body); err != nil {
		return fmt.Errorf("%s: %w", opName, err)
	}

	var gqlResp graphQLResponse
	if err := json.Unmarshal(body, &gqlResp); err != nil {
		return fmt.Errorf("%s: unmarshal response: %w", opName, err)
	}

	if len(gqlResp.Errors) > 0 {
		return fmt.Errorf("%s: %w", opName, classifyGraphQLError(gqlResp.Errors[0], variables))
	}

	if result != nil && len(gqlResp.Data) > 0 {
		if err := json.Unmarshal(gqlResp.Data, result); err != nil {
			return fmt.Errorf("%s: unmarshal data: %w", opName, err)
		}
	}

	return nil
}
