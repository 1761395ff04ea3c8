package gateway

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

	"github.com/cenkalti/backoff/v4"
	"github.com/ziflex/lecho/v3"
)

const maxResponseBytes = 1 << 20

// apiClient is the JSON-over-HTTP transport shared by the gateway clients.
type apiClient struct {
	name          string
	baseURL       string
	authorization string
	timeout       time.Duration
	maxRetries    int
	httpClient    *http.Client
	logger        *lecho.Logger
}

func newAPIClient(name, baseURL, authorization string, c *Config, logger *lecho.Logger) *apiClient {
	timeout := time.Duration(c.Timeout) * time.Second
	return &apiClient{
		name:          name,
		baseURL:       strings.TrimRight(baseURL, "/"),
		authorization: authorization,
		timeout:       timeout,
		maxRetries:    c.MaxRetries,
		httpClient:    &http.Client{Timeout: timeout},
		logger:        logger,
	}
}

// Request performs one API call with a bounded retry budget for transient failures
// and decodes the response into response. The raw response body is returned as well.
func (client *apiClient) Request(ctx context.Context, op, method, path string, body interface{}, response interface{}) (json.RawMessage, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, &Error{Op: op, Err: err}
		}
	}

	var raw []byte
	attempt := func() error {
		var err error
		raw, err = client.do(ctx, op, method, path, payload)
		if err != nil {
			gwErr := &Error{}
			if errors.As(err, &gwErr) && !gwErr.Temporary() {
				return backoff.Permanent(err)
			}
			return err
		}
		return nil
	}
	err := backoff.RetryNotify(attempt, client.backOff(ctx), func(err error, wait time.Duration) {
		client.logger.Warnf("%s %s failed, retrying in %s: %v", client.name, op, wait, err)
	})
	if err != nil {
		gwErr := &Error{}
		if errors.As(err, &gwErr) {
			return nil, gwErr
		}
		return nil, &Error{Op: op, Err: err}
	}

	if response != nil {
		if err := json.Unmarshal(raw, response); err != nil {
			return nil, &Error{Op: op, Err: fmt.Errorf("%w: %v", errMalformedResponse, err)}
		}
	}
	return raw, nil
}

func (client *apiClient) do(ctx context.Context, op, method, path string, payload []byte) ([]byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, client.timeout)
	defer cancel()

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	httpReq, err := http.NewRequestWithContext(reqCtx, method, client.baseURL+path, reader)
	if err != nil {
		return nil, &Error{Op: op, Err: err}
	}
	httpReq.Header.Set("Authorization", client.authorization)
	httpReq.Header.Set("Accept", "application/json")
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.httpClient.Do(httpReq)
	if err != nil {
		return nil, &Error{Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &Error{Op: op, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &Error{Op: op, StatusCode: resp.StatusCode, Body: truncate(string(raw), 256)}
	}
	return raw, nil
}

func (client *apiClient) backOff(ctx context.Context) backoff.BackOff {
	expontentialBackoff := backoff.NewExponentialBackOff()
	expontentialBackoff.InitialInterval = 200 * time.Millisecond
	expontentialBackoff.MaxInterval = time.Second
	expontentialBackoff.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(expontentialBackoff, uint64(client.maxRetries)), ctx)
}

func unixTime(seconds int64) time.Time {
	if seconds == 0 {
		return time.Time{}
	}
	return time.Unix(seconds, 0).UTC()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
