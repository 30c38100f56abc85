// Package client provides HTTP-verb convenience builders: producers for
// GET-style reads and executors for POST/PUT/DELETE-style writes, with
// JSON codec and non-2xx errors normalized into HTTPError.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// maxErrorBody bounds how much of an error response body is kept on the
// HTTPError for the human-readable message.
const maxErrorBody = 512

// GetJSON builds a query producer: GET url, decode the JSON response into
// T, return an HTTPError on non-2xx. A nil httpClient selects
// http.DefaultClient.
func GetJSON[T any](httpClient *http.Client, url string) func(ctx context.Context) (T, error) {
	hc := orDefault(httpClient)
	return func(ctx context.Context) (T, error) {
		var out T

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return out, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := hc.Do(req)
		if err != nil {
			return out, fmt.Errorf("get %s: %w", url, err)
		}
		defer resp.Body.Close()

		if err := decodeJSON(resp, &out); err != nil {
			return out, err
		}
		return out, nil
	}
}

// SendJSON builds a mutation executor for the given method (POST, PUT or
// DELETE): the variables are sent as a JSON body, the response is decoded
// into T, non-2xx becomes an HTTPError.
func SendJSON[T any, V any](httpClient *http.Client, method, url string) func(ctx context.Context, variables V) (T, error) {
	hc := orDefault(httpClient)
	return func(ctx context.Context, variables V) (T, error) {
		var out T

		body, err := json.Marshal(variables)
		if err != nil {
			return out, fmt.Errorf("marshal request body: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
		if err != nil {
			return out, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")

		resp, err := hc.Do(req)
		if err != nil {
			return out, fmt.Errorf("%s %s: %w", method, url, err)
		}
		defer resp.Body.Close()

		if err := decodeJSON(resp, &out); err != nil {
			return out, err
		}
		return out, nil
	}
}

// PostJSON builds a POST executor.
func PostJSON[T any, V any](httpClient *http.Client, url string) func(ctx context.Context, variables V) (T, error) {
	return SendJSON[T, V](httpClient, http.MethodPost, url)
}

// PutJSON builds a PUT executor.
func PutJSON[T any, V any](httpClient *http.Client, url string) func(ctx context.Context, variables V) (T, error) {
	return SendJSON[T, V](httpClient, http.MethodPut, url)
}

// DeleteJSON builds a DELETE executor.
func DeleteJSON[T any, V any](httpClient *http.Client, url string) func(ctx context.Context, variables V) (T, error) {
	return SendJSON[T, V](httpClient, http.MethodDelete, url)
}

func decodeJSON(resp *http.Response, out any) error {
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &HTTPError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       string(bytes.TrimSpace(body)),
		}
	}

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if err == io.EOF {
			// Empty 2xx body is a legal "no data" response.
			return nil
		}
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func orDefault(hc *http.Client) *http.Client {
	if hc == nil {
		return http.DefaultClient
	}
	return hc
}
