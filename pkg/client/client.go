// Package client calls the model service HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/synaptica-ai/modelhub/pkg/common/models"
)

// APIError is a non-2xx answer from the service.
type APIError struct {
	StatusCode int
	Status     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("model service: %d %s", e.StatusCode, e.Status)
}

type Client struct {
	baseURL  string
	http     *http.Client
	attempts int
	backoff  time.Duration
}

func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = NewHTTPClient(10 * time.Second)
	}
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		http:     httpClient,
		attempts: 3,
		backoff:  100 * time.Millisecond,
	}
}

func (c *Client) Register(ctx context.Context, model string, params map[string]interface{}, d, nClasses int) (uint64, error) {
	if params == nil {
		params = map[string]interface{}{}
	}
	body := map[string]interface{}{
		"model":     model,
		"params":    params,
		"d":         d,
		"n_classes": nClasses,
	}
	var resp models.RegisterResponse
	if err := c.do(ctx, http.MethodPost, "/models/", body, &resp); err != nil {
		return 0, err
	}
	return resp.ID, nil
}

func (c *Client) Get(ctx context.Context, id uint64) (models.ModelDetails, error) {
	var resp models.ModelDetails
	err := c.get(ctx, fmt.Sprintf("/models/%d/", id), &resp)
	return resp, err
}

// Train is not retried: a repeated call would count the sample twice.
func (c *Client) Train(ctx context.Context, id uint64, x []float64, y int) error {
	body := map[string]interface{}{"x": x, "y": y}
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/models/%d/train/", id), body, nil)
}

func (c *Client) Predict(ctx context.Context, id uint64, x []float64) (int, error) {
	encoded, err := EncodeVector(x)
	if err != nil {
		return 0, err
	}
	var resp models.PredictResponse
	path := fmt.Sprintf("/models/%d/predict/?x=%s", id, url.QueryEscape(encoded))
	if err := c.get(ctx, path, &resp); err != nil {
		return 0, err
	}
	return resp.Y, nil
}

func (c *Client) List(ctx context.Context) ([]models.ModelScore, error) {
	var resp models.ModelList
	err := c.get(ctx, "/models/", &resp)
	return resp.Models, err
}

func (c *Client) Groups(ctx context.Context) ([]models.ModelGroup, error) {
	var resp models.GroupList
	err := c.get(ctx, "/models/groups/", &resp)
	return resp.Groups, err
}

// EncodeVector renders x the way the predict endpoint expects it.
func EncodeVector(x []float64) (string, error) {
	raw, err := json.Marshal(x)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	return Retry(ctx, c.attempts, c.backoff, func() error {
		return c.do(ctx, http.MethodGet, path, nil, out)
	})
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var status models.StatusResponse
		_ = json.NewDecoder(resp.Body).Decode(&status)
		if status.Status == "" {
			status.Status = http.StatusText(resp.StatusCode)
		}
		return &APIError{StatusCode: resp.StatusCode, Status: status.Status}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
