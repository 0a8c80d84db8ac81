// Package inference talks to the external service that runs the model: it
// sends the leaf-token sentence and receives the subword tokens and per-layer
// activation vectors the model produced. The service is the only blocking,
// high-latency collaborator in the pipeline; its failures are recoverable at
// file granularity and surface as ErrServiceUnavailable.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/probelab/astprobe/activations"
	"github.com/probelab/astprobe/subword"
)

// ErrServiceUnavailable marks inference failures. The affected input is
// skipped and the batch continues.
var ErrServiceUnavailable = errors.New("inference service unavailable")

// Result is the model's output for one sentence: the subword stream with
// byte spans into the sentence, and the activation tensor indexed by
// (layer, subword index).
type Result struct {
	Subwords subword.Stream
	Tensor   *activations.Tensor
}

// Provider produces inference results for sentences. Client talks to a
// live service; FileProvider replays a precomputed activations file.
type Provider interface {
	Extract(ctx context.Context, sentence string) (*Result, error)
}

// Client calls the extraction endpoint over HTTP.
type Client struct {
	BaseURL    string
	Model      string
	Device     string
	HTTPClient *http.Client
}

// NewClient returns a client with a conservative default timeout; callers
// needing different behavior supply their own HTTPClient.
func NewClient(baseURL, model, device string) *Client {
	return &Client{
		BaseURL:    baseURL,
		Model:      model,
		Device:     device,
		HTTPClient: &http.Client{Timeout: 5 * time.Minute},
	}
}

type extractRequest struct {
	Model     string   `json:"model"`
	Device    string   `json:"device"`
	Sentences []string `json:"sentences"`
}

// Each result is extractor-format activation JSON, optionally extended with
// per-token byte spans when the service's tokenizer tracks offsets.
type extractResponse struct {
	Results []json.RawMessage `json:"results"`
}

type resultSpans struct {
	Spans []struct {
		Start int `json:"start"`
		End   int `json:"end"`
	} `json:"spans"`
}

// Extract runs inference for a single sentence.
func (c *Client) Extract(ctx context.Context, sentence string) (*Result, error) {
	results, err := c.ExtractBatch(ctx, []string{sentence})
	if err != nil {
		return nil, err
	}
	return results[0], nil
}

// ExtractBatch runs inference for several sentences in one call. Results
// are positional, one per sentence, so each input file's processing waits
// only on its own entry.
func (c *Client) ExtractBatch(ctx context.Context, sentences []string) ([]*Result, error) {
	body, err := json.Marshal(extractRequest{Model: c.Model, Device: c.Device, Sentences: sentences})
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode extract request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/extract", bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "failed to build extract request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, errors.Wrapf(ErrServiceUnavailable, "extract call failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, errors.Wrapf(ErrServiceUnavailable, "extract returned %s: %s", resp.Status, payload)
	}

	var decoded extractResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, errors.Wrapf(ErrServiceUnavailable, "bad extract response: %v", err)
	}
	if len(decoded.Results) != len(sentences) {
		return nil, errors.Wrapf(ErrServiceUnavailable,
			"extract returned %d results for %d sentences", len(decoded.Results), len(sentences))
	}

	results := make([]*Result, len(decoded.Results))
	for i, raw := range decoded.Results {
		r, err := decodeResult(raw, sentences[i])
		if err != nil {
			return nil, err
		}
		results[i] = r
	}
	return results, nil
}

// decodeResult turns one wire result into a Result. When the service
// reported token spans they are used directly; otherwise spans are
// recovered by matching token pieces back into the sentence.
func decodeResult(raw json.RawMessage, sentence string) (*Result, error) {
	tokens, tensor, err := activations.DecodeJSON(raw)
	if err != nil {
		return nil, errors.Wrapf(ErrServiceUnavailable, "bad result payload: %v", err)
	}

	var spans resultSpans
	if err := json.Unmarshal(raw, &spans); err == nil && len(spans.Spans) == len(tokens) {
		starts := make([]int, len(tokens))
		ends := make([]int, len(tokens))
		for i, s := range spans.Spans {
			starts[i], ends[i] = s.Start, s.End
		}
		return &Result{Subwords: subword.FromOffsets(tokens, starts, ends), Tensor: tensor}, nil
	}
	return &Result{Subwords: subword.Recover(sentence, tokens), Tensor: tensor}, nil
}
