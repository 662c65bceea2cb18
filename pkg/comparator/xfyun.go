package comparator

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/teslashibe/go-concierge/internal/httpc"
)

const providerXFYun = "xfyun"

// Client calls the iFlytek face_compare service.
type Client struct {
	url    string
	host   string
	config *Config
	http   *http.Client
	logger *slog.Logger
}

// NewClient creates a face_compare client. Credentials are required.
func NewClient(opts ...Option) (*Client, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	endpoint := strings.TrimSuffix(cfg.Endpoint, "/")
	reqURL := endpoint + "/v1/private/" + cfg.ServerID
	u, err := url.Parse(reqURL)
	if err != nil {
		return nil, fmt.Errorf("comparator: endpoint: %w", err)
	}

	h := cfg.HTTPClient
	if h == nil {
		h = httpc.NewClient(cfg.ConnectTimeout, cfg.ReadTimeout)
	}

	return &Client{
		url:    reqURL,
		host:   u.Host,
		config: cfg,
		http:   h,
		logger: cfg.Logger.With("component", "comparator.xfyun"),
	}, nil
}

// Compare sends both images in one request and decodes the verdict.
func (c *Client) Compare(ctx context.Context, probe, reference []byte) (Verdict, error) {
	if len(probe) == 0 || len(reference) == 0 {
		return Verdict{}, ErrEmptyImage
	}

	probe, err := shrink(probe, c.config.MaxImageBytes, c.config.MaxImageDim)
	if err != nil {
		return Verdict{}, WrapError(providerXFYun, fmt.Errorf("probe: %w", err))
	}
	reference, err = shrink(reference, c.config.MaxImageBytes, c.config.MaxImageDim)
	if err != nil {
		return Verdict{}, WrapError(providerXFYun, fmt.Errorf("reference: %w", err))
	}

	body, err := json.Marshal(c.buildPayload(probe, reference))
	if err != nil {
		return Verdict{}, WrapError(providerXFYun, fmt.Errorf("marshal payload: %w", err))
	}

	signed, err := signURL(c.url, http.MethodPost, c.config.APIKey, c.config.APISecret, c.config.Now())
	if err != nil {
		return Verdict{}, WrapError(providerXFYun, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, signed, bytes.NewReader(body))
	if err != nil {
		return Verdict{}, WrapError(providerXFYun, fmt.Errorf("create request: %w", err))
	}
	req.Host = c.host
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("app_id", c.config.AppID)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return Verdict{}, WrapError(providerXFYun, err)
	}
	defer resp.Body.Close()

	v, err := c.parseResponse(resp)
	if err != nil {
		return Verdict{}, WrapError(providerXFYun, err)
	}

	c.logger.Debug("compare complete",
		"ret", v.Ret,
		"score", v.Score,
		"duration", time.Since(start),
	)
	return v, nil
}

type imageInput struct {
	Encoding string `json:"encoding"`
	Status   int    `json:"status"`
	Image    string `json:"image"`
}

type resultFormat struct {
	Encoding string `json:"encoding"`
	Compress string `json:"compress"`
	Format   string `json:"format"`
}

type serviceParams struct {
	ServiceKind       string       `json:"service_kind"`
	FaceCompareResult resultFormat `json:"face_compare_result"`
}

type compareRequest struct {
	Header struct {
		AppID  string `json:"app_id"`
		Status int    `json:"status"`
	} `json:"header"`
	Parameter map[string]serviceParams `json:"parameter"`
	Payload   struct {
		Input1 imageInput `json:"input1"`
		Input2 imageInput `json:"input2"`
	} `json:"payload"`
}

type compareResponse struct {
	Header struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		SID     string `json:"sid"`
	} `json:"header"`
	Payload *struct {
		FaceCompareResult *struct {
			Text string `json:"text"`
		} `json:"face_compare_result"`
	} `json:"payload"`
}

// buildPayload creates the request body. Status 3 marks a single complete
// frame for both the header and each input.
func (c *Client) buildPayload(probe, reference []byte) *compareRequest {
	var r compareRequest
	r.Header.AppID = c.config.AppID
	r.Header.Status = 3
	r.Parameter = map[string]serviceParams{
		c.config.ServerID: {
			ServiceKind: "face_compare",
			FaceCompareResult: resultFormat{
				Encoding: "utf8",
				Compress: "raw",
				Format:   "json",
			},
		},
	}
	r.Payload.Input1 = imageInput{Encoding: "jpg", Status: 3, Image: base64.StdEncoding.EncodeToString(probe)}
	r.Payload.Input2 = imageInput{Encoding: "jpg", Status: 3, Image: base64.StdEncoding.EncodeToString(reference)}
	return &r
}

// parseResponse maps the HTTP response to a verdict or an error.
func (c *Client) parseResponse(resp *http.Response) (Verdict, error) {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Verdict{}, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Verdict{}, &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
	}

	var cr compareResponse
	if err := json.Unmarshal(raw, &cr); err != nil {
		return Verdict{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if cr.Header.Code != 0 {
		return Verdict{}, &APIError{
			StatusCode: resp.StatusCode,
			Code:       cr.Header.Code,
			Message:    cr.Header.Message,
			SID:        cr.Header.SID,
		}
	}
	if cr.Payload == nil || cr.Payload.FaceCompareResult == nil {
		return Verdict{}, fmt.Errorf("%w: missing payload.face_compare_result", ErrMalformedResponse)
	}

	text, err := base64.StdEncoding.DecodeString(cr.Payload.FaceCompareResult.Text)
	if err != nil {
		return Verdict{}, fmt.Errorf("%w: result text: %v", ErrMalformedResponse, err)
	}
	var v Verdict
	if err := json.Unmarshal(text, &v); err != nil {
		return Verdict{}, fmt.Errorf("%w: result json: %v", ErrMalformedResponse, err)
	}
	return v, nil
}

var _ Comparator = (*Client)(nil)
