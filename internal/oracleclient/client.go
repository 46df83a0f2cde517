package oracleclient

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/example/facegate/internal/imaging"
	"github.com/example/facegate/internal/logging"
	"github.com/example/facegate/internal/oracle"
)

// maxPayloadDimension bounds the images shipped to the embedding service.
// Anything larger is scaled down before encoding.
const maxPayloadDimension = 1024

// Client talks to a DeepFace-compatible HTTP service and implements
// oracle.Client.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

// New returns a ready-to-use client for the embedding service and verifies
// the service answers before handing it out.
func New(ctx context.Context, baseURL string, logger *zap.Logger) (*Client, error) {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
		logger:  logger.Named("oracleclient"),
	}
	if err := c.ping(ctx); err != nil {
		wrapped := logging.NewOperationError("oracleclient.ping", "", err)
		logger.Error("embedding service unreachable", zap.Error(wrapped), zap.String("base_url", baseURL))
		return nil, wrapped
	}
	return c, nil
}

func (c *Client) ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(pingCtx, http.MethodGet, c.baseURL+"/", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("service returned status %d", resp.StatusCode)
	}
	return nil
}

type verifyRequest struct {
	Img1             string `json:"img1"`
	Img2             string `json:"img2"`
	ModelName        string `json:"model_name"`
	DetectorBackend  string `json:"detector_backend"`
	EnforceDetection bool   `json:"enforce_detection"`
}

type verifyResponse struct {
	Verified bool    `json:"verified"`
	Distance float64 `json:"distance"`
}

// Compare runs a pairwise face comparison between a probe and a reference
// image.
func (c *Client) Compare(ctx context.Context, probe, reference []byte, opts oracle.Options) (*oracle.Comparison, error) {
	payload := verifyRequest{
		Img1:             c.prepare(probe),
		Img2:             c.prepare(reference),
		ModelName:        opts.Model,
		DetectorBackend:  opts.Backend,
		EnforceDetection: !opts.RelaxedDetection,
	}

	var parsed verifyResponse
	if err := c.post(ctx, "/verify", payload, &parsed); err != nil {
		wrapped := logging.NewOperationError("oracleclient.compare", "", err)
		c.logger.Error("pairwise comparison failed", zap.Error(wrapped))
		return nil, wrapped
	}

	return &oracle.Comparison{Verified: parsed.Verified, Distance: parsed.Distance}, nil
}

type representRequest struct {
	Img              string `json:"img"`
	DetectorBackend  string `json:"detector_backend"`
	EnforceDetection bool   `json:"enforce_detection"`
}

type representResponse struct {
	Results []struct {
		FacialArea struct {
			X int `json:"x"`
			Y int `json:"y"`
			W int `json:"w"`
			H int `json:"h"`
		} `json:"facial_area"`
		FaceConfidence float64 `json:"face_confidence"`
	} `json:"results"`
}

// DetectFaces asks the service for face detections. Zero detections is a
// valid answer, not an error.
func (c *Client) DetectFaces(ctx context.Context, image []byte, backend string) ([]oracle.Detection, error) {
	payload := representRequest{
		Img:              c.prepare(image),
		DetectorBackend:  backend,
		EnforceDetection: false,
	}

	var parsed representResponse
	if err := c.post(ctx, "/represent", payload, &parsed); err != nil {
		wrapped := logging.NewOperationError("oracleclient.detect_faces", "", err)
		c.logger.Error("face detection failed", zap.Error(wrapped))
		return nil, wrapped
	}

	detections := make([]oracle.Detection, 0, len(parsed.Results))
	for _, r := range parsed.Results {
		detections = append(detections, oracle.Detection{
			Box:        [4]int{r.FacialArea.X, r.FacialArea.Y, r.FacialArea.W, r.FacialArea.H},
			Confidence: r.FaceConfidence,
		})
	}
	return detections, nil
}

func (c *Client) post(ctx context.Context, path string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned status %d: %s", path, resp.StatusCode, truncate(raw, 200))
	}
	return json.Unmarshal(raw, out)
}

// prepare scales oversized images down before shipping them over the wire.
// Payloads that do not decode are sent as-is so the service reports its own
// error instead of this client guessing.
func (c *Client) prepare(data []byte) string {
	resized, err := imaging.Resize(data, maxPayloadDimension)
	if err != nil {
		return encodeImage(data)
	}
	return encodeImage(resized)
}

func encodeImage(data []byte) string {
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(data)
}

func truncate(data []byte, n int) string {
	if len(data) <= n {
		return string(data)
	}
	return string(data[:n]) + "..."
}
