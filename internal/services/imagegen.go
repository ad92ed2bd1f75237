package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jwebster45206/stage-engine/pkg/catalog"
	"github.com/jwebster45206/stage-engine/pkg/generation"
)

const (
	veniceBaseURL = "https://api.venice.ai/api/v1"

	DefaultImageWidth  = 1280
	DefaultImageHeight = 720

	// generatedDir is where new backgrounds land, relative to the asset root.
	generatedDir = "backgrounds/generated"
)

// VeniceImageService implements generation.Generator with the Venice AI
// image endpoint. Images are written under the asset directory and the
// returned path is relative to it.
type VeniceImageService struct {
	apiKey     string
	modelName  string
	baseURL    string
	assetDir   string
	httpClient *http.Client
	logger     *slog.Logger
}

var _ generation.Generator = (*VeniceImageService)(nil)

// VeniceImageRequest is the body of POST /image/generate
type VeniceImageRequest struct {
	Model          string `json:"model"`
	Prompt         string `json:"prompt"`
	NegativePrompt string `json:"negative_prompt,omitempty"`
	Width          int    `json:"width"`
	Height         int    `json:"height"`
	Format         string `json:"format"`
	SafeMode       bool   `json:"safe_mode"`
	ReturnBinary   bool   `json:"return_binary"`
}

// VeniceImageResponse is the JSON answer of POST /image/generate
type VeniceImageResponse struct {
	ID     string   `json:"id"`
	Images []string `json:"images"` // base64 encoded
	Error  *struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	} `json:"error,omitempty"`
}

// NewVeniceImageService creates a new Venice image service. baseURL may be
// empty for the public endpoint.
func NewVeniceImageService(apiKey, modelName, baseURL, assetDir string, logger *slog.Logger) *VeniceImageService {
	if baseURL == "" {
		baseURL = veniceBaseURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &VeniceImageService{
		apiKey:    apiKey,
		modelName: modelName,
		baseURL:   strings.TrimRight(baseURL, "/"),
		assetDir:  assetDir,
		httpClient: &http.Client{
			Timeout: 90 * time.Second,
		},
		logger: logger,
	}
}

// Generate renders prompt as a background and returns the new file's
// relative path.
func (v *VeniceImageService) Generate(ctx context.Context, prompt string, cat catalog.Category) (string, error) {
	if cat != catalog.Background {
		return "", fmt.Errorf("%w: %s", generation.ErrUnsupportedType, cat)
	}
	if v.apiKey == "" {
		return "", generation.ErrAuthRequired
	}

	reqBody, err := json.Marshal(VeniceImageRequest{
		Model:          v.modelName,
		Prompt:         backgroundPrompt(prompt),
		NegativePrompt: "people, characters, text, watermark",
		Width:          DefaultImageWidth,
		Height:         DefaultImageHeight,
		Format:         "png",
		SafeMode:       true,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.baseURL+"/image/generate", bytes.NewBuffer(reqBody))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+v.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to make request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}

	if err := classifyStatus(resp.StatusCode, body); err != nil {
		return "", err
	}

	var veniceResp VeniceImageResponse
	if err := json.Unmarshal(body, &veniceResp); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if veniceResp.Error != nil {
		return "", fmt.Errorf("API error: %s", veniceResp.Error.Message)
	}
	if len(veniceResp.Images) == 0 || veniceResp.Images[0] == "" {
		return "", generation.ErrEmptyResult
	}

	data, err := base64.StdEncoding.DecodeString(veniceResp.Images[0])
	if err != nil {
		return "", fmt.Errorf("failed to decode image: %w", err)
	}

	rel := path.Join(generatedDir, fmt.Sprintf("%s_%s.png", Slug(prompt), uuid.New().String()[:8]))
	if err := v.write(rel, data); err != nil {
		return "", err
	}

	v.logger.Info("Background image generated", "path", rel, "bytes", len(data), "request_id", veniceResp.ID)
	return rel, nil
}

func (v *VeniceImageService) write(rel string, data []byte) error {
	full := filepath.Join(v.assetDir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("failed to create asset directory: %w", err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return fmt.Errorf("failed to write image: %w", err)
	}
	return nil
}

// classifyStatus maps HTTP failures onto the generation error taxonomy.
func classifyStatus(status int, body []byte) error {
	switch {
	case status == http.StatusOK:
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: status %d", generation.ErrAuthInvalid, status)
	case (status == http.StatusBadRequest || status == http.StatusUnsupportedMediaType || status == http.StatusUnprocessableEntity) &&
		strings.Contains(strings.ToLower(string(body)), "unsupported"):
		return fmt.Errorf("%w: %s", generation.ErrUnsupportedType, strings.TrimSpace(string(body)))
	default:
		return fmt.Errorf("API request failed with status %d: %s", status, string(body))
	}
}

func backgroundPrompt(value string) string {
	return fmt.Sprintf("Visual novel background, wide establishing shot, no characters: %s", value)
}

// Slug turns free text into a short file-name-safe token.
func Slug(s string) string {
	var b strings.Builder
	underscore := false
	for _, r := range catalog.Fold(s) {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' {
			b.WriteRune(r)
			underscore = false
			continue
		}
		if !underscore && b.Len() > 0 {
			b.WriteByte('_')
			underscore = true
		}
	}
	out := strings.TrimRight(b.String(), "_")
	if len(out) > 40 {
		out = strings.TrimRight(out[:40], "_")
	}
	if out == "" {
		out = "background"
	}
	return out
}
