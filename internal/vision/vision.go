// Package vision detects UI elements in a screenshot via the Gemini vision
// API, returning bounding boxes on the model's normalized 0-1000 coordinate
// scale, per original_source/clients/gemini_detector.py.
package vision

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"browserd/internal/apperr"
)

const (
	DefaultModel  = "gemini-2.5-flash"
	DefaultPrompt = "Return bounding boxes as JSON arrays [ymin, xmin, ymax, xmax] for all clickable elements"
)

// Box is a detection on Gemini's 0-1000 normalized scale: [ymin, xmin, ymax, xmax].
type Box [4]int

var coordPattern = regexp.MustCompile(`\[\s*\d+\s*,\s*\d+\s*,\s*\d+\s*,\s*\d+\s*\]`)

// Detector wraps a genai client scoped to image-grounded box detection.
type Detector struct {
	client *genai.Client
	model  string
	log    *zap.Logger
}

// New constructs a Detector. apiKey must be non-empty.
func New(ctx context.Context, apiKey, model string, log *zap.Logger) (*Detector, error) {
	if apiKey == "" {
		return nil, apperr.New(apperr.VisionAuth, "vision API key is required")
	}
	if model == "" {
		model = DefaultModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, apperr.Wrap(apperr.VisionAuth, err, "failed to create genai client")
	}
	return &Detector{client: client, model: model, log: log}, nil
}

// Detect sends image (raw PNG/JPEG bytes) with prompt to the vision model
// and extracts every [ymin,xmin,ymax,xmax] array found in the response
// text. It retries once on an overloaded/503 response, per the reference
// client's handling.
func (d *Detector) Detect(ctx context.Context, image []byte, mimeType, prompt string) (string, []Box, error) {
	if prompt == "" {
		prompt = DefaultPrompt
	}
	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromText(prompt),
			genai.NewPartFromBytes(image, mimeType),
		}, genai.RoleUser),
	}

	text, err := d.generate(ctx, contents)
	if err != nil {
		if isOverloaded(err) {
			time.Sleep(500 * time.Millisecond)
			text, err = d.generate(ctx, contents)
		}
		if err != nil {
			return "", nil, err
		}
	}

	return text, extractBoxes(text), nil
}

func (d *Detector) generate(ctx context.Context, contents []*genai.Content) (string, error) {
	result, err := d.client.Models.GenerateContent(ctx, d.model, contents, nil)
	if err != nil {
		if isOverloaded(err) {
			return "", apperr.Wrap(apperr.VisionOverloaded, err, "vision model overloaded")
		}
		return "", apperr.Wrap(apperr.BackendError, err, "vision request failed")
	}
	if len(result.Candidates) == 0 || result.Candidates[0].Content == nil || len(result.Candidates[0].Content.Parts) == 0 {
		return "", apperr.New(apperr.VisionMalformed, "unexpected vision response structure")
	}
	var sb strings.Builder
	for _, part := range result.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}
	return sb.String(), nil
}

func isOverloaded(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "503") || strings.Contains(msg, "overloaded")
}

func extractBoxes(text string) []Box {
	matches := coordPattern.FindAllString(text, -1)
	boxes := make([]Box, 0, len(matches))
	for _, m := range matches {
		var coords [4]int
		if err := json.Unmarshal([]byte(m), &coords); err != nil {
			continue
		}
		boxes = append(boxes, Box(coords))
	}
	return boxes
}

// PixelRect is a Box converted to pixel coordinates within an image.
type PixelRect struct {
	X1, Y1, X2, Y2 int
}

// ToPixels converts a Box (normalized to 0-1000) to pixel coordinates
// within an image of the given dimensions, per testable property #10.
func (b Box) ToPixels(width, height int) PixelRect {
	ymin, xmin, ymax, xmax := b[0], b[1], b[2], b[3]
	return PixelRect{
		X1: xmin * width / 1000,
		Y1: ymin * height / 1000,
		X2: xmax * width / 1000,
		Y2: ymax * height / 1000,
	}
}

// Center returns the click-target center of a pixel rect.
func (r PixelRect) Center() (x, y int) {
	return (r.X1 + r.X2) / 2, (r.Y1 + r.Y2) / 2
}

func (r PixelRect) String() string {
	return fmt.Sprintf("(%d,%d)-(%d,%d)", r.X1, r.Y1, r.X2, r.Y2)
}
