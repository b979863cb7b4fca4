// Package lama is the HTTP client for a single lama-cleaner worker's
// /inpaint endpoint.
package lama

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"
)

const requestTimeout = 10 * time.Minute

// inferenceFields is the fixed tuning configuration sent with every request.
// The values are opaque to this system and not user-tunable.
var inferenceFields = map[string]string{
	"ldmSteps":                      "25",
	"ldmSampler":                    "plms",
	"hdStrategy":                    "Original",
	"zitsWireframe":                 "false",
	"hdStrategyCropMargin":          "128",
	"hdStrategyCropTrigerSize":      "512",
	"hdStrategyResizeLimit":         "1280",
	"prompt":                        "",
	"negativePrompt":                "",
	"useCroper":                     "false",
	"croperX":                       "0",
	"croperY":                       "0",
	"croperHeight":                  "512",
	"croperWidth":                   "512",
	"sdScale":                       "1.0",
	"sdMaskBlur":                    "0",
	"sdStrength":                    "0.75",
	"sdSteps":                       "50",
	"sdGuidanceScale":               "7.5",
	"sdSampler":                     "uni_pc",
	"sdSeed":                        "42",
	"sdMatchHistograms":             "false",
	"cv2Flag":                       "INPAINT_NS",
	"cv2Radius":                     "4",
	"paintByExampleSteps":           "50",
	"paintByExampleGuidanceScale":   "7.5",
	"paintByExampleMaskBlur":        "0",
	"paintByExampleSeed":            "42",
	"paintByExampleMatchHistograms": "false",
	"paintByExampleExampleImage":    "",
	"p2pSteps":                      "50",
	"p2pImageGuidanceScale":         "7.5",
	"p2pGuidanceScale":              "7.5",
	"controlnet_conditioning_scale": "0.4",
	"controlnet_method":             "control_v11p_sd15_canny",
	"paint_by_example_example_image": "",
}

type Client struct {
	url    string
	client *http.Client
}

// New builds a client for the worker listening on the loopback port.
// Connections are reused across requests within one dispatch unit.
func New(port int) *Client {
	return NewWithBaseURL(fmt.Sprintf("http://127.0.0.1:%d", port))
}

func NewWithBaseURL(baseURL string) *Client {
	return &Client{
		url:    strings.TrimSuffix(baseURL, "/") + "/inpaint",
		client: &http.Client{Timeout: requestTimeout},
	}
}

// Inpaint sends one frame and its mask, returning the cleaned image bytes.
// Any non-200 response is a hard failure for the frame.
func (c *Client) Inpaint(ctx context.Context, image, mask []byte) ([]byte, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	if err := writeFilePart(mw, "image", "frame.jpg", "image/jpeg", image); err != nil {
		return nil, err
	}
	if err := writeFilePart(mw, "mask", "mask.png", "image/png", mask); err != nil {
		return nil, err
	}
	for field, value := range inferenceFields {
		if err := mw.WriteField(field, value); err != nil {
			return nil, fmt.Errorf("write form field %s: %w", field, err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("finalize multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("inpaint request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("inpaint: HTTP %d %s", resp.StatusCode, bodyPreview(resp.Body))
	}
	result, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read inpaint response: %w", err)
	}
	return result, nil
}

func writeFilePart(mw *multipart.Writer, field, filename, contentType string, data []byte) error {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition",
		fmt.Sprintf(`form-data; name=%q; filename=%q`, field, filename))
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return fmt.Errorf("create %s part: %w", field, err)
	}
	if _, err := part.Write(data); err != nil {
		return fmt.Errorf("write %s part: %w", field, err)
	}
	return nil
}

// bodyPreview reads a short, single-line sample of an error response.
func bodyPreview(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 4096))
	s := strings.ReplaceAll(string(b), "\r", " ")
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) > 240 {
		s = s[:240]
	}
	return strings.TrimSpace(s)
}
