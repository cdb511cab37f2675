package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/tuumbleweed/xerr"
)

/*
ImagePrompt is one vision request: instructions, optional user text and an
image file sent inline as a data URL. Name and Schema describe the strict JSON
output.
*/
type ImagePrompt struct {
	Model           string
	Effort          Effort
	MaxOutputTokens int
	Instructions    string
	DeveloperText   string
	UserText        string
	ImagePath       string
	SchemaName      string
	Schema          map[string]any
	Metadata        map[string]string
}

/*
ImageDataURL reads imagePath and returns it as a base64 data URL. The MIME type
comes from the content, not the extension.
*/
func ImageDataURL(imagePath string) (dataURL string, e *xerr.Error) {
	raw, err := os.ReadFile(imagePath)
	if err != nil {
		return "", xerr.NewError(err, "read image for upload", imagePath)
	}
	if len(raw) == 0 {
		return "", xerr.NewError(fmt.Errorf("file is empty"), "read image for upload", imagePath)
	}
	mime := http.DetectContentType(raw)
	if !strings.HasPrefix(mime, "image/") {
		mime = "image/" + strings.TrimPrefix(strings.ToLower(filepath.Ext(imagePath)), ".")
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(raw), nil
}

/*
RespondWithImage sends prompt and unmarshals the strict JSON answer into T.
The returned metadata is valid even when e is not nil.
*/
func RespondWithImage[T any](ctx context.Context, client *Client, prompt ImagePrompt, progress ProgressFunc) (out T, meta RunMetadata, e *xerr.Error) {
	dataURL, e := ImageDataURL(prompt.ImagePath)
	if e != nil {
		return out, meta, e
	}

	content := []map[string]any{}
	if strings.TrimSpace(prompt.UserText) != "" {
		content = append(content, map[string]any{"type": "input_text", "text": prompt.UserText})
	}
	content = append(content, map[string]any{"type": "input_image", "image_url": dataURL})

	input := []InputItem{}
	if strings.TrimSpace(prompt.DeveloperText) != "" {
		input = append(input, InputItem{Role: RoleDeveloper, Content: prompt.DeveloperText})
	}
	input = append(input, InputItem{Role: RoleUser, Content: content})

	effort := prompt.Effort
	if effort == "" {
		effort = EffortLow
	}
	params := InputParameters{
		Model:        prompt.Model,
		Instructions: prompt.Instructions,
		Input:        input,
		Reasoning:    &Reasoning{Effort: &effort},
		Metadata:     prompt.Metadata,
	}
	if prompt.MaxOutputTokens > 0 {
		maxTokens := prompt.MaxOutputTokens
		params.MaxOutputTokens = &maxTokens
	}
	if prompt.Schema != nil {
		text := TextAsJSONSchema(prompt.SchemaName, prompt.Schema, true)
		params.Text = &text
	}

	text, meta, e := client.SendPrompt(ctx, params, progress)
	if e != nil {
		return out, meta, e
	}
	if strings.TrimSpace(text) == "" {
		return out, meta, xerr.NewError(fmt.Errorf("no output text"), "read structured response", meta.ResponseID)
	}
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return out, meta, xerr.NewError(err, "decode structured response", truncate(text, 200))
	}
	return out, meta, nil
}
