// Package ai implements the model-backed collaborators (transcription,
// frame description, segment scoring, text embedding) on the OpenAI API
// surface. Any OpenAI-compatible gateway works via a custom base URL.
package ai

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/himanishpuri/VideoDNA/pkg/logger"
	"github.com/himanishpuri/VideoDNA/pkg/models"
	"github.com/himanishpuri/VideoDNA/pkg/videodna/media"
)

const (
	DefaultChatModel   = "gpt-4o-mini"
	DefaultVisionModel = "gpt-4o-mini"
	DefaultASRModel    = "whisper-1"
	DefaultEmbedModel  = "text-embedding-3-small"
)

// Config carries credentials and model names for the collaborators.
type Config struct {
	APIKey      string
	BaseURL     string
	ChatModel   string
	VisionModel string
	ASRModel    string
	EmbedModel  string
}

func (c *Config) applyDefaults() {
	if c.ChatModel == "" {
		c.ChatModel = DefaultChatModel
	}
	if c.VisionModel == "" {
		c.VisionModel = DefaultVisionModel
	}
	if c.ASRModel == "" {
		c.ASRModel = DefaultASRModel
	}
	if c.EmbedModel == "" {
		c.EmbedModel = DefaultEmbedModel
	}
}

// Client implements the Transcriber, VisionAnalyzer, SegmentScorer and
// Embedder collaborators on one OpenAI client.
type Client struct {
	api openai.Client
	cfg Config
	log *logger.Logger
}

func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("missing OpenAI API key (set OPENAI_API_KEY)")
	}
	cfg.applyDefaults()

	clientOpts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
	}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(cfg.BaseURL))
	}

	return &Client{
		api: openai.NewClient(clientOpts...),
		cfg: cfg,
		log: logger.GetLogger(),
	}, nil
}

// Transcribe runs speech recognition over an audio file and returns timed
// speech units.
func (c *Client) Transcribe(ctx context.Context, audioPath string) ([]models.TimedUnit, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return nil, fmt.Errorf("opening audio file: %w", err)
	}
	defer f.Close()

	resp, err := c.api.Audio.Transcriptions.New(ctx, openai.AudioTranscriptionNewParams{
		File:           f,
		Model:          c.cfg.ASRModel,
		ResponseFormat: openai.AudioResponseFormatVerboseJSON,
	})
	if err != nil {
		return nil, fmt.Errorf("transcription request failed: %w", err)
	}

	var units []models.TimedUnit
	segments := gjson.Get(resp.RawJSON(), "segments")
	if segments.Exists() {
		for _, seg := range segments.Array() {
			text := strings.TrimSpace(seg.Get("text").String())
			if text == "" {
				continue
			}
			units = append(units, models.TimedUnit{
				Text:  text,
				Start: seg.Get("start").Float(),
				End:   seg.Get("end").Float(),
				Kind:  models.UnitSpeech,
			})
		}
	} else if text := strings.TrimSpace(resp.Text); text != "" {
		// Plain transcripts carry no timing; surface one untimed unit rather
		// than losing the speech entirely.
		units = append(units, models.TimedUnit{Text: text, Kind: models.UnitSpeech})
	}

	c.log.Debugf("Transcribed %s into %d speech units", filepath.Base(audioPath), len(units))
	return units, nil
}

// Describe samples one frame per timestamp and asks the vision model what is
// happening in it. Each description becomes a visual unit anchored at its
// timestamp.
func (c *Client) Describe(ctx context.Context, videoPath string, times []float64) ([]models.TimedUnit, error) {
	frameDir, err := os.MkdirTemp("", "videodna_frames_*")
	if err != nil {
		return nil, fmt.Errorf("creating frame dir: %w", err)
	}
	defer os.RemoveAll(frameDir)

	var units []models.TimedUnit
	for i, at := range times {
		framePath := filepath.Join(frameDir, fmt.Sprintf("frame_%04d.jpg", i))
		if err := media.ExtractFrame(ctx, videoPath, at, framePath); err != nil {
			return nil, err
		}

		desc, err := c.describeFrame(ctx, framePath)
		if err != nil {
			return nil, err
		}
		if desc == "" {
			continue
		}

		end := at + 2
		if i+1 < len(times) && times[i+1] < end {
			end = times[i+1]
		}
		units = append(units, models.TimedUnit{
			Text:  desc,
			Start: at,
			End:   end,
			Kind:  models.UnitVisual,
		})
	}

	c.log.Debugf("Described %d frames of %s", len(units), filepath.Base(videoPath))
	return units, nil
}

func (c *Client) describeFrame(ctx context.Context, framePath string) (string, error) {
	raw, err := os.ReadFile(framePath)
	if err != nil {
		return "", fmt.Errorf("reading frame: %w", err)
	}
	dataURL := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(raw)

	resp, err := c.api.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage("You describe single video frames. Reply with one concise sentence about the visible action or content. No preamble."),
			openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
				openai.TextContentPart("What is happening in this frame?"),
				openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: dataURL}),
			}),
		},
		Model:       c.cfg.VisionModel,
		Temperature: openai.Float(0.2),
	})
	if err != nil {
		return "", fmt.Errorf("vision request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("vision model returned no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// Score asks the chat model to nominate scored candidate spans from the
// timeline units, steered by the user's instruction.
func (c *Client) Score(ctx context.Context, units []models.TimedUnit, instruction string) ([]models.Candidate, error) {
	payload := "{}"
	payload, _ = sjson.Set(payload, "instruction", instruction)
	for i, u := range units {
		base := fmt.Sprintf("timeline.%d", i)
		payload, _ = sjson.Set(payload, base+".start", u.Start)
		payload, _ = sjson.Set(payload, base+".end", u.End)
		payload, _ = sjson.Set(payload, base+".kind", u.Kind)
		payload, _ = sjson.Set(payload, base+".text", u.Text)
		if u.Visual != "" {
			payload, _ = sjson.Set(payload, base+".visual", u.Visual)
		}
	}

	systemPrompt := "You are a video editor selecting the most valuable moments of a video. " +
		"Given a timeline of speech and visual units, return candidate segments as JSON. " +
		"Score each candidate 0-10 for how well it serves the instruction and give a one-sentence reason."
	userPrompt := "Return JSON of the form " +
		`{"candidates":[{"start":0.0,"end":0.0,"score":0,"reason":"..."}]}` +
		" for this timeline:\n" + payload

	params := openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(userPrompt),
		},
		Model:       c.cfg.ChatModel,
		Temperature: openai.Float(0.2),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{
				JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:        "segment_candidates",
					Description: openai.String("Scored candidate segments of the video"),
					Strict:      openai.Bool(true),
					Schema:      candidateSchema(),
				},
			},
		},
	}
	resp, err := c.api.Chat.Completions.New(ctx, params)
	if err != nil {
		// Some gateways reject json_schema; retry in plain JSON mode and lean
		// on strict parsing instead.
		if shouldFallbackJSONMode(err) {
			params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
				OfJSONObject: &shared.ResponseFormatJSONObjectParam{Type: "json_object"},
			}
			resp, err = c.api.Chat.Completions.New(ctx, params)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("scoring request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("scoring model returned no choices")
	}

	raw := strings.TrimSpace(resp.Choices[0].Message.Content)
	return parseCandidates(raw)
}

func candidateSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"candidates": map[string]interface{}{
				"type": "array",
				"items": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"start":  map[string]interface{}{"type": "number"},
						"end":    map[string]interface{}{"type": "number"},
						"score":  map[string]interface{}{"type": "number"},
						"reason": map[string]interface{}{"type": "string"},
					},
					"required":             []string{"start", "end", "score", "reason"},
					"additionalProperties": false,
				},
			},
		},
		"required":             []string{"candidates"},
		"additionalProperties": false,
	}
}

func shouldFallbackJSONMode(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "json_schema") ||
		strings.Contains(msg, "response_format") ||
		(strings.Contains(msg, "unsupported") && strings.Contains(msg, "schema"))
}

// parseCandidates tolerates fenced or loosely wrapped model output as long
// as a candidates array is recoverable.
func parseCandidates(raw string) ([]models.Candidate, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")

	arr := gjson.Get(raw, "candidates")
	if !arr.Exists() {
		return nil, fmt.Errorf("model output has no candidates array: %s", truncate(raw, 200))
	}

	var out []models.Candidate
	for _, item := range arr.Array() {
		out = append(out, models.Candidate{
			Start:  item.Get("start").Float(),
			End:    item.Get("end").Float(),
			Score:  item.Get("score").Float(),
			Reason: strings.TrimSpace(item.Get("reason").String()),
		})
	}
	return out, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Embed returns one vector per input text.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	resp, err := c.api.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: texts,
		},
		Model: c.cfg.EmbedModel,
	})
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding response has %d vectors for %d texts", len(resp.Data), len(texts))
	}

	out := make([][]float64, len(resp.Data))
	for _, d := range resp.Data {
		if int(d.Index) >= len(out) {
			return nil, fmt.Errorf("embedding response index %d out of range", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

// ModelID identifies the embedding space. Vectors from different IDs are
// never comparable.
func (c *Client) ModelID() string {
	return c.cfg.EmbedModel
}
