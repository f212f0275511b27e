package transcriber

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"speecher/waveform"
)

const openAIURL = "https://api.openai.com/v1/audio/transcriptions"

type OpenAI struct {
	uploader
}

func NewOpenAI(apiKey string) *OpenAI {
	return &OpenAI{uploader: newUploader(openAIURL, apiKey)}
}

func (o *OpenAI) Name() string { return "openai" }

func (o *OpenAI) Transcribe(ctx context.Context, samples []float32, language string) (*Result, error) {
	start := time.Now()
	fields := languageField([][2]string{
		{"model", "gpt-4o-transcribe"},
		{"response_format", "json"},
	}, language)

	resp, upload, err := o.post(ctx, samples, fields)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("openai API error %d: %s", resp.StatusCode, string(resp.Body))
	}

	var oResp struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(resp.Body, &oResp); err != nil {
		return nil, fmt.Errorf("openai response parse error: %w", err)
	}

	return &Result{
		Text:      oResp.Text,
		Language:  language,
		Duration:  waveform.Samples(samples).Duration().Seconds(),
		Elapsed:   time.Since(start),
		Metrics:   resp.Metrics,
		Upload:    upload,
		RateLimit: rateLimit(resp.Header),
	}, nil
}
