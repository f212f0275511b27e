package transcriber

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

const groqURL = "https://api.groq.com/openai/v1/audio/transcriptions"

type Groq struct {
	uploader
}

func NewGroq(apiKey string) *Groq {
	return &Groq{uploader: newUploader(groqURL, apiKey)}
}

func (g *Groq) Name() string { return "groq" }

type groqResponse struct {
	Text     string  `json:"text"`
	Language string  `json:"language"`
	Duration float64 `json:"duration"`
	Segments []struct {
		Text             string  `json:"text"`
		Start            float64 `json:"start"`
		End              float64 `json:"end"`
		NoSpeechProb     float64 `json:"no_speech_prob"`
		AvgLogProb       float64 `json:"avg_logprob"`
		CompressionRatio float64 `json:"compression_ratio"`
		Temperature      float64 `json:"temperature"`
	} `json:"segments"`
}

func (g *Groq) Transcribe(ctx context.Context, samples []float32, language string) (*Result, error) {
	start := time.Now()
	fields := languageField([][2]string{
		{"model", "whisper-large-v3-turbo"},
		{"response_format", "verbose_json"},
	}, language)

	resp, upload, err := g.post(ctx, samples, fields)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("groq API error %d: %s", resp.StatusCode, string(resp.Body))
	}

	var gResp groqResponse
	if err := json.Unmarshal(resp.Body, &gResp); err != nil {
		return nil, fmt.Errorf("groq response parse error: %w", err)
	}

	var noSpeechProb, avgLogProb float64
	var segments []Segment
	if len(gResp.Segments) > 0 {
		var logProbSum float64
		for _, seg := range gResp.Segments {
			if seg.NoSpeechProb > noSpeechProb {
				noSpeechProb = seg.NoSpeechProb
			}
			logProbSum += seg.AvgLogProb
			segments = append(segments, Segment{
				Text:             seg.Text,
				NoSpeechProb:     seg.NoSpeechProb,
				AvgLogProb:       seg.AvgLogProb,
				CompressionRatio: seg.CompressionRatio,
				Temperature:      seg.Temperature,
				Start:            seg.Start,
				End:              seg.End,
			})
		}
		avgLogProb = logProbSum / float64(len(gResp.Segments))
	}

	lang := language
	if lang == AutoDetect && gResp.Language != "" {
		lang = gResp.Language
	}

	return &Result{
		Text:         gResp.Text,
		Language:     lang,
		Duration:     gResp.Duration,
		Elapsed:      time.Since(start),
		Metrics:      resp.Metrics,
		Upload:       upload,
		RateLimit:    rateLimit(resp.Header),
		NoSpeechProb: noSpeechProb,
		AvgLogProb:   avgLogProb,
		Segments:     segments,
	}, nil
}
