package transcriber

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"time"

	"speecher/encoder"
)

// uploader posts FLAC-compressed audio to an OpenAI-compatible
// transcription endpoint.
type uploader struct {
	client *TracedClient
	apiURL string
	apiKey string
}

func newUploader(apiURL, apiKey string) uploader {
	return uploader{client: NewTracedClient(), apiURL: apiURL, apiKey: apiKey}
}

func (u *uploader) Warm() { u.client.WarmConnection(u.apiURL) }

func (u *uploader) Close() error {
	u.client.CloseIdle()
	return nil
}

func (u *uploader) post(ctx context.Context, samples []float32, fields [][2]string) (*TracedResponse, *UploadStats, error) {
	encStart := time.Now()
	enc, err := encoder.NewFlac()
	if err != nil {
		return nil, nil, err
	}
	audioData, err := encoder.EncodeAll(enc, samples)
	if err != nil {
		return nil, nil, fmt.Errorf("flac encode: %w", err)
	}
	stats := &UploadStats{
		RawBytes:        len(samples) * 2,
		CompressedBytes: len(audioData),
		EncodeTime:      time.Since(encStart),
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", "audio.flac")
	if err != nil {
		return nil, nil, err
	}
	if _, err := part.Write(audioData); err != nil {
		return nil, nil, err
	}
	for _, f := range fields {
		writer.WriteField(f[0], f[1])
	}
	writer.Close()

	req, err := http.NewRequestWithContext(ctx, "POST", u.apiURL, &body)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+u.apiKey)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := u.client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	return resp, stats, nil
}

func rateLimit(h http.Header) string {
	return firstNonEmpty(h, "x-ratelimit-remaining-requests") + "/" + firstNonEmpty(h, "x-ratelimit-limit-requests")
}

func languageField(fields [][2]string, language string) [][2]string {
	if language == "" || language == AutoDetect {
		return fields
	}
	return append(fields, [2]string{"language", language})
}
