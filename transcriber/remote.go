package transcriber

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"

	"whisperclip/log"
)

// client is shared so connections are reused across recordings.
var client = &http.Client{}

type remoteResponse struct {
	Text *string `json:"text"`
}

// transcribeRemote posts the WAV to an OpenAI-compatible
// /audio/transcriptions endpoint and extracts the text field.
func transcribeRemote(req Request) (*Result, error) {
	p := req.Provider

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="file"; filename="audio.wav"`)
	header.Set("Content-Type", "audio/wav")
	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(req.Audio); err != nil {
		return nil, err
	}

	writer.WriteField("model", p.Model)
	writer.WriteField("response_format", "json")
	writer.Close()

	url := strings.TrimRight(p.BaseURL, "/") + "/audio/transcriptions"
	httpReq, err := http.NewRequest("POST", url, &body)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())
	if p.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.APIKey)
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("transcription request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading transcription response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}

	var parsed remoteResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("parsing transcription response: %w", err)
	}
	if parsed.Text == nil {
		return nil, fmt.Errorf("transcription response has no text field: %s", strings.TrimSpace(string(respBody)))
	}

	remaining := resp.Header.Get("x-ratelimit-remaining-requests")
	if remaining != "" {
		log.Infof("rate_limit_remaining: %s", remaining)
	}

	return &Result{
		Text:      strings.TrimSpace(*parsed.Text),
		RateLimit: remaining,
	}, nil
}
