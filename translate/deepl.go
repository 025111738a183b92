package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"node.town/babel/etc"
)

const DeepLFreeURL = "https://api-free.deepl.com/v2/translate"

type DeepLTranslator struct {
	APIKey     string
	URL        string
	HTTPClient *http.Client
}

var _ Translator = (*DeepLTranslator)(nil)

func NewDeepLTranslator(apiKey, url string) *DeepLTranslator {
	if url == "" {
		url = DeepLFreeURL
	}
	return &DeepLTranslator{
		APIKey:     apiKey,
		URL:        url,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}
}

type deeplRequest struct {
	Text       []string `json:"text"`
	TargetLang string   `json:"target_lang"`
}

type deeplResponse struct {
	Translations []struct {
		DetectedSourceLanguage string `json:"detected_source_language"`
		Text                   string `json:"text"`
	} `json:"translations"`
}

func (d *DeepLTranslator) Translate(
	ctx context.Context,
	text, targetLang string,
) (Translation, error) {
	body, err := json.Marshal(deeplRequest{
		Text:       []string{text},
		TargetLang: DeepLTarget(targetLang),
	})
	if err != nil {
		return Translation{}, etc.Permanent(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.URL, bytes.NewReader(body))
	if err != nil {
		return Translation{}, etc.Permanent(err)
	}
	req.Header.Set("Authorization", "DeepL-Auth-Key "+d.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.HTTPClient.Do(req)
	if err != nil {
		return Translation{}, fmt.Errorf("deepl request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("deepl status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return Translation{}, etc.Permanent(err)
		}
		return Translation{}, err
	}

	var out deeplResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Translation{}, fmt.Errorf("deepl decode: %w", err)
	}
	if len(out.Translations) == 0 {
		return Translation{}, fmt.Errorf("deepl returned no translations")
	}

	t := out.Translations[0]
	detected := BaseLanguage(t.DetectedSourceLanguage)
	if detected == BaseLanguage(targetLang) {
		return Translation{Text: text, DetectedSource: detected, AlreadyTarget: true}, nil
	}
	return Translation{Text: t.Text, DetectedSource: detected}, nil
}
