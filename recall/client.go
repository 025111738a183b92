package recall

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

const DefaultBaseURL = "https://eu-central-1.recall.ai/api/v1"

// silentMP3 is a single silent frame. A bot only accepts output_audio
// when it joined with some in-call audio configured.
const silentMP3 = "//uQxAAAAAANIAAAAAExBTUUzLjEwMFVVVVVVVVVVVVVVVVVV" +
	"VVVVVVVVVVVVVVVVVVVVVVVVVVVVVVVVVVVVVVVVVVVVVVVV"

// Client talks to the Recall.ai bot REST API.
type Client struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
	logger     *log.Logger
}

func NewClient(apiKey, baseURL string, logger *log.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		APIKey:     apiKey,
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}
}

type BotRequest struct {
	MeetingURL   string
	WebsocketURL string
	Name         string
}

type audioData struct {
	Kind    string `json:"kind"`
	B64Data string `json:"b64_data"`
}

type createBotRequest struct {
	MeetingURL      string `json:"meeting_url"`
	BotName         string `json:"bot_name"`
	RecordingConfig struct {
		AudioSeparateRaw  struct{}           `json:"audio_separate_raw"`
		RealtimeEndpoints []realtimeEndpoint `json:"realtime_endpoints"`
	} `json:"recording_config"`
	AutomaticAudioOutput struct {
		InCallRecording struct {
			Data audioData `json:"data"`
		} `json:"in_call_recording"`
	} `json:"automatic_audio_output"`
}

type realtimeEndpoint struct {
	Type   string   `json:"type"`
	URL    string   `json:"url"`
	Events []string `json:"events"`
}

// CreateBot sends a bot into the meeting. It streams each participant's
// raw audio to the websocket URL. The bot id is returned.
func (c *Client) CreateBot(ctx context.Context, br BotRequest) (string, error) {
	if br.Name == "" {
		br.Name = "Translator Bot"
	}

	var body createBotRequest
	body.MeetingURL = br.MeetingURL
	body.BotName = br.Name
	body.RecordingConfig.RealtimeEndpoints = []realtimeEndpoint{{
		Type:   "websocket",
		URL:    br.WebsocketURL,
		Events: []string{EventAudio, EventLeave},
	}}
	body.AutomaticAudioOutput.InCallRecording.Data = audioData{Kind: "mp3", B64Data: silentMP3}

	var out struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/bot/", body, &out); err != nil {
		return "", fmt.Errorf("create bot: %w", err)
	}
	if out.ID == "" {
		return "", fmt.Errorf("create bot: response has no id")
	}
	c.logger.Info("bot created", "bot", out.ID, "name", br.Name, "meeting", br.MeetingURL)
	return out.ID, nil
}

func (c *Client) LeaveCall(ctx context.Context, botID string) error {
	if err := c.do(ctx, http.MethodPost, "/bot/"+botID+"/leave_call/", nil, nil); err != nil {
		return fmt.Errorf("leave call %s: %w", botID, err)
	}
	c.logger.Info("bot left", "bot", botID)
	return nil
}

// OutputAudio plays an MP3 clip into the meeting through the bot.
func (c *Client) OutputAudio(ctx context.Context, botID string, mp3 []byte) error {
	body := audioData{Kind: "mp3", B64Data: base64.StdEncoding.EncodeToString(mp3)}
	if err := c.do(ctx, http.MethodPost, "/bot/"+botID+"/output_audio/", body, nil); err != nil {
		return fmt.Errorf("output audio %s: %w", botID, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Token "+c.APIKey)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
