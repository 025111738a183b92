package stt

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
)

const (
	SpeechmaticsURL = "wss://eu2.rt.speechmatics.com/v2"
	PingInterval    = 30 * time.Second
	PongTimeout     = 60 * time.Second
)

type SpeechmaticsClient struct {
	APIKey     string
	URL        string
	SampleRate int
	MaxDelay   float64
	logger     *log.Logger
}

func NewSpeechmaticsClient(
	apiKey string,
	url string,
	sampleRate int,
	logger *log.Logger,
) (*SpeechmaticsClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("speechmatics api key is empty")
	}
	if url == "" {
		url = SpeechmaticsURL
	}
	return &SpeechmaticsClient{
		APIKey:     apiKey,
		URL:        url,
		SampleRate: sampleRate,
		MaxDelay:   2,
		logger:     logger,
	}, nil
}

type smAudioFormat struct {
	Type       string `json:"type"`
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
}

type smTranscriptionConfig struct {
	Language       string  `json:"language"`
	EnablePartials bool    `json:"enable_partials"`
	MaxDelay       float64 `json:"max_delay,omitempty"`
}

type smStartRecognition struct {
	Message             string                `json:"message"`
	AudioFormat         smAudioFormat         `json:"audio_format"`
	TranscriptionConfig smTranscriptionConfig `json:"transcription_config"`
}

type smEndOfStream struct {
	Message   string `json:"message"`
	LastSeqNo int    `json:"last_seq_no"`
}

type smResponse struct {
	Message  string `json:"message"`
	Reason   string `json:"reason,omitempty"`
	Type     string `json:"type,omitempty"`
	Metadata struct {
		Transcript string  `json:"transcript"`
		StartTime  float64 `json:"start_time"`
		EndTime    float64 `json:"end_time"`
	} `json:"metadata"`
	Results []struct {
		Alternatives []struct {
			Confidence float64 `json:"confidence"`
			Content    string  `json:"content"`
		} `json:"alternatives"`
		StartTime float64 `json:"start_time"`
		EndTime   float64 `json:"end_time"`
		Type      string  `json:"type"`
	} `json:"results"`
}

// Start dials the realtime endpoint and sends StartRecognition for raw
// 16-bit little-endian PCM. Each AddTranscript ends an utterance.
func (c *SpeechmaticsClient) Start(
	ctx context.Context,
	language string,
) (SpeechRecognizer, error) {
	header := http.Header{}
	header.Set("Authorization", fmt.Sprintf("Bearer %s", c.APIKey))

	url := fmt.Sprintf("%s/%s", strings.TrimRight(c.URL, "/"), language)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to speechmatics: %w", err)
	}

	start := smStartRecognition{
		Message: "StartRecognition",
		AudioFormat: smAudioFormat{
			Type:       "raw",
			Encoding:   "pcm_s16le",
			SampleRate: c.SampleRate,
		},
		TranscriptionConfig: smTranscriptionConfig{
			Language:       language,
			EnablePartials: true,
			MaxDelay:       c.MaxDelay,
		},
	}
	if err := conn.WriteJSON(start); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to send StartRecognition: %w", err)
	}

	session := &SpeechmaticsSession{
		conn:           conn,
		logger:         c.logger.With("lang", language),
		transcriptions: make(chan chan Result, 4),
		done:           make(chan struct{}),
	}

	go session.readLoop()
	go session.keepAlive()

	return session, nil
}

type SpeechmaticsSession struct {
	conn   *websocket.Conn
	logger *log.Logger

	writeMu sync.Mutex
	seqNo   int

	mu             sync.Mutex
	transcriptions chan chan Result
	current        chan Result
	done           chan struct{}
	closeOnce      sync.Once
	closed         bool
}

func (s *SpeechmaticsSession) Receive() <-chan chan Result {
	return s.transcriptions
}

func (s *SpeechmaticsSession) SendAudio(data []byte) error {
	select {
	case <-s.done:
		return fmt.Errorf("session closed")
	default:
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return fmt.Errorf("failed to send audio data: %w", err)
	}
	s.seqNo++
	return nil
}

// Stop sends EndOfStream and closes the socket. Any utterance still
// in progress is abandoned.
func (s *SpeechmaticsSession) Stop() error {
	select {
	case <-s.done:
		return nil
	default:
	}

	s.writeMu.Lock()
	err := s.conn.WriteJSON(smEndOfStream{
		Message:   "EndOfStream",
		LastSeqNo: s.seqNo,
	})
	s.conn.WriteMessage(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
	)
	s.writeMu.Unlock()

	s.shutdown()
	s.conn.Close()
	return err
}

func (s *SpeechmaticsSession) shutdown() {
	s.closeOnce.Do(func() {
		close(s.done)

		s.mu.Lock()
		defer s.mu.Unlock()
		s.closed = true
		if s.current != nil {
			close(s.current)
			s.current = nil
		}
		close(s.transcriptions)
	})
}

func (s *SpeechmaticsSession) keepAlive() {
	ticker := time.NewTicker(PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.writeMu.Lock()
			err := s.conn.WriteControl(
				websocket.PingMessage,
				[]byte{},
				time.Now().Add(PongTimeout),
			)
			s.writeMu.Unlock()
			if err != nil {
				s.logger.Error("failed to send ping", "error", err)
				return
			}
		}
	}
}

func (s *SpeechmaticsSession) readLoop() {
	defer s.conn.Close()
	defer s.shutdown()

	for {
		var msg smResponse
		if err := s.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(
				err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
			) {
				s.logger.Error("read failed", "error", err)
			}
			return
		}

		switch msg.Message {
		case "RecognitionStarted":
			s.logger.Info("open", "kind", "speechmatics")
		case "AddPartialTranscript":
			s.handle(msg, false)
		case "AddTranscript":
			s.handle(msg, true)
		case "EndOfTranscript":
			s.logger.Info("closed", "reason", "end of transcript")
			return
		case "Error":
			s.logger.Error("error", "type", msg.Type, "reason", msg.Reason)
			return
		case "Warning", "Info":
			s.logger.Warn(msg.Message, "type", msg.Type, "reason", msg.Reason)
		case "AudioAdded":
		default:
			s.logger.Debug("unhandled message", "message", msg.Message)
		}
	}
}

func (s *SpeechmaticsSession) handle(msg smResponse, final bool) {
	text := strings.TrimSpace(msg.Metadata.Transcript)
	if text == "" {
		return
	}

	var confidence float64
	if len(msg.Results) > 0 && len(msg.Results[0].Alternatives) > 0 {
		confidence = msg.Results[0].Alternatives[0].Confidence
	}

	result := Result{
		Text:       text,
		Start:      msg.Metadata.StartTime,
		Duration:   msg.Metadata.EndTime - msg.Metadata.StartTime,
		Confidence: confidence,
		IsFinal:    final,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	if s.current == nil {
		s.current = make(chan Result, 16)
		select {
		case s.transcriptions <- s.current:
		default:
			s.logger.Warn("utterance backlog full, dropping", "txt", text)
			s.current = nil
			return
		}
	}

	select {
	case s.current <- result:
	default:
		if !final {
			return
		}
		select {
		case <-s.current:
		default:
		}
		s.current <- result
	}

	if final {
		s.logger.Info("hear", "txt", text, "start", result.Start, "duration", result.Duration)
		close(s.current)
		s.current = nil
	} else {
		s.logger.Debug("hear", "tmp", text)
	}
}

