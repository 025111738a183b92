package stt

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	api "github.com/deepgram/deepgram-go-sdk/pkg/api/listen/v1/websocket/interfaces"
	"github.com/deepgram/deepgram-go-sdk/pkg/client/interfaces"
	"github.com/deepgram/deepgram-go-sdk/pkg/client/listen"
)

type DeepgramClient struct {
	token      string
	model      string
	sampleRate int
	logger     *log.Logger
}

func NewDeepgramClient(
	token string,
	model string,
	sampleRate int,
	logger *log.Logger,
) (*DeepgramClient, error) {
	if token == "" {
		return nil, fmt.Errorf("deepgram token is empty")
	}
	return &DeepgramClient{
		token:      token,
		model:      model,
		sampleRate: sampleRate,
		logger:     logger,
	}, nil
}

// Start opens a streaming session for linear16 mono PCM. Connect runs in
// the background so callers can start buffering audio immediately.
func (c *DeepgramClient) Start(
	ctx context.Context,
	language string,
) (SpeechRecognizer, error) {
	cOptions := &interfaces.ClientOptions{
		EnableKeepAlive: true,
	}
	tOptions := &interfaces.LiveTranscriptionOptions{
		Model:          c.model,
		Language:       language,
		Punctuate:      true,
		Encoding:       "linear16",
		Channels:       1,
		SampleRate:     c.sampleRate,
		SmartFormat:    true,
		InterimResults: true,
		UtteranceEndMs: "1000",
		VadEvents:      true,
	}

	session := &DeepgramSession{
		transcriptions: make(chan chan Result, 4),
		logger:         c.logger.With("lang", language),
		audioBuffer:    make(chan []byte, 100),
		done:           make(chan struct{}),
	}

	client, err := listen.NewWebSocket(
		ctx,
		c.token,
		cOptions,
		tOptions,
		session,
	)
	if err != nil {
		return nil, fmt.Errorf(
			"error creating LiveTranscription connection: %w",
			err,
		)
	}

	session.client = client

	go func() {
		if !session.client.Connect() {
			session.logger.Error("connect failed")
			session.shutdown()
		}
	}()

	return session, nil
}

type DeepgramSession struct {
	client *listen.WebSocketClient
	logger *log.Logger

	mu                  sync.Mutex
	transcriptions      chan chan Result
	currentTranscriptCh chan Result
	audioBuffer         chan []byte
	done                chan struct{}
	closeOnce           sync.Once
	closed              bool
}

func (s *DeepgramSession) Stop() error {
	s.shutdown()
	if s.client != nil {
		s.client.Stop()
	}
	return nil
}

// shutdown ends the session exactly once: an in-progress utterance is
// abandoned and Receive's channel is closed.
func (s *DeepgramSession) shutdown() {
	s.closeOnce.Do(func() {
		close(s.done)

		s.mu.Lock()
		defer s.mu.Unlock()
		s.closed = true
		if s.currentTranscriptCh != nil {
			close(s.currentTranscriptCh)
			s.currentTranscriptCh = nil
		}
		close(s.transcriptions)
	})
}

func (s *DeepgramSession) Close(ocr *api.CloseResponse) error {
	s.logger.Info("closed", "reason", ocr.Type)
	s.shutdown()
	return nil
}

func (s *DeepgramSession) SendAudio(data []byte) error {
	select {
	case <-s.done:
		return fmt.Errorf("session closed")
	default:
	}

	select {
	case s.audioBuffer <- data:
		return nil
	default:
		return fmt.Errorf("audio buffer full")
	}
}

func (s *DeepgramSession) Receive() <-chan chan Result {
	return s.transcriptions
}

func (s *DeepgramSession) Message(mr *api.MessageResponse) error {
	if len(mr.Channel.Alternatives) == 0 {
		return nil
	}

	transcript := strings.TrimSpace(mr.Channel.Alternatives[0].Transcript)

	if len(transcript) == 0 {
		return nil
	}

	result := Result{
		Text:       transcript,
		Start:      mr.Start,
		Duration:   mr.Duration,
		Confidence: mr.Channel.Alternatives[0].Confidence,
		IsFinal:    mr.IsFinal,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	if s.currentTranscriptCh == nil {
		s.currentTranscriptCh = make(chan Result, 16)
		select {
		case s.transcriptions <- s.currentTranscriptCh:
		default:
			s.logger.Warn("utterance backlog full, dropping", "txt", transcript)
			s.currentTranscriptCh = nil
			return nil
		}
	}

	select {
	case s.currentTranscriptCh <- result:
	default:
		if !mr.IsFinal {
			s.logger.Debug("draft dropped", "tmp", transcript)
			return nil
		}
		// A final must land; make room by discarding the oldest draft.
		select {
		case <-s.currentTranscriptCh:
		default:
		}
		s.currentTranscriptCh <- result
	}

	if mr.IsFinal {
		s.logger.Info("hear", "txt", transcript, "start", mr.Start, "duration", mr.Duration)
		close(s.currentTranscriptCh)
		s.currentTranscriptCh = nil
	} else {
		s.logger.Debug("hear", "tmp", transcript)
	}

	return nil
}

func (s *DeepgramSession) Open(ocr *api.OpenResponse) error {
	s.logger.Info("open", "kind", "deepgram")
	go func() {
		for {
			select {
			case <-s.done:
				return
			case data := <-s.audioBuffer:
				if err := s.client.WriteBinary(data); err != nil {
					s.logger.Error("failed to write audio data", "error", err)
				}
			}
		}
	}()
	return nil
}

func (s *DeepgramSession) Metadata(md *api.MetadataResponse) error {
	s.logger.Debug("metadata", "metadata", md)
	return nil
}

func (s *DeepgramSession) SpeechStarted(
	ssr *api.SpeechStartedResponse,
) error {
	s.logger.Debug("speech start", "timestamp", ssr.Timestamp)
	return nil
}

func (s *DeepgramSession) UtteranceEnd(ur *api.UtteranceEndResponse) error {
	s.logger.Debug("utterance end", "timestamp", ur.LastWordEnd)
	return nil
}

func (s *DeepgramSession) Error(er *api.ErrorResponse) error {
	s.logger.Error("error", "type", er.Type, "description", er.Description)
	s.shutdown()
	return nil
}

func (s *DeepgramSession) UnhandledEvent(byData []byte) error {
	s.logger.Warn("unhandled event", "data", string(byData))
	return nil
}
