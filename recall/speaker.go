package recall

import (
	"context"

	"node.town/babel/fanout"
)

// MeetingSpeaker is a fanout listener that plays committed clips back
// into the meeting through the bot itself.
type MeetingSpeaker struct {
	client *Client
	botID  string
}

var _ fanout.Listener = (*MeetingSpeaker)(nil)

func NewMeetingSpeaker(client *Client, botID string) *MeetingSpeaker {
	return &MeetingSpeaker{client: client, botID: botID}
}

func (s *MeetingSpeaker) ID() string {
	return "recall:" + s.botID
}

func (s *MeetingSpeaker) Send(ctx context.Context, msg *fanout.Message) error {
	if msg.Type != fanout.TypeAudio || len(msg.MP3) == 0 {
		return nil
	}
	// a clip that fails to play is skipped; the next one may still land
	if err := s.client.OutputAudio(ctx, s.botID, msg.MP3); err != nil {
		s.client.logger.Warn("meeting playback", "bot", s.botID, "seq", msg.Seq, "error", err)
	}
	return nil
}

func (s *MeetingSpeaker) Close() error {
	return nil
}
