package session

import (
	"errors"
	"fmt"
	"time"

	"node.town/babel/model"
)

// Route hands one PCM frame to the participant's stream, creating the
// stream on first contact. Frames for a session that is not active are
// refused.
func (s *Session) Route(participantID string, frame []byte, at time.Time) error {
	for range 2 {
		s.mu.Lock()
		if s.status != model.StatusActive {
			status := s.status
			s.mu.Unlock()
			return fmt.Errorf("%w: session %s is %s", model.ErrFrameRouting, s.ID, status)
		}
		ps, ok := s.streams[participantID]
		if !ok {
			ps = newParticipantStream(s, participantID, at)
			s.streams[participantID] = ps
		}
		s.mu.Unlock()

		err := ps.send(frame, at)
		if errors.Is(err, errStreamClosed) {
			// closed between lookup and send; its replacement takes the frame
			s.removeStream(ps)
			continue
		}
		return err
	}
	return fmt.Errorf("%w: no open stream for %s", model.ErrFrameRouting, participantID)
}

// Leave closes the participant's stream, if any. A pending partial
// utterance is discarded with it.
func (s *Session) Leave(participantID string) bool {
	s.mu.Lock()
	ps, ok := s.streams[participantID]
	s.mu.Unlock()
	if !ok {
		return false
	}
	ps.close("leave")
	return true
}

func (s *Session) Streams() map[string]StreamState {
	s.mu.Lock()
	streams := make([]*ParticipantStream, 0, len(s.streams))
	for _, ps := range s.streams {
		streams = append(streams, ps)
	}
	s.mu.Unlock()

	out := make(map[string]StreamState, len(streams))
	for _, ps := range streams {
		out[ps.ParticipantID] = ps.State()
	}
	return out
}

func (s *Session) removeStream(ps *ParticipantStream) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.streams[ps.ParticipantID] == ps {
		delete(s.streams, ps.ParticipantID)
	}
}
