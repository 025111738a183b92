package session

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"node.town/babel/etc"
	"node.town/babel/fanout"
	"node.town/babel/metrics"
	"node.town/babel/model"
	"node.town/babel/sink"
	"node.town/babel/stt"
	"node.town/babel/translate"
)

type MockClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *MockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *MockClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type MockRecognizer struct {
	out  chan chan stt.Result
	once sync.Once

	mu      sync.Mutex
	frames  [][]byte
	stopped bool
}

func newMockRecognizer() *MockRecognizer {
	return &MockRecognizer{out: make(chan chan stt.Result, 16)}
}

func (r *MockRecognizer) SendAudio(data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return errors.New("stopped")
	}
	r.frames = append(r.frames, data)
	return nil
}

func (r *MockRecognizer) Frames() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]byte(nil), r.frames...)
}

func (r *MockRecognizer) Receive() <-chan chan stt.Result {
	return r.out
}

func (r *MockRecognizer) Stop() error {
	r.once.Do(func() {
		r.mu.Lock()
		r.stopped = true
		r.mu.Unlock()
		close(r.out)
	})
	return nil
}

func (r *MockRecognizer) Stopped() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopped
}

// Say delivers one utterance's drafts, in order.
func (r *MockRecognizer) Say(results ...stt.Result) {
	drafts := make(chan stt.Result, len(results))
	for _, res := range results {
		drafts <- res
	}
	close(drafts)
	r.out <- drafts
}

type MockRecognition struct {
	started chan *MockRecognizer
	err     error
	// stall holds the first Start until it is closed or ctx ends.
	stall chan struct{}

	mu    sync.Mutex
	calls int
}

func (m *MockRecognition) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *MockRecognition) Start(ctx context.Context, language string) (stt.SpeechRecognizer, error) {
	m.mu.Lock()
	m.calls++
	first := m.calls == 1
	err := m.err
	m.mu.Unlock()

	if first && m.stall != nil {
		select {
		case <-m.stall:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	r := newMockRecognizer()
	m.started <- r
	return r, nil
}

type MockTranslator struct {
	translate func(ctx context.Context, text string) (string, error)
}

func (m *MockTranslator) Translate(ctx context.Context, text, targetLang string) (translate.Translation, error) {
	if m.translate == nil {
		return translate.Translation{Text: strings.ToUpper(text)}, nil
	}
	out, err := m.translate(ctx, text)
	return translate.Translation{Text: out}, err
}

type MockSpeech struct {
	speak func(ctx context.Context, text string) ([]byte, error)
}

func (m *MockSpeech) TextToSpeech(ctx context.Context, text, lang string) ([]byte, error) {
	if m.speak == nil {
		return []byte(text), nil
	}
	return m.speak(ctx, text)
}

type MockBroadcaster struct {
	mu       sync.Mutex
	messages []*fanout.Message
}

func (b *MockBroadcaster) Broadcast(sessionID, lang string, msg *fanout.Message) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages = append(b.messages, msg)
	return 1
}

func (b *MockBroadcaster) Clips() []*fanout.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*fanout.Message
	for _, m := range b.messages {
		if m.Type != fanout.TypeCaption {
			out = append(out, m)
		}
	}
	return out
}

func (b *MockBroadcaster) Captions() []*fanout.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*fanout.Message
	for _, m := range b.messages {
		if m.Type == fanout.TypeCaption {
			out = append(out, m)
		}
	}
	return out
}

type MockPersister struct {
	mu        sync.Mutex
	opened    []sink.SessionInfo
	statuses  []model.Status
	records   []sink.Record
	summaries []sink.Summary
}

func (p *MockPersister) Open(info sink.SessionInfo) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.opened = append(p.opened, info)
}

func (p *MockPersister) UpdateStatus(sessionID string, status model.Status) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statuses = append(p.statuses, status)
}

func (p *MockPersister) Persist(r sink.Record) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.records = append(p.records, r)
}

func (p *MockPersister) Flush(sum sink.Summary) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.summaries = append(p.summaries, sum)
}

func (p *MockPersister) Records() []sink.Record {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]sink.Record(nil), p.records...)
}

type fixture struct {
	manager     *Manager
	recognition *MockRecognition
	translator  *MockTranslator
	speech      *MockSpeech
	broadcaster *MockBroadcaster
	persister   *MockPersister
	clock       *MockClock
}

func testOptions() Options {
	return Options{
		CommitTimeout: 2 * time.Second,
		IdleTimeout:   time.Minute,
		Translate:     etc.Backoff{Attempts: 2, Base: time.Millisecond},
		Synth:         etc.Backoff{Attempts: 2, Base: time.Millisecond},
		MaxInflight:   4,
	}
}

func newFixture(opts Options) *fixture {
	f := &fixture{
		recognition: &MockRecognition{started: make(chan *MockRecognizer, 16)},
		translator:  &MockTranslator{},
		speech:      &MockSpeech{},
		broadcaster: &MockBroadcaster{},
		persister:   &MockPersister{},
		clock:       &MockClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)},
	}
	f.manager = NewManager(Deps{
		Recognition: f.recognition,
		Translator:  f.translator,
		Speech:      f.speech,
		Broadcaster: f.broadcaster,
		Persister:   f.persister,
		Metrics:     metrics.New(),
		Logger:      log.New(io.Discard),
		Clock:       f.clock,
		// one second of audio per byte
		ClipDuration: func(b []byte) (time.Duration, error) {
			return time.Duration(len(b)) * time.Second, nil
		},
	}, opts)
	return f
}

func (f *fixture) active(t *testing.T, id string) *Session {
	t.Helper()
	s, err := f.manager.Start(Info{ID: id, SourceLang: "en", TargetLang: "es"})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := f.manager.Activate(id); err != nil {
		t.Fatalf("Activate() error = %v", err)
	}
	return s
}

func (f *fixture) recognizer(t *testing.T) *MockRecognizer {
	t.Helper()
	select {
	case r := <-f.recognition.started:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("no recognizer started")
		return nil
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func utterance(text string) model.UtteranceEvent {
	return model.UtteranceEvent{ParticipantID: "p1", Text: text, IsFinal: true}
}

func TestSequenceAndOffset(t *testing.T) {
	f := newFixture(testOptions())
	s := f.active(t, "bot-1")
	defer s.Wait()
	defer f.manager.StopAll()

	for _, text := range []string{"ab", "cde", "fghi"} {
		if _, ok := s.Admit(utterance(text)); !ok {
			t.Fatalf("Admit(%q) refused", text)
		}
	}
	eventually(t, "three commits", func() bool { return len(f.broadcaster.Clips()) == 3 })

	want := []struct {
		seq      uint64
		offset   float64
		duration float64
		text     string
	}{
		{1, 0, 2, "AB"},
		{2, 2, 3, "CDE"},
		{3, 5, 4, "FGHI"},
	}
	clips := f.broadcaster.Clips()
	for i, w := range want {
		c := clips[i]
		if c.Seq != w.seq || c.Offset != w.offset || c.Duration != w.duration || c.Translated != w.text {
			t.Errorf("clip %d = {seq %d offset %v duration %v %q}, want {seq %d offset %v duration %v %q}",
				i, c.Seq, c.Offset, c.Duration, c.Translated, w.seq, w.offset, w.duration, w.text)
		}
		if c.Type != fanout.TypeAudio {
			t.Errorf("clip %d type = %q, want %q", i, c.Type, fanout.TypeAudio)
		}
	}

	eventually(t, "three records", func() bool { return len(f.persister.Records()) == 3 })
	for i, r := range f.persister.Records() {
		if r.Seq != uint64(i+1) {
			t.Errorf("record %d seq = %d, want %d", i, r.Seq, i+1)
		}
		if r.Cue.Start != want[i].offset || r.Cue.End != want[i].offset+want[i].duration {
			t.Errorf("record %d cue = [%v, %v]", i, r.Cue.Start, r.Cue.End)
		}
	}

	snap := s.Snapshot()
	if snap.Committed != 3 || snap.Offset != 9 || snap.Pending != 0 {
		t.Errorf("Snapshot() = %+v, want 3 committed at offset 9", snap)
	}
}

func TestSlowEarlierSlotCommitsFirst(t *testing.T) {
	f := newFixture(testOptions())
	f.translator.translate = func(ctx context.Context, text string) (string, error) {
		if text == "slow" {
			time.Sleep(150 * time.Millisecond)
		}
		return strings.ToUpper(text), nil
	}
	s := f.active(t, "bot-1")
	defer s.Wait()
	defer f.manager.StopAll()

	s.Admit(model.UtteranceEvent{ParticipantID: "A", Text: "slow", IsFinal: true, Start: 0, End: 3})
	s.Admit(model.UtteranceEvent{ParticipantID: "B", Text: "quick", IsFinal: true, Start: 1, End: 2})

	// B is ready well before A but must wait for it.
	time.Sleep(50 * time.Millisecond)
	if n := len(f.broadcaster.Clips()); n != 0 {
		t.Fatalf("%d clips committed before seq 1", n)
	}

	eventually(t, "two commits", func() bool { return len(f.broadcaster.Clips()) == 2 })
	clips := f.broadcaster.Clips()
	if clips[0].Participant != "A" || clips[0].Seq != 1 || clips[0].Offset != 0 {
		t.Errorf("first commit = %s seq %d offset %v, want A seq 1 offset 0", clips[0].Participant, clips[0].Seq, clips[0].Offset)
	}
	if clips[1].Participant != "B" || clips[1].Seq != 2 || clips[1].Offset != 4 {
		t.Errorf("second commit = %s seq %d offset %v, want B seq 2 offset 4", clips[1].Participant, clips[1].Seq, clips[1].Offset)
	}
}

func TestSynthesisFailureCommitsTextOnly(t *testing.T) {
	f := newFixture(testOptions())
	attempts := 0
	var mu sync.Mutex
	f.speech.speak = func(ctx context.Context, text string) ([]byte, error) {
		if text == "THREE" {
			mu.Lock()
			attempts++
			mu.Unlock()
			return nil, errors.New("voice unavailable")
		}
		return []byte("xx"), nil
	}
	s := f.active(t, "bot-1")
	defer s.Wait()
	defer f.manager.StopAll()

	for _, text := range []string{"one", "two", "three", "four"} {
		s.Admit(utterance(text))
	}
	eventually(t, "four commits", func() bool { return len(f.broadcaster.Clips()) == 4 })

	clips := f.broadcaster.Clips()
	third, fourth := clips[2], clips[3]
	if third.Seq != 3 || third.Type != fanout.TypeText || len(third.MP3) != 0 || !third.SynthesisFailed {
		t.Errorf("seq 3 = %+v, want text-only with synthesis_failed", third)
	}
	if third.Translated != "THREE" || third.Offset != 4 || third.Duration != 0 {
		t.Errorf("seq 3 = %q offset %v duration %v, want %q offset 4 duration 0", third.Translated, third.Offset, third.Duration, "THREE")
	}
	if fourth.Seq != 4 || fourth.Type != fanout.TypeAudio || fourth.Offset != 4 {
		t.Errorf("seq 4 = %s offset %v, want audio at offset 4", fourth.Type, fourth.Offset)
	}

	mu.Lock()
	defer mu.Unlock()
	if attempts != 2 {
		t.Errorf("synthesis attempts = %d, want 2", attempts)
	}
}

func TestTranslationFailureKeepsOrder(t *testing.T) {
	f := newFixture(testOptions())
	f.translator.translate = func(ctx context.Context, text string) (string, error) {
		if text == "broken" {
			time.Sleep(30 * time.Millisecond)
			return "", errors.New("quota exceeded")
		}
		return strings.ToUpper(text), nil
	}
	s := f.active(t, "bot-1")
	defer s.Wait()
	defer f.manager.StopAll()

	s.Admit(utterance("broken"))
	s.Admit(utterance("fine"))
	eventually(t, "two commits", func() bool { return len(f.broadcaster.Clips()) == 2 })

	clips := f.broadcaster.Clips()
	if clips[0].Seq != 1 || !clips[0].Untranslated || clips[0].Translated != "broken" {
		t.Errorf("seq 1 = %+v, want untranslated original", clips[0])
	}
	if clips[0].Type != fanout.TypeAudio {
		t.Errorf("seq 1 type = %q, want audio of the original text", clips[0].Type)
	}
	if clips[1].Seq != 2 || clips[1].Untranslated || clips[1].Translated != "FINE" {
		t.Errorf("seq 2 = %+v, want translated", clips[1])
	}
}

func TestSameLanguageSkipsTranslation(t *testing.T) {
	f := newFixture(testOptions())
	f.translator.translate = func(ctx context.Context, text string) (string, error) {
		t.Errorf("Translate(%q) called", text)
		return text, nil
	}
	s, err := f.manager.Start(Info{ID: "bot-1", SourceLang: "en-US", TargetLang: "en"})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := f.manager.Activate("bot-1"); err != nil {
		t.Fatalf("Activate() error = %v", err)
	}
	defer s.Wait()
	defer f.manager.StopAll()

	s.Admit(utterance("hello"))
	eventually(t, "commit", func() bool { return len(f.broadcaster.Clips()) == 1 })
	if c := f.broadcaster.Clips()[0]; c.Translated != "hello" || c.Untranslated {
		t.Errorf("clip = %q untranslated %v, want %q", c.Translated, c.Untranslated, "hello")
	}
}

func TestCommitTimeoutDegradesSlot(t *testing.T) {
	opts := testOptions()
	opts.CommitTimeout = 80 * time.Millisecond
	f := newFixture(opts)
	f.translator.translate = func(ctx context.Context, text string) (string, error) {
		if text == "stuck" {
			<-ctx.Done()
			return "", ctx.Err()
		}
		return strings.ToUpper(text), nil
	}
	s := f.active(t, "bot-1")
	defer s.Wait()
	defer f.manager.StopAll()

	s.Admit(utterance("stuck"))
	s.Admit(utterance("after"))
	eventually(t, "two commits", func() bool { return len(f.broadcaster.Clips()) == 2 })

	clips := f.broadcaster.Clips()
	if clips[0].Seq != 1 || clips[0].Type != fanout.TypeText || !clips[0].Untranslated || clips[0].Translated != "stuck" {
		t.Errorf("seq 1 = %+v, want degraded text-only original", clips[0])
	}
	if clips[1].Seq != 2 || clips[1].Type != fanout.TypeAudio || clips[1].Offset != 0 {
		t.Errorf("seq 2 = %+v, want audio at offset 0", clips[1])
	}

	eventually(t, "two records", func() bool { return len(f.persister.Records()) == 2 })
	if r := f.persister.Records()[0]; !r.Line.CommitTimeout || r.Clip != nil {
		t.Errorf("seq 1 record = %+v, want commit timeout without clip", r.Line)
	}
}

func TestCommitTimeoutKeepsFinishedTranslation(t *testing.T) {
	opts := testOptions()
	opts.CommitTimeout = 80 * time.Millisecond
	f := newFixture(opts)
	f.speech.speak = func(ctx context.Context, text string) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	s := f.active(t, "bot-1")
	defer s.Wait()
	defer f.manager.StopAll()

	s.Admit(utterance("hola"))
	eventually(t, "commit", func() bool { return len(f.broadcaster.Clips()) == 1 })
	c := f.broadcaster.Clips()[0]
	if c.Translated != "HOLA" || c.Untranslated || c.Type != fanout.TypeText {
		t.Errorf("clip = %+v, want translated text-only", c)
	}
}

func TestRouteRequiresActiveSession(t *testing.T) {
	f := newFixture(testOptions())
	if _, err := f.manager.Start(Info{ID: "bot-1", TargetLang: "es"}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	tests := []struct {
		name    string
		session string
		setup   func()
	}{
		{"unknown session", "nobody", func() {}},
		{"connecting", "bot-1", func() {}},
		{"stopped", "bot-1", func() {
			f.manager.Activate("bot-1")
			f.manager.Stop("bot-1")
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.setup()
			err := f.manager.Route(tt.session, "p1", []byte{1, 2}, f.clock.Now())
			if !errors.Is(err, model.ErrFrameRouting) {
				t.Errorf("Route() error = %v, want ErrFrameRouting", err)
			}
		})
	}

	select {
	case <-f.recognition.started:
		t.Error("recognizer started for a dropped frame")
	default:
	}
}

func TestRecognizerDeathDiscardsPartial(t *testing.T) {
	f := newFixture(testOptions())
	s := f.active(t, "bot-1")
	defer s.Wait()
	defer f.manager.StopAll()

	if err := f.manager.Route("bot-1", "p1", []byte{0}, f.clock.Now()); err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	first := f.recognizer(t)
	first.Say(stt.Result{Text: "half a sent"})
	first.Stop()

	eventually(t, "stream removal", func() bool { return len(s.Streams()) == 0 })
	if len(f.broadcaster.Captions()) == 0 {
		t.Error("interim draft was not captioned")
	}

	if err := f.manager.Route("bot-1", "p1", []byte{0}, f.clock.Now()); err != nil {
		t.Fatalf("Route() after death error = %v", err)
	}
	second := f.recognizer(t)
	if second == first {
		t.Fatal("dead recognizer reused")
	}
	second.Say(stt.Result{Text: "whole"}, stt.Result{Text: "whole sentence", IsFinal: true, Duration: 1})

	eventually(t, "commit", func() bool { return len(f.broadcaster.Clips()) == 1 })
	if c := f.broadcaster.Clips()[0]; c.Seq != 1 || c.Original != "whole sentence" {
		t.Errorf("commit = seq %d %q, want seq 1 %q", c.Seq, c.Original, "whole sentence")
	}
}

func TestRecognizerStartFailure(t *testing.T) {
	f := newFixture(testOptions())
	f.recognition.err = errors.New("refused")
	s := f.active(t, "bot-1")
	defer s.Wait()
	defer f.manager.StopAll()

	if err := f.manager.Route("bot-1", "p1", []byte{0}, f.clock.Now()); err != nil {
		t.Fatalf("Route() error = %v, want the frame queued", err)
	}
	eventually(t, "failed stream removal", func() bool {
		return f.recognition.Calls() == 1 && len(s.Streams()) == 0
	})

	f.recognition.mu.Lock()
	f.recognition.err = nil
	f.recognition.mu.Unlock()
	if err := f.manager.Route("bot-1", "p1", []byte{1}, f.clock.Now()); err != nil {
		t.Fatalf("Route() after failed open error = %v", err)
	}
	r := f.recognizer(t)
	eventually(t, "frame on the fresh stream", func() bool { return len(r.Frames()) == 1 })
}

func TestStalledRecognizerOpenDoesNotBlockRouting(t *testing.T) {
	f := newFixture(testOptions())
	f.recognition.stall = make(chan struct{})
	s := f.active(t, "bot-1")
	defer s.Wait()
	defer f.manager.StopAll()

	routed := make(chan error, 1)
	go func() {
		routed <- f.manager.Route("bot-1", "alice", []byte{0}, f.clock.Now())
	}()
	select {
	case err := <-routed:
		if err != nil {
			t.Fatalf("Route(alice) error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Route(alice) waited on the recognizer dial")
	}
	eventually(t, "alice's dial", func() bool { return f.recognition.Calls() == 1 })

	for i := range 3 {
		done := make(chan error, 1)
		go func() {
			done <- f.manager.Route("bot-1", "bob", []byte{byte(i)}, f.clock.Now())
		}()
		select {
		case err := <-done:
			if err != nil {
				t.Fatalf("Route(bob) error = %v", err)
			}
		case <-time.After(time.Second):
			t.Fatal("Route(bob) blocked behind alice's dial")
		}
	}

	bob := f.recognizer(t)
	eventually(t, "bob's frames", func() bool { return len(bob.Frames()) == 3 })
	for i, frame := range bob.Frames() {
		if frame[0] != byte(i) {
			t.Errorf("frame %d = %v, want %d", i, frame, i)
		}
	}
	if got := s.Streams()["alice"]; got != StateStreaming {
		t.Errorf("alice state = %v, want streaming while connecting", got)
	}

	stopped := make(chan struct{})
	go func() {
		f.manager.Stop("bot-1")
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop() blocked behind alice's dial")
	}
	if !bob.Stopped() {
		t.Error("bob's recognizer still running after stop")
	}
}

func TestUtteranceTimesIncludeJoinOffset(t *testing.T) {
	f := newFixture(testOptions())
	s := f.active(t, "bot-1")
	defer s.Wait()
	defer f.manager.StopAll()

	f.clock.Advance(5 * time.Second)
	if err := f.manager.Route("bot-1", "p1", []byte{0}, f.clock.Now()); err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	r := f.recognizer(t)
	r.Say(stt.Result{Text: "late joiner", IsFinal: true, Start: 1, Duration: 2})

	eventually(t, "record", func() bool { return len(f.persister.Records()) == 1 })
	line := f.persister.Records()[0].Line
	if line.Start != 6 || line.End != 8 {
		t.Errorf("utterance span = [%v, %v], want [6, 8]", line.Start, line.End)
	}
}

func TestIdleAndLeaveCloseStreams(t *testing.T) {
	opts := testOptions()
	opts.IdleTimeout = 30 * time.Second
	opts.SweepInterval = 10 * time.Millisecond
	f := newFixture(opts)
	s := f.active(t, "bot-1")
	defer s.Wait()
	defer f.manager.StopAll()

	f.manager.Route("bot-1", "quiet", []byte{0}, f.clock.Now())
	quiet := f.recognizer(t)
	eventually(t, "quiet's frame", func() bool { return len(quiet.Frames()) == 1 })
	f.clock.Advance(20 * time.Second)
	f.manager.Route("bot-1", "talker", []byte{0}, f.clock.Now())
	talker := f.recognizer(t)
	eventually(t, "talker's frame", func() bool { return len(talker.Frames()) == 1 })
	f.clock.Advance(15 * time.Second)

	eventually(t, "idle close", quiet.Stopped)
	if talker.Stopped() {
		t.Error("recently active stream was closed")
	}
	if got := s.Streams(); len(got) != 1 || got["talker"] != StateStreaming {
		t.Errorf("Streams() = %v, want only talker streaming", got)
	}

	if !f.manager.Leave("bot-1", "talker") {
		t.Error("Leave() = false, want true")
	}
	if !talker.Stopped() {
		t.Error("left participant's recognizer still running")
	}
	if f.manager.Leave("bot-1", "talker") {
		t.Error("second Leave() = true, want false")
	}
}

func TestStopAbandonsInflightAndFlushes(t *testing.T) {
	f := newFixture(testOptions())
	f.translator.translate = func(ctx context.Context, text string) (string, error) {
		if text == "never" {
			<-ctx.Done()
			return "", ctx.Err()
		}
		return strings.ToUpper(text), nil
	}
	s := f.active(t, "bot-1")

	f.manager.Route("bot-1", "p1", []byte{0}, f.clock.Now())
	r := f.recognizer(t)
	eventually(t, "frame", func() bool { return len(r.Frames()) == 1 })

	s.Admit(utterance("done"))
	eventually(t, "first commit", func() bool { return len(f.broadcaster.Clips()) == 1 })
	s.Admit(utterance("never"))
	s.Admit(utterance("blocked"))

	if err := f.manager.Stop("bot-1"); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	s.Wait()

	if got := s.Status(); got != model.StatusEnded {
		t.Errorf("Status() = %q, want %q", got, model.StatusEnded)
	}
	if !r.Stopped() {
		t.Error("recognizer still running after stop")
	}
	if n := len(f.broadcaster.Clips()); n != 1 {
		t.Errorf("%d clips broadcast, want 1", n)
	}
	if _, ok := s.Admit(utterance("late")); ok {
		t.Error("Admit() after stop accepted")
	}
	if _, ok := f.manager.Get("bot-1"); ok {
		t.Error("stopped session still registered")
	}
	if err := f.manager.Stop("bot-1"); err == nil {
		t.Error("second Stop() error = nil")
	}

	f.persister.mu.Lock()
	defer f.persister.mu.Unlock()
	if len(f.persister.summaries) != 1 {
		t.Fatalf("%d flushes, want 1", len(f.persister.summaries))
	}
	sum := f.persister.summaries[0]
	if sum.Status != model.StatusEnded || len(sum.Lines) != 1 || sum.ClipCount != 1 || sum.Duration != 4 {
		t.Errorf("Flush() summary = %+v", sum)
	}
}

func TestManagerLifecycle(t *testing.T) {
	f := newFixture(testOptions())
	var mu sync.Mutex
	var seen []model.Status
	f.manager.OnStatus(func(s Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, s.Status)
	})

	if _, err := f.manager.Start(Info{ID: "bot-1"}); err == nil {
		t.Error("Start() without target language succeeded")
	}
	s, err := f.manager.Start(Info{ID: "bot-1", TargetLang: "fr"})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if _, err := f.manager.Start(Info{ID: "bot-1", TargetLang: "fr"}); err == nil {
		t.Error("duplicate Start() succeeded")
	}
	if err := f.manager.Activate("bot-1"); err != nil {
		t.Fatalf("Activate() error = %v", err)
	}
	if err := f.manager.Fail("bot-1", errors.New("kicked")); err != nil {
		t.Fatalf("Fail() error = %v", err)
	}
	s.Wait()

	mu.Lock()
	want := []model.Status{model.StatusConnecting, model.StatusActive, model.StatusFailed}
	if len(seen) != len(want) {
		t.Fatalf("statuses = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("status %d = %q, want %q", i, seen[i], want[i])
		}
	}
	mu.Unlock()

	ensured, err := f.manager.Ensure(Info{ID: "bot-1", TargetLang: "fr"})
	if err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}
	defer ensured.Wait()
	defer f.manager.StopAll()
	if ensured == s || ensured.Status() != model.StatusActive {
		t.Errorf("Ensure() = %p %q, want a fresh active session", ensured, ensured.Status())
	}
	if snaps := f.manager.Snapshots(); len(snaps) != 1 || snaps[0].SourceLang != "en" {
		t.Errorf("Snapshots() = %+v", snaps)
	}
}

func TestAwaitClipPrefersFinishedResult(t *testing.T) {
	expired, cancel := context.WithCancel(context.Background())
	cancel()

	for range 100 {
		result := make(chan *model.SynthesizedClip, 1)
		want := &model.SynthesizedClip{Seq: 7}
		result <- want
		if got := awaitClip(expired, result); got != want {
			t.Fatalf("awaitClip() = %v, want the finished clip", got)
		}
	}

	if got := awaitClip(expired, make(chan *model.SynthesizedClip, 1)); got != nil {
		t.Errorf("awaitClip() = %v, want nil", got)
	}
}
