package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"node.town/babel/model"
)

type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

type BotSession struct {
	ID         string
	MeetingURL string
	SourceLang string
	TargetLang string
	Status     string
	ClipCount  int64
	Duration   float64
	CreatedAt  time.Time
	StoppedAt  *time.Time
}

type CreateSessionParams struct {
	ID         string
	MeetingURL string
	SourceLang string
	TargetLang string
	Status     string
}

const createSession = `
INSERT INTO bot_sessions (id, meeting_url, source_lang, target_lang, status)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status
`

func (q *Queries) CreateSession(ctx context.Context, arg CreateSessionParams) error {
	_, err := q.db.Exec(ctx, createSession,
		arg.ID, arg.MeetingURL, arg.SourceLang, arg.TargetLang, arg.Status)
	return err
}

type UpdateSessionStatusParams struct {
	ID        string
	Status    string
	ClipCount int64
	Duration  float64
	Stopped   bool
}

const updateSessionStatus = `
UPDATE bot_sessions
SET status = $2,
    clip_count = $3,
    duration = $4,
    stopped_at = CASE WHEN $5 THEN now() ELSE stopped_at END
WHERE id = $1
`

func (q *Queries) UpdateSessionStatus(ctx context.Context, arg UpdateSessionStatusParams) error {
	tag, err := q.db.Exec(ctx, updateSessionStatus,
		arg.ID, arg.Status, arg.ClipCount, arg.Duration, arg.Stopped)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("session %s not found", arg.ID)
	}
	return nil
}

const insertTranscriptLine = `
INSERT INTO transcript_lines (
    session_id, seq, participant_id, original, translated,
    elapsed_start, elapsed_end, audio_offset,
    untranslated, synthesis_failed, commit_timeout
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (session_id, seq) DO NOTHING
`

func (q *Queries) InsertTranscriptLine(ctx context.Context, sessionID string, r model.TranscriptRecord) error {
	_, err := q.db.Exec(ctx, insertTranscriptLine,
		sessionID, int64(r.Seq), r.ParticipantID, r.Original, r.Translated,
		r.Start, r.End, r.Offset,
		r.Untranslated, r.SynthesisFailed, r.CommitTimeout)
	return err
}

const insertSubtitleCue = `
INSERT INTO subtitle_cues (session_id, seq, cue_start, cue_end, text)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (session_id, seq) DO NOTHING
`

func (q *Queries) InsertSubtitleCue(ctx context.Context, sessionID string, c model.SubtitleCue) error {
	_, err := q.db.Exec(ctx, insertSubtitleCue, sessionID, int64(c.Seq), c.Start, c.End, c.Text)
	return err
}

const listSessions = `
SELECT id, meeting_url, source_lang, target_lang, status, clip_count, duration, created_at, stopped_at
FROM bot_sessions
ORDER BY created_at DESC
LIMIT $1
`

func (q *Queries) ListSessions(ctx context.Context, limit int) ([]BotSession, error) {
	rows, err := q.db.Query(ctx, listSessions, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []BotSession
	for rows.Next() {
		var s BotSession
		if err := rows.Scan(
			&s.ID, &s.MeetingURL, &s.SourceLang, &s.TargetLang, &s.Status,
			&s.ClipCount, &s.Duration, &s.CreatedAt, &s.StoppedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, s)
	}
	return items, rows.Err()
}

const getTranscript = `
SELECT seq, participant_id, original, translated, elapsed_start, elapsed_end,
       audio_offset, untranslated, synthesis_failed, commit_timeout
FROM transcript_lines
WHERE session_id = $1
ORDER BY seq
`

func (q *Queries) GetTranscript(ctx context.Context, sessionID string) ([]model.TranscriptRecord, error) {
	rows, err := q.db.Query(ctx, getTranscript, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []model.TranscriptRecord
	for rows.Next() {
		var (
			r   model.TranscriptRecord
			seq int64
		)
		if err := rows.Scan(
			&seq, &r.ParticipantID, &r.Original, &r.Translated, &r.Start, &r.End,
			&r.Offset, &r.Untranslated, &r.SynthesisFailed, &r.CommitTimeout,
		); err != nil {
			return nil, err
		}
		r.Seq = uint64(seq)
		items = append(items, r)
	}
	return items, rows.Err()
}

const getSubtitles = `
SELECT seq, cue_start, cue_end, text
FROM subtitle_cues
WHERE session_id = $1
ORDER BY seq
`

func (q *Queries) GetSubtitles(ctx context.Context, sessionID string) ([]model.SubtitleCue, error) {
	rows, err := q.db.Query(ctx, getSubtitles, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []model.SubtitleCue
	for rows.Next() {
		var (
			c   model.SubtitleCue
			seq int64
		)
		if err := rows.Scan(&seq, &c.Start, &c.End, &c.Text); err != nil {
			return nil, err
		}
		c.Seq = uint64(seq)
		items = append(items, c)
	}
	return items, rows.Err()
}
