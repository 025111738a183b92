package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"node.town/babel/db"
	"node.town/babel/llm"
	"node.town/babel/model"
	"node.town/babel/sink"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect stored sessions",
}

var listSessionsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List recent sessions in a table",
	Run:   runListSessions,
}

var transcriptCmd = &cobra.Command{
	Use:   "transcript",
	Short: "Print a stored session transcript",
}

var transcriptShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Render a session transcript",
	Args:  cobra.ExactArgs(1),
	Run:   runTranscriptShow,
}

var transcriptSRTCmd = &cobra.Command{
	Use:   "srt <session-id>",
	Short: "Print a session's subtitles as SRT",
	Args:  cobra.ExactArgs(1),
	Run:   runTranscriptSRT,
}

var transcriptSummarizeCmd = &cobra.Command{
	Use:   "summarize <session-id>",
	Short: "Summarize a session transcript using OpenAI",
	Args:  cobra.ExactArgs(1),
	Run:   runTranscriptSummarize,
}

func init() {
	listSessionsCmd.Flags().Int("limit", 50, "Number of sessions to list")
	sessionsCmd.AddCommand(listSessionsCmd)
	transcriptCmd.AddCommand(transcriptShowCmd)
	transcriptCmd.AddCommand(transcriptSRTCmd)
	transcriptCmd.AddCommand(transcriptSummarizeCmd)
}

func openQueries(ctx context.Context, l loggers) *db.Queries {
	cfg := loadConfig(l)
	if cfg.DatabaseURL == "" {
		l.main.Fatal("missing DATABASE_URL or --database-url=")
	}
	_, queries, err := db.OpenDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		l.main.Fatal("open database", "error", err.Error())
	}
	return queries
}

func runListSessions(cmd *cobra.Command, args []string) {
	l := createLoggers()
	ctx := context.Background()
	queries := openQueries(ctx, l)

	limit, _ := cmd.Flags().GetInt("limit")
	sessions, err := queries.ListSessions(ctx, limit)
	if err != nil {
		l.main.Fatal("fetch sessions", "error", err.Error())
	}
	if len(sessions) == 0 {
		fmt.Println("No sessions found.")
		return
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"ID", "Created At", "Languages", "Status", "Clips", "Duration"})
	table.SetBorder(false)
	table.SetCenterSeparator("|")
	table.SetColumnSeparator("|")
	table.SetRowSeparator("-")
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)

	for _, s := range sessions {
		table.Append([]string{
			s.ID,
			s.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			fmt.Sprintf("%s → %s", s.SourceLang, s.TargetLang),
			s.Status,
			fmt.Sprintf("%d", s.ClipCount),
			fmt.Sprintf("%.2f s", s.Duration),
		})
	}
	table.Render()
}

// transcriptMarkdown lays a transcript out as one block per line, with
// the original under the translation when they differ.
func transcriptMarkdown(sessionID string, lines []model.TranscriptRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Session %s\n\n", sessionID)
	for _, line := range lines {
		fmt.Fprintf(&b, "**%d. %s** `%s`", line.Seq, line.ParticipantID, clock(line.Offset))
		switch {
		case line.CommitTimeout:
			b.WriteString(" _(timed out)_")
		case line.SynthesisFailed:
			b.WriteString(" _(text only)_")
		case line.Untranslated:
			b.WriteString(" _(untranslated)_")
		}
		fmt.Fprintf(&b, "\n\n%s\n\n", line.Translated)
		if line.Original != line.Translated {
			fmt.Fprintf(&b, "> %s\n\n", line.Original)
		}
	}
	return b.String()
}

func clock(seconds float64) string {
	total := int(seconds)
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, total/60%60, total%60)
}

func renderMarkdown(l loggers, md string) {
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(80),
	)
	if err != nil {
		l.main.Fatal("failed to create renderer", "error", err.Error())
	}
	rendered, err := renderer.Render(md)
	if err != nil {
		l.main.Fatal("failed to render markdown", "error", err.Error())
	}
	fmt.Print(rendered)
}

const summaryPrompt = "You summarize interpreted meetings. " +
	"The transcript lists each line as speaker, time, original and translation. " +
	"Write a concise markdown summary of the main topics, key points, " +
	"and any decisions or action items, in the language of the translations."

func summarizeTranscript(
	ctx context.Context,
	lm llm.LanguageModel,
	lines []model.TranscriptRecord,
) (string, error) {
	var b strings.Builder
	for _, line := range lines {
		fmt.Fprintf(&b, "%s %s: %s", clock(line.Offset), line.ParticipantID, line.Original)
		if line.Translated != line.Original {
			fmt.Fprintf(&b, " => %s", line.Translated)
		}
		b.WriteString("\n")
	}

	req := &llm.ChatCompletionRequest{
		SystemPrompt: summaryPrompt,
		MaxTokens:    1024,
		Temperature:  0.3,
	}
	return llm.Complete(ctx, lm, req.WithUserMessage(b.String()))
}

func runTranscriptShow(cmd *cobra.Command, args []string) {
	l := createLoggers()
	ctx := context.Background()
	queries := openQueries(ctx, l)

	lines, err := queries.GetTranscript(ctx, args[0])
	if err != nil {
		l.main.Fatal("fetch transcript", "error", err.Error())
	}
	if len(lines) == 0 {
		l.main.Fatal("no transcript lines for session", "session", args[0])
	}

	renderMarkdown(l, transcriptMarkdown(args[0], lines))
}

func runTranscriptSRT(cmd *cobra.Command, args []string) {
	l := createLoggers()
	ctx := context.Background()
	queries := openQueries(ctx, l)

	cues, err := queries.GetSubtitles(ctx, args[0])
	if err != nil {
		l.main.Fatal("fetch subtitles", "error", err.Error())
	}
	fmt.Print(sink.FormatSRT(cues))
}

func runTranscriptSummarize(cmd *cobra.Command, args []string) {
	l := createLoggers()
	ctx := context.Background()
	cfg := loadConfig(l)
	if cfg.OpenAIAPIKey == "" {
		l.main.Fatal("missing OPENAI_API_KEY or --openai-api-key=")
	}
	queries := openQueries(ctx, l)

	lines, err := queries.GetTranscript(ctx, args[0])
	if err != nil {
		l.main.Fatal("fetch transcript", "error", err.Error())
	}
	if len(lines) == 0 {
		l.main.Fatal("no transcript lines for session", "session", args[0])
	}

	summary, err := summarizeTranscript(ctx, llm.NewOpenAILanguageModel(cfg.OpenAIAPIKey), lines)
	if err != nil {
		l.main.Fatal("summarize", "error", err.Error())
	}
	renderMarkdown(l, summary)
}
