package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"node.town/babel/recall"
	"node.town/babel/translate"
)

var botCmd = &cobra.Command{
	Use:   "bot",
	Short: "Start or remove Recall.ai bots directly",
}

var botStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Send one interpreter bot per target language into a meeting",
	Run:   runBotStart,
}

var botLeaveCmd = &cobra.Command{
	Use:   "leave <bot-id>",
	Short: "Make a bot leave its meeting",
	Args:  cobra.ExactArgs(1),
	Run:   runBotLeave,
}

func init() {
	botStartCmd.Flags().String("meeting", "", "Meeting URL")
	botStartCmd.Flags().StringSlice("lang", nil, "Target languages, e.g. --lang es,fr")
	botStartCmd.Flags().String("ws-url", "", "Public websocket URL the bot streams audio to (defaults to public_ws_url)")
	botCmd.AddCommand(botStartCmd)
	botCmd.AddCommand(botLeaveCmd)
}

var botLanguages = []string{"en", "es", "fr", "de", "pt", "ja", "zh"}

func recallClient(l loggers) *recall.Client {
	cfg := loadConfig(l)
	if cfg.Recall.APIKey == "" {
		l.main.Fatal("missing RECALL_API_KEY or --recall-api-key=")
	}
	return recall.NewClient(cfg.Recall.APIKey, cfg.Recall.BaseURL, l.talk)
}

func runBotStart(cmd *cobra.Command, args []string) {
	l := createLoggers()
	cfg := loadConfig(l)
	client := recallClient(l)

	meetingURL, _ := cmd.Flags().GetString("meeting")
	langs, _ := cmd.Flags().GetStringSlice("lang")
	wsURL, _ := cmd.Flags().GetString("ws-url")
	if wsURL == "" {
		wsURL = cfg.PublicWSURL
	}

	var fields []huh.Field
	if meetingURL == "" {
		fields = append(fields, huh.NewInput().
			Title("Meeting URL").
			Value(&meetingURL).
			Validate(func(s string) error {
				if strings.TrimSpace(s) == "" {
					return fmt.Errorf("a meeting URL is required")
				}
				return nil
			}))
	}
	if len(langs) == 0 {
		options := make([]huh.Option[string], len(botLanguages))
		for i, lang := range botLanguages {
			options[i] = huh.NewOption(translate.LanguageName(lang), lang)
		}
		fields = append(fields, huh.NewMultiSelect[string]().
			Title("Target languages").
			Options(options...).
			Value(&langs))
	}
	if wsURL == "" {
		fields = append(fields, huh.NewInput().
			Title("Public websocket URL").
			Value(&wsURL))
	}
	if len(fields) > 0 {
		if err := huh.NewForm(huh.NewGroup(fields...)).Run(); err != nil {
			l.main.Fatal("form input", "error", err.Error())
		}
	}
	if len(langs) == 0 {
		l.main.Fatal("select at least one target language")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	for _, lang := range langs {
		id, err := client.CreateBot(ctx, recall.BotRequest{
			MeetingURL:   strings.TrimSpace(meetingURL),
			WebsocketURL: wsURL,
			Name:         recall.BotName(lang),
		})
		if err != nil {
			l.main.Error("create bot", "lang", lang, "error", err.Error())
			continue
		}
		fmt.Printf("%s\t%s\n", lang, id)
	}
}

func runBotLeave(cmd *cobra.Command, args []string) {
	l := createLoggers()
	client := recallClient(l)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := client.LeaveCall(ctx, args[0]); err != nil {
		l.main.Fatal("leave call", "error", err.Error())
	}
	fmt.Println("Bot left.")
}
