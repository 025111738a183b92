package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"node.town/babel/config"
)

var logger *log.Logger

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(botCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(transcriptCmd)
	rootCmd.AddCommand(captionsCmd)
	rootCmd.AddCommand(setupCmd)

	flags := rootCmd.PersistentFlags()
	flags.Bool("debug", false, "Log at debug level")
	flags.Int("http-port", 8765, "HTTP server port")
	flags.String("database-url", "", "Postgres connection string")
	flags.String("deepgram-api-key", "", "Deepgram API key")
	flags.String("speechmatics-api-key", "", "Speechmatics API key")
	flags.String("deepl-api-key", "", "DeepL API key")
	flags.String("openai-api-key", "", "OpenAI API key")
	flags.String("gemini-api-key", "", "Gemini API key")
	flags.String("elevenlabs-api-key", "", "ElevenLabs API key")
	flags.String("recall-api-key", "", "Recall.ai API key")

	viper.BindPFlag("debug", flags.Lookup("debug"))
	viper.BindPFlag("http_port", flags.Lookup("http-port"))
	viper.BindPFlag("database_url", flags.Lookup("database-url"))
	viper.BindPFlag("deepgram.api_key", flags.Lookup("deepgram-api-key"))
	viper.BindPFlag("speechmatics.api_key", flags.Lookup("speechmatics-api-key"))
	viper.BindPFlag("deepl.api_key", flags.Lookup("deepl-api-key"))
	viper.BindPFlag("openai_api_key", flags.Lookup("openai-api-key"))
	viper.BindPFlag("gemini_api_key", flags.Lookup("gemini-api-key"))
	viper.BindPFlag("elevenlabs_api_key", flags.Lookup("elevenlabs-api-key"))
	viper.BindPFlag("recall.api_key", flags.Lookup("recall-api-key"))
}

func initConfig() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Printf("Error reading .env file: %s\n", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	config.SetDefaults(viper.GetViper())
	config.BindEnv(viper.GetViper())

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			fmt.Printf("Error reading config file: %s\n", err)
		}
	}

	logger = log.New(os.Stderr)
}

var rootCmd = &cobra.Command{
	Use:   "babel",
	Short: "Babel interprets live meetings",
	Long: `Babel sends a bot into a meeting, recognizes what each participant says,
translates and speaks it in other languages, and keeps subtitles and a transcript.`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

type loggers struct {
	main *log.Logger
	hear *log.Logger
	pipe *log.Logger
	talk *log.Logger
	data *log.Logger
	http *log.Logger
}

func createLoggers() loggers {
	logLevel := log.InfoLevel
	if viper.GetBool("debug") {
		logLevel = log.DebugLevel
	}

	logger.SetLevel(logLevel)
	logger.SetReportTimestamp(true)
	logger.SetReportCaller(logLevel == log.DebugLevel)
	logger.SetCallerFormatter(
		func(file string, line int, funcName string) string {
			path, err := filepath.Rel(".", file)
			if err != nil {
				path = file
			}
			return fmt.Sprintf("%s:%d", path, line)
		},
	)

	styles := log.DefaultStyles()
	styles.Prefix = styles.Prefix.
		Bold(false).Transform(func(s string) string {
		return strings.TrimSuffix(s, ":")
	})
	styles.Levels[log.InfoLevel] = styles.Levels[log.InfoLevel].
		MaxWidth(6).
		MarginRight(1).
		Bold(false)
	styles.Levels[log.ErrorLevel] = styles.Levels[log.ErrorLevel].
		MaxWidth(6).
		MarginRight(1).
		Bold(false)
	styles.Message = styles.Message.Bold(true).Width(24)
	styles.Key = styles.Key.MarginLeft(1).
		Bold(false).
		Foreground(lipgloss.Color("#ff8800"))

	logger.SetStyles(styles)

	return loggers{
		main: logger.With().WithPrefix("main"),
		hear: logger.With().WithPrefix("hear"),
		pipe: logger.With().WithPrefix("pipe"),
		talk: logger.With().WithPrefix("talk"),
		data: logger.With().WithPrefix("data"),
		http: logger.With().WithPrefix("http"),
	}
}

func loadConfig(l loggers) *config.Config {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		l.main.Fatal("load config", "error", err.Error())
	}
	return cfg
}
