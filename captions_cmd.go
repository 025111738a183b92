package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"node.town/babel/captions"
)

var captionsCmd = &cobra.Command{
	Use:   "captions",
	Short: "Follow live captions from a running server",
	Run:   runCaptions,
}

func init() {
	captionsCmd.Flags().String("url", "", "Server URL (defaults to http://localhost:<http-port>)")
	captionsCmd.Flags().String("lang", "", "Caption language (defaults to target_language)")
	captionsCmd.Flags().String("session", "", "Only follow this session")
}

func runCaptions(cmd *cobra.Command, args []string) {
	l := createLoggers()

	url, _ := cmd.Flags().GetString("url")
	lang, _ := cmd.Flags().GetString("lang")
	sessionID, _ := cmd.Flags().GetString("session")
	if url == "" {
		url = fmt.Sprintf("http://localhost:%d", viper.GetInt("http_port"))
	}
	if lang == "" {
		lang = viper.GetString("target_language")
	}

	if err := captions.Run(context.Background(), url, lang, sessionID); err != nil {
		l.main.Fatal("captions", "error", err.Error())
	}
}
