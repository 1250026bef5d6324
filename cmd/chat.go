package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/tally-ai/tally/internal/ai"
	"github.com/tally-ai/tally/internal/secrets"
	"github.com/tally-ai/tally/internal/tally"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk to the Tally assistant",
	Run: func(cmd *cobra.Command, _ []string) {
		ctx := cmd.Context()
		logger, config := setup(cmd)

		assistant, err := newAssistant(ctx, config, logger)
		if err != nil {
			fatal(logger, "preparing the assistant", err)
		}

		logger.Info("starting a chat",
			zap.String("provider", assistant.Provider()),
			zap.String("model", assistant.Model()),
		)

		if err := chatLoop(ctx, assistant, logger); err != nil && !errors.Is(err, errExit) {
			logger.Fatal("exiting", zap.Error(err))
		}
	},
}

var chatModelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List the models the backend assistant offers",
	Run: func(cmd *cobra.Command, _ []string) {
		logger, config := setup(cmd)

		client := optionalClient(cmd.Context(), config, logger)
		models, err := client.ChatModels(cmd.Context())
		if err != nil {
			fatal(logger, "listing chat models", err)
		}

		for _, m := range models {
			fmt.Printf("%-40s %s\n", m.ID, m.OwnedBy)
		}
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.AddCommand(chatModelsCmd)

	chatCmd.Flags().String("provider", "", "backend or gemini")
	chatCmd.Flags().String("model", "", "model name, e.g. gemini/gemini-1.5-flash")

	viper.BindPFlag("chat.provider", chatCmd.Flags().Lookup("provider"))
	viper.BindPFlag("chat.model", chatCmd.Flags().Lookup("model"))
}

func newAssistant(ctx context.Context, config *Config, logger *zap.Logger) (ai.Assistant, error) {
	var (
		client    *tally.Client
		geminiKey string
		err       error
	)

	if strings.EqualFold(strings.TrimSpace(config.Chat.Provider), ai.ProviderGemini) {
		geminiKey, err = secrets.Load(secrets.Source{
			Name:  "gemini api key",
			Value: config.Gemini.APIKey,
			File:  config.Gemini.APIKeyFile,
			Env:   "GEMINI_API_KEY",
		})
		if err != nil {
			return nil, fmt.Errorf("%w (set gemini.api-key-file or TALLY_GEMINI_API_KEY)", err)
		}
	} else {
		client, _, err = authorizedClient(ctx, config, logger)
		if err != nil {
			return nil, err
		}
	}

	return ai.New(ctx, config.Chat, client, geminiKey, logger)
}

func chatLoop(ctx context.Context, assistant ai.Assistant, logger *zap.Logger) error {
	var history []tally.ChatMessage

	fmt.Println("Type your message, or \"exit\" to leave.")

	for {
		prompt := promptui.Prompt{Label: "you"}
		input, err := prompt.Run()
		if errors.Is(err, promptui.ErrInterrupt) || errors.Is(err, promptui.ErrEOF) {
			return errExit
		}
		if err != nil {
			return err
		}

		input = strings.TrimSpace(input)
		switch input {
		case "":
			continue
		case "exit", "quit":
			return errExit
		}

		history = append(history, tally.ChatMessage{Role: tally.RoleUser, Content: input})

		reply, err := assistant.Complete(ctx, history)
		if err != nil {
			// The failed message stays out of the history so it can be retried.
			history = history[:len(history)-1]
			logger.Warn("assistant request failed", zap.Error(err))
			continue
		}

		history = append(history, tally.ChatMessage{Role: tally.RoleAssistant, Content: reply.Content})
		fmt.Printf("\n%s\n\n", reply.Content)
	}
}
