package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tally-ai/tally/internal/survey"
)

const (
	PromptBack     = "back"
	PromptEditLink = "Edit LinkedIn profile"
	PromptRestart  = "Start over"
	PromptExit     = "Exit"
)

var errExit = errors.New("exit requested")

var surveyCmd = &cobra.Command{
	Use:   "survey",
	Short: "Answer the onboarding survey, resuming where you left off",
	Run: func(cmd *cobra.Command, _ []string) {
		ctx := cmd.Context()
		logger, config := setup(cmd)

		m, err := newSurveyMachine(ctx, config, logger)
		if err != nil {
			logger.Fatal("preparing the survey", zap.Error(err))
		}

		if err := runSurvey(ctx, m, config, promptuiSurvey{}, logger); err != nil && !errors.Is(err, errExit) {
			logger.Fatal("exiting", zap.Error(err))
		}
	},
}

var surveyStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the saved survey progress",
	Run: func(cmd *cobra.Command, _ []string) {
		logger, config := setup(cmd)

		m, err := newSurveyMachine(cmd.Context(), config, logger)
		if err != nil {
			logger.Fatal("preparing the survey", zap.Error(err))
		}

		printProgress(m.Progress())
	},
}

var surveyBackCmd = &cobra.Command{
	Use:   "back",
	Short: "Go back to the email step",
	Run: func(cmd *cobra.Command, _ []string) {
		navigate(cmd, survey.StepEmail)
	},
}

var surveyForwardCmd = &cobra.Command{
	Use:   "forward",
	Short: "Go to the LinkedIn step",
	Run: func(cmd *cobra.Command, _ []string) {
		navigate(cmd, survey.StepLinkedin)
	},
}

var surveyResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Forget every answer and start over",
	Run: func(cmd *cobra.Command, _ []string) {
		logger, config := setup(cmd)

		m, err := newSurveyMachine(cmd.Context(), config, logger)
		if err != nil {
			logger.Fatal("preparing the survey", zap.Error(err))
		}

		if err := m.Reset(); err != nil {
			logger.Fatal("resetting the survey", zap.Error(err))
		}

		logger.Info("survey reset")
	},
}

func init() {
	rootCmd.AddCommand(surveyCmd)
	surveyCmd.AddCommand(surveyStatusCmd, surveyBackCmd, surveyForwardCmd, surveyResetCmd)
}

func navigate(cmd *cobra.Command, step survey.Step) {
	logger, config := setup(cmd)

	m, err := newSurveyMachine(cmd.Context(), config, logger)
	if err != nil {
		logger.Fatal("preparing the survey", zap.Error(err))
	}

	if err := m.TransitionTo(step); err != nil {
		logger.Fatal("navigating the survey", zap.Error(err))
	}

	printProgress(m.Progress())
}

// surveyPrompter asks the user for answers. The interactive one uses promptui.
type surveyPrompter interface {
	Ask(progress survey.Progress) (string, error)
	ChooseAfterCompletion() (string, error)
}

// runSurvey prompts for the current step until the user leaves.
func runSurvey(ctx context.Context, m *survey.Machine, config *Config, prompter surveyPrompter, log *zap.Logger) error {
	for {
		progress := m.Progress()
		printProgress(progress)

		if progress.IsCompleted {
			if err := afterCompletion(m, config, prompter); err != nil {
				return err
			}
			continue
		}

		answer, err := prompter.Ask(progress)
		if err != nil {
			return err
		}

		if answer == PromptBack {
			if err := m.TransitionTo(survey.StepEmail); err != nil {
				log.Warn("cannot go back", zap.Error(err))
			}
			continue
		}

		err = m.Submit(ctx, answer)
		switch {
		case err == nil:
		case survey.IsValidation(err), survey.IsNetwork(err):
			// Both keep the user on the same step with the message shown.
			fmt.Printf("  %s\n", err)
		case errors.Is(err, survey.ErrStale):
			log.Debug("submission discarded", zap.Error(err))
		default:
			return err
		}
	}
}

// afterCompletion reopens a step on request. It returns errExit when the user is done.
func afterCompletion(m *survey.Machine, config *Config, prompter surveyPrompter) error {
	if !config.Survey.AllowBackFromDone {
		fmt.Println("Thanks! You're on the list.")
		return errExit
	}

	action, err := prompter.ChooseAfterCompletion()
	if err != nil {
		return err
	}

	switch action {
	case PromptEditLink:
		return m.TransitionTo(survey.StepLinkedin)
	case PromptRestart:
		return m.TransitionTo(survey.StepEmail)
	default:
		return errExit
	}
}

type promptuiSurvey struct{}

func (promptuiSurvey) Ask(progress survey.Progress) (string, error) {
	var prompt promptui.Prompt

	switch progress.CurrentStep {
	case survey.StepEmail:
		prompt = promptui.Prompt{
			Label:    "What's your email",
			Default:  progress.Email,
			Validate: survey.ValidateEmail,
		}
	case survey.StepLinkedin:
		prompt = promptui.Prompt{
			Label:   fmt.Sprintf("Your LinkedIn profile URL (%q to change the email)", PromptBack),
			Default: progress.LinkedinURL,
			Validate: func(input string) error {
				if strings.TrimSpace(input) == PromptBack {
					return nil
				}
				return survey.ValidateLinkedin(input)
			},
		}
	default:
		return "", fmt.Errorf("nothing to ask at %s", progress.CurrentStep)
	}

	answer, err := prompt.Run()
	if err != nil {
		return "", promptError(err)
	}

	return strings.TrimSpace(answer), nil
}

func (promptuiSurvey) ChooseAfterCompletion() (string, error) {
	selectPrompt := promptui.Select{
		Label: "Survey complete",
		Items: []string{PromptExit, PromptEditLink, PromptRestart},
	}

	_, action, err := selectPrompt.Run()
	if err != nil {
		return "", promptError(err)
	}
	return action, nil
}

// promptError turns Ctrl-C and Ctrl-D into a normal exit.
func promptError(err error) error {
	if errors.Is(err, promptui.ErrInterrupt) || errors.Is(err, promptui.ErrEOF) {
		return errExit
	}
	return err
}

func printProgress(p survey.Progress) {
	fmt.Printf("[%3d%%] %s\n", p.Percent(), p.CurrentStep)
	if p.Email != "" {
		fmt.Printf("  email:    %s\n", p.Email)
	}
	if p.LinkedinURL != "" {
		fmt.Printf("  linkedin: %s\n", p.LinkedinURL)
	}
}
