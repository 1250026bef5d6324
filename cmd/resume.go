package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tally-ai/tally/internal/tally"
)

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Manage uploaded resumes",
}

var resumeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List your resumes, or every resume with --all",
	Run: func(cmd *cobra.Command, _ []string) {
		ctx := cmd.Context()
		logger, config := setup(cmd)

		client, _, err := authorizedClient(ctx, config, logger)
		if err != nil {
			fatal(logger, "loading the session", err)
		}

		var resumes *tally.Resumes
		if all, _ := cmd.Flags().GetBool("all"); all {
			limit, _ := cmd.Flags().GetInt("limit")
			skill, _ := cmd.Flags().GetString("skill")
			minExperience, _ := cmd.Flags().GetInt("min-experience")

			resumes, err = client.Resumes(ctx, tally.ResumeFilter{Limit: limit, Skill: skill, MinExperience: minExperience})
		} else {
			resumes, err = client.MyResumes(ctx)
		}
		if err != nil {
			fatal(logger, "listing resumes", err)
		}

		logger.Info("getting resumes", zap.Int("count", resumes.Len()))
		for _, r := range resumes.Newest() {
			fmt.Printf("%6d  %-30s  %2dy  %s\n", r.ID, r.Name, r.YearsExperience, r.CreatedAt)
		}
	},
}

var resumeShowCmd = &cobra.Command{
	Use:   "show ID",
	Short: "Print one resume",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		logger, config := setup(cmd)

		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			logger.Fatal("resume id must be a number", zap.String("id", args[0]))
		}

		client := optionalClient(ctx, config, logger)
		resume, err := client.GetResume(ctx, id)
		if err != nil {
			fatal(logger, "getting the resume", err)
		}

		printJSON(resume)
	},
}

var resumeSearchCmd = &cobra.Command{
	Use:   "search SKILL",
	Short: "Find resumes mentioning a skill",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		logger, config := setup(cmd)

		client := optionalClient(ctx, config, logger)
		resumes, err := client.SearchResumesBySkill(ctx, args[0])
		if err != nil {
			fatal(logger, "searching resumes", err)
		}

		logger.Info("resumes found", zap.String("skill", args[0]), zap.Int("count", resumes.Len()))
		for _, r := range resumes.Newest() {
			fmt.Printf("%6d  %-30s  %2dy  %s\n", r.ID, r.Name, r.YearsExperience, r.CreatedAt)
		}
	},
}

var resumeParseCmd = &cobra.Command{
	Use:   "parse FILE",
	Short: "Upload a PDF resume and build your profile from it",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		logger, config := setup(cmd)

		client, _, err := authorizedClient(ctx, config, logger)
		if err != nil {
			fatal(logger, "loading the session", err)
		}

		upload, err := openUpload(args[0])
		if err != nil {
			logger.Fatal("reading the resume", zap.String("file", args[0]), zap.Error(err))
		}

		stream, _ := cmd.Flags().GetBool("stream")

		var result *tally.ParseResult
		if stream {
			result, err = parseStreaming(ctx, client, upload)
		} else {
			result, err = client.ParseResume(ctx, upload)
		}
		if err != nil {
			fatal(logger, "parsing the resume", err)
		}

		logger.Info("resume parsed", zap.String("message", result.Message))
		if result.Profile != nil {
			printJSON(result.Profile)
		}
	},
}

var resumeDeleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Delete one of your resumes",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		logger, config := setup(cmd)

		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			logger.Fatal("resume id must be a number", zap.String("id", args[0]))
		}

		client, _, err := authorizedClient(ctx, config, logger)
		if err != nil {
			fatal(logger, "loading the session", err)
		}

		if err := client.DeleteResume(ctx, id); err != nil {
			fatal(logger, "deleting the resume", err)
		}

		logger.Info("resume deleted", zap.Int64("id", id))
	},
}

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Show, edit or clear the profile built from your resumes",
}

var profileShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the profile",
	Run: func(cmd *cobra.Command, _ []string) {
		ctx := cmd.Context()
		logger, config := setup(cmd)

		client, _, err := authorizedClient(ctx, config, logger)
		if err != nil {
			fatal(logger, "loading the session", err)
		}

		profile, err := client.MyProfile(ctx)
		if err != nil {
			fatal(logger, "getting the profile", err)
		}
		if profile == nil {
			fmt.Println("No profile yet, upload one with tally resume parse FILE")
			return
		}

		printJSON(profile)
	},
}

var profileSetCmd = &cobra.Command{
	Use:   "set KEY=VALUE...",
	Short: "Change profile fields, e.g. location=Berlin",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		logger, config := setup(cmd)

		changes, err := parseProfileChanges(args)
		if err != nil {
			logger.Fatal("reading the changes", zap.Error(err))
		}

		client, _, err := authorizedClient(ctx, config, logger)
		if err != nil {
			fatal(logger, "loading the session", err)
		}

		profile, err := client.UpdateProfile(ctx, changes)
		if err != nil {
			fatal(logger, "updating the profile", err)
		}

		printJSON(profile)
	},
}

var profileClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete the profile and every resume linked to it",
	Run: func(cmd *cobra.Command, _ []string) {
		ctx := cmd.Context()
		logger, config := setup(cmd)

		client, _, err := authorizedClient(ctx, config, logger)
		if err != nil {
			fatal(logger, "loading the session", err)
		}

		message, err := client.ClearProfile(ctx)
		if err != nil {
			fatal(logger, "clearing the profile", err)
		}

		logger.Info("profile cleared", zap.String("message", message))
	},
}

func init() {
	rootCmd.AddCommand(resumeCmd, profileCmd)
	resumeCmd.AddCommand(resumeListCmd, resumeShowCmd, resumeSearchCmd, resumeParseCmd, resumeDeleteCmd)
	profileCmd.AddCommand(profileShowCmd, profileSetCmd, profileClearCmd)

	resumeListCmd.Flags().BoolP("all", "a", false, "list every resume instead of your own")
	resumeListCmd.Flags().Int("limit", 0, "maximum number of resumes with --all")
	resumeListCmd.Flags().String("skill", "", "only resumes mentioning this skill, with --all")
	resumeListCmd.Flags().Int("min-experience", 0, "minimum years of experience, with --all")

	resumeParseCmd.Flags().BoolP("stream", "s", false, "follow parsing progress as it happens")
}

// parseProfileChanges turns key=value pairs into a partial profile update.
// Values that parse as JSON (numbers, booleans, lists) keep their type.
func parseProfileChanges(args []string) (map[string]any, error) {
	changes := make(map[string]any, len(args))

	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("expected KEY=VALUE, got %q", arg)
		}

		var typed any
		if err := json.Unmarshal([]byte(value), &typed); err != nil {
			typed = value
		}
		changes[key] = typed
	}

	return changes, nil
}

func openUpload(path string) (*tally.Upload, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return tally.NewUpload(path, f)
}

// parseStreaming renders progress events as a single updating line.
func parseStreaming(ctx context.Context, client *tally.Client, upload *tally.Upload) (*tally.ParseResult, error) {
	stream, err := client.ParseResumeStream(ctx, upload)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	result, err := stream.Collect(func(p *tally.ProgressEvent) {
		fmt.Printf("\r[%3d%%] %-60s", p.Progress, p.Message)
	})
	fmt.Println()

	return result, err
}

func printJSON(v any) {
	// do not bother error since values come from a decoded response
	pretty, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(strings.TrimSpace(string(pretty)))
}
