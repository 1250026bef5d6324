package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tally-ai/tally/internal/tally"
)

type dashboard struct {
	User    *tally.User
	Resumes *tally.Resumes
	Profile *tally.Profile
}

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Show your account, resumes and profile at a glance",
	Run: func(cmd *cobra.Command, _ []string) {
		ctx := cmd.Context()
		logger, config := setup(cmd)

		client, _, err := authorizedClient(ctx, config, logger)
		if err != nil {
			fatal(logger, "loading the session", err)
		}

		d, err := loadDashboard(ctx, client)
		if err != nil {
			fatal(logger, "loading the dashboard", err)
		}

		d.print()
	},
}

func init() {
	rootCmd.AddCommand(dashboardCmd)
}

type dashboardSource interface {
	Me(ctx context.Context) (*tally.User, error)
	MyResumes(ctx context.Context) (*tally.Resumes, error)
	MyProfile(ctx context.Context) (*tally.Profile, error)
}

// loadDashboard fetches the three views concurrently. The first failure cancels the rest.
func loadDashboard(ctx context.Context, src dashboardSource) (*dashboard, error) {
	var d dashboard

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		d.User, err = src.Me(ctx)
		return err
	})
	g.Go(func() (err error) {
		d.Resumes, err = src.MyResumes(ctx)
		return err
	})
	g.Go(func() (err error) {
		d.Profile, err = src.MyProfile(ctx)
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &d, nil
}

func (d *dashboard) print() {
	fmt.Printf("Welcome back, %s\n\n", d.displayName())

	fmt.Printf("Resumes: %d\n", d.Resumes.Len())
	for _, name := range d.Resumes.Names() {
		fmt.Printf("  - %s\n", name)
	}

	fmt.Println()
	if d.Profile == nil {
		fmt.Println("Profile: not created yet")
		return
	}

	fmt.Printf("Profile: %s", d.Profile.Name)
	if d.Profile.CareerLevel != "" {
		fmt.Printf(" (%s)", d.Profile.CareerLevel)
	}
	fmt.Println()
	if skills := d.Profile.RawSkills(); len(skills) > 0 {
		fmt.Printf("Skills:  %s\n", strings.Join(skills, ", "))
	}
}

func (d *dashboard) displayName() string {
	if d.User == nil {
		return "there"
	}
	if d.User.Name != "" {
		return d.User.Name
	}
	return d.User.Email
}
