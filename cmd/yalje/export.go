package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/johnwbyrd/yalje/pkg/archiver"
	"github.com/johnwbyrd/yalje/pkg/auth"
	"github.com/johnwbyrd/yalje/pkg/config"
	"github.com/johnwbyrd/yalje/pkg/export"
	"github.com/johnwbyrd/yalje/pkg/logger"
)

var (
	exportOutput     string
	exportFormat     string
	exportNoPosts    bool
	exportNoComments bool
	exportNoInbox    bool
	exportStartYear  int
	exportStartMonth int
	exportEndYear    int
	exportEndMonth   int
	exportDelay      time.Duration
	exportRetries    int
	exportRestart    bool
)

// exportCmd represents the export command
var exportCmd = &cobra.Command{
	Use:   "export [username]",
	Short: "Export an account to an archive file",
	Long: `Export a LiveJournal account to a single archive file.

The password is taken from stored credentials (see 'yalje auth login'),
from the YALJE_PASSWORD environment variable, or from the config file.
The post month range defaults to the journal's creation month through the
current month, read from the profile page.

An interrupted export leaves a checkpoint behind; running the same export
again resumes from it instead of re-fetching.`,
	Example: `  # Export everything to the default lj-backup.yaml
  yalje export myusername

  # JSON archive of posts only, for 2020 through 2022
  yalje export myusername -o backup.json --no-comments --no-inbox \
      --start-year 2020 --end-year 2022 --end-month 12`,
	Args: cobra.MaximumNArgs(1),
	RunE: runExport,
}

func init() {
	rootCmd.AddCommand(exportCmd)

	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "output file (format chosen by extension)")
	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", "", "archive format: yaml, json or xml")
	exportCmd.Flags().BoolVar(&exportNoPosts, "no-posts", false, "skip the post pipeline")
	exportCmd.Flags().BoolVar(&exportNoComments, "no-comments", false, "skip the comment pipeline")
	exportCmd.Flags().BoolVar(&exportNoInbox, "no-inbox", false, "skip the inbox pipeline")
	exportCmd.Flags().IntVar(&exportStartYear, "start-year", 0, "first year of the post range")
	exportCmd.Flags().IntVar(&exportStartMonth, "start-month", 1, "first month of the post range")
	exportCmd.Flags().IntVar(&exportEndYear, "end-year", 0, "last year of the post range")
	exportCmd.Flags().IntVar(&exportEndMonth, "end-month", 12, "last month of the post range")
	exportCmd.Flags().DurationVar(&exportDelay, "request-delay", 0, "pause between consecutive requests in a pipeline")
	exportCmd.Flags().IntVar(&exportRetries, "max-retries", 0, "retry attempts per failed request")
	exportCmd.Flags().BoolVar(&exportRestart, "force-restart", false, "discard an existing checkpoint and start over")
}

func runExport(cmd *cobra.Command, args []string) error {
	flags := map[string]interface{}{
		"output":        exportOutput,
		"format":        exportFormat,
		"no-posts":      exportNoPosts,
		"no-comments":   exportNoComments,
		"no-inbox":      exportNoInbox,
		"force-restart": exportRestart,
	}
	if len(args) > 0 {
		flags["username"] = args[0]
	}
	if cmd.Flags().Changed("start-year") {
		flags["start-year"] = exportStartYear
		flags["start-month"] = exportStartMonth
	}
	if cmd.Flags().Changed("end-year") {
		flags["end-year"] = exportEndYear
		flags["end-month"] = exportEndMonth
	}
	if cmd.Flags().Changed("request-delay") {
		flags["request-delay"] = exportDelay
	}
	if cmd.Flags().Changed("max-retries") {
		flags["max-retries"] = exportRetries
	}
	flags["log-level"] = logLevel

	cfg, err := config.Load(configFile, flags)
	if err != nil {
		return err
	}

	stored, err := resolveCredentials(cfg)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	// The output format is chosen by file extension; an explicit --format
	// without --output renames the default output file to match.
	if cmd.Flags().Changed("format") && !cmd.Flags().Changed("output") {
		exporter, err := export.ForFormat(cfg.Export.Format)
		if err != nil {
			return err
		}
		cfg.Export.OutputPath = "lj-backup." + exporter.Extension()
	}

	a, err := archiver.New(cfg, logger.GetLogger())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// A saved session skips the login handshake when it still validates
	if stored != nil && len(stored.Cookies) > 0 {
		session := a.Session()
		session.RestoreCookies(stored.Username, stored.Cookies)
		if err := session.Validate(ctx); err != nil {
			logger.GetLogger().Info("saved session no longer valid, logging in fresh")
		}
	}

	report, err := a.Run(ctx)
	if err != nil {
		if report != nil && report.Resumable {
			fmt.Fprintln(os.Stderr, "Export interrupted; run the same command again to resume.")
		}
		return err
	}

	fmt.Printf("Exported %d posts, %d comments, %d inbox messages to %s\n",
		report.PostCount, report.CommentCount, report.InboxCount, report.OutputPath)
	if len(report.FailedMonths) > 0 {
		fmt.Printf("Warning: %d month(s) failed to fetch:", len(report.FailedMonths))
		for _, m := range report.FailedMonths {
			fmt.Printf(" %s", m)
		}
		fmt.Println()
	}
	if len(report.Warnings) > 0 {
		fmt.Printf("%d linking warning(s) recorded; see the log for details.\n", len(report.Warnings))
	}
	return nil
}

// resolveCredentials fills in the account password from stored credentials
// when neither the config file nor the environment provided one. It returns
// the stored account, when one was used, so its saved session cookies can be
// restored.
func resolveCredentials(cfg *config.Config) (*auth.Account, error) {
	if cfg.LiveJournal.Password != "" || cfg.LiveJournal.Username == "" {
		return nil, nil
	}

	manager, err := auth.NewManager()
	if err != nil {
		return nil, fmt.Errorf("no password configured and credential store unavailable: %w", err)
	}
	account, err := manager.Retrieve(cfg.LiveJournal.Username)
	if err != nil {
		return nil, fmt.Errorf("no password configured for %s; run 'yalje auth login %s' first",
			cfg.LiveJournal.Username, cfg.LiveJournal.Username)
	}
	cfg.LiveJournal.Password = account.Password
	return account, nil
}
