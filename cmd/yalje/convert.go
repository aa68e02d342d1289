package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/johnwbyrd/yalje/pkg/export"
)

// convertCmd represents the convert command
var convertCmd = &cobra.Command{
	Use:   "convert <input> <output>",
	Short: "Convert an archive file between formats",
	Long: `Convert an existing archive file to another format.

Both formats are chosen by file extension (.yaml, .yml, .json or .xml).
The archive is validated after reading, so a truncated or tampered file
is rejected rather than silently rewritten.`,
	Example: `  yalje convert lj-backup.yaml lj-backup.json
  yalje convert lj-backup.json lj-backup.xml`,
	Args: cobra.ExactArgs(2),
	RunE: runConvert,
}

func init() {
	rootCmd.AddCommand(convertCmd)
}

func runConvert(cmd *cobra.Command, args []string) error {
	input, output := args[0], args[1]

	bundle, err := export.ReadFile(input)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", input, err)
	}
	if err := export.Validate(bundle); err != nil {
		return fmt.Errorf("archive %s is inconsistent: %w", input, err)
	}
	if err := export.WriteFile(output, bundle); err != nil {
		return fmt.Errorf("failed to write %s: %w", output, err)
	}

	fmt.Printf("Converted %s -> %s (%d posts, %d comments, %d inbox messages)\n",
		input, output,
		bundle.Metadata.PostCount, bundle.Metadata.CommentCount, bundle.Metadata.InboxCount)
	return nil
}
