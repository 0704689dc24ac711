package main

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/taskpouch/taskpouch/internal/sync"
)

var restoreCmd = &cobra.Command{
	Use:   "restore [file]",
	Short: "Restore a desktop export into the local database",
	Long: `Restore one desktop export document into the local database.

Reads the export from the given file, or from stdin when no file is
given. Entities are committed one at a time as the document streams in;
re-delivered entities update in place.

With --reset the local database is emptied first, so the result is an
exact copy of the desktop state.

Examples:
  tp restore export.xml          # Restore from a file
  tp restore --reset export.xml  # Replace local state entirely
  desktop-export | tp restore    # Restore from a pipe`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reset, _ := cmd.Flags().GetBool("reset")
		quiet, _ := cmd.Flags().GetBool("quiet")

		var input io.Reader = os.Stdin
		name := "stdin"
		if len(args) == 1 {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("failed to open export: %w", err)
			}
			defer f.Close()
			input = f
			name = args[0]
		}

		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		ctx := cmd.Context()

		if reset {
			if err := st.Clear(ctx); err != nil {
				return fmt.Errorf("failed to clear database: %w", err)
			}
			fmt.Println("Local database cleared")
		}

		var reporter sync.Reporter = sync.NopReporter{}
		if !quiet {
			reporter = sync.NewLogReporter(log.New(os.Stderr, "[sync] ", log.LstdFlags))
		}

		session := sync.NewSession(ctx, st, reporter, nil)
		if err := session.Run(input); err != nil {
			return fmt.Errorf("restore of %s failed: %w", name, err)
		}

		counts := session.Counts()
		fmt.Printf("Restored %s: %d categories, %d tasks (%d done), %d efforts\n",
			name, counts.Categories, counts.Tasks, counts.Done, counts.Efforts)
		return nil
	},
}

func init() {
	restoreCmd.Flags().Bool("reset", false, "clear the local database before restoring")
	restoreCmd.Flags().BoolP("quiet", "q", false, "suppress progress output")
}
