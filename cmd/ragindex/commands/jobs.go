package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/54b3r/ragindex/internal/indexing"
	"github.com/54b3r/ragindex/internal/ingestion"
	"github.com/54b3r/ragindex/internal/queue"
)

// printJSON writes v to stdout as indented JSON.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// reportTask prints the final task status and turns a failed task into a
// command error.
func reportTask(st *queue.TaskStatus) error {
	if err := printJSON(st); err != nil {
		return err
	}
	if st.State != queue.StateSuccess {
		return fmt.Errorf("task %s (%s) ended %s: %s", st.ID, st.Name, st.State, st.Error)
	}
	return nil
}

// NewUploadCmd constructs `ragindex upload`, which stores a local file as a
// project asset.
func NewUploadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "upload <project_id> <file>",
		Short: "Store a local file as a project asset",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			projectID, path := args[0], args[1]

			a, err := buildStores()
			if err != nil {
				return fmt.Errorf("upload: %w", err)
			}
			defer a.close()

			files := ingestion.NewLocalFileStore(cfg.Files, log)
			uploader, err := ingestion.NewUploader(files, a.store, log)
			if err != nil {
				return fmt.Errorf("upload: %w", err)
			}

			f, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("upload: %w", err)
			}
			defer f.Close()
			info, err := f.Stat()
			if err != nil {
				return fmt.Errorf("upload: %w", err)
			}

			stored, err := uploader.Upload(ctx, projectID, info.Name(), info.Size(), f)
			if err != nil {
				return fmt.Errorf("upload: %w", err)
			}
			return printJSON(stored)
		},
	}
}

// NewProcessCmd constructs `ragindex process`, which runs the
// process-then-index workflow in-process and waits for the last stage.
func NewProcessCmd() *cobra.Command {
	var req ingestion.Request

	cmd := &cobra.Command{
		Use:   "process <project_id>",
		Short: "Split a project's files into chunks, then index them",
		Long: `Run the two-stage workflow for a project: file processing followed by
indexing. The workflow goes through the task ledger, so re-running it with
the same arguments after a success does not repeat the work.

Examples:
  ragindex process p1
  ragindex process p1 --file-id 3f2a_notes.txt --chunk-size 400 --overlap 40
  ragindex process p1 --reset`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := waitContext(cmd)
			defer stop()
			req.ProjectID = args[0]

			a, err := buildPipeline(ctx)
			if err != nil {
				return fmt.Errorf("process: %w", err)
			}
			defer a.shutdown()

			id, err := a.coordinator.SubmitWorkflow(ctx, req)
			if err != nil {
				return fmt.Errorf("process: %w", err)
			}
			log.Info("workflow submitted", "task_id", id)

			st, err := a.dispatcher.WaitChain(ctx, id)
			if err != nil {
				return fmt.Errorf("process: %w", err)
			}
			return reportTask(st)
		},
	}

	cmd.Flags().StringVar(&req.FileID, "file-id", "", "Process only this stored file (default: all files)")
	cmd.Flags().IntVar(&req.ChunkSize, "chunk-size", 100, "Splitter chunk size in characters")
	cmd.Flags().IntVar(&req.Overlap, "overlap", 20, "Splitter overlap in characters")
	cmd.Flags().BoolVar(&req.Reset, "reset", false, "Delete existing chunks and the collection first")

	return cmd
}

// NewIndexCmd constructs `ragindex index`, which embeds a project's stored
// chunks into its collection.
func NewIndexCmd() *cobra.Command {
	var reset bool

	cmd := &cobra.Command{
		Use:   "index <project_id>",
		Short: "Embed a project's stored chunks into its vector collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := waitContext(cmd)
			defer stop()

			a, err := buildPipeline(ctx)
			if err != nil {
				return fmt.Errorf("index: %w", err)
			}
			defer a.shutdown()

			id, err := a.coordinator.SubmitIndex(ctx, indexing.Request{ProjectID: args[0], Reset: reset})
			if err != nil {
				return fmt.Errorf("index: %w", err)
			}
			st, err := a.dispatcher.Wait(ctx, id)
			if err != nil {
				return fmt.Errorf("index: %w", err)
			}
			return reportTask(st)
		},
	}

	cmd.Flags().BoolVar(&reset, "reset", false, "Drop and recreate the collection first")
	return cmd
}

// NewSweepCmd constructs `ragindex sweep`, which deletes old ledger records.
func NewSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete ledger records older than maintenance.retention",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := waitContext(cmd)
			defer stop()

			a, err := buildPipeline(ctx)
			if err != nil {
				return fmt.Errorf("sweep: %w", err)
			}
			defer a.shutdown()

			id, err := a.coordinator.SubmitSweep(ctx)
			if err != nil {
				return fmt.Errorf("sweep: %w", err)
			}
			st, err := a.dispatcher.Wait(ctx, id)
			if err != nil {
				return fmt.Errorf("sweep: %w", err)
			}
			return reportTask(st)
		},
	}
}
