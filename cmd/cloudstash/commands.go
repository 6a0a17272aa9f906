package main

import (
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"cloudstash/internal/models"
)

func init() {
	rootCmd.AddCommand(
		newUploadCmd(),
		newDownloadCmd(),
		newListCmd(),
		newMkdirCmd(),
		newRemoveCmd(),
		newExistsCmd(),
		newStatusCmd(),
	)
}

// withApp wires the application for the duration of one command.
func withApp(run func(cmd *cobra.Command, a *app, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		a, err := newApp(cmd.Context(), cmd)
		if err != nil {
			return err
		}
		defer a.close()
		return run(cmd, a, args)
	}
}

// watchProgress prints the stream's events until the returned stop function
// is called.
func watchProgress(a *app, stream models.ProgressStream, label string, out io.Writer) func() {
	events, unsubscribe := a.emitter.Subscribe(stream)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range events {
			fmt.Fprintf(out, "\r%s %3.0f%%", label, ev.Value)
		}
		fmt.Fprintln(out)
	}()
	return func() {
		unsubscribe()
		<-done
	}
}

func localAbs(p string) (string, error) {
	p = strings.TrimPrefix(p, "file://")
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", p, err)
	}
	return abs, nil
}

func printResults(out io.Writer, results []models.TransferResult) {
	for _, r := range results {
		if r.Success {
			fmt.Fprintf(out, "ok    %s\n", r.Path)
		} else {
			fmt.Fprintf(out, "FAIL  %s: %s\n", r.Code, r.Error)
		}
	}
}

func newUploadCmd() *cobra.Command {
	var dest string
	cmd := &cobra.Command{
		Use:   "upload LOCAL...",
		Short: "Upload local files into a container directory",
		Args:  cobra.MinimumNArgs(1),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			locals := make([]string, len(args))
			for i, arg := range args {
				abs, err := localAbs(arg)
				if err != nil {
					return err
				}
				locals[i] = abs
			}

			stop := watchProgress(a, models.StreamUpload, "uploading", cmd.ErrOrStderr())
			if len(locals) == 1 {
				p, err := a.engine.UploadOne(cmd.Context(), path.Join(dest, filepath.Base(locals[0])), locals[0])
				stop()
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), p)
				return nil
			}

			results, err := a.engine.UploadMany(cmd.Context(), dest, locals)
			stop()
			if err != nil {
				return err
			}
			printResults(cmd.OutOrStdout(), results)
			return nil
		}),
	}
	cmd.Flags().StringVarP(&dest, "dest", "d", "", "destination directory, relative to Documents or absolute inside the container")
	return cmd
}

func newDownloadCmd() *cobra.Command {
	var to string
	cmd := &cobra.Command{
		Use:   "download CLOUD...",
		Short: "Download container items into a local directory",
		Args:  cobra.MinimumNArgs(1),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			dir, err := localAbs(to)
			if err != nil {
				return err
			}

			stop := watchProgress(a, models.StreamDownload, "downloading", cmd.ErrOrStderr())
			if len(args) == 1 {
				p, err := a.engine.DownloadOne(cmd.Context(), args[0], dir)
				stop()
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), p)
				return nil
			}

			results, err := a.engine.DownloadMany(cmd.Context(), args, dir)
			stop()
			if err != nil {
				return err
			}
			printResults(cmd.OutOrStdout(), results)
			return nil
		}),
	}
	cmd.Flags().StringVarP(&to, "to", "t", ".", "local destination directory")
	return cmd
}

func newListCmd() *cobra.Command {
	var full bool
	cmd := &cobra.Command{
		Use:   "ls [PATH]",
		Short: "List a container directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			var p string
			if len(args) == 1 {
				p = args[0]
			}
			entries, err := a.engine.List(p, full)
			if err != nil {
				return err
			}
			for _, entry := range entries {
				fmt.Fprintln(cmd.OutOrStdout(), entry)
			}
			return nil
		}),
	}
	cmd.Flags().BoolVarP(&full, "full", "f", false, "print absolute paths")
	return cmd
}

func newMkdirCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mkdir PATH",
		Short: "Create a container directory and any missing parents",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			return a.engine.CreateDirectory(args[0])
		}),
	}
}

func newRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm ABSOLUTE_PATH",
		Short: "Remove a container item and everything below it",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			return a.engine.Remove(cmd.Context(), args[0])
		}),
	}
}

func newExistsCmd() *cobra.Command {
	var dir bool
	cmd := &cobra.Command{
		Use:   "exists PATH",
		Short: "Report whether a container path exists",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			ok, err := a.engine.Exists(args[0], dir)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), ok)
			return nil
		}),
	}
	cmd.Flags().BoolVar(&dir, "dir", false, "require a directory")
	return cmd
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show container availability and transfer history",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			out := cmd.OutOrStdout()

			root, ok := a.engine.DefaultContainerPath()
			if !ok {
				fmt.Fprintln(out, "container:  unavailable")
			} else {
				fmt.Fprintf(out, "container:  %s\n", root)
				res := a.gatekeeper.GetResourceStatus(root)
				fmt.Fprintf(out, "free space: %s\n", humanize.IBytes(res.FreeBytes))
			}

			summary, err := a.engine.TransferSummary()
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "transfers:  %d total, %d succeeded, %d failed, %d in flight\n",
				summary.TotalTransfers, summary.SucceededTransfers, summary.FailedTransfers, summary.InFlightTransfers)
			return nil
		}),
	}
}
