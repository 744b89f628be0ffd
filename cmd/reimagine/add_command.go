package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"reimagine/internal/ipc"
	"reimagine/internal/queue"
)

const fileReadConcurrency = 4

func newAddCommand(ctx *commandContext) *cobra.Command {
	var startAfter bool
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "add <image>...",
		Short: "Add images to the end of the queue in the order given",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			files, err := readImageFiles(cmd.Context(), args)
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.AddFiles(files)
				if err != nil {
					return err
				}
				var started *ipc.StartResponse
				if startAfter {
					if started, err = client.Start(); err != nil {
						return err
					}
				}
				if asJSON {
					return writeJSON(cmd, resp)
				}
				out := cmd.OutOrStdout()
				for _, item := range resp.Items {
					fmt.Fprintf(out, "Queued %s as item #%d\n", item.Name, item.ID)
				}
				if started != nil {
					if started.Started {
						fmt.Fprintln(out, "Batch started")
					} else {
						fmt.Fprintln(out, "Batch already running")
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&startAfter, "start", false, "Start processing after adding")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

// readImageFiles loads and validates every path concurrently. The result keeps
// argument order; any invalid file fails the whole batch.
func readImageFiles(ctx context.Context, paths []string) ([]ipc.File, error) {
	files := make([]ipc.File, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fileReadConcurrency)
	for i, path := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			file, err := readImageFile(path)
			if err != nil {
				return err
			}
			files[i] = file
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return files, nil
}

func readImageFile(path string) (ipc.File, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return ipc.File{}, fmt.Errorf("resolve path: %w", err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ipc.File{}, fmt.Errorf("file does not exist: %s", absPath)
		}
		return ipc.File{}, fmt.Errorf("inspect file: %w", err)
	}
	if info.IsDir() {
		return ipc.File{}, fmt.Errorf("%s is a directory", absPath)
	}
	if info.Size() > queue.MaxSourceBytes {
		return ipc.File{}, fmt.Errorf("%s: %w", absPath, queue.ErrSourceTooBig)
	}
	data, err := os.ReadFile(absPath)
	if err != nil {
		return ipc.File{}, fmt.Errorf("read %s: %w", absPath, err)
	}
	source, err := queue.NewSource(absPath, data, "")
	if err != nil {
		return ipc.File{}, err
	}
	return ipc.File{Name: source.Name, MimeType: source.MIMEType, Data: source.Data}, nil
}
