package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"reimagine/internal/api"
	"reimagine/internal/ipc"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the work queue",
	}

	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueShowCommand(ctx))
	queueCmd.AddCommand(newQueueResultCommand(ctx))
	queueCmd.AddCommand(newQueueRetryCommand(ctx))
	queueCmd.AddCommand(newQueueRemoveCommand(ctx))
	queueCmd.AddCommand(newQueueResetCommand(ctx))
	queueCmd.AddCommand(newQueueClearFinishedCommand(ctx))
	queueCmd.AddCommand(newQueueHealthCommand(ctx))

	return queueCmd
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var listStatuses []string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queue items in processing order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.QueueList(listStatuses)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp)
				}
				out := cmd.OutOrStdout()
				if len(resp.Items) == 0 {
					fmt.Fprintln(out, "Queue is empty")
					return nil
				}
				fmt.Fprintln(out, renderTable(
					[]string{"ID", "Name", "Status", "Size", "Added", "Note"},
					buildQueueListRows(resp.Items),
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVarP(&listStatuses, "status", "s", nil, "Filter by queue status (repeatable)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newQueueShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show <itemID>",
		Short: "Show one queue item including its description",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parsePositiveIDs(args)
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.QueueDescribe(ids[0])
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp.Item)
				}
				printQueueItem(cmd.OutOrStdout(), resp.Item)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func printQueueItem(out io.Writer, item api.QueueItem) {
	fmt.Fprintf(out, "Item #%d: %s\n", item.ID, item.Name)
	fmt.Fprintf(out, "  Status:   %s\n", formatStatusLabel(item.Status))
	fmt.Fprintf(out, "  Source:   %s, %s\n", item.SourceMimeType, formatSize(item.SourceBytes))
	fmt.Fprintf(out, "  Added:    %s\n", formatDisplayTime(item.CreatedAt))
	if item.StartedAt != "" {
		fmt.Fprintf(out, "  Started:  %s\n", formatDisplayTime(item.StartedAt))
	}
	if item.FinishedAt != "" {
		fmt.Fprintf(out, "  Finished: %s\n", formatDisplayTime(item.FinishedAt))
	}
	if item.Result != nil {
		result := fmt.Sprintf("%s (%s)", item.Result.Name, formatSize(item.Result.Bytes))
		if item.Result.URL != "" {
			result += " " + item.Result.URL
		}
		fmt.Fprintf(out, "  Result:   %s\n", result)
	}
	if item.ErrorMessage != "" {
		fmt.Fprintf(out, "  Error:    %s", item.ErrorMessage)
		if item.ErrorKind != "" {
			fmt.Fprintf(out, " [%s]", item.ErrorKind)
		}
		fmt.Fprintln(out)
	}
	if description := strings.TrimSpace(item.Description); description != "" {
		fmt.Fprintln(out)
		fmt.Fprintln(out, description)
	}
}

func newQueueResultCommand(ctx *commandContext) *cobra.Command {
	var outputPath string
	cmd := &cobra.Command{
		Use:   "result <itemID>",
		Short: "Save the generated image of a completed item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parsePositiveIDs(args)
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.QueueResult(ids[0])
				if err != nil {
					return err
				}
				result := resp.Result
				out := cmd.OutOrStdout()
				if len(result.Data) == 0 {
					if result.URL == "" {
						return fmt.Errorf("item %d has no result", ids[0])
					}
					fmt.Fprintf(out, "Result for item %d is hosted at %s\n", ids[0], result.URL)
					return nil
				}
				name := filepath.Base(filepath.Clean("/" + result.Name))
				if name == "/" || name == "." {
					name = fmt.Sprintf("item-%d-result", ids[0])
				}
				target := strings.TrimSpace(outputPath)
				if target == "" {
					target = name
				}
				if info, err := os.Stat(target); err == nil && info.IsDir() {
					target = filepath.Join(target, name)
				}
				if err := os.WriteFile(target, result.Data, 0o644); err != nil {
					return fmt.Errorf("write result: %w", err)
				}
				fmt.Fprintf(out, "Saved %s (%s)\n", target, formatSize(len(result.Data)))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "File or directory to write the image to")
	return cmd
}

func newQueueRetryCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "retry [itemID...]",
		Short: "Return failed items to pending (all failed items when no ids are given)",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parsePositiveIDs(args)
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.QueueRetry(ids)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp.RetryItemsResult)
				}
				printQueueRetryResult(cmd.OutOrStdout(), resp.RetryItemsResult, len(ids) == 0)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func printQueueRetryResult(out io.Writer, result api.RetryItemsResult, all bool) {
	if all {
		fmt.Fprintf(out, "Retried %d failed items\n", result.RetriedCount)
		return
	}
	for _, item := range result.Items {
		switch item.Outcome {
		case api.RetryItemNotFound:
			fmt.Fprintf(out, "Item %d not found\n", item.ID)
		case api.RetryItemNotFailed:
			fmt.Fprintf(out, "Item %d is not in failed state\n", item.ID)
		case api.RetryItemRetried:
			fmt.Fprintf(out, "Item %d reset for retry\n", item.ID)
		}
	}
}

func newQueueRemoveCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "remove <itemID>...",
		Short: "Remove items that are not being processed",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parsePositiveIDs(args)
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.QueueRemove(ids)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp.RemoveItemsResult)
				}
				printQueueRemoveResult(cmd.OutOrStdout(), resp.RemoveItemsResult)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func printQueueRemoveResult(out io.Writer, result api.RemoveItemsResult) {
	for _, item := range result.Items {
		switch item.Outcome {
		case api.RemoveItemNotFound:
			fmt.Fprintf(out, "Item %d not found\n", item.ID)
		case api.RemoveItemActive:
			fmt.Fprintf(out, "Item %d is being processed and cannot be removed\n", item.ID)
		case api.RemoveItemRemoved:
			fmt.Fprintf(out, "Item %d removed\n", item.ID)
		}
	}
}

func newQueueResetCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Remove every item (only while no batch is running)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.QueueReset()
				if err != nil {
					return err
				}
				return reportBulkAction(cmd.OutOrStdout(), resp.BulkActionResult)
			})
		},
	}
}

func newQueueClearFinishedCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clear-finished",
		Short: "Remove completed and failed items (only while no batch is running)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.QueueClearFinished()
				if err != nil {
					return err
				}
				return reportBulkAction(cmd.OutOrStdout(), resp.BulkActionResult)
			})
		},
	}
}

// errBulkRejected is returned when the daemon refuses a queue-wide action.
var errBulkRejected = errors.New("stop the batch and wait for the current item before retrying")

func reportBulkAction(out io.Writer, result api.BulkActionResult) error {
	if !result.Applied {
		return fmt.Errorf("%s: %w", result.Message, errBulkRejected)
	}
	fmt.Fprintln(out, result.Message)
	return nil
}

func newQueueHealthCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show in-memory store diagnostics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				health, err := client.DatabaseHealth()
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Driver: %s\n", health.Driver)
				fmt.Fprintf(out, "Schema version: %d\n", health.SchemaVersion)
				fmt.Fprintf(out, "Table present: %s\n", yesNo(health.TableExists))
				fmt.Fprintf(out, "Integrity check: %s\n", yesNo(health.IntegrityCheck))
				fmt.Fprintf(out, "Total items: %d\n", health.TotalItems)
				if len(health.MissingColumns) > 0 {
					fmt.Fprintf(out, "Missing columns: %s\n", strings.Join(health.MissingColumns, ", "))
				}
				if health.Error != "" {
					fmt.Fprintf(out, "Error: %s\n", health.Error)
				}
				return nil
			})
		},
	}
}

func parsePositiveIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, arg := range args {
		id, err := strconv.ParseInt(strings.TrimSpace(arg), 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid item id %q", arg)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
