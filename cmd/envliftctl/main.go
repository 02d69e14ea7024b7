// envliftctl is the administrative CLI for the envlift service: preview and
// execute promotions, roll them back, sweep test data and approve items.
package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"
)

const sampleItemLimit = 10

var (
	flagAddr  string
	flagToken string
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "envliftctl",
		Short:         "Administer environment promotions",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flagAddr, "addr", envOr("ENVLIFT_ADDR", "localhost:8074"), "service address")
	root.PersistentFlags().StringVar(&flagToken, "token", os.Getenv("ENVLIFT_TOKEN"), "bearer token")

	root.AddCommand(previewCmd(), executeCmd(), rollbackCmd(), scanCmd(), approveCmd())
	return root
}

func client() *apiClient {
	return newAPIClient(flagAddr, flagToken)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

type candidateView struct {
	ID        string   `json:"id"`
	Label     string   `json:"label"`
	SizeBytes int64    `json:"sizeBytes"`
	Errors    []string `json:"errors"`
	Warnings  []string `json:"warnings"`
}

type previewView struct {
	TotalCount     int             `json:"totalCount"`
	TotalSizeBytes int64           `json:"totalSizeBytes"`
	Items          []candidateView `json:"items"`
	Errors         []string        `json:"errors"`
	Warnings       []string        `json:"warnings"`
	IsValid        bool            `json:"isValid"`
}

func previewCmd() *cobra.Command {
	var itemIDs []string
	cmd := &cobra.Command{
		Use:   "preview <type> <sourceEnv> <targetEnv>",
		Short: "Report what a promotion would do without moving anything",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			var pv previewView
			err := client().postJSON("/lifecycle/promotions/preview", map[string]interface{}{
				"type":              args[0],
				"sourceEnvironment": args[1],
				"targetEnvironment": args[2],
				"itemIds":           itemIDs,
			}, &pv)
			if err != nil {
				return err
			}

			fmt.Printf("Items:      %d\n", pv.TotalCount)
			fmt.Printf("Total size: %d bytes\n", pv.TotalSizeBytes)
			for i, item := range pv.Items {
				if i == sampleItemLimit {
					fmt.Printf("  ... and %d more\n", pv.TotalCount-sampleItemLimit)
					break
				}
				fmt.Printf("  %s  %s (%d bytes)\n", item.ID, item.Label, item.SizeBytes)
			}
			printList("Warnings", pv.Warnings)
			printList("Errors", pv.Errors)
			fmt.Printf("Valid: %t\n", pv.IsValid)
			if !pv.IsValid {
				return fmt.Errorf("promotion would not be valid")
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&itemIDs, "item-ids", nil, "restrict to specific item ids")
	return cmd
}

type resultView struct {
	PromotionID     string            `json:"promotionId"`
	Status          string            `json:"status"`
	SuccessCount    int               `json:"successCount"`
	ErrorCount      int               `json:"errorCount"`
	Errors          map[string]string `json:"errors"`
	DurationSeconds float64           `json:"durationSeconds"`
}

func executeCmd() *cobra.Command {
	var (
		userID  string
		reason  string
		itemIDs []string
	)
	cmd := &cobra.Command{
		Use:   "execute <type> <sourceEnv> <targetEnv>",
		Short: "Run a promotion",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			var res resultView
			err := client().postJSON("/lifecycle/promotions/execute", map[string]interface{}{
				"type":              args[0],
				"sourceEnvironment": args[1],
				"targetEnvironment": args[2],
				"promotedByUserId":  userID,
				"reason":            reason,
				"itemIds":           itemIDs,
			}, &res)
			if err != nil {
				return err
			}

			fmt.Printf("Promotion: %s\n", res.PromotionID)
			fmt.Printf("Status:    %s\n", res.Status)
			fmt.Printf("Succeeded: %d\n", res.SuccessCount)
			fmt.Printf("Failed:    %d\n", res.ErrorCount)
			fmt.Printf("Duration:  %.2fs\n", res.DurationSeconds)
			printErrorMap(res.Errors)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user-id", "", "id of the promoting user (required)")
	cmd.Flags().StringVar(&reason, "reason", "", "why this promotion is happening")
	cmd.Flags().StringSliceVar(&itemIDs, "item-ids", nil, "restrict to specific item ids")
	_ = cmd.MarkFlagRequired("user-id")
	return cmd
}

func rollbackCmd() *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "rollback <promotionId>",
		Short: "Undo a completed promotion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var run struct {
				Status       string `json:"status"`
				RolledBackAt string `json:"rolledBackAt"`
			}
			err := client().postJSON("/lifecycle/promotions/"+args[0]+"/rollback", map[string]interface{}{
				"rolledBackByUserId": userID,
			}, &run)
			if err != nil {
				return err
			}
			fmt.Printf("Promotion %s rolled back (status %s)\n", args[0], run.Status)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user-id", "", "id of the rolling-back user (required)")
	_ = cmd.MarkFlagRequired("user-id")
	return cmd
}

func scanCmd() *cobra.Command {
	var batchSize int
	cmd := &cobra.Command{
		Use:   "scan-test-data <environment> <type>",
		Short: "Sweep an environment for synthetic records and flag them",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var report struct {
				Scanned       int `json:"scanned"`
				Marked        int `json:"markedAsTest"`
				AlreadyMarked int `json:"alreadyMarked"`
				Errors        int `json:"errors"`
			}
			err := client().postJSON("/lifecycle/test-data/scan", map[string]interface{}{
				"environment": args[0],
				"type":        args[1],
				"batchSize":   batchSize,
			}, &report)
			if err != nil {
				return err
			}
			fmt.Printf("Scanned:        %d\n", report.Scanned)
			fmt.Printf("Marked as test: %d\n", report.Marked)
			fmt.Printf("Already marked: %d\n", report.AlreadyMarked)
			fmt.Printf("Errors:         %d\n", report.Errors)
			return nil
		},
	}
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "records per sweep (server default when 0)")
	return cmd
}

func approveCmd() *cobra.Command {
	var env string
	cmd := &cobra.Command{
		Use:   "approve <type> <itemId>",
		Short: "Approve an item for promotion",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := fmt.Sprintf("/lifecycle/items/%s/%s/approve", args[0], args[1])
			if env != "" {
				path += "?environment=" + env
			}
			if err := client().postJSON(path, struct{}{}, nil); err != nil {
				return err
			}
			fmt.Printf("Approved %s %s\n", args[0], args[1])
			return nil
		},
	}
	cmd.Flags().StringVar(&env, "environment", "", "environment the item lives in (server default when empty)")
	return cmd
}

func printList(header string, entries []string) {
	if len(entries) == 0 {
		return
	}
	fmt.Printf("%s:\n", header)
	for _, e := range entries {
		fmt.Printf("  - %s\n", e)
	}
}

// printErrorMap always prints every per-item error so partial failures are
// never hidden behind a success banner.
func printErrorMap(errs map[string]string) {
	if len(errs) == 0 {
		return
	}
	ids := make([]string, 0, len(errs))
	for id := range errs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	fmt.Println("Item errors:")
	for _, id := range ids {
		fmt.Printf("  %s: %s\n", id, errs[id])
	}
}
