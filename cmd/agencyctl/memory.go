package main

import (
	"fmt"
	"net/url"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/agencyd/internal/httpapi"
	"github.com/fyrsmithlabs/agencyd/internal/memory"
)

var (
	searchLimit    int
	searchMinScore float32
	listLimit      int
)

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Inspect and manage the scoped user's memories",
}

var memorySearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Semantic search over the user's memories",
	Long: `Semantic search over the scoped user's memories.

Examples:
  agencyctl memory search --tenant acme --user u1 "budget for Globex"`,
	Args: cobra.ExactArgs(1),
	RunE: runMemorySearch,
}

var memoryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the user's memories, most recent first",
	RunE:  runMemoryList,
}

var clearSessionCmd = &cobra.Command{
	Use:   "clear-session <session-id>",
	Short: "Delete the memories created during one session",
	Args:  cobra.ExactArgs(1),
	RunE:  runClearSession,
}

var offboardCmd = &cobra.Command{
	Use:   "offboard-tenant <tenant-id>",
	Short: "Delete every memory belonging to a tenant",
	Long: `Delete every memory belonging to a tenant, across all of its users.
The tenant id must match the --tenant scope; this is the offboarding wipe,
not a cross-tenant admin tool.`,
	Args: cobra.ExactArgs(1),
	RunE: runOffboard,
}

func init() {
	memorySearchCmd.Flags().IntVar(&searchLimit, "limit", 10, "maximum results")
	memorySearchCmd.Flags().Float32Var(&searchMinScore, "min-score", 0, "relevance threshold (0 uses the server default)")
	memoryListCmd.Flags().IntVar(&listLimit, "limit", 50, "maximum results")

	memoryCmd.AddCommand(memorySearchCmd)
	memoryCmd.AddCommand(memoryListCmd)
}

func runMemorySearch(cmd *cobra.Command, args []string) error {
	if err := requireScope(); err != nil {
		return err
	}

	var resp httpapi.MemoriesResponse
	err := doRequest("POST", "/api/v1/memories/search", httpapi.SearchMemoriesRequest{
		Query:    args[0],
		Limit:    searchLimit,
		MinScore: searchMinScore,
	}, &resp)
	if err != nil {
		return err
	}

	printMemories(resp.Memories, true)
	return nil
}

func runMemoryList(cmd *cobra.Command, args []string) error {
	if err := requireScope(); err != nil {
		return err
	}

	var resp httpapi.MemoriesResponse
	if err := doRequest("GET", fmt.Sprintf("/api/v1/memories?limit=%d", listLimit), nil, &resp); err != nil {
		return err
	}

	printMemories(resp.Memories, false)
	return nil
}

func runClearSession(cmd *cobra.Command, args []string) error {
	if err := requireScope(); err != nil {
		return err
	}

	var resp httpapi.ClearedResponse
	path := "/api/v1/sessions/" + url.PathEscape(args[0]) + "/memories"
	if err := doRequest("DELETE", path, nil, &resp); err != nil {
		return err
	}
	fmt.Printf("Cleared %d memories from session %s\n", resp.Cleared, args[0])
	return nil
}

func runOffboard(cmd *cobra.Command, args []string) error {
	if err := requireScope(); err != nil {
		return err
	}

	var resp httpapi.ClearedResponse
	path := "/api/v1/tenants/" + url.PathEscape(args[0]) + "/memories"
	if err := doRequest("DELETE", path, nil, &resp); err != nil {
		return err
	}
	fmt.Printf("Cleared %d memories for tenant %s\n", resp.Cleared, args[0])
	return nil
}

func printMemories(records []memory.Record, withScore bool) {
	if len(records) == 0 {
		fmt.Println("No memories found.")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	if withScore {
		fmt.Fprintln(w, "ID\tTYPE\tSCORE\tCONTENT")
		for _, rec := range records {
			fmt.Fprintf(w, "%s\t%s\t%.2f\t%s\n", rec.ID, rec.Type, rec.Score, truncate(rec.Content, 80))
		}
	} else {
		fmt.Fprintln(w, "ID\tTYPE\tCREATED\tCONTENT")
		for _, rec := range records {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", rec.ID, rec.Type, rec.CreatedAt.Format("2006-01-02"), truncate(rec.Content, 80))
		}
	}
	w.Flush()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
