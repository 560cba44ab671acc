// Package main implements the agencyctl CLI for manual operations against
// the agencyd HTTP API.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	serverURL string
	tenantID  string
	userID    string
	clientID  string

	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "agencyctl",
	Short: "CLI for agencyd operations",
	Long: `agencyctl is a command-line interface for the agencyd HTTP API.
It provides commands for inspecting and managing tenant memories.

Every command except health requires --tenant and --user; the server
refuses unscoped requests.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8085", "agencyd server URL")
	rootCmd.PersistentFlags().StringVar(&tenantID, "tenant", "", "tenant id (X-Tenant-ID)")
	rootCmd.PersistentFlags().StringVar(&userID, "user", "", "user id (X-User-ID)")
	rootCmd.PersistentFlags().StringVar(&clientID, "client", "", "client id (X-Client-ID, optional)")

	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(memoryCmd)
	rootCmd.AddCommand(clearSessionCmd)
	rootCmd.AddCommand(offboardCmd)
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check agencyd server health",
	RunE:  runHealth,
}

func runHealth(cmd *cobra.Command, args []string) error {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", serverURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(body))
	}

	var health struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	fmt.Printf("Server Status: %s\n", health.Status)
	fmt.Printf("Server URL: %s\n", serverURL)
	return nil
}

// requireScope validates the scope flags before a scoped request.
func requireScope() error {
	if tenantID == "" || userID == "" {
		return fmt.Errorf("--tenant and --user are required")
	}
	return nil
}

// doRequest performs one scoped API request and decodes the JSON response
// into out (skipped when out is nil or the server returns 204).
func doRequest(method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequest(method, serverURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-ID", tenantID)
	req.Header.Set("X-User-ID", userID)
	if clientID != "" {
		req.Header.Set("X-Client-ID", clientID)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request to %s: %w", serverURL+path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(raw))
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
