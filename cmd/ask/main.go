package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	version = "dev"

	// Global flags
	serverURL      string
	conversationID string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "ask",
	Short:   "Query the SourceMind pipeline from the command line",
	Version: version,
}

var queryCmd = &cobra.Command{
	Use:   "query [question]",
	Short: "Resolve a question and print the cited answer",
	Long: `Resolve a question through the full pipeline and print
the answer with its citations.

Examples:
  # One-off question
  ask query "What is the boiling point of gallium?"

  # Continue an existing conversation
  ask query --conversation 6f1f... "And its melting point?"`,
	Args: cobra.ExactArgs(1),
	RunE: runQuery,
}

var historyCmd = &cobra.Command{
	Use:   "history [conversation-id]",
	Short: "Print the stored messages of a conversation",
	Args:  cobra.ExactArgs(1),
	RunE:  showHistory,
}

var forgetCmd = &cobra.Command{
	Use:   "forget [source-name]",
	Short: "Remove all indexed chunks for a source",
	Args:  cobra.ExactArgs(1),
	RunE:  forgetSource,
}

func init() {
	defaultURL := os.Getenv("SOURCEMIND_URL")
	if defaultURL == "" {
		defaultURL = "http://localhost:9020"
	}
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", defaultURL, "sourcemind server URL")

	queryCmd.Flags().StringVar(&conversationID, "conversation", "", "conversation id to continue")

	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(forgetCmd)
}

func newClient() *http.Client {
	return &http.Client{Timeout: 5 * time.Minute}
}

type citationView struct {
	SourceName     string  `json:"source_name"`
	PageNumber     *int    `json:"page_number"`
	Excerpt        string  `json:"excerpt"`
	RelevanceScore float64 `json:"relevance_score"`
	URL            string  `json:"url,omitempty"`
}

func runQuery(cmd *cobra.Command, args []string) error {
	payload, err := json.Marshal(map[string]string{
		"query":           args[0],
		"conversation_id": conversationID,
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	resp, err := newClient().Post(serverURL+"/v1/query/resolve", "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("send query: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned status %d", resp.StatusCode)
	}

	var result struct {
		Answer         string         `json:"answer"`
		Citations      []citationView `json:"citations"`
		ConversationID string         `json:"conversation_id"`
		QueryType      string         `json:"query_type"`
		UsedWebSearch  bool           `json:"used_web_search"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	fmt.Println(result.Answer)
	if len(result.Citations) > 0 {
		fmt.Println()
		for i, c := range result.Citations {
			loc := ""
			if c.PageNumber != nil {
				loc = fmt.Sprintf(", p.%d", *c.PageNumber)
			}
			fmt.Printf("  [%d] %s%s (%.2f)\n", i+1, c.SourceName, loc, c.RelevanceScore)
			if c.URL != "" {
				fmt.Printf("      %s\n", c.URL)
			}
		}
	}
	fmt.Printf("\nconversation: %s  type: %s  web: %v\n",
		result.ConversationID, result.QueryType, result.UsedWebSearch)
	return nil
}

func showHistory(cmd *cobra.Command, args []string) error {
	resp, err := newClient().Get(serverURL + "/v1/conversations/" + args[0] + "/messages")
	if err != nil {
		return fmt.Errorf("fetch history: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned status %d", resp.StatusCode)
	}

	var result struct {
		ConversationID string `json:"conversation_id"`
		Messages       []struct {
			Role      string `json:"role"`
			Content   string `json:"content"`
			CreatedAt string `json:"created_at"`
		} `json:"messages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	for _, msg := range result.Messages {
		fmt.Printf("[%s] %s\n%s\n\n", msg.CreatedAt, msg.Role, msg.Content)
	}
	return nil
}

func forgetSource(cmd *cobra.Command, args []string) error {
	payload, err := json.Marshal(map[string]string{"source_name": args[0]})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	resp, err := newClient().Post(serverURL+"/internal/index/delete", "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("delete source: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned status %d", resp.StatusCode)
	}

	fmt.Printf("Deleted indexed chunks for %q\n", args[0])
	return nil
}
