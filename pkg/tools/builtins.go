package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// braveEndpoint is a var so tests can point it at a local server
var braveEndpoint = "https://api.search.brave.com/res/v1/web/search"

// BuiltinOptions configures the baseline tool set
type BuiltinOptions struct {
	Bash       BashOptions
	HTTPClient *http.Client
}

// RegisterBuiltins registers the baseline tools every agent carries:
// bash, think, and web_search.
func RegisterBuiltins(reg *Registry, opts BuiltinOptions) error {
	if reg == nil {
		return errors.New("tool registry is required")
	}

	defs := []Definition{
		BashTool(opts.Bash),
		ThinkTool(),
		WebSearchTool(opts.HTTPClient),
	}

	for _, def := range defs {
		if err := reg.Register(def); err != nil {
			return fmt.Errorf("failed to register tool %s: %w", def.Name, err)
		}
	}
	return nil
}

// ThinkTool records a reasoning step. It gives the model a scratchpad turn
// without side effects.
func ThinkTool() Definition {
	return Definition{
		Name:        "think",
		Description: "Think through the problem step by step. Use this to plan your approach before taking actions.",
		Parameters: []Parameter{
			{Name: "thought", Type: "string", Description: "Your thought or reasoning step", Required: true},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
			thought, _ := args["thought"].(string)
			return fmt.Sprintf("Thought recorded: %s", thought), nil
		},
	}
}

type braveResponse struct {
	Web struct {
		Results []struct {
			Title       string `json:"title"`
			URL         string `json:"url"`
			Description string `json:"description"`
		} `json:"results"`
	} `json:"web"`
}

// WebSearchTool searches the web through the Brave Search API. The key is
// read from BRAVE_API_KEY at call time. A nil client gets a 15 second
// timeout default.
func WebSearchTool(client *http.Client) Definition {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}

	return Definition{
		Name:        "web_search",
		Description: "Search the web for information. Use this to find current information, documentation, or answers to questions.",
		Parameters: []Parameter{
			{Name: "query", Type: "string", Description: "The search query string", Required: true},
			{Name: "count", Type: "integer", Description: "Number of results to return (max 20, default 10)", Required: false, Default: 10},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
			query, _ := args["query"].(string)
			count := 10
			if raw, ok := args["count"].(float64); ok && raw > 0 {
				count = int(raw)
			}
			if count > 20 {
				count = 20
			}

			return braveSearch(ctx, client, query, count), nil
		},
	}
}

// braveSearch renders search results or a textual error for the model
func braveSearch(ctx context.Context, client *http.Client, query string, count int) string {
	apiKey := os.Getenv("BRAVE_API_KEY")
	if apiKey == "" {
		return "Error: BRAVE_API_KEY not found in environment variables"
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("count", strconv.Itoa(count))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, braveEndpoint+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Sprintf("Error: %v", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", apiKey)

	resp, err := client.Do(req)
	if err != nil {
		if isTimeout(err) {
			return "Error: Search request timed out"
		}
		return fmt.Sprintf("Error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Sprintf("Error: Search API returned status %d", resp.StatusCode)
	}

	var data braveResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return fmt.Sprintf("Error: %v", err)
	}

	results := make([]string, 0, count)
	for idx, result := range data.Web.Results {
		if idx >= count {
			break
		}
		title := result.Title
		if title == "" {
			title = "No title"
		}
		description := result.Description
		if description == "" {
			description = "No description"
		}
		results = append(results, fmt.Sprintf("%d. %s\n   URL: %s\n   %s", idx+1, title, result.URL, description))
	}

	if len(results) == 0 {
		return fmt.Sprintf("No results found for: %s", query)
	}
	return fmt.Sprintf("Search results for '%s':\n\n%s", query, strings.Join(results, "\n\n"))
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr) && netErr.Timeout()
}
