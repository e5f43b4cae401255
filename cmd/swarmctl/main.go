package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var apiAddr string

var rootCmd = &cobra.Command{
	Use:   "swarmctl",
	Short: "Inspect a running swarmd",
	Long:  "swarmctl queries the swarmd inspection API: persona state, rate limits, journal streams and coordinator diagnostics.",
}

var personasCmd = &cobra.Command{
	Use:   "personas [id]",
	Short: "Show persona snapshots",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "/api/personas"
		if len(args) == 1 {
			path += "/" + args[0]
		}
		return getJSON(cmd.OutOrStdout(), path)
	},
}

var journalCmd = &cobra.Command{
	Use:   "journal <stream>",
	Short: "List journal records for a stream (events, dispatches, decisions, errors)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		agent, _ := cmd.Flags().GetString("agent")
		path := fmt.Sprintf("/api/journal/%s?limit=%d", args[0], limit)
		if agent != "" {
			path += "&agent=" + agent
		}
		return getJSON(cmd.OutOrStdout(), path)
	},
}

var diagnosticsCmd = &cobra.Command{
	Use:   "diagnostics",
	Short: "Show daemon diagnostics",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getJSON(cmd.OutOrStdout(), "/api/diagnostics")
	},
}

var sendCmd = &cobra.Command{
	Use:   "send <context-id> <body>",
	Short: "Inject an occurrence, scoring it equally for every listed persona",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		personas, _ := cmd.Flags().GetStringSlice("to")
		priority, _ := cmd.Flags().GetFloat64("priority")
		if len(personas) == 0 {
			return fmt.Errorf("--to is required")
		}
		priorities := map[string]float64{}
		for _, id := range personas {
			priorities[id] = priority
		}
		payload := map[string]any{
			"context_id": args[0],
			"body":       args[1],
			"priorities": priorities,
		}
		return postJSON(cmd.OutOrStdout(), "/api/events", payload)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&apiAddr, "addr", envOr("SWARM_API_ADDR", "http://localhost:8080"), "swarmd API address")
	journalCmd.Flags().Int("limit", 20, "max records")
	journalCmd.Flags().String("agent", "", "filter by persona id")
	sendCmd.Flags().StringSlice("to", nil, "persona ids to deliver to")
	sendCmd.Flags().Float64("priority", 0.5, "priority score in [0,1]")

	rootCmd.AddCommand(personasCmd, journalCmd, diagnosticsCmd, sendCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func getJSON(out io.Writer, path string) error {
	resp, err := http.Get(apiAddr + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return render(out, resp)
}

func postJSON(out io.Writer, path string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	resp, err := http.Post(apiAddr+path, "application/json", bytes.NewReader(data))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return render(out, resp)
}

func render(out io.Writer, resp *http.Response) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, body, "", "  "); err != nil {
		_, _ = out.Write(body)
		return nil
	}
	_, _ = fmt.Fprintln(out, pretty.String())
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
