package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/jpalmerr/reachboard"
)

const (
	defaultStatusURL     = "http://localhost:8050"
	defaultStatusTimeout = 5 * time.Second
)

// Terminal palette, ANSI codes.
const (
	colorGood  lipgloss.Color = "2"
	colorLow   lipgloss.Color = "3"
	colorDown  lipgloss.Color = "1"
	colorMuted lipgloss.Color = "8"
)

// statusRow mirrors one entry of the /status response.
type statusRow struct {
	Status       bool     `json:"Status"`
	ResponseTime *float64 `json:"Response_time"`
	LastChecked  string   `json:"Last_checked"`
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the current status of a running dashboard",
	Long: `Fetch the latest snapshot from a running reachboard server and print
it as a table, classified with the given latency threshold.

The command reads the snapshot only; it never triggers a probe.

Example:
  reachboard status
  reachboard status --url http://monitor:8050 --threshold 250ms`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().String("url", defaultStatusURL, "base URL of the reachboard server")
	statusCmd.Flags().Duration("threshold", reachboard.DefaultLatencyThreshold, "latency threshold separating Good from Low")
	statusCmd.Flags().Duration("timeout", defaultStatusTimeout, "request timeout")
}

func runStatus(cmd *cobra.Command, args []string) error {
	baseURL, _ := cmd.Flags().GetString("url")
	threshold, _ := cmd.Flags().GetDuration("threshold")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	rows, err := fetchStatus(ctx, baseURL)
	if err != nil {
		return err
	}

	fmt.Fprint(cmd.OutOrStdout(), renderStatusTable(rows, threshold))
	return nil
}

func fetchStatus(ctx context.Context, baseURL string) (map[string]statusRow, error) {
	endpoint := strings.TrimRight(baseURL, "/") + "/status"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch status: %s returned %d", endpoint, resp.StatusCode)
	}

	var rows map[string]statusRow
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("failed to decode status: %w", err)
	}
	return rows, nil
}

// renderStatusTable renders rows sorted by target name with a summary line.
func renderStatusTable(rows map[string]statusRow, threshold time.Duration) string {
	if len(rows) == 0 {
		return "No observations yet\n"
	}

	styles := map[reachboard.Class]lipgloss.Style{
		reachboard.ClassGood: lipgloss.NewStyle().Foreground(colorGood),
		reachboard.ClassLow:  lipgloss.NewStyle().Foreground(colorLow),
		reachboard.ClassDown: lipgloss.NewStyle().Foreground(colorDown),
	}
	muted := lipgloss.NewStyle().Foreground(colorMuted)

	names := make([]string, 0, len(rows))
	nameWidth := len("TARGET")
	for name := range rows {
		names = append(names, name)
		nameWidth = max(nameWidth, lipgloss.Width(name))
	}
	sort.Strings(names)

	nameCol := lipgloss.NewStyle().Width(nameWidth + 2)
	classCol := lipgloss.NewStyle().Width(8)
	latencyCol := lipgloss.NewStyle().Width(12)

	headerStyle := lipgloss.NewStyle().
		Bold(true).
		BorderStyle(lipgloss.NormalBorder()).
		BorderBottom(true).
		BorderForeground(colorMuted)

	var b strings.Builder
	b.WriteString(headerStyle.Render(
		classCol.Render("STATUS")+nameCol.Render("TARGET")+latencyCol.Render("LATENCY")+"LAST CHECKED",
	) + "\n")

	counts := make(map[reachboard.Class]int, 3)
	for _, name := range names {
		row := rows[name]
		class := reachboard.Classify(reachboard.Observation{
			TargetName: name,
			Reachable:  row.Status,
			LatencyMs:  row.ResponseTime,
		}, threshold)
		counts[class]++

		latency := "-"
		if row.ResponseTime != nil {
			latency = fmt.Sprintf("%.1f ms", *row.ResponseTime)
		}

		b.WriteString(classCol.Render(styles[class].Render(class.String())))
		b.WriteString(nameCol.Render(name))
		b.WriteString(latencyCol.Render(latency))
		b.WriteString(muted.Render(row.LastChecked))
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "\n%d targets: %d good, %d low, %d down\n",
		len(rows), counts[reachboard.ClassGood], counts[reachboard.ClassLow], counts[reachboard.ClassDown])
	return b.String()
}
