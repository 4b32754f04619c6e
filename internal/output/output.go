package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/manifoldco/promptui"

	"github.com/idanyas/speedcheck/internal/app"
	"github.com/idanyas/speedcheck/internal/data"
)

var stdout io.Writer = os.Stdout

func PrintHeader(jsonOutput bool, version string) {
	if jsonOutput {
		return
	}
	cyan := color.New(color.FgCyan)
	cyan.Fprintf(stdout, "\n    speedcheck v%s\n\n", version)
}

func PrintServerInfo(baseURL string, health *data.Health, jsonOutput bool) {
	if jsonOutput {
		return
	}
	cyan := color.New(color.FgCyan).SprintFunc()
	if health == nil {
		fmt.Fprintf(stdout, "%s Server: %s\n\n", cyan("✓"), baseURL)
		return
	}
	uptime := time.Duration(health.Uptime * float64(time.Second)).Round(time.Second)
	fmt.Fprintf(stdout, "%s Server: %s [%s, up %s]\n\n", cyan("✓"), baseURL, health.Status, uptime)
}

func OutputJSON(results *data.TestResult) error {
	jsonData, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling results to JSON: %w", err)
	}
	fmt.Fprintln(stdout, string(jsonData))
	return nil
}

func PrintLatencyInfo(latency *data.LatencyResult, jsonOutput bool) {
	if jsonOutput {
		return
	}
	green := color.New(color.FgGreen).SprintFunc()
	fmt.Fprintf(stdout, "%s Latency: %.2f ms (Jitter: %.2f ms, Min: %.2f ms, Max: %.2f ms)\n",
		green("✓"),
		latency.Avg,
		latency.Jitter,
		latency.Min,
		latency.Max,
	)
	if latency.Failed > 0 {
		yellow := color.New(color.FgYellow).SprintFunc()
		fmt.Fprintf(stdout, "  %s %d of %d pings failed\n", yellow("!"), latency.Failed, len(latency.Samples))
	}
}

func PrintSpeed(name string, speed *data.SpeedResult, jsonOutput bool) {
	if jsonOutput {
		return
	}
	green := color.New(color.FgGreen).SprintFunc()
	fmt.Fprintf(stdout, "%s %s: %.2f Mbps (Used: %s)\n",
		green("✓"),
		name,
		speed.Mbps,
		humanize.IBytes(uint64(speed.Bytes)),
	)
}

func PrintReport(report *app.Report, jsonOutput bool) {
	if jsonOutput {
		return
	}
	PrintLatencyInfo(&report.Latency, false)
	PrintSpeed("Download", &report.Download, false)
	PrintSpeed("Upload", &report.Upload, false)
}

// PrintFailure shows the terminal state of an aborted run together with
// whatever results were measured before the abort.
func PrintFailure(state app.State, jsonOutput bool) {
	if jsonOutput {
		return
	}
	red := color.New(color.FgRed).SprintFunc()
	msg := state.Err
	if msg == "" {
		msg = app.MsgTestFailed
	}
	fmt.Fprintf(os.Stderr, "%s %s\n", red("✗"), msg)

	r := state.Results
	if r.Ping == 0 && r.Download == 0 && r.Upload == 0 {
		return
	}
	fmt.Fprintf(os.Stderr, "  Partial results: %s\n", formatResults(r))
}

func formatResults(r data.Results) string {
	parts := []string{fmt.Sprintf("Ping %.2f ms", r.Ping)}
	if r.Download > 0 {
		parts = append(parts, fmt.Sprintf("Download %.2f Mbps", r.Download))
	}
	if r.Upload > 0 {
		parts = append(parts, fmt.Sprintf("Upload %.2f Mbps", r.Upload))
	}
	return strings.Join(parts, ", ")
}

func PrintHistory(records []data.TestRecord, average data.Results, jsonOutput bool) error {
	if jsonOutput {
		jsonData, err := json.MarshalIndent(records, "", "  ")
		if err != nil {
			return fmt.Errorf("marshaling history to JSON: %w", err)
		}
		fmt.Fprintln(stdout, string(jsonData))
		return nil
	}
	if len(records) == 0 {
		fmt.Fprintln(stdout, "No tests run yet.")
		return nil
	}

	const lineFmt = "%-10s %-16s %12s %12s %10s\n"
	fmt.Fprintf(stdout, lineFmt, "Time", "", "Download", "Upload", "Ping")
	fmt.Fprintf(stdout, "%s %s %s %s %s\n",
		strings.Repeat("-", 10),
		strings.Repeat("-", 16),
		strings.Repeat("-", 12),
		strings.Repeat("-", 12),
		strings.Repeat("-", 10),
	)
	for _, r := range records {
		fmt.Fprintf(stdout, lineFmt,
			r.Timestamp.Local().Format("15:04:05"),
			humanize.Time(r.Timestamp),
			fmt.Sprintf("%.2f Mbps", r.Download),
			fmt.Sprintf("%.2f Mbps", r.Upload),
			fmt.Sprintf("%.1f ms", r.Ping),
		)
	}
	cyan := color.New(color.FgCyan).SprintFunc()
	fmt.Fprint(stdout, cyan(fmt.Sprintf(lineFmt,
		"Average", fmt.Sprintf("(%d tests)", len(records)),
		fmt.Sprintf("%.2f Mbps", average.Download),
		fmt.Sprintf("%.2f Mbps", average.Upload),
		fmt.Sprintf("%.1f ms", average.Ping),
	)))
	return nil
}

// ProgressReporter draws the running phase until states is closed, then
// sends the last state it saw on the returned channel.
func ProgressReporter(states <-chan app.State, jsonOutput bool) <-chan app.State {
	last := make(chan app.State, 1)
	go func() {
		var cur app.State
		defer func() { last <- cur }()

		if jsonOutput {
			for s := range states {
				cur = s
			}
			return
		}

		cyan := color.New(color.FgCyan).SprintFunc()
		spinner := []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}
		i := 0

		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()

		draw := func() {
			if !cur.Phase.Running() {
				fmt.Fprint(stdout, "\r\033[K")
				return
			}
			fmt.Fprintf(stdout, "\r\033[K%s %s %s %3.0f%%",
				cyan(spinner[i%len(spinner)]),
				cur.Message,
				progressBar(cur.Progress, 20),
				cur.Progress,
			)
		}

		for {
			select {
			case s, ok := <-states:
				if !ok {
					fmt.Fprint(stdout, "\r\033[K")
					return
				}
				cur = s
				draw()
			case <-ticker.C:
				i++
				draw()
			}
		}
	}()
	return last
}

func progressBar(progress float64, width int) string {
	filled := int(progress / 100 * float64(width))
	if filled < 0 {
		filled = 0
	}
	if filled > width {
		filled = width
	}
	return "[" + strings.Repeat("#", filled) + strings.Repeat(" ", width-filled) + "]"
}

type Action int

const (
	ActionRunAgain Action = iota
	ActionHistory
	ActionQuit
)

var actionLabels = []string{"Run test again", "Show history", "Quit"}

// SelectAction asks what to do after a run in interactive mode.
func SelectAction() Action {
	templates := &promptui.SelectTemplates{
		Label:    "{{ . }}",
		Active:   `{{ "▸" | cyan }} {{ . | cyan }}`,
		Inactive: "  {{ . }}",
	}

	prompt := promptui.Select{
		Label:        "",
		Items:        actionLabels,
		Templates:    templates,
		HideHelp:     true,
		Stdout:       os.Stdout,
		HideSelected: true,
	}

	i, _, err := prompt.Run()
	if err != nil {
		return ActionQuit
	}

	// Move cursor up one line and clear
	fmt.Fprint(stdout, "\033[1A\033[2K\r")
	return Action(i)
}
