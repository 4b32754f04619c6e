package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/pflag"

	"github.com/idanyas/speedcheck/internal/app"
	"github.com/idanyas/speedcheck/internal/client"
	"github.com/idanyas/speedcheck/internal/config"
	"github.com/idanyas/speedcheck/internal/output"
)

var (
	version       = "DEV"
	serverURL     = pflag.StringP("server", "u", "", "Base URL of the speed test API (default from config or SPEEDCHECK_API_URL).")
	jsonOutput    = pflag.BoolP("json", "j", false, "Output results in JSON format.")
	ipv4          = pflag.BoolP("ipv4", "4", false, "Use IPv4 only connection.")
	ipv6          = pflag.BoolP("ipv6", "6", false, "Use IPv6 only connection.")
	interfaceName = pflag.StringP("interface", "I", "", "Network interface or source IP address to use.")
	insecure      = pflag.Bool("insecure", false, "Skip TLS certificate verification (UNSAFE).")
	timeout       = pflag.Int("timeout", 0, "Per-request timeout in seconds (0 disables it).")
	noCheck       = pflag.Bool("no-check", false, "Skip the server health check before testing.")
	interactive   = pflag.BoolP("interactive", "i", false, "Offer to run again or show history after each test.")
	configPath    = pflag.StringP("config", "c", "", "Path to a YAML config file.")
)

func main() {
	pflag.Usage = func() {
		out := os.Stderr
		fmt.Fprintf(out, "Usage: %s [options...]\n\n", os.Args[0])
		fmt.Fprintln(out, "Measure latency, download and upload speed against a speedcheck server.")
		fmt.Fprintln(out, "\nOptions:")
		pflag.PrintDefaults()
		fmt.Fprintf(out, "\nVersion: %s\n", version)
	}
	pflag.CommandLine.Init(os.Args[0], pflag.ContinueOnError)
	err := pflag.CommandLine.Parse(os.Args[1:])
	if err != nil {
		if err == pflag.ErrHelp {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "\nError parsing flags: %v\n", err)
		os.Exit(2)
	}

	if *ipv4 && *ipv6 {
		fmt.Fprintln(os.Stderr, "Error: --ipv4 (-4) and --ipv6 (-6) flags cannot be used together.")
		os.Exit(2)
	}
	if *interactive && *jsonOutput {
		fmt.Fprintln(os.Stderr, "Error: --interactive (-i) cannot be combined with --json (-j).")
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(2)
	}
	applyFlags(&cfg.Client)

	output.PrintHeader(*jsonOutput, version)

	if cfg.Client.Insecure && !*jsonOutput {
		yellow := color.New(color.FgYellow).FprintfFunc()
		yellow(os.Stderr, "Warning: Skipping TLS certificate verification (--insecure). This is potentially unsafe!\n")
	}

	httpClient, err := client.NewHTTPClient(client.Options{
		IPv4Only:  *ipv4,
		IPv6Only:  *ipv6,
		Interface: *interfaceName,
		Insecure:  cfg.Client.Insecure,
		Timeout:   time.Duration(cfg.Client.Timeout) * time.Second,
		UserAgent: "speedcheck/" + version,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating HTTP client: %v\n", err)
		handleClientError(err, *interfaceName)
		os.Exit(1)
	}

	api, err := client.NewAPI(cfg.Client.APIURL, httpClient)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !*noCheck {
		health, err := api.Health(ctx)
		if err != nil || health.Status != "ok" {
			fmt.Fprintf(os.Stderr, "Error: %s\n", app.MsgServerUnreachable)
			if err != nil {
				handleClientError(err, *interfaceName)
			}
			os.Exit(1)
		}
		output.PrintServerInfo(api.BaseURL(), health, *jsonOutput)
	} else {
		output.PrintServerInfo(api.BaseURL(), nil, *jsonOutput)
	}

	opts := app.DefaultOptions()
	// The server was checked once above; runs go straight to the probes.
	opts.CheckHealth = false
	if !*interactive {
		opts.DisplayDelay = 0
	}
	engine := app.New(api, opts)

	for {
		report, err := runOnce(ctx, engine)
		if err != nil {
			if ctx.Err() != nil {
				os.Exit(130)
			}
			handleClientError(err, *interfaceName)
			if !cfg.Client.Insecure && (strings.Contains(err.Error(), "certificate") || strings.Contains(err.Error(), "tls")) {
				fmt.Fprintln(os.Stderr, "Hint: If you trust the network, try the --insecure flag (use with caution).")
			}
			if !*interactive {
				os.Exit(1)
			}
		} else if *jsonOutput {
			if err := output.OutputJSON(report.Result(api.BaseURL())); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
		} else {
			output.PrintReport(report, false)
		}

		if !*interactive {
			return
		}

		for done := false; !done; {
			fmt.Println()
			switch output.SelectAction() {
			case output.ActionRunAgain:
				done = true
			case output.ActionHistory:
				h := engine.History()
				if err := output.PrintHistory(h.Records(), h.Average(), false); err != nil {
					fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				}
			default:
				return
			}
		}
	}
}

func applyFlags(c *config.ClientConfig) {
	if *serverURL != "" {
		c.APIURL = *serverURL
	}
	if pflag.CommandLine.Changed("insecure") {
		c.Insecure = *insecure
	}
	if pflag.CommandLine.Changed("timeout") {
		c.Timeout = *timeout
	}
}

// runOnce drives one engine run while the progress line follows its states.
func runOnce(ctx context.Context, engine *app.Engine) (*app.Report, error) {
	states := make(chan app.State)
	last := output.ProgressReporter(states, *jsonOutput)

	report, err := engine.Run(ctx, states)
	close(states)
	final := <-last

	if err != nil && !errors.Is(err, context.Canceled) {
		output.PrintFailure(final, *jsonOutput)
		fmt.Fprintf(os.Stderr, "Error during speed test: %v\n", err)
	}
	return report, err
}

func handleClientError(err error, iface string) {
	var dnsErr *net.DNSError
	if strings.Contains(err.Error(), "failed to find interface") {
		fmt.Fprintln(os.Stderr, "Hint: Ensure the specified interface name exists and is correct.")
	} else if strings.Contains(err.Error(), "no suitable") {
		fmt.Fprintf(os.Stderr, "Hint: Check if interface %q has an IP address matching the requested family (IPv4/IPv6).\n", iface)
	} else if errors.As(err, &dnsErr) || strings.Contains(err.Error(), "DNS failed") {
		fmt.Fprintln(os.Stderr, "Hint: Check network connectivity and DNS settings. Try forcing IPv4 (-4) or IPv6 (-6).")
	} else if errors.Is(err, client.ErrUnexpectedStatus) {
		fmt.Fprintln(os.Stderr, "Hint: The server rejected the request. Check that --server points at the /api base URL.")
	} else if strings.Contains(err.Error(), "connection refused") || strings.Contains(err.Error(), "dial tcp") {
		fmt.Fprintln(os.Stderr, "Hint: Check that the speedcheck server is running and reachable, or try a source IP/interface with -I.")
	}
}
