package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/olekukonko/tablewriter"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/user/netscan/internal/engine"
	"github.com/user/netscan/internal/export"
	"github.com/user/netscan/internal/metrics"
	"github.com/user/netscan/internal/model"
	"github.com/user/netscan/internal/probes"
	"github.com/user/netscan/internal/transport"
	"github.com/user/netscan/internal/util"
	"github.com/user/netscan/internal/validate"
)

// scanOptions are the flags shared by the scan and ui commands.
type scanOptions struct {
	mode      string
	startIP   string
	endIP     string
	startPort string
	endPort   string
	output    string
	format    string
}

var scanOpts scanOptions

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan an address range and print the results",
	Long: `Scan an address range and print a table of the hosts found.

Scan types:
  arp   ARP who-has for every address (local segment only)
  icmp  ICMP echo ping sweep
  port  ping sweep, then TCP SYN scan of the hosts that answered

Press Ctrl+C to abort; the hosts found so far are still printed.`,
	Example: `  netscan scan --type arp --start 192.168.1.1 --end 192.168.1.254
  netscan scan --type port --start 10.0.0.5 --start-port 20 --end-port 443 -o hosts.csv`,
	RunE: runScan,
}

func init() {
	addScanFlags(scanCmd, &scanOpts)
}

func addScanFlags(cmd *cobra.Command, o *scanOptions) {
	f := cmd.Flags()
	f.StringVarP(&o.mode, "type", "t", "icmp", "scan type ("+modeNames()+")")
	f.StringVarP(&o.startIP, "start", "s", "", "first IP address of the range")
	f.StringVarP(&o.endIP, "end", "e", "", "last IP address of the range (default: start)")
	f.String("prefix", "", "subnet prefix length both addresses must lie in (default from config: 24)")
	f.String("timeout", "", "ICMP reply timeout in seconds (default from config: 4)")
	f.String("ttl", "", "ICMP time to live (default from config: 128)")
	f.String("interval", "", "seconds between ICMP requests (default from config: 1)")
	f.String("packet-size", "", "ICMP payload size in bytes, at least 24 go on the wire (default from config: 32)")
	f.StringVar(&o.startPort, "start-port", "", "first TCP port (port scans)")
	f.StringVar(&o.endPort, "end-port", "", "last TCP port (default: start port)")
	f.StringVarP(&o.output, "output", "o", "", "export results to this file")
	f.StringVar(&o.format, "format", "", "export format, csv or json (default: from file extension)")
	_ = cmd.MarkFlagRequired("start")
}

func modeNames() string {
	names := make([]string, len(model.Modes))
	for i, m := range model.Modes {
		names[i] = m.String()
	}
	return strings.Join(names, ", ")
}

// flagOr returns the flag value when it was given, fallback otherwise.
func flagOr(cmd *cobra.Command, name, fallback string) string {
	if cmd.Flags().Changed(name) {
		v, _ := cmd.Flags().GetString(name)
		return v
	}
	return fallback
}

func buildRequest(cmd *cobra.Command, o scanOptions) (model.ScanRequest, error) {
	return validate.Request(validate.Input{
		Mode:       o.mode,
		StartIP:    o.startIP,
		EndIP:      o.endIP,
		Prefix:     flagOr(cmd, "prefix", cfg.Prefix),
		Timeout:    flagOr(cmd, "timeout", cfg.Timeout),
		TTL:        flagOr(cmd, "ttl", cfg.TTL),
		Interval:   flagOr(cmd, "interval", cfg.Interval),
		PacketSize: flagOr(cmd, "packet-size", cfg.PacketSize),
		StartPort:  o.startPort,
		EndPort:    o.endPort,
	})
}

// newOrchestrator wires the engine to the network, metrics and the
// configured resolver. The returned stop function shuts down the metrics
// endpoint, if any.
func newOrchestrator() (*engine.Orchestrator, func(), error) {
	logger := util.Logger()
	m := metrics.New()

	var resolver probes.Resolver
	if cfg.DNSServer != "" {
		resolver = probes.NewDNSResolver(cfg.DNSServer, 2*time.Second)
	}

	orch := engine.New(engine.Config{
		Transport: transport.NewRaw(transport.RawConfig{
			Interface:    cfg.Interface,
			Unprivileged: cfg.ICMPUnprivileged,
		}, logger.Named("transport")),
		Resolver:    resolver,
		Logger:      logger.Named("engine"),
		Metrics:     m,
		ARPWindow:   cfg.ARPWindow,
		PortTimeout: cfg.PortTimeout,
	})

	if cfg.MetricsAddr == "" {
		return orch, func() {}, nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			util.Error("Metrics server failed: %v", err)
		}
	}()
	util.Info("Serving metrics on http://%s/metrics", cfg.MetricsAddr)

	stop := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
	return orch, stop, nil
}

func runScan(cmd *cobra.Command, args []string) error {
	req, err := buildRequest(cmd, scanOpts)
	if err != nil {
		return err
	}
	if scanOpts.output != "" {
		if _, err := export.FormatFor(scanOpts.format, scanOpts.output); err != nil {
			return err
		}
	}

	orch, stop, err := newOrchestrator()
	if err != nil {
		return err
	}
	defer stop()

	util.Info("Starting %s of %s", req.Mode.Label(), req.Range)

	if err := orch.Start(req, logEvent); err != nil {
		return err
	}

	// Abort on interrupt; the partial results are still printed.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			util.Warn("Interrupted, aborting scan...")
			orch.Abort()
		case <-orch.Done():
		}
	}()

	out, _ := orch.Wait()
	printOutcome(out)

	if out.Status == engine.StatusFailed {
		return fmt.Errorf("scan failed: %w", out.Err)
	}

	if scanOpts.output != "" {
		if err := export.WriteFile(scanOpts.output, scanOpts.format, out.Hosts); err != nil {
			return err
		}
		util.Info("Exported %d hosts to %s", len(out.Hosts), scanOpts.output)
	}
	return nil
}

func logEvent(e engine.Event) {
	switch e.Kind {
	case engine.EventStageStarted:
		util.Debug("Stage %s started", e.Stage)
	case engine.EventHostFound:
		util.Info("Found %s (%s)", e.Host.IP, e.Host.Hostname)
	case engine.EventHostScanned:
		util.Debug("Scanned %s: %d open ports", e.Host.IP, len(e.Host.OpenPorts))
	}
}

func printOutcome(out engine.Outcome) {
	okStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("46")).Bold(true)
	warnStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
	errStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	dimStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("241"))

	if out.Status != engine.StatusFailed && len(out.Hosts) > 0 {
		table := tablewriter.NewWriter(os.Stdout)
		header := make([]any, len(export.Columns))
		for i, col := range export.Columns {
			header[i] = col
		}
		table.Header(header...)
		for _, row := range export.Rows(out.Hosts) {
			_ = table.Append(row)
		}
		_ = table.Render()
	}

	summary := fmt.Sprintf("%d hosts in %s", len(out.Hosts), out.Duration.Round(time.Millisecond))
	switch out.Status {
	case engine.StatusCompleted:
		fmt.Println(okStyle.Render("Scan completed: ") + summary)
	case engine.StatusAborted:
		fmt.Println(warnStyle.Render("Scan aborted: ") + summary)
	default:
		fmt.Println(errStyle.Render("Scan failed: ") + out.Reason)
	}
	fmt.Println(dimStyle.Render("run " + out.RunID))
}
