package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/user/netscan/internal/engine"
	"github.com/user/netscan/internal/tui"
)

var uiOpts scanOptions

var uiCmd = &cobra.Command{
	Use:   "ui",
	Short: "Run a scan in the interactive terminal view",
	Long: `Run a scan and watch the results arrive in an interactive table.

Keys: arrows select a host, 'a' aborts the scan, 'e' exports the results
to the --output file once the scan is over, 'q' quits.`,
	RunE: runUI,
}

func init() {
	addScanFlags(uiCmd, &uiOpts)
}

func runUI(cmd *cobra.Command, args []string) error {
	req, err := buildRequest(cmd, uiOpts)
	if err != nil {
		return err
	}

	orch, stop, err := newOrchestrator()
	if err != nil {
		return err
	}
	defer stop()

	out, err := tui.NewApp(orch, req, uiOpts.output).Run()
	if err != nil {
		return err
	}

	fmt.Printf("Scan %s: %d hosts\n", out.Status, len(out.Hosts))
	if out.Status == engine.StatusFailed {
		return fmt.Errorf("scan failed: %w", out.Err)
	}
	return nil
}
