package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/docker/go-units"
	"github.com/spf13/cobra"

	"memquery-agent/internal/config"
	"memquery-agent/internal/hypervisor"
	"memquery-agent/internal/meminfo"
	"memquery-agent/internal/model"
	"memquery-agent/internal/query"
)

type queryOptions struct {
	hugePages  bool
	hypervisor bool
	jsonOut    bool
	human      bool
	procRoot   string
}

func newQueryCommand() *cobra.Command {
	opts := queryOptions{}
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Read the kernel memory report once and print it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runQuery(cmd, opts)
		},
	}
	flags := cmd.Flags()
	flags.BoolVar(&opts.hugePages, "huge-pages", true, "include free huge pages in the report")
	flags.BoolVar(&opts.hypervisor, "hypervisor", false, "attach the libvirt node view (requires MEMQUERY_LIBVIRT_URI)")
	flags.BoolVar(&opts.jsonOut, "json", false, "print the report as JSON")
	flags.BoolVar(&opts.human, "human", false, "print sizes in human-readable units")
	flags.StringVar(&opts.procRoot, "proc-root", "", "override the proc mount point")
	return cmd
}

func runQuery(cmd *cobra.Command, opts queryOptions) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if opts.procRoot != "" {
		cfg.ProcRoot = opts.procRoot
	}

	// Keep stdout for the report; diagnostics go to stderr.
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), nil))

	var hyperView query.HypervisorView
	if opts.hypervisor {
		if !cfg.HypervisorEnabled() {
			return fmt.Errorf("--hypervisor requires MEMQUERY_LIBVIRT_URI")
		}
		hyper := hypervisor.NewView(cfg.LibvirtURI, cfg.HypervisorTimeout, logger)
		defer func() { _ = hyper.Close() }()
		hyperView = hyper
	}

	svc := query.New(&meminfo.Reader{Path: cfg.MeminfoPath()}, hyperView, cfg.NodeID, cfg.Hostname, logger)
	report, err := svc.Query(cmd.Context(), model.QueryRequest{
		IncludeHugePages:  opts.hugePages,
		IncludeHypervisor: opts.hypervisor,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if opts.jsonOut {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	printReport(out, report, opts.human)
	return nil
}

func printReport(w io.Writer, report model.MemoryReport, human bool) {
	fmt.Fprintf(w, "Available: %s\n", formatKB(report.AvailableKB, human))
	fmt.Fprintf(w, "Free Swap: %s\n", formatKB(report.FreeSwapKB, human))
	if report.HugePages {
		fmt.Fprintf(w, "Free Huge Pages: %s\n", formatKB(report.HugePagesFreeKB, human))
	}
	fmt.Fprintf(w, "Total Allocatable: %s\n", formatKB(report.TotalAllocatableKB, human))
	if report.Hypervisor != nil {
		fmt.Fprintf(w, "Hypervisor Free: %s\n", formatKB(report.Hypervisor.FreeKB, human))
		fmt.Fprintf(w, "Hypervisor Used: %s\n", formatKB(report.Hypervisor.UsedKB, human))
	}
}

func formatKB(kb int64, human bool) string {
	if human {
		return units.BytesSize(float64(kb) * 1024)
	}
	return fmt.Sprintf("%d KB", kb)
}
