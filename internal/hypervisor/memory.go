package hypervisor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	golibvirt "github.com/digitalocean/go-libvirt"

	"memquery-agent/internal/model"
)

// View reads the libvirt node memory counters for the host the agent
// runs on. It exists to cross-check the kernel's report, not to
// replace it; values stay in kibibytes as libvirt reports them.
type View struct {
	conn    *ConnManager
	timeout time.Duration
}

func NewView(uri string, timeout time.Duration, logger *slog.Logger) *View {
	return &View{
		conn:    NewConnManager(uri, logger),
		timeout: timeout,
	}
}

func (v *View) MemoryView(ctx context.Context) (model.HypervisorMemory, error) {
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	client, err := v.conn.Client(ctx)
	if err != nil {
		return model.HypervisorMemory{}, err
	}

	stats, _, err := client.NodeGetMemoryStats(0, -1, 0)
	if err != nil {
		return model.HypervisorMemory{}, fmt.Errorf("NodeGetMemoryStats: %w", err)
	}
	return nodeMemoryView(stats)
}

func (v *View) Healthy(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()
	return v.conn.Healthy(ctx)
}

func (v *View) Close() error {
	return v.conn.Close()
}

func nodeMemoryView(stats []golibvirt.NodeGetMemoryStats) (model.HypervisorMemory, error) {
	if len(stats) == 0 {
		return model.HypervisorMemory{}, fmt.Errorf("empty node memory stats")
	}

	vals := map[string]uint64{}
	for _, st := range stats {
		vals[strings.ToLower(st.Field)] = st.Value
	}

	view := model.HypervisorMemory{
		TotalKB:   int64(vals["total"]),
		FreeKB:    int64(vals["free"]),
		BuffersKB: int64(vals["buffers"]),
		CachedKB:  int64(vals["cached"]),
	}
	if view.TotalKB == 0 {
		return model.HypervisorMemory{}, fmt.Errorf("total memory is zero")
	}

	view.UsedKB = view.TotalKB
	if reclaimable := view.FreeKB + view.BuffersKB + view.CachedKB; reclaimable <= view.TotalKB {
		view.UsedKB = view.TotalKB - reclaimable
	}
	return view, nil
}
