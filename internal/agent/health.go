package agent

import (
	"sync/atomic"
	"time"
)

type HealthStatus struct {
	serving             atomic.Bool
	hypervisorConnected atomic.Bool
	lastQueryAt         atomic.Int64
	queriesServed       atomic.Int64
}

func NewHealthStatus() *HealthStatus {
	h := &HealthStatus{}
	h.serving.Store(false)
	h.hypervisorConnected.Store(false)
	return h
}

func (h *HealthStatus) SetServing(ok bool) {
	h.serving.Store(ok)
}

func (h *HealthStatus) SetHypervisorConnected(ok bool) {
	h.hypervisorConnected.Store(ok)
}

func (h *HealthStatus) MarkQuery(ts time.Time) {
	h.lastQueryAt.Store(ts.UnixNano())
	h.queriesServed.Add(1)
}

func (h *HealthStatus) Serving() bool {
	return h.serving.Load()
}

func (h *HealthStatus) Snapshot() map[string]any {
	out := map[string]any{
		"serving":              h.serving.Load(),
		"hypervisor_connected": h.hypervisorConnected.Load(),
		"queries_served":       h.queriesServed.Load(),
	}
	if v := h.lastQueryAt.Load(); v > 0 {
		out["last_query_at"] = time.Unix(0, v).UTC()
	}
	return out
}
