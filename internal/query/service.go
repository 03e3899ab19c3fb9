package query

import (
	"context"
	"log/slog"
	"time"

	"memquery-agent/internal/meminfo"
	"memquery-agent/internal/model"
)

// Source yields one fresh memory report per call. *meminfo.Reader is
// the production implementation.
type Source interface {
	Read(includeHugePages bool) (meminfo.Report, error)
}

// HypervisorView yields the libvirt node memory view of the host.
type HypervisorView interface {
	MemoryView(ctx context.Context) (model.HypervisorMemory, error)
}

// Service answers memory queries. It reads the source on every call,
// stamps node identity, and derives the total-allocatable sum. The sum
// is a policy of this layer: the raw report never carries it.
type Service struct {
	source   Source
	hyper    HypervisorView
	nodeID   string
	hostname string
	logger   *slog.Logger
}

func New(source Source, hyper HypervisorView, nodeID, hostname string, logger *slog.Logger) *Service {
	return &Service{
		source:   source,
		hyper:    hyper,
		nodeID:   nodeID,
		hostname: hostname,
		logger:   logger,
	}
}

func (s *Service) Query(ctx context.Context, req model.QueryRequest) (model.MemoryReport, error) {
	rep, err := s.source.Read(req.IncludeHugePages)
	if err != nil {
		return model.MemoryReport{}, err
	}

	out := model.MemoryReport{
		NodeID:          s.nodeID,
		Hostname:        s.hostname,
		TimestampUnix:   time.Now().UTC().Unix(),
		AvailableKB:     rep.AvailableKB,
		FreeSwapKB:      rep.FreeSwapKB,
		HugePagesFreeKB: rep.HugePagesFreeKB,
		HugePages:       rep.HugePages,
	}
	out.TotalAllocatableKB = rep.AvailableKB + rep.FreeSwapKB + rep.HugePagesFreeKB

	if req.IncludeHypervisor && s.hyper != nil {
		view, herr := s.hyper.MemoryView(ctx)
		if herr != nil {
			// The kernel report stands on its own; a hypervisor
			// outage degrades the answer, it does not fail it.
			s.logger.Warn("hypervisor memory view unavailable", "error", herr)
		} else {
			out.Hypervisor = &view
		}
	}

	return out, nil
}
