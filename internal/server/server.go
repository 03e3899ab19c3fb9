package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"

	"memquery-agent/internal/config"
	"memquery-agent/internal/meminfo"
	"memquery-agent/internal/model"
)

// Queryer answers memory queries for the serve surfaces.
type Queryer interface {
	Query(ctx context.Context, req model.QueryRequest) (model.MemoryReport, error)
}

// Surface serves queries over one transport until ctx is canceled.
type Surface interface {
	Run(ctx context.Context) error
}

func NewSurfaceFromConfig(cfg config.Config, tlsCfg *tls.Config, svc Queryer, metrics *Metrics, logger *slog.Logger) (Surface, error) {
	switch cfg.ServeMode {
	case config.ServeModeGRPC:
		return NewGRPCServer(cfg, tlsCfg, svc, metrics, logger), nil
	case config.ServeModeWebSocket:
		return NewWSServer(cfg, tlsCfg, svc, metrics, logger), nil
	default:
		return nil, fmt.Errorf("unsupported serve mode %q", cfg.ServeMode)
	}
}

const (
	codeOK                   = "ok"
	codeSourceUnavailable    = "source_unavailable"
	codeRequiredFieldMissing = "required_field_missing"
	codeBadRequest           = "bad_request"
	codeInternal             = "internal"
)

// errorCode folds a query failure into a wire error code. The reader
// has exactly two failure kinds; anything else is an agent fault.
func errorCode(err error) string {
	switch {
	case err == nil:
		return codeOK
	case errors.Is(err, meminfo.ErrSourceUnavailable):
		return codeSourceUnavailable
	case errors.Is(err, meminfo.ErrRequiredFieldMissing):
		return codeRequiredFieldMissing
	default:
		return codeInternal
	}
}
