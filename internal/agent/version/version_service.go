package version

import (
	"time"

	"memquery-agent/internal/config"
)

func Get(cfg config.Config, _ *GetVersionRequest) *GetVersionResponse {
	return &GetVersionResponse{
		NodeID:          cfg.NodeID,
		AgentVersion:    cfg.AgentVersion,
		ServeMode:       string(cfg.ServeMode),
		ProbeListenAddr: cfg.ProbeListenAddr,
		CheckedAtUnix:   time.Now().UTC().Unix(),
	}
}
