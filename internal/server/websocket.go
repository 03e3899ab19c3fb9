package server

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"nhooyr.io/websocket"

	"memquery-agent/internal/config"
	"memquery-agent/internal/model"
)

// WSServer answers queries over a websocket. A client sends one JSON
// QueryRequest per message and receives one envelope back; the
// connection stays open for as many queries as the client wants, but
// nothing is pushed unasked.
type WSServer struct {
	cfg          config.Config
	tlsCfg       *tls.Config
	service      Queryer
	metrics      *Metrics
	logger       *slog.Logger
	writeTimeout time.Duration
}

func NewWSServer(cfg config.Config, tlsCfg *tls.Config, svc Queryer, metrics *Metrics, logger *slog.Logger) *WSServer {
	return &WSServer{
		cfg:          cfg,
		tlsCfg:       tlsCfg,
		service:      svc,
		metrics:      metrics,
		logger:       logger,
		writeTimeout: 5 * time.Second,
	}
}

func (s *WSServer) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.WSListenAddr,
		Handler:           s.Handler(),
		TLSConfig:         s.tlsCfg,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("websocket query endpoint listening", "addr", s.cfg.WSListenAddr, "path", s.cfg.WSPath)
	var err error
	if s.tlsCfg != nil {
		err = srv.ListenAndServeTLS("", "")
	} else {
		err = srv.ListenAndServe()
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve websocket endpoint %s: %w", s.cfg.WSListenAddr, err)
	}
	return nil
}

func (s *WSServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.WSPath, s.handleQuery)
	return mux
}

func (s *WSServer) handleQuery(w http.ResponseWriter, r *http.Request) {
	if s.cfg.AuthToken != "" && r.Header.Get("Authorization") != "Bearer "+s.cfg.AuthToken {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket accept failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "handler exit")
	conn.SetReadLimit(1 << 20)

	ctx := r.Context()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway || ctx.Err() != nil {
				conn.Close(websocket.StatusNormalClosure, "bye")
				return
			}
			s.logger.Debug("websocket read ended", "remote", r.RemoteAddr, "error", err)
			return
		}

		var req model.QueryRequest
		if err := json.Unmarshal(data, &req); err != nil {
			s.metrics.ObserveQuery("websocket", codeBadRequest)
			if werr := s.writeEnvelope(ctx, conn, s.errorEnvelope(codeBadRequest, err)); werr != nil {
				return
			}
			continue
		}

		report, err := s.service.Query(ctx, req)
		s.metrics.ObserveQuery("websocket", errorCode(err))

		var envelope model.Envelope
		if err != nil {
			s.logger.Warn("websocket query failed", "code", errorCode(err), "error", err)
			envelope = s.errorEnvelope(errorCode(err), err)
		} else {
			envelope = model.Envelope{
				Type:          model.FrameTypeMemoryReport,
				NodeID:        report.NodeID,
				TimestampUnix: report.TimestampUnix,
				Payload:       report,
			}
		}
		if werr := s.writeEnvelope(ctx, conn, envelope); werr != nil {
			s.logger.Debug("websocket write failed", "remote", r.RemoteAddr, "error", werr)
			return
		}
	}
}

func (s *WSServer) writeEnvelope(ctx context.Context, conn *websocket.Conn, envelope model.Envelope) error {
	payload, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	wctx, cancel := context.WithTimeout(ctx, s.writeTimeout)
	defer cancel()
	return conn.Write(wctx, websocket.MessageText, payload)
}

func (s *WSServer) errorEnvelope(code string, err error) model.Envelope {
	return model.Envelope{
		Type:          model.FrameTypeError,
		NodeID:        s.cfg.NodeID,
		TimestampUnix: time.Now().UTC().Unix(),
		Payload:       model.ErrorPayload{Code: code, Message: err.Error()},
	}
}
