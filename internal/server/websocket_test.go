package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"
	"nhooyr.io/websocket"

	"memquery-agent/internal/config"
	"memquery-agent/internal/model"
)

type wsFrame struct {
	Type          model.FrameType `json:"type"`
	NodeID        string          `json:"node_id"`
	TimestampUnix int64           `json:"timestamp_unix"`
	Payload       json.RawMessage `json:"payload"`
}

func startWS(t *testing.T, cfg config.Config, svc Queryer) string {
	t.Helper()
	s := NewWSServer(cfg, nil, svc, NewMetrics(), discardLogger())
	hs := httptest.NewServer(s.Handler())
	t.Cleanup(hs.Close)
	return "ws" + strings.TrimPrefix(hs.URL, "http") + cfg.WSPath
}

func wsRoundTrip(ctx context.Context, t *testing.T, conn *websocket.Conn, req model.QueryRequest) wsFrame {
	t.Helper()
	payload, err := json.Marshal(req)
	assert.NilError(t, err)
	assert.NilError(t, conn.Write(ctx, websocket.MessageText, payload))

	_, data, err := conn.Read(ctx)
	assert.NilError(t, err)

	var frame wsFrame
	assert.NilError(t, json.Unmarshal(data, &frame))
	return frame
}

func TestWebSocketQuery(t *testing.T) {
	cfg := testConfig()
	cfg.ServeMode = config.ServeModeWebSocket
	url := startWS(t, cfg, testService(t, sampleMemInfo))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, url, nil)
	assert.NilError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "done")

	frame := wsRoundTrip(ctx, t, conn, model.QueryRequest{IncludeHugePages: true})
	assert.Check(t, is.Equal(frame.Type, model.FrameTypeMemoryReport))
	assert.Check(t, is.Equal(frame.NodeID, "node-test"))

	var report model.MemoryReport
	assert.NilError(t, json.Unmarshal(frame.Payload, &report))
	assert.Check(t, is.Equal(report.AvailableKB, int64(12288000)))
	assert.Check(t, is.Equal(report.HugePagesFreeKB, int64(6*2048)))

	// The connection answers as many queries as the client sends.
	frame = wsRoundTrip(ctx, t, conn, model.QueryRequest{})
	assert.Check(t, is.Equal(frame.Type, model.FrameTypeMemoryReport))
	assert.NilError(t, json.Unmarshal(frame.Payload, &report))
	assert.Check(t, is.Equal(report.HugePagesFreeKB, int64(0)))
}

func TestWebSocketMalformedRequest(t *testing.T) {
	cfg := testConfig()
	cfg.ServeMode = config.ServeModeWebSocket
	url := startWS(t, cfg, testService(t, sampleMemInfo))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, url, nil)
	assert.NilError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "done")

	assert.NilError(t, conn.Write(ctx, websocket.MessageText, []byte("not json")))
	_, data, err := conn.Read(ctx)
	assert.NilError(t, err)

	var frame wsFrame
	assert.NilError(t, json.Unmarshal(data, &frame))
	assert.Check(t, is.Equal(frame.Type, model.FrameTypeError))

	var ep model.ErrorPayload
	assert.NilError(t, json.Unmarshal(frame.Payload, &ep))
	assert.Check(t, is.Equal(ep.Code, "bad_request"))

	// A malformed message does not poison the connection.
	frame = wsRoundTrip(ctx, t, conn, model.QueryRequest{})
	assert.Check(t, is.Equal(frame.Type, model.FrameTypeMemoryReport))
}

func TestWebSocketQueryFailure(t *testing.T) {
	cfg := testConfig()
	cfg.ServeMode = config.ServeModeWebSocket
	url := startWS(t, cfg, testService(t, "MemTotal: 1 kB\n"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, url, nil)
	assert.NilError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "done")

	frame := wsRoundTrip(ctx, t, conn, model.QueryRequest{})
	assert.Check(t, is.Equal(frame.Type, model.FrameTypeError))

	var ep model.ErrorPayload
	assert.NilError(t, json.Unmarshal(frame.Payload, &ep))
	assert.Check(t, is.Equal(ep.Code, "required_field_missing"))
}

func TestWebSocketAuth(t *testing.T) {
	cfg := testConfig()
	cfg.ServeMode = config.ServeModeWebSocket
	cfg.AuthToken = "s3cret"
	url := startWS(t, cfg, testService(t, sampleMemInfo))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, _, err := websocket.Dial(ctx, url, nil)
	assert.Check(t, err != nil)

	h := http.Header{}
	h.Set("Authorization", "Bearer s3cret")
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{HTTPHeader: h})
	assert.NilError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "done")

	frame := wsRoundTrip(ctx, t, conn, model.QueryRequest{})
	assert.Check(t, is.Equal(frame.Type, model.FrameTypeMemoryReport))
}
