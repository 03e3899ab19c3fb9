package query

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"

	"memquery-agent/internal/meminfo"
	"memquery-agent/internal/model"
)

type stubSource struct {
	report meminfo.Report
	err    error
	calls  int
}

func (s *stubSource) Read(includeHugePages bool) (meminfo.Report, error) {
	s.calls++
	return s.report, s.err
}

type stubHypervisor struct {
	view model.HypervisorMemory
	err  error
}

func (s *stubHypervisor) MemoryView(ctx context.Context) (model.HypervisorMemory, error) {
	return s.view, s.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestQueryStampsIdentityAndSum(t *testing.T) {
	src := &stubSource{report: meminfo.Report{
		AvailableKB:     524288,
		FreeSwapKB:      131072,
		HugePagesFreeKB: 4096,
		HugePages:       true,
	}}
	svc := New(src, nil, "node-a", "host-a", discardLogger())

	got, err := svc.Query(context.Background(), model.QueryRequest{IncludeHugePages: true})
	assert.NilError(t, err)
	assert.Check(t, is.Equal(got.NodeID, "node-a"))
	assert.Check(t, is.Equal(got.Hostname, "host-a"))
	assert.Check(t, got.TimestampUnix > 0)
	assert.Check(t, is.Equal(got.AvailableKB, int64(524288)))
	assert.Check(t, is.Equal(got.FreeSwapKB, int64(131072)))
	assert.Check(t, is.Equal(got.HugePagesFreeKB, int64(4096)))
	assert.Check(t, is.Equal(got.TotalAllocatableKB, int64(524288+131072+4096)))
	assert.Check(t, is.Nil(got.Hypervisor))
}

func TestQueryReadsSourceEveryCall(t *testing.T) {
	src := &stubSource{report: meminfo.Report{AvailableKB: 1024}}
	svc := New(src, nil, "node-a", "host-a", discardLogger())

	for i := 0; i < 3; i++ {
		_, err := svc.Query(context.Background(), model.QueryRequest{})
		assert.NilError(t, err)
	}
	assert.Check(t, is.Equal(src.calls, 3))
}

func TestQuerySourceErrorPassesThrough(t *testing.T) {
	src := &stubSource{err: meminfo.ErrRequiredFieldMissing}
	svc := New(src, nil, "node-a", "host-a", discardLogger())

	_, err := svc.Query(context.Background(), model.QueryRequest{})
	assert.ErrorIs(t, err, meminfo.ErrRequiredFieldMissing)
}

func TestQueryAttachesHypervisorView(t *testing.T) {
	src := &stubSource{report: meminfo.Report{AvailableKB: 2048}}
	hyper := &stubHypervisor{view: model.HypervisorMemory{
		TotalKB: 16777216,
		FreeKB:  8388608,
	}}
	svc := New(src, hyper, "node-a", "host-a", discardLogger())

	got, err := svc.Query(context.Background(), model.QueryRequest{IncludeHypervisor: true})
	assert.NilError(t, err)
	assert.Assert(t, got.Hypervisor != nil)
	assert.Check(t, is.Equal(got.Hypervisor.TotalKB, int64(16777216)))
	assert.Check(t, is.Equal(got.Hypervisor.FreeKB, int64(8388608)))
}

func TestQueryHypervisorNotRequested(t *testing.T) {
	src := &stubSource{report: meminfo.Report{AvailableKB: 2048}}
	hyper := &stubHypervisor{view: model.HypervisorMemory{TotalKB: 1}}
	svc := New(src, hyper, "node-a", "host-a", discardLogger())

	got, err := svc.Query(context.Background(), model.QueryRequest{})
	assert.NilError(t, err)
	assert.Check(t, is.Nil(got.Hypervisor))
}

func TestQueryHypervisorFailureDegrades(t *testing.T) {
	src := &stubSource{report: meminfo.Report{AvailableKB: 2048, FreeSwapKB: 512}}
	hyper := &stubHypervisor{err: errors.New("connection refused")}
	svc := New(src, hyper, "node-a", "host-a", discardLogger())

	got, err := svc.Query(context.Background(), model.QueryRequest{IncludeHypervisor: true})
	assert.NilError(t, err)
	assert.Check(t, is.Nil(got.Hypervisor))
	assert.Check(t, is.Equal(got.TotalAllocatableKB, int64(2560)))
}
