package runtime

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/marketfeed/rtcore/internal/recache"
)

type fakeChannel struct {
	started, stopped int
}

func (f *fakeChannel) Start(ctx context.Context) error {
	f.started++
	return nil
}

func (f *fakeChannel) Stop() {
	f.stopped++
}

func TestRuntimeStartsAndStopsChannels(t *testing.T) {
	rt, err := New(Config{Registerer: prometheus.NewRegistry()})
	require.NoError(t, err)

	ch := &fakeChannel{}
	rt.AddChannel("bb", ch, recache.New())

	require.NoError(t, rt.Start(context.Background()))
	require.Equal(t, 1, ch.started)

	rt.Stop()
	require.Equal(t, 1, ch.stopped)
}

func TestRuntimeDefaultIntervals(t *testing.T) {
	rt, err := New(Config{Registerer: prometheus.NewRegistry()})
	require.NoError(t, err)
	require.Equal(t, 5*time.Minute, rt.cfg.CacheEvictionInterval)
	require.Equal(t, 30*time.Second, rt.cfg.LVCFreshnessInterval)
	require.Equal(t, time.Hour, rt.cfg.JournalCompactionInterval)
}

func TestMetricsRegistered(t *testing.T) {
	reg := prometheus.NewRegistry()
	rt, err := New(Config{Registerer: reg})
	require.NoError(t, err)
	require.NotNil(t, rt.Metrics())

	_, err = reg.Gather()
	require.NoError(t, err)
}
