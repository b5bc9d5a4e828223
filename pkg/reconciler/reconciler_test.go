package reconciler

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/burrowctf/burrow/pkg/catalog"
	"github.com/burrowctf/burrow/pkg/events"
	"github.com/burrowctf/burrow/pkg/instance"
	"github.com/burrowctf/burrow/pkg/log"
	"github.com/burrowctf/burrow/pkg/metrics"
	"github.com/burrowctf/burrow/pkg/runtime"
	"github.com/burrowctf/burrow/pkg/scheduler"
	"github.com/burrowctf/burrow/pkg/storage"
	"github.com/burrowctf/burrow/pkg/types"
)

func TestMain(m *testing.M) {
	log.Init(log.Config{Level: log.ErrorLevel, JSONOutput: true, Output: os.Stderr})
	os.Exit(m.Run())
}

func newScheduler(t *testing.T) (*scheduler.Scheduler, *instance.Repository, *runtime.FakeRuntime) {
	t.Helper()

	mr := miniredis.RunT(t)
	store := storage.NewRedisStoreFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { store.Close() })

	root := t.TempDir()
	ch := types.Challenge{Name: "web", InternalPort: 80, MemLimitMB: 64, UserLimit: 4, CanPrestart: true}
	dir := filepath.Join(root, ch.Name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	data, err := json.Marshal(ch)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, catalog.ManifestFile), data, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Dockerfile"), []byte("FROM scratch\n"), 0o644))

	rt := runtime.NewFakeRuntime()
	cat := catalog.New(root, rt)
	require.NoError(t, cat.LoadAll(context.Background()))

	repo := instance.NewRepository(store)
	return scheduler.New(repo, cat, rt, events.NewBroker()), repo, rt
}

func TestCleanupPassReclaimsSurplus(t *testing.T) {
	ctx := context.Background()
	sched, repo, _ := newScheduler(t)

	older, err := sched.StartInstance(ctx, "web")
	require.NoError(t, err)
	older.StartedAt = 100
	require.NoError(t, repo.Update(ctx, older))
	younger, err := sched.StartInstance(ctx, "web")
	require.NoError(t, err)

	cyclesBefore := testutil.ToFloat64(metrics.CleanupCyclesTotal)

	r := New(sched, time.Minute, time.Minute)
	r.CleanupPass(ctx)

	exists, err := repo.Exists(ctx, older.ContainerID)
	require.NoError(t, err)
	assert.False(t, exists)
	exists, err = repo.Exists(ctx, younger.ContainerID)
	require.NoError(t, err)
	assert.True(t, exists)

	assert.Equal(t, cyclesBefore+1, testutil.ToFloat64(metrics.CleanupCyclesTotal))
}

func TestCleanupPassSweepsOrphans(t *testing.T) {
	ctx := context.Background()
	sched, _, rt := newScheduler(t)

	rt.Inject("feedfeed", runtime.RunSpec{
		Image:  "web",
		Labels: map[string]string{runtime.LabelManaged: "true"},
	})

	r := New(sched, time.Minute, time.Minute)
	r.CleanupPass(ctx)

	assert.False(t, rt.Running("feedfeed"))
}

func TestPrestartPassDrainsQueue(t *testing.T) {
	ctx := context.Background()
	sched, repo, _ := newScheduler(t)

	require.NoError(t, repo.PrewarmAdd(ctx, "web"))

	r := New(sched, time.Minute, time.Minute)
	r.PrestartPass(ctx)

	queued, err := repo.PrewarmList(ctx)
	require.NoError(t, err)
	assert.Empty(t, queued)

	live, err := repo.CountLive(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), live)
}

func TestReconcilerLoop(t *testing.T) {
	ctx := context.Background()
	sched, repo, _ := newScheduler(t)

	require.NoError(t, repo.PrewarmAdd(ctx, "web"))

	r := New(sched, 50*time.Millisecond, 10*time.Millisecond)
	r.Start()
	defer r.Stop()

	require.Eventually(t, func() bool {
		live, err := repo.CountLive(ctx)
		return err == nil && live == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStopWaitsForCurrentPass(t *testing.T) {
	sched, _, _ := newScheduler(t)

	r := New(sched, 10*time.Millisecond, 10*time.Millisecond)
	r.Start()
	time.Sleep(30 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		r.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
}
