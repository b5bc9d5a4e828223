package client

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/burrowctf/burrow/pkg/api"
	"github.com/burrowctf/burrow/pkg/catalog"
	"github.com/burrowctf/burrow/pkg/events"
	"github.com/burrowctf/burrow/pkg/instance"
	"github.com/burrowctf/burrow/pkg/log"
	"github.com/burrowctf/burrow/pkg/runtime"
	"github.com/burrowctf/burrow/pkg/scheduler"
	"github.com/burrowctf/burrow/pkg/storage"
	"github.com/burrowctf/burrow/pkg/types"
)

const testKey = "client-test-key"

func TestMain(m *testing.M) {
	log.Init(log.Config{Level: log.ErrorLevel, JSONOutput: true, Output: os.Stderr})
	os.Exit(m.Run())
}

type fixture struct {
	c       *Client
	baseURL string
	cat     *catalog.Catalog
	rt      *runtime.FakeRuntime
	root    string
}

func echoChallenge() types.Challenge {
	return types.Challenge{Name: "echo", InternalPort: 9000, MemLimitMB: 64, UserLimit: 4, LifetimeSeconds: 600}
}

func writeChallenge(t *testing.T, root string, ch types.Challenge) {
	t.Helper()
	dir := filepath.Join(root, ch.Name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	data, err := json.Marshal(ch)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, catalog.ManifestFile), data, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Dockerfile"), []byte("FROM scratch\n"), 0o644))
}

// newFixture runs the full broker behind an httptest listener and
// returns a client pointed at it.
func newFixture(t *testing.T, challenges ...types.Challenge) *fixture {
	t.Helper()

	mr := miniredis.RunT(t)
	store := storage.NewRedisStoreFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { store.Close() })

	root := t.TempDir()
	rt := runtime.NewFakeRuntime()
	cat := catalog.New(root, rt)
	for _, ch := range challenges {
		writeChallenge(t, root, ch)
	}
	require.NoError(t, cat.LoadAll(context.Background()))

	repo := instance.NewRepository(store)
	broker := events.NewBroker()
	sched := scheduler.New(repo, cat, rt, broker)

	srv := api.New(api.Options{
		Scheduler: sched,
		Catalog:   cat,
		Store:     store,
		Runtime:   rt,
		Broker:    broker,
		APIKey:    testKey,
		Version:   "test",
	})
	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		hs.Close()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Stop(ctx)
	})

	return &fixture{c: New(hs.URL, testKey), baseURL: hs.URL, cat: cat, rt: rt, root: root}
}

func TestAssignAndLookups(t *testing.T) {
	f := newFixture(t, echoChallenge())

	inst, err := f.c.Assign("echo", "u1")
	require.NoError(t, err)
	assert.Equal(t, "echo", inst.Challenge)
	assert.Equal(t, []string{"u1"}, inst.Users)
	assert.GreaterOrEqual(t, inst.ExternalPort, 1025)

	got, err := f.c.GetInstance(inst.ContainerID)
	require.NoError(t, err)
	assert.Equal(t, inst.ContainerID, got.ContainerID)

	mine, err := f.c.InstanceForUser("u1")
	require.NoError(t, err)
	assert.Equal(t, inst.ContainerID, mine.ContainerID)

	ids, err := f.c.ListInstances()
	require.NoError(t, err)
	assert.Equal(t, []string{inst.ContainerID}, ids)

	stats, err := f.c.Stats()
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.CurrentInstances)
	assert.EqualValues(t, 1, stats.TotalInstances)
	assert.Equal(t, 1, stats.CurrentUsers)
	assert.Equal(t, 1, stats.Challenges)
}

func TestSecondUserSharesInstance(t *testing.T) {
	f := newFixture(t, echoChallenge())

	first, err := f.c.Assign("echo", "u1")
	require.NoError(t, err)
	second, err := f.c.Assign("echo", "u2")
	require.NoError(t, err)

	assert.Equal(t, first.ContainerID, second.ContainerID)
	ids, err := f.c.ListInstances()
	require.NoError(t, err)
	assert.Len(t, ids, 1)
}

func TestErrorPredicates(t *testing.T) {
	f := newFixture(t, echoChallenge())

	_, err := f.c.Assign("no-such-challenge", "u1")
	assert.True(t, IsNotFound(err), "unknown challenge: %v", err)

	_, err = f.c.Assign("echo", "u1")
	require.NoError(t, err)
	_, err = f.c.Assign("echo", "u1")
	assert.True(t, IsForbidden(err), "double assign: %v", err)

	_, err = f.c.InstanceForUser("nobody")
	assert.True(t, IsNotFound(err), "user without seat: %v", err)

	_, err = f.c.GetInstance("0000000000000000000000000000000000000000000000000000000000000000")
	assert.True(t, IsNotFound(err), "missing instance: %v", err)

	badKey := New(f.baseURL, "wrong-key")
	_, err = badKey.ListInstances()
	assert.True(t, IsForbidden(err), "bad api key: %v", err)

	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 403, apiErr.Status)
	assert.NotEmpty(t, apiErr.Message)
}

func TestResetMovesUser(t *testing.T) {
	f := newFixture(t, echoChallenge())

	first, err := f.c.Assign("echo", "u1")
	require.NoError(t, err)

	next, err := f.c.Reset("u1", first.ContainerID)
	require.NoError(t, err)
	assert.NotEqual(t, first.ContainerID, next.ContainerID)
	assert.Contains(t, next.Users, "u1")

	// u2 seats on the drained original, so resetting u1's replacement
	// is someone else's instance and must be rejected.
	second, err := f.c.Assign("echo", "u2")
	require.NoError(t, err)
	assert.Equal(t, first.ContainerID, second.ContainerID)

	_, err = f.c.Reset("u2", next.ContainerID)
	assert.True(t, IsForbidden(err), "foreign reset: %v", err)
}

func TestDisconnectIsIdempotent(t *testing.T) {
	f := newFixture(t, echoChallenge())

	_, err := f.c.Assign("echo", "u1")
	require.NoError(t, err)

	require.NoError(t, f.c.Disconnect("u1"))
	_, err = f.c.InstanceForUser("u1")
	assert.True(t, IsNotFound(err))

	require.NoError(t, f.c.Disconnect("u1"))
}

func TestDeployAndRemoveChallenge(t *testing.T) {
	f := newFixture(t)

	dir := filepath.Join(f.root, "pwn-me")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Dockerfile"), []byte("FROM scratch\n"), 0o644))

	// Zero lifetime and false can_prestart must survive the trip; the
	// server rejects bodies with absent fields.
	ch := types.Challenge{Name: "pwn-me", InternalPort: 7777, MemLimitMB: 32, UserLimit: 2}
	require.NoError(t, f.c.DeployChallenge(ch))

	require.Eventually(t, func() bool {
		_, err := f.cat.Get("pwn-me")
		return err == nil
	}, 2*time.Second, 10*time.Millisecond, "deploy never registered")

	inst, err := f.c.Assign("pwn-me", "u1")
	require.NoError(t, err)
	assert.Equal(t, "pwn-me", inst.Challenge)

	require.NoError(t, f.c.RemoveChallenge("pwn-me"))
	_, err = f.cat.Get("pwn-me")
	assert.Error(t, err)

	// Removal of an unknown challenge succeeds quietly.
	require.NoError(t, f.c.RemoveChallenge("ghost"))
}

func TestLogsAndDockerStats(t *testing.T) {
	f := newFixture(t, echoChallenge())
	f.rt.LogOutput = "flag is in /flag.txt\n"

	inst, err := f.c.Assign("echo", "u1")
	require.NoError(t, err)

	out, err := f.c.Logs(inst.ContainerID)
	require.NoError(t, err)
	assert.Contains(t, out, "flag is in /flag.txt")

	stats, err := f.c.DockerStats(inst.ContainerID)
	require.NoError(t, err)
	assert.Equal(t, inst.ContainerID, stats.ContainerID)
	assert.EqualValues(t, 64*1024*1024, stats.MemLimitBytes)
}

func TestReady(t *testing.T) {
	f := newFixture(t, echoChallenge())
	require.NoError(t, f.c.Ready())
}
