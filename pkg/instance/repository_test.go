package instance

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/burrowctf/burrow/pkg/storage"
	"github.com/burrowctf/burrow/pkg/types"
)

func newTestRepos(t *testing.T) map[string]*Repository {
	t.Helper()

	mr := miniredis.RunT(t)
	rs := storage.NewRedisStoreFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { rs.Close() })

	bs, err := storage.NewBoltStore(filepath.Join(t.TempDir(), "burrow.db"))
	require.NoError(t, err)
	t.Cleanup(func() { bs.Close() })

	return map[string]*Repository{
		"redis": NewRepository(rs),
		"bolt":  NewRepository(bs),
	}
}

func testInstance(id, challenge string, port int, startedAt int64, users ...string) *types.Instance {
	if users == nil {
		users = []string{}
	}
	return &types.Instance{
		ContainerID:  id,
		Challenge:    challenge,
		ExternalPort: port,
		StartedAt:    startedAt,
		Users:        users,
		UserLimit:    4,
	}
}

func TestRepositorySaveNewAndGet(t *testing.T) {
	ctx := context.Background()
	for name, repo := range newTestRepos(t) {
		t.Run(name, func(t *testing.T) {
			inst := testInstance("c1", "web-01", 31000, 100, "alice")
			require.NoError(t, repo.SaveNew(ctx, inst))

			got, err := repo.Get(ctx, "c1")
			require.NoError(t, err)
			assert.Equal(t, inst, got)

			// Indices follow the record
			exists, err := repo.Exists(ctx, "c1")
			require.NoError(t, err)
			assert.True(t, exists)

			used, err := repo.UsedPorts(ctx)
			require.NoError(t, err)
			assert.True(t, used[31000])

			id, err := repo.Assignment(ctx, "alice")
			require.NoError(t, err)
			assert.Equal(t, "c1", id)

			n, err := repo.CountAllTime(ctx)
			require.NoError(t, err)
			assert.Equal(t, int64(1), n)

			live, err := repo.CountLive(ctx)
			require.NoError(t, err)
			assert.Equal(t, int64(1), live)
		})
	}
}

func TestRepositoryGetMissing(t *testing.T) {
	ctx := context.Background()
	for name, repo := range newTestRepos(t) {
		t.Run(name, func(t *testing.T) {
			_, err := repo.Get(ctx, "nope")
			assert.ErrorIs(t, err, ErrInstanceNotFound)
		})
	}
}

func TestRepositoryDelete(t *testing.T) {
	ctx := context.Background()
	for name, repo := range newTestRepos(t) {
		t.Run(name, func(t *testing.T) {
			inst := testInstance("c1", "web-01", 31000, 100, "alice", "bob")
			require.NoError(t, repo.SaveNew(ctx, inst))

			require.NoError(t, repo.Delete(ctx, inst))

			_, err := repo.Get(ctx, "c1")
			assert.ErrorIs(t, err, ErrInstanceNotFound)

			exists, err := repo.Exists(ctx, "c1")
			require.NoError(t, err)
			assert.False(t, exists)

			used, err := repo.UsedPorts(ctx)
			require.NoError(t, err)
			assert.False(t, used[31000], "port should be reclaimed")

			for _, user := range []string{"alice", "bob"} {
				id, err := repo.Assignment(ctx, user)
				require.NoError(t, err)
				assert.Empty(t, id, "assignment of %s should be cleared", user)
			}

			// All-time counter is not decremented by deletion
			n, err := repo.CountAllTime(ctx)
			require.NoError(t, err)
			assert.Equal(t, int64(1), n)
		})
	}
}

func TestRepositoryAttachDetach(t *testing.T) {
	ctx := context.Background()
	for name, repo := range newTestRepos(t) {
		t.Run(name, func(t *testing.T) {
			inst := testInstance("c1", "web-01", 31000, 100)
			require.NoError(t, repo.SaveNew(ctx, inst))

			inst.Attach("alice")
			require.NoError(t, repo.Attach(ctx, inst, "alice"))

			got, err := repo.AssignedInstance(ctx, "alice")
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, "c1", got.ContainerID)
			assert.Equal(t, []string{"alice"}, got.Users)

			inst.Detach("alice")
			require.NoError(t, repo.Detach(ctx, inst, "alice", true))

			got, err = repo.AssignedInstance(ctx, "alice")
			require.NoError(t, err)
			assert.Nil(t, got)

			avoided, err := repo.IsAvoided(ctx, "alice", "c1")
			require.NoError(t, err)
			assert.True(t, avoided)

			record, err := repo.Get(ctx, "c1")
			require.NoError(t, err)
			assert.Empty(t, record.Users)
		})
	}
}

func TestRepositoryDetachWithoutAvoid(t *testing.T) {
	ctx := context.Background()
	for name, repo := range newTestRepos(t) {
		t.Run(name, func(t *testing.T) {
			inst := testInstance("c1", "web-01", 31000, 100, "alice")
			require.NoError(t, repo.SaveNew(ctx, inst))

			inst.Detach("alice")
			require.NoError(t, repo.Detach(ctx, inst, "alice", false))

			avoided, err := repo.IsAvoided(ctx, "alice", "c1")
			require.NoError(t, err)
			assert.False(t, avoided)
		})
	}
}

func TestRepositoryListOrdering(t *testing.T) {
	ctx := context.Background()
	for name, repo := range newTestRepos(t) {
		t.Run(name, func(t *testing.T) {
			// Insert out of order; List must come back oldest first
			require.NoError(t, repo.SaveNew(ctx, testInstance("c3", "web-01", 31002, 300)))
			require.NoError(t, repo.SaveNew(ctx, testInstance("c1", "web-01", 31000, 100)))
			require.NoError(t, repo.SaveNew(ctx, testInstance("c2", "pwn-01", 31001, 200)))

			all, err := repo.List(ctx)
			require.NoError(t, err)
			require.Len(t, all, 3)
			assert.Equal(t, "c1", all[0].ContainerID)
			assert.Equal(t, "c2", all[1].ContainerID)
			assert.Equal(t, "c3", all[2].ContainerID)

			web, err := repo.ListByChallenge(ctx, "web-01")
			require.NoError(t, err)
			require.Len(t, web, 2)
			assert.Equal(t, "c1", web[0].ContainerID)
			assert.Equal(t, "c3", web[1].ContainerID)
		})
	}
}

func TestRepositoryListTiebreakOnID(t *testing.T) {
	ctx := context.Background()
	for name, repo := range newTestRepos(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, repo.SaveNew(ctx, testInstance("b", "web-01", 31001, 100)))
			require.NoError(t, repo.SaveNew(ctx, testInstance("a", "web-01", 31000, 100)))

			all, err := repo.List(ctx)
			require.NoError(t, err)
			require.Len(t, all, 2)
			assert.Equal(t, "a", all[0].ContainerID)
			assert.Equal(t, "b", all[1].ContainerID)
		})
	}
}

func TestRepositoryPrewarmQueue(t *testing.T) {
	ctx := context.Background()
	for name, repo := range newTestRepos(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, repo.PrewarmAdd(ctx, "web-01", "pwn-01"))
			require.NoError(t, repo.PrewarmAdd(ctx, "web-01"))

			queued, err := repo.PrewarmList(ctx)
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{"web-01", "pwn-01"}, queued)

			require.NoError(t, repo.PrewarmRemove(ctx, "web-01"))
			queued, err = repo.PrewarmList(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"pwn-01"}, queued)
		})
	}
}

func TestRepositoryComposedPipeline(t *testing.T) {
	ctx := context.Background()
	for name, repo := range newTestRepos(t) {
		t.Run(name, func(t *testing.T) {
			old := testInstance("c1", "web-01", 31000, 100, "alice")
			require.NoError(t, repo.SaveNew(ctx, old))

			// Reset-style swap: tear down the old instance and launch a
			// replacement in one atomic batch
			replacement := testInstance("c2", "web-01", 31001, 200, "alice")
			err := repo.Pipelined(ctx, func(p storage.Pipeline) error {
				repo.AppendDelete(p, old)
				repo.AppendAvoid(p, "alice", old.ContainerID)
				return repo.AppendSaveNew(p, replacement)
			})
			require.NoError(t, err)

			_, err = repo.Get(ctx, "c1")
			assert.ErrorIs(t, err, ErrInstanceNotFound)

			got, err := repo.AssignedInstance(ctx, "alice")
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, "c2", got.ContainerID)

			avoided, err := repo.IsAvoided(ctx, "alice", "c1")
			require.NoError(t, err)
			assert.True(t, avoided)

			used, err := repo.UsedPorts(ctx)
			require.NoError(t, err)
			assert.False(t, used[31000])
			assert.True(t, used[31001])
		})
	}
}

func TestRepositoryAssignedInstanceDangling(t *testing.T) {
	ctx := context.Background()
	for name, repo := range newTestRepos(t) {
		t.Run(name, func(t *testing.T) {
			inst := testInstance("c1", "web-01", 31000, 100, "alice")
			require.NoError(t, repo.SaveNew(ctx, inst))

			// Simulate a record deleted out from under the assignment
			require.NoError(t, repo.store.Del(ctx, "c1"))

			got, err := repo.AssignedInstance(ctx, "alice")
			require.NoError(t, err)
			assert.Nil(t, got)

			// Listings skip the dangling index entry
			all, err := repo.List(ctx)
			require.NoError(t, err)
			assert.Empty(t, all)
		})
	}
}

func TestRepositoryCountAllTimeEmpty(t *testing.T) {
	ctx := context.Background()
	for name, repo := range newTestRepos(t) {
		t.Run(name, func(t *testing.T) {
			n, err := repo.CountAllTime(ctx)
			require.NoError(t, err)
			assert.Equal(t, int64(0), n)
		})
	}
}

func TestRepositoryUpdateDoesNotTouchIndices(t *testing.T) {
	ctx := context.Background()
	for name, repo := range newTestRepos(t) {
		t.Run(name, func(t *testing.T) {
			inst := testInstance("c1", "web-01", 31000, 100)
			require.NoError(t, repo.SaveNew(ctx, inst))

			inst.Attach("alice")
			require.NoError(t, repo.Update(ctx, inst))

			got, err := repo.Get(ctx, "c1")
			require.NoError(t, err)
			assert.Equal(t, []string{"alice"}, got.Users)

			// Update alone does not create an assignment
			id, err := repo.Assignment(ctx, "alice")
			require.NoError(t, err)
			assert.Empty(t, id)

			n, err := repo.CountAllTime(ctx)
			require.NoError(t, err)
			assert.Equal(t, int64(1), n, "update must not bump the launch counter")
		})
	}
}

func TestRepositoryMarshalNormalizesNilUsers(t *testing.T) {
	ctx := context.Background()
	repos := newTestRepos(t)
	repo := repos["bolt"]

	inst := &types.Instance{ContainerID: "c1", Challenge: "web-01", ExternalPort: 31000, UserLimit: 2}
	require.NoError(t, repo.SaveNew(ctx, inst))

	got, err := repo.Get(ctx, "c1")
	require.NoError(t, err)
	require.NotNil(t, got.Users)
	assert.Empty(t, got.Users)
}

func TestRepositoryErrInstanceNotFoundWrapping(t *testing.T) {
	ctx := context.Background()
	repos := newTestRepos(t)
	repo := repos["redis"]

	_, err := repo.Get(ctx, "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInstanceNotFound))
	assert.Contains(t, err.Error(), "missing")
}
