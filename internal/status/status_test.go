package status

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jveski/cracpack/internal/rpc"
	"github.com/jveski/cracpack/internal/testresources"
	"github.com/jveski/cracpack/internal/workflow"
)

func TestStore(t *testing.T) {
	s := &Store{}
	s.Observe(workflow.Snapshot{Target: "worker", State: workflow.StateConfigured})
	s.Observe(workflow.Snapshot{Target: "main", State: workflow.StateConfigured})
	s.Observe(workflow.Snapshot{Target: "main", State: workflow.StateCheckpointImageBuilt})

	list := s.List()
	require.Len(t, list, 2)
	assert.Equal(t, "main", list[0].Snapshot.Target)
	assert.Equal(t, uint64(2), list[0].Version)
	assert.Equal(t, workflow.StateCheckpointImageBuilt, list[0].Snapshot.State)
	assert.Equal(t, "worker", list[1].Snapshot.Target)
	assert.Equal(t, uint64(1), list[1].Version)

	_, ok := s.Get("nope")
	assert.False(t, ok)
}

func startTestServer(t *testing.T, store *Store, token string, poll time.Duration) (*Server, *Client) {
	logger, _ := test.NewNullLogger()
	timeout := 5
	svr, err := Start(store, &Options{
		Token:         token,
		SettingsDir:   t.TempDir(),
		ClientTimeout: &timeout,
		PollTimeout:   poll,
		Log:           logger,
	})
	require.NoError(t, err)
	t.Cleanup(func() { svr.Close(context.Background()) })

	settings, err := testresources.ReadServerSettings(svr.Settings)
	require.NoError(t, err)
	assert.Equal(t, svr.Port, settings.Port)
	return svr, NewClient(settings)
}

func TestServerList(t *testing.T) {
	store := &Store{}
	updated := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	store.Observe(workflow.Snapshot{Target: "main", RunID: "abc", State: workflow.StateContainerRunning, Container: "c1", Updated: updated})

	svr, cli := startTestServer(t, store, "secret", 0)
	assert.Equal(t, "test-resources.properties", filepath.Base(svr.Settings))

	buf, err := os.ReadFile(svr.Settings)
	require.NoError(t, err)
	assert.Contains(t, string(buf), "server.access.token=secret\n")

	list, err := cli.List(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, uint64(1), list[0].Version)
	snap := list[0].Snapshot
	assert.Equal(t, "main", snap.Target)
	assert.Equal(t, "abc", snap.RunID)
	assert.Equal(t, workflow.StateContainerRunning, snap.State)
	assert.Equal(t, "c1", snap.Container)
	assert.False(t, snap.Done)
	assert.True(t, updated.Equal(snap.Updated))
}

func TestServerUnauthorized(t *testing.T) {
	_, cli := startTestServer(t, &Store{}, "secret", 0)
	cli.rpc.Token = "wrong"

	_, err := cli.List(context.Background())
	e := &rpc.ErrUnauthorized{}
	require.ErrorAs(t, err, &e)
	assert.Equal(t, http.StatusForbidden, e.Status)
}

func TestServerLongPoll(t *testing.T) {
	store := &Store{}
	store.Observe(workflow.Snapshot{Target: "main", State: workflow.StateConfigured})
	_, cli := startTestServer(t, store, "", time.Millisecond*500)

	t.Run("version already differs", func(t *testing.T) {
		entry, err := cli.Wait(context.Background(), "main", 0)
		require.NoError(t, err)
		assert.Equal(t, uint64(1), entry.Version)
	})

	t.Run("waits for the next change", func(t *testing.T) {
		go func() {
			time.Sleep(time.Millisecond * 20)
			store.Observe(workflow.Snapshot{Target: "worker", State: workflow.StateConfigured})
			store.Observe(workflow.Snapshot{Target: "main", State: workflow.StateCheckpointImageBuilt})
		}()

		entry, err := cli.Wait(context.Background(), "main", 1)
		require.NoError(t, err)
		assert.Equal(t, uint64(2), entry.Version)
		assert.Equal(t, workflow.StateCheckpointImageBuilt, entry.Snapshot.State)
	})

	t.Run("poll window passes", func(t *testing.T) {
		entry, err := cli.Wait(context.Background(), "main", 2)
		require.NoError(t, err)
		assert.Nil(t, entry)
	})

	t.Run("unknown target", func(t *testing.T) {
		_, err := cli.Wait(context.Background(), "nope", 0)
		assert.Error(t, err)
	})
}
