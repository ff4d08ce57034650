package servicetree_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"testing/synctest"
	"time"

	"github.com/GoCodeAlone/servicetree"
	"github.com/GoCodeAlone/servicetree/scheduler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type discardLogger struct{}

func (discardLogger) Info(string, ...any)  {}
func (discardLogger) Error(string, ...any) {}
func (discardLogger) Warn(string, ...any)  {}
func (discardLogger) Debug(string, ...any) {}

func startScheduler(t *testing.T) *scheduler.Scheduler {
	t.Helper()
	s := scheduler.NewScheduler(scheduler.WithLogger(discardLogger{}))
	require.NoError(t, s.Start(context.Background()))
	return s
}

func statusCode(t *testing.T, h http.Handler, path string) int {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec.Code
}

func TestNodeInitializesOnSchedule(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		s := startScheduler(t)
		defer func() { require.NoError(t, s.Stop(context.Background())) }()

		root, err := servicetree.NewNode("Prediction API",
			servicetree.WithScheduler(s), servicetree.WithLogger(discardLogger{}))
		require.NoError(t, err)
		query, err := servicetree.NewNode("Query Service",
			servicetree.WithScheduler(s), servicetree.WithLogger(discardLogger{}),
			servicetree.WithInitializeAfter(8*time.Second))
		require.NoError(t, err)
		require.NoError(t, root.Mount("/api/v1/query", query, "Query Service"))

		time.Sleep(4 * time.Second)
		synctest.Wait()
		assert.Equal(t, http.StatusBadRequest, statusCode(t, root, "/status"))
		assert.False(t, root.IsInitialized())

		time.Sleep(2 * time.Second)
		synctest.Wait()
		assert.True(t, root.IsInitialized())
		assert.Equal(t, http.StatusBadRequest, statusCode(t, root, "/status"), "child still initializing")
		assert.Equal(t, http.StatusBadRequest, statusCode(t, root, "/api/v1/query/status"))

		time.Sleep(3 * time.Second)
		synctest.Wait()
		assert.Equal(t, http.StatusOK, statusCode(t, root, "/api/v1/query/status"))
		assert.Equal(t, http.StatusOK, statusCode(t, root, "/status"))
		assert.Equal(t, servicetree.StateReady, root.State())

		require.NoError(t, root.Terminate(context.Background()))
	})
}

func TestUnhealthyNodeRetriesOnCron(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		s := startScheduler(t)
		defer func() { require.NoError(t, s.Stop(context.Background())) }()

		var attempts atomic.Int32
		node, err := servicetree.NewNode("Query Service",
			servicetree.WithScheduler(s),
			servicetree.WithLogger(discardLogger{}),
			servicetree.WithInitializeAfter(time.Second),
			servicetree.WithRetrySchedule("@every 1m"),
			servicetree.WithInitializer(servicetree.InitializerFunc(func(ctx context.Context) error {
				if attempts.Add(1) < 3 {
					return errors.New("artifact store unreachable")
				}
				return nil
			})),
		)
		require.NoError(t, err)

		time.Sleep(2 * time.Second)
		synctest.Wait()
		assert.Equal(t, servicetree.StateUnhealthy, node.State())
		assert.EqualError(t, node.LastError(), "artifact store unreachable")

		time.Sleep(time.Minute)
		synctest.Wait()
		assert.Equal(t, int32(2), attempts.Load())
		assert.Equal(t, servicetree.StateUnhealthy, node.State())

		time.Sleep(time.Minute)
		synctest.Wait()
		assert.Equal(t, int32(3), attempts.Load())
		assert.True(t, node.IsReady())

		// Healthy nodes are left alone by later ticks.
		time.Sleep(time.Minute)
		synctest.Wait()
		assert.Equal(t, int32(3), attempts.Load())

		require.NoError(t, node.Terminate(context.Background()))
	})
}
