package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dray-io/housekeeper/internal/catalog"
	"github.com/dray-io/housekeeper/internal/housekeeping"
	"github.com/dray-io/housekeeper/internal/logging"
	"github.com/dray-io/housekeeper/internal/objectstore"
	"github.com/dray-io/housekeeper/internal/store"
)

type deniedStore struct {
	*objectstore.MockStore
}

func (deniedStore) List(ctx context.Context, bucket, prefix string) ([]objectstore.ObjectMeta, error) {
	return nil, &objectstore.ObjectError{Op: "List", Bucket: bucket, Key: prefix, Err: objectstore.ErrAccessDenied}
}

type brokenCatalog struct {
	*catalog.MockCatalog
}

func (brokenCatalog) TableExists(ctx context.Context, database, table string) (bool, error) {
	return false, errors.New("connection refused")
}

func TestHealthServer_Readyz_AllHealthy(t *testing.T) {
	ctx := context.Background()
	st, err := store.OpenInMemory(ctx, housekeeping.SystemClock{})
	require.NoError(t, err)
	defer st.Close()

	h := NewHealthServer(":0", logging.Nop())
	h.RegisterReadinessCheck(NewStoreChecker(st))
	h.RegisterReadinessCheck(NewObjectStoreChecker(objectstore.NewMockStore(), []string{"lake"}))
	h.RegisterReadinessCheck(NewCatalogChecker(catalog.NewMockCatalog()))

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	w := httptest.NewRecorder()
	h.mux().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	status := decodeStatus(t, w)
	assert.Equal(t, "ok", status.Status)
	for _, name := range []string{"record_store", "object_store", "catalog", "shutdown"} {
		assert.True(t, status.Checks[name].Healthy, name)
	}
}

func TestHealthServer_Readyz_ClosedStore(t *testing.T) {
	ctx := context.Background()
	st, err := store.OpenInMemory(ctx, housekeeping.SystemClock{})
	require.NoError(t, err)
	require.NoError(t, st.Close())

	h := NewHealthServer(":0", logging.Nop())
	h.RegisterReadinessCheck(NewStoreChecker(st))

	status := h.CheckReadiness(ctx)
	assert.Equal(t, "not_ready", status.Status)
	assert.False(t, status.Checks["record_store"].Healthy)
}

func TestHealthServer_Readyz_UnhealthyDependencies(t *testing.T) {
	h := NewHealthServer(":0", logging.Nop())
	h.RegisterReadinessCheck(NewObjectStoreChecker(deniedStore{objectstore.NewMockStore()}, []string{"lake"}))
	h.RegisterReadinessCheck(NewCatalogChecker(brokenCatalog{catalog.NewMockCatalog()}))

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	w := httptest.NewRecorder()
	h.mux().ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	status := decodeStatus(t, w)
	assert.Equal(t, "not_ready", status.Status)

	objCheck := status.Checks["object_store"]
	assert.False(t, objCheck.Healthy)
	assert.True(t, strings.Contains(objCheck.Message, "bucket lake"), objCheck.Message)
	assert.False(t, status.Checks["catalog"].Healthy)
}

func TestHealthServer_Readyz_ShuttingDown(t *testing.T) {
	h := NewHealthServer(":0", logging.Nop())
	h.RegisterReadinessCheck(NewFuncChecker("never-called", func(context.Context) error {
		t.Error("checks must not run while shutting down")
		return nil
	}))
	h.SetShuttingDown()

	status := h.CheckReadiness(context.Background())
	assert.Equal(t, "shutting_down", status.Status)
}

func TestHealthServer_Readyz_Timeout(t *testing.T) {
	h := NewHealthServer(":0", logging.Nop())
	h.SetReadinessTimeout(20 * time.Millisecond)
	h.RegisterReadinessCheck(NewFuncChecker("slow", func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
			return nil
		}
	}))

	status := h.CheckReadiness(context.Background())
	assert.Equal(t, "not_ready", status.Status)
	assert.Contains(t, status.Checks["slow"].Message, "deadline exceeded")
}

func TestCheckers_NotConfigured(t *testing.T) {
	ctx := context.Background()
	assert.Error(t, NewStoreChecker(nil).CheckReady(ctx))
	assert.Error(t, NewObjectStoreChecker(nil, []string{"lake"}).CheckReady(ctx))
	assert.Error(t, NewCatalogChecker(nil).CheckReady(ctx))
	assert.NoError(t, NewFuncChecker("noop", nil).CheckReady(ctx))
}

func TestReadinessChecksRunConcurrently(t *testing.T) {
	h := NewHealthServer(":0", logging.Nop())
	release := make(chan struct{})
	var started sync.WaitGroup
	started.Add(2)
	for _, name := range []string{"first", "second"} {
		h.RegisterReadinessCheck(NewFuncChecker(name, func(ctx context.Context) error {
			started.Done()
			<-release
			return nil
		}))
	}

	go func() {
		// Both checks must be in flight at once for this to return.
		started.Wait()
		close(release)
	}()

	status := h.CheckReadiness(context.Background())
	assert.Equal(t, StatusOK, status.Status)
	assert.True(t, status.Checks["first"].Healthy)
	assert.True(t, status.Checks["second"].Healthy)
}
