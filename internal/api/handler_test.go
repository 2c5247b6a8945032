package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/podushkina/asynctask/internal/handlers"
	"github.com/podushkina/asynctask/internal/metrics"
	"github.com/podushkina/asynctask/internal/service"
	"github.com/podushkina/asynctask/internal/store"
	"github.com/podushkina/asynctask/internal/task"
	"github.com/podushkina/asynctask/internal/waiter"
	"github.com/podushkina/asynctask/internal/worker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRouter(t *testing.T, maxTasks int) *chi.Mux {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	s, err := store.NewRedis(mr.Addr(), "", 0, maxTasks, time.Hour)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	e := worker.NewExecutor(s, handlers.Reverse, m, logger)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		e.Shutdown(ctx)
		s.Close()
	})
	w := waiter.New(s, 5*time.Millisecond, 100*time.Millisecond, m, logger)
	svc := service.New(s, e, w, time.Hour, 2*time.Hour, m, logger)

	return NewRouter(NewHandler(svc, logger), m, reg)
}

func createTask(t *testing.T, router http.Handler, body string) *httptest.ResponseRecorder {
	req, _ := http.NewRequest("POST", "/tasks", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func getTask(router http.Handler, id string) *httptest.ResponseRecorder {
	req, _ := http.NewRequest("GET", "/tasks/"+id, nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestCreateTask(t *testing.T) {
	router := setupTestRouter(t, 10)

	rr := createTask(t, router, `{"input": "hello api"}`)
	assert.Equal(t, http.StatusAccepted, rr.Code)

	var response CreateTaskResponse
	err := json.Unmarshal(rr.Body.Bytes(), &response)
	require.NoError(t, err)
	assert.NotEmpty(t, response.TaskID)
}

func TestCreateTask_BadRequest(t *testing.T) {
	router := setupTestRouter(t, 10)

	for _, body := range []string{`{"delayMs": 10}`, `not json`, `{"input": 5}`} {
		rr := createTask(t, router, body)
		assert.Equal(t, http.StatusBadRequest, rr.Code, body)
	}
}

func TestCreateTask_DurationOutOfRange(t *testing.T) {
	router := setupTestRouter(t, 10)

	for _, body := range []string{
		`{"input": "x", "timeoutMs": 1e20}`,
		`{"input": "x", "timeoutMs": -1e20}`,
		`{"input": "x", "delayMs": 1e20}`,
	} {
		rr := createTask(t, router, body)
		assert.Equal(t, http.StatusBadRequest, rr.Code, body)
		assert.Contains(t, rr.Body.String(), "out of range", body)
	}
}

func TestCreateTask_CapacityExceeded(t *testing.T) {
	router := setupTestRouter(t, 1)

	rr := createTask(t, router, `{"input": "a"}`)
	require.Equal(t, http.StatusAccepted, rr.Code)

	rr = createTask(t, router, `{"input": "b"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)

	var response ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &response))
	assert.Equal(t, task.ErrCapacityExceeded.Error(), response.Error)
}

func TestGetTask_NotFound(t *testing.T) {
	router := setupTestRouter(t, 10)

	rr := getTask(router, "non-existent-id")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestGetTask_Success(t *testing.T) {
	router := setupTestRouter(t, 10)

	rr := createTask(t, router, `{"input": "abc", "delayMs": 0}`)
	require.Equal(t, http.StatusAccepted, rr.Code)
	var created CreateTaskResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &created))

	var response task.Snapshot
	require.Eventually(t, func() bool {
		rr := getTask(router, created.TaskID)
		if rr.Code != http.StatusOK {
			return false
		}
		json.Unmarshal(rr.Body.Bytes(), &response)
		return response.Status == task.StatusComplete
	}, 2*time.Second, 10*time.Millisecond)

	require.NotNil(t, response.Result)
	assert.Equal(t, "cba", *response.Result)
	assert.Nil(t, response.Error)
}

func TestGetTask_Pending(t *testing.T) {
	router := setupTestRouter(t, 10)

	rr := createTask(t, router, `{"input": "abc", "delayMs": 60000}`)
	var created CreateTaskResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &created))

	rr = getTask(router, created.TaskID)
	require.Equal(t, http.StatusOK, rr.Code)

	var response map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &response))
	assert.Contains(t, []any{"pending", "processing"}, response["status"])
	assert.NotContains(t, response, "result")
	assert.NotContains(t, response, "error")
}

func TestGetTask_TimedOut(t *testing.T) {
	router := setupTestRouter(t, 10)

	rr := createTask(t, router, `{"input": "abc", "delayMs": 60000, "timeoutMs": 20}`)
	var created CreateTaskResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &created))

	time.Sleep(40 * time.Millisecond)

	rr = getTask(router, created.TaskID)
	assert.Equal(t, http.StatusGatewayTimeout, rr.Code)
	assert.Contains(t, rr.Body.String(), "timed out")
}

func TestHealthAndMetrics(t *testing.T) {
	router := setupTestRouter(t, 10)

	req, _ := http.NewRequest("GET", "/health", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)

	req, _ = http.NewRequest("GET", "/metrics", nil)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `asynctask_http_requests_total{method="GET",path="/health",status="200"} 1`)
}

func TestGetTask_EmptyResult(t *testing.T) {
	router := setupTestRouter(t, 10)

	rr := createTask(t, router, `{"input": "", "delayMs": 0}`)
	require.Equal(t, http.StatusAccepted, rr.Code)
	var created CreateTaskResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &created))

	var body string
	require.Eventually(t, func() bool {
		rr := getTask(router, created.TaskID)
		body = rr.Body.String()
		return rr.Code == http.StatusOK && strings.Contains(body, `"status":"complete"`)
	}, 2*time.Second, 10*time.Millisecond)

	assert.Contains(t, body, `"result":""`)
	assert.NotContains(t, body, `"error"`)
}
