package api

import (
	"bufio"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"cloudstash/internal/events"
	"cloudstash/internal/models"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamProgress(t *testing.T) {
	emitter := events.NewEmitter()
	router := mux.NewRouter()
	NewHandlers(new(MockEngine), nil, emitter, nil).RegisterRoutes(router)

	server := httptest.NewServer(router)
	defer server.Close()

	resp, err := http.Get(server.URL + "/api/v1/events/upload")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	require.Eventually(t, func() bool {
		return emitter.Subscribers(models.StreamUpload) == 1
	}, time.Second, 5*time.Millisecond)

	emitter.Emit(models.StreamDownload, 10)
	emitter.Emit(models.StreamUpload, 42)

	reader := bufio.NewReader(resp.Body)
	var lines []string
	for len(lines) < 2 {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}

	assert.Equal(t, "event: onUploadFilesAsyncProgress", lines[0])
	assert.Equal(t, `data: {"value":42}`, lines[1])
}

func TestStreamProgress_UnknownStream(t *testing.T) {
	router := mux.NewRouter()
	NewHandlers(new(MockEngine), nil, events.NewEmitter(), nil).RegisterRoutes(router)

	req := httptest.NewRequest("GET", "/api/v1/events/nope", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStreamProgress_NoSource(t *testing.T) {
	router := mux.NewRouter()
	NewHandlers(new(MockEngine), nil, nil, nil).RegisterRoutes(router)

	req := httptest.NewRequest("GET", "/api/v1/events/download", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
