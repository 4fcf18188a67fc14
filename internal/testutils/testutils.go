package testutils

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketpulse/internal/cache"
	"marketpulse/internal/logger"
)

// TestConfig configures a TestSuite.
type TestConfig struct {
	LogLevel  logger.LogLevel
	StartTime time.Time
	// MaxKeys bounds the in-memory store; 0 keeps the store default.
	MaxKeys int
}

// DefaultTestConfig returns quiet defaults.
func DefaultTestConfig() *TestConfig {
	return &TestConfig{
		LogLevel:  logger.LevelError, // keep test output quiet
		StartTime: time.Date(2024, 3, 6, 15, 0, 0, 0, time.UTC),
	}
}

// TestSuite holds an in-memory store and a fake clock shared by both.
type TestSuite struct {
	T       *testing.T
	Config  *TestConfig
	Store   *cache.MemoryStore
	Clock   *FakeClock
	Logger  logger.Logger
	TempDir string
	Cleanup []func()
}

// NewTestSuite builds a suite and registers TearDown with t.
func NewTestSuite(t *testing.T, config *TestConfig) *TestSuite {
	t.Helper()
	if config == nil {
		config = DefaultTestConfig()
	}

	clock := NewFakeClock(config.StartTime)
	store := cache.NewMemoryStore(config.MaxKeys)
	store.SetClock(clock.Now)

	suite := &TestSuite{
		T:      t,
		Config: config,
		Store:  store,
		Clock:  clock,
		Logger: logger.NewLogger(logger.Config{
			Level:  config.LogLevel,
			Format: logger.FormatText,
			Output: "stderr",
		}),
		TempDir: t.TempDir(),
	}

	t.Cleanup(suite.TearDown)
	return suite
}

// AddCleanup queues fn for TearDown.
func (s *TestSuite) AddCleanup(cleanup func()) {
	s.Cleanup = append(s.Cleanup, cleanup)
}

// TearDown runs cleanups in reverse order.
func (s *TestSuite) TearDown() {
	for i := len(s.Cleanup) - 1; i >= 0; i-- {
		s.Cleanup[i]()
	}
	s.Cleanup = nil
}

// Advance moves the suite clock, expiring store keys along the way.
func (s *TestSuite) Advance(d time.Duration) {
	s.Clock.Advance(d)
}

// CreateTempFile writes content to a file under t.TempDir.
func (s *TestSuite) CreateTempFile(name, content string) string {
	filePath := filepath.Join(s.TempDir, name)
	require.NoError(s.T, os.MkdirAll(filepath.Dir(filePath), 0755))
	require.NoError(s.T, os.WriteFile(filePath, []byte(content), 0644))
	return filePath
}

// HTTPTestHelper sends requests to a gin engine.
type HTTPTestHelper struct {
	Router *gin.Engine
	Suite  *TestSuite
}

// NewHTTPTestHelper wraps router.
func NewHTTPTestHelper(suite *TestSuite, router *gin.Engine) *HTTPTestHelper {
	gin.SetMode(gin.TestMode)
	if router == nil {
		router = gin.New()
	}
	return &HTTPTestHelper{Router: router, Suite: suite}
}

// GET sends a GET request.
func (h *HTTPTestHelper) GET(path string) *HTTPResponse {
	return h.Request(http.MethodGet, path, nil)
}

// POST sends body as JSON.
func (h *HTTPTestHelper) POST(path string, body interface{}) *HTTPResponse {
	return h.Request(http.MethodPost, path, body)
}

// Request sends a request and records the response.
func (h *HTTPTestHelper) Request(method, path string, body interface{}) *HTTPResponse {
	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		require.NoError(h.Suite.T, err)
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req := httptest.NewRequest(method, path, bodyReader)
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	h.Router.ServeHTTP(w, req)

	return &HTTPResponse{
		StatusCode: w.Code,
		Body:       w.Body.Bytes(),
		Headers:    w.Header(),
		suite:      h.Suite,
	}
}

// HTTPResponse is a recorded response.
type HTTPResponse struct {
	StatusCode int
	Body       []byte
	Headers    http.Header
	suite      *TestSuite
}

// AssertStatus checks the status code.
func (r *HTTPResponse) AssertStatus(expectedStatus int) *HTTPResponse {
	assert.Equal(r.suite.T, expectedStatus, r.StatusCode, string(r.Body))
	return r
}

// AssertContains checks the body contains s.
func (r *HTTPResponse) AssertContains(substring string) *HTTPResponse {
	assert.Contains(r.suite.T, string(r.Body), substring)
	return r
}

// DecodeJSON decodes the body into v.
func (r *HTTPResponse) DecodeJSON(target interface{}) {
	require.NoError(r.suite.T, json.Unmarshal(r.Body, target), string(r.Body))
}

// TimeoutContext returns a context cancelled at test end.
func TimeoutContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), timeout)
}

// WaitForCondition polls cond until it holds or timeout passes.
func WaitForCondition(t *testing.T, condition func() bool, timeout time.Duration, message string) {
	t.Helper()
	ctx, cancel := TimeoutContext(timeout)
	defer cancel()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		if condition() {
			return
		}
		select {
		case <-ctx.Done():
			t.Fatalf("Timeout waiting for condition: %s", message)
		case <-ticker.C:
		}
	}
}

// Eventually fails t unless cond holds within timeout.
func Eventually(t *testing.T, condition func() bool, timeout time.Duration, message string) {
	t.Helper()
	WaitForCondition(t, condition, timeout, message)
}

// SetEnv sets an env var for the rest of the test.
func SetEnv(t *testing.T, key, value string) {
	t.Helper()
	oldValue, had := os.LookupEnv(key)
	require.NoError(t, os.Setenv(key, value))

	t.Cleanup(func() {
		if had {
			os.Setenv(key, oldValue)
		} else {
			os.Unsetenv(key)
		}
	})
}
