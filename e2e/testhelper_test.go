package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/innovotech/mediadrop/internal/auth"
	"github.com/innovotech/mediadrop/internal/client"
	"github.com/innovotech/mediadrop/internal/config"
	"github.com/innovotech/mediadrop/internal/handler"
	"github.com/innovotech/mediadrop/internal/logger"
	"github.com/innovotech/mediadrop/internal/metrics"
	"github.com/innovotech/mediadrop/internal/pipeline"
	"github.com/innovotech/mediadrop/internal/server"
	"github.com/innovotech/mediadrop/internal/service"
	ws "github.com/innovotech/mediadrop/internal/websocket"
	"github.com/innovotech/mediadrop/internal/worker"
)

const (
	testJWTSecret = "test-secret-for-e2e"
	testBaseURL   = "https://results.example"
	testBlobURL   = "http://blobs.example"
)

// stubMusic answers Compose with a fixed buffer or error. Like the real
// upstream it rejects lengths outside 10s..5min.
type stubMusic struct {
	err error
}

func (s *stubMusic) Compose(ctx context.Context, req *client.ComposeRequest) (client.AudioPayload, error) {
	if s.err != nil {
		return nil, s.err
	}
	if req.MusicLengthMs != 0 && (req.MusicLengthMs < 10000 || req.MusicLengthMs > 300000) {
		return nil, &client.APIError{Service: "elevenlabs", StatusCode: 422, Body: "music_length_ms out of range"}
	}
	return client.AudioBuffer("ID3-fake-mp3"), nil
}

// stubImages answers FetchSource and Edit with fixed bytes or errors.
type stubImages struct {
	fetchErr error
	editErr  error
}

func (s *stubImages) FetchSource(ctx context.Context, url string) ([]byte, error) {
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	if !strings.HasPrefix(url, "https://") && !strings.HasPrefix(url, "http://") {
		return nil, fmt.Errorf("fetch source image: unsupported protocol scheme in %q", url)
	}
	return []byte("source-png"), nil
}

func (s *stubImages) Edit(ctx context.Context, source []byte, prompt, size string) ([]byte, error) {
	if s.editErr != nil {
		return nil, s.editErr
	}
	return []byte("edited-png"), nil
}

// recordingGateway records every sent file.
type recordingGateway struct {
	mu       sync.Mutex
	err      error
	captions []string
	urls     []string
}

func (g *recordingGateway) SendFile(ctx context.Context, fileURL, fileName, caption string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return "", g.err
	}
	g.captions = append(g.captions, caption)
	g.urls = append(g.urls, fileURL)
	return "msg-" + fileName, nil
}

func (g *recordingGateway) sent() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.captions...)
}

// testApp holds all components needed for testing
type testApp struct {
	app     *fiber.App
	music   *stubMusic
	images  *stubImages
	gateway *recordingGateway
	blobDir string
	timers  *service.TimerCleanupScheduler
}

// setupApp wires the real router, orchestrator, result store and cleanup
// worker on top of a temporary filesystem blob store. Only the upstream
// generators and the messaging gateway are stubbed.
func setupApp(t *testing.T) *testApp {
	t.Helper()

	cfg := &config.Config{
		Server: config.ServerConfig{
			Env:           "test",
			LogLevel:      "error",
			PublicBaseURL: testBaseURL,
		},
		RateLimit: config.RateLimitConfig{GeneratePerHour: 10000, ResultPerMin: 10000},
		Pipeline: config.PipelineConfig{
			CleanupDelay:         50 * time.Millisecond,
			DefaultMusicPrompt:   "Upbeat electronic music with synth, bass, and drums",
			DefaultMusicLengthMs: 30000,
			ResultCacheSize:      16,
		},
	}
	log := logger.Nop()

	blobDir := t.TempDir()
	blobs, err := client.NewFilesystemStore(blobDir, testBlobURL)
	if err != nil {
		t.Fatalf("blob store: %v", err)
	}

	reg := prometheus.NewRegistry()
	m := metrics.MustNewMetrics(reg)

	timers := service.NewTimerCleanupScheduler(worker.NewCleanupWorker(blobs, m, log), log)
	t.Cleanup(timers.Wait)

	results, err := service.NewResultService(blobs, cfg.Pipeline.ResultCacheSize, log)
	if err != nil {
		t.Fatalf("result service: %v", err)
	}

	verifier, err := auth.NewHMACVerifier(testJWTSecret)
	if err != nil {
		t.Fatalf("verifier: %v", err)
	}

	ta := &testApp{
		music:   &stubMusic{},
		images:  &stubImages{},
		gateway: &recordingGateway{},
		blobDir: blobDir,
		timers:  timers,
	}

	orchestrator := pipeline.New(pipeline.Dependencies{
		Music:   ta.music,
		Images:  ta.images,
		Gateway: ta.gateway,
		Blobs:   blobs,
		Results: results,
		Cleanup: timers,
		Metrics: m,
	}, pipeline.OptionsFromConfig(cfg), log)

	ta.app = server.NewApp(server.Deps{
		Config:    cfg,
		Log:       log,
		Generator: orchestrator,
		Results:   results,
		Verifier:  verifier,
		Hub:       ws.NewHub(log),
		Gatherer:  reg,
		BlobDir:   blobDir,
		Probes: map[string]handler.Probe{
			"storage": handler.Static(true),
			"redis":   handler.Static(false),
		},
	})

	return ta
}

// blobFiles lists what is currently stored.
func (ta *testApp) blobFiles(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir(ta.blobDir)
	if err != nil {
		t.Fatalf("read blob dir: %v", err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func (ta *testApp) readBlob(t *testing.T, blobURL string) []byte {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(ta.blobDir, filepath.Base(blobURL)))
	if err != nil {
		t.Fatalf("read blob %s: %v", blobURL, err)
	}
	return data
}

// generateToken creates an HMAC JWT token for test requests.
func generateToken(t *testing.T) string {
	t.Helper()
	v, err := auth.NewHMACVerifier(testJWTSecret)
	if err != nil {
		t.Fatalf("verifier: %v", err)
	}
	signed, err := v.GenerateToken("test-user-123", "test@example.com")
	if err != nil {
		t.Fatalf("failed to generate test token: %v", err)
	}
	return signed
}

// doRequest is a helper to perform HTTP requests against the test app.
func doRequest(app *fiber.App, method, path string, body string, headers map[string]string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequest(method, path, bodyReader)
	if err != nil {
		return nil, err
	}

	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return app.Test(req, -1)
}

// doAuthRequest performs an authenticated request.
func doAuthRequest(t *testing.T, app *fiber.App, method, path, body string) (*http.Response, error) {
	t.Helper()
	token := generateToken(t)
	return doRequest(app, method, path, body, map[string]string{
		"Authorization": "Bearer " + token,
	})
}

// readBody reads and returns the response body as a string.
func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	return string(b)
}

// parseJSON parses response body into a map.
func parseJSON(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	body := readBody(t, resp)
	var result map[string]interface{}
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		t.Fatalf("failed to parse JSON: %v\nbody: %s", err, body)
	}
	return result
}

// assertStatus checks the HTTP status code.
func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("expected status %d, got %d", expected, resp.StatusCode)
	}
}

// errorCode extracts error.code from an error envelope.
func errorCode(t *testing.T, result map[string]interface{}) string {
	t.Helper()
	errObj, ok := result["error"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected error object in response, got %v", result)
	}
	code, _ := errObj["code"].(string)
	return code
}
