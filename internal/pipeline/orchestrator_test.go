package pipeline

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/innovotech/mediadrop/internal/client"
	"github.com/innovotech/mediadrop/internal/metrics"
	"github.com/innovotech/mediadrop/internal/model"
)

// --- fakes ---

type fakeMusic struct {
	payload  client.AudioPayload
	err      error
	panicMsg string
	wait     <-chan struct{}

	mu     sync.Mutex
	got    *client.ComposeRequest
	ctxErr error
}

func (f *fakeMusic) Compose(ctx context.Context, req *client.ComposeRequest) (client.AudioPayload, error) {
	if f.wait != nil {
		<-f.wait
	}
	f.mu.Lock()
	f.got = req
	f.ctxErr = ctx.Err()
	f.mu.Unlock()
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	return f.payload, f.err
}

type fakeImages struct {
	source   []byte
	edited   []byte
	fetchErr error
	editErr  error
	afterRun func()

	mu        sync.Mutex
	gotURL    string
	gotSize   string
	gotPrompt string
}

func (f *fakeImages) FetchSource(ctx context.Context, imageURL string) ([]byte, error) {
	f.mu.Lock()
	f.gotURL = imageURL
	f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return f.source, nil
}

func (f *fakeImages) Edit(ctx context.Context, source []byte, prompt, size string) ([]byte, error) {
	f.mu.Lock()
	f.gotPrompt = prompt
	f.gotSize = size
	f.mu.Unlock()
	if f.afterRun != nil {
		defer f.afterRun()
	}
	if f.editErr != nil {
		return nil, f.editErr
	}
	return f.edited, nil
}

type sentFile struct {
	URL, FileName, Caption string
}

type fakeGateway struct {
	failPrefix string
	delay      time.Duration

	mu        sync.Mutex
	sent      []sentFile
	active    int32
	maxActive int32
}

func (f *fakeGateway) SendFile(ctx context.Context, fileURL, fileName, caption string) (string, error) {
	n := atomic.AddInt32(&f.active, 1)
	defer atomic.AddInt32(&f.active, -1)
	for {
		old := atomic.LoadInt32(&f.maxActive)
		if n <= old || atomic.CompareAndSwapInt32(&f.maxActive, old, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentFile{URL: fileURL, FileName: fileName, Caption: caption})
	if f.failPrefix != "" && strings.HasPrefix(fileName, f.failPrefix) {
		return "", &client.APIError{Service: "greenapi", StatusCode: http.StatusBadGateway, Body: "gateway down"}
	}
	return "msg-" + fileName, nil
}

type memBlobs struct {
	failContentType string
	// stallContentType makes Put block until its context ends.
	stallContentType string

	mu      sync.Mutex
	objects map[string][]byte
}

func newMemBlobs() *memBlobs {
	return &memBlobs{objects: map[string][]byte{}}
}

func (m *memBlobs) Put(ctx context.Context, name string, data []byte, opts client.PutOptions) (string, error) {
	if opts.ContentType == m.failContentType {
		return "", errors.New("storage unavailable")
	}
	if opts.ContentType == m.stallContentType {
		<-ctx.Done()
		return "", ctx.Err()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[name] = data
	return "https://blob.test/" + name, nil
}

func (m *memBlobs) Delete(ctx context.Context, blobURL string) error { return nil }

func (m *memBlobs) List(ctx context.Context, prefix string) ([]client.BlobInfo, error) {
	return nil, nil
}

func (m *memBlobs) Get(ctx context.Context, name string) ([]byte, error) {
	return nil, client.ErrBlobNotFound
}

type fakeResults struct {
	err   error
	stall bool

	mu      sync.Mutex
	records []*model.ResultRecord
}

func (f *fakeResults) Create(ctx context.Context, record *model.ResultRecord) error {
	if f.stall {
		<-ctx.Done()
		return ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.records = append(f.records, record)
	return nil
}

type fakeCleanup struct {
	mu     sync.Mutex
	tasks  []model.CleanupTaskPayload
	delays []time.Duration
}

func (f *fakeCleanup) Schedule(ctx context.Context, task model.CleanupTaskPayload, delay time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks = append(f.tasks, task)
	f.delays = append(f.delays, delay)
	return nil
}

func (f *fakeCleanup) urls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, t := range f.tasks {
		out = append(out, t.BlobURL)
	}
	return out
}

type recordingProgress struct {
	mu       sync.Mutex
	stages   []string
	complete int
}

func (r *recordingProgress) Progress(requestID string, artifact model.ArtifactKind, stage model.Stage, detail string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stages = append(r.stages, string(artifact)+"."+string(stage))
}

func (r *recordingProgress) Complete(requestID string, result interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.complete++
}

// --- harness ---

type harness struct {
	music    *fakeMusic
	images   *fakeImages
	gateway  *fakeGateway
	blobs    *memBlobs
	results  *fakeResults
	cleanup  *fakeCleanup
	progress *recordingProgress
	opts     Options
}

func newHarness() *harness {
	return &harness{
		music:    &fakeMusic{payload: client.AudioBuffer("mp3-bytes")},
		images:   &fakeImages{source: []byte("src"), edited: []byte("png-bytes")},
		gateway:  &fakeGateway{},
		blobs:    newMemBlobs(),
		results:  &fakeResults{},
		cleanup:  &fakeCleanup{},
		progress: &recordingProgress{},
		opts: Options{
			PublicBaseURL: "https://innovotechmarket.vercel.app",
			CleanupDelay:  60 * time.Second,
		},
	}
}

func (h *harness) build() *Orchestrator {
	o := New(Dependencies{
		Music:    h.music,
		Images:   h.images,
		Gateway:  h.gateway,
		Blobs:    h.blobs,
		Results:  h.results,
		Cleanup:  h.cleanup,
		Progress: h.progress,
		Metrics:  metrics.MustNewMetrics(prometheus.NewRegistry()),
	}, h.opts, zerolog.Nop())
	o.now = func() time.Time { return time.UnixMilli(1700000000000) }
	o.newID = func() string { return "0b6f2f3e-4c1a-4f7e-9a1b-2c3d4e5f6a7b" }
	return o
}

func baseRequest(deliver model.DeliveryMode) model.GenerationRequest {
	return model.GenerationRequest{
		ImageURL:    "https://x/y.png",
		ImagePrompt: "add sunglasses",
		Deliver:     deliver,
	}
}

var upstream500 = &client.APIError{Service: "elevenlabs", StatusCode: http.StatusInternalServerError, Body: "internal"}

// --- tests ---

func TestGenerate_BothSucceedWhatsApp(t *testing.T) {
	h := newHarness()
	resp := h.build().Generate(context.Background(), baseRequest(model.DeliverWhatsApp), "req-1")

	assert.True(t, resp.Success)
	assert.True(t, resp.Music.Success)
	assert.Equal(t, "msg-song_1700000000000.mp3", resp.Music.MessageID)
	assert.Equal(t, "song_1700000000000.mp3", resp.Music.FileName)
	assert.True(t, resp.Image.Success)
	assert.Equal(t, "msg-image_1700000000000.png", resp.Image.MessageID)
	assert.Empty(t, resp.ResultURL)
	assert.Empty(t, h.results.records)

	assert.ElementsMatch(t, []string{
		"https://blob.test/song_1700000000000.mp3",
		"https://blob.test/image_1700000000000.png",
	}, h.cleanup.urls())
	assert.Equal(t, []time.Duration{60 * time.Second, 60 * time.Second}, h.cleanup.delays)
	assert.Equal(t, 1, h.progress.complete)
}

func TestGenerate_DefaultsApplied(t *testing.T) {
	h := newHarness()
	resp := h.build().Generate(context.Background(), baseRequest(""), "req-defaults")

	require.True(t, resp.Success)
	require.NotNil(t, h.music.got)
	assert.Equal(t, "Upbeat electronic music with synth, bass, and drums", h.music.got.Prompt)
	assert.Equal(t, 30000, h.music.got.MusicLengthMs)
	assert.Equal(t, "1024x1024", h.images.gotSize)
	// default sink is messaging
	assert.Len(t, h.gateway.sent, 2)
}

func TestGenerate_CaptionsEchoPrompts(t *testing.T) {
	h := newHarness()
	req := baseRequest(model.DeliverWhatsApp)
	req.MusicPrompt = "lofi"
	h.build().Generate(context.Background(), req, "req-captions")

	captions := map[string]string{}
	for _, s := range h.gateway.sent {
		captions[s.FileName] = s.Caption
	}
	assert.Equal(t, "🎵 lofi", captions["song_1700000000000.mp3"])
	assert.Equal(t, "🎨 add sunglasses", captions["image_1700000000000.png"])
}

func TestGenerate_LyricsBuildCompositionPlan(t *testing.T) {
	h := newHarness()
	req := baseRequest(model.DeliverWhatsApp)
	req.Lyrics = "first\n\n  second  \n"
	h.build().Generate(context.Background(), req, "req-lyrics")

	require.NotNil(t, h.music.got.CompositionPlan)
	assert.Equal(t, []string{"first", "second"}, h.music.got.CompositionPlan.Sections[0].Lines)
}

func TestGenerate_MusicFailsImageSucceeds(t *testing.T) {
	for _, mode := range model.ValidDeliveryModes {
		t.Run(string(mode), func(t *testing.T) {
			h := newHarness()
			h.music.err = upstream500

			resp := h.build().Generate(context.Background(), baseRequest(mode), "req-partial")

			assert.True(t, resp.Success)
			assert.False(t, resp.Music.Success)
			assert.NotEmpty(t, resp.Music.Error)
			assert.Contains(t, resp.Music.Error, "status 500")
			assert.True(t, resp.Image.Success)
		})
	}
}

func TestGenerate_LinkOnlySuccessfulArtifacts(t *testing.T) {
	h := newHarness()
	h.images.editErr = errors.New("content policy")

	resp := h.build().Generate(context.Background(), baseRequest(model.DeliverLink), "req-link")

	assert.True(t, resp.Success)
	assert.Equal(t, "https://innovotechmarket.vercel.app/result/0b6f2f3e-4c1a-4f7e-9a1b-2c3d4e5f6a7b", resp.ResultURL)
	require.Len(t, h.results.records, 1)
	rec := h.results.records[0]
	require.NotNil(t, rec.Music)
	assert.Nil(t, rec.Image)
	assert.Equal(t, model.ResultMedia{
		URL:      "https://blob.test/song_1700000000000.mp3",
		Prompt:   "Upbeat electronic music with synth, bass, and drums",
		FileName: "song_1700000000000.mp3",
	}, *rec.Music)

	// no messaging sink: generation status only
	assert.Empty(t, resp.Music.MessageID)
	assert.Equal(t, "song_1700000000000.mp3", resp.Music.FileName)
	assert.Empty(t, h.gateway.sent)
	// blobs referenced by the record are kept
	assert.Empty(t, h.cleanup.urls())
}

func TestGenerate_LinkBothFail(t *testing.T) {
	h := newHarness()
	h.music.err = upstream500
	h.images.fetchErr = &client.APIError{Service: "source image", StatusCode: http.StatusNotFound}

	resp := h.build().Generate(context.Background(), baseRequest(model.DeliverLink), "req-nothing")

	assert.False(t, resp.Success)
	assert.Empty(t, resp.ResultURL)
	assert.Empty(t, h.results.records)
	assert.Empty(t, h.cleanup.urls())
	assert.Contains(t, resp.Image.Error, "image fetch failed")
}

func TestGenerate_ConcreteScenarioBoth(t *testing.T) {
	h := newHarness()
	h.music.err = upstream500

	resp := h.build().Generate(context.Background(), model.GenerationRequest{
		ImageURL:    "https://x/y.png",
		ImagePrompt: "add sunglasses",
		Deliver:     model.DeliverBoth,
	}, "req-scenario")

	assert.True(t, resp.Success)
	assert.False(t, resp.Music.Success)
	assert.NotEmpty(t, resp.Music.Error)
	assert.True(t, resp.Image.Success)
	assert.Equal(t, "image_1700000000000.png", resp.Image.FileName)
	assert.Equal(t, "msg-image_1700000000000.png", resp.Image.MessageID)
	assert.Equal(t, "https://innovotechmarket.vercel.app/result/0b6f2f3e-4c1a-4f7e-9a1b-2c3d4e5f6a7b", resp.ResultURL)

	require.Len(t, h.results.records, 1)
	assert.Nil(t, h.results.records[0].Music)
	require.NotNil(t, h.results.records[0].Image)
	assert.Equal(t, "add sunglasses", h.results.records[0].Image.Prompt)
	assert.Empty(t, h.cleanup.urls())
	assert.Equal(t, "https://x/y.png", h.images.gotURL)
}

func TestGenerate_DeliveryFailureIsPerArtifact(t *testing.T) {
	h := newHarness()
	h.gateway.failPrefix = "song_"

	resp := h.build().Generate(context.Background(), baseRequest(model.DeliverWhatsApp), "req-delivery")

	assert.True(t, resp.Success)
	assert.False(t, resp.Music.Success)
	assert.Contains(t, resp.Music.Error, "music deliver failed")
	assert.Equal(t, "song_1700000000000.mp3", resp.Music.FileName)
	assert.True(t, resp.Image.Success)
	assert.NotEmpty(t, resp.Image.MessageID)
	// both uploads are still cleaned up
	assert.Len(t, h.cleanup.urls(), 2)
}

func TestGenerate_PanicIsContained(t *testing.T) {
	h := newHarness()
	h.music.panicMsg = "nil map write"

	resp := h.build().Generate(context.Background(), baseRequest(model.DeliverWhatsApp), "req-panic")

	assert.True(t, resp.Success)
	assert.False(t, resp.Music.Success)
	assert.Contains(t, resp.Music.Error, "panic")
	assert.True(t, resp.Image.Success)
}

func TestGenerate_UnsupportedPayloadFails(t *testing.T) {
	h := newHarness()
	h.music.payload = nil

	resp := h.build().Generate(context.Background(), baseRequest(model.DeliverWhatsApp), "req-payload")

	assert.False(t, resp.Music.Success)
	assert.Contains(t, resp.Music.Error, "music drain failed")
	assert.True(t, resp.Image.Success)
}

func TestGenerate_UploadFailureDemotesOutcome(t *testing.T) {
	h := newHarness()
	h.blobs.failContentType = "image/png"

	resp := h.build().Generate(context.Background(), baseRequest(model.DeliverWhatsApp), "req-upload")

	assert.True(t, resp.Success)
	assert.False(t, resp.Image.Success)
	assert.Contains(t, resp.Image.Error, "image upload failed")
	require.Len(t, h.gateway.sent, 1)
	assert.Equal(t, []string{"https://blob.test/song_1700000000000.mp3"}, h.cleanup.urls())
}

func TestGenerate_StalledUploadTimesOut(t *testing.T) {
	h := newHarness()
	h.opts.StorageTimeout = 50 * time.Millisecond
	h.blobs.stallContentType = "image/png"

	done := make(chan *model.GenerationResponse, 1)
	go func() {
		done <- h.build().Generate(context.Background(), baseRequest(model.DeliverWhatsApp), "req-stall")
	}()

	select {
	case resp := <-done:
		assert.True(t, resp.Success)
		assert.True(t, resp.Music.Success)
		assert.False(t, resp.Image.Success)
		assert.Contains(t, resp.Image.Error, "image upload failed")
		assert.Contains(t, resp.Image.Error, context.DeadlineExceeded.Error())
		require.Len(t, h.gateway.sent, 1)
	case <-time.After(5 * time.Second):
		t.Fatal("a stalled upload held the request open")
	}
}

func TestGenerate_StalledResultWriteTimesOut(t *testing.T) {
	h := newHarness()
	h.opts.StorageTimeout = 50 * time.Millisecond
	h.results.stall = true

	done := make(chan *model.GenerationResponse, 1)
	go func() {
		done <- h.build().Generate(context.Background(), baseRequest(model.DeliverLink), "req-stall-result")
	}()

	select {
	case resp := <-done:
		assert.True(t, resp.Success)
		assert.Empty(t, resp.ResultURL)
		assert.NotEmpty(t, resp.ResultError)
		assert.Len(t, h.cleanup.urls(), 2)
	case <-time.After(5 * time.Second):
		t.Fatal("a stalled result write held the request open")
	}
}

func TestGenerate_PipelinesRunConcurrently(t *testing.T) {
	h := newHarness()
	imageDone := make(chan struct{})
	// music cannot start until the image pipeline has edited its image
	h.music.wait = imageDone
	h.images.afterRun = func() { close(imageDone) }

	done := make(chan *model.GenerationResponse, 1)
	go func() {
		done <- h.build().Generate(context.Background(), baseRequest(model.DeliverWhatsApp), "req-concurrent")
	}()

	select {
	case resp := <-done:
		assert.True(t, resp.Music.Success)
		assert.True(t, resp.Image.Success)
	case <-time.After(5 * time.Second):
		t.Fatal("pipelines did not run concurrently")
	}
}

func TestGenerate_DetachedFromCallerCancellation(t *testing.T) {
	h := newHarness()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	resp := h.build().Generate(ctx, baseRequest(model.DeliverWhatsApp), "req-cancelled")

	assert.True(t, resp.Success)
	assert.NoError(t, h.music.ctxErr)
}

func TestGenerate_DeliveryIsSerializedByDefault(t *testing.T) {
	h := newHarness()
	h.gateway.delay = 20 * time.Millisecond

	h.build().Generate(context.Background(), baseRequest(model.DeliverWhatsApp), "req-serial")

	assert.Equal(t, int32(1), atomic.LoadInt32(&h.gateway.maxActive))
	require.Len(t, h.gateway.sent, 2)
	assert.Equal(t, "song_1700000000000.mp3", h.gateway.sent[0].FileName)
}

func TestGenerate_ParallelDelivery(t *testing.T) {
	h := newHarness()
	h.opts.ParallelDelivery = true
	h.gateway.delay = 100 * time.Millisecond

	resp := h.build().Generate(context.Background(), baseRequest(model.DeliverWhatsApp), "req-parallel")

	assert.True(t, resp.Music.Success)
	assert.True(t, resp.Image.Success)
	assert.Equal(t, int32(2), atomic.LoadInt32(&h.gateway.maxActive))
}

func TestGenerate_ResultPersistFailureFallsBackToCleanup(t *testing.T) {
	h := newHarness()
	h.results.err = errors.New("bucket unavailable")

	resp := h.build().Generate(context.Background(), baseRequest(model.DeliverLink), "req-result-fail")

	assert.True(t, resp.Success)
	assert.Empty(t, resp.ResultURL)
	assert.Contains(t, resp.ResultError, "bucket unavailable")
	assert.Len(t, h.cleanup.urls(), 2)
}

func TestGenerate_RecordCarriesDecoration(t *testing.T) {
	h := newHarness()
	req := baseRequest(model.DeliverLink)
	req.Message = "Happy birthday!"
	req.BgColor = model.BackgroundPink

	h.build().Generate(context.Background(), req, "req-decor")

	require.Len(t, h.results.records, 1)
	assert.Equal(t, "Happy birthday!", h.results.records[0].Message)
	assert.Equal(t, model.BackgroundPink, h.results.records[0].BgColor)
	assert.Equal(t, "0b6f2f3e-4c1a-4f7e-9a1b-2c3d4e5f6a7b", h.results.records[0].ID)
}

func TestGenerate_ProgressEvents(t *testing.T) {
	h := newHarness()
	h.build().Generate(context.Background(), baseRequest(model.DeliverWhatsApp), "req-progress")

	assert.Subset(t, h.progress.stages, []string{
		"music.started", "music.generated", "music.uploaded", "music.delivered",
		"image.started", "image.generated", "image.uploaded", "image.delivered",
	})
}

func TestRunMusic(t *testing.T) {
	h := newHarness()
	resp, ok := h.build().RunMusic(context.Background(), model.MusicOnlyRequest{Prompt: "jazz"}, "req-music")

	assert.True(t, ok)
	assert.True(t, resp.Success)
	assert.Equal(t, "song_1700000000000.mp3", resp.FileName)
	assert.Equal(t, "msg-song_1700000000000.mp3", resp.MessageID)
	assert.NotEmpty(t, resp.Message)
	assert.Equal(t, []string{"https://blob.test/song_1700000000000.mp3"}, h.cleanup.urls())
	assert.Equal(t, "🎵 jazz", h.gateway.sent[0].Caption)
}

func TestRunImage_Failure(t *testing.T) {
	h := newHarness()
	h.images.editErr = &client.APIError{Service: "openai", StatusCode: http.StatusBadRequest, Body: "invalid size"}

	resp, ok := h.build().RunImage(context.Background(), model.ImageOnlyRequest{ImageURL: "https://x/y.png", Prompt: "p"}, "req-image")

	assert.False(t, ok)
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "invalid size")
	assert.Empty(t, h.gateway.sent)
	assert.Empty(t, h.cleanup.urls())
}
