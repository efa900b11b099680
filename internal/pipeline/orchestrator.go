package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"

	"github.com/innovotech/mediadrop/internal/client"
	"github.com/innovotech/mediadrop/internal/config"
	"github.com/innovotech/mediadrop/internal/metrics"
	"github.com/innovotech/mediadrop/internal/model"
)

// ResultCreator persists result records for the hosted result page.
type ResultCreator interface {
	Create(ctx context.Context, record *model.ResultRecord) error
}

// CleanupScheduler dispatches a delayed, best-effort blob deletion.
type CleanupScheduler interface {
	Schedule(ctx context.Context, task model.CleanupTaskPayload, delay time.Duration) error
}

// ProgressNotifier receives stage transitions for live progress updates.
type ProgressNotifier interface {
	Progress(requestID string, artifact model.ArtifactKind, stage model.Stage, detail string)
	Complete(requestID string, result interface{})
}

// Dependencies are the collaborators the orchestrator drives.
type Dependencies struct {
	Music    client.MusicGenerator
	Images   client.ImageEditor
	Gateway  client.DeliveryGateway
	Blobs    client.BlobStore
	Results  ResultCreator
	Cleanup  CleanupScheduler
	Progress ProgressNotifier
	Metrics  *metrics.Metrics
}

// Options tune orchestrator behavior.
type Options struct {
	PublicBaseURL        string
	CleanupDelay         time.Duration
	ParallelDelivery     bool
	DefaultMusicPrompt   string
	DefaultMusicLengthMs int
	// StorageTimeout bounds each upload and result write.
	StorageTimeout time.Duration
}

// OptionsFromConfig maps process configuration onto Options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		PublicBaseURL:        cfg.Server.PublicBaseURL,
		CleanupDelay:         cfg.Pipeline.CleanupDelay,
		ParallelDelivery:     cfg.Pipeline.ParallelDelivery,
		DefaultMusicPrompt:   cfg.Pipeline.DefaultMusicPrompt,
		DefaultMusicLengthMs: cfg.Pipeline.DefaultMusicLengthMs,
		StorageTimeout:       cfg.Storage.Timeout,
	}
}

// Outcome is the terminal state of one artifact pipeline. Err is nil on success.
type Outcome struct {
	Kind     model.ArtifactKind
	BlobURL  string
	FileName string
	Prompt   string
	Err      error
}

// Success reports whether the pipeline produced an uploaded artifact.
func (o Outcome) Success() bool {
	return o.Err == nil
}

// Orchestrator runs the music and image pipelines and fans their results out
// to the requested sinks.
type Orchestrator struct {
	deps  Dependencies
	opts  Options
	log   zerolog.Logger
	now   func() time.Time
	newID func() string
}

// New creates an Orchestrator.
func New(deps Dependencies, opts Options, log zerolog.Logger) *Orchestrator {
	if deps.Progress == nil {
		deps.Progress = noopProgress{}
	}
	if opts.DefaultMusicPrompt == "" {
		opts.DefaultMusicPrompt = "Upbeat electronic music with synth, bass, and drums"
	}
	if opts.DefaultMusicLengthMs <= 0 {
		opts.DefaultMusicLengthMs = 30000
	}
	if opts.StorageTimeout <= 0 {
		opts.StorageTimeout = 60 * time.Second
	}
	return &Orchestrator{
		deps:  deps,
		opts:  opts,
		log:   log.With().Str("component", "pipeline").Logger(),
		now:   time.Now,
		newID: uuid.NewString,
	}
}

// Generate runs both pipelines to completion, delivers to the sinks selected
// by req.Deliver and aggregates the outcome. It never returns an error: every
// failure is reported on the artifact it belongs to.
func (o *Orchestrator) Generate(ctx context.Context, req model.GenerationRequest, requestID string) *model.GenerationResponse {
	// pipelines run to completion even if the caller goes away
	ctx = context.WithoutCancel(ctx)
	defer o.deps.Metrics.TrackRequest()()

	req = o.withDefaults(req)
	log := o.log.With().Str("requestId", requestID).Str("deliver", string(req.Deliver)).Logger()
	log.Info().Msg("generation started")

	var music, image Outcome
	var wg conc.WaitGroup
	wg.Go(func() {
		music = o.settle(model.ArtifactMusic, func() Outcome { return o.runMusic(ctx, req, requestID) })
	})
	wg.Go(func() {
		image = o.settle(model.ArtifactImage, func() Outcome { return o.runImage(ctx, req, requestID) })
	})
	wg.Wait()

	resp := &model.GenerationResponse{
		Success: music.Success() || image.Success(),
	}

	if req.Deliver.Messaging() {
		resp.Music, resp.Image = o.deliverAll(ctx, requestID, music, image)
	} else {
		resp.Music, resp.Image = generationReport(music), generationReport(image)
	}

	linked := false
	if req.Deliver.Link() && (music.Success() || image.Success()) {
		resultURL, err := o.createResult(ctx, req, music, image)
		if err != nil {
			log.Error().Err(err).Msg("failed to persist result record")
			resp.ResultError = err.Error()
		} else {
			resp.ResultURL = resultURL
			linked = true
		}
	}

	// blobs behind a persisted record stay alive for as long as the record does
	if !linked {
		for _, out := range []Outcome{music, image} {
			if out.Success() {
				o.scheduleCleanup(ctx, requestID, out)
			}
		}
	}

	log.Info().
		Bool("success", resp.Success).
		Bool("music", music.Success()).
		Bool("image", image.Success()).
		Str("resultUrl", resp.ResultURL).
		Msg("generation finished")
	o.deps.Progress.Complete(requestID, resp)
	return resp
}

// RunMusic runs only the music pipeline and delivers it to the messaging sink.
func (o *Orchestrator) RunMusic(ctx context.Context, req model.MusicOnlyRequest, requestID string) (*model.SingleDeliveryResponse, bool) {
	full := o.withDefaults(model.GenerationRequest{
		MusicPrompt:   req.Prompt,
		MusicLengthMs: req.MusicLengthMs,
		Lyrics:        req.Lyrics,
	})
	return o.runSingle(ctx, model.ArtifactMusic, requestID, "Song generated and sent to WhatsApp group", func(ctx context.Context) Outcome {
		return o.runMusic(ctx, full, requestID)
	})
}

// RunImage runs only the image pipeline and delivers it to the messaging sink.
func (o *Orchestrator) RunImage(ctx context.Context, req model.ImageOnlyRequest, requestID string) (*model.SingleDeliveryResponse, bool) {
	full := o.withDefaults(model.GenerationRequest{
		ImageURL:    req.ImageURL,
		ImagePrompt: req.Prompt,
		ImageSize:   req.Size,
	})
	return o.runSingle(ctx, model.ArtifactImage, requestID, "Image generated and sent to WhatsApp group", func(ctx context.Context) Outcome {
		return o.runImage(ctx, full, requestID)
	})
}

func (o *Orchestrator) runSingle(ctx context.Context, kind model.ArtifactKind, requestID, okMessage string, run func(context.Context) Outcome) (*model.SingleDeliveryResponse, bool) {
	ctx = context.WithoutCancel(ctx)
	defer o.deps.Metrics.TrackRequest()()

	out := o.settle(kind, func() Outcome { return run(ctx) })
	if !out.Success() {
		o.deps.Progress.Complete(requestID, nil)
		return &model.SingleDeliveryResponse{Success: false, Error: out.Err.Error()}, false
	}

	report := o.deliver(ctx, requestID, out)
	o.scheduleCleanup(ctx, requestID, out)

	resp := &model.SingleDeliveryResponse{Success: report.Success, FileName: out.FileName}
	if report.Success {
		resp.Message = okMessage
		resp.MessageID = report.MessageID
	} else {
		resp.Error = report.Error
	}
	o.deps.Progress.Complete(requestID, resp)
	return resp, report.Success
}

func (o *Orchestrator) withDefaults(req model.GenerationRequest) model.GenerationRequest {
	if req.MusicPrompt == "" {
		req.MusicPrompt = o.opts.DefaultMusicPrompt
	}
	if req.MusicLengthMs <= 0 {
		req.MusicLengthMs = o.opts.DefaultMusicLengthMs
	}
	if req.ImageSize == "" {
		req.ImageSize = model.ImageSizeSquare
	}
	if req.Deliver == "" {
		req.Deliver = model.DeliverWhatsApp
	}
	return req
}

// settle runs fn and turns a panic into a failed Outcome.
func (o *Orchestrator) settle(kind model.ArtifactKind, fn func() Outcome) Outcome {
	var out Outcome
	var pc panics.Catcher
	pc.Try(func() { out = fn() })
	if r := pc.Recovered(); r != nil {
		o.log.Error().Str("artifact", string(kind)).Str("panic", r.String()).Msg("pipeline panicked")
		out = Outcome{Kind: kind, Err: stageErr(kind, StagePanic, r.AsError())}
	}
	o.deps.Metrics.IncArtifact(string(kind), out.Success())
	return out
}

func (o *Orchestrator) runMusic(ctx context.Context, req model.GenerationRequest, requestID string) Outcome {
	const kind = model.ArtifactMusic
	fail := o.failer(requestID, kind)
	o.deps.Progress.Progress(requestID, kind, model.StageStarted, "")

	start := time.Now()
	payload, err := o.deps.Music.Compose(ctx, client.NewComposeRequest(req.MusicPrompt, req.MusicLengthMs, req.LyricLines()))
	o.deps.Metrics.ObserveStage(string(kind), StageGenerate, err, time.Since(start))
	if err != nil {
		return fail(StageGenerate, err)
	}

	audio, err := client.DrainAudio(payload)
	if err != nil {
		return fail(StageDrain, err)
	}
	o.deps.Progress.Progress(requestID, kind, model.StageGenerated, fmt.Sprintf("%d bytes", len(audio)))

	fileName := fmt.Sprintf("song_%d.mp3", o.now().UnixMilli())
	blobURL, err := o.upload(ctx, kind, fileName, audio, "audio/mpeg")
	if err != nil {
		return fail(StageUpload, err)
	}
	o.deps.Progress.Progress(requestID, kind, model.StageUploaded, blobURL)

	return Outcome{Kind: kind, BlobURL: blobURL, FileName: fileName, Prompt: req.MusicPrompt}
}

func (o *Orchestrator) runImage(ctx context.Context, req model.GenerationRequest, requestID string) Outcome {
	const kind = model.ArtifactImage
	fail := o.failer(requestID, kind)
	o.deps.Progress.Progress(requestID, kind, model.StageStarted, "")

	start := time.Now()
	source, err := o.deps.Images.FetchSource(ctx, req.ImageURL)
	o.deps.Metrics.ObserveStage(string(kind), StageFetch, err, time.Since(start))
	if err != nil {
		return fail(StageFetch, err)
	}

	start = time.Now()
	edited, err := o.deps.Images.Edit(ctx, source, req.ImagePrompt, string(req.ImageSize))
	o.deps.Metrics.ObserveStage(string(kind), StageEdit, err, time.Since(start))
	if err != nil {
		return fail(StageEdit, err)
	}
	o.deps.Progress.Progress(requestID, kind, model.StageGenerated, fmt.Sprintf("%d bytes", len(edited)))

	fileName := fmt.Sprintf("image_%d.png", o.now().UnixMilli())
	blobURL, err := o.upload(ctx, kind, fileName, edited, "image/png")
	if err != nil {
		return fail(StageUpload, err)
	}
	o.deps.Progress.Progress(requestID, kind, model.StageUploaded, blobURL)

	return Outcome{Kind: kind, BlobURL: blobURL, FileName: fileName, Prompt: req.ImagePrompt}
}

func (o *Orchestrator) failer(requestID string, kind model.ArtifactKind) func(stage string, err error) Outcome {
	return func(stage string, err error) Outcome {
		err = stageErr(kind, stage, err)
		o.log.Warn().Err(err).Str("requestId", requestID).Str("artifact", string(kind)).Str("stage", stage).Msg("pipeline failed")
		o.deps.Progress.Progress(requestID, kind, model.StageFailed, err.Error())
		return Outcome{Kind: kind, Err: err}
	}
}

func (o *Orchestrator) upload(ctx context.Context, kind model.ArtifactKind, fileName string, data []byte, contentType string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, o.opts.StorageTimeout)
	defer cancel()

	start := time.Now()
	blobURL, err := o.deps.Blobs.Put(ctx, fileName, data, client.PutOptions{
		ContentType:     contentType,
		Public:          true,
		AddRandomSuffix: true,
	})
	o.deps.Metrics.ObserveStage(string(kind), StageUpload, err, time.Since(start))
	return blobURL, err
}

// deliverAll sends every successful artifact to the messaging gateway. Failed
// artifacts report their generation error.
func (o *Orchestrator) deliverAll(ctx context.Context, requestID string, music, image Outcome) (model.ArtifactReport, model.ArtifactReport) {
	send := func(out Outcome) model.ArtifactReport {
		if !out.Success() {
			return generationReport(out)
		}
		var report model.ArtifactReport
		var pc panics.Catcher
		pc.Try(func() { report = o.deliver(ctx, requestID, out) })
		if r := pc.Recovered(); r != nil {
			err := stageErr(out.Kind, StageDeliver, r.AsError())
			report = model.ArtifactReport{Success: false, FileName: out.FileName, Error: err.Error()}
		}
		return report
	}

	if !o.opts.ParallelDelivery {
		return send(music), send(image)
	}

	var musicReport, imageReport model.ArtifactReport
	var wg conc.WaitGroup
	wg.Go(func() { musicReport = send(music) })
	wg.Go(func() { imageReport = send(image) })
	wg.Wait()
	return musicReport, imageReport
}

func (o *Orchestrator) deliver(ctx context.Context, requestID string, out Outcome) model.ArtifactReport {
	start := time.Now()
	messageID, err := o.deps.Gateway.SendFile(ctx, out.BlobURL, out.FileName, caption(out))
	o.deps.Metrics.ObserveStage(string(out.Kind), StageDeliver, err, time.Since(start))
	o.deps.Metrics.IncDelivery(string(out.Kind), err == nil)

	if err != nil {
		err = stageErr(out.Kind, StageDeliver, err)
		o.log.Warn().Err(err).Str("requestId", requestID).Str("artifact", string(out.Kind)).Msg("delivery failed")
		o.deps.Progress.Progress(requestID, out.Kind, model.StageFailed, err.Error())
		return model.ArtifactReport{Success: false, FileName: out.FileName, Error: err.Error()}
	}

	o.deps.Progress.Progress(requestID, out.Kind, model.StageDelivered, messageID)
	return model.ArtifactReport{Success: true, FileName: out.FileName, MessageID: messageID}
}

func caption(out Outcome) string {
	switch out.Kind {
	case model.ArtifactMusic:
		return "🎵 " + out.Prompt
	case model.ArtifactImage:
		return "🎨 " + out.Prompt
	}
	return out.Prompt
}

func generationReport(out Outcome) model.ArtifactReport {
	if out.Success() {
		return model.ArtifactReport{Success: true, FileName: out.FileName}
	}
	msg := "unknown error"
	if out.Err != nil {
		msg = out.Err.Error()
	}
	return model.ArtifactReport{Success: false, Error: msg}
}

func (o *Orchestrator) createResult(ctx context.Context, req model.GenerationRequest, music, image Outcome) (string, error) {
	if o.deps.Results == nil {
		return "", errors.New("result store not configured")
	}

	record := &model.ResultRecord{
		ID:        o.newID(),
		CreatedAt: o.now().UTC(),
		BgColor:   req.BgColor,
		Message:   req.Message,
	}
	if music.Success() {
		record.Music = &model.ResultMedia{URL: music.BlobURL, Prompt: music.Prompt, FileName: music.FileName}
	}
	if image.Success() {
		record.Image = &model.ResultMedia{URL: image.BlobURL, Prompt: image.Prompt, FileName: image.FileName}
	}

	ctx, cancel := context.WithTimeout(ctx, o.opts.StorageTimeout)
	defer cancel()
	if err := o.deps.Results.Create(ctx, record); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/result/%s", o.opts.PublicBaseURL, record.ID), nil
}

func (o *Orchestrator) scheduleCleanup(ctx context.Context, requestID string, out Outcome) {
	if o.deps.Cleanup == nil {
		return
	}
	task := model.CleanupTaskPayload{
		BlobURL:     out.BlobURL,
		RequestID:   requestID,
		Artifact:    out.Kind,
		ScheduledAt: o.now().UTC(),
	}
	if err := o.deps.Cleanup.Schedule(ctx, task, o.opts.CleanupDelay); err != nil {
		o.log.Warn().Err(err).Str("requestId", requestID).Str("blob", out.BlobURL).Msg("failed to schedule cleanup")
		return
	}
	o.deps.Metrics.IncCleanup("scheduled")
}

type noopProgress struct{}

func (noopProgress) Progress(string, model.ArtifactKind, model.Stage, string) {}
func (noopProgress) Complete(string, interface{})                             {}
