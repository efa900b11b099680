package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/innovotech/mediadrop/internal/auth"
	"github.com/innovotech/mediadrop/internal/client"
	"github.com/innovotech/mediadrop/internal/handler"
	"github.com/innovotech/mediadrop/internal/pipeline"
	"github.com/innovotech/mediadrop/internal/server"
	"github.com/innovotech/mediadrop/internal/service"
	ws "github.com/innovotech/mediadrop/internal/websocket"
	"github.com/innovotech/mediadrop/internal/worker"
)

func main() {
	root := &cobra.Command{
		Use:           "mediadrop",
		Short:         "Generates music and edited images and delivers them to WhatsApp or a result page",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	var embeddedWorker bool
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), embeddedWorker)
		},
	}
	serve.Flags().BoolVar(&embeddedWorker, "with-worker", true, "also process cleanup tasks in this process")

	work := &cobra.Command{
		Use:   "worker",
		Short: "Process delayed blob cleanup tasks",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWorker(cmd.Context())
		},
	}

	root.AddCommand(serve, work)
	// bare invocation serves, which is what the container runs
	root.RunE = serve.RunE
	root.Flags().AddFlagSet(serve.Flags())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context, embeddedWorker bool) error {
	rt, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()
	log := rt.log

	cleanupWorker := worker.NewCleanupWorker(rt.blobs, rt.metrics, log)

	// Deferred cleanup goes through asynq when Redis is reachable and falls
	// back to in-process timers otherwise.
	var scheduler pipeline.CleanupScheduler
	var timers *service.TimerCleanupScheduler
	var workerSrv *asynq.Server
	if rt.redis != nil {
		asynqClient := asynq.NewClient(rt.redisOpt)
		defer asynqClient.Close()
		scheduler = service.NewAsynqCleanupScheduler(asynqClient)

		if embeddedWorker {
			workerSrv = newWorkerServer(rt, 2)
			mux := newWorkerMux(cleanupWorker)
			if err := workerSrv.Start(mux); err != nil {
				return fmt.Errorf("start cleanup worker: %w", err)
			}
		}
	} else {
		log.Warn().Msg("redis unavailable, cleanup runs on in-process timers")
		timers = service.NewTimerCleanupScheduler(cleanupWorker, log)
		scheduler = timers
	}

	elevenLabs := client.NewElevenLabsClient(&rt.cfg.ElevenLabs, log)
	openAI := client.NewOpenAIImageClient(&rt.cfg.OpenAI, log)
	greenAPI := client.NewGreenAPIClient(&rt.cfg.GreenAPI, log)

	verifier, err := auth.New(rt.cfg)
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	if verifier == nil {
		log.Warn().Msg("authentication disabled")
	}

	resultService, err := service.NewResultService(rt.blobs, rt.cfg.Pipeline.ResultCacheSize, log)
	if err != nil {
		return fmt.Errorf("result service: %w", err)
	}

	hub := ws.NewHub(log)
	go hub.Run(ctx)

	orchestrator := pipeline.New(pipeline.Dependencies{
		Music:    elevenLabs,
		Images:   openAI,
		Gateway:  greenAPI,
		Blobs:    rt.blobs,
		Results:  resultService,
		Cleanup:  scheduler,
		Progress: hub,
		Metrics:  rt.metrics,
	}, pipeline.OptionsFromConfig(rt.cfg), log)

	app := server.NewApp(server.Deps{
		Config:    rt.cfg,
		Log:       log,
		Generator: orchestrator,
		Results:   resultService,
		Verifier:  verifier,
		Redis:     rt.redis,
		Hub:       hub,
		Gatherer:  prometheus.DefaultGatherer,
		BlobDir:   rt.blobDir,
		Probes: map[string]handler.Probe{
			"elevenlabs": handler.Static(elevenLabs.IsConfigured()),
			"openai":     handler.Static(openAI.IsConfigured()),
			"greenapi":   handler.Static(greenAPI.IsConfigured()),
			"storage":    handler.Static(rt.blobs != nil),
			"auth":       handler.Static(verifier != nil),
			"redis":      rt.redisProbe(),
		},
	})

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + rt.cfg.Server.Port
		log.Info().Str("addr", addr).Str("storage", rt.cfg.Storage.Driver).Msg("server starting")
		errCh <- app.Listen(addr)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down server")
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		log.Error().Err(err).Msg("server shutdown")
	}
	if workerSrv != nil {
		workerSrv.Shutdown()
	}
	if timers != nil {
		// pending deletions would be lost with the process
		timers.Wait()
	}
	return nil
}

func runWorker(ctx context.Context) error {
	rt, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	if rt.redis == nil {
		return fmt.Errorf("worker requires redis at %s", rt.cfg.Redis.Addr)
	}

	srv := newWorkerServer(rt, 5)
	mux := newWorkerMux(worker.NewCleanupWorker(rt.blobs, rt.metrics, rt.log))
	if err := srv.Start(mux); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}
	rt.log.Info().Str("queue", service.QueueCleanup).Msg("worker started")

	<-ctx.Done()
	srv.Shutdown()
	return nil
}
