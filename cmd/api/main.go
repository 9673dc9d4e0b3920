package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/bobarin/scenecast/internal/api"
	"github.com/bobarin/scenecast/internal/config"
	"github.com/bobarin/scenecast/internal/queue"
	"github.com/bobarin/scenecast/internal/schedule"
	"github.com/bobarin/scenecast/internal/services"
	"github.com/bobarin/scenecast/internal/storage"
	"github.com/bobarin/scenecast/internal/store"
	"github.com/bobarin/scenecast/internal/worker"
)

func main() {
	log.Println("Starting SceneCast API...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx := context.Background()

	// Queue persistence
	snapshots, err := store.Open(ctx, store.Config{
		Kind:         cfg.QueueStore,
		Name:         "video",
		SnapshotPath: cfg.QueueSnapshotPath,
		RedisURL:     cfg.RedisURL,
		RedisKey:     cfg.QueueRedisKey,
		DatabaseURL:  cfg.DatabaseURL,
		SQLitePath:   cfg.SQLitePath,
	})
	if err != nil {
		log.Fatalf("Failed to open queue store: %v", err)
	}
	defer snapshots.Close()
	log.Printf("Queue snapshots stored in %s", cfg.QueueStore)

	jobs := queue.NewJobQueue(queue.Options{
		HistoryLimit: cfg.QueueHistoryLimit,
		Store:        snapshots,
	})
	jobs.Restore(ctx)

	// Finished videos
	var supabase *storage.Supabase
	if cfg.SupabaseURL != "" {
		supabase = storage.NewSupabase(cfg.SupabaseURL, cfg.SupabaseServiceKey, cfg.SupabaseStorageBucket)
		log.Printf("Publishing videos to Supabase bucket %s", cfg.SupabaseStorageBucket)
	}
	stor, err := storage.New(storage.Options{
		OutputDir:     cfg.OutputDir,
		PublicBaseURL: cfg.PublicBaseURL,
		Supabase:      supabase,
		InputDirs:     append([]string{cfg.MusicDir}, cfg.InputDirs...),
	})
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}

	ffmpegSvc, err := services.NewFFmpegService(filepath.Join(cfg.WorkDir, "scenecast"))
	if err != nil {
		log.Fatalf("Failed to initialize ffmpeg: %v", err)
	}

	deps := worker.Deps{Encoder: ffmpegSvc, Storage: stor}
	if cfg.WorkerEnabled {
		log.Println("Generators enabled: scripts, narration, captions and images are produced on demand")

		openaiSvc := services.NewOpenAIService(cfg.OpenAIKey, cfg.OpenAIScriptModel)
		deps.Script = openaiSvc
		deps.Transcriber = openaiSvc

		// ElevenLabs preferred, Cartesia otherwise
		if cfg.ElevenLabsKey != "" {
			deps.TTS = services.NewElevenLabsService(cfg.ElevenLabsKey, cfg.ElevenLabsVoiceID)
			log.Printf("TTS provider: ElevenLabs (voice: %s)", cfg.ElevenLabsVoiceID)
		} else {
			deps.TTS = services.NewCartesiaService(cfg.CartesiaKey, cfg.CartesiaURL, cfg.CartesiaVoiceID)
			log.Printf("TTS provider: Cartesia (voice: %s)", cfg.CartesiaVoiceID)
		}

		if cfg.GeminiKey != "" {
			geminiSvc, err := services.NewGeminiService(ctx, cfg.GeminiKey, cfg.GeminiImageModel)
			if err != nil {
				log.Fatalf("Failed to initialize Gemini: %v", err)
			}
			deps.Images = geminiSvc
			log.Printf("Image generation enabled (model: %s)", cfg.GeminiImageModel)
		} else {
			log.Println("No GEMINI_API_KEY set, scenes without images get a placeholder frame")
		}
	} else {
		log.Println("Generators disabled, jobs must carry their own scenes and assets")
	}

	pipeline := worker.New(worker.Config{
		WorkDir:                  filepath.Join(cfg.WorkDir, "scenecast"),
		MusicDir:                 cfg.MusicDir,
		SynthesisConcurrency:     cfg.SynthesisConcurrency,
		TranscriptionConcurrency: cfg.TranscriptionConcurrency,
		ComposeTimeout:           cfg.ComposeTimeout,
		FallbackDuration:         cfg.SceneFallbackDuration,
		WordsPerBurst:            cfg.CaptionWordsPerBurst,
		Motion:                   cfg.RenderMotion,
		Strict:                   cfg.ResolveStrict,
	}, deps)

	// Recurring jobs
	var scheduler *schedule.Scheduler
	if cfg.SchedulesFile != "" {
		descriptors, err := schedule.LoadFile(cfg.SchedulesFile)
		if err != nil {
			log.Fatalf("Failed to load schedules: %v", err)
		}
		scheduler = schedule.New(jobs, pipeline.Task)
		for _, d := range descriptors {
			if err := scheduler.Add(d); err != nil {
				log.Fatalf("Failed to register schedule %q: %v", d.Name, err)
			}
		}
		scheduler.Start()
	}

	var schedules api.Schedules
	if scheduler != nil {
		schedules = scheduler
	}
	handler := api.NewHandler(jobs, pipeline.Task, schedules, stor)
	router := api.NewRouter(handler, api.RouterConfig{
		BackendAPIKey:      cfg.BackendAPIKey,
		CorsAllowedOrigins: cfg.CorsAllowedOrigins,
	})

	if cfg.BackendAPIKey != "" {
		log.Println("API key authentication enabled")
	} else {
		log.Println("WARNING: No BACKEND_API_KEY set, API is unprotected (dev mode)")
	}

	server := &http.Server{
		Addr:    ":" + cfg.APIPort,
		Handler: router,
	}

	go func() {
		log.Printf("API server listening on :%s", cfg.APIPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if scheduler != nil {
		<-scheduler.Stop().Done()
	}

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	// The running job gets the rest of the grace period
	if err := jobs.Shutdown(shutdownCtx); err != nil {
		log.Printf("Queue shutdown: %v", err)
	}

	log.Println("Server exited")
}
