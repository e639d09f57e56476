package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"alma/internal/amqp"
	"alma/internal/cache"
	"alma/internal/cli"
	"alma/internal/config"
	"alma/internal/gateway"
	apphttp "alma/internal/http"
	"alma/internal/log"
	"alma/internal/services"
	"alma/internal/session"
	"alma/internal/tts"
	"alma/internal/voice"
	"alma/internal/wizard"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(log.ComponentApp)
	cfg := cli.LoadConfig(logger, (*config.Config).Validate)

	repo := cli.InitSQLite(logger, cfg.SQLiteDBPath)
	defer repo.Close()

	backend, err := gateway.NewClient(cfg.BackendURL,
		gateway.WithTimeout(cfg.BackendTimeout),
		gateway.WithRetries(cfg.BackendRetries),
		gateway.WithLogger(logger.WithComponent(log.ComponentGateway).Logger),
	)
	if err != nil {
		logger.Error("Failed to create backend client", log.FieldError, err, "url", cfg.BackendURL)
		os.Exit(1)
	}

	// Transfer events are optional: without a broker transfers still go
	// through, the carer just gets no alerts.
	var publisher services.EventPublisher
	var amqpClient *amqp.Client
	if cfg.AMQPURL != "" {
		amqpClient, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
		if err != nil {
			logger.Warn("AMQP unavailable, transfer events disabled", log.FieldError, err)
		} else {
			publisher = amqpClient
		}
	} else {
		logger.Info("AMQP not configured, transfer events disabled")
	}
	transfers := services.NewTransferService(publisher, logger)

	library, closeClips := openLibrary(cfg, logger)
	defer closeClips()

	sessions, err := session.NewManager(session.Config{
		Secret:       []byte(cfg.SessionSecret),
		TTL:          cfg.SessionTTL,
		CacheSize:    cfg.SessionCacheSize,
		Secure:       cfg.SecureCookies,
		Locale:       cfg.LocaleTag(),
		Currency:     cfg.DisplayCurrency,
		CommandDelay: cfg.VoiceCommandDelay,
	}, backend, library, repo, func(st *session.State) wizard.Payments {
		return transfers.For(st.Backend, st.UserID)
	}, logger)
	if err != nil {
		logger.Error("Failed to create session manager", log.FieldError, err)
		os.Exit(1)
	}

	caches := cache.NewManager(logger)
	caches.Register("sessions", sessions.Cache())
	caches.StartCleanup(5 * time.Minute)

	janitor := services.NewSessionJanitor(repo, time.Hour, logger)

	srv := apphttp.NewServer(":"+cfg.Port, apphttp.Dependencies{
		Sessions:     sessions,
		Library:      library,
		Alerts:       repo,
		Health:       repo,
		Logger:       logger,
		Currency:     cfg.DisplayCurrency,
		AudioBaseURL: cfg.ClipBaseURL(),
	})
	srv.ReadTimeout = 15 * time.Second
	srv.WriteTimeout = 30 * time.Second
	srv.IdleTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16 // 64KB

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", log.FieldError, err)
		}
		if err := janitor.Stop(ctx); err != nil {
			logger.Warn("Session janitor stop error", log.FieldError, err)
		}
		caches.Stop()
		caches.Wait()
		if amqpClient != nil {
			if err := amqpClient.Close(); err != nil {
				logger.Warn("AMQP close error", log.FieldError, err)
			}
		}
	})

	if err := janitor.Start(ctx); err != nil {
		logger.Error("Failed to start session janitor", log.FieldError, err)
		os.Exit(1)
	}

	go func() {
		logger.Info("Starting alma server", "port", cfg.Port, "backend", cfg.BackendURL)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server error", log.FieldError, err, "port", cfg.Port)
			os.Exit(1)
		}
	}()

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}

// openLibrary indexes the voice clips: the generator's bucket when
// AUDIO_BUCKET is set, otherwise the local AUDIO_DIR served under /audio/.
func openLibrary(cfg *config.Config, logger *log.Logger) (*voice.Library, func()) {
	library := voice.NewLibrary(os.DirFS(cfg.AudioDir), cfg.ClipBaseURL())
	source := cfg.AudioDir
	closeFn := func() {}

	if cfg.AudioBucket != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		bucket, err := tts.NewGCSSink(ctx, cfg.AudioBucket, "")
		if err != nil {
			logger.Error("Failed to open audio bucket", log.FieldError, err, "bucket", cfg.AudioBucket)
			os.Exit(1)
		}
		library = voice.NewStoreLibrary(bucket, cfg.ClipBaseURL())
		if err := library.Index(ctx); err != nil {
			logger.Warn("Failed to index audio bucket, clips are looked up per cue", log.FieldError, err, "bucket", cfg.AudioBucket)
		}
		source = "gs://" + cfg.AudioBucket
		closeFn = func() { _ = bucket.Close() }
	}

	if missing := library.Missing(context.Background()); len(missing) > 0 {
		logger.Warn("Voice clips missing, those phrases stay silent", "missing", missing, "source", source)
	}
	return library, closeFn
}
