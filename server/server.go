package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"

	"github.com/customeros/imagestack/api"
	"github.com/customeros/imagestack/config"
	"github.com/customeros/imagestack/internal/cron"
	"github.com/customeros/imagestack/internal/listeners"
	"github.com/customeros/imagestack/internal/logger"
	"github.com/customeros/imagestack/internal/repository"
	"github.com/customeros/imagestack/internal/tracing"
	"github.com/customeros/imagestack/services"
	"github.com/customeros/imagestack/services/events"
)

type Server struct {
	config       *config.Config
	log          logger.Logger
	httpServer   *http.Server
	router       *gin.Engine
	services     *services.Services
	repositories *repository.Repositories
	cron         *cron.CronManager
	tracerCloser io.Closer
}

func NewServer(cfg *config.Config, log logger.Logger, repos *repository.Repositories) (*Server, error) {
	tracer, closer, err := tracing.NewJaegerTracer(cfg.Tracing, log)
	if err != nil {
		return nil, fmt.Errorf("could not initialize jaeger tracer: %w", err)
	}
	opentracing.SetGlobalTracer(tracer)

	svcs, err := services.InitServices(cfg, log, repos, services.Options{WithEvents: true})
	if err != nil {
		closer.Close()
		return nil, err
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	return &Server{
		config:       cfg,
		log:          log,
		router:       router,
		services:     svcs,
		repositories: repos,
		cron:         cron.NewCronManager(cfg, log, kubernetesClient(cfg, log), svcs.Archiver, svcs.Inbox),
		tracerCloser: closer,
		httpServer: &http.Server{
			Addr:              ":" + cfg.AppConfig.APIPort,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

// kubernetesClient returns nil outside a cluster; the cron manager then runs without leader election.
func kubernetesClient(cfg *config.Config, log logger.Logger) kubernetes.Interface {
	if cfg.AppConfig.LocalDev {
		return nil
	}
	restConfig, err := rest.InClusterConfig()
	if err != nil {
		log.Infof("Not running in cluster, leader election disabled: %v", err)
		return nil
	}
	client, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		log.Warnf("Kubernetes client not created, leader election disabled: %v", err)
		return nil
	}
	return client
}

func (s *Server) Initialize(ctx context.Context) error {
	if s.config.BlobArchiveConfig.EnsureRetention {
		s.services.EnsureRetention(ctx, s.log)
	}

	if s.services.EventsService != nil {
		subscriber := s.services.EventsService.Subscriber
		subscriber.RegisterListener(listeners.NewReceivePropertyEmailListener(s.log, s.services.MailIngest))
		if err := subscriber.ListenQueue(events.QueueReceivePropertyEmail); err != nil {
			return err
		}
	} else {
		s.log.Info("RABBITMQ_URL not set, queue ingestion disabled")
	}

	api.RegisterRoutes(ctx, s.router, s.services, s.log, s.config.AppConfig.APIKey)

	return s.cron.Start(s.config.AppConfig.PodName, s.config.AppConfig.Namespace)
}

func (s *Server) recoverWithJaeger(name string) {
	if r := recover(); r != nil {
		span := opentracing.GlobalTracer().StartSpan(
			fmt.Sprintf("panic.%s", name),
		)
		defer span.Finish()

		ext.Error.Set(span, true)

		span.LogKV(
			"event", "panic",
			"process", name,
			"error", fmt.Sprintf("%v", r),
			"stack", string(debug.Stack()),
		)

		s.log.Errorf("Panic in %s: %v\n%s", name, r, debug.Stack())
	}
}

func (s *Server) wrapGoroutine(name string, fn func()) {
	defer s.recoverWithJaeger(name)
	fn()
}

func (s *Server) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := s.Initialize(ctx); err != nil {
		return err
	}

	go s.wrapGoroutine("http_server", func() {
		s.log.Infof("Starting HTTP server on :%s", s.config.AppConfig.APIPort)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Errorf("HTTP server error: %v", err)
		}
	})
	s.log.Info("Imagestack is now running. Press Ctrl+C to exit.")

	return s.waitForShutdown()
}

func (s *Server) waitForShutdown() error {
	defer s.recoverWithJaeger("shutdown")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	s.log.Info("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.log.Errorf("HTTP server shutdown error: %v", err)
	} else {
		s.log.Info("HTTP server shut down successfully")
	}

	// Wait for a running archiver job with timeout
	cronDone := make(chan struct{})
	go s.wrapGoroutine("cron_shutdown", func() {
		defer close(cronDone)
		s.cron.Stop()
	})
	select {
	case <-cronDone:
		s.log.Info("Cron manager stopped gracefully")
	case <-time.After(10 * time.Second):
		s.log.Warn("Cron manager stop timed out, forcing exit")
	}

	if err := s.services.Close(); err != nil {
		s.log.Errorf("Events service shutdown error: %v", err)
	}

	if s.tracerCloser != nil {
		s.tracerCloser.Close()
	}

	return nil
}
