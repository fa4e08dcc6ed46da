package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	_ "github.com/noah-isme/course-signup-api/api/swagger"
	"github.com/noah-isme/course-signup-api/internal/models"
	"github.com/noah-isme/course-signup-api/internal/repository"
	"github.com/noah-isme/course-signup-api/internal/service"
	"github.com/noah-isme/course-signup-api/pkg/cache"
	"github.com/noah-isme/course-signup-api/pkg/config"
	"github.com/noah-isme/course-signup-api/pkg/database"
	"github.com/noah-isme/course-signup-api/pkg/jobs"
	"github.com/noah-isme/course-signup-api/pkg/logger"
	"github.com/noah-isme/course-signup-api/pkg/mailer"
	"github.com/noah-isme/course-signup-api/pkg/storage"
)

// @title Course Signup API
// @version 1.0.0
// @description Course registration, seat allocation and attendee administration for the language center.
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

const usage = `usage:
  signup-api               start the HTTP server
  signup-api token <id>    print an admin access token for user <id>`

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if len(os.Args) > 1 {
		if err := runCommand(cfg, os.Args[1:]); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
		return
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if err := serve(cfg, logr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}

func runCommand(cfg *config.Config, args []string) error {
	switch args[0] {
	case "token":
		if len(args) != 2 {
			return errors.New(usage)
		}
		auth := service.NewAuthService(nil, authConfig(cfg))
		token, expiresAt, err := auth.GenerateToken(args[1], models.RoleAdmin)
		if err != nil {
			return err
		}
		fmt.Println(token)
		fmt.Fprintf(os.Stderr, "expires at %s\n", expiresAt.Format(time.RFC3339))
		return nil
	case "help", "-h", "--help":
		fmt.Println(usage)
		return nil
	default:
		return fmt.Errorf("unknown command %q\n%s", args[0], usage)
	}
}

func authConfig(cfg *config.Config) service.AuthConfig {
	return service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		PretermTokenExpiry: cfg.JWT.PretermExpiration,
	}
}

// rateLimiter mirrors the limiter the notification worker accepts.
type rateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, time.Duration, error)
}

func serve(cfg *config.Config, logr *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close() //nolint:errcheck

	redisClient, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	var (
		cacheRepo service.CacheRepository
		limiter   rateLimiter
	)
	if redisClient != nil {
		defer redisClient.Close() //nolint:errcheck
		cacheRepo = repository.NewCacheRepository(redisClient, "signup")
		limiter = repository.NewRateLimitRepository(redisClient, "signup:mail")
	}

	files, err := storage.NewLocalStorage(cfg.Exports.StorageDir)
	if err != nil {
		return fmt.Errorf("prepare export storage: %w", err)
	}

	metrics := service.NewMetricsService()
	validate := validator.New()

	courseRepo := repository.NewCourseRepository(db)
	applicantRepo := repository.NewApplicantRepository(db)
	attendanceRepo := repository.NewAttendanceRepository(db)
	auditRepo := repository.NewAuditRepository(db)

	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Cache.CourseTTL, logr, cfg.Cache.Enabled)
	authSvc := service.NewAuthService(logr, authConfig(cfg))

	worker := service.NewNotificationWorker(newMailer(cfg, logr), limiter, metrics, logr, service.NotificationWorkerConfig{
		RateLimit:  cfg.Mail.RateLimit,
		RateWindow: cfg.Mail.RateWindow,
	})
	mailQueue := jobs.NewQueue("mail", worker.Handle, jobs.QueueConfig{
		Workers:     cfg.Mail.Workers,
		MaxRetries:  cfg.Mail.MaxRetries,
		RetryDelay:  cfg.Mail.RetryDelay,
		Logger:      logr,
		OnExhausted: worker.OnExhausted,
	})
	mailQueue.Start(ctx)
	defer mailQueue.Stop()
	notifications := service.NewNotificationService(mailQueue, metrics)

	populateSvc := service.NewPopulateService(attendanceRepo, db, auditRepo, notifications, metrics, logr, service.PopulateConfig{
		SelfSignoffPeriod: cfg.Signup.SelfSignoffPeriod,
	})
	allocationSvc := service.NewAllocationService(populateSvc, courseRepo, db, auditRepo, cacheSvc, metrics, logr)
	if cfg.Populate.SchedulerEnabled {
		allocationSvc.StartScheduler(ctx, cfg.Populate.Interval)
	}

	courseSvc := service.NewCourseService(courseRepo, cacheSvc, cfg.Cache.CourseTTL, logr)
	signupSvc := service.NewSignupService(courseRepo, applicantRepo, attendanceRepo, db, authSvc, notifications, auditRepo, cacheSvc, validate, logr, service.SignupConfig{
		RandomWindowClosedFor: cfg.Signup.RandomWindowClosedFor,
		SelfSignoffPeriod:     cfg.Signup.SelfSignoffPeriod,
		MaxAttendances:        cfg.Signup.MaxAttendances,
		OverbookingFactor:     cfg.Signup.OverbookingFactor,
	})
	attendanceSvc := service.NewAttendanceService(attendanceRepo, applicantRepo, auditRepo, cacheSvc, validate, logr, cfg.Signup.SelfSignoffPeriod)
	importSvc := service.NewImportService(applicantRepo, db, auditRepo, allocationSvc, cfg.Populate.AfterImport, logr)

	signer := storage.NewSignedURLSigner(cfg.Exports.SignedURLSecret, cfg.Exports.SignedURLTTL)
	exportSvc := service.NewExportService(courseRepo, attendanceRepo, files, signer, nil, auditRepo, logr, service.ExportConfig{
		APIPrefix:       cfg.APIPrefix,
		ResultTTL:       cfg.Exports.Retention,
		CleanupInterval: cfg.Exports.CleanupInterval,
	})
	exportSvc.StartCleanup(ctx)

	router := newRouter(cfg, logr, routerDeps{
		db:          db,
		metrics:     metrics,
		auth:        authSvc,
		courses:     courseSvc,
		signups:     signupSvc,
		attendances: attendanceSvc,
		allocation:  allocationSvc,
		imports:     importSvc,
		exports:     exportSvc,
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logr.Sugar().Infow("server starting", "addr", server.Addr, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func newMailer(cfg *config.Config, logr *zap.Logger) mailer.Mailer {
	if cfg.Mail.Transport == config.MailTransportSendgrid {
		if cfg.Mail.SendgridAPIKey == "" {
			logr.Warn("MAIL_TRANSPORT=sendgrid without SENDGRID_API_KEY, falling back to log transport")
			return mailer.NewLogMailer(logr)
		}
		return mailer.NewSendgridMailer(cfg.Mail.SendgridAPIKey, cfg.Mail.FromName, cfg.Mail.FromAddress, cfg.Mail.SubjectPrefix)
	}
	return mailer.NewLogMailer(logr)
}
