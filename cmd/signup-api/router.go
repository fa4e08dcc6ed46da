package main

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/noah-isme/course-signup-api/internal/handler"
	"github.com/noah-isme/course-signup-api/internal/middleware"
	"github.com/noah-isme/course-signup-api/internal/models"
	"github.com/noah-isme/course-signup-api/internal/service"
	"github.com/noah-isme/course-signup-api/pkg/config"
	"github.com/noah-isme/course-signup-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/course-signup-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/course-signup-api/pkg/middleware/requestid"
)

type routerDeps struct {
	db          *sqlx.DB
	metrics     *service.MetricsService
	auth        *service.AuthService
	courses     *service.CourseService
	signups     *service.SignupService
	attendances *service.AttendanceService
	allocation  *service.AllocationService
	imports     *service.ImportService
	exports     *service.ExportService
}

func newRouter(cfg *config.Config, logr *zap.Logger, deps routerDeps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(corsmiddleware.Options{
		AdminPrefix:  strings.TrimRight(cfg.APIPrefix, "/") + "/admin",
		AdminOrigins: cfg.CORS.AllowedOrigins,
		MaxAge:       cfg.CORS.MaxAge,
	}))
	r.Use(middleware.Metrics(deps.metrics))

	metricsHandler := handler.NewMetricsHandler(deps.metrics, nil)
	if deps.db != nil {
		metricsHandler = handler.NewMetricsHandler(deps.metrics, deps.db)
	}
	courseHandler := handler.NewCourseHandler(deps.courses)
	signupHandler := handler.NewSignupHandler(deps.signups)
	exportHandler := handler.NewExportHandler(deps.exports)
	adminHandler := handler.NewAdminHandler(deps.allocation, deps.attendances, deps.imports, deps.auth)

	r.GET("/health", metricsHandler.Health)
	r.GET("/metrics", metricsHandler.Prometheus)
	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.GET("/courses", courseHandler.List)
	api.POST("/signups", signupHandler.Signup)
	api.POST("/signoffs", signupHandler.Signoff)
	api.GET("/exports/download", exportHandler.Download)

	admin := api.Group("/admin")
	admin.Use(middleware.JWT(deps.auth), middleware.RequireRoles(models.RoleAdmin))
	admin.POST("/populate", adminHandler.RunPopulate)
	admin.PATCH("/attendances/:applicantId/:courseId", adminHandler.UpdateAttendance)
	admin.PATCH("/applicants/:id", adminHandler.UpdateApplicant)
	admin.DELETE("/applicants/:id", adminHandler.DeleteApplicant)
	admin.POST("/imports/scores", adminHandler.ImportScores)
	admin.POST("/imports/registrations", adminHandler.ImportRegistrations)
	admin.POST("/preterm-tokens", adminHandler.IssuePretermToken)
	admin.POST("/courses/:id/export", exportHandler.Export)

	return r
}
