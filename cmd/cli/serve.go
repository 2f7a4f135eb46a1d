package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"hndld/internal/config"
	"hndld/internal/handlers"
	"hndld/internal/middleware"
	"hndld/internal/observability"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"
)

var flagAutoMigrate bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the automation API server",
	RunE:  serve,
}

func init() {
	serveCmd.Flags().BoolVar(&flagAutoMigrate, "migrate", false, "run database migrations before serving")
	rootCmd.AddCommand(serveCmd)
}

func serve(cmd *cobra.Command, args []string) error {
	// 加载配置
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := logrus.StandardLogger()

	// OpenTelemetry 初始化（可选）
	if shutdown, err := observability.SetupTracing(context.Background(), cfg); err == nil {
		defer func() { _ = shutdown(context.Background()) }()
	} else {
		log.Warnf("init tracing: %v", err)
	}

	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	if flagAutoMigrate {
		if err := migrate(db); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	eng := buildEngine(cfg, db, log)
	defer eng.Close()

	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := setupRouter(cfg, db, eng)

	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: router,
	}

	// 启动服务器
	go func() {
		log.Infof("Starting server on %s:%d", cfg.Server.Host, cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	// 优雅关闭
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Errorf("Server forced to shutdown: %v", err)
	}

	log.Info("Server exited")
	return nil
}

func setupRouter(cfg *config.Config, db *gorm.DB, eng *engine) *gin.Engine {
	router := gin.New()

	// 中间件
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(middleware.CORSMiddleware(cfg))
	if cfg.Monitoring.Tracing.Enabled {
		router.Use(otelgin.Middleware(cfg.Monitoring.Tracing.ServiceName))
	}

	// 健康检查
	healthHandler := handlers.NewHealthHandler(db, eng.hub)
	router.GET("/health", healthHandler.Health)
	router.GET("/ready", healthHandler.Ready)

	if cfg.Monitoring.Enabled {
		metricsHandler := handlers.NewMetricsHandler(db, eng.hub, eng.breakers)
		router.GET(cfg.Monitoring.MetricsPath, metricsHandler.GetMetrics)
	}

	// API 路由组
	api := router.Group("/api/v1")
	api.Use(middleware.TenantMiddleware())
	handlers.RegisterAutomationRoutes(api, handlers.NewAutomationHandler(eng.service, eng.hub, eng.breakers))

	return router
}
