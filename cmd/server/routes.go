package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/PromtiorLabs/chat_svc/internal/assistant"
	"github.com/PromtiorLabs/chat_svc/internal/chat"
	"github.com/PromtiorLabs/chat_svc/internal/client"
	"github.com/PromtiorLabs/chat_svc/internal/dashboard"
	"github.com/PromtiorLabs/chat_svc/internal/httpapi"
	"github.com/PromtiorLabs/chat_svc/internal/storage"
	"github.com/PromtiorLabs/chat_svc/internal/task"
	"github.com/PromtiorLabs/chat_svc/internal/visitor"
)

const (
	landingRouteRoot       = "/"
	publicRouteWidgetJS    = "/widget.js"
	publicRouteChat        = "/api/chat"
	publicRouteLogActivity = "/api/log_user_activity"
	publicRouteLogExchange = "/api/log_interaction"
	publicRouteRecords     = "/api/interactions"
	publicRouteSearch      = "/api/interactions/search"
	publicRouteByEmail     = "/api/interactions/:email"

	widgetRouteState    = "/api/widget/state"
	widgetRouteSession  = "/api/widget/session"
	widgetRouteMessages = "/api/widget/messages"
	widgetRouteClose    = "/api/widget/close"

	dashboardRoutePage     = "/dashboard"
	dashboardRouteData     = "/dashboard/data"
	dashboardDataRecords   = "/interactions"
	dashboardDataSearch    = "/interactions/search"
	dashboardDataByEmail   = "/interactions/:email"
	corsOriginWildcard     = "*"
	loopbackBaseURLPattern = "http://127.0.0.1"

	loggerCreationErrorMessage = "logger"
	logEventListening          = "listening"
	logFieldAddress            = "addr"
	loggerContextOpenDatabase  = "open_db"
	loggerContextAutoMigrate   = "migrate"
	loggerContextSessionStore  = "session_store"
	loggerContextServer        = "server"
	readHeaderTimeoutSeconds   = 5
	sessionSweepInterval       = 5 * time.Minute
)

var (
	corsAllowedMethods = []string{http.MethodGet, http.MethodPost, http.MethodOptions}
	corsAllowedHeaders = []string{"Authorization", "Content-Type"}
	corsExposedHeaders = []string{"Content-Type"}
)

type databaseHandle = *gorm.DB

func openConfiguredDatabase(configuration storage.Config) (databaseHandle, error) {
	database, openErr := storage.OpenDatabase(configuration)
	if openErr != nil {
		return nil, openErr
	}
	return database, nil
}

func runServer(serverConfig ServerConfig, databaseOpener func(storage.Config) (databaseHandle, error)) error {
	logger, loggerErr := zap.NewProduction()
	if loggerErr != nil {
		return errors.New(loggerCreationErrorMessage)
	}
	defer func() {
		_ = logger.Sync()
	}()

	database, databaseErr := databaseOpener(storage.Config{
		DriverName:     serverConfig.DatabaseDriverName,
		DataSourceName: serverConfig.DatabaseDataSourceName,
	})
	if databaseErr != nil {
		logger.Fatal(loggerContextOpenDatabase, zap.Error(databaseErr))
	}
	if migrateErr := storage.AutoMigrate(database); migrateErr != nil {
		logger.Fatal(loggerContextAutoMigrate, zap.Error(migrateErr))
	}

	cookieStore, storeErr := visitor.NewCookieStore(serverConfig.SessionSecret, logger)
	if storeErr != nil {
		logger.Fatal(loggerContextSessionStore, zap.Error(storeErr))
	}

	assistantProvider := buildAssistantProvider(serverConfig)
	chatBackend := buildChatBackend(serverConfig, database, assistantProvider)

	dashboardBackendURL := serverConfig.DashboardBackendURL
	if dashboardBackendURL == "" {
		dashboardBackendURL = loopbackBaseURL(serverConfig.ApplicationAddress)
	}
	queryService := dashboard.NewQueryService(
		client.New(dashboardBackendURL),
		buildDashboardCache(serverConfig, logger),
		logger,
	)

	backendHandlers := httpapi.NewBackendHandlers(database, assistantProvider, logger)
	widgetHandlers := httpapi.NewWidgetHandlers(cookieStore, chat.Config{
		CompanyName: serverConfig.CompanyName,
		ChatName:    serverConfig.ChatName,
		Backend:     chatBackend,
		Logger:      logger,
	}, logger)
	pageHandlers := httpapi.NewPublicPageHandlers(serverConfig.CompanyName, serverConfig.ChatName, logger)
	dashboardHandlers := httpapi.NewDashboardPageHandlers(queryService, serverConfig.CompanyName, logger)

	sessionSweeper := task.NewScheduler(sessionSweepInterval, func(context.Context) {
		widgetHandlers.SweepIdleSessions()
	})
	sessionSweeper.Start(context.Background())
	defer sessionSweeper.Stop()

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(httpapi.RequestLogger(logger))
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{corsOriginWildcard},
		AllowMethods:     corsAllowedMethods,
		AllowHeaders:     corsAllowedHeaders,
		ExposeHeaders:    corsExposedHeaders,
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	registerRoutes(router, serverConfig.AdminBearerToken, backendHandlers, widgetHandlers, pageHandlers, dashboardHandlers)

	httpServer := &http.Server{
		Addr:              serverConfig.ApplicationAddress,
		Handler:           router,
		ReadHeaderTimeout: readHeaderTimeoutSeconds * time.Second,
	}

	logger.Info(logEventListening, zap.String(logFieldAddress, serverConfig.ApplicationAddress))
	if serveErr := httpServer.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
		logger.Fatal(loggerContextServer, zap.Error(serveErr))
	}

	return nil
}

func registerRoutes(
	router *gin.Engine,
	adminBearerToken string,
	backendHandlers *httpapi.BackendHandlers,
	widgetHandlers *httpapi.WidgetHandlers,
	pageHandlers *httpapi.PublicPageHandlers,
	dashboardHandlers *httpapi.DashboardPageHandlers,
) {
	router.GET(landingRouteRoot, pageHandlers.RenderLandingPage)
	router.GET(publicRouteWidgetJS, pageHandlers.WidgetJS)

	router.POST(publicRouteChat, backendHandlers.CreateChatReply)
	router.POST(publicRouteLogExchange, backendHandlers.LogInteraction)
	router.POST(publicRouteLogActivity, backendHandlers.LogUserActivity)
	router.GET(publicRouteRecords, backendHandlers.ListInteractions)
	// The static search route must be registered before the :email parameter route.
	router.GET(publicRouteSearch, backendHandlers.SearchInteractions)
	router.GET(publicRouteByEmail, backendHandlers.InteractionsByEmail)

	router.GET(widgetRouteState, widgetHandlers.WidgetState)
	router.POST(widgetRouteSession, widgetHandlers.CreateWidgetSession)
	router.GET(widgetRouteMessages, widgetHandlers.WidgetTranscript)
	router.POST(widgetRouteMessages, widgetHandlers.SendWidgetMessage)
	router.POST(widgetRouteClose, widgetHandlers.CloseWidgetSession)

	router.GET(dashboardRoutePage, dashboardHandlers.RenderDashboardPage)
	dashboardDataGroup := router.Group(dashboardRouteData)
	dashboardDataGroup.Use(httpapi.AdminAuthMiddleware(adminBearerToken))
	dashboardDataGroup.GET(dashboardDataRecords, dashboardHandlers.DataListInteractions)
	dashboardDataGroup.GET(dashboardDataSearch, dashboardHandlers.DataSearchInteractions)
	dashboardDataGroup.GET(dashboardDataByEmail, dashboardHandlers.DataInteractionsByEmail)
}

func buildAssistantProvider(serverConfig ServerConfig) assistant.Provider {
	if serverConfig.AssistantModel != "" {
		return assistant.NewUpstreamProvider(serverConfig.AssistantURL, serverConfig.AssistantAPIKey, serverConfig.AssistantModel)
	}
	return assistant.NewStaticProvider("")
}

func buildChatBackend(serverConfig ServerConfig, database databaseHandle, provider assistant.Provider) chat.Backend {
	if serverConfig.ChatBackendURL != "" {
		return client.New(serverConfig.ChatBackendURL)
	}
	return httpapi.NewLocalBackend(database, provider)
}

func buildDashboardCache(serverConfig ServerConfig, logger *zap.Logger) dashboard.ResultCache {
	if serverConfig.RedisAddress != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: serverConfig.RedisAddress})
		return dashboard.NewRedisCache(redisClient, dashboard.DefaultResultTTL, logger)
	}
	return dashboard.NewMemoryCache(dashboard.DefaultResultTTL, nil)
}

// loopbackBaseURL derives the dashboard's default backend base URL from the
// listen address, so a single-binary deployment queries itself.
func loopbackBaseURL(applicationAddress string) string {
	host, port, splitErr := net.SplitHostPort(applicationAddress)
	if splitErr != nil {
		return loopbackBaseURLPattern + ":8080"
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		return loopbackBaseURLPattern + ":" + port
	}
	return "http://" + strings.TrimSpace(host) + ":" + port
}
