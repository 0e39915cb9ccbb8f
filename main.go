package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/backsoul/partidas/pkg/config"
	"github.com/backsoul/partidas/pkg/handlers"
	"github.com/backsoul/partidas/pkg/logger"
	"github.com/backsoul/partidas/pkg/redis"
	"github.com/backsoul/partidas/pkg/repository"
	"github.com/backsoul/partidas/pkg/services"
	"github.com/backsoul/partidas/pkg/websocket"
	"github.com/valyala/fasthttp"
)

// questionCatalog catálogo usado por el motor y administrado por la API
type questionCatalog interface {
	services.QuestionCatalog
	handlers.QuestionStore
}

var (
	cfg              *config.Config
	redisClient      *redis.RedisClient
	catalog          questionCatalog
	partidaService   *services.PartidaService
	sweeper          *services.DeadlineSweeper
	hub              *websocket.Hub
	partidaHandler   *handlers.PartidaHandler
	questionHandler  *handlers.QuestionHandler
	websocketHandler *handlers.WebSocketHandler
)

func main() {
	cfg = config.LoadConfig()
	logger.InitLogger(cfg.LogLevel)
	logger.Info("🚀 Iniciando servidor de partidas multijugador")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	initRedis(ctx)
	initCatalog(ctx)
	initServices()
	loadInitialQuestions(ctx)

	server := &fasthttp.Server{
		Handler: requestHandler,
		Name:    "Partidas Server",
	}

	go func() {
		logger.Info("🎮 Servidor de partidas escuchando en :%s", cfg.Port)
		logger.Info("🔧 API Health: http://localhost:%s/api/health", cfg.Port)
		if err := server.ListenAndServe(":" + cfg.Port); err != nil {
			logger.Fatalf("Error al iniciar el servidor: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("🛑 Deteniendo servidor...")

	if err := sweeper.Stop(); err != nil {
		logger.Warn("⚠️ Error deteniendo el barrido de partidas: %v", err)
	}
	hub.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Warn("⚠️ Error cerrando el servidor: %v", err)
	}
	if err := redisClient.Close(); err != nil {
		logger.Warn("⚠️ Error cerrando Redis: %v", err)
	}
	logger.Info("👋 Servidor detenido")
}

func initRedis(ctx context.Context) {
	logger.Info("🔌 Conectando a Redis en %s...", cfg.RedisAddr)
	client, err := redis.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		logger.Fatalf("Error conectando a Redis: %v", err)
	}
	redisClient = client
	logger.Info("✅ Conexión a Redis establecida")
}

func initCatalog(ctx context.Context) {
	switch cfg.CatalogBackend {
	case config.CatalogPostgres:
		logger.Info("🐘 Usando catálogo de preguntas en Postgres")
		db, err := repository.Open(cfg.DatabaseURL)
		if err != nil {
			logger.Fatalf("%v", err)
		}
		if err := repository.AutoMigrate(db.WithContext(ctx)); err != nil {
			logger.Fatalf("Error migrando la base de datos: %v", err)
		}
		catalog = repository.NewQuestionRepository(db, cfg.ExcludedLaw)
	default:
		logger.Info("📦 Usando catálogo de preguntas en Redis")
		catalog = services.NewQuestionService(redisClient, cfg.ExcludedLaw)
	}
}

func initServices() {
	logger.Info("⚙️  Inicializando servicios...")
	partidaService = services.NewPartidaService(redisClient, catalog)
	partidaService.SetLockTiming(cfg.LockTTL, cfg.LockWait)

	hub = websocket.NewHub()
	go hub.Run()

	partidaHandler = handlers.NewPartidaHandler(partidaService, hub)
	questionHandler = handlers.NewQuestionHandler(catalog, redisClient, cfg.QuestionsFile, cfg.CatalogBackend)
	websocketHandler = handlers.NewWebSocketHandler(partidaHandler, hub)

	sweeper = services.NewDeadlineSweeper(partidaService, cfg.SweepInterval)
	sweeper.SetOnFinished(partidaHandler.NotifyFinished)
	if err := sweeper.Start(); err != nil {
		logger.Fatalf("Error iniciando el barrido de partidas: %v", err)
	}
}

func loadInitialQuestions(ctx context.Context) {
	logger.Info("📚 Cargando preguntas iniciales...")

	count, err := catalog.GetQuestionCount(ctx)
	if err == nil && count > 0 {
		logger.Info("✅ Ya hay %d preguntas en el catálogo", count)
		return
	}

	loaded, err := catalog.LoadQuestionsFromFile(ctx, cfg.QuestionsFile)
	if err != nil {
		logger.Warn("⚠️ Error cargando preguntas iniciales: %v", err)
		logger.Info("💡 El servidor continuará funcionando. Puedes cargar preguntas usando POST /api/questions/reload")
		return
	}
	logger.Info("✅ %d preguntas cargadas exitosamente", loaded)
}

func requestHandler(ctx *fasthttp.RequestCtx) {
	path := string(ctx.Path())
	method := string(ctx.Method())

	logger.Debug("📡 %s %s", method, path)

	ctx.Response.Header.Set("Server", "Partidas-FastHTTP/1.0")
	ctx.Response.Header.Set("Cache-Control", "no-cache")

	// Headers CORS para desarrollo
	ctx.Response.Header.Set("Access-Control-Allow-Origin", "*")
	ctx.Response.Header.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	ctx.Response.Header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

	if method == fasthttp.MethodOptions {
		ctx.SetStatusCode(fasthttp.StatusOK)
		return
	}

	switch {
	case path == "/api/health":
		questionHandler.HealthCheck(ctx)
	case path == "/api/questions/count" && method == fasthttp.MethodGet:
		questionHandler.GetQuestionCount(ctx)
	case path == "/api/questions/metadata" && method == fasthttp.MethodGet:
		questionHandler.GetQuestionMetadata(ctx)
	case path == "/api/questions/reload" && method == fasthttp.MethodPost:
		questionHandler.ReloadQuestions(ctx)

	case path == "/api/partidas" && method == fasthttp.MethodPost:
		partidaHandler.CreatePartida(ctx)
	case strings.HasPrefix(path, "/api/partidas/"):
		handlePartidaRoutes(ctx, path, method)

	case strings.HasPrefix(path, "/ws/partidas/"):
		parts := strings.Split(path, "/")
		if len(parts) == 4 && parts[3] != "" {
			ctx.SetUserValue("code", parts[3])
			websocketHandler.HandleWebSocket(ctx)
			return
		}
		serve404(ctx)

	default:
		serve404(ctx)
	}
}

// handlePartidaRoutes enruta /api/partidas/{code}[/accion]
func handlePartidaRoutes(ctx *fasthttp.RequestCtx, path, method string) {
	parts := strings.Split(path, "/")
	if len(parts) < 4 || len(parts) > 5 || parts[3] == "" {
		serve404(ctx)
		return
	}
	ctx.SetUserValue("code", parts[3])

	action := ""
	if len(parts) == 5 {
		action = parts[4]
	}

	switch {
	case action == "" && method == fasthttp.MethodGet:
		partidaHandler.GetStatus(ctx)
	case action == "questions" && method == fasthttp.MethodGet:
		partidaHandler.GetQuestions(ctx)
	case action == "join" && method == fasthttp.MethodPost:
		partidaHandler.Join(ctx)
	case action == "start" && method == fasthttp.MethodPost:
		partidaHandler.Start(ctx)
	case action == "answer" && method == fasthttp.MethodPost:
		partidaHandler.SubmitAnswer(ctx)
	case action == "finish" && method == fasthttp.MethodPost:
		partidaHandler.Finish(ctx)
	case action == "review" && method == fasthttp.MethodGet:
		partidaHandler.Review(ctx)
	case action == "ranking" && method == fasthttp.MethodGet:
		partidaHandler.Ranking(ctx)
	default:
		serve404(ctx)
	}
}

func serve404(ctx *fasthttp.RequestCtx) {
	ctx.SetStatusCode(fasthttp.StatusNotFound)
	ctx.SetContentType("application/json")
	ctx.SetBodyString(`{"success": false, "error": "Ruta no encontrada"}`)
}
