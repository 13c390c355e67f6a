package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"quest-hunt-system/handlers"
	"quest-hunt-system/middleware"
	"quest-hunt-system/models"
	"quest-hunt-system/services"
	"quest-hunt-system/utils"
	"quest-hunt-system/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}

	app := fiber.New(fiber.Config{
		BodyLimit: 32 * 1024 * 1024, // 32MB — proof photos, not game bundles
	})

	// 🔐 GLOBAL: every caller (bot, mini app, admin console) carries the
	// shared secret
	app.Use(middleware.AppSecretMiddleware())

	allowedOriginsEnv := os.Getenv("ALLOWED_ORIGINS")
	if allowedOriginsEnv == "" {
		log.Println("⚠️  ALLOWED_ORIGINS environment variable not set, using default: http://localhost:3000")
		allowedOriginsEnv = "http://localhost:3000"
	}
	allowedOriginsList := strings.Split(allowedOriginsEnv, ",")
	for i, origin := range allowedOriginsList {
		allowedOriginsList[i] = strings.TrimSpace(origin)
	}

	app.Use(cors.New(cors.Config{
		AllowOrigins:     strings.Join(allowedOriginsList, ","),
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH,HEAD",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, x-app-secret",
		ExposeHeaders:    "Content-Length, Content-Type, X-Request-ID",
		AllowCredentials: true,
		MaxAge:           86400, // 24 hours
	}))

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL environment variable not set")
	}

	if err := utils.InitProofStore(); err != nil {
		log.Fatal("failed to initialize proof store:", err)
	}
	if !utils.ProofStoreEnabled() {
		log.Println("⚠️  R2 not configured — proof photos fall back to local disk")
		if err := utils.EnsureProofDir(); err != nil {
			log.Fatal("failed to ensure proofs dir:", err)
		}
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatal("failed to connect to database:", err)
	}

	if err := db.AutoMigrate(
		&models.Team{},
		&models.User{},
		&models.TeamMember{},
		&models.Task{},
		&models.ProgressRecord{},
		&models.GameSession{},
	); err != nil {
		log.Fatal("failed to migrate database:", err)
	}

	teamService := services.NewTeamService(db)
	taskService := services.NewTaskService(db)
	progressService := services.NewProgressService(db)
	scoringService := services.NewScoringService(db)
	sessionService := services.NewSessionService(db)

	if _, err := sessionService.Ensure(os.Getenv("EVENT_NAME")); err != nil {
		log.Fatal("failed to ensure game session:", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	watcher := workers.NewPendingWatcher(db)
	go workers.WatchPending(ctx, watcher, 15*time.Second)

	sessionService.StartAutoEndScheduler()

	handlers.SetupTeamRoutes(app, teamService)
	handlers.SetupGameRoutes(app, progressService, scoringService, teamService, sessionService)
	handlers.SetupAdminRoutes(app, taskService, progressService, teamService, sessionService)

	if !utils.ProofStoreEnabled() {
		app.Static("/proofs", utils.ProofDir())
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	go func() {
		if err := app.Listen(":" + port); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	log.Printf("✅ Server running on http://localhost:%s", port)
	log.Println("✅ Pending-proof watcher running (every 15s)")
	log.Println("✅ Session auto-end scheduler running")
	log.Println("✅ AppSecretMiddleware enforced globally")

	<-ctx.Done()
	log.Println("Shutting down server...")
}
