package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/robfig/cron"

	config "github.com/crosspost-io/crosspost/configs"
	"github.com/crosspost-io/crosspost/internal/api/handlers"
	"github.com/crosspost-io/crosspost/internal/api/middleware"
	job "github.com/crosspost-io/crosspost/internal/jobs"
	"github.com/crosspost-io/crosspost/internal/notify"
	"github.com/crosspost-io/crosspost/internal/publish"
	"github.com/crosspost-io/crosspost/internal/queue"
	"github.com/crosspost-io/crosspost/internal/repository"
	"github.com/crosspost-io/crosspost/internal/service"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: Failed to load environment variables", err)
	}

	cfg := config.LoadConfig()

	db, err := sql.Open("postgres", cfg.PostgresURI)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer closeDB(db)

	if err := db.Ping(); err != nil {
		log.Fatalf("Database is unreachable: %v", err)
	}

	redisConn := asynq.RedisClientOpt{Addr: cfg.RedisURI}
	client := asynq.NewClient(redisConn)
	defer client.Close()

	app := fiber.New(fiber.Config{
		ReadTimeout:  10 * time.Minute,
		WriteTimeout: 10 * time.Minute,
		BodyLimit:    100 * 1024 * 1024, // 100 MB
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			log.Printf("Error: %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		},
	})

	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOriginsFunc: func(origin string) bool {
			return true
		},
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowCredentials: true,
		MaxAge:           3600,
	}))

	userRepo := repository.NewUserRepository(db)
	postRepo := repository.NewPostRepository(db)
	socialAccountRepo := repository.NewSocialAccountRepository(db)
	contentItemRepo := repository.NewContentItemRepository(db)
	scheduleRepo := repository.NewScheduleRepository(db)
	mediaAssetRepo := repository.NewMediaAssetRepository(db)
	apiKeyRepository := repository.NewApiKeyRepository(db)

	notifier := notify.NewNotifier()

	enqueue := func(scheduleID int64, fireAt time.Time) error {
		return queue.EnqueueSchedule(client, queue.PublishSchedulePayload{ScheduleID: scheduleID}, fireAt)
	}

	authService := service.NewAuthService(*cfg, userRepo)
	userService := service.NewUserService(userRepo, socialAccountRepo, scheduleRepo)
	mediaService := service.NewMediaService(*cfg, mediaAssetRepo)
	connectService := service.NewConnectService(*cfg, socialAccountRepo)
	scheduleService := service.NewScheduleService(db, scheduleRepo, contentItemRepo, socialAccountRepo, connectService, notifier, enqueue)
	postService := service.NewPostService(postRepo, scheduleRepo)
	apiKeyService := service.NewApiKeyService(apiKeyRepository)

	adapters := publish.NewRegistry(
		publish.NewTwitterAdapter(),
		publish.NewLinkedInAdapter(),
		publish.NewMastodonAdapter(),
		publish.NewBlueskyAdapter(cfg.SecretKey, socialAccountRepo),
		publish.NewInstagramAdapter(cfg.Publish.PollInterval, cfg.Publish.PollTimeout),
		publish.NewFacebookAdapter(cfg.SecretKey, socialAccountRepo, cfg.Publish.UploadChunkSize),
	)

	authMiddleware := middleware.NewAuthMiddleware(*cfg, apiKeyService)

	auth := handlers.NewAuthHandler(*cfg, authService)
	app.Get("/login", auth.Login)
	app.Get("/login/callback", auth.LoginCallbackHandler)

	connect := handlers.NewConnectHandler(*cfg, connectService)
	app.Get("/connect/:provider/callback", connect.Callback)

	api := app.Group("/api")
	api.Use(authMiddleware.AuthMiddleware())

	api.Get("/connect/:provider", connect.Connect)
	api.Post("/connect/bluesky", connect.ConnectBluesky)
	api.Get("/accounts", connect.ListAccounts)
	api.Delete("/accounts/:provider", connect.Disconnect)

	user := handlers.NewUserHandler(userService)
	api.Get("/user/info", user.GetUserInfo)
	api.Delete("/user", user.RemoveUser)

	apiKeys := handlers.NewApiKeyHandler(apiKeyService)
	api.Post("/api_key/new", apiKeys.CreateApiKey)
	api.Get("/api_key/list", apiKeys.ListKeys)
	api.Post("/api_key/remove", apiKeys.RemoveAPIKey)

	schedules := handlers.NewScheduleHandler(scheduleService)
	api.Post("/schedules", schedules.CreateSchedule)
	api.Get("/schedules", schedules.ListSchedules)
	api.Post("/schedules/:id/resume", schedules.ResumeSchedule)

	posts := handlers.NewPostHandler(postService)
	api.Get("/posts", posts.ListPosts)
	api.Get("/schedules/:id/post", posts.GetSchedulePost)

	media := handlers.NewMediaHandler(mediaService)
	api.Post("/media", media.Upload)
	api.Get("/media/:id", media.GetAsset)
	api.Delete("/media/:id", media.RemoveAsset)

	events := handlers.NewEventsHandler(notifier)
	api.Get("/events", events.Stream)

	// queue worker
	queueW := queue.NewQueue(scheduleRepo, socialAccountRepo, contentItemRepo, postRepo,
		adapters, connectService, notifier, enqueue, cfg.SecretKey, cfg.Publish.MaxAttempts)

	// cron jobs
	refreshTokenJob := job.NewTokenRefreshJob(socialAccountRepo, connectService)
	requeueJob := job.NewRequeueJob(scheduleRepo, enqueue)

	c := cron.New()
	c.AddFunc("@every 00h10m00s", refreshTokenJob.RefreshTokens)
	c.AddFunc("@every 00h05m00s", requeueJob.RequeueStale)
	c.Start()

	go func() {
		server := asynq.NewServer(redisConn, asynq.Config{
			Concurrency: 10,
		})

		mux := asynq.NewServeMux()
		mux.HandleFunc(queue.TaskTypePublishSchedule, queueW.HandleSchedulePublishTask)

		log.Println("Starting the Asynq server...")
		if err := server.Run(mux); err != nil {
			log.Fatalf("Could not start Asynq server: %v", err)
		}
	}()

	go func() {
		if err := app.Listen(":3000"); err != nil {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()
	log.Println("Server is running on http://localhost:3000")

	gracefulShutdown(app, db)
}

func closeDB(db *sql.DB) {
	fmt.Fprint(os.Stdout, "Closing database connection... ")
	if err := db.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to close database: %v", err)
		return
	}
	fmt.Fprintln(os.Stdout, "Done")
}

func gracefulShutdown(app *fiber.App, db *sql.DB) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	<-quit
	log.Println("Shutting down server...")

	if err := app.Shutdown(); err != nil {
		log.Fatalf("Failed to shut down server: %v", err)
	}

	closeDB(db)
	log.Println("Server shutdown complete.")
}
