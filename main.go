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

	"github.com/microvolunteer/platform/api"
	"github.com/microvolunteer/platform/config"
	"github.com/microvolunteer/platform/services"
	"github.com/microvolunteer/platform/store"
	"github.com/microvolunteer/platform/utils"
	"golang.org/x/oauth2"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize MongoDB
	client, err := utils.ConnectMongo(ctx, cfg.MongoURI)
	if err != nil {
		log.Fatalf("Failed to connect to MongoDB: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := client.Disconnect(shutdownCtx); err != nil {
			log.Printf("Error disconnecting from MongoDB: %v", err)
		}
	}()

	db := client.Database(cfg.DBName)
	users := store.NewMongoUserStore(db)
	tasks := store.NewMongoTaskStore(db)
	if err := users.EnsureIndexes(ctx); err != nil {
		log.Fatalf("Failed to create user indexes: %v", err)
	}
	if err := tasks.EnsureIndexes(ctx); err != nil {
		log.Fatalf("Failed to create task indexes: %v", err)
	}

	var notifier services.Notifier
	if cfg.SendGridAPIKey != "" {
		notifier = utils.NewMailer(cfg.SendGridAPIKey, cfg.MailFromName, cfg.MailFromAddress)
	} else {
		log.Println("SENDGRID_API_KEY not set, email notifications disabled")
	}

	var moderator services.Moderator
	if cfg.GeminiAPIKey != "" {
		gemini, err := utils.NewGeminiModerator(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			log.Fatalf("Failed to initialize moderation: %v", err)
		}
		defer gemini.Close()
		moderator = gemini
	} else {
		log.Println("GEMINI_API_KEY not set, task moderation disabled")
	}

	var pictures services.PictureStorage
	uploadDir := ""
	if cfg.AWSBucketName != "" {
		s3Storage, err := utils.NewS3PictureStorage(ctx, cfg.AWSRegion, cfg.AWSBucketName)
		if err != nil {
			log.Fatalf("Failed to initialize S3: %v", err)
		}
		pictures = s3Storage
	} else {
		uploadDir = cfg.UploadDir
		pictures = utils.NewLocalPictureStorage(uploadDir, "/user_images")
		log.Printf("AWS_BUCKET_NAME not set, storing pictures in %s", uploadDir)
	}

	var google *oauth2.Config
	if cfg.GoogleLoginEnabled() {
		google = api.GoogleOAuthConfig(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleRedirectURL)
	}

	jwtManager := utils.NewJWTManager(cfg.JWTSecret, cfg.TokenTTL)
	authService := services.NewAuthService(users, jwtManager, jwtManager, notifier)
	taskService := services.NewTaskService(tasks, users, services.TaskPolicy{AllowSelfClaim: cfg.AllowSelfClaim}, notifier, moderator)
	profileService := services.NewProfileService(users, authService, pictures)

	handler := api.NewRouter(api.RouterConfig{
		Auth:     authService,
		Tasks:    taskService,
		Profiles: profileService,
		Google:   google,
		Health: func(ctx context.Context) error {
			return utils.PingMongo(ctx, client)
		},
		UploadDir:      uploadDir,
		AllowedOrigins: cfg.AllowedOrigins,
	})

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		fmt.Printf("Server starting on port %s...\n", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
	taskService.Wait()
}
