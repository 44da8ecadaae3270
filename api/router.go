package api

import (
	"context"
	"net/http"

	"github.com/microvolunteer/platform/services"
	"github.com/microvolunteer/platform/utils"
	"golang.org/x/oauth2"
)

// RouterConfig carries everything NewRouter wires into routes.
type RouterConfig struct {
	Auth     *services.AuthService
	Tasks    *services.TaskService
	Profiles *services.ProfileService

	// Google enables Google sign-in when set.
	Google *oauth2.Config

	// Health reports whether the database is reachable.
	Health func(ctx context.Context) error

	// UploadDir is served at /user_images/ when set.
	UploadDir      string
	AllowedOrigins []string
}

// NewRouter builds the HTTP surface of the platform.
func NewRouter(cfg RouterConfig) http.Handler {
	authHandler := NewAuthHandler(cfg.Auth, cfg.Google)
	taskHandler := NewTaskHandler(cfg.Tasks)
	userHandler := NewUserHandler(cfg.Profiles)

	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("Micro Volunteer Platform API is running"))
	})
	mux.HandleFunc("GET /health", healthHandler(cfg.Health))

	// Auth
	mux.HandleFunc("POST /api/auth/register", authHandler.RegisterHandler)
	mux.HandleFunc("POST /api/auth/login", authHandler.LoginHandler)
	mux.HandleFunc("POST /api/auth/forgot-password", authHandler.ForgotPasswordHandler)
	mux.HandleFunc("POST /api/auth/verify-otp", authHandler.VerifyOTPHandler)
	mux.HandleFunc("POST /api/auth/reset-password", authHandler.ResetPasswordHandler)
	mux.HandleFunc("GET /api/auth/google/login", authHandler.GoogleLoginHandler)
	mux.HandleFunc("GET /api/auth/google/callback", authHandler.GoogleCallbackHandler)

	// Tasks
	mux.HandleFunc("GET /api/tasks", OptionalAuth(cfg.Auth, taskHandler.ListTasksHandler))
	mux.HandleFunc("POST /api/tasks", RequireAuth(cfg.Auth, taskHandler.CreateTaskHandler))
	mux.HandleFunc("GET /api/tasks/{id}", taskHandler.GetTaskHandler)
	mux.HandleFunc("PATCH /api/tasks/{id}", RequireAuth(cfg.Auth, taskHandler.UpdateTaskHandler))
	mux.HandleFunc("DELETE /api/tasks/{id}", RequireAuth(cfg.Auth, taskHandler.DeleteTaskHandler))
	mux.HandleFunc("POST /api/tasks/{id}/claim", RequireAuth(cfg.Auth, taskHandler.ClaimTaskHandler))
	mux.HandleFunc("POST /api/tasks/{id}/complete", RequireAuth(cfg.Auth, taskHandler.CompleteTaskHandler))

	// Users
	mux.HandleFunc("GET /api/user/me", RequireAuth(cfg.Auth, userHandler.GetMeHandler))
	mux.HandleFunc("PUT /api/user/me", RequireAuth(cfg.Auth, userHandler.UpdateMeHandler))
	mux.HandleFunc("POST /api/user/me/picture", RequireAuth(cfg.Auth, userHandler.UploadPictureHandler))
	mux.HandleFunc("GET /api/user/{id}", userHandler.GetUserHandler)

	// Serve static files for locally stored pictures
	if cfg.UploadDir != "" {
		mux.Handle("GET /user_images/", http.StripPrefix("/user_images/", http.FileServer(http.Dir(cfg.UploadDir))))
	}

	return utils.LatencyMiddleware(CORS(cfg.AllowedOrigins)(mux))
}

func healthHandler(check func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			if err := check(r.Context()); err != nil {
				utils.RespondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "database": err.Error()})
				return
			}
		}
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
