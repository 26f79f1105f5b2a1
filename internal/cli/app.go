package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/aixiaozi/go-kids-chat/internal/config"
	httpapi "github.com/aixiaozi/go-kids-chat/internal/http"
	"github.com/aixiaozi/go-kids-chat/internal/http/handlers"
	"github.com/aixiaozi/go-kids-chat/internal/llm"
	"github.com/aixiaozi/go-kids-chat/internal/mail"
	"github.com/aixiaozi/go-kids-chat/internal/repo"
	"github.com/aixiaozi/go-kids-chat/internal/search"
	"github.com/aixiaozi/go-kids-chat/internal/services"
	"github.com/aixiaozi/go-kids-chat/internal/weather"
)

// app is the wired object graph shared by the commands.
type app struct {
	cfg   config.Config
	db    *gorm.DB
	auth  *services.AuthService
	deps  handlers.Deps
	users *repo.UserStore
}

// newApp opens storage and builds every service. The caller closes the
// database through app.close.
func newApp(cfg config.Config) (*app, error) {
	for _, dir := range []string{cfg.DataDir, filepath.Join(cfg.DataDir, "chats"), cfg.Upload.Dir, filepath.Dir(cfg.DBPath)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}

	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	chatLLM := llm.New(llm.Config{APIKey: cfg.LLM.APIKey, BaseURL: cfg.LLM.BaseURL, Timeout: cfg.LLM.Timeout})
	reasonLLM := llm.New(llm.Config{APIKey: cfg.Reasoning.APIKey, BaseURL: cfg.Reasoning.BaseURL, Timeout: cfg.Reasoning.Timeout})

	searcher := search.NewClient(search.Config{
		Enabled: cfg.Search.Enabled,
		APIKey:  cfg.Search.APIKey,
		BaseURL: cfg.Search.BaseURL,
		Timeout: cfg.Search.Timeout,
	})
	wx := weather.New(searcher,
		weather.WithDefaultCity(cfg.Weather.DefaultCity),
		weather.WithCacheTTL(cfg.Weather.CacheTTL),
	)

	uploads := services.NewUploadService(db, cfg.Upload.Dir, cfg.Upload.MaxFileBytes, cfg.APIBasePath)

	replies := services.NewReplyService(chatLLM, cfg.Reply, cfg.LLM.Model)
	if reasonLLM.Configured() {
		replies.Reasoning = reasonLLM
		replies.ReasoningModel = cfg.Reasoning.Model
	}
	replies.VisionModel = cfg.VisionModel
	replies.Search = searcher
	replies.Weather = wx
	replies.Files = uploads

	chats := repo.NewChatStore(filepath.Join(cfg.DataDir, "chats"))
	users := repo.NewUserStore(cfg.DataDir)
	mailer := mail.New(cfg.SMTP)
	auth := services.NewAuthService(users, mailer, cfg.Auth)

	return &app{
		cfg:   cfg,
		db:    db,
		auth:  auth,
		users: users,
		deps: handlers.Deps{
			Chats:          services.NewChatService(chats),
			Messages:       services.NewMessageService(chats, replies, cfg.Reply.MaxPromptRunes),
			Idempotency:    httpapi.NewIdempotencyStore(db, cfg.IdempotencyTTL),
			Auth:           auth,
			Mailer:         mailer,
			Uploads:        uploads,
			Voice:          services.NewVoiceService(chatLLM, cfg.Voice, cfg.LLM.Model, chatLLM.Configured()),
			Weather:        wx,
			Search:         searcher,
			IdempotencyTTL: cfg.IdempotencyTTL,
			MaxUploadFiles: cfg.Upload.MaxFiles,
		},
	}, nil
}

// router builds the Gin engine.
func (a *app) router() *gin.Engine {
	gin.SetMode(a.cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, a.deps, a.auth, a.db, a.cfg)
	return r
}

func (a *app) close(context.Context) error {
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
