package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"rxportal/internal/api"
	"rxportal/internal/auth"
	"rxportal/internal/config"
	"rxportal/internal/dashboard"
	"rxportal/internal/database"
	"rxportal/internal/profile"
	"rxportal/internal/session"
	"rxportal/internal/storage"
	"rxportal/internal/store"
)

func main() {
	cfg := config.MustLoad()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	log.Printf("api bootstrapped with db host=%s port=%d db=%s sslmode=%s",
		cfg.Database.Host,
		cfg.Database.Port,
		cfg.Database.Name,
		cfg.Database.SSLMode,
	)

	db, err := database.InitDatabase(cfg.Database)
	if err != nil {
		log.Fatalf("init database: %v", err)
	}
	log.Printf("database connection ready")

	if err := db.AutoMigrate(database.AllModels()...); err != nil {
		log.Fatalf("auto migrate: %v", err)
	}
	log.Printf("database migrated")

	if err := seedBaseline(db); err != nil {
		log.Fatalf("seed baseline data: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr()})
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error("close redis client failed", slog.Any("error", err))
		}
	}()
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("ping redis: %v", err)
	}

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.Redis.Addr()})
	defer func() {
		if err := asynqClient.Close(); err != nil {
			logger.Error("close asynq client failed", slog.Any("error", err))
		}
	}()

	storageClient, err := storage.NewClient(cfg.MinIO)
	if err != nil {
		log.Fatalf("init storage client: %v", err)
	}
	log.Printf("storage client ready, bucket=%s", cfg.MinIO.Bucket)

	tokens, err := auth.NewSessionService(cfg.API.SessionSecret, cfg.API.SessionTTL)
	if err != nil {
		log.Fatalf("init session service: %v", err)
	}

	gormStore := store.NewGormStore(db)
	records := session.NewRedisRecords(redisClient, cfg.API.SessionTTL)
	selections := profile.NewRedisSelections(redisClient, cfg.API.SessionTTL)
	aggregator := dashboard.NewAggregator(gormStore, logger)

	router := api.NewRouter(logger)
	api.RegisterRoutes(router, api.RouteDeps{
		Store:                 gormStore,
		Tokens:                tokens,
		Records:               records,
		Selections:            selections,
		RedisClient:           redisClient,
		AsynqClient:           asynqClient,
		StorageClient:         storageClient,
		Aggregator:            aggregator,
		Logger:                logger,
		LoginRateLimitPerHour: cfg.API.LoginRateLimitPerHour,
		LoginLockThreshold:    cfg.API.LoginLockThreshold,
		LoginLockTTL:          cfg.API.LoginLockTTL,
		AllowedWsOrigins:      cfg.API.AllowedWsOrigins,
	})

	address := fmt.Sprintf(":%d", cfg.API.Port)
	log.Printf("api listening on %s", address)
	if err := router.Run(address); err != nil {
		log.Fatalf("failed to start api server: %v", err)
	}
}

// seedBaseline 在空库上写入演示账号、资源目录、培训模块与全局公告，
// 让新环境开箱即可登录巡检。生产库已有数据时不做任何写入。
func seedBaseline(db *gorm.DB) error {
	var account database.Account
	switch err := db.First(&account, 1).Error; {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		// 空库，继续写种子数据
	default:
		return fmt.Errorf("query seed account: %w", err)
	}

	passwordHash, err := auth.HashPassword("demo-password")
	if err != nil {
		return fmt.Errorf("hash seed password: %w", err)
	}

	seeded := database.Account{
		Model:              gorm.Model{ID: 1},
		Email:              "demo@rxportal.local",
		PasswordHash:       passwordHash,
		PharmacyName:       "Demo Pharmacy",
		SubscriptionStatus: database.SubscriptionActive,
		Profiles: []database.MemberProfile{
			{Role: database.RolePharmacy},
		},
	}
	if err := db.Create(&seeded).Error; err != nil {
		return fmt.Errorf("seed account: %w", err)
	}

	catalog := []database.StorageFileCatalog{
		{Path: "/resources/compliance/hipaa-overview", DisplayName: "HIPAA Overview", ObjectKey: "compliance/hipaa-overview.pdf", Category: "compliance"},
		{Path: "/resources/operations/opening-checklist", DisplayName: "Opening Checklist", ObjectKey: "operations/opening-checklist.pdf", Category: "operations"},
	}
	if err := db.Create(&catalog).Error; err != nil {
		return fmt.Errorf("seed resource catalog: %w", err)
	}

	modules := []database.TrainingModule{
		{ModuleKey: "hipaa-basics", Title: "HIPAA Basics"},
		{ModuleKey: "sterile-compounding", Title: "Sterile Compounding"},
	}
	if err := db.Create(&modules).Error; err != nil {
		return fmt.Errorf("seed training modules: %w", err)
	}

	announcement := database.Announcement{
		Title:       "Welcome to the member portal",
		Body:        "Select a staff profile to start tracking bookmarks and training.",
		Metadata:    datatypes.JSON([]byte(`{"audience":"all"}`)),
		PublishedAt: time.Now(),
	}
	if err := db.Create(&announcement).Error; err != nil {
		return fmt.Errorf("seed announcement: %w", err)
	}

	log.Printf("seeded demo account, catalog, training modules and announcement")
	return nil
}
