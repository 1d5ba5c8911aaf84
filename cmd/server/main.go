package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/JGooseK41/NFTServiceApp-sub002/internal/filestore"
	"github.com/JGooseK41/NFTServiceApp-sub002/internal/staging"
	"github.com/JGooseK41/NFTServiceApp-sub002/pkg/db"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

func main() {
	ctx := context.Background()

	port := strings.TrimSpace(os.Getenv("SERVICE_PORT"))
	if port == "" {
		port = "8080"
	}
	storageRoot := strings.TrimSpace(os.Getenv("STORAGE_ROOT"))
	if storageRoot == "" {
		storageRoot = "./uploads"
	}
	cfg := loadStagingConfig()

	pool, err := db.Connect(ctx)
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer pool.Close()
	if err := staging.RunMigrations(ctx, pool); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	files, err := filestore.New(storageRoot)
	if err != nil {
		log.Fatalf("filestore: %v", err)
	}

	handler := staging.NewHandler(staging.NewStore(pool), files, cfg)

	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })
	handler.Routes(r)

	// Uploaded documents are referenced by relative filename; serve both
	// trees so the URLs returned by stage/execute resolve.
	r.Handle("/documents/*", http.StripPrefix("/documents/", http.FileServer(http.Dir(files.DocumentsDir()))))
	r.Handle("/staged/*", http.StripPrefix("/staged/", http.FileServer(http.Dir(files.StagedDir()))))

	log.Printf("transaction staging service listening on :%s", port)
	if err := http.ListenAndServe(":"+port, r); err != nil {
		log.Fatalf("serve: %v", err)
	}
}

func loadStagingConfig() staging.Config {
	cfg := staging.DefaultConfig()
	cfg.StageTTL = time.Duration(envIntDefault("STAGE_TTL_MINUTES", 30)) * time.Minute
	cfg.CreationFeeTRX = envDecimalDefault("CREATION_FEE_TRX", cfg.CreationFeeTRX)
	cfg.SponsorshipFeeTRX = envDecimalDefault("SPONSORSHIP_FEE_TRX", cfg.SponsorshipFeeTRX)
	cfg.BaseEnergy = envInt64Default("BASE_ENERGY", cfg.BaseEnergy)
	cfg.DocumentEnergy = envInt64Default("DOCUMENT_ENERGY", cfg.DocumentEnergy)
	cfg.RecipientEnergy = envInt64Default("RECIPIENT_ENERGY", cfg.RecipientEnergy)
	cfg.BurnRatePerEnergyTRX = envDecimalDefault("ENERGY_BURN_RATE_TRX", cfg.BurnRatePerEnergyTRX)
	cfg.RentalRatePerEnergyTRX = envDecimalDefault("ENERGY_RENTAL_RATE_TRX", cfg.RentalRatePerEnergyTRX)
	return cfg
}

func envIntDefault(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func envInt64Default(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func envDecimalDefault(key string, def decimal.Decimal) decimal.Decimal {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := decimal.NewFromString(raw)
	if err != nil || v.IsNegative() {
		return def
	}
	return v
}
