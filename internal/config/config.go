package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL string
	HTTPAddr    string

	// Zoho Creator
	ZohoClientID       string
	ZohoClientSecret   string
	ZohoRefreshToken   string
	ZohoAccountOwner   string
	ZohoAppLinkName    string
	ZohoReportLinkName string
	ZohoRateLimit      float64 // calls per second

	// Supabase Storage (S3-compatible endpoint)
	StorageEndpoint  string
	StorageRegion    string
	StorageAccessKey string
	StorageSecretKey string
	StorageBucket    string

	// Image normalization
	ImageMaxSizeMB    int
	ImageMaxDimension int
	ImageQuality      int

	// Record field mapping
	TagFields        []string
	CategoryField    string
	DescriptionField string
	JobCaptainField  string
	ProjectField     string
	DepartmentField  string

	ShutdownTimeout time.Duration
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if exists (ignore error in production)
	_ = godotenv.Load()

	cfg := &Config{
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		HTTPAddr:           envOr("HTTP_ADDR", ":8080"),
		ZohoClientID:       os.Getenv("ZOHO_CLIENT_ID"),
		ZohoClientSecret:   os.Getenv("ZOHO_CLIENT_SECRET"),
		ZohoRefreshToken:   os.Getenv("ZOHO_REFRESH_TOKEN"),
		ZohoAccountOwner:   os.Getenv("ZOHO_ACCOUNT_OWNER"),
		ZohoAppLinkName:    os.Getenv("ZOHO_APP_LINK_NAME"),
		ZohoReportLinkName: os.Getenv("ZOHO_REPORT_LINK_NAME"),
		StorageEndpoint:    os.Getenv("STORAGE_ENDPOINT"),
		StorageRegion:      envOr("STORAGE_REGION", "us-east-1"),
		StorageAccessKey:   os.Getenv("STORAGE_ACCESS_KEY"),
		StorageSecretKey:   os.Getenv("STORAGE_SECRET_KEY"),
		StorageBucket:      envOr("STORAGE_BUCKET", "zoho-pictures"),
		CategoryField:      os.Getenv("CATEGORY_FIELD"),
		DescriptionField:   os.Getenv("DESCRIPTION_FIELD"),
		JobCaptainField:    os.Getenv("JOB_CAPTAIN_FIELD"),
		ProjectField:       os.Getenv("PROJECT_FIELD"),
		DepartmentField:    os.Getenv("DEPARTMENT_FIELD"),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.ZohoClientID == "" || cfg.ZohoClientSecret == "" || cfg.ZohoRefreshToken == "" {
		return nil, fmt.Errorf("ZOHO_CLIENT_ID, ZOHO_CLIENT_SECRET and ZOHO_REFRESH_TOKEN are required")
	}
	if cfg.ZohoAccountOwner == "" || cfg.ZohoAppLinkName == "" || cfg.ZohoReportLinkName == "" {
		return nil, fmt.Errorf("ZOHO_ACCOUNT_OWNER, ZOHO_APP_LINK_NAME and ZOHO_REPORT_LINK_NAME are required")
	}
	if cfg.StorageEndpoint == "" || cfg.StorageAccessKey == "" || cfg.StorageSecretKey == "" {
		fmt.Println("Warning: STORAGE_ENDPOINT, STORAGE_ACCESS_KEY or STORAGE_SECRET_KEY not set, uploads will not work")
	}

	var err error
	if cfg.ZohoRateLimit, err = envFloat("ZOHO_RATE_LIMIT", 5.0); err != nil {
		return nil, err
	}
	if cfg.ImageMaxSizeMB, err = envInt("IMAGE_MAX_SIZE_MB", 5); err != nil {
		return nil, err
	}
	if cfg.ImageMaxDimension, err = envInt("IMAGE_MAX_DIMENSION", 4000); err != nil {
		return nil, err
	}
	if cfg.ImageQuality, err = envInt("IMAGE_QUALITY", 85); err != nil {
		return nil, err
	}
	shutdownSeconds, err := envInt("SHUTDOWN_TIMEOUT", 30)
	if err != nil {
		return nil, err
	}
	cfg.ShutdownTimeout = time.Duration(shutdownSeconds) * time.Second

	if raw := os.Getenv("TAG_FIELDS"); raw != "" {
		for _, f := range strings.Split(raw, ",") {
			if f = strings.TrimSpace(f); f != "" {
				cfg.TagFields = append(cfg.TagFields, f)
			}
		}
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func envFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}
