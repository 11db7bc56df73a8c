package main

import (
	"log"
	"os"
	"strconv"
	"time"
)

// Config carries every tunable the engine needs. It is built once at
// startup, is immutable afterwards, and is passed into each component
// explicitly so the detector, extractor and navigator stay independently
// testable.
type Config struct {
	// Navigation
	MarketKey       string        // key that opens the market window
	SettleDelay     time.Duration // wait after opening the market / a store
	ClickDelay      time.Duration // wait between clicks
	TooltipDelay    time.Duration // wait for a tooltip to render after hover
	TooltipRetries  int           // capture attempts per slot before skipping
	ExtractRetries  int           // capture-detect-extract attempts per slot
	MaxPages        int           // safety cap for Complete mode page walking
	StoresPerPage   int           // visible store rows per list page
	PersistRetries  int           // save attempts per record before dropping
	PersistBackoff  time.Duration
	// Detection
	HueLow, HueHigh float64 // tooltip hue band (OpenCV H 0-179)
	SatLow, SatHigh float64
	ValLow, ValHigh float64
	MinTooltipArea  float64 // contour area floor, px^2
	// Extraction
	ConfidenceFloor float64 // mean OCR confidence gate, 0..1
	TessLanguage    string
	// Scheduling
	SchedulePollInterval time.Duration // custom schedule poll cadence
	MaxDeferWindow       time.Duration // pending past this -> skipped
	FixedCronSpec        string
	// External
	DatabasePath    string
	CalibrationPath string
	GeminiAPIKey    string
	DiscordToken    string
	DiscordChannels string
}

// LoadConfig builds the configuration from the environment, applying the
// defaults the collector has been tuned with. Every policy constant the
// retry/defer behavior depends on can be overridden via env.
func LoadConfig() Config {
	return Config{
		MarketKey:      envString("MARKET_KEY", "p"),
		SettleDelay:    envDuration("SETTLE_DELAY", 2*time.Second),
		ClickDelay:     envDuration("CLICK_DELAY", 500*time.Millisecond),
		TooltipDelay:   envDuration("TOOLTIP_DELAY", 1500*time.Millisecond),
		TooltipRetries: envInt("TOOLTIP_RETRIES", 3),
		ExtractRetries: envInt("EXTRACT_RETRIES", 3),
		MaxPages:       envInt("MAX_PAGES", 100),
		StoresPerPage:  envInt("STORES_PER_PAGE", 5),
		PersistRetries: envInt("PERSIST_RETRIES", 3),
		PersistBackoff: envDuration("PERSIST_BACKOFF", 2*time.Second),

		HueLow: envFloat("TOOLTIP_HUE_LOW", 100), HueHigh: envFloat("TOOLTIP_HUE_HIGH", 130),
		SatLow: envFloat("TOOLTIP_SAT_LOW", 50), SatHigh: envFloat("TOOLTIP_SAT_HIGH", 255),
		ValLow: envFloat("TOOLTIP_VAL_LOW", 20), ValHigh: envFloat("TOOLTIP_VAL_HIGH", 100),
		MinTooltipArea: envFloat("TOOLTIP_MIN_AREA", 10000),

		ConfidenceFloor: envFloat("OCR_CONFIDENCE_FLOOR", 0.60),
		TessLanguage:    envString("TESSERACT_LANG", "eng+por"),

		SchedulePollInterval: envDuration("SCHEDULE_POLL_INTERVAL", 60*time.Second),
		MaxDeferWindow:       envDuration("SCHEDULE_MAX_DEFER", 30*time.Minute),
		FixedCronSpec:        envString("FIXED_CRON_SPEC", "0 5,10,17,23 * * *"),

		DatabasePath:    envString("DATABASE_PATH", "megamu.db"),
		CalibrationPath: envString("CALIBRATION_FILE", "calibration.json"),
		GeminiAPIKey:    os.Getenv("GEMINI_API_KEY"),
		DiscordToken:    os.Getenv("DISCORD_BOT_TOKEN"),
		DiscordChannels: os.Getenv("DISCORD_CHANNEL_IDS"),
	}
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[W] [Config] Invalid integer for %s: %q. Using default %d.", key, v, fallback)
		return fallback
	}
	return n
}

func envFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("[W] [Config] Invalid number for %s: %q. Using default %v.", key, v, fallback)
		return fallback
	}
	return f
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("[W] [Config] Invalid duration for %s: %q. Using default %s.", key, v, fallback)
		return fallback
	}
	return d
}
