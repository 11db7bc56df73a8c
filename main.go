package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/joho/godotenv"
)

func main() {
	mode := flag.String("mode", "", "collection mode: selective, complete, scheduler or analyze")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Println("[W] [Main] No .env file found. Using environment as-is.")
	}

	cfg := LoadConfig()

	store, err := OpenStore(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("[E] [Main] %v", err)
	}
	defer store.Close()

	switch *mode {
	case "selective":
		runManual(cfg, store, ModeSelective)
	case "complete":
		runManual(cfg, store, ModeComplete)
	case "scheduler":
		runScheduler(cfg, store)
	case "analyze":
		runAnalysis(cfg, store)
	default:
		log.Printf("[E] [Main] Unknown mode %q. Use -mode=selective|complete|scheduler|analyze.", *mode)
		flag.Usage()
		os.Exit(2)
	}
}

// navRegistry tracks the navigator of the job in flight so a shutdown
// request can reach it. Stops are cooperative: they land at the next
// slot/store boundary.
type navRegistry struct {
	mu      sync.Mutex
	current *Navigator
}

func (r *navRegistry) set(n *Navigator) {
	r.mu.Lock()
	r.current = n
	r.mu.Unlock()
}

func (r *navRegistry) stopCurrent() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current != nil {
		r.current.Stop()
	}
}

// newRunner builds the navigator job executor. Calibration is reloaded at
// every job start, so recalibrating between runs needs no restart.
func newRunner(cfg Config, store *Store, registry *navRegistry) func(*CollectionJob) error {
	screen := NewScreenPort()
	detector := NewTooltipDetector(cfg)
	ocr := NewTesseractEngine(cfg.TessLanguage)
	extractor := NewExtractor(ocr, cfg, NewGeminiParser(cfg.GeminiAPIKey))

	return func(job *CollectionJob) error {
		cal, err := LoadCalibration(cfg.CalibrationPath)
		if err != nil {
			return err
		}
		nav := NewNavigator(cfg, cal, screen, detector, extractor, ocr, store)
		if registry != nil {
			registry.set(nav)
			defer registry.set(nil)
		}
		return nav.Run(job)
	}
}

// runManual executes one operator-invoked collection and exits non-zero on
// failure or contention.
func runManual(cfg Config, store *Store, mode CollectionMode) {
	coordinator := NewCoordinator(cfg, store, newRunner(cfg, store, nil), nil)

	job, err := coordinator.TriggerManual(mode)
	if err != nil {
		log.Fatalf("[E] [Main] %v", err)
	}
	if job.Status != StatusCompleted {
		log.Printf("[E] [Main] Collection finished with status %s: %s", job.Status, job.ErrorMessage)
		os.Exit(1)
	}
	log.Printf("[I] [Main] Collection completed: %d items from %d pages.", job.ItemsSaved, job.PagesScanned)
}

// runScheduler runs the long-lived coordinator: fixed 4x/day collections,
// the custom schedule poller, post-job analysis and Discord alerts.
func runScheduler(cfg Config, store *Store) {
	alerts := NewAlertSender(cfg.DiscordToken, cfg.DiscordChannels)
	defer alerts.Close()
	analyzer := NewAnalyzer(store)

	afterJob := func(job *CollectionJob) {
		alerts.NotifyJobFinished(job)
		if job.Status != StatusCompleted {
			return
		}
		ops, err := analyzer.Run()
		if err != nil {
			log.Printf("[E] [Main] Post-job analysis failed: %v", err)
			return
		}
		alerts.NotifyOpportunities(ops)
	}

	registry := &navRegistry{}
	coordinator := NewCoordinator(cfg, store, newRunner(cfg, store, registry), afterJob)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig
		log.Println("[I] [Main] Shutdown signal received.")
		registry.stopCurrent()
		cancel()
	}()

	if err := coordinator.Start(ctx); err != nil {
		log.Fatalf("[E] [Main] %v", err)
	}
}

// runAnalysis performs a single arbitrage pass without touching the game.
func runAnalysis(cfg Config, store *Store) {
	alerts := NewAlertSender(cfg.DiscordToken, cfg.DiscordChannels)
	defer alerts.Close()

	ops, err := NewAnalyzer(store).Run()
	if err != nil {
		log.Fatalf("[E] [Main] %v", err)
	}
	alerts.NotifyOpportunities(ops)
}
