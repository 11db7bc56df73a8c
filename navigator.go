package main

import (
	"errors"
	"fmt"
	"image"
	"log"
	"regexp"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

const enableNavigatorDebugLogs = false

// navState names the navigator's position in the collection walk. States
// only move forward within a store scan; per-slot failures are recovered
// locally and never reach the job-level error state.
type navState string

const (
	stateIdle             navState = "idle"
	stateOpeningMarket    navState = "opening_market"
	stateSelectingStore   navState = "selecting_store"
	stateWaitingTooltip   navState = "waiting_tooltip"
	stateCapturingTooltip navState = "capturing_tooltip"
	stateExtracting       navState = "extracting"
	statePersisting       navState = "persisting"
	stateClosingStore     navState = "closing_store"
	stateNextPage         navState = "next_page"
	stateCompleted        navState = "completed"
	stateError            navState = "error"
)

// errStopped reports a cooperative stop honored at a slot/store boundary.
var errStopped = errors.New("collection stopped by request")

// rePagination matches the market's "current/total" page indicator.
var rePagination = regexp.MustCompile(`(\d+)\s*/\s*(\d+)`)

// Detector locates the tooltip in a captured frame.
type Detector interface {
	Detect(frame image.Image) (image.Rectangle, bool)
}

// RecordExtractor turns a tooltip crop into a typed record.
type RecordExtractor interface {
	Extract(crop image.Image) (ItemRecord, error)
}

// NavigatorStore is the slice of the persistence port the navigator needs.
type NavigatorStore interface {
	SaveItemRecord(rec ItemRecord, jobID string) error
	ItemsOfInterest() ([]string, error)
}

// Navigator walks the market: stores, pages and slots, invoking the
// detector and extractor per slot and persisting what they produce. It
// holds no synchronization of its own; the scheduler guarantees a single
// execution via the run-lock.
type Navigator struct {
	cfg       Config
	cal       *Calibration
	screen    ScreenPort
	detector  Detector
	extractor RecordExtractor
	ocr       OCREngine // pagination last-page detection
	store     NavigatorStore

	state navState
	stop  atomic.Bool
}

// NewNavigator wires the collection pipeline. Calibration has already been
// validated by LoadCalibration.
func NewNavigator(cfg Config, cal *Calibration, screen ScreenPort, detector Detector,
	extractor RecordExtractor, ocr OCREngine, store NavigatorStore) *Navigator {
	return &Navigator{
		cfg:       cfg,
		cal:       cal,
		screen:    screen,
		detector:  detector,
		extractor: extractor,
		ocr:       ocr,
		store:     store,
		state:     stateIdle,
	}
}

// Stop requests a cooperative stop. It takes effect at the next slot or
// store boundary; no mid-slot cancellation.
func (n *Navigator) Stop() {
	n.stop.Store(true)
}

func (n *Navigator) setState(s navState) {
	if enableNavigatorDebugLogs {
		log.Printf("[D] [Navigator] %s -> %s", n.state, s)
	}
	n.state = s
}

// Run executes one collection job, mutating its counters as it goes. A nil
// return means the walk completed; per-slot detection and extraction
// failures never surface here, only job-level failures do.
func (n *Navigator) Run(job *CollectionJob) error {
	interest, err := n.interestList(job.Mode)
	if err != nil {
		n.setState(stateError)
		return err
	}
	if job.Mode == ModeSelective && len(interest) == 0 {
		log.Printf("[W] [Navigator] No items of interest configured. Nothing to collect.")
		n.setState(stateCompleted)
		return nil
	}

	n.setState(stateOpeningMarket)
	log.Printf("[I] [Navigator] Job %s: opening market (%s mode).", job.ID, job.Mode)
	if err := n.screen.SendKey(n.cfg.MarketKey); err != nil {
		n.setState(stateError)
		return fmt.Errorf("failed to open market: %w", err)
	}
	time.Sleep(n.cfg.SettleDelay)

	collected := make(map[string]bool) // interest items seen, for Selective completion

	for page := 1; page <= n.cfg.MaxPages; page++ {
		log.Printf("[I] [Navigator] Scanning page %d...", page)
		job.PagesScanned++

		for storeIdx := 0; storeIdx < n.cfg.StoresPerPage; storeIdx++ {
			if n.stop.Load() {
				n.setState(stateError)
				return errStopped
			}

			storeID := (page-1)*n.cfg.StoresPerPage + storeIdx
			n.setState(stateSelectingStore)
			n.screen.Click(n.cal.ShopPoint(storeIdx))
			time.Sleep(n.cfg.SettleDelay)

			if err := n.scanStore(job, storeID, interest, collected); err != nil {
				n.setState(stateError)
				return err
			}

			n.setState(stateClosingStore)
			n.screen.Click(n.cal.Anchor("close_shop_button"))
			time.Sleep(n.cfg.ClickDelay)

			if job.Mode == ModeSelective && allCollected(interest, collected) {
				log.Printf("[I] [Navigator] Interest list exhausted after store %d.", storeID)
				n.setState(stateCompleted)
				return nil
			}
		}

		last, err := n.onLastPage()
		if err != nil {
			log.Printf("[W] [Navigator] Last-page detection failed: %v. Continuing.", err)
		}
		if last {
			log.Printf("[I] [Navigator] Reached last page (%d).", page)
			break
		}

		n.setState(stateNextPage)
		n.screen.Click(n.cal.Anchor("next_page_button"))
		time.Sleep(n.cfg.SettleDelay)
	}

	n.setState(stateCompleted)
	log.Printf("[I] [Navigator] Job %s: walk complete. %d items, %d pages, %d slots skipped.",
		job.ID, job.ItemsSaved, job.PagesScanned, job.SlotsSkipped)
	return nil
}

// scanStore hovers every slot of the open store and runs the per-slot
// capture-detect-extract-persist sequence.
func (n *Navigator) scanStore(job *CollectionJob, storeID int, interest []string, collected map[string]bool) error {
	seen := make(map[string]bool) // multi-slot items render one tooltip per occupied cell

	for slotIndex, point := range n.cal.SlotPoints() {
		if n.stop.Load() {
			return errStopped
		}

		n.setState(stateWaitingTooltip)
		n.screen.MoveMouseTo(point)
		time.Sleep(n.cfg.TooltipDelay)

		rec, ok := n.processSlot(job, storeID, slotIndex)
		if !ok {
			continue
		}

		key := fmt.Sprintf("%s_%d", rec.ItemName, rec.PriceAmount)
		if seen[key] {
			if enableNavigatorDebugLogs {
				log.Printf("[D] [Navigator] Slot %d: duplicate of multi-slot item %q.", slotIndex, rec.ItemName)
			}
			continue
		}

		if len(interest) > 0 && !matchesInterest(rec.ItemName, interest) {
			if enableNavigatorDebugLogs {
				log.Printf("[D] [Navigator] Slot %d: %q not in interest list.", slotIndex, rec.ItemName)
			}
			continue
		}

		n.setState(statePersisting)
		if n.persistRecord(job, rec) {
			seen[key] = true
			markCollected(rec.ItemName, interest, collected)
			log.Printf("[I] [Navigator] Store %d slot %d: persisted %q %d %s (conf %.2f).",
				storeID, slotIndex, rec.ItemName, rec.PriceAmount, rec.PriceCurrency, rec.OCRConfidence)
		}
	}
	return nil
}

// processSlot runs the bounded capture-detect-extract retry loop for one
// slot. Returns ok=false when the slot is empty or was skipped after retry
// exhaustion; either way the walk advances.
func (n *Navigator) processSlot(job *CollectionJob, storeID, slotIndex int) (ItemRecord, bool) {
	var lastErr error

	for attempt := 1; attempt <= n.cfg.ExtractRetries; attempt++ {
		frame, bbox, found := n.waitForTooltip()
		if !found {
			job.SlotsSkipped++
			log.Printf("[I] [Navigator] Store %d slot %d: no tooltip after %d captures. Slot skipped.",
				storeID, slotIndex, n.cfg.TooltipRetries)
			return ItemRecord{}, false
		}

		n.setState(stateCapturingTooltip)
		crop := cropImage(frame, bbox)

		n.setState(stateExtracting)
		rec, err := n.extractor.Extract(crop)
		if err == nil {
			rec.StoreID = storeID
			rec.SlotIndex = slotIndex
			return rec, true
		}

		lastErr = err
		log.Printf("[W] [Navigator] Store %d slot %d: extraction attempt %d/%d failed: %v",
			storeID, slotIndex, attempt, n.cfg.ExtractRetries, err)
		time.Sleep(n.cfg.TooltipDelay)
	}

	job.SlotsSkipped++
	log.Printf("[W] [Navigator] Store %d slot %d: skipped after %d extraction attempts (last: %v).",
		storeID, slotIndex, n.cfg.ExtractRetries, lastErr)
	return ItemRecord{}, false
}

// waitForTooltip polls capture+detect up to the configured retry budget.
func (n *Navigator) waitForTooltip() (image.Image, image.Rectangle, bool) {
	for attempt := 1; attempt <= n.cfg.TooltipRetries; attempt++ {
		frame, err := n.screen.CaptureScreen()
		if err != nil {
			log.Printf("[W] [Navigator] Screen capture failed (attempt %d/%d): %v", attempt, n.cfg.TooltipRetries, err)
		} else if bbox, ok := n.detector.Detect(frame); ok {
			return frame, bbox, true
		}
		if attempt < n.cfg.TooltipRetries {
			time.Sleep(n.cfg.TooltipDelay)
		}
	}
	return nil, image.Rectangle{}, false
}

// persistRecord saves with bounded retry and backoff. On exhaustion the
// record is dropped and logged; a long run is never stalled over one row.
func (n *Navigator) persistRecord(job *CollectionJob, rec ItemRecord) bool {
	var err error
	for attempt := 1; attempt <= n.cfg.PersistRetries; attempt++ {
		if err = n.store.SaveItemRecord(rec, job.ID); err == nil {
			job.ItemsSaved++
			return true
		}
		log.Printf("[W] [Navigator] Save attempt %d/%d for %q failed: %v", attempt, n.cfg.PersistRetries, rec.ItemName, err)
		time.Sleep(n.cfg.PersistBackoff * time.Duration(attempt))
	}
	job.ErrorsCount++
	log.Printf("[E] [Navigator] Dropping record for %q after %d save attempts: %v", rec.ItemName, n.cfg.PersistRetries, err)
	return false
}

// onLastPage OCRs the current frame and reads the "N/M" page indicator.
func (n *Navigator) onLastPage() (bool, error) {
	frame, err := n.screen.CaptureScreen()
	if err != nil {
		return false, err
	}
	result, err := n.ocr.Recognize(frame)
	if err != nil {
		return false, err
	}
	for _, line := range result.Lines {
		if m := rePagination.FindStringSubmatch(line); m != nil {
			current, _ := strconv.Atoi(m[1])
			total, _ := strconv.Atoi(m[2])
			if total > 0 {
				log.Printf("[I] [Navigator] Pagination detected: %d/%d.", current, total)
				return current >= total, nil
			}
		}
	}
	return false, nil
}

func (n *Navigator) interestList(mode CollectionMode) ([]string, error) {
	if mode != ModeSelective {
		return nil, nil
	}
	interest, err := n.store.ItemsOfInterest()
	if err != nil {
		return nil, fmt.Errorf("failed to load items of interest: %w", err)
	}
	log.Printf("[I] [Navigator] Monitoring %d items of interest.", len(interest))
	return interest, nil
}

func matchesInterest(itemName string, interest []string) bool {
	lower := strings.ToLower(itemName)
	for _, want := range interest {
		if strings.Contains(lower, strings.ToLower(want)) {
			return true
		}
	}
	return false
}

func markCollected(itemName string, interest []string, collected map[string]bool) {
	lower := strings.ToLower(itemName)
	for _, want := range interest {
		if strings.Contains(lower, strings.ToLower(want)) {
			collected[strings.ToLower(want)] = true
		}
	}
}

func allCollected(interest []string, collected map[string]bool) bool {
	for _, want := range interest {
		if !collected[strings.ToLower(want)] {
			return false
		}
	}
	return len(interest) > 0
}
