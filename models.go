package main

import (
	"errors"
	"time"
)

// CollectionMode selects how much of the market a run covers.
type CollectionMode string

const (
	// ModeSelective restricts collection to the configured items of interest.
	ModeSelective CollectionMode = "selective"
	// ModeComplete walks every store, page and slot.
	ModeComplete CollectionMode = "complete"
)

// TriggerSource identifies what started a collection job.
type TriggerSource string

const (
	TriggerFixed  TriggerSource = "fixed"
	TriggerManual TriggerSource = "manual"
	TriggerCustom TriggerSource = "custom"
)

// JobStatus tracks a collection job through its lifecycle.
// A job is terminal once its status leaves StatusRunning.
type JobStatus string

const (
	StatusPending   JobStatus = "pending"
	StatusRunning   JobStatus = "running"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
	StatusSkipped   JobStatus = "skipped"
)

// CollectionJob is one collection run, from trigger to terminal status.
type CollectionJob struct {
	ID           string
	Mode         CollectionMode
	Trigger      TriggerSource
	Status       JobStatus
	ScheduleID   int64 // 0 unless Trigger == TriggerCustom
	StartedAt    time.Time
	FinishedAt   time.Time
	ItemsSaved   int
	PagesScanned int
	SlotsSkipped int
	ErrorsCount  int
	ErrorMessage string
}

// Currency is the price currency shown on a tooltip.
type Currency string

const (
	CurrencyZen Currency = "Zen"
	CurrencyMC  Currency = "MC"
	CurrencyMP  Currency = "MP"
)

// ItemRecord is one fully extracted market listing. Ownership transfers to
// the store once saved; the engine keeps no copy.
type ItemRecord struct {
	StoreID       int
	SlotIndex     int
	ItemName      string
	PriceAmount   int64
	PriceCurrency Currency
	Quantity      int
	Attributes    map[string]string
	OCRConfidence float64 // 0..1
	CapturedAt    time.Time
}

// ScheduleEntry mirrors a row of the externally owned scheduled_collections
// table. The engine only reads due pending entries and writes back status.
type ScheduleEntry struct {
	ID           int64
	ScheduledFor time.Time
	Mode         CollectionMode
	Status       JobStatus
}

// ArbitrageOpportunity is a price spread for one item across sellers,
// produced by the analyzer from recent price history.
type ArbitrageOpportunity struct {
	ItemName        string
	LowestPrice     int64
	HighestPrice    int64
	LowestSeller    string
	HighestSeller   string
	PriceDifference int64
	ProfitMargin    float64
}

// Extraction and coordination errors. The navigator retries the whole
// capture-detect-extract sequence on the extraction errors and skips the
// slot after exhaustion; ErrCollectionRunning surfaces to manual callers.
var (
	ErrNoTextDetected       = errors.New("no text detected in tooltip")
	ErrUnparsablePriceLine  = errors.New("unparsable price line")
	ErrBelowConfidenceFloor = errors.New("ocr confidence below floor")
	ErrCollectionRunning    = errors.New("collection already running")
)
