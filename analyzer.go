package main

import (
	"fmt"
	"log"
	"time"
)

// SellerPrice is one seller's asking price for an item.
type SellerPrice struct {
	Seller string
	Price  int64
}

// AnalyzerStore is the slice of the persistence port the analyzer needs.
type AnalyzerStore interface {
	LatestPricesByItem(window time.Duration) (map[string][]SellerPrice, error)
	InsertArbitrageOpportunity(op ArbitrageOpportunity) error
	DeactivateOldOpportunities(olderThan time.Duration) error
}

// Analyzer scans recent price history for spreads between sellers worth
// flipping: same item, different sellers, margin above the floor.
type Analyzer struct {
	store         AnalyzerStore
	window        time.Duration
	minMargin     float64 // percent
	minDifference int64
	staleWindow   time.Duration
}

// NewAnalyzer returns an analyzer with the tuned floors: at least a 10%
// margin and a 100-unit absolute spread over the last 24 hours.
func NewAnalyzer(store AnalyzerStore) *Analyzer {
	return &Analyzer{
		store:         store,
		window:        24 * time.Hour,
		minMargin:     10,
		minDifference: 100,
		staleWindow:   24 * time.Hour,
	}
}

// Run performs one analysis pass and returns the newly detected
// opportunities.
func (a *Analyzer) Run() ([]ArbitrageOpportunity, error) {
	log.Printf("[I] [Analyzer] Starting arbitrage analysis...")

	prices, err := a.store.LatestPricesByItem(a.window)
	if err != nil {
		return nil, fmt.Errorf("failed to load price history: %w", err)
	}

	var found []ArbitrageOpportunity
	for itemName, listings := range prices {
		op, ok := a.analyzeItem(itemName, listings)
		if !ok {
			continue
		}
		if err := a.store.InsertArbitrageOpportunity(op); err != nil {
			log.Printf("[E] [Analyzer] Failed to record opportunity for %q: %v", itemName, err)
			continue
		}
		log.Printf("[I] [Analyzer] Opportunity: %s, %d vs %d (%.0f%% margin).",
			itemName, op.LowestPrice, op.HighestPrice, op.ProfitMargin)
		found = append(found, op)
	}

	if err := a.store.DeactivateOldOpportunities(a.staleWindow); err != nil {
		log.Printf("[E] [Analyzer] Failed to deactivate stale opportunities: %v", err)
	}

	log.Printf("[I] [Analyzer] Analysis complete. Found %d new opportunities.", len(found))
	return found, nil
}

// analyzeItem keeps each seller's newest price (listings arrive newest
// first) and checks the min/max spread against the floors.
func (a *Analyzer) analyzeItem(itemName string, listings []SellerPrice) (ArbitrageOpportunity, bool) {
	sellerPrices := make(map[string]int64)
	for _, l := range listings {
		if _, ok := sellerPrices[l.Seller]; !ok {
			sellerPrices[l.Seller] = l.Price
		}
	}
	if len(sellerPrices) < 2 {
		return ArbitrageOpportunity{}, false
	}

	var (
		minSeller, maxSeller string
		minPrice, maxPrice   int64
		first                = true
	)
	for seller, price := range sellerPrices {
		if first {
			minSeller, maxSeller = seller, seller
			minPrice, maxPrice = price, price
			first = false
			continue
		}
		if price < minPrice {
			minSeller, minPrice = seller, price
		}
		if price > maxPrice {
			maxSeller, maxPrice = seller, price
		}
	}

	diff := maxPrice - minPrice
	if diff < a.minDifference || minPrice <= 0 {
		return ArbitrageOpportunity{}, false
	}
	margin := float64(diff) / float64(minPrice) * 100
	if margin < a.minMargin {
		return ArbitrageOpportunity{}, false
	}

	return ArbitrageOpportunity{
		ItemName:        itemName,
		LowestPrice:     minPrice,
		HighestPrice:    maxPrice,
		LowestSeller:    minSeller,
		HighestSeller:   maxSeller,
		PriceDifference: diff,
		ProfitMargin:    margin,
	}, true
}
