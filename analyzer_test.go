package main

import (
	"testing"
	"time"
)

type fakeAnalyzerStore struct {
	prices   map[string][]SellerPrice
	inserted []ArbitrageOpportunity
}

func (f *fakeAnalyzerStore) LatestPricesByItem(window time.Duration) (map[string][]SellerPrice, error) {
	return f.prices, nil
}

func (f *fakeAnalyzerStore) InsertArbitrageOpportunity(op ArbitrageOpportunity) error {
	f.inserted = append(f.inserted, op)
	return nil
}

func (f *fakeAnalyzerStore) DeactivateOldOpportunities(olderThan time.Duration) error {
	return nil
}

func TestAnalyzerDetectsSpreadAboveFloors(t *testing.T) {
	store := &fakeAnalyzerStore{prices: map[string][]SellerPrice{
		"Jewel of Bless": {
			{Seller: "Shop_0", Price: 90000},
			{Seller: "Shop_4", Price: 120000},
			{Seller: "Shop_7", Price: 100000},
		},
	}}

	found, err := NewAnalyzer(store).Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(found) != 1 {
		t.Fatalf("found %d opportunities, want 1", len(found))
	}

	op := found[0]
	if op.LowestPrice != 90000 || op.HighestPrice != 120000 {
		t.Errorf("spread = %d..%d, want 90000..120000", op.LowestPrice, op.HighestPrice)
	}
	if op.LowestSeller != "Shop_0" || op.HighestSeller != "Shop_4" {
		t.Errorf("sellers = %s/%s", op.LowestSeller, op.HighestSeller)
	}
	if op.PriceDifference != 30000 {
		t.Errorf("difference = %d, want 30000", op.PriceDifference)
	}
	if op.ProfitMargin < 33 || op.ProfitMargin > 34 {
		t.Errorf("margin = %.2f, want ~33.3", op.ProfitMargin)
	}
	if len(store.inserted) != 1 {
		t.Errorf("inserted %d rows, want 1", len(store.inserted))
	}
}

func TestAnalyzerIgnoresThinMargins(t *testing.T) {
	store := &fakeAnalyzerStore{prices: map[string][]SellerPrice{
		// 5% margin, below the 10% floor.
		"Short Sword": {
			{Seller: "Shop_0", Price: 10000},
			{Seller: "Shop_1", Price: 10500},
		},
		// Wide margin but only a 50-unit absolute spread.
		"Apple": {
			{Seller: "Shop_2", Price: 10},
			{Seller: "Shop_3", Price: 60},
		},
	}}

	found, err := NewAnalyzer(store).Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(found) != 0 {
		t.Errorf("found %d opportunities, want 0: %+v", len(found), found)
	}
}

func TestAnalyzerRequiresTwoSellers(t *testing.T) {
	store := &fakeAnalyzerStore{prices: map[string][]SellerPrice{
		"Jewel of Soul": {
			{Seller: "Shop_0", Price: 90000},
			{Seller: "Shop_0", Price: 200000},
		},
	}}

	found, err := NewAnalyzer(store).Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(found) != 0 {
		t.Errorf("found %d opportunities from a single seller, want 0", len(found))
	}
}

// Listings arrive newest first; an older, cheaper listing from the same
// seller must not resurrect a stale spread.
func TestAnalyzerUsesNewestPricePerSeller(t *testing.T) {
	store := &fakeAnalyzerStore{prices: map[string][]SellerPrice{
		"Jewel of Life": {
			{Seller: "Shop_0", Price: 100000}, // newest
			{Seller: "Shop_0", Price: 50000},  // stale
			{Seller: "Shop_1", Price: 105000},
		},
	}}

	found, err := NewAnalyzer(store).Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(found) != 0 {
		t.Errorf("stale price produced an opportunity: %+v", found)
	}
}
