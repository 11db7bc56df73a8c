package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeCalibrationFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "calibration.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

const fullCalibrationJSON = `{
	"coordinates": {
		"next_page_button": {"x": 435, "y": 810},
		"prev_page_button": {"x": 365, "y": 810},
		"close_shop_button": {"x": 455, "y": 472},
		"first_shop": {"x": 300, "y": 400},
		"first_item_slot": {"x": 200, "y": 600}
	},
	"retina_scale": 2
}`

func TestLoadCalibrationAppliesGridDefaults(t *testing.T) {
	path := writeCalibrationFile(t, fullCalibrationJSON)

	cal, err := LoadCalibration(path)
	if err != nil {
		t.Fatalf("LoadCalibration: %v", err)
	}
	if cal.Grid.Rows != 4 || cal.Grid.Cols != 8 {
		t.Errorf("grid = %dx%d, want 8x4", cal.Grid.Cols, cal.Grid.Rows)
	}
	if cal.Grid.SlotSize != 32 {
		t.Errorf("slot size = %d, want 32 at retina scale 2", cal.Grid.SlotSize)
	}
	if got := cal.Anchor("next_page_button"); got.X != 435 || got.Y != 810 {
		t.Errorf("next_page_button = %+v", got)
	}
}

func TestLoadCalibrationDefaultsScaleOne(t *testing.T) {
	body := strings.Replace(fullCalibrationJSON, `"retina_scale": 2`, `"retina_scale": 0`, 1)
	cal, err := LoadCalibration(writeCalibrationFile(t, body))
	if err != nil {
		t.Fatalf("LoadCalibration: %v", err)
	}
	if cal.RetinaScale != 1 {
		t.Errorf("retina scale = %d, want 1", cal.RetinaScale)
	}
	if cal.Grid.SlotSize != 40 {
		t.Errorf("slot size = %d, want 40 at scale 1", cal.Grid.SlotSize)
	}
}

func TestLoadCalibrationFailsOnMissingAnchor(t *testing.T) {
	body := strings.Replace(fullCalibrationJSON, `"close_shop_button": {"x": 455, "y": 472},`, "", 1)
	_, err := LoadCalibration(writeCalibrationFile(t, body))
	if err == nil {
		t.Fatal("expected error for missing anchor")
	}
	if !strings.Contains(err.Error(), "close_shop_button") {
		t.Errorf("error %q does not name the missing anchor", err)
	}
}

func TestLoadCalibrationFailsOnMissingFile(t *testing.T) {
	if _, err := LoadCalibration(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestSlotPointsRowMajorPitch(t *testing.T) {
	cal := testCalibration()
	cal.Grid = GridGeometry{Rows: 2, Cols: 3, SlotSize: 40, ShopRowH: 40}

	points := cal.SlotPoints()
	if len(points) != 6 {
		t.Fatalf("got %d points, want 6", len(points))
	}

	first := cal.Anchor("first_item_slot")
	if points[0] != first {
		t.Errorf("points[0] = %+v, want first_item_slot %+v", points[0], first)
	}
	if points[1] != (Point{X: first.X + 40, Y: first.Y}) {
		t.Errorf("points[1] = %+v, want one slot right", points[1])
	}
	if points[3] != (Point{X: first.X, Y: first.Y + 40}) {
		t.Errorf("points[3] = %+v, want start of second row", points[3])
	}
}

func TestShopPointStepsByRowHeight(t *testing.T) {
	cal := testCalibration()
	first := cal.Anchor("first_shop")

	if got := cal.ShopPoint(0); got != first {
		t.Errorf("ShopPoint(0) = %+v, want %+v", got, first)
	}
	if got := cal.ShopPoint(2); got != (Point{X: first.X, Y: first.Y + 2*cal.Grid.ShopRowH}) {
		t.Errorf("ShopPoint(2) = %+v", got)
	}
}
