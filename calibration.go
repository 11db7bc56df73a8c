package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
)

// Anchor names the calibration tool must provide. A job cannot start with
// any of them missing.
var requiredAnchors = []string{
	"next_page_button",
	"prev_page_button",
	"close_shop_button",
	"first_shop",
	"first_item_slot",
}

// Point is a calibrated screen coordinate.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// GridGeometry describes the store item grid relative to the first slot.
type GridGeometry struct {
	Rows     int `json:"rows"`
	Cols     int `json:"cols"`
	SlotSize int `json:"slot_size"` // pixel pitch between slot centers
	ShopRowH int `json:"shop_row_height"`
}

// Calibration maps named UI anchors to screen coordinates. It is produced
// by the external calibration tool, read at job start and immutable during
// a run.
type Calibration struct {
	Anchors     map[string]Point `json:"coordinates"`
	RetinaScale int              `json:"retina_scale"`
	Grid        GridGeometry     `json:"grid"`
}

// LoadCalibration reads and validates the calibration file. A missing file
// or a missing required anchor is a fatal configuration error for the job.
func LoadCalibration(path string) (*Calibration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read calibration file: %w", err)
	}

	var cal Calibration
	if err := json.Unmarshal(data, &cal); err != nil {
		return nil, fmt.Errorf("failed to parse calibration file: %w", err)
	}

	if cal.RetinaScale == 0 {
		cal.RetinaScale = 1
	}
	if cal.Grid.Rows == 0 || cal.Grid.Cols == 0 {
		// 8x4 grid of touching slots; Retina coordinates are pre-scaled,
		// so the pitch shrinks with the display scale.
		cal.Grid.Rows = 4
		cal.Grid.Cols = 8
		if cal.RetinaScale == 2 {
			cal.Grid.SlotSize = 32
		} else {
			cal.Grid.SlotSize = 40
		}
	}
	if cal.Grid.ShopRowH == 0 {
		cal.Grid.ShopRowH = 40
	}

	for _, name := range requiredAnchors {
		if _, ok := cal.Anchors[name]; !ok {
			return nil, fmt.Errorf("calibration anchor %q missing from %s", name, path)
		}
	}

	log.Printf("[I] [Calibration] Loaded %d anchors from %s (grid %dx%d, slot %dpx, scale %d).",
		len(cal.Anchors), path, cal.Grid.Cols, cal.Grid.Rows, cal.Grid.SlotSize, cal.RetinaScale)
	return &cal, nil
}

// Anchor returns a required anchor. Callers only ask for names in
// requiredAnchors, which LoadCalibration has already validated.
func (c *Calibration) Anchor(name string) Point {
	return c.Anchors[name]
}

// ShopPoint returns the click point for the nth visible store row.
func (c *Calibration) ShopPoint(index int) Point {
	first := c.Anchor("first_shop")
	return Point{X: first.X, Y: first.Y + index*c.Grid.ShopRowH}
}

// SlotPoints returns hover points for every slot of the store grid, in
// row-major order.
func (c *Calibration) SlotPoints() []Point {
	first := c.Anchor("first_item_slot")
	points := make([]Point, 0, c.Grid.Rows*c.Grid.Cols)
	for row := 0; row < c.Grid.Rows; row++ {
		for col := 0; col < c.Grid.Cols; col++ {
			points = append(points, Point{
				X: first.X + col*c.Grid.SlotSize,
				Y: first.Y + row*c.Grid.SlotSize,
			})
		}
	}
	return points
}
