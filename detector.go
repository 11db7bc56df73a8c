package main

import (
	"image"
	"log"

	"gocv.io/x/gocv"
)

const enableDetectorDebugLogs = false

// Tooltip panels stay within these bounds at every supported resolution;
// anything outside is a mis-detected UI element or mask noise.
const (
	minTooltipWidth  = 100
	minTooltipHeight = 100
	maxTooltipWidth  = 800
	maxTooltipHeight = 600
)

// TooltipDetector decides whether a captured frame contains the item
// tooltip and where. Detection is a pure function over the frame: absence
// of a tooltip is a normal outcome, not an error.
type TooltipDetector struct {
	lower   gocv.Scalar
	upper   gocv.Scalar
	minArea float64
}

// NewTooltipDetector builds a detector for the tooltip's dark-blue hue
// band, configured through the engine Config.
func NewTooltipDetector(cfg Config) *TooltipDetector {
	return &TooltipDetector{
		lower:   gocv.NewScalar(cfg.HueLow, cfg.SatLow, cfg.ValLow, 0),
		upper:   gocv.NewScalar(cfg.HueHigh, cfg.SatHigh, cfg.ValHigh, 0),
		minArea: cfg.MinTooltipArea,
	}
}

// Detect returns the bounding box of the tooltip in the frame, or false
// when no contour in the hue band clears the area floor and size bounds.
//
// Pipeline: RGB -> HSV, two-sided threshold mask on the tooltip hue band,
// external contours, largest contour by area.
func (d *TooltipDetector) Detect(frame image.Image) (image.Rectangle, bool) {
	mat, err := gocv.ImageToMatRGB(frame)
	if err != nil {
		log.Printf("[E] [Detector] Failed to convert frame to Mat: %v", err)
		return image.Rectangle{}, false
	}
	defer mat.Close()

	hsv := gocv.NewMat()
	defer hsv.Close()
	gocv.CvtColor(mat, &hsv, gocv.ColorRGBToHSV)

	mask := gocv.NewMat()
	defer mask.Close()
	gocv.InRangeWithScalar(hsv, d.lower, d.upper, &mask)

	contours := gocv.FindContours(mask, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	best := image.Rectangle{}
	bestArea := 0.0
	for i := 0; i < contours.Size(); i++ {
		contour := contours.At(i)
		area := gocv.ContourArea(contour)
		if area < d.minArea || area <= bestArea {
			continue
		}
		bestArea = area
		best = gocv.BoundingRect(contour)
	}

	if bestArea == 0 {
		return image.Rectangle{}, false
	}

	w, h := best.Dx(), best.Dy()
	if w < minTooltipWidth || h < minTooltipHeight || w > maxTooltipWidth || h > maxTooltipHeight {
		if enableDetectorDebugLogs {
			log.Printf("[D] [Detector] Rejected candidate %dx%d outside tooltip size bounds.", w, h)
		}
		return image.Rectangle{}, false
	}

	if enableDetectorDebugLogs {
		log.Printf("[D] [Detector] Tooltip at %v (area %.0f).", best, bestArea)
	}
	return best, true
}
