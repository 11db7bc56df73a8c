package main

import (
	"fmt"
	"image"
	"log"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/otiai10/gosseract/v2"
	"gocv.io/x/gocv"
)

var (
	// Price line: a number next to a currency token, in either order.
	// Tooltip prices use dot/comma thousand separators ("1.500.000 Zen").
	rePriceAfter  = regexp.MustCompile(`(?i)([\d][\d.,]*)\s*(zen|mc|mp)\b`)
	rePriceBefore = regexp.MustCompile(`(?i)\b(zen|mc|mp)\s*:?\s*([\d][\d.,]*)`)
	// Quantity line: explicit multiplier token or a labeled count.
	reQuantityX     = regexp.MustCompile(`(?i)\bx\s*(\d+)\b`)
	reQuantityLabel = regexp.MustCompile(`(?i)\b(?:quantity|quantidade)\s*:?\s*(\d+)`)
)

// OCRResult is the raw output of one OCR pass over a tooltip crop.
type OCRResult struct {
	Lines          []string
	MeanConfidence float64 // 0..1 across recognized words
}

// OCREngine runs character recognition on a preprocessed tooltip image.
type OCREngine interface {
	Recognize(img image.Image) (OCRResult, error)
}

// tesseractEngine is the production OCR engine.
type tesseractEngine struct {
	language string
}

// NewTesseractEngine returns the gosseract-backed OCR engine.
func NewTesseractEngine(language string) OCREngine {
	return &tesseractEngine{language: language}
}

// Recognize runs Tesseract in single-block mode and reassembles its word
// boxes into lines, averaging word confidences.
func (t *tesseractEngine) Recognize(img image.Image) (OCRResult, error) {
	buf, err := encodePNG(img)
	if err != nil {
		return OCRResult{}, err
	}

	client := gosseract.NewClient()
	defer client.Close()
	if err := client.SetLanguage(strings.Split(t.language, "+")...); err != nil {
		return OCRResult{}, fmt.Errorf("failed to set OCR language: %w", err)
	}
	client.SetPageSegMode(gosseract.PSM_SINGLE_BLOCK)
	if err := client.SetImageFromBytes(buf); err != nil {
		return OCRResult{}, fmt.Errorf("failed to load image into OCR: %w", err)
	}

	boxes, err := client.GetBoundingBoxesVerbose()
	if err != nil {
		return OCRResult{}, fmt.Errorf("ocr failed: %w", err)
	}

	var (
		lines    []string
		current  []string
		lastLine = -1
		confSum  float64
		words    int
	)
	for _, box := range boxes {
		word := strings.TrimSpace(box.Word)
		if word == "" {
			continue
		}
		lineKey := box.BlockNum*10000 + box.ParNum*100 + box.LineNum
		if lineKey != lastLine && len(current) > 0 {
			lines = append(lines, strings.Join(current, " "))
			current = current[:0]
		}
		lastLine = lineKey
		current = append(current, word)
		confSum += box.Confidence
		words++
	}
	if len(current) > 0 {
		lines = append(lines, strings.Join(current, " "))
	}

	result := OCRResult{Lines: lines}
	if words > 0 {
		result.MeanConfidence = confSum / float64(words) / 100.0
	}
	return result, nil
}

// encodePNG renders an image to PNG bytes via gocv.
func encodePNG(img image.Image) ([]byte, error) {
	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, fmt.Errorf("failed to convert image: %w", err)
	}
	defer mat.Close()

	buf, err := gocv.IMEncode(gocv.PNGFileExt, mat)
	if err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	defer buf.Close()
	out := make([]byte, len(buf.GetBytes()))
	copy(out, buf.GetBytes())
	return out, nil
}

// preprocessTooltip normalizes a tooltip crop for the small bitmap font:
// grayscale then Otsu binarization.
func preprocessTooltip(crop image.Image) (image.Image, error) {
	mat, err := gocv.ImageToMatRGB(crop)
	if err != nil {
		return nil, fmt.Errorf("failed to convert crop: %w", err)
	}
	defer mat.Close()

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(mat, &gray, gocv.ColorRGBToGray)

	binary := gocv.NewMat()
	defer binary.Close()
	gocv.Threshold(gray, &binary, 0, 255, gocv.ThresholdBinary+gocv.ThresholdOtsu)

	out, err := binary.ToImage()
	if err != nil {
		return nil, fmt.Errorf("failed to convert binary mat: %w", err)
	}
	return out, nil
}

// Extractor turns a cropped tooltip image into a typed ItemRecord.
type Extractor struct {
	ocr      OCREngine
	floor    float64
	fallback *GeminiParser // nil when no API key is configured
}

// NewExtractor builds the extraction pipeline. fallback may be nil.
func NewExtractor(ocr OCREngine, cfg Config, fallback *GeminiParser) *Extractor {
	return &Extractor{ocr: ocr, floor: cfg.ConfidenceFloor, fallback: fallback}
}

// Extract runs preprocess -> OCR -> confidence gate -> structured parse.
// A record below the confidence floor is an error for the caller to retry,
// never a silently persisted low-confidence row.
func (e *Extractor) Extract(crop image.Image) (ItemRecord, error) {
	prepared, err := preprocessTooltip(crop)
	if err != nil {
		return ItemRecord{}, err
	}

	result, err := e.ocr.Recognize(prepared)
	if err != nil {
		return ItemRecord{}, err
	}
	if len(result.Lines) == 0 {
		return ItemRecord{}, ErrNoTextDetected
	}
	if result.MeanConfidence < e.floor {
		return ItemRecord{}, fmt.Errorf("%w: %.2f < %.2f", ErrBelowConfidenceFloor, result.MeanConfidence, e.floor)
	}

	rec, err := parseTooltipLines(result.Lines)
	if err != nil {
		if e.fallback != nil {
			raw := strings.Join(result.Lines, "\n")
			fbRec, fbErr := e.fallback.ParseTooltip(raw)
			if fbErr == nil {
				fbRec.OCRConfidence = result.MeanConfidence
				fbRec.CapturedAt = time.Now()
				return fbRec, nil
			}
			log.Printf("[W] [Extractor] Gemini fallback also failed: %v", fbErr)
		}
		return ItemRecord{}, err
	}

	rec.OCRConfidence = result.MeanConfidence
	rec.CapturedAt = time.Now()
	return rec, nil
}

// parseTooltipLines applies the ordered pattern rules to OCR lines:
// first line is the item name; a currency token adjacent to a number is the
// price; an explicit multiplier token is the quantity; every remaining line
// folds into the attributes map keyed by its leading label.
func parseTooltipLines(lines []string) (ItemRecord, error) {
	cleaned := make([]string, 0, len(lines))
	for _, line := range lines {
		if l := strings.TrimSpace(line); l != "" {
			cleaned = append(cleaned, l)
		}
	}
	if len(cleaned) == 0 {
		return ItemRecord{}, ErrNoTextDetected
	}

	rec := ItemRecord{
		ItemName:   cleaned[0],
		Quantity:   1,
		Attributes: make(map[string]string),
	}

	priceFound := false
	for _, line := range cleaned[1:] {
		if !priceFound {
			if amount, currency, ok := parsePriceLine(line); ok {
				rec.PriceAmount = amount
				rec.PriceCurrency = currency
				priceFound = true
				continue
			}
		}
		if m := reQuantityLabel.FindStringSubmatch(line); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil {
				rec.Quantity = n
				continue
			}
		}
		if m := reQuantityX.FindStringSubmatch(line); m != nil && strings.HasPrefix(strings.ToLower(strings.TrimSpace(line)), "x") {
			if n, err := strconv.Atoi(m[1]); err == nil {
				rec.Quantity = n
				continue
			}
		}
		label, value := splitAttribute(line)
		rec.Attributes[label] = value
	}

	if !priceFound {
		return ItemRecord{}, ErrUnparsablePriceLine
	}
	return rec, nil
}

// parsePriceLine recognizes "1.500.000 Zen", "Zen: 1500000" and friends.
func parsePriceLine(line string) (int64, Currency, bool) {
	var numStr, curStr string
	if m := rePriceAfter.FindStringSubmatch(line); m != nil {
		numStr, curStr = m[1], m[2]
	} else if m := rePriceBefore.FindStringSubmatch(line); m != nil {
		curStr, numStr = m[1], m[2]
	} else {
		return 0, "", false
	}

	numStr = strings.NewReplacer(".", "", ",", "").Replace(numStr)
	amount, err := strconv.ParseInt(numStr, 10, 64)
	if err != nil || amount < 0 {
		return 0, "", false
	}
	return amount, normalizeCurrency(curStr), true
}

func normalizeCurrency(token string) Currency {
	switch strings.ToUpper(token) {
	case "MC":
		return CurrencyMC
	case "MP":
		return CurrencyMP
	default:
		return CurrencyZen
	}
}

// splitAttribute keys an attribute line by its leading label. Lines without
// a colon fall back to first-word labeling.
func splitAttribute(line string) (string, string) {
	if idx := strings.Index(line, ":"); idx > 0 {
		return strings.TrimSpace(line[:idx]), strings.TrimSpace(line[idx+1:])
	}
	fields := strings.Fields(line)
	if len(fields) > 1 {
		return fields[0], strings.Join(fields[1:], " ")
	}
	return line, ""
}
