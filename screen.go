package main

import (
	"fmt"
	"image"
	"time"

	"github.com/go-vgo/robotgo"
)

// ScreenPort abstracts the OS automation primitives: one cursor, one
// keyboard, one screen. The game client owns all three, which is why the
// scheduler never lets two navigators run at once.
type ScreenPort interface {
	MoveMouseTo(p Point)
	Click(p Point)
	SendKey(key string) error
	CaptureScreen() (image.Image, error)
	CaptureRegion(rect image.Rectangle) (image.Image, error)
}

// robotScreen drives the real desktop via robotgo.
type robotScreen struct {
	moveDuration time.Duration
}

// NewScreenPort returns the robotgo-backed screen port.
func NewScreenPort() ScreenPort {
	return &robotScreen{moveDuration: 150 * time.Millisecond}
}

func (r *robotScreen) MoveMouseTo(p Point) {
	robotgo.MoveSmooth(p.X, p.Y, 1.0, float64(r.moveDuration.Milliseconds())/1000.0)
}

func (r *robotScreen) Click(p Point) {
	robotgo.Move(p.X, p.Y)
	robotgo.Click("left")
}

func (r *robotScreen) SendKey(key string) error {
	return robotgo.KeyTap(key)
}

func (r *robotScreen) CaptureScreen() (image.Image, error) {
	img := robotgo.CaptureImg()
	if img == nil {
		return nil, fmt.Errorf("screen capture returned no image")
	}
	return img, nil
}

func (r *robotScreen) CaptureRegion(rect image.Rectangle) (image.Image, error) {
	img := robotgo.CaptureImg(rect.Min.X, rect.Min.Y, rect.Dx(), rect.Dy())
	if img == nil {
		return nil, fmt.Errorf("region capture returned no image")
	}
	return img, nil
}
