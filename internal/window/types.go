package window

import "fmt"

// WindowID is a platform-neutral window identifier.
type WindowID uint32

// Rect describes a rectangular region in screen coordinates.
type Rect struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Hash folds the rectangle into a single comparable value, used to detect
// moves/resizes between captures without storing the full geometry.
func (r Rect) Hash() uint64 {
	h := uint64(14695981039346656037)
	for _, v := range []int{r.X, r.Y, r.Width, r.Height} {
		h ^= uint64(uint32(v))
		h *= 1099511628211
	}
	return h
}

// Empty reports whether the rectangle has no area.
func (r Rect) Empty() bool {
	return r.Width <= 0 || r.Height <= 0
}

// Intersects reports whether two rectangles overlap.
func (r Rect) Intersects(o Rect) bool {
	return r.X < o.X+o.Width && o.X < r.X+r.Width &&
		r.Y < o.Y+o.Height && o.Y < r.Y+r.Height
}

func (r Rect) String() string {
	return fmt.Sprintf("%dx%d+%d+%d", r.Width, r.Height, r.X, r.Y)
}

// TrackedWindow is an immutable snapshot of one on-screen window, taken once
// per scheduler tick. The core never mutates it.
type TrackedWindow struct {
	ID        WindowID `json:"id"`
	PID       int      `json:"pid"`
	Bounds    Rect     `json:"bounds"`
	Frontmost bool     `json:"frontmost"`
	Title     string   `json:"title"`
	AppID     string   `json:"app_id,omitempty"`
}
