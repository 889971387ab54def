package model

type WindowKind string

const (
	WindowMinute WindowKind = "minute"
	WindowDay    WindowKind = "day"
	WindowMonth  WindowKind = "month"
)

// WindowKinds lists every kind in evaluation order.
var WindowKinds = []WindowKind{WindowMinute, WindowDay, WindowMonth}

func (k WindowKind) String() string { return string(k) }

func (k WindowKind) Valid() bool {
	return k == WindowMinute || k == WindowDay || k == WindowMonth
}
