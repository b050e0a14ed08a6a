package model

// Msec and Pct are the unit multipliers used throughout the original
// parameter defaults (e.g. "100.0 * Msec" reads as "100 milliseconds"
// when the surrounding field is denominated in seconds).
const (
	Msec = 0.001
	Pct  = 0.01
)
