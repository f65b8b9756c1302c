package fiomark

import (
	"fmt"
	"math"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// NotAvailable is shown in place of a missing measurement.
const NotAvailable = "N/A"

// Formatter renders metric values for tables and tooltips in one locale.
type Formatter struct {
	Tag     language.Tag
	printer *message.Printer
}

// NewFormatter binds a formatter to a BCP 47 locale. An empty or
// unparseable locale falls back to English.
func NewFormatter(locale string) *Formatter {
	tag, err := language.Parse(locale)
	if err != nil || locale == "" {
		tag = language.English
	}
	return &Formatter{Tag: tag, printer: message.NewPrinter(tag)}
}

func usable(v *float64) bool {
	return v != nil && isFinite(*v)
}

// FormatIOPS prints whole operations with locale grouping, e.g. "12,345".
func (f *Formatter) FormatIOPS(v *float64) string {
	if !usable(v) {
		return NotAvailable
	}
	return f.printer.Sprintf("%d", int64(math.Round(*v)))
}

// FormatLatency prints milliseconds, switching to microseconds below 1 ms.
func (f *Formatter) FormatLatency(v *float64) string {
	if !usable(v) {
		return NotAvailable
	}
	if *v > 0 && *v < 1 {
		return f.printer.Sprintf("%d µs", int64(math.Round(*v*1000)))
	}
	return f.printer.Sprintf("%.2f ms", *v)
}

// FormatBandwidth takes MB/s and switches to GB/s from 1024 MB/s.
func (f *Formatter) FormatBandwidth(v *float64) string {
	if !usable(v) {
		return NotAvailable
	}
	if math.Abs(*v) >= 1024 {
		return f.printer.Sprintf("%.2f GB/s", *v/1024)
	}
	return f.printer.Sprintf("%.2f MB/s", *v)
}

// FormatPercentage prints a value that is already in percent.
func (f *Formatter) FormatPercentage(v *float64) string {
	if !usable(v) {
		return NotAvailable
	}
	return f.printer.Sprintf("%.1f%%", *v)
}

// FormatFileSize prints a byte count with binary units.
func (f *Formatter) FormatFileSize(bytes *float64) string {
	if !usable(bytes) || *bytes < 0 {
		return NotAvailable
	}
	value, unit := scaleBytes(*bytes)
	if unit == "B" {
		return f.printer.Sprintf("%d B", int64(value))
	}
	return f.printer.Sprintf("%.1f %s", value, unit)
}

// Format dispatches on the metric, for generic table columns.
func (f *Formatter) Format(m Metric, v *float64) string {
	switch m {
	case MetricIOPS:
		return f.FormatIOPS(v)
	case MetricBandwidth:
		return f.FormatBandwidth(v)
	case MetricResponsiveness:
		if !usable(v) {
			return NotAvailable
		}
		return f.printer.Sprintf("%.2f ops/s", *v)
	}
	return f.FormatLatency(v)
}

var byteUnits = []string{"B", "KB", "MB", "GB", "TB"}

func scaleBytes(bytes float64) (float64, string) {
	i := 0
	for bytes >= 1024 && i < len(byteUnits)-1 {
		bytes /= 1024
		i++
	}
	return bytes, byteUnits[i]
}

// formats bytes to B, KB, MB, GB or TB
func ByteFormat(bytes float64) string {
	value, unit := scaleBytes(bytes)
	return fmt.Sprintf("%.f %s", value, unit)
}
