package catalog

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Kind classifies a remote content item.
type Kind string

const (
	KindVideo Kind = "video"
	KindImage Kind = "image"
	KindFile  Kind = "file"
)

// Periods accepted by the listing endpoints.
const (
	Period24h = "24h"
	Period7d  = "7d"
	Period30d = "30d"
	PeriodAll = "all"
)

var periods = map[string]struct{}{
	Period24h: {}, Period7d: {}, Period30d: {}, PeriodAll: {},
}

// ContentItem is one remotely discovered item. Instances are immutable;
// downstream components only read them.
type ContentItem struct {
	URL        string    `json:"url"`
	Name       string    `json:"name"`
	Kind       Kind      `json:"kind"`
	SizeBytes  int64     `json:"size_bytes"`
	ObservedAt time.Time `json:"observed_at"`
}

// Filter selects which discovered items are of interest.
type Filter struct {
	Kinds        []Kind
	Period       string
	MinSizeBytes int64
	MaxSizeBytes int64 // 0 means no upper bound
}

var (
	ErrBadPeriod = errors.New("unknown time period")
	ErrBadKind   = errors.New("unknown content kind")
)

// Validate normalizes the filter and rejects unknown kinds/periods and an
// inverted size range.
func (f *Filter) Validate() error {
	if f.Period == "" {
		f.Period = Period24h
	}
	if _, ok := periods[f.Period]; !ok {
		return fmt.Errorf("%w: %q", ErrBadPeriod, f.Period)
	}
	if len(f.Kinds) == 0 {
		f.Kinds = []Kind{KindVideo, KindImage, KindFile}
	}
	for _, k := range f.Kinds {
		switch k {
		case KindVideo, KindImage, KindFile:
		default:
			return fmt.Errorf("%w: %q", ErrBadKind, k)
		}
	}
	if f.MinSizeBytes < 0 || f.MaxSizeBytes < 0 {
		return errors.New("negative size bound")
	}
	if f.MaxSizeBytes > 0 && f.MinSizeBytes > f.MaxSizeBytes {
		return errors.New("min size exceeds max size")
	}
	return nil
}

// Allows reports whether an item of the given kind and size passes the filter.
func (f *Filter) Allows(kind Kind, sizeBytes int64) bool {
	if sizeBytes < f.MinSizeBytes {
		return false
	}
	if f.MaxSizeBytes > 0 && sizeBytes > f.MaxSizeBytes {
		return false
	}
	for _, k := range f.Kinds {
		if k == kind {
			return true
		}
	}
	return false
}

var sizeRe = regexp.MustCompile(`([\d.]+)\s*([KMGT]?B)`)

// ParseSize converts a human readable size label such as "24.9 MB" into
// bytes. Unrecognized labels parse as 0.
func ParseSize(label string) int64 {
	m := sizeRe.FindStringSubmatch(strings.ToUpper(label))
	if m == nil {
		return 0
	}
	value, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0
	}
	switch m[2] {
	case "KB":
		value *= 1 << 10
	case "MB":
		value *= 1 << 20
	case "GB":
		value *= 1 << 30
	case "TB":
		value *= 1 << 40
	}
	return int64(value)
}
