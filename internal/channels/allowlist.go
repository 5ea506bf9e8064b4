package channels

import (
	"context"
	"log/slog"
	"strings"
)

// Wildcard in an allow list admits any sender.
const Wildcard = "*"

// AllowList is an ordered, deduplicated set of trimmed, non-empty identifiers.
type AllowList []string

// NormalizeAllowList trims entries and drops empties. Order and duplicates are kept.
func NormalizeAllowList(entries []string) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if e = strings.TrimSpace(e); e != "" {
			out = append(out, e)
		}
	}
	return out
}

// MergeAllowLists concatenates, normalizes and deduplicates the given lists,
// keeping the first occurrence. Merging a list with itself is idempotent.
func MergeAllowLists(lists ...[]string) AllowList {
	seen := make(map[string]struct{})
	out := AllowList{}
	for _, l := range lists {
		for _, e := range NormalizeAllowList(l) {
			if _, ok := seen[e]; ok {
				continue
			}
			seen[e] = struct{}{}
			out = append(out, e)
		}
	}
	return out
}

// HasWildcard reports whether the list admits everyone.
func (l AllowList) HasWildcard() bool {
	for _, e := range l {
		if e == Wildcard {
			return true
		}
	}
	return false
}

// Contains reports an exact entry match.
func (l AllowList) Contains(id string) bool {
	for _, e := range l {
		if e == id {
			return true
		}
	}
	return false
}

// AllowFromSource yields identifiers approved at runtime (pairing approvals).
type AllowFromSource interface {
	AllowFrom(ctx context.Context, provider string) ([]string, error)
}

// LoadDynamicAllowFrom fetches the approved list; a failure is logged and treated as empty.
func LoadDynamicAllowFrom(ctx context.Context, src AllowFromSource, provider string, logger *slog.Logger) []string {
	if src == nil {
		return nil
	}
	ids, err := src.AllowFrom(ctx, provider)
	if err != nil {
		if logger == nil {
			logger = slog.Default()
		}
		logger.Warn("pairing allow-from read failed, continuing with static list", "provider", provider, "error", err)
		return nil
	}
	return ids
}
