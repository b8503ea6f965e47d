// Package filter evaluates a task's FilterDoc against a fetched
// Listing. Every condition present in the document must hold for the
// listing to match.
package filter

import (
	"strings"

	"github.com/vhz-mon/marketwatch/internal/model"
)

// Match reports whether listing satisfies every condition present in doc.
// An absent condition is vacuously satisfied; unknown FilterDoc keys
// never reach this function since model.FilterDoc only carries the
// recognized ones.
func Match(doc model.FilterDoc, listing model.Listing) bool {
	if doc.MaxPrice != nil && listing.PriceCents > *doc.MaxPrice {
		return false
	}
	if doc.MinPrice != nil && listing.PriceCents < *doc.MinPrice {
		return false
	}
	if doc.WearMax != nil && (listing.Wear == nil || *listing.Wear > *doc.WearMax) {
		return false
	}
	if doc.WearMin != nil && (listing.Wear == nil || *listing.Wear < *doc.WearMin) {
		return false
	}
	if doc.PatternList != nil && !matchPatternList(*doc.PatternList, listing) {
		return false
	}
	if doc.NameContains != "" && !strings.Contains(
		strings.ToLower(listing.ItemName), strings.ToLower(doc.NameContains)) {
		return false
	}
	if len(doc.StickersAll) > 0 && !hasAllStickers(doc.StickersAll, listing.Stickers) {
		return false
	}
	return true
}

// matchPatternList gates on item type first: a listing of a different
// item type never matches a pattern_list filter at all, regardless of
// its seed. The type is matched as a substring of the full market name,
// which carries wear and finish decorations around it.
func matchPatternList(pl model.PatternList, listing model.Listing) bool {
	if pl.ItemType != "" && !strings.Contains(
		strings.ToLower(listing.ItemName), strings.ToLower(pl.ItemType)) {
		return false
	}
	if len(pl.Seeds) == 0 {
		return true
	}
	if listing.PatternSeed == nil {
		return false
	}
	for _, seed := range pl.Seeds {
		if seed == *listing.PatternSeed {
			return true
		}
	}
	return false
}

func hasAllStickers(required, present []string) bool {
	have := make(map[string]struct{}, len(present))
	for _, s := range present {
		have[strings.ToLower(s)] = struct{}{}
	}
	for _, r := range required {
		if _, ok := have[strings.ToLower(r)]; !ok {
			return false
		}
	}
	return true
}
