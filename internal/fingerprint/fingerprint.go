// Package fingerprint computes the stable per-task listing identity hash
// used to de-duplicate notifications.
package fingerprint

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/vhz-mon/marketwatch/internal/model"
)

// bucketFloat renders f to its four-decimal representation, so two
// observations of the same listing that differ only in float noise past
// the fourth decimal hash identically.
func bucketFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', 4, 64)
}

// identity builds the deterministic composite string fingerprinted below.
// When the listing carries an externally stable id, that id alone is the
// identity; otherwise the composite of its observable attributes stands
// in for it.
func identity(l model.Listing) string {
	if l.ListingID != "" {
		return l.ListingID
	}

	var b strings.Builder
	b.WriteString(l.ItemName)
	b.WriteByte('|')
	b.WriteString(strconv.FormatInt(l.PriceCents, 10))
	b.WriteByte('|')
	if l.Wear != nil {
		b.WriteString(bucketFloat(*l.Wear))
	}
	b.WriteByte('|')
	if l.PatternSeed != nil {
		b.WriteString(strconv.Itoa(*l.PatternSeed))
	}
	b.WriteByte('|')
	b.WriteString(l.SellerOpaqueID)
	return b.String()
}

// Compute returns the stable fingerprint for (taskID, listing). The same
// listing observed twice for the same task always yields the same value.
func Compute(taskID int64, l model.Listing) string {
	key := fmt.Sprintf("%d:%s", taskID, identity(l))
	sum := xxhash.Sum64String(key)
	return strconv.FormatUint(sum, 16)
}
