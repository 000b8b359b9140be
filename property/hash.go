package property

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// SentinelCoordinatesHash marks a listing without coordinates. It is exempt
// from the uniqueness constraint, so any number of such listings may coexist.
const SentinelCoordinatesHash = "0000000000000000000000000000000000000000000000000000000000000000"

// ContentHash fingerprints the listing content for duplicate detection.
// Textual fields are lowercased and trimmed so cosmetic differences do not
// defeat the dedup.
func ContentHash(p Property) string {
	fields := []string{
		norm(p.Address),
		norm(p.City),
		norm(p.State),
		norm(p.LGA),
		norm(p.Country),
		norm(p.PropertyType),
		norm(p.ListingType),
		fmt.Sprintf("%d", p.Bedrooms),
		fmt.Sprintf("%.2f", p.SizeSqm),
	}
	sum := sha256.Sum256([]byte(strings.Join(fields, "|")))
	return hex.EncodeToString(sum[:])
}

// CoordinatesHash fingerprints the location rounded to three decimal places,
// roughly a 100m grid cell. Missing coordinates map to the sentinel.
func CoordinatesHash(lat, lng *float64) string {
	if lat == nil || lng == nil {
		return SentinelCoordinatesHash
	}
	key := fmt.Sprintf("%.3f:%.3f", *lat, *lng)
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

func norm(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
