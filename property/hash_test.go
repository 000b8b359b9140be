package property

import "testing"

func TestContentHashNormalization(t *testing.T) {
	a := Property{
		Address:      "12 Marina Road",
		City:         "Lagos",
		State:        "Lagos",
		LGA:          "Eti-Osa",
		Country:      "Nigeria",
		PropertyType: "apartment",
		ListingType:  "rent",
		Bedrooms:     3,
		SizeSqm:      120,
	}
	b := a
	b.Address = "  12 MARINA ROAD "
	b.City = "lagos"

	if ContentHash(a) != ContentHash(b) {
		t.Fatal("expected cosmetic differences to hash identically")
	}

	c := a
	c.Bedrooms = 4
	if ContentHash(a) == ContentHash(c) {
		t.Fatal("expected differing content to hash differently")
	}
}

func TestCoordinatesHash(t *testing.T) {
	if got := CoordinatesHash(nil, nil); got != SentinelCoordinatesHash {
		t.Fatalf("missing coordinates: got %q, want sentinel", got)
	}

	lat, lng := 6.5244, 3.3792
	first := CoordinatesHash(&lat, &lng)
	if first == SentinelCoordinatesHash {
		t.Fatal("real coordinates must not produce the sentinel")
	}

	// Within the same ~100m grid cell.
	nearLat, nearLng := 6.52441, 3.37921
	if CoordinatesHash(&nearLat, &nearLng) != first {
		t.Fatal("expected coordinates in the same cell to collide")
	}

	farLat, farLng := 6.60, 3.40
	if CoordinatesHash(&farLat, &farLng) == first {
		t.Fatal("expected distant coordinates to differ")
	}
}
