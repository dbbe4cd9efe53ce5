package enums

import "fmt"

// DisputeResolution is the admin decision that settles escrow.
type DisputeResolution string

const (
	DisputeResolutionBuyerWins  DisputeResolution = "BUYER_WINS"
	DisputeResolutionSellerWins DisputeResolution = "SELLER_WINS"
	DisputeResolutionPartial    DisputeResolution = "PARTIAL"
)

var validDisputeResolutions = []DisputeResolution{
	DisputeResolutionBuyerWins,
	DisputeResolutionSellerWins,
	DisputeResolutionPartial,
}

// String implements fmt.Stringer.
func (d DisputeResolution) String() string {
	return string(d)
}

// IsValid reports whether the value is a known DisputeResolution.
func (d DisputeResolution) IsValid() bool {
	for _, candidate := range validDisputeResolutions {
		if candidate == d {
			return true
		}
	}
	return false
}

// ParseDisputeResolution converts raw input into a DisputeResolution.
func ParseDisputeResolution(value string) (DisputeResolution, error) {
	for _, candidate := range validDisputeResolutions {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid dispute resolution %q", value)
}
