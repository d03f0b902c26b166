package model

// Tier is a purchasable listing level. Regular listings appear in the
// county directory; VIP/VVIP get priority placement; Spa is a business
// listing. Trial is never sold, it is granted on first use.
type Tier string

const (
	TierRegular Tier = "Regular"
	TierVIP     Tier = "VIP"
	TierVVIP    Tier = "VVIP"
	TierSpa     Tier = "Spa"
	TierTrial   Tier = "Trial"
)

// TrialDays is the duration of the one-time first-use trial grant.
const TrialDays = 7

// Valid reports whether t is a tier a user may pay for.
func (t Tier) Valid() bool {
	switch t {
	case TierRegular, TierVIP, TierVVIP, TierSpa:
		return true
	}
	return false
}
