package model

import "marketplace-payments/internal/domain"

// NormalizePhone converts a Kenyan mobile number to the 12-digit
// international form the gateway requires (2547XXXXXXXX). Accepted inputs
// are the local form 07XXXXXXXX and the already-international 2547XXXXXXXX;
// anything else is rejected before a push request is ever attempted.
func NormalizePhone(phone string) (string, error) {
	if phone == "" {
		return "", domain.ErrMissingPhone
	}
	switch {
	case len(phone) == 10 && phone[0] == '0' && phone[1] == '7':
		phone = "254" + phone[1:]
	case len(phone) == 12 && phone[:4] == "2547":
		// already international
	default:
		return "", domain.ErrInvalidPhone
	}
	for _, c := range phone {
		if c < '0' || c > '9' {
			return "", domain.ErrInvalidPhone
		}
	}
	return phone, nil
}
