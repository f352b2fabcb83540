package ledger

import "spacehire/internal/models"

var paymentTransitions = map[models.PaymentStatus][]models.PaymentStatus{
	models.PaymentPending:   {models.PaymentSucceeded, models.PaymentFailed, models.PaymentCancelled},
	models.PaymentSucceeded: {models.PaymentRefunded, models.PaymentCancelled},
}

var payoutTransitions = map[models.PayoutStatus][]models.PayoutStatus{
	models.PayoutPending:    {models.PayoutProcessing},
	models.PayoutProcessing: {models.PayoutCompleted, models.PayoutFailed},
	models.PayoutFailed:     {models.PayoutPending},
}

// CanTransitionPayment checks the payment lifecycle.
func CanTransitionPayment(from, to models.PaymentStatus) bool {
	for _, s := range paymentTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// CanTransitionPayout checks the payout lifecycle.
func CanTransitionPayout(from, to models.PayoutStatus) bool {
	for _, s := range payoutTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
