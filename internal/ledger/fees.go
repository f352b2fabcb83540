package ledger

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"spacehire/internal/models"
)

// FeeSchedule holds the platform and tax rates in basis points.
type FeeSchedule struct {
	PlatformBps       int64
	DefaultTaxBps     int64
	TaxByJurisdiction map[string]int64
}

// applyBps rounds half up; amounts are never negative.
func applyBps(amount, bps int64) int64 {
	return (amount*bps + 5000) / 10000
}

// TaxBps returns the tax rate of a jurisdiction, falling back to the default.
func (f FeeSchedule) TaxBps(jurisdiction string) int64 {
	if bps, ok := f.TaxByJurisdiction[strings.ToLower(jurisdiction)]; ok {
		return bps
	}
	return f.DefaultTaxBps
}

// Compute derives all fees of a gross amount. The processor fee comes from
// the processor itself.
func (f FeeSchedule) Compute(gross, stripeFee int64, jurisdiction string) models.Fees {
	return models.Fees{
		StripeFee:   stripeFee,
		PlatformFee: applyBps(gross, f.PlatformBps),
		TaxFee:      applyBps(gross, f.TaxBps(jurisdiction)),
	}
}

// Total is what the client is charged.
func Total(gross int64, fees models.Fees) int64 {
	return gross + fees.Sum()
}

// Net is what the host earns.
func Net(gross int64, fees models.Fees) int64 {
	return gross - fees.Sum()
}

var keyNamespace = uuid.MustParse("8f0b8a52-5a1e-4c55-9d4f-3f8f3f2a7c11")

// Key derives a stable idempotency key for one processor call, e.g.
// Key("booking", 42, "refund", 3). Retrying the same transition reuses it.
func Key(kind string, id int64, transition string, attempt int64) string {
	return uuid.NewSHA1(keyNamespace, []byte(fmt.Sprintf("%s:%d:%s:%d", kind, id, transition, attempt))).String()
}

// BookingKey is Key for booking-scoped calls.
func BookingKey(bookingID int64, transition string, attempt int64) string {
	return Key("booking", bookingID, transition, attempt)
}
