package enums

// PaymentStatus records whether an order was settled by money or credit.
// AWAITING_PIX orders have a pending instant-transfer charge.
type PaymentStatus string

const (
	PaymentStatusPending     PaymentStatus = "PENDING"
	PaymentStatusAwaitingPix PaymentStatus = "AWAITING_PIX"
	PaymentStatusPaid        PaymentStatus = "PAID"
)

func (p PaymentStatus) Settled() bool {
	return p == PaymentStatusPaid
}
