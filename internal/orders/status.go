package orders

type Status string

const (
	StatusPending            Status = "PENDING"
	StatusWaitingForDelivery Status = "WAITING_FOR_DELIVERY"
	StatusDelivered          Status = "DELIVERED"
	StatusCancelled          Status = "CANCELLED"
)

// Nothing ever moves back to PENDING.
var validNext = map[Status]map[Status]bool{
	StatusPending:            {StatusWaitingForDelivery: true, StatusCancelled: true},
	StatusWaitingForDelivery: {StatusDelivered: true},
	StatusDelivered:          {},
	StatusCancelled:          {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

func (s Status) Terminal() bool {
	next, ok := validNext[s]
	return ok && len(next) == 0
}

type PaymentStatus string

const (
	PaymentUnpaid   PaymentStatus = "UNPAID"
	PaymentPaid     PaymentStatus = "PAID"
	PaymentFailed   PaymentStatus = "FAILED"
	PaymentRefunded PaymentStatus = "REFUNDED"
)

type PaymentMethod string

const PaymentMethodEWallet PaymentMethod = "E_WALLET"

type PaymentProvider string

const ProviderVNPay PaymentProvider = "VNPAY"
