package common

import "fmt"

// InvoiceStatus is the closed set of states an invoice can be in.
type InvoiceStatus string

const (
	InvoiceStatusPending    InvoiceStatus = "pending"
	InvoiceStatusProcessing InvoiceStatus = "processing"
	InvoiceStatusPaid       InvoiceStatus = "paid"
	InvoiceStatusExpired    InvoiceStatus = "expired"
	InvoiceStatusFailed     InvoiceStatus = "failed"
	InvoiceStatusCancelled  InvoiceStatus = "cancelled"
)

var AllInvoiceStatuses = []InvoiceStatus{
	InvoiceStatusPending,
	InvoiceStatusProcessing,
	InvoiceStatusPaid,
	InvoiceStatusExpired,
	InvoiceStatusFailed,
	InvoiceStatusCancelled,
}

// transitions lists every legal move. Terminal states have no entry.
var transitions = map[InvoiceStatus]map[InvoiceStatus]bool{
	InvoiceStatusPending: {
		InvoiceStatusProcessing: true,
		InvoiceStatusPaid:       true,
		InvoiceStatusExpired:    true,
		InvoiceStatusFailed:     true,
		InvoiceStatusCancelled:  true,
	},
	InvoiceStatusProcessing: {
		InvoiceStatusPaid:      true,
		InvoiceStatusExpired:   true,
		InvoiceStatusFailed:    true,
		InvoiceStatusCancelled: true,
	},
}

func (s InvoiceStatus) Valid() bool {
	switch s {
	case InvoiceStatusPending, InvoiceStatusProcessing, InvoiceStatusPaid,
		InvoiceStatusExpired, InvoiceStatusFailed, InvoiceStatusCancelled:
		return true
	}
	return false
}

func (s InvoiceStatus) IsTerminal() bool {
	return s.Valid() && len(transitions[s]) == 0
}

func (s InvoiceStatus) String() string {
	return string(s)
}

// CanTransition is the only place that decides whether a status change is allowed.
func CanTransition(from, to InvoiceStatus) bool {
	return transitions[from][to]
}

func ParseInvoiceStatus(s string) (InvoiceStatus, error) {
	status := InvoiceStatus(s)
	if !status.Valid() {
		return "", fmt.Errorf("unknown invoice status %q", s)
	}
	return status, nil
}
