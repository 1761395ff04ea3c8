package gateway

import (
	"testing"

	"github.com/getAlby/lncheckout/common"
	"github.com/stretchr/testify/assert"
)

func TestMapInvoiceStatus(t *testing.T) {
	cases := map[string]common.InvoiceStatus{
		"New":        common.InvoiceStatusPending,
		"Processing": common.InvoiceStatusProcessing,
		"Settled":    common.InvoiceStatusPaid,
		"Invalid":    common.InvoiceStatusFailed,
		"Expired":    common.InvoiceStatusExpired,
		"UNPAID":     common.InvoiceStatusPending,
		"PENDING":    common.InvoiceStatusProcessing,
		"PAID":       common.InvoiceStatusPaid,
		"CANCELLED":  common.InvoiceStatusExpired,
	}
	for in, expected := range cases {
		mapped, ok := MapInvoiceStatus(in)
		assert.True(t, ok, in)
		assert.Equal(t, expected, mapped, in)
	}
	_, ok := MapInvoiceStatus("Complete")
	assert.False(t, ok)
	_, ok = MapInvoiceStatus("settled")
	assert.False(t, ok)
}

func TestMapEventType(t *testing.T) {
	mapped, ok := MapEventType(common.EventPaymentSettled)
	assert.True(t, ok)
	assert.Equal(t, common.InvoiceStatusPaid, mapped)

	mapped, ok = MapEventType(common.EventInvoiceReceivedPayment)
	assert.True(t, ok)
	assert.Equal(t, common.InvoiceStatusProcessing, mapped)

	mapped, ok = MapEventType(common.EventInvoiceExpired)
	assert.True(t, ok)
	assert.Equal(t, common.InvoiceStatusExpired, mapped)

	mapped, ok = MapEventType(common.EventInvoiceInvalid)
	assert.True(t, ok)
	assert.Equal(t, common.InvoiceStatusFailed, mapped)

	_, ok = MapEventType("InvoiceCreated")
	assert.False(t, ok)
}
