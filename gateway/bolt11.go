package gateway

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/lightningnetwork/lnd/zpay32"
)

// chainFromPaymentRequest picks the network from the human readable part.
// Longer prefixes come first, lnbcrt would otherwise match lnbc.
func chainFromPaymentRequest(paymentRequest string) (*chaincfg.Params, error) {
	pr := strings.ToLower(paymentRequest)
	switch {
	case strings.HasPrefix(pr, "lnbcrt"):
		return &chaincfg.RegressionNetParams, nil
	case strings.HasPrefix(pr, "lntbs"):
		return &chaincfg.SigNetParams, nil
	case strings.HasPrefix(pr, "lntb"):
		return &chaincfg.TestNet3Params, nil
	case strings.HasPrefix(pr, "lnsb"):
		return &chaincfg.SimNetParams, nil
	case strings.HasPrefix(pr, "lnbc"):
		return &chaincfg.MainNetParams, nil
	default:
		return nil, fmt.Errorf("unknown network for payment request")
	}
}

// DecodePaymentRequest decodes a BOLT11 invoice on whichever network it belongs to.
func DecodePaymentRequest(paymentRequest string) (*zpay32.Invoice, error) {
	params, err := chainFromPaymentRequest(paymentRequest)
	if err != nil {
		return nil, err
	}
	return zpay32.Decode(paymentRequest, params)
}

// PaymentHash returns the hex payment hash of a BOLT11 invoice.
func PaymentHash(paymentRequest string) (string, error) {
	invoice, err := DecodePaymentRequest(paymentRequest)
	if err != nil {
		return "", err
	}
	if invoice.PaymentHash == nil {
		return "", fmt.Errorf("payment request has no payment hash")
	}
	return hex.EncodeToString(invoice.PaymentHash[:]), nil
}
