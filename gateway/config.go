package gateway

import (
	"github.com/kelseyhightower/envconfig"
)

const (
	BTCPAY_CLIENT_TYPE = "btcpay"
	STRIKE_CLIENT_TYPE = "strike"
	MOCK_CLIENT_TYPE   = "mock"
)

type Config struct {
	GatewayClientType string `envconfig:"GATEWAY_TYPE" default:"btcpay"` //btcpay, strike, mock
	BTCPayURL         string `envconfig:"BTCPAY_URL"`
	BTCPayAPIKey      string `envconfig:"BTCPAY_API_KEY"`
	BTCPayStoreID     string `envconfig:"BTCPAY_STORE_ID"`
	StrikeURL         string `envconfig:"STRIKE_API_URL" default:"https://api.strike.me"`
	StrikeAPIKey      string `envconfig:"STRIKE_API_KEY"`
	StrikeCheckoutURL string `envconfig:"STRIKE_CHECKOUT_URL" default:"https://strike.me/pay"`
	RedirectURL       string `envconfig:"CHECKOUT_REDIRECT_URL"`
	Timeout           int    `envconfig:"GATEWAY_TIMEOUT" default:"3"` // in seconds, per attempt
	MaxRetries        int    `envconfig:"GATEWAY_MAX_RETRIES" default:"2"`
	MockCheckoutURL   string `envconfig:"MOCK_CHECKOUT_URL" default:"http://localhost:3000/mock-checkout"`
	MockInvoiceExpiry int    `envconfig:"MOCK_INVOICE_EXPIRY" default:"900"` // in seconds
}

func LoadConfig() (c *Config, err error) {
	c = &Config{}
	err = envconfig.Process("", c)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// BTCPayConfigured reports whether every setting the BTCPay client needs is present.
func (c *Config) BTCPayConfigured() bool {
	return c.BTCPayURL != "" && c.BTCPayAPIKey != "" && c.BTCPayStoreID != ""
}

func (c *Config) StrikeConfigured() bool {
	return c.StrikeURL != "" && c.StrikeAPIKey != ""
}
