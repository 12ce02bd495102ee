package vnpay

import "time"

// Config carries the merchant credentials and URL settings of one VNPay terminal.
type Config struct {
	TmnCode    string
	SecretKey  string
	PaymentURL string
	ReturnURL  string
	Version    string
	Command    string
	OrderType  string
	Locale     string
	// ExpireAfter is advisory to the gateway; IPNs arriving later are still honored.
	ExpireAfter time.Duration
}

func (c Config) withDefaults() Config {
	if c.Version == "" {
		c.Version = "2.1.0"
	}
	if c.Command == "" {
		c.Command = "pay"
	}
	if c.OrderType == "" {
		c.OrderType = "other"
	}
	if c.Locale == "" {
		c.Locale = "vn"
	}
	if c.ExpireAfter <= 0 {
		c.ExpireAfter = 15 * time.Minute
	}
	return c
}
