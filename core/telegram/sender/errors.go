package sender

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"regexp"

	tele "gopkg.in/telebot.v4"
)

var tokenRe = regexp.MustCompile(`bot\d+:[A-Za-z0-9_-]+`)

// redact renders err with any bot token in request URLs masked.
func redact(err error) string {
	if err == nil {
		return ""
	}
	return tokenRe.ReplaceAllString(err.Error(), "bot<redacted>")
}

// classify maps a send failure to a short kind for the error_kind field.
func classify(err error) string {
	var (
		flood  tele.FloodError
		api    *tele.Error
		dns    *net.DNSError
		op     *net.OpError
		alert  tls.AlertError
		netErr net.Error
	)
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		return "timeout"
	case errors.As(err, &flood):
		return "flood"
	case errors.As(err, &api):
		if api.Code >= 500 {
			return "http_5xx"
		}
		return "http_4xx"
	case errors.As(err, &dns):
		return "dns"
	case errors.As(err, &op) && op.Op == "dial":
		return "dial"
	case errors.As(err, &alert):
		return "tls"
	}
	return "unknown"
}
