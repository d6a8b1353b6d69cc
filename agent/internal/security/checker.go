package security

import (
	"crypto/tls"
	"crypto/x509"
	"math"
	"time"
)

// Cert summarises the leaf certificate a server presented.
type Cert struct {
	Issuer   string
	NotAfter time.Time
	DaysLeft float64
	Status   string // valid | expiring | expired
}

// expiringWithin is the window in which a certificate counts as expiring.
const expiringWithin = 30 * 24 * time.Hour

// Inspect describes the leaf certificate of an established TLS connection.
// ok is false when state is nil (plain HTTP) or carries no certificates.
func Inspect(state *tls.ConnectionState, now time.Time) (Cert, bool) {
	if state == nil || len(state.PeerCertificates) == 0 {
		return Cert{}, false
	}
	return describe(state.PeerCertificates[0], now), true
}

func describe(leaf *x509.Certificate, now time.Time) Cert {
	left := leaf.NotAfter.Sub(now)
	c := Cert{
		Issuer:   leaf.Issuer.CommonName,
		NotAfter: leaf.NotAfter.UTC(),
		DaysLeft: math.Floor(left.Hours() / 24),
	}
	switch {
	case left <= 0:
		c.Status = "expired"
	case left <= expiringWithin:
		c.Status = "expiring"
	default:
		c.Status = "valid"
	}
	return c
}
