// Package security inspects the TLS certificates presented by monitored
// endpoints. The http probe reports the leaf certificate's remaining days as
// the cert_days_left field, so certificate expiry can be alerted on like any
// other metric (a decreasing value with thresholds configured low).
package security
