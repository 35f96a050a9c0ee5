package publisher

import (
	"github.com/twmb/franz-go/pkg/sasl"
	"github.com/twmb/franz-go/pkg/sasl/plain"
)

// plainAuth builds a SASL/PLAIN mechanism for the target broker, the same
// library SPEC_FULL.md selects for the audit-side consumer (C4).
func plainAuth(key, secret string) sasl.Mechanism {
	return plain.Auth{User: key, Pass: secret}.AsMechanism()
}
