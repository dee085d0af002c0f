package ticket

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// HTTPNamespace and EmailNamespace root the deterministic identity
// derivation for each ingestion channel. Distinct namespaces keep an
// HTTP-derived id from ever colliding with an email-derived one even
// if the hashed material happened to match.
var (
	HTTPNamespace  = uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")
	EmailNamespace = uuid.MustParse("7ba8c920-0ead-22e2-91c5-10d05fe541d9")
)

// DeriveHTTPIdentity computes the stable ticket id for a ticket created
// through the JSON API: uuid5(HTTPNamespace, sha256(customer_id:subject:body)).
func DeriveHTTPIdentity(customerID, subject, body string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%s:%s", customerID, subject, body)))
	return uuid.NewSHA1(HTTPNamespace, []byte(hex.EncodeToString(sum[:]))).String()
}

// DeriveEmailIdentity computes the stable ticket id for a ticket created
// from an inbound email: uuid5(EmailNamespace, sha256(message_id:from_email:subject)).
func DeriveEmailIdentity(messageID, fromEmail, subject string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%s:%s", messageID, fromEmail, subject)))
	return uuid.NewSHA1(EmailNamespace, []byte(hex.EncodeToString(sum[:]))).String()
}
