package ap2

import (
	"time"

	"github.com/ap2-labs/ap2-reference/internal/apperr"
	"github.com/ap2-labs/ap2-reference/internal/canonical"
)

// attestationTuple is the exact field set a device attestation signs:
// {device_id, payment_mandate_id, challenge, timestamp,
// attestation_type, platform}.
type attestationTuple struct {
	DeviceID         string    `json:"device_id"`
	PaymentMandateID string    `json:"payment_mandate_id"`
	Challenge        string    `json:"challenge"`
	Timestamp        time.Time `json:"timestamp"`
	AttestationType  string    `json:"attestation_type"`
	Platform         string    `json:"platform"`
}

// AttestationBytes returns the canonical bytes a device signs (or a
// verifier re-derives) for an attestation bound to paymentMandateID.
func AttestationBytes(att DeviceAttestation, paymentMandateID string) ([]byte, error) {
	return canonical.Bytes(attestationTuple{
		DeviceID:         att.DeviceID,
		PaymentMandateID: paymentMandateID,
		Challenge:        att.Challenge,
		Timestamp:        att.Timestamp,
		AttestationType:  att.AttestationType,
		Platform:         att.Platform,
	})
}

// VerifyDeviceAttestation reconstructs the signed tuple and checks the
// signature against the device_public_key embedded in the attestation,
// plus timestamp freshness within maxAge. Device keys are
// ECDSA P-256 in this reference; the attestation carries no algorithm
// field of its own.
func VerifyDeviceAttestation(att DeviceAttestation, paymentMandateID string, maxAge time.Duration) error {
	if att.AttestationValue == "" {
		return apperr.New(apperr.MissingSignature, "device attestation has no attestation_value", nil)
	}
	if time.Since(att.Timestamp) > maxAge || att.Timestamp.After(time.Now()) {
		return apperr.New(apperr.MessageTimestampSkew, "device attestation timestamp outside freshness window", map[string]any{
			"timestamp": att.Timestamp, "max_age_s": int(maxAge.Seconds()),
		})
	}
	b, err := AttestationBytes(att, paymentMandateID)
	if err != nil {
		return apperr.New(apperr.InvalidRequest, "failed to canonicalize device attestation tuple", nil)
	}
	return VerifySignatureValue(AlgorithmECDSAP256SHA256, att.DevicePublicKey, b, att.AttestationValue)
}
