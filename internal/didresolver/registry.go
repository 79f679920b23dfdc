package didresolver

import (
	"sync"
	"time"
)

// MerchantRecord is one row of the merchant DID registry: the DID, its
// service endpoint, signing key, operational status, and the trust
// score surfaced read-only in the merchant's agent card.
type MerchantRecord struct {
	DID                  string    `json:"did" bson:"_id"`
	Name                 string    `json:"name" bson:"name"`
	Endpoint             string    `json:"endpoint" bson:"endpoint"`
	PublicKeyPEM         string    `json:"public_key_pem" bson:"public_key_pem"`
	VerificationMethodID string    `json:"verification_method_id" bson:"verification_method_id"`
	Status               string    `json:"status" bson:"status"`
	TrustScore           float64   `json:"trust_score" bson:"trust_score"`
	CreatedAt            time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt            time.Time `json:"updated_at" bson:"updated_at"`
}

// Document renders the row as a DID Document so it can seed a
// Resolver's in-process registry.
func (rec MerchantRecord) Document() *Document {
	return &Document{
		ID: rec.DID,
		VerificationMethod: []VerificationMethod{{
			ID:           rec.VerificationMethodID,
			Type:         "EcdsaSecp256r1VerificationKey2019",
			Controller:   rec.DID,
			PublicKeyPEM: rec.PublicKeyPEM,
		}},
	}
}

// MerchantRegistry holds merchant rows, writer-lock serialized the same
// way the Resolver's cache is.
type MerchantRegistry struct {
	mu   sync.RWMutex
	rows map[string]*MerchantRecord
}

func NewMerchantRegistry() *MerchantRegistry {
	return &MerchantRegistry{rows: make(map[string]*MerchantRecord)}
}

// Upsert inserts or replaces the row for rec.DID, stamping timestamps.
func (r *MerchantRegistry) Upsert(rec MerchantRecord) {
	now := time.Now().UTC()
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.rows[rec.DID]; ok {
		rec.CreatedAt = existing.CreatedAt
	} else {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	r.rows[rec.DID] = &rec
}

func (r *MerchantRegistry) Get(did string) (MerchantRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.rows[did]
	if !ok {
		return MerchantRecord{}, false
	}
	return *rec, true
}

// List returns a snapshot of every registered merchant.
func (r *MerchantRegistry) List() []MerchantRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]MerchantRecord, 0, len(r.rows))
	for _, rec := range r.rows {
		out = append(out, *rec)
	}
	return out
}
