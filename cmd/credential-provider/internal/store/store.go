// Package store holds the Credential Provider's payment-method and
// token bookkeeping in mutex-guarded in-memory maps.
package store

import (
	"sync"
	"time"
)

// Method is the stable payment-method record the Credential Provider
// exposes.
type Method struct {
	MethodID    string
	UserID      string
	Type        string
	Brand       string
	Last4       string
	ExpiryMonth int
	ExpiryYear  int
	IsDefault   bool
}

type tokenEntry struct {
	methodID  string
	userID    string
	expiresAt time.Time
}

// Store holds payment methods per user and outstanding tokenization
// tokens. A method_id may have multiple simultaneous live tokens.
type Store struct {
	mu      sync.RWMutex
	methods map[string][]Method     // userID -> methods
	tokens  map[string]*tokenEntry  // token -> entry
	otp     map[string]string       // payment_mandate_id -> expected OTP
}

func New() *Store {
	return &Store{
		methods: make(map[string][]Method),
		tokens:  make(map[string]*tokenEntry),
		otp:     make(map[string]string),
	}
}

func (s *Store) ListMethods(userID string) []Method {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Method(nil), s.methods[userID]...)
}

func (s *Store) GetMethod(userID, methodID string) (Method, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.methods[userID] {
		if m.MethodID == methodID {
			return m, true
		}
	}
	return Method{}, false
}

func (s *Store) AddMethod(m Method) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.methods[m.UserID] = append(s.methods[m.UserID], m)
}

// SeedDemoData populates a fixed demo user with a handful of cards,
// including one whose last4 triggers deterministic decline injection.
func (s *Store) SeedDemoData(userID string) {
	s.AddMethod(Method{MethodID: "pm_demo_visa_4242", UserID: userID, Type: "CARD", Brand: "Visa", Last4: "4242", ExpiryMonth: 12, ExpiryYear: 2027, IsDefault: true})
	s.AddMethod(Method{MethodID: "pm_demo_mc_5555", UserID: userID, Type: "CARD", Brand: "Mastercard", Last4: "5555", ExpiryMonth: 6, ExpiryYear: 2026})
	s.AddMethod(Method{MethodID: "pm_demo_fail_0001", UserID: userID, Type: "CARD", Brand: "Visa", Last4: "0001", ExpiryMonth: 1, ExpiryYear: 2027})
}

// IssueToken stores a fresh token -> method binding.
func (s *Store) IssueToken(token, userID, methodID string, ttl time.Duration) time.Time {
	expiresAt := time.Now().Add(ttl)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[token] = &tokenEntry{methodID: methodID, userID: userID, expiresAt: expiresAt}
	return expiresAt
}

// ResolveToken returns the bound method_id if the token exists and has
// not expired. It does not consume the token: a method may carry
// multiple simultaneous live tokens, and single-use enforcement, where
// desired, is the issuing layer's concern.
func (s *Store) ResolveToken(token string) (userID, methodID string, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, exists := s.tokens[token]
	if !exists || time.Now().After(entry.expiresAt) {
		return "", "", false
	}
	return entry.userID, entry.methodID, true
}

// SetPendingOTP records the OTP a PaymentMandate must present to clear
// the high-risk challenge.
func (s *Store) SetPendingOTP(paymentMandateID, otp string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.otp[paymentMandateID] = otp
}

// CheckOTP reports whether otp matches the pending challenge for
// paymentMandateID. A correct OTP is consumed (single-use); a wrong
// attempt leaves the challenge in place so the caller can retry with
// the right password.
func (s *Store) CheckOTP(paymentMandateID, otp string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	expected, ok := s.otp[paymentMandateID]
	if !ok || expected != otp {
		return false
	}
	delete(s.otp, paymentMandateID)
	return true
}
