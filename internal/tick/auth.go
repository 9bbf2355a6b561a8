package tick

// Authenticator signs and verifies ticks with a shared secret.
// Components hold an Authenticator rather than a raw secret; a nil
// Authenticator means unauthenticated mode.
type Authenticator interface {
	// Secret returns the key used for minting. Callers must not modify it.
	Secret() []byte

	// Verify reports whether rec carries a valid MAC.
	Verify(rec Record) bool
}

// HMACAuthenticator implements Authenticator with HMAC-SHA256.
type HMACAuthenticator struct {
	secret []byte
}

// NewAuthenticator returns an HMAC authenticator for secret, or nil when the
// secret is empty. The nil result is a plain nil interface so callers can
// test for unauthenticated mode with auth == nil.
func NewAuthenticator(secret []byte) Authenticator {
	if len(secret) == 0 {
		return nil
	}
	s := make([]byte, len(secret))
	copy(s, secret)
	return &HMACAuthenticator{secret: s}
}

// Secret implements Authenticator.
func (a *HMACAuthenticator) Secret() []byte {
	return a.secret
}

// Verify implements Authenticator.
func (a *HMACAuthenticator) Verify(rec Record) bool {
	return Verify(rec, a.secret)
}
