package auth

import (
	"time"

	paseto "aidanwoods.dev/go-paseto"
)

// Claims is the minimal identity envelope carried by access tokens.
type Claims struct {
	Issuer    string
	Subject   string
	ExpiresAt time.Time
	IssuedAt  time.Time
}

// TokenManager issues and verifies PASETO v4.public access tokens.
// The Subject claim is the caller identity recorded as the challenge issuer.
type TokenManager struct {
	issuer    string
	ttl       time.Duration
	clockSkew time.Duration

	secret paseto.V4AsymmetricSecretKey
	public paseto.V4AsymmetricPublicKey
}

// NewTokenManager builds a TokenManager from a hex-encoded Ed25519 secret key.
//
// Clock skew is applied during verification via ValidAt to tolerate minor
// clock differences between token issuer and this service.
func NewTokenManager(secretKeyHex, issuer string, ttl, clockSkew time.Duration) (*TokenManager, error) {
	secret, err := paseto.NewV4AsymmetricSecretKeyFromHex(secretKeyHex)
	if err != nil {
		return nil, ErrConfig
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}

	return &TokenManager{
		issuer:    issuer,
		ttl:       ttl,
		clockSkew: clockSkew,
		secret:    secret,
		public:    secret.Public(),
	}, nil
}

// PublicKeyHex exports the verification key.
func (m *TokenManager) PublicKeyHex() string {
	return m.public.ExportHex()
}

// Issue signs a token for subject.
func (m *TokenManager) Issue(subject string, now time.Time) (string, time.Time, error) {
	exp := now.Add(m.ttl)

	tok := paseto.NewToken()
	tok.SetIssuer(m.issuer)
	tok.SetIssuedAt(now)
	tok.SetNotBefore(now)
	tok.SetExpiration(exp)
	tok.SetSubject(subject)

	return tok.V4Sign(m.secret, nil), exp, nil
}

// Verify validates token and returns its claims.
func (m *TokenManager) Verify(token string, now time.Time) (Claims, error) {
	// Validate slightly in the future to avoid failing "nbf" when clocks
	// differ; this also makes expiration checks slightly stricter.
	validNow := now.Add(m.clockSkew)

	// Build a fresh parser per call to avoid accumulating rules across verifies.
	p := paseto.NewParser()
	p.AddRule(paseto.IssuedBy(m.issuer))
	p.AddRule(paseto.NotExpired())
	p.AddRule(paseto.ValidAt(validNow))

	parsed, err := p.ParseV4Public(m.public, token, nil)
	if err != nil {
		return Claims{}, ErrInvalidToken
	}

	sub, err := parsed.GetSubject()
	if err != nil || sub == "" {
		return Claims{}, ErrInvalidToken
	}

	iss, _ := parsed.GetIssuer()
	exp, _ := parsed.GetExpiration()
	iat, _ := parsed.GetIssuedAt()

	return Claims{
		Issuer:    iss,
		Subject:   sub,
		ExpiresAt: exp,
		IssuedAt:  iat,
	}, nil
}
