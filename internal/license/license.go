// Package license issues and verifies ES256 license tokens.
package license

import (
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/rsjsoftware/rsjbuild/internal/config"
	ferrors "github.com/rsjsoftware/rsjbuild/internal/foundation/errors"
)

// ConfigSecret names the secret that may hold the key configuration instead of a file.
const ConfigSecret = "KEYTOOL_CONFIG"

// DefaultLicensee is used when no licensee is given.
const DefaultLicensee = "RSJ Software GmbH"

// KeyConfig holds the token signing parameters.
type KeyConfig struct {
	Issuer   string `json:"iss"`
	Audience string `json:"aud"`
	// PrivateKey and PublicKey are PEM encoded P-256 keys.
	PrivateKey string `json:"key"`
	PublicKey  string `json:"public"`
	// Source records where the configuration was read from.
	Source string `json:"-"`
}

// LoadKeyConfig reads the key configuration from the KEYTOOL_CONFIG secret when set,
// otherwise from path. Both hold {"keytool": {...}}.
func LoadKeyConfig(secrets config.Secrets, path string) (*KeyConfig, error) {
	raw, ok := secrets.Lookup(ConfigSecret)
	source := ConfigSecret
	if !ok || raw == "" {
		// #nosec G304 -- key configuration path is user supplied
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, ferrors.WrapError(err, ferrors.CategoryConfig, "read key configuration").
				WithContext("path", path).Build()
		}
		raw, source = string(data), path
	}
	var doc struct {
		Keytool KeyConfig `json:"keytool"`
	}
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, ferrors.ConfigError("invalid key configuration").WithCause(err).
			WithContext("source", source).Build()
	}
	kc := doc.Keytool
	kc.Source = source
	if kc.Issuer == "" || kc.Audience == "" || kc.PrivateKey == "" {
		return nil, ferrors.ConfigError("key configuration needs iss, aud and key").
			WithContext("source", source).Build()
	}
	return &kc, nil
}

func (k *KeyConfig) signingKey() (*ecdsa.PrivateKey, error) {
	key, err := jwt.ParseECPrivateKeyFromPEM([]byte(k.PrivateKey))
	if err != nil {
		return nil, ferrors.SigningError("invalid signing key").WithCause(err).Build()
	}
	return key, nil
}

func (k *KeyConfig) verifyKey() (*ecdsa.PublicKey, error) {
	if k.PublicKey == "" {
		key, err := k.signingKey()
		if err != nil {
			return nil, err
		}
		return &key.PublicKey, nil
	}
	key, err := jwt.ParseECPublicKeyFromPEM([]byte(k.PublicKey))
	if err != nil {
		return nil, ferrors.SigningError("invalid public key").WithCause(err).Build()
	}
	return key, nil
}

// Sign encodes claims as an ES256 token.
func Sign(k *KeyConfig, claims jwt.MapClaims) (string, error) {
	key, err := k.signingKey()
	if err != nil {
		return "", err
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodES256, claims).SignedString(key)
	if err != nil {
		return "", ferrors.SigningError("sign token").WithCause(err).Build()
	}
	return token, nil
}

// Request describes one license.
type Request struct {
	Licensee   string
	Email      string
	MinVersion string
	MaxVersion string
	// Licensed is false for demo keys.
	Licensed bool
	// Expiration is the validity period; zero means the token never expires.
	Expiration time.Duration
	// Template claims are merged last and override computed claims.
	Template map[string]any
}

// Issuer creates license tokens.
type Issuer struct {
	Keys *KeyConfig
	// Version is the tool version recorded in the subject.
	Version string
	Now     func() time.Time
}

func (i Issuer) now() time.Time {
	if i.Now != nil {
		return i.Now()
	}
	return time.Now()
}

// Claims builds the claim set for req.
func (i Issuer) Claims(req Request) jwt.MapClaims {
	now := jwt.NewNumericDate(i.now())
	claims := jwt.MapClaims{
		"iss":      i.Keys.Issuer,
		"sub":      "keytool " + i.Version,
		"aud":      i.Keys.Audience,
		"iat":      now,
		"nbf":      now,
		"licensed": req.Licensed,
	}
	if req.MinVersion != "" {
		claims["minVersion"] = req.MinVersion
	}
	if req.MaxVersion != "" {
		claims["maxVersion"] = req.MaxVersion
	}
	if req.Licensee != "" {
		claims["licensee"] = req.Licensee
	}
	if req.Email != "" {
		claims["email"] = req.Email
	}
	if req.Expiration > 0 {
		claims["exp"] = jwt.NewNumericDate(now.Add(req.Expiration))
	}
	for k, v := range req.Template {
		claims[k] = v
	}
	return claims
}

// Issue signs a license token for req and verifies it before returning it.
func (i Issuer) Issue(req Request) (string, jwt.MapClaims, error) {
	token, err := Sign(i.Keys, i.Claims(req))
	if err != nil {
		return "", nil, err
	}
	claims, err := i.Verify(token, i.Keys.Audience)
	if err != nil {
		return "", nil, err
	}
	return token, claims, nil
}

// Verify checks the signature, issuer, audience and validity period of token.
func (i Issuer) Verify(token, audience string) (jwt.MapClaims, error) {
	pub, err := i.Keys.verifyKey()
	if err != nil {
		return nil, err
	}
	claims := jwt.MapClaims{}
	_, err = jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) { return pub, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodES256.Alg()}),
		jwt.WithIssuer(i.Keys.Issuer),
		jwt.WithAudience(audience),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return nil, ferrors.SigningError("token verification failed").WithCause(err).Build()
	}
	return claims, nil
}

// LoadTemplate reads extra claims from a JSON object file.
func LoadTemplate(path string) (map[string]any, error) {
	// #nosec G304 -- template path is user supplied
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryConfig, "read claim template").
			WithContext("path", path).Build()
	}
	var tmpl map[string]any
	if err := json.Unmarshal(data, &tmpl); err != nil {
		return nil, ferrors.ConfigError(fmt.Sprintf("claim template %s is not a JSON object", path)).
			WithCause(err).Build()
	}
	return tmpl, nil
}
