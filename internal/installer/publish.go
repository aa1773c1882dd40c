package installer

import (
	"context"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	ferrors "github.com/rsjsoftware/rsjbuild/internal/foundation/errors"
	"github.com/rsjsoftware/rsjbuild/internal/license"
	"github.com/rsjsoftware/rsjbuild/internal/logfields"
	"github.com/rsjsoftware/rsjbuild/internal/observability"
)

// DefaultUpdateInterval is the client polling interval in seconds.
const DefaultUpdateInterval = 86400

// CurrentVersion is the update descriptor polled by installed clients.
type CurrentVersion struct {
	Version  string   `json:"version"`
	URL      string   `json:"url"`
	Args     []string `json:"args"`
	Interval int      `json:"interval"`
	Hash     string   `json:"hash"`
}

// Publisher writes update descriptors.
type Publisher struct {
	Keys *license.KeyConfig
	Now  func() time.Time
}

// Release describes one published installer.
type Release struct {
	Installer string
	Version   string
	// DownloadURL may contain a {version} placeholder.
	DownloadURL string
	Args        []string
	Interval    int
	// VersionPath is the descriptor path; .json and .jwt siblings are written.
	VersionPath string
}

// Publish hashes the installer and writes <VersionPath>.json and <VersionPath>.jwt. The
// token carries the descriptor fields and is issued for the "<aud> Update" audience.
func (p Publisher) Publish(ctx context.Context, r Release) (*CurrentVersion, []string, error) {
	hash, err := FileSHA512(r.Installer)
	if err != nil {
		return nil, nil, ferrors.WrapError(err, ferrors.CategoryFileSystem, "hash installer").
			WithContext("path", r.Installer).Build()
	}
	version := ShortVersion(r.Version)
	interval := r.Interval
	if interval == 0 {
		interval = DefaultUpdateInterval
	}
	args := r.Args
	if args == nil {
		args = []string{}
	}
	cv := &CurrentVersion{
		Version:  version,
		URL:      strings.ReplaceAll(r.DownloadURL, "{version}", version),
		Args:     args,
		Interval: interval,
		Hash:     hash,
	}

	base := strings.TrimSuffix(r.VersionPath, filepath.Ext(r.VersionPath))
	jsonPath, jwtPath := base+".json", base+".jwt"
	data, err := json.Marshal(cv)
	if err != nil {
		return nil, nil, err
	}
	if err := os.WriteFile(jsonPath, data, 0o600); err != nil {
		return nil, nil, ferrors.WrapError(err, ferrors.CategoryFileSystem, "write version descriptor").Build()
	}

	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	issued := jwt.NewNumericDate(now())
	claims := jwt.MapClaims{
		"iss":      p.Keys.Issuer,
		"sub":      "build " + version,
		"aud":      UpdateAudience(p.Keys),
		"iat":      issued,
		"nbf":      issued,
		"version":  cv.Version,
		"url":      cv.URL,
		"args":     cv.Args,
		"interval": cv.Interval,
		"hash":     cv.Hash,
	}
	token, err := license.Sign(p.Keys, claims)
	if err != nil {
		return nil, nil, err
	}
	if err := os.WriteFile(jwtPath, []byte(token), 0o600); err != nil {
		return nil, nil, ferrors.WrapError(err, ferrors.CategoryFileSystem, "write version token").Build()
	}
	observability.InfoContext(ctx, "Published update descriptor", logfields.Path(jsonPath), logfields.Version(version))
	return cv, []string{jsonPath, jwtPath}, nil
}

// UpdateAudience is the audience of update descriptor tokens.
func UpdateAudience(k *license.KeyConfig) string {
	return k.Audience + " Update"
}

// FileSHA512 returns the hex SHA-512 of a file.
func FileSHA512(path string) (string, error) {
	// #nosec G304 -- build output
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha512.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
