package installer

import (
	"context"
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/kms/types"
	"github.com/bmatcuk/doublestar/v4"

	ferrors "github.com/rsjsoftware/rsjbuild/internal/foundation/errors"
	"github.com/rsjsoftware/rsjbuild/internal/logfields"
	"github.com/rsjsoftware/rsjbuild/internal/observability"
	"github.com/rsjsoftware/rsjbuild/internal/toolchain"
)

// DigestSigner signs a precomputed SHA-256 digest.
type DigestSigner interface {
	SignDigest(ctx context.Context, digest []byte) ([]byte, error)
}

// KMSClient is the part of the KMS API used for signing.
type KMSClient interface {
	Sign(ctx context.Context, params *kms.SignInput, optFns ...func(*kms.Options)) (*kms.SignOutput, error)
}

// KMSSigner signs digests with an asymmetric RSA key held in AWS KMS.
type KMSSigner struct {
	Client KMSClient
	KeyID  string
}

// NewKMSSigner uses the default AWS credential chain.
func NewKMSSigner(ctx context.Context, keyID string) (*KMSSigner, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, ferrors.SigningError("load AWS configuration").WithCause(err).Build()
	}
	return &KMSSigner{Client: kms.NewFromConfig(cfg), KeyID: keyID}, nil
}

// SignDigest implements DigestSigner with RSASSA-PKCS1-v1_5 over SHA-256.
func (s *KMSSigner) SignDigest(ctx context.Context, digest []byte) ([]byte, error) {
	out, err := s.Client.Sign(ctx, &kms.SignInput{
		KeyId:            aws.String(s.KeyID),
		Message:          digest,
		MessageType:      types.MessageTypeDigest,
		SigningAlgorithm: types.SigningAlgorithmSpecRsassaPkcs1V15Sha256,
	})
	if err != nil {
		return nil, ferrors.SigningError("KMS sign failed").WithCause(err).
			WithContext("key", s.KeyID).Retryable().Build()
	}
	return out.Signature, nil
}

// DefaultDescriptionURL is embedded into signatures as the publisher link.
const DefaultDescriptionURL = "https://www.rsj.de"

// CodeSigner signs files with signtool, delegating the private-key operation to Digest:
// signtool writes the file digest, Digest signs it, signtool embeds the signature.
type CodeSigner struct {
	Runner toolchain.Runner
	// SignTool may be a glob; the last match is used.
	SignTool       string
	Certificate    string
	Digest         DigestSigner
	TimestampURL   string
	DescriptionURL string
}

// Sign signs file in place. It returns false without error when signtool or the certificate
// is not available.
func (s *CodeSigner) Sign(ctx context.Context, file, title string) (bool, error) {
	tool := s.resolveTool()
	if tool == "" {
		observability.WarnContext(ctx, "Sign tool not found, installer stays unsigned", logfields.Path(s.SignTool))
		return false, nil
	}
	cert, err := filepath.Abs(s.Certificate)
	if err != nil || s.Certificate == "" || !exists(cert) {
		observability.WarnContext(ctx, "Certificate not found, installer stays unsigned", logfields.Path(s.Certificate))
		return false, nil
	}
	if s.Digest == nil {
		return false, ferrors.ConfigError("no digest signer configured").Build()
	}

	dir := filepath.Dir(file)
	name := filepath.Base(file)
	digestDir := filepath.Join(dir, "digest")
	if err := os.MkdirAll(digestDir, 0o750); err != nil {
		return false, ferrors.WrapError(err, ferrors.CategoryFileSystem, "create digest directory").Build()
	}
	defer os.RemoveAll(digestDir)

	descURL := s.DescriptionURL
	if descURL == "" {
		descURL = DefaultDescriptionURL
	}
	if err := s.run(ctx, tool, dir, "sign", "/dg", "digest", "/fd", "SHA256", "/du", descURL,
		"/f", cert, "/d", title, name); err != nil {
		return false, err
	}

	digestFile := filepath.Join(digestDir, name+".dig")
	// #nosec G304 -- written by signtool
	raw, err := os.ReadFile(digestFile)
	if err != nil {
		return false, ferrors.WrapError(err, ferrors.CategorySigning, "read digest").Build()
	}
	digest, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil {
		return false, ferrors.SigningError("digest is not base64").WithCause(err).Build()
	}
	signature, err := s.Digest.SignDigest(ctx, digest)
	if err != nil {
		return false, err
	}
	encoded := base64.StdEncoding.EncodeToString(signature)
	if err := os.WriteFile(digestFile+".signed", []byte(encoded), 0o600); err != nil {
		return false, ferrors.WrapError(err, ferrors.CategoryFileSystem, "write signature").Build()
	}

	if err := s.run(ctx, tool, dir, "sign", "/di", "digest", name); err != nil {
		return false, err
	}
	if s.TimestampURL != "" {
		if err := s.run(ctx, tool, dir, "timestamp", "/tr", s.TimestampURL, "/td", "sha256", name); err != nil {
			return false, err
		}
	}
	observability.InfoContext(ctx, "Signed installer", logfields.Path(file))
	return true, nil
}

func (s *CodeSigner) resolveTool() string {
	if s.SignTool == "" {
		return ""
	}
	matches, err := doublestar.FilepathGlob(s.SignTool)
	if err != nil || len(matches) == 0 {
		return ""
	}
	return matches[len(matches)-1]
}

func (s *CodeSigner) run(ctx context.Context, tool, dir string, args ...string) error {
	if err := s.Runner.Run(ctx, toolchain.Command{Name: tool, Args: args, Dir: dir}); err != nil {
		return ferrors.WrapError(err, ferrors.CategorySigning, "signtool failed").
			WithContext("step", args[0]).Fatal().Build()
	}
	return nil
}

func exists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
