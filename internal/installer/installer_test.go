package installer

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha512"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/kms/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ferrors "github.com/rsjsoftware/rsjbuild/internal/foundation/errors"
	"github.com/rsjsoftware/rsjbuild/internal/license"
	"github.com/rsjsoftware/rsjbuild/internal/toolchain"
)

func TestShortVersion(t *testing.T) {
	assert.Equal(t, "1.02.0003", ShortVersion("1.02.0003"))
	assert.Equal(t, "1.2.3", ShortVersion("1.2.3.4"))
	assert.Equal(t, "1.2", ShortVersion("1.2"))
}

func TestBuilderArguments(t *testing.T) {
	runner := &toolchain.FakeRunner{}
	b := &Builder{Runner: runner, ISCC: "ISCC.exe"}
	output := filepath.Join("output", "setup-app.exe")
	err := b.Build(context.Background(), filepath.Join("install", "app.iss"), output, "1.02.0003.7",
		map[string]string{"edition": "pro", "arch": "x64"})
	require.NoError(t, err)

	calls := runner.Commands()
	require.Len(t, calls, 1)
	assert.Equal(t, "ISCC.exe", calls[0].Name)
	assert.Equal(t, []string{
		"-dversion=1.02.0003",
		"-doutputName=setup-app",
		"-Ooutput",
		"-darch=x64",
		"-dedition=pro",
		filepath.Join("install", "app.iss"),
	}, calls[0].Args)
}

func TestBuilderFailure(t *testing.T) {
	runner := &toolchain.FakeRunner{Handler: func(cmd toolchain.Command) error {
		return &toolchain.ToolError{Command: cmd, ExitCode: 2, Stdout: "Error on line 12"}
	}}
	err := (&Builder{Runner: runner, ISCC: "ISCC.exe"}).Build(context.Background(), "a.iss", "out/a.exe", "1.0.0", nil)
	require.Error(t, err)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryToolchain))
	assert.Contains(t, err.Error(), "Error on line 12")
}

type fakeKMS struct {
	input *kms.SignInput
	err   error
}

func (f *fakeKMS) Sign(_ context.Context, in *kms.SignInput, _ ...func(*kms.Options)) (*kms.SignOutput, error) {
	f.input = in
	if f.err != nil {
		return nil, f.err
	}
	return &kms.SignOutput{Signature: append([]byte("sig:"), in.Message...)}, nil
}

func TestKMSSigner(t *testing.T) {
	client := &fakeKMS{}
	s := &KMSSigner{Client: client, KeyID: "alias/codesign"}
	sig, err := s.SignDigest(context.Background(), []byte("digest"))
	require.NoError(t, err)
	assert.Equal(t, []byte("sig:digest"), sig)
	assert.Equal(t, "alias/codesign", aws.ToString(client.input.KeyId))
	assert.Equal(t, types.MessageTypeDigest, client.input.MessageType)
	assert.Equal(t, types.SigningAlgorithmSpecRsassaPkcs1V15Sha256, client.input.SigningAlgorithm)

	client.err = errors.New("throttled")
	_, err = s.SignDigest(context.Background(), []byte("digest"))
	require.Error(t, err)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategorySigning))
}

func TestCodeSigner(t *testing.T) {
	dir := t.TempDir()
	tool := filepath.Join(dir, "kits", "10.0.22621.0", "x64", "signtool.exe")
	require.NoError(t, os.MkdirAll(filepath.Dir(tool), 0o750))
	require.NoError(t, os.WriteFile(tool, nil, 0o600))
	cert := filepath.Join(dir, "codesign.cer")
	require.NoError(t, os.WriteFile(cert, []byte("cert"), 0o600))
	out := filepath.Join(dir, "output")
	require.NoError(t, os.MkdirAll(out, 0o750))
	installer := filepath.Join(out, "setup.exe")
	require.NoError(t, os.WriteFile(installer, []byte("MZ"), 0o600))

	var signedSeen string
	runner := &toolchain.FakeRunner{Handler: func(cmd toolchain.Command) error {
		switch {
		case cmd.Args[0] == "sign" && cmd.Args[1] == "/dg":
			return os.WriteFile(filepath.Join(cmd.Dir, "digest", "setup.exe.dig"),
				[]byte(base64.StdEncoding.EncodeToString([]byte("sha256"))+"\r\n"), 0o600)
		case cmd.Args[0] == "sign" && cmd.Args[1] == "/di":
			data, err := os.ReadFile(filepath.Join(cmd.Dir, "digest", "setup.exe.dig.signed"))
			signedSeen = string(data)
			return err
		}
		return nil
	}}
	kmsClient := &fakeKMS{}
	s := &CodeSigner{
		Runner:       runner,
		SignTool:     filepath.Join(dir, "kits", "*", "x64", "signtool.exe"),
		Certificate:  cert,
		Digest:       &KMSSigner{Client: kmsClient, KeyID: "k"},
		TimestampURL: "http://timestamp.example",
	}
	signed, err := s.Sign(context.Background(), installer, "RSJ App")
	require.NoError(t, err)
	assert.True(t, signed)

	calls := runner.Commands()
	require.Len(t, calls, 3)
	assert.Equal(t, tool, calls[0].Name)
	assert.Equal(t, out, calls[0].Dir)
	assert.Equal(t, []string{"sign", "/dg", "digest", "/fd", "SHA256", "/du", DefaultDescriptionURL,
		"/f", cert, "/d", "RSJ App", "setup.exe"}, calls[0].Args)
	assert.Equal(t, []string{"sign", "/di", "digest", "setup.exe"}, calls[1].Args)
	assert.Equal(t, []string{"timestamp", "/tr", "http://timestamp.example", "/td", "sha256", "setup.exe"}, calls[2].Args)

	assert.Equal(t, []byte("sha256"), kmsClient.input.Message)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("sig:sha256")), signedSeen)
	assert.NoDirExists(t, filepath.Join(out, "digest"))
}

func TestCodeSignerSkipsWithoutTool(t *testing.T) {
	runner := &toolchain.FakeRunner{}
	s := &CodeSigner{Runner: runner, SignTool: filepath.Join(t.TempDir(), "*", "signtool.exe")}
	signed, err := s.Sign(context.Background(), "setup.exe", "App")
	require.NoError(t, err)
	assert.False(t, signed)
	assert.Empty(t, runner.Commands())
}

func testKeys(t *testing.T) *license.KeyConfig {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)
	return &license.KeyConfig{
		Issuer:     "RSJ",
		Audience:   "App",
		PrivateKey: string(pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der})),
	}
}

func TestPublish(t *testing.T) {
	dir := t.TempDir()
	setup := filepath.Join(dir, "setup.exe")
	require.NoError(t, os.WriteFile(setup, []byte("installer bytes"), 0o600))
	sum := sha512.Sum512([]byte("installer bytes"))

	now := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	keys := testKeys(t)
	p := Publisher{Keys: keys, Now: func() time.Time { return now }}
	cv, files, err := p.Publish(context.Background(), Release{
		Installer:   setup,
		Version:     "1.02.0003.1",
		DownloadURL: "https://dl.example/app-{version}.exe",
		Args:        []string{"/SILENT"},
		VersionPath: filepath.Join(dir, "current.json"),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "current.json"), filepath.Join(dir, "current.jwt")}, files)
	assert.Equal(t, "1.02.0003", cv.Version)
	assert.Equal(t, "https://dl.example/app-1.02.0003.exe", cv.URL)
	assert.Equal(t, DefaultUpdateInterval, cv.Interval)
	assert.Equal(t, hex.EncodeToString(sum[:]), cv.Hash)

	data, err := os.ReadFile(files[0])
	require.NoError(t, err)
	var onDisk CurrentVersion
	require.NoError(t, json.Unmarshal(data, &onDisk))
	assert.Equal(t, *cv, onDisk)

	token, err := os.ReadFile(files[1])
	require.NoError(t, err)
	verifier := license.Issuer{Keys: keys, Now: p.Now}
	claims, err := verifier.Verify(string(token), UpdateAudience(keys))
	require.NoError(t, err)
	assert.Equal(t, "build 1.02.0003", claims["sub"])
	assert.Equal(t, cv.Hash, claims["hash"])
	assert.Equal(t, []any{"/SILENT"}, claims["args"])

	_, err = verifier.Verify(string(token), keys.Audience)
	require.Error(t, err)
}

func TestPublishMissingInstaller(t *testing.T) {
	p := Publisher{Keys: testKeys(t)}
	_, _, err := p.Publish(context.Background(), Release{Installer: filepath.Join(t.TempDir(), "none.exe")})
	require.Error(t, err)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryFileSystem))
}
