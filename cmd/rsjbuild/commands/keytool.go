package commands

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/rsjsoftware/rsjbuild/internal/config"
	ferrors "github.com/rsjsoftware/rsjbuild/internal/foundation/errors"
	"github.com/rsjsoftware/rsjbuild/internal/license"
	"github.com/rsjsoftware/rsjbuild/internal/logfields"
	"github.com/rsjsoftware/rsjbuild/internal/version"
)

// KeytoolCmd implements the 'keytool' command.
type KeytoolCmd struct {
	KeyConfig         string `name:"key-config" help:"Key configuration file" default:"keytool.json"`
	Expiration        int    `short:"e" help:"Validity in days (0 never expires)"`
	ExpirationMinutes int    `name:"expiration-minutes" help:"Validity in minutes, added to --expiration"`
	Licensee          string `short:"l" help:"Licensee name" default:"${licensee}"`
	Email             string `help:"Licensee e-mail address"`
	Min               string `help:"Minimum application version"`
	Max               string `help:"Maximum application version"`
	Template          string `short:"t" help:"JSON file with extra claims"`
	Demo              bool   `help:"Issue an unlicensed demo key"`

	Output string `arg:"" optional:"" help:"Token output file (stdout when omitted)"`

	now func() time.Time
	out io.Writer
}

func (k *KeytoolCmd) request() (license.Request, error) {
	req := license.Request{
		Licensee:   k.Licensee,
		Email:      k.Email,
		MinVersion: k.Min,
		MaxVersion: k.Max,
		Licensed:   !k.Demo,
		Expiration: time.Duration(k.Expiration)*24*time.Hour + time.Duration(k.ExpirationMinutes)*time.Minute,
	}
	if k.Expiration < 0 || k.ExpirationMinutes < 0 {
		return req, ferrors.ValidationError("expiration must not be negative").Build()
	}
	if k.Template != "" {
		tmpl, err := license.LoadTemplate(k.Template)
		if err != nil {
			return req, err
		}
		req.Template = tmpl
	}
	return req, nil
}

func (k *KeytoolCmd) Run(_ *Global, root *CLI) error {
	secrets, err := config.LoadSecrets(root.EnvFile...)
	if err != nil {
		return err
	}
	keys, err := license.LoadKeyConfig(secrets, k.KeyConfig)
	if err != nil {
		return err
	}
	req, err := k.request()
	if err != nil {
		return err
	}
	issuer := license.Issuer{Keys: keys, Version: version.Version, Now: k.now}
	token, claims, err := issuer.Issue(req)
	if err != nil {
		return err
	}
	slog.Debug("License claims", slog.Any("claims", claims))

	if k.Output == "" {
		w := k.out
		if w == nil {
			w = os.Stdout
		}
		_, err := fmt.Fprintln(w, token)
		return err
	}
	if err := os.WriteFile(k.Output, []byte(token), 0o600); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryFileSystem, "write license token").
			WithContext("path", k.Output).Build()
	}
	slog.Info("License token written", logfields.Path(k.Output), slog.Bool("licensed", req.Licensed))
	return nil
}
