package build

import (
	"context"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"

	"github.com/rsjsoftware/rsjbuild/internal/fileops"
	"github.com/rsjsoftware/rsjbuild/internal/installer"
	"github.com/rsjsoftware/rsjbuild/internal/license"
	"github.com/rsjsoftware/rsjbuild/internal/logfields"
	"github.com/rsjsoftware/rsjbuild/internal/notify"
	"github.com/rsjsoftware/rsjbuild/internal/observability"
	"github.com/rsjsoftware/rsjbuild/internal/upload"
)

// InstallerSourceDir holds the Inno Setup scripts, relative to the project root.
const InstallerSourceDir = "install"

func (r *pipelineRun) addArtifact(ctx context.Context, path string) {
	r.result.Artifacts = append(r.result.Artifacts, path)
	if err := r.manifest.AddArtifact(filepath.Base(path), path); err != nil {
		observability.WarnContext(ctx, "Cannot hash artifact", logfields.Path(path), logfields.Error(err))
	}
}

func (r *pipelineRun) codeSigner(ctx context.Context) (*installer.CodeSigner, error) {
	s := &installer.CodeSigner{
		Runner:         r.runner,
		SignTool:       r.cfg.SignTool,
		TimestampURL:   r.cfg.TimestampURL,
		DescriptionURL: r.cfg.SignURL,
	}
	if r.cfg.CertificatePath != "" {
		s.Certificate = r.layout.Path(r.cfg.CertificatePath)
	}
	if r.cfg.CodesigningKey != "" {
		digest, err := r.svc.signerFactory(ctx, r.cfg.CodesigningKey)
		if err != nil {
			return nil, err
		}
		s.Digest = digest
	}
	return s, nil
}

// installers builds, optionally signs and records every configured installer.
func (r *pipelineRun) installers(ctx context.Context) error {
	builder := &installer.Builder{Runner: r.runner, ISCC: r.cfg.InnoSetupPath}
	var signer *installer.CodeSigner
	if r.req.Options.Sign {
		s, err := r.codeSigner(ctx)
		if err != nil {
			return err
		}
		signer = s
	}

	copier := r.copier()
	for _, output := range sortedKeys(r.cfg.Installers) {
		inst := r.cfg.Installers[output]
		if err := copier.Apply(ctx, inst.Pre, r.layout.Embed, r.layout.Root); err != nil {
			return err
		}

		script := filepath.Join(r.layout.Root, InstallerSourceDir, inst.Source)
		dst := filepath.Join(r.layout.Output, output)
		if err := builder.Build(ctx, script, dst, r.result.Version.String(), inst.AdditionalParms); err != nil {
			return err
		}
		if signer != nil {
			signed, err := signer.Sign(ctx, dst, inst.Title)
			if err != nil {
				return err
			}
			if signed {
				observability.InfoContext(ctx, "Installer signed", logfields.Path(dst))
			}
		}
		r.addArtifact(ctx, dst)

		if err := copier.Apply(ctx, inst.Post, r.layout.Embed, r.layout.Root); err != nil {
			return err
		}
	}
	return nil
}

// zips packs the embed directory into every configured zip distribution.
func (r *pipelineRun) zips(ctx context.Context) error {
	copier := r.copier()
	for _, output := range sortedKeys(r.cfg.Zips) {
		z := r.cfg.Zips[output]
		if err := copier.Apply(ctx, z.Pre, r.layout.Embed, r.layout.Root); err != nil {
			return err
		}

		dist := fileops.ZipDistribution{
			Source:    r.layout.Embed,
			Prefix:    r.cfg.ExeName,
			Ignore:    z.Ignore,
			ExtraRoot: r.layout.Root,
		}
		if z.Extra != "" {
			extra, err := fileops.LoadZipExtra(r.layout.Path(z.Extra))
			if err != nil {
				return missing(r.layout.Path(z.Extra))
			}
			dist.Extra = extra
		}
		dst := filepath.Join(r.layout.Output, output)
		n, err := dist.Build(ctx, dst)
		if err != nil {
			return err
		}
		size := ""
		if info, err := os.Stat(dst); err == nil {
			size = humanize.Bytes(uint64(info.Size())) // #nosec G115 -- file sizes are non-negative
		}
		observability.InfoContext(ctx, "Zip distribution written",
			logfields.Path(dst), logfields.Count(n), logfields.Size(size))
		r.addArtifact(ctx, dst)

		if err := copier.Apply(ctx, z.Post, r.layout.Embed, r.layout.Root); err != nil {
			return err
		}
	}
	return nil
}

func (r *pipelineRun) unzip(ctx context.Context) error {
	for _, u := range r.cfg.Unzip {
		if _, err := fileops.Extract(ctx, r.layout.Path(u.Source), r.layout.Path(u.Output)); err != nil {
			return err
		}
	}
	return nil
}

// publish writes the signed update descriptors for every installer that has one.
func (r *pipelineRun) publish(ctx context.Context) error {
	keys, err := license.LoadKeyConfig(r.req.Secrets, r.layout.Path(r.cfg.KeytoolConfig))
	if err != nil {
		return err
	}
	p := installer.Publisher{Keys: keys, Now: r.svc.now}
	for _, output := range sortedKeys(r.cfg.Installers) {
		inst := r.cfg.Installers[output]
		if inst.CurrentVersion == "" {
			observability.WarnContext(ctx, "Installer has no currentVersion, not published", logfields.Name(output))
			continue
		}
		path := filepath.Join(r.layout.Output, output)
		if _, err := os.Stat(path); err != nil {
			return missing(path)
		}
		_, files, err := p.Publish(ctx, installer.Release{
			Installer:   path,
			Version:     r.result.Version.String(),
			DownloadURL: inst.DownloadURL,
			Args:        r.cfg.InstallArgs,
			Interval:    r.cfg.UpdateInterval,
			VersionPath: filepath.Join(r.layout.Output, inst.CurrentVersion),
		})
		if err != nil {
			return err
		}
		for _, f := range files {
			r.addArtifact(ctx, f)
		}
	}
	return nil
}

func (r *pipelineRun) upload(ctx context.Context) error {
	batches, err := upload.Plan(r.cfg.Upload, r.result.Version.String(), r.layout.Root, r.cfg.UploadPrefix)
	if err != nil {
		return err
	}
	dialer := r.svc.dialer
	if dialer == nil {
		dialer = &upload.SFTPDialer{Auth: r.cfg.UploadAuth}
	}
	u := &upload.Uploader{Dialer: dialer, Policy: r.policy}
	n, err := u.Run(ctx, batches)
	r.result.Uploaded = n
	return err
}

// notify announces the finished release. Delivery failures are retried per policy.
func (r *pipelineRun) notify(ctx context.Context) error {
	a, err := r.svc.announcerFactory(r.cfg.Notify, r.req.Secrets)
	if err != nil {
		return err
	}
	defer a.Close()

	names := make([]string, 0, len(r.result.Artifacts))
	for _, p := range r.result.Artifacts {
		names = append(names, filepath.Base(p))
	}
	rel := notify.Release{
		BuildID:   r.manifest.ID,
		Name:      r.cfg.ExeName,
		Version:   r.result.Version.String(),
		Commit:    r.result.Version.Commit,
		Platform:  r.target.String(),
		Artifacts: names,
		Timestamp: r.svc.now().UTC(),
	}
	return r.policy.Do(ctx, "announce release", func(ctx context.Context) error {
		return a.Announce(ctx, rel)
	})
}
