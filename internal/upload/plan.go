package upload

import (
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/rsjsoftware/rsjbuild/internal/config"
	ferrors "github.com/rsjsoftware/rsjbuild/internal/foundation/errors"
)

// Item is one file transfer.
type Item struct {
	Local  string
	Remote string
}

// Batch groups the transfers for one login.
type Batch struct {
	User  string
	Host  string
	Items []Item
}

// Plan expands the upload map (target -> local glob) into batches ordered by login. Local
// globs are resolved below root; relative remote paths are placed below prefix.
func Plan(uploads map[string]string, version, root, prefix string) ([]Batch, error) {
	byLogin := map[string]*Batch{}
	targets := make([]string, 0, len(uploads))
	for t := range uploads {
		targets = append(targets, t)
	}
	sort.Strings(targets)

	for _, raw := range targets {
		target, err := config.ParseUploadTarget(raw)
		if err != nil {
			return nil, ferrors.ConfigError("invalid upload target").WithCause(err).Build()
		}
		pattern := uploads[raw]
		if !filepath.IsAbs(pattern) {
			pattern = filepath.Join(root, pattern)
		}
		matches, err := doublestar.FilepathGlob(pattern)
		if err != nil {
			return nil, ferrors.ConfigError("invalid upload source").WithCause(err).
				WithContext("source", uploads[raw]).Build()
		}

		login := target.User + "@" + target.Host
		b := byLogin[login]
		if b == nil {
			b = &Batch{User: target.User, Host: target.Host}
			byLogin[login] = b
		}
		for _, m := range matches {
			info, err := os.Stat(m)
			if err != nil || info.IsDir() {
				continue
			}
			remote := RemotePath(target.Path, version, filepath.Base(m))
			if prefix != "" && !path.IsAbs(remote) {
				remote = path.Join(prefix, remote)
			}
			b.Items = append(b.Items, Item{Local: m, Remote: remote})
		}
	}

	logins := make([]string, 0, len(byLogin))
	for l := range byLogin {
		logins = append(logins, l)
	}
	sort.Strings(logins)
	batches := make([]Batch, 0, len(logins))
	for _, l := range logins {
		if len(byLogin[l].Items) > 0 {
			batches = append(batches, *byLogin[l])
		}
	}
	return batches, nil
}

// RemotePath fills the placeholders of a remote path template for the local file name. A
// template ending in "/" names a directory and receives the file name.
func RemotePath(template, version, name string) string {
	suffix := path.Ext(name)
	r := strings.NewReplacer(
		"{version}", version,
		"{stem}", strings.TrimSuffix(name, suffix),
		"{suffix}", suffix,
		"{name}", name,
	)
	remote := r.Replace(template)
	if strings.HasSuffix(remote, "/") {
		remote += name
	}
	return remote
}
