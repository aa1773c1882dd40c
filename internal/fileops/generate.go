package fileops

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/rsjsoftware/rsjbuild/internal/config"
	ferrors "github.com/rsjsoftware/rsjbuild/internal/foundation/errors"
	"github.com/rsjsoftware/rsjbuild/internal/logfields"
	"github.com/rsjsoftware/rsjbuild/internal/observability"
)

// DecodeBase64 writes every target whose secret is set to its base64-decoded content. Targets
// whose secret is missing are skipped. Targets are relative to root.
func DecodeBase64(ctx context.Context, secrets config.Secrets, targets map[string]string, root string) ([]string, error) {
	var written []string
	for _, target := range sortedKeys(targets) {
		value, ok := secrets.Lookup(targets[target])
		if !ok || value == "" {
			continue
		}
		data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(value))
		if err != nil {
			return written, ferrors.ConfigError("secret is not valid base64").
				WithCause(err).WithContext("secret", targets[target]).Build()
		}
		p := filepath.Join(root, target)
		if err := os.WriteFile(p, data, 0o600); err != nil {
			return written, ferrors.WrapError(err, ferrors.CategoryFileSystem, "write decoded secret").
				WithContext("path", target).Build()
		}
		observability.InfoContext(ctx, "Decoded secret", logfields.Path(target))
		written = append(written, p)
	}
	return written, nil
}

// RenderSecretTemplates fills ${key} placeholders in template files. templates maps a secret
// name to target -> template; the secret holds a JSON object of key/value pairs. Templates
// are read below root and written below dstRoot. Unset secrets are skipped.
func RenderSecretTemplates(ctx context.Context, secrets config.Secrets, templates map[string]map[string]string, root, dstRoot string) ([]string, error) {
	var written []string
	for _, secret := range sortedKeys(templates) {
		raw, ok := secrets.Lookup(secret)
		if !ok {
			continue
		}
		values := map[string]string{}
		if err := json.Unmarshal([]byte(raw), &values); err != nil {
			return written, ferrors.ConfigError("template secret is not a JSON object of strings").
				WithCause(err).WithContext("secret", secret).Build()
		}
		pairs := make([]string, 0, 2*len(values))
		for _, k := range sortedKeys(values) {
			pairs = append(pairs, "${"+k+"}", values[k])
		}
		r := strings.NewReplacer(pairs...)

		files := templates[secret]
		for _, target := range sortedKeys(files) {
			// #nosec G304 -- configured template
			text, err := os.ReadFile(filepath.Join(root, files[target]))
			if err != nil {
				return written, ferrors.WrapError(err, ferrors.CategoryConfig, "read template").
					WithContext("template", files[target]).Build()
			}
			p := filepath.Join(dstRoot, target)
			if err := os.MkdirAll(filepath.Dir(p), 0o750); err != nil {
				return written, err
			}
			if err := os.WriteFile(p, []byte(r.Replace(string(text))), 0o600); err != nil {
				return written, ferrors.WrapError(err, ferrors.CategoryFileSystem, "write template").
					WithContext("path", target).Build()
			}
			written = append(written, p)
		}
		observability.DebugContext(ctx, "Rendered secret templates", logfields.Name(secret), logfields.Count(len(files)))
	}
	return written, nil
}

// EmbedData turns JSON data files into Python modules: each target (relative to sourceDir)
// becomes "<stem> = <literal>" with key order preserved. Data paths are relative to root.
func EmbedData(ctx context.Context, data map[string]string, sourceDir, root string) ([]string, error) {
	var written []string
	for _, target := range sortedKeys(data) {
		// #nosec G304 -- configured data file
		raw, err := os.ReadFile(filepath.Join(root, data[target]))
		if err != nil {
			return written, ferrors.WrapError(err, ferrors.CategoryConfig, "read embed data").
				WithContext("path", data[target]).Build()
		}
		var doc yaml.Node
		if err := yaml.Unmarshal(raw, &doc); err != nil {
			return written, ferrors.ConfigError("embed data is not valid JSON").
				WithCause(err).WithContext("path", data[target]).Build()
		}

		var buf bytes.Buffer
		stem := strings.TrimSuffix(filepath.Base(target), filepath.Ext(target))
		buf.WriteString(stem + " = ")
		if len(doc.Content) == 0 {
			buf.WriteString("None")
		} else if err := writePyLiteral(&buf, doc.Content[0], 0); err != nil {
			return written, ferrors.ConfigError("unsupported embed data").
				WithCause(err).WithContext("path", data[target]).Build()
		}
		buf.WriteString("\n")

		p := filepath.Join(sourceDir, target)
		if err := os.WriteFile(p, buf.Bytes(), 0o600); err != nil {
			return written, ferrors.WrapError(err, ferrors.CategoryFileSystem, "write embed data").Build()
		}
		observability.DebugContext(ctx, "Embedded data", logfields.Path(p))
		written = append(written, p)
	}
	return written, nil
}

// writePyLiteral renders n as a Python literal indented by two spaces per level.
func writePyLiteral(buf *bytes.Buffer, n *yaml.Node, depth int) error {
	pad := func(d int) string { return strings.Repeat("  ", d) }
	switch n.Kind {
	case yaml.MappingNode:
		if len(n.Content) == 0 {
			buf.WriteString("{}")
			return nil
		}
		buf.WriteString("{\n")
		for i := 0; i < len(n.Content); i += 2 {
			buf.WriteString(pad(depth + 1))
			key, _ := json.Marshal(n.Content[i].Value)
			buf.Write(key)
			buf.WriteString(": ")
			if err := writePyLiteral(buf, n.Content[i+1], depth+1); err != nil {
				return err
			}
			if i+2 < len(n.Content) {
				buf.WriteString(",")
			}
			buf.WriteString("\n")
		}
		buf.WriteString(pad(depth) + "}")
	case yaml.SequenceNode:
		if len(n.Content) == 0 {
			buf.WriteString("[]")
			return nil
		}
		buf.WriteString("[\n")
		for i, c := range n.Content {
			buf.WriteString(pad(depth + 1))
			if err := writePyLiteral(buf, c, depth+1); err != nil {
				return err
			}
			if i+1 < len(n.Content) {
				buf.WriteString(",")
			}
			buf.WriteString("\n")
		}
		buf.WriteString(pad(depth) + "]")
	case yaml.ScalarNode:
		switch n.Tag {
		case "!!null":
			buf.WriteString("None")
		case "!!bool":
			if n.Value == "true" {
				buf.WriteString("True")
			} else {
				buf.WriteString("False")
			}
		case "!!int", "!!float":
			buf.WriteString(n.Value)
		default:
			s, _ := json.Marshal(n.Value)
			buf.Write(s)
		}
	default:
		return fmt.Errorf("line %d: unsupported node", n.Line)
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
