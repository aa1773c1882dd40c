package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the typed build configuration read from build.json.
type Config struct {
	ExeName    string                   `yaml:"exeName"`
	SourcePath string                   `yaml:"sourcePath"`
	Compile    map[string]CompileTarget `yaml:"compile,omitempty"`

	// Base64Decode maps a target file to the secret holding its base64 content.
	Base64Decode map[string]string `yaml:"base64Decode,omitempty"`
	// Template maps a secret name (JSON object of key/value pairs) to target -> template file.
	Template map[string]map[string]string `yaml:"template,omitempty"`
	// EmbedData maps a module file below sourcePath to a JSON data file.
	EmbedData map[string]string `yaml:"embedData,omitempty"`

	Embedded EmbeddedConfig `yaml:",inline"`

	Userguide string            `yaml:"userguide,omitempty"`
	Npm       []string          `yaml:"npm,omitempty"`
	Pnpm      []string          `yaml:"pnpm,omitempty"`
	Require   map[string]string `yaml:"require,omitempty"`
	Gzip      []string          `yaml:"gzip,omitempty"`
	LateCopy  *CopyOptions      `yaml:"lateCopy,omitempty"`

	Installers      map[string]Installer `yaml:"installers,omitempty"`
	InnoSetupPath   string               `yaml:"innoSetupPath,omitempty"`
	SignTool        string               `yaml:"signTool,omitempty"`
	CodesigningKey  string               `yaml:"codesigningKey,omitempty"`
	CertificatePath string               `yaml:"certificatePath,omitempty"`
	TimestampURL    string               `yaml:"timestampUrl,omitempty"`
	SignURL         string               `yaml:"signUrl,omitempty"`
	InstallArgs     []string             `yaml:"installArgs,omitempty"`
	UpdateInterval  int                  `yaml:"updateInterval,omitempty"`
	KeytoolConfig   string               `yaml:"keytoolConfig,omitempty"`

	Zips  map[string]ZipTarget `yaml:"zips,omitempty"`
	Unzip []UnzipSpec          `yaml:"unzip,omitempty"`

	UploadHost   string            `yaml:"uploadHost,omitempty"`
	UploadPrefix string            `yaml:"uploadPrefix,omitempty"`
	Upload       map[string]string `yaml:"upload,omitempty"`
	UploadAuth   UploadAuth        `yaml:"uploadAuth,omitempty"`

	Notify      NotifyConfig      `yaml:"notify,omitempty"`
	Interpreter InterpreterConfig `yaml:"interpreter,omitempty"`
	Toolchain   ToolchainConfig   `yaml:"toolchain,omitempty"`
	Metrics     MetricsConfig     `yaml:"metrics,omitempty"`
	Retry       RetryConfig       `yaml:"retry,omitempty"`
	Watch       WatchConfig       `yaml:"watch,omitempty"`
}

// CompileTarget describes one executable produced by the compiler driver.
type CompileTarget struct {
	MainModule string   `yaml:"mainModule"`
	Sources    []string `yaml:"sources"`
	NoConsole  bool     `yaml:"noConsole,omitempty"`
	OnlyOn     []string `yaml:"onlyOn,omitempty"`
	// Library compiles position-independent objects (linux only).
	Library  bool `yaml:"library,omitempty"`
	Parallel bool `yaml:"parallel,omitempty"`
}

// EmbeddedConfig controls assembly of the embedded interpreter runtime.
type EmbeddedConfig struct {
	CopyOptions `yaml:",inline"`
	CompModules []string `yaml:"compModules,omitempty"`
	WithTkinter bool     `yaml:"withTkinter,omitempty"`
	RemoveTests bool     `yaml:"removeTests,omitempty"`
}

// CopyOptions is a small file-plan applied to the embed directory.
type CopyOptions struct {
	CreateDirs  []string   `yaml:"createDirs,omitempty"`
	CopyFiles   []CopySpec `yaml:"copyFiles,omitempty"`
	CopyTrees   []CopySpec `yaml:"copyTrees,omitempty"`
	DeleteFiles []string   `yaml:"deleteFiles,omitempty"`
}

// Empty reports whether the plan does nothing.
func (c *CopyOptions) Empty() bool {
	return c == nil || len(c.CreateDirs)+len(c.CopyFiles)+len(c.CopyTrees)+len(c.DeleteFiles) == 0
}

// CopySpec is either a single path (copied to the same relative path) or a [source, target] pair.
// Sources starting with http:// or https:// are downloaded.
type CopySpec struct {
	Source string
	Target string
}

// UnmarshalYAML accepts "path" or ["source", "target"].
func (c *CopySpec) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		c.Source = node.Value
		c.Target = node.Value
		return nil
	case yaml.SequenceNode:
		var pair []string
		if err := node.Decode(&pair); err != nil {
			return err
		}
		if len(pair) != 2 {
			return fmt.Errorf("line %d: copy entry needs [source, target], got %d items", node.Line, len(pair))
		}
		c.Source, c.Target = pair[0], pair[1]
		return nil
	default:
		return fmt.Errorf("line %d: copy entry must be a string or a [source, target] pair", node.Line)
	}
}

// MarshalYAML writes the short form when source and target are equal.
func (c CopySpec) MarshalYAML() (any, error) {
	if c.Source == c.Target {
		return c.Source, nil
	}
	return []string{c.Source, c.Target}, nil
}

// Installer configures one Inno Setup installer and its update publication.
type Installer struct {
	Source          string            `yaml:"source"`
	Title           string            `yaml:"title"`
	AdditionalParms map[string]string `yaml:"additionalParms,omitempty"`
	Pre             *CopyOptions      `yaml:"pre,omitempty"`
	Post            *CopyOptions      `yaml:"post,omitempty"`
	CurrentVersion  string            `yaml:"currentVersion,omitempty"`
	DownloadURL     string            `yaml:"downloadUrl,omitempty"`
}

// ZipTarget configures a zip distribution built from the embed directory.
type ZipTarget struct {
	Pre    *CopyOptions `yaml:"pre,omitempty"`
	Post   *CopyOptions `yaml:"post,omitempty"`
	Ignore []string     `yaml:"ignore,omitempty"`
	// Extra names a JSON file with fileList and dirList entries added after the embed tree.
	Extra string `yaml:"extra,omitempty"`
}

// UnzipSpec extracts Source into a freshly emptied Output directory.
type UnzipSpec struct {
	Output string
	Source string
}

// UnmarshalYAML accepts [output, source] pairs or {output, source} maps.
func (u *UnzipSpec) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.SequenceNode:
		var pair []string
		if err := node.Decode(&pair); err != nil {
			return err
		}
		if len(pair) != 2 {
			return fmt.Errorf("line %d: unzip entry needs [output, source]", node.Line)
		}
		u.Output, u.Source = pair[0], pair[1]
		return nil
	case yaml.MappingNode:
		var m struct {
			Output string `yaml:"output"`
			Source string `yaml:"source"`
		}
		if err := node.Decode(&m); err != nil {
			return err
		}
		u.Output, u.Source = m.Output, m.Source
		return nil
	default:
		return fmt.Errorf("line %d: unzip entry must be a pair", node.Line)
	}
}

// MarshalYAML writes the pair form.
func (u UnzipSpec) MarshalYAML() (any, error) {
	return []string{u.Output, u.Source}, nil
}

// UploadAuth configures SSH authentication for uploads.
type UploadAuth struct {
	KeyPath        string `yaml:"keyPath,omitempty"`
	KnownHosts     string `yaml:"knownHosts,omitempty"`
	UseAgent       *bool  `yaml:"useAgent,omitempty"`
	InsecureIgnore bool   `yaml:"insecureIgnoreHostKey,omitempty"`
	Port           int    `yaml:"port,omitempty"`
}

// NotifyConfig configures the NATS release announcement.
type NotifyConfig struct {
	URL     string `yaml:"url,omitempty"`
	Subject string `yaml:"subject,omitempty"`
	// CredsSecret names a secret holding a NATS credentials file path.
	CredsSecret string `yaml:"credsSecret,omitempty"`
}

// Enabled reports whether an announcement should be sent.
func (n NotifyConfig) Enabled() bool { return n.URL != "" }

// InterpreterConfig selects the interpreter and the transpiler module.
type InterpreterConfig struct {
	Python         string   `yaml:"python,omitempty"`
	TranspilerArgs []string `yaml:"transpilerArgs,omitempty"`
	EmbedBaseURL   string   `yaml:"embedBaseUrl,omitempty"`
	// StaticArchive overrides the static interpreter library linked on linux.
	StaticArchive string `yaml:"staticArchive,omitempty"`
}

// ToolchainConfig overrides the C toolchain executables.
type ToolchainConfig struct {
	CC   string `yaml:"cc,omitempty"`
	RC   string `yaml:"rc,omitempty"`
	Link string `yaml:"link,omitempty"`
}

// MetricsConfig enables writing a Prometheus textfile after each build.
type MetricsConfig struct {
	Textfile string `yaml:"textfile,omitempty"`
}

// WatchConfig tunes the watch command.
type WatchConfig struct {
	Debounce time.Duration `yaml:"debounce,omitempty"`
}
