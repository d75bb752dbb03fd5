package config

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"reflect"
	"regexp"
	"slices"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	"go.uber.org/multierr"

	"github.com/haukened/dper/internal/dper/domain"
)

// keyDelim separates nested koanf keys. Peer ids are map keys and commonly contain
// dots, so the usual "." delimiter cannot be used.
const keyDelim = "::"

// DefaultPath is the configuration file read when none is given.
const DefaultPath = "dper.yaml"

// PeerConfig locates one peer's dynamic descriptor.
type PeerConfig struct {
	// Source is the absolute http(s) URL the descriptor is fetched from.
	Source string `koanf:"source" validate:"required,abs_url"`

	// Format is the payload encoding, "xml" or "json".
	Format string `koanf:"format" validate:"required,oneof=xml json"`
}

// StaticConfig is the process-wide configuration loaded once at startup.
type StaticConfig struct {
	// OutputFormat is the rendered dialect, "nsd" or "knot".
	OutputFormat string `koanf:"output_format" validate:"required,oneof=nsd knot"`

	// OutputFile is the live configuration file that is replaced on change.
	OutputFile string `koanf:"output_file" validate:"required"`

	// OutputDiff echoes the unified diff of a change to stdout.
	OutputDiff bool `koanf:"output_diff"`

	// CacheDir enables per-peer payload caching when set. It must exist.
	CacheDir string `koanf:"cache_dir" validate:"omitempty,dir"`

	// Zonefiles adds a zonefile line to each NSD zone stanza.
	Zonefiles bool `koanf:"zonefiles"`

	// Template and ACL are Knot template and acl ids referenced by every zone.
	Template string `koanf:"template"`
	ACL      string `koanf:"acl"`

	// ReconfigureCommand runs after the output file changed.
	ReconfigureCommand string `koanf:"reconfigure_command"`

	// StateDB is an optional bbolt journal of fetch and publish outcomes.
	StateDB string `koanf:"state_db"`

	Peers map[string]PeerConfig `koanf:"peers" validate:"required,dive,keys,required,endkeys"`
}

// defaults holds the values applied before the file is read.
type defaults struct {
	OutputDiff bool `koanf:"output_diff"`
	Zonefiles  bool `koanf:"zonefiles"`
}

var defaultConfig = defaults{
	OutputDiff: false,
	Zonefiles:  true,
}

var (
	topLevelKeys = []string{
		"output_format", "output_file", "output_diff", "cache_dir", "zonefiles",
		"template", "acl", "reconfigure_command", "state_db", "peers",
	}
	peerKeys = []string{"source", "format"}

	mapIndex = regexp.MustCompile(`\[([^\]]*)\]`)
)

// Dialect returns the validated output dialect.
func (c *StaticConfig) Dialect() domain.Dialect {
	d, _ := domain.ParseDialect(c.OutputFormat)
	return d
}

// PeerIDs returns the configured peer ids in sorted order.
func (c *StaticConfig) PeerIDs() []string {
	ids := make([]string, 0, len(c.Peers))
	for id := range c.Peers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// CachePath returns "{cache_dir}/{peer_id}.{format}", or "" when caching is disabled.
func (c *StaticConfig) CachePath(peerID string) string {
	if c.CacheDir == "" {
		return ""
	}
	p, ok := c.Peers[peerID]
	if !ok {
		return ""
	}
	return filepath.Join(c.CacheDir, peerID+"."+strings.ToLower(p.Format))
}

// Sources returns one PeerSource per configured peer, sorted by id.
func (c *StaticConfig) Sources() []domain.PeerSource {
	out := make([]domain.PeerSource, 0, len(c.Peers))
	for _, id := range c.PeerIDs() {
		p := c.Peers[id]
		format, _ := domain.ParsePayloadFormat(p.Format)
		out = append(out, domain.PeerSource{
			ID:        id,
			URL:       p.Source,
			Format:    format,
			CachePath: c.CachePath(id),
		})
	}
	return out
}

// validAbsURL accepts absolute http and https URLs with a host.
func validAbsURL(fl validator.FieldLevel) bool {
	u, err := url.Parse(fl.Field().String())
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return u.Hostname() != ""
}

// defaultLoader loads default values into the provided Koanf instance.
var defaultLoader = func(k *koanf.Koanf) error {
	return k.Load(structs.Provider(defaultConfig, "koanf"), nil)
}

// fileLoader reads the YAML file at path, rejects unknown keys, and merges it into k.
var fileLoader = func(k *koanf.Koanf, path string) error {
	fk := koanf.New(keyDelim)
	if err := fk.Load(file.Provider(path), yaml.Parser()); err != nil {
		return err
	}
	if err := checkKeys(fk.Raw()); err != nil {
		return err
	}
	return k.Merge(fk)
}

// envLoader loads scalar overrides from environment variables prefixed "DPER_",
// e.g. DPER_OUTPUT_FILE=/etc/nsd/peers.conf.
var envLoader = func(k *koanf.Koanf) error {
	return k.Load(env.Provider(keyDelim, env.Opt{
		Prefix: "DPER_",
		TransformFunc: func(key, value string) (string, any) {
			key = strings.ToLower(strings.TrimPrefix(key, "DPER_"))
			if !slices.Contains(topLevelKeys, key) || key == "peers" {
				return "", nil
			}
			return key, strings.TrimSpace(value)
		},
	}), nil)
}

// registerValidation registers the custom "abs_url" tag and reports field names
// by their koanf key so errors read like the file.
var registerValidation = func(v *validator.Validate) error {
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("koanf"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v.RegisterValidation("abs_url", validAbsURL)
}

// Load reads the YAML configuration at path, applies defaults and environment
// overrides, and validates the result. Validation failures are returned as
// *domain.ValidationError values (combined when there are several).
func Load(path string) (*StaticConfig, error) {
	k := koanf.New(keyDelim)

	err := defaultLoader(k)
	if err != nil {
		return nil, fmt.Errorf("error loading default config: %w", err)
	}

	err = fileLoader(k, path)
	if err != nil {
		var ve *domain.ValidationError
		if errors.As(err, &ve) {
			return nil, err
		}
		return nil, fmt.Errorf("error loading config file %s: %w", path, err)
	}

	err = envLoader(k)
	if err != nil {
		return nil, fmt.Errorf("error loading env: %w", err)
	}

	var cfg StaticConfig
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, &domain.ValidationError{Msg: err.Error()}
	}

	validate := validator.New(validator.WithRequiredStructEnabled())

	err = registerValidation(validate)
	if err != nil {
		return nil, fmt.Errorf("error registering validation: %w", err)
	}

	err = validate.Struct(&cfg)
	if err != nil {
		return nil, translate(err)
	}

	return &cfg, nil
}

// checkKeys rejects keys the schema does not know, at the top level and per peer.
func checkKeys(raw map[string]any) error {
	var errs error
	for _, key := range sortedKeys(raw) {
		if !slices.Contains(topLevelKeys, key) {
			errs = multierr.Append(errs, &domain.ValidationError{Path: key, Msg: "extra keys not allowed"})
		}
	}

	peers, ok := raw["peers"].(map[string]any)
	if !ok {
		return errs
	}
	for _, id := range sortedKeys(peers) {
		p, ok := peers[id].(map[string]any)
		if !ok {
			errs = multierr.Append(errs, &domain.ValidationError{Path: "peers." + id, Msg: "expected a dictionary"})
			continue
		}
		for _, key := range sortedKeys(p) {
			if !slices.Contains(peerKeys, key) {
				errs = multierr.Append(errs, &domain.ValidationError{Path: "peers." + id + "." + key, Msg: "extra keys not allowed"})
			}
		}
	}
	return errs
}

// translate converts validator field errors into path-qualified ValidationErrors.
func translate(err error) error {
	fieldErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return &domain.ValidationError{Msg: err.Error()}
	}

	var errs error
	for _, fe := range fieldErrs {
		errs = multierr.Append(errs, &domain.ValidationError{
			Path: fieldPath(fe.Namespace()),
			Msg:  fieldMessage(fe),
		})
	}
	return errs
}

// fieldPath turns "StaticConfig.peers[example].source" into "peers.example.source".
func fieldPath(ns string) string {
	if i := strings.Index(ns, "."); i >= 0 {
		ns = ns[i+1:]
	}
	return mapIndex.ReplaceAllString(ns, ".$1")
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "required key not provided"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "dir":
		return "not a directory"
	case "abs_url":
		return "expected a fully qualified URL"
	default:
		return fmt.Sprintf("failed %q validation", fe.Tag())
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
