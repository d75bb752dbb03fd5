package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"github.com/haukened/dper/internal/dper/domain"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dper.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func errorStrings(err error) []string {
	var out []string
	for _, e := range multierr.Errors(err) {
		out = append(out, e.Error())
	}
	return out
}

func TestLoad_Minimal(t *testing.T) {
	path := writeConfig(t, `
output_format: nsd
output_file: /etc/nsd/peers.conf
peers:
  example.net:
    source: https://dper.example.net/peers.json
    format: json
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, domain.DialectNSD, cfg.Dialect())
	assert.Equal(t, "/etc/nsd/peers.conf", cfg.OutputFile)
	assert.True(t, cfg.Zonefiles, "zonefiles defaults to true")
	assert.False(t, cfg.OutputDiff)
	assert.Equal(t, "", cfg.CachePath("example.net"), "no cache without cache_dir")
	require.Contains(t, cfg.Peers, "example.net")
	assert.Equal(t, "json", cfg.Peers["example.net"].Format)
}

func TestLoad_Full(t *testing.T) {
	cacheDir := t.TempDir()
	path := writeConfig(t, `
output_format: knot
output_file: /etc/knot/peers.conf
output_diff: true
cache_dir: `+cacheDir+`
zonefiles: false
template: secondary
acl: local_notify
reconfigure_command: knotc reload
state_db: /var/lib/dper/state.db
peers:
  zeta:
    source: https://zeta.example/dper.xml
    format: xml
  alpha:
    source: http://alpha.example:8080/dper.json
    format: json
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, domain.DialectKnot, cfg.Dialect())
	assert.True(t, cfg.OutputDiff)
	assert.False(t, cfg.Zonefiles)
	assert.Equal(t, "secondary", cfg.Template)
	assert.Equal(t, "local_notify", cfg.ACL)
	assert.Equal(t, "knotc reload", cfg.ReconfigureCommand)
	assert.Equal(t, "/var/lib/dper/state.db", cfg.StateDB)
	assert.Equal(t, []string{"alpha", "zeta"}, cfg.PeerIDs())
	assert.Equal(t, filepath.Join(cacheDir, "zeta.xml"), cfg.CachePath("zeta"))

	sources := cfg.Sources()
	require.Len(t, sources, 2)
	assert.Equal(t, domain.PeerSource{
		ID:        "alpha",
		URL:       "http://alpha.example:8080/dper.json",
		Format:    domain.FormatJSON,
		CachePath: filepath.Join(cacheDir, "alpha.json"),
	}, sources[0])
	assert.Equal(t, domain.FormatXML, sources[1].Format)
}

func TestLoad_ValidationErrors(t *testing.T) {
	path := writeConfig(t, `
output_format: bind
cache_dir: /nonexistent/dper-cache
peers:
  example:
    source: ftp://example.net/peers
    format: yaml
`)

	_, err := Load(path)
	require.Error(t, err)

	var ve *domain.ValidationError
	require.True(t, errors.As(err, &ve))

	got := errorStrings(err)
	assert.Contains(t, got, "output_format: must be one of: nsd knot")
	assert.Contains(t, got, "output_file: required key not provided")
	assert.Contains(t, got, "cache_dir: not a directory")
	assert.Contains(t, got, "peers.example.source: expected a fully qualified URL")
	assert.Contains(t, got, "peers.example.format: must be one of: xml json")
}

func TestLoad_MissingPeers(t *testing.T) {
	path := writeConfig(t, `
output_format: nsd
output_file: out.conf
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, errorStrings(err), "peers: required key not provided")
}

func TestLoad_ExtraKeys(t *testing.T) {
	path := writeConfig(t, `
output_format: nsd
output_file: out.conf
cache-dir: /tmp
peers:
  example:
    source: https://example.net/peers.json
    format: json
    timeout: 5
`)
	_, err := Load(path)
	require.Error(t, err)
	got := errorStrings(err)
	assert.Contains(t, got, "cache-dir: extra keys not allowed")
	assert.Contains(t, got, "peers.example.timeout: extra keys not allowed")
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, `
output_format: nsd
output_file: out.conf
zonefiles: true
peers:
  example:
    source: https://example.net/peers.json
    format: json
`)
	t.Setenv("DPER_OUTPUT_FILE", "/etc/nsd/override.conf")
	t.Setenv("DPER_ZONEFILES", "false")
	t.Setenv("DPER_UNRELATED", "ignored")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/etc/nsd/override.conf", cfg.OutputFile)
	assert.False(t, cfg.Zonefiles)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing.yaml")
}

func TestLoad_WhenEnvLoaderFails(t *testing.T) {
	path := writeConfig(t, `
output_format: nsd
output_file: out.conf
peers: {}
`)
	orig := envLoader
	envLoader = func(k *koanf.Koanf) error {
		return errors.New("mocked error")
	}
	defer func() { envLoader = orig }()

	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "mocked error") {
		t.Fatalf("expected mocked env error, got %v", err)
	}
}

func TestLoad_WhenRegisterValidationFails(t *testing.T) {
	path := writeConfig(t, `
output_format: nsd
output_file: out.conf
peers: {}
`)
	orig := registerValidation
	registerValidation = func(_ *validator.Validate) error {
		return errors.New("mocked register error")
	}
	defer func() { registerValidation = orig }()

	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "mocked register error") {
		t.Fatalf("expected register error, got %v", err)
	}
}

func TestFieldPath(t *testing.T) {
	assert.Equal(t, "peers.example.com.source", fieldPath("StaticConfig.peers[example.com].source"))
	assert.Equal(t, "output_file", fieldPath("StaticConfig.output_file"))
}
