package entropyscan

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redactyl/entropyscan/internal/config"
	"github.com/redactyl/entropyscan/internal/lsp"
	"github.com/redactyl/entropyscan/internal/report"
	"github.com/redactyl/entropyscan/internal/signature"
)

const secretB64 = "aGVsbG93b3JsZGFiY2RlZmdoaWprbG1ub3BxcnN0dXZ3eHl6MTIzNDU2Nzg="

func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	c.PersistentFlags().VisitAll(reset)
	c.Flags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	resetFlags(rootCmd)
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func secretWorkspace(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "secrets.txt"), []byte("k="+secretB64+"\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "readme.md"), []byte("nothing to see here\n"), 0o644))
	return dir
}

func decodeJSON(t *testing.T, out string) report.JSONReport {
	t.Helper()
	var rep report.JSONReport
	require.NoError(t, json.Unmarshal([]byte(out), &rep), out)
	return rep
}

func TestScan_JSON(t *testing.T) {
	dir := secretWorkspace(t)
	out, err := execute(t, "", "scan", "--json", "-p", dir)
	require.NoError(t, err)

	rep := decodeJSON(t, out)
	require.Len(t, rep.Findings, 1)
	f := rep.Findings[0]
	assert.Equal(t, "secrets.txt", f.Path)
	assert.Equal(t, "base64", f.Reason)
	assert.Equal(t, 1, f.Line)
	assert.Equal(t, signature.Of(f.Match, "secrets.txt"), f.Signature)
	require.NotNil(t, rep.Stats)
	assert.Equal(t, 2, rep.Stats.FilesScanned)
}

func TestScan_FailExitCode(t *testing.T) {
	dir := secretWorkspace(t)
	_, err := execute(t, "", "scan", "--json", "--fail", "-p", dir)
	require.ErrorIs(t, err, errFindings)
	assert.Equal(t, 1, exitCode(err))

	clean := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(clean, "a.txt"), []byte("plain words only\n"), 0o644))
	_, err = execute(t, "", "scan", "--json", "--fail", "-p", clean)
	require.NoError(t, err)
}

func TestScan_FailFromLocalConfig(t *testing.T) {
	dir := secretWorkspace(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".entropyscan.yml"), []byte("fail: true\n"), 0o644))
	_, err := execute(t, "", "scan", "--json", "-p", dir)
	require.ErrorIs(t, err, errFindings)
}

func TestScan_SARIF(t *testing.T) {
	dir := secretWorkspace(t)
	out, err := execute(t, "", "scan", "--sarif", "-p", dir)
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &doc), out)
	assert.Equal(t, "2.1.0", doc["version"])
	assert.Contains(t, out, report.SARIFFingerprintKey)
}

func TestScan_TableAndText(t *testing.T) {
	dir := secretWorkspace(t)
	out, err := execute(t, "", "scan", "-p", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "secrets.txt")
	assert.NotContains(t, out, secretB64)

	out, err = execute(t, "", "scan", "--text", "--show-match", "-p", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "secrets.txt:1:1")
	assert.Contains(t, out, secretB64)
}

func TestScan_Stdin(t *testing.T) {
	dir := t.TempDir()
	text := "token: " + secretB64 + "\n"

	out, err := execute(t, text, "scan", "--stdin", "--json", "--stdin-path", "conf/app.yml", "-p", dir)
	require.NoError(t, err)
	rep := decodeJSON(t, out)
	require.Len(t, rep.Findings, 1)
	assert.Equal(t, "conf/app.yml", rep.Findings[0].Path)
	assert.Equal(t, signature.Of(secretB64, "conf/app.yml"), rep.Findings[0].Signature)
	assert.Nil(t, rep.Stats)

	out, err = execute(t, text, "scan", "--stdin", "--json", "-p", dir)
	require.NoError(t, err)
	rep = decodeJSON(t, out)
	require.Len(t, rep.Findings, 1)
	assert.Empty(t, rep.Findings[0].Signature)
}

func TestExcludeAdd_SuppressesFinding(t *testing.T) {
	dir := secretWorkspace(t)
	out, err := execute(t, "", "scan", "--json", "-p", dir)
	require.NoError(t, err)
	rep := decodeJSON(t, out)
	require.Len(t, rep.Findings, 1)
	sig := rep.Findings[0].Signature

	out, err = execute(t, "", "exclude", "add", sig, "-p", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "Added 1 signature(s)")
	assert.FileExists(t, filepath.Join(dir, config.TartufoFile))

	out, err = execute(t, "", "exclude", "add", sig, "-p", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "Added 0 signature(s)")

	out, err = execute(t, "", "scan", "--json", "-p", dir)
	require.NoError(t, err)
	rep = decodeJSON(t, out)
	assert.Empty(t, rep.Findings)
	assert.Equal(t, 1, rep.Stats.Suppressed)

	out, err = execute(t, "", "exclude", "list", "-p", dir)
	require.NoError(t, err)
	assert.Contains(t, out, sig)
}

func TestScan_TableSignatureCanBeExcluded(t *testing.T) {
	dir := secretWorkspace(t)
	sig := signature.Of("k="+secretB64, "secrets.txt")
	out, err := execute(t, "", "scan", "-p", dir)
	require.NoError(t, err)
	require.Contains(t, out, sig)

	_, err = execute(t, "", "exclude", "add", sig, "-p", dir)
	require.NoError(t, err)
	out, err = execute(t, "", "scan", "--json", "-p", dir)
	require.NoError(t, err)
	assert.Empty(t, decodeJSON(t, out).Findings)
}

func TestExcludeAdd_RejectsInvalidSignature(t *testing.T) {
	_, err := execute(t, "", "exclude", "add", "not-a-signature", "-p", t.TempDir())
	require.Error(t, err)
	assert.Equal(t, 2, exitCode(err))
}

func TestExcludeAdd_ExclusionsFileOverride(t *testing.T) {
	dir := secretWorkspace(t)
	sig := signature.Of("k="+secretB64, "secrets.txt")
	_, err := execute(t, "", "exclude", "add", sig, "--exclusions-file", "ci/exclusions.toml", "-p", dir)
	require.Error(t, err, "parent directory does not exist yet")

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "ci"), 0o755))
	_, err = execute(t, "", "exclude", "add", sig, "--exclusions-file", "ci/exclusions.toml", "-p", dir)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, "ci", "exclusions.toml"))
	assert.NoFileExists(t, filepath.Join(dir, config.TartufoFile))
}

func TestExcludeBaseline(t *testing.T) {
	dir := secretWorkspace(t)
	out, err := execute(t, "", "exclude", "baseline", "-p", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "Added 1 signature(s)")

	out, err = execute(t, "", "scan", "--json", "--fail", "-p", dir)
	require.NoError(t, err)
	rep := decodeJSON(t, out)
	assert.Empty(t, rep.Findings)
	assert.Equal(t, 1, rep.Stats.PathExcluded, "tartufo.toml excludes itself")

	out, err = execute(t, "", "exclude", "baseline", "-p", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "nothing to exclude")
}

func TestExcludeList_NoFile(t *testing.T) {
	out, err := execute(t, "", "exclude", "list", "-p", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "No exclusion file found")
}

func TestSignatureCommand(t *testing.T) {
	out, err := execute(t, "", "signature", secretB64, "conf/app.yml")
	require.NoError(t, err)
	assert.Equal(t, signature.Of(secretB64, "conf/app.yml")+"\n", out)

	_, err = execute(t, "", "signature", secretB64, "/abs/app.yml")
	require.Error(t, err)
}

func TestConfigInit(t *testing.T) {
	out := filepath.Join(t.TempDir(), ".entropyscan.yml")
	_, err := execute(t, "", "config", "init", "--output", out, "--threads", "4", "--tracked", "--exclusions-file", "ci/ex.toml")
	require.NoError(t, err)

	fc, err := config.LoadFile(out)
	require.NoError(t, err)
	require.NotNil(t, fc.Threads)
	assert.Equal(t, 4, *fc.Threads)
	require.NotNil(t, fc.Tracked)
	assert.True(t, *fc.Tracked)
	require.NotNil(t, fc.ExclusionsFile)
	assert.Equal(t, "ci/ex.toml", *fc.ExclusionsFile)
	assert.Nil(t, fc.Include)

	_, err = execute(t, "", "config", "init", "--output", out)
	require.Error(t, err)
	_, err = execute(t, "", "config", "init", "--output", out, "--force")
	require.NoError(t, err)
}

func TestCompletion(t *testing.T) {
	out, err := execute(t, "", "completion", "bash")
	require.NoError(t, err)
	assert.Contains(t, out, "entropyscan")

	_, err = execute(t, "", "completion", "tcsh")
	require.Error(t, err)
}

func TestInvalidLogLevel(t *testing.T) {
	_, err := execute(t, "", "signature", "a", "b", "--log-level", "loud")
	require.Error(t, err)
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, exitCode(nil))
	assert.Equal(t, 1, exitCode(errFindings))
	assert.Equal(t, 1, exitCode(lsp.ErrExitWithoutShutdown))
	assert.Equal(t, 2, exitCode(errors.New("boom")))
}

func TestPickers(t *testing.T) {
	s := func(v string) *string { return &v }
	i := func(v int) *int { return &v }
	b := func(v bool) *bool { return &v }

	assert.Equal(t, "cli", pickString("cli", s("local"), s("global")))
	assert.Equal(t, "local", pickString("", s("local"), s("global")))
	assert.Equal(t, "global", pickString("", nil, s("global")))
	assert.Equal(t, "", pickString("", nil, nil))

	assert.Equal(t, 3, pickInt(3, i(2), i(1)))
	assert.Equal(t, 2, pickInt(0, i(2), i(1)))
	assert.Equal(t, 1, pickInt(0, i(0), i(1)))

	var n int64 = 7
	assert.Equal(t, int64(7), pickInt64(0, nil, &n))

	assert.True(t, pickBool(true, b(false), nil))
	assert.False(t, pickBool(false, b(false), b(true)))
	assert.True(t, pickBool(false, nil, b(true)))
	assert.False(t, pickBool(false, nil, nil))
}
