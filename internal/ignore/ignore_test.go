package ignore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIgnoreMatch(t *testing.T) {
	dir := t.TempDir()
	ig := filepath.Join(dir, FileName)
	content := "node_modules/\n*.pem\n# comment\n\nsecret.env\n"
	if err := os.WriteFile(ig, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	m, err := Load(ig)
	if err != nil {
		t.Fatal(err)
	}
	cases := map[string]bool{
		"node_modules/pkg/index.js": true,
		"certs/key.pem":             true,
		"secret.env":                true,
		"src/app.go":                false,
	}
	for p, want := range cases {
		if got := m.Match(p); got != want {
			t.Fatalf("Match(%q)=%v want %v", p, got, want)
		}
	}
}

func TestLoadRoot_MergesGitignore(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".gitignore"), []byte("dist/\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte("fixtures/*.json\n"), 0644))

	m, err := LoadRoot(dir)
	require.NoError(t, err)
	require.True(t, m.Match("dist/app.js"))
	require.True(t, m.Match("fixtures/keys.json"))
	require.False(t, m.Match("src/keys.json"))
}

func TestLoad_MissingFilesIgnoreNothing(t *testing.T) {
	m, err := LoadRoot(t.TempDir())
	require.NoError(t, err)
	require.False(t, m.Match("anything"))
	require.False(t, Matcher{}.Match("anything"))
}

func TestMatcherUnder(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".gitignore"), []byte("/sub/gen/\n*.log\n"), 0644))

	m, err := LoadRoot(dir)
	require.NoError(t, err)
	sub := m.Under("sub")
	require.True(t, sub.Match("gen/out.txt"))
	require.True(t, sub.Match("app.log"))
	require.False(t, sub.Match("src/main.go"))
	require.False(t, m.Under(".").Match("gen/out.txt"))
	require.False(t, Matcher{}.Under("sub").Match("gen/out.txt"))
}
