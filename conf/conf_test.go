package conf

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const coreSite = `<?xml version="1.0"?>
<configuration>
  <property>
    <name>fs.default.name</name>
    <value>hdfs://master:54310/</value>
    <final>true</final>
  </property>
  <property>
    <name>hadoop.tmp.dir</name>
    <value>/tmp/hadoop/tmp</value>
  </property>
</configuration>
`

const mapredSite = `<?xml version="1.0"?>
<configuration>
  <property>
    <name>mapred.job.tracker</name>
    <value>master:54311</value>
  </property>
</configuration>
`

func writeBundleFiles(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "core-site.xml"), []byte(coreSite), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "mapred-site.xml"), []byte(mapredSite), 0o644))
	return dir
}

func loadTestBundle(t *testing.T, dir string) *Bundle {
	t.Helper()
	b, err := Load([]string{
		filepath.Join(dir, "core-site.xml"),
		filepath.Join(dir, "mapred-site.xml"),
	}, "mapred-site.xml")
	require.NoError(t, err)
	return b
}

func TestParsePreservesOrderAndFinal(t *testing.T) {
	f, err := Parse("core-site.xml", bytes.NewBufferString(coreSite))
	require.NoError(t, err)

	require.Len(t, f.Properties, 2)
	assert.Equal(t, "fs.default.name", f.Properties[0].Name)
	assert.True(t, f.Properties[0].Final)
	assert.Equal(t, "hadoop.tmp.dir", f.Properties[1].Name)
	assert.False(t, f.Properties[1].Final)
}

func TestRoundTrip(t *testing.T) {
	dir := writeBundleFiles(t)
	b := loadTestBundle(t, dir)

	out := t.TempDir()
	require.NoError(t, b.Save(out))

	reloaded, err := Load([]string{
		filepath.Join(out, "core-site.xml"),
		filepath.Join(out, "mapred-site.xml"),
	}, "mapred-site.xml")
	require.NoError(t, err)

	for i, f := range b.Files {
		assert.Equal(t, f.Properties, reloaded.Files[i].Properties, f.Name)
	}
}

func TestSetOrAppendReplacesInPlace(t *testing.T) {
	dir := writeBundleFiles(t)
	b := loadTestBundle(t, dir)

	found, err := b.SetOrAppend("hadoop.tmp.dir", "/data/tmp", true)
	require.NoError(t, err)
	assert.True(t, found)

	// replaced in place, not appended
	core := b.File("core-site.xml")
	require.Len(t, core.Properties, 2)
	assert.Equal(t, "/data/tmp", core.Properties[1].Value)
	assert.True(t, core.Properties[1].Final)
	assert.Len(t, b.File("mapred-site.xml").Properties, 1)
}

func TestSetOrAppendFallsBackToDesignatedFile(t *testing.T) {
	dir := writeBundleFiles(t)
	b := loadTestBundle(t, dir)

	found, err := b.SetOrAppend("x.y.z", "42", false)
	require.NoError(t, err)
	assert.False(t, found)

	v, ok := b.File("mapred-site.xml").Lookup("x.y.z")
	assert.True(t, ok)
	assert.Equal(t, "42", v)
}

func TestSetOrAppendIsIdempotent(t *testing.T) {
	dir := writeBundleFiles(t)
	b := loadTestBundle(t, dir)

	_, err := b.SetOrAppend("x.y.z", "42", false)
	require.NoError(t, err)
	once := b.File("mapred-site.xml").Properties

	_, err = b.SetOrAppend("x.y.z", "42", false)
	require.NoError(t, err)
	assert.Equal(t, once, b.File("mapred-site.xml").Properties)
}

func TestLookupOmitsMissingKeys(t *testing.T) {
	dir := writeBundleFiles(t)
	b := loadTestBundle(t, dir)

	got := b.Lookup([]string{"mapred.job.tracker", "no.such.key"})
	assert.Equal(t, map[string]string{"mapred.job.tracker": "master:54311"}, got)
}

func TestFirstFileWinsOnDuplicateKeys(t *testing.T) {
	// The same key in two files should not happen by construction, but must
	// be tolerated: the first file in scan order wins for read and write.
	first := &File{Name: "a.xml", Properties: []Property{{Name: "dup", Value: "one"}}}
	second := &File{Name: "b.xml", Properties: []Property{{Name: "dup", Value: "two"}}}
	b := &Bundle{Files: []*File{first, second}, Fallback: "b.xml"}

	got := b.Lookup([]string{"dup"})
	assert.Equal(t, "one", got["dup"])

	found, err := b.SetOrAppend("dup", "three", false)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "three", first.Properties[0].Value)
	assert.Equal(t, "two", second.Properties[0].Value)
}

func TestSetOrAppendWithoutFallbackFile(t *testing.T) {
	b := &Bundle{Files: []*File{{Name: "a.xml"}}, Fallback: "missing.xml"}
	_, err := b.SetOrAppend("k", "v", false)
	assert.Error(t, err)
}
