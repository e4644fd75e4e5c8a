package mavenmeta

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const snapshotMetadata = `<?xml version="1.0" encoding="UTF-8"?>
<metadata modelVersion="1.1.0">
  <groupId>org.example</groupId>
  <artifactId>lib</artifactId>
  <version>1.0-SNAPSHOT</version>
  <versioning>
    <snapshot><timestamp>20240102.030405</timestamp><buildNumber>7</buildNumber></snapshot>
    <lastUpdated>20240102030405</lastUpdated>
    <snapshotVersions>
      <snapshotVersion><classifier>sources</classifier><extension>jar</extension><value>1.0-20240101.000000-6</value></snapshotVersion>
      <snapshotVersion><extension>jar</extension><value>1.0-20240102.030405-7</value></snapshotVersion>
      <snapshotVersion><extension>pom</extension><value>1.0-20240102.030405-7</value></snapshotVersion>
    </snapshotVersions>
  </versioning>
</metadata>`

func TestParseSnapshotMetadata(t *testing.T) {
	m, err := Parse([]byte(snapshotMetadata))
	require.NoError(t, err)
	assert.Equal(t, "org.example", m.GroupID)
	require.NotNil(t, m.Versioning.Snapshot)
	assert.Equal(t, "7", m.Versioning.Snapshot.BuildNumber)

	v, ok := m.SnapshotValue("jar")
	require.True(t, ok)
	assert.Equal(t, "1.0-20240102.030405-7", v)

	_, ok = m.SnapshotValue("module")
	assert.False(t, ok)
}

func TestParseReleaseListing(t *testing.T) {
	m, err := Parse([]byte(`<metadata><groupId>g</groupId><artifactId>a</artifactId>
<versioning><latest>2.0</latest><release>2.0</release><versions><version>1.0</version><version>2.0</version></versions></versioning></metadata>`))
	require.NoError(t, err)
	assert.Equal(t, []string{"1.0", "2.0"}, m.Versioning.Versions)
	assert.Equal(t, "2.0", m.Versioning.Release)
}
