// Package mavenmeta reads maven-metadata.xml files.
package mavenmeta

import (
	"encoding/xml"
	"fmt"
)

const FileName = "maven-metadata.xml"

type Metadata struct {
	XMLName    xml.Name   `xml:"metadata"`
	GroupID    string     `xml:"groupId"`
	ArtifactID string     `xml:"artifactId"`
	Version    string     `xml:"version,omitempty"`
	Versioning Versioning `xml:"versioning"`
}

type Versioning struct {
	Latest           string            `xml:"latest,omitempty"`
	Release          string            `xml:"release,omitempty"`
	Versions         []string          `xml:"versions>version"`
	LastUpdated      string            `xml:"lastUpdated,omitempty"`
	Snapshot         *Snapshot         `xml:"snapshot"`
	SnapshotVersions []SnapshotVersion `xml:"snapshotVersions>snapshotVersion"`
}

type Snapshot struct {
	Timestamp   string `xml:"timestamp"`
	BuildNumber string `xml:"buildNumber"`
	LocalCopy   string `xml:"localCopy"`
}

type SnapshotVersion struct {
	Classifier string `xml:"classifier,omitempty"`
	Extension  string `xml:"extension"`
	Value      string `xml:"value"`
	Updated    string `xml:"updated"`
}

func Parse(data []byte) (*Metadata, error) {
	var m Metadata
	if err := xml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", FileName, err)
	}
	return &m, nil
}

// SnapshotValue returns the timestamped version published for an extension without a classifier.
func (m *Metadata) SnapshotValue(extension string) (string, bool) {
	for _, sv := range m.Versioning.SnapshotVersions {
		if sv.Extension == extension && sv.Classifier == "" && sv.Value != "" {
			return sv.Value, true
		}
	}
	for _, sv := range m.Versioning.SnapshotVersions {
		if sv.Extension == extension && sv.Value != "" {
			return sv.Value, true
		}
	}
	return "", false
}
