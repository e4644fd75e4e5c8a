package types

import (
	"encoding/json"
	"fmt"
	"strings"
)

type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "WARNING"
	case SeverityError:
		return "ERROR"
	default:
		return "INFO"
	}
}

func (s Severity) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Severity) UnmarshalJSON(data []byte) error {
	var v string
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch v {
	case "WARNING":
		*s = SeverityWarning
	case "ERROR":
		*s = SeverityError
	default:
		*s = SeverityInfo
	}
	return nil
}

// Diagnostic ids. Every Message carries one of these so reports can be filtered by machine.
const (
	DiagDownloaded                = "Downloaded"
	DiagPomWasNotFound            = "PomWasNotFound"
	DiagModuleFileNotDownloaded   = "ModuleFileNotDownloaded"
	DiagPomProvidedMetadataNeeded = "PomProvidedButMetadataRequired"
	DiagUnableToParsePom          = "UnableToParsePom"
	DiagUnableToParseMetadata     = "UnableToParseMetadata"
	DiagMoreThanTenAncestors      = "ProjectHasMoreThanTenAncestors"
	DiagHashesMismatch            = "HashesMismatch"
	DiagContentLengthMismatch     = "ContentLengthMismatch"
	DiagUnableToReachURL          = "UnableToReachURL"
	DiagUnableToSaveFile          = "UnableToSaveDownloadedFile"
	DiagUnableToDownloadChecksums = "UnableToDownloadChecksums"
	DiagUnableToResolveDependency = "UnableToResolveDependency"
	DiagUnresolvedVersion         = "DependencyVersionIsNotResolved"
	DiagNoVariantForPlatform      = "NoVariantForPlatform"
	DiagMoreThanOneVariant        = "MoreThanOneVariant"
	DiagKotlinMetadataMissing     = "KotlinMetadataMissing"
	DiagKotlinMetadataHashMissing = "KotlinMetadataHashNotResolved"
	DiagKotlinProjectStructure    = "KotlinProjectStructureMetadataMissing"
	DiagKotlinRepackagingFailed   = "FailedRepackagingKMPLibrary"
	DiagKotlinDependencyFormat    = "KotlinLibraryDependencyUnexpectedFormat"
	DiagUnsupportedBom            = "UnsupportedBom"
	DiagCapabilitiesConflict      = "CapabilitiesRejected"
	DiagFileMissingOnDisk         = "FileMissingOnDisk"
)

// Message is a diagnostic attached to a node or a file.
type Message struct {
	ID         string    `json:"id"`
	Text       string    `json:"text"`
	Extra      string    `json:"extra,omitempty"`
	Severity   Severity  `json:"severity"`
	Err        error     `json:"-"`
	Suppressed []Message `json:"suppressed,omitempty"`
}

func NewMessage(id string, severity Severity, format string, args ...interface{}) Message {
	return Message{ID: id, Severity: severity, Text: fmt.Sprintf(format, args...)}
}

func (m Message) WithExtra(extra string) Message {
	m.Extra = extra
	return m
}

func (m Message) WithErr(err error) Message {
	m.Err = err
	return m
}

// WithSeverity returns a copy with the severity replaced.
func (m Message) WithSeverity(s Severity) Message {
	m.Severity = s
	return m
}

func (m Message) String() string {
	var b strings.Builder
	m.write(&b, "")
	return b.String()
}

func (m Message) write(b *strings.Builder, indent string) {
	b.WriteString(indent)
	b.WriteString(m.Severity.String())
	b.WriteString(": ")
	b.WriteString(m.Text)
	if m.Extra != "" {
		b.WriteString(" (")
		b.WriteString(m.Extra)
		b.WriteString(")")
	}
	for _, s := range m.Suppressed {
		b.WriteString("\n")
		s.write(b, indent+"  caused by ")
	}
}

// MaxSeverity returns the highest severity among messages, or SeverityInfo for none.
func MaxSeverity(messages []Message) Severity {
	max := SeverityInfo
	for _, m := range messages {
		if m.Severity > max {
			max = m.Severity
		}
	}
	return max
}
