// Package installer runs a resolution session end to end: build the graph, download the
// artifacts and report what happened.
package installer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"

	"depres/pkg/graph"
	"depres/pkg/log"
	"depres/pkg/maven"
	"depres/pkg/resolver"
	"depres/pkg/solver"
	"depres/pkg/types"
)

// ErrUnresolved is returned when the graph carries error diagnostics after the run.
var ErrUnresolved = errors.New("dependencies could not be resolved")

type Options struct {
	Level      types.ResolutionLevel
	Transitive bool
	// Download fetches the artifacts once the graph is built.
	Download bool
}

type Installer struct {
	session  *maven.Session
	requests []maven.Request
	Resolver *resolver.Resolver
}

func NewInstaller(session *maven.Session, requests []maven.Request) *Installer {
	root := session.Root("root", requests...)
	conflicts := solver.NewConflictResolver(session.Settings.Strategies...)
	return &Installer{
		session:  session,
		requests: requests,
		Resolver: resolver.New(root, conflicts, session.Settings.DownloadSources),
	}
}

func (i *Installer) Session() *maven.Session { return i.session }

// Close releases the session.
func (i *Installer) Close() error { return i.session.Close() }

// Report is the outcome of a run.
type Report struct {
	Requests  []string         `json:"requests"`
	Level     string           `json:"level"`
	Paths     []string         `json:"paths,omitempty"`
	Conflicts []ConflictReport `json:"conflicts,omitempty"`
	Messages  []NodeMessages   `json:"messages,omitempty"`
}

type ConflictReport struct {
	Library  string   `json:"library"`
	Versions []string `json:"versions"`
	Selected string   `json:"selected"`
	Strategy string   `json:"strategy"`
}

type NodeMessages struct {
	Node     string          `json:"node"`
	Messages []types.Message `json:"messages"`
}

// HasErrors reports whether any node carries an error diagnostic.
func (r *Report) HasErrors() bool {
	for _, n := range r.Messages {
		if types.MaxSeverity(n.Messages) >= types.SeverityError {
			return true
		}
	}
	return false
}

// Install resolves the requested dependencies and, when asked, downloads them. The report is
// returned along with ErrUnresolved when a node carries an error diagnostic.
func (i *Installer) Install(ctx context.Context, opts Options) (*Report, error) {
	log.Info("Starting resolution", map[string]interface{}{
		"requests":   len(i.requests),
		"level":      opts.Level.String(),
		"transitive": opts.Transitive,
		"scope":      string(i.session.Settings.Scope),
	})

	if err := i.Resolver.BuildGraph(ctx, opts.Level, opts.Transitive); err != nil {
		log.Error("Failed to build dependency graph", err, nil)
		return nil, err
	}

	report := &Report{Level: opts.Level.String()}
	for _, r := range i.requests {
		report.Requests = append(report.Requests, r.String())
	}
	if opts.Download {
		if err := i.Resolver.DownloadDependencies(ctx); err != nil {
			log.Error("Failed to download dependencies", err, nil)
			return nil, err
		}
		report.Paths = i.Resolver.DependencyPaths()
	}

	for _, c := range i.Resolver.Conflicts.Conflicts() {
		report.Conflicts = append(report.Conflicts, ConflictReport{
			Library:  c.Key,
			Versions: c.Versions,
			Selected: c.Selected,
			Strategy: c.Strategy,
		})
	}
	for n, messages := range i.Resolver.Messages(types.SeverityWarning) {
		report.Messages = append(report.Messages, NodeMessages{Node: n.GraphEntryName(), Messages: messages})
	}
	sort.Slice(report.Messages, func(a, b int) bool { return report.Messages[a].Node < report.Messages[b].Node })

	log.Info("Resolution finished", map[string]interface{}{
		"nodes":     len(graph.DistinctBFS(i.Resolver.Root, nil)),
		"conflicts": len(report.Conflicts),
		"paths":     len(report.Paths),
	})
	if report.HasErrors() {
		return report, ErrUnresolved
	}
	return report, nil
}

// WriteReport prints the report as indented JSON or as text.
func WriteReport(w io.Writer, r *Report, jsonOutput bool) error {
	if jsonOutput {
		data, err := json.MarshalIndent(r, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	}

	for _, c := range r.Conflicts {
		fmt.Fprintf(w, "- Conflict at '%s':\n", c.Library)
		fmt.Fprintf(w, "  Versions requested: %v\n", c.Versions)
		fmt.Fprintf(w, "  Selected by %s: %s\n", c.Strategy, c.Selected)
	}
	for _, n := range r.Messages {
		fmt.Fprintf(w, "%s:\n", n.Node)
		for _, m := range n.Messages {
			fmt.Fprintf(w, "  %s\n", m.String())
		}
	}
	for _, p := range r.Paths {
		fmt.Fprintln(w, p)
	}
	if r.HasErrors() {
		_, err := fmt.Fprintln(w, "Error: some dependencies could not be resolved")
		return err
	}
	return nil
}
