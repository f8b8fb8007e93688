// Package upgrade brings repositories created by older releases up to
// date before shredding resumes.
package upgrade

import (
	"context"
	"fmt"
	"strings"

	"github.com/hurou927/xmlshred/internal/repository"
)

// Upgrade is an idempotent repository fix. It is required when Check
// returns at least one row.
type Upgrade struct {
	Name       string
	Check      string
	Statements []string
}

// Prober runs check queries.
type Prober interface {
	Exists(ctx context.Context, query string) (bool, error)
}

// Checklist is an ordered list of upgrades.
type Checklist []Upgrade

// For returns the upgrades that apply to a repository of the given model.
// The embedded XML reprocessing step is included only when redoQuery
// selects the documents to reprocess.
func For(keyValue bool, redoQuery string) Checklist {
	list := Checklist{documentIDType}
	if keyValue {
		list = append(list, longestValue, numberToText)
	}
	if strings.TrimSpace(redoQuery) != "" {
		list = append(list, embeddedXML(keyValue, redoQuery))
	}
	return list
}

// Pending returns the upgrades whose check reports work to do.
func (c Checklist) Pending(ctx context.Context, p Prober) (Checklist, error) {
	var pending Checklist
	for _, u := range c {
		required, err := p.Exists(ctx, u.Check)
		if err != nil {
			return nil, fmt.Errorf("checking upgrade %s: %w", u.Name, err)
		}
		if required {
			pending = append(pending, u)
		}
	}
	return pending, nil
}

// Apply runs every upgrade of c inside tx. The caller commits.
func (c Checklist) Apply(ctx context.Context, tx repository.Tx) error {
	for _, u := range c {
		for _, stmt := range u.Statements {
			if err := tx.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("applying upgrade %s: %w", u.Name, err)
			}
		}
	}
	return nil
}

// Names lists the upgrade names in order.
func (c Checklist) Names() []string {
	names := make([]string, len(c))
	for i, u := range c {
		names[i] = u.Name
	}
	return names
}
