package validator

import (
	"context"
	"log/slog"

	"github.com/rutlab/routertest/pkg/scenario"
	"github.com/rutlab/routertest/pkg/uci"
)

// CleanupReport describes one cleanup pass.
type CleanupReport struct {
	// Selected lists the section ids chosen for deletion, in table order.
	Selected []string `json:"selected"`

	// Deleted lists the ids that were removed.
	Deleted []string `json:"deleted"`

	// Failed maps ids to the error that prevented their deletion.
	Failed map[string]string `json:"failed,omitempty"`

	// Types records the section type read before deletion.
	Types map[string]string `json:"types"`

	// Committed is true when `uci commit data_sender` succeeded.
	Committed bool `json:"committed"`
}

// OK reports whether something was selected and the commit went through.
func (r *CleanupReport) OK() bool {
	return len(r.Selected) > 0 && r.Committed
}

// Cleaner deletes Data-to-Server sections left behind by a test.
type Cleaner struct {
	runner *uci.Runner
	logger *slog.Logger
}

// NewCleaner returns a Cleaner issuing commands through r.
func NewCleaner(r *uci.Runner, logger *slog.Logger) *Cleaner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cleaner{runner: r, logger: logger.With(slog.String("component", "cleanup"))}
}

// Cleanup runs CleanupSections and reports OK.
func (c *Cleaner) Cleanup(ctx context.Context, dts *scenario.DTSConfig, all bool) bool {
	return c.CleanupSections(ctx, dts, all).OK()
}

// CleanupSections selects sections of data_sender and deletes them one by
// one, then commits and restarts the service. Individual failures are
// recorded and do not stop the pass.
//
// With all set every section except settings is selected. Otherwise the
// pipeline of the scenario's instance is selected, falling back to all
// input and collection sections; without a scenario every input section is
// selected.
func (c *Cleaner) CleanupSections(ctx context.Context, dts *scenario.DTSConfig, all bool) *CleanupReport {
	report := &CleanupReport{
		Failed: make(map[string]string),
		Types:  make(map[string]string),
	}

	table, err := c.runner.Show(ctx, dtsPackage)
	if err != nil {
		c.logger.Error("reading data_sender failed", slog.Any("error", err))
		return report
	}

	switch {
	case all:
		report.Selected = selectAll(table)
	case dts != nil:
		report.Selected = selectInstance(table, dts.Instance())
		if len(report.Selected) == 0 {
			c.logger.Warn("no sections found for instance, deleting all input and collection sections",
				slog.String("instance", dts.Instance()))
			report.Selected = selectTypes(table, uci.TypeInput, uci.TypeCollection)
		}
	default:
		c.logger.Warn("no Data-to-Server scenario given, deleting all input sections")
		report.Selected = selectTypes(table, uci.TypeInput)
	}

	if len(report.Selected) == 0 {
		c.logger.Info("no sections found to delete")
		return report
	}

	for _, id := range report.Selected {
		loc := uci.Loc(dtsPackage, id, "")
		typ, err := c.runner.Run(ctx, uci.GetOrCmd(loc, "unknown"))
		if err != nil {
			typ = "unknown"
		}
		report.Types[id] = uci.Unquote(typ)

		if err := c.runner.Delete(ctx, loc); err != nil {
			report.Failed[id] = err.Error()
			c.logger.Error("deleting section failed", slog.String("section", id), slog.Any("error", err))
			continue
		}
		report.Deleted = append(report.Deleted, id)
		c.logger.Info("deleted section", slog.String("section", id), slog.String("type", report.Types[id]))
	}

	if err := c.runner.Commit(ctx, dtsPackage); err != nil {
		c.logger.Error("commit failed", slog.Any("error", err))
	} else {
		report.Committed = true
	}
	if _, err := c.runner.Service(ctx, dtsPackage, "restart"); err != nil {
		c.logger.Error("restarting data_sender failed", slog.Any("error", err))
	}

	c.logger.Info("cleanup finished",
		slog.Int("selected", len(report.Selected)),
		slog.Int("deleted", len(report.Deleted)),
		slog.Bool("committed", report.Committed))
	return report
}

func isSettings(s *uci.Section) bool {
	return s.ID == uci.TypeSettings || s.Type == uci.TypeSettings
}

func selectAll(t *uci.Table) []string {
	var ids []string
	for _, s := range t.Sections() {
		if !isSettings(s) {
			ids = append(ids, s.ID)
		}
	}
	return ids
}

func selectTypes(t *uci.Table, types ...string) []string {
	var ids []string
	for _, s := range t.Sections() {
		for _, typ := range types {
			if s.Type == typ {
				ids = append(ids, s.ID)
				break
			}
		}
	}
	return ids
}

// selectInstance returns the sections named instance, the collections
// referencing them, and every section those collections reference.
func selectInstance(t *uci.Table, instance string) []string {
	picked := make(map[string]bool)
	named := make(map[string]bool)
	for _, s := range t.Sections() {
		if v, ok := s.Get("name"); ok && v.String() == instance {
			named[s.ID] = true
			picked[s.ID] = true
		}
	}
	if len(named) == 0 {
		return nil
	}

	for _, s := range t.Sections() {
		refs := append(refsOf(s, uci.TypeInput), refsOf(s, uci.TypeOutput)...)
		linked := named[s.ID]
		for _, ref := range refs {
			if named[ref] {
				linked = true
			}
		}
		if !linked {
			continue
		}
		picked[s.ID] = true
		for _, ref := range refs {
			picked[ref] = true
		}
	}

	var ids []string
	for _, s := range t.Sections() {
		if picked[s.ID] && !isSettings(s) {
			ids = append(ids, s.ID)
		}
	}
	return ids
}

func refsOf(s *uci.Section, key string) []string {
	v, ok := s.Get(key)
	if !ok {
		return nil
	}
	return v.List()
}
