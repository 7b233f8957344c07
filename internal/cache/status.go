package cache

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/wesm/issuemirror/internal/models"
)

// StatusLabels is the canonical status vocabulary every repository carries
var StatusLabels = []string{
	"status.new",
	"status.accepted",
	"status.started",
	"status.fixed",
	"status.verified",
	"status.invalid",
	"status.duplicate",
	"status.wontfix",
	"status.done",
}

const (
	activeStatusColor   = "009800"
	resolvedStatusColor = "0052cc"
)

// StatusColor returns the color assigned to a canonical status label
func StatusColor(name string) string {
	for _, suffix := range []string{"new", "accepted", "started"} {
		if strings.HasSuffix(name, suffix) {
			return activeStatusColor
		}
	}
	return resolvedStatusColor
}

// BootstrapStatusLabels creates every canonical status label missing from
// labels. It returns labels extended with the ones created. A failed
// creation is skipped; the failures are joined into the returned error,
// which the caller should treat as non-fatal.
func (c *Cache) BootstrapStatusLabels(ctx context.Context, labels []*models.Label) ([]*models.Label, error) {
	present := make(map[string]struct{}, len(labels))
	for _, l := range labels {
		present[l.Name] = struct{}{}
	}

	out := slices.Clone(labels)
	var errs []error
	for _, name := range StatusLabels {
		if _, ok := present[name]; ok {
			continue
		}
		created, err := c.remote.CreateLabel(ctx, c.repoID, &models.Label{Name: name, Color: StatusColor(name)})
		if err != nil {
			c.logger.Warn("failed to create status label", "label", name, "err", err)
			errs = append(errs, fmt.Errorf("status label %s: %w", name, err))
			continue
		}
		out = append(out, created)
	}
	return out, errors.Join(errs...)
}
