package export

import (
	"context"
	"log/slog"

	ldapclient "github.com/isometry/ldif-export/internal/ldap"
	"github.com/isometry/ldif-export/internal/ldif"
)

// Tally counts lookups by classification.
type Tally struct {
	Rich   int
	Sparse int
}

// Total returns the number of identifiers processed.
func (t Tally) Total() int {
	return t.Rich + t.Sparse
}

func (t *Tally) add(class ldif.Class) {
	if class == ldif.Rich {
		t.Rich++
	} else {
		t.Sparse++
	}
}

// Reporter receives the operator-facing progress of a run.
type Reporter interface {
	// Entry is called once per identifier, in order, after its block was appended.
	Entry(ctx context.Context, uid string, class ldif.Class, lines int)
	// LookupFailed is called when a lookup failed in a way that does not stop the run.
	LookupFailed(ctx context.Context, uid string, err error)
	// Nothing is called when there are no identifiers to look up.
	Nothing(ctx context.Context)
	// Done is called once with the final tally.
	Done(ctx context.Context, path string, tally Tally)
}

// LogReporter reports through a structured logger: rich entries at info,
// sparse entries and recovered lookup failures at warn.
type LogReporter struct {
	logger *slog.Logger
}

// NewLogReporter creates a reporter writing to logger.
func NewLogReporter(logger *slog.Logger) *LogReporter {
	return &LogReporter{logger: logger}
}

func (r *LogReporter) Entry(ctx context.Context, uid string, class ldif.Class, lines int) {
	if class == ldif.Rich {
		r.logger.InfoContext(ctx, "entry exported", "uid", uid, "lines", lines)
		return
	}
	r.logger.WarnContext(ctx, "entry sparse", "uid", uid, "lines", lines)
}

func (r *LogReporter) LookupFailed(ctx context.Context, uid string, err error) {
	if ldapclient.IsNotFoundError(err) {
		r.logger.WarnContext(ctx, "search base not found", "uid", uid, "error", err)
		return
	}
	r.logger.WarnContext(ctx, "lookup failed", "uid", uid, "error", err)
}

func (r *LogReporter) Nothing(ctx context.Context) {
	r.logger.InfoContext(ctx, "no identifiers to export")
}

func (r *LogReporter) Done(ctx context.Context, path string, tally Tally) {
	r.logger.InfoContext(ctx, "export complete",
		"ok", tally.Rich,
		"warn", tally.Sparse,
		"total", tally.Total(),
		"path", path)
}
