// Package export drives an LDIF export: it owns the output file, performs one
// directory lookup per identifier and appends the normalized results in order.
package export

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"

	"github.com/go-ldap/ldap/v3"

	ldapclient "github.com/isometry/ldif-export/internal/ldap"
	"github.com/isometry/ldif-export/internal/ldif"
)

// DefaultOutputPath is used when no output path is configured.
const DefaultOutputPath = "out.ldif"

// outputFileMode is the permission of a newly created export file.
const outputFileMode fs.FileMode = 0o644

// Directory is the directory session an export runs against.
type Directory interface {
	Connect(ctx context.Context) error
	LookupUID(ctx context.Context, uid string) ([]*ldap.Entry, error)
	Close() error
}

// Options configures a Driver.
type Options struct {
	// OutputPath is the export file. It must not exist yet.
	OutputPath string
	// Threshold is the number of non-empty lines a block must exceed to be rich.
	Threshold int
}

// DefaultOptions returns the default driver options.
func DefaultOptions() Options {
	return Options{
		OutputPath: DefaultOutputPath,
		Threshold:  ldif.DefaultRichThreshold,
	}
}

// Driver runs one export.
type Driver struct {
	dir      Directory
	reporter Reporter
	opts     Options
}

// NewDriver creates a new export driver.
func NewDriver(dir Directory, reporter Reporter, opts Options) *Driver {
	if opts.OutputPath == "" {
		opts.OutputPath = DefaultOutputPath
	}
	return &Driver{
		dir:      dir,
		reporter: reporter,
		opts:     opts,
	}
}

// Run exports the entries selected by ids and returns the tally.
//
// The output file is created before the directory is contacted. If it already
// exists, Run fails with KindAlreadyExists and leaves it untouched. If the
// directory cannot be reached the new file is removed again. Any later failure
// keeps the partial export on disk.
func (d *Driver) Run(ctx context.Context, ids []string) (Tally, error) {
	path := d.opts.OutputPath

	out, err := createExclusive(path)
	if err != nil {
		return Tally{}, err
	}

	if _, err := io.WriteString(out, ldif.Preamble); err != nil {
		return Tally{}, discard(out, NewError(KindIO, "write preamble to", path, err))
	}

	if err := d.dir.Connect(ctx); err != nil {
		kind := KindConnectionUnavailable
		if ctx.Err() != nil {
			kind = KindInterrupted
		}
		return Tally{}, discard(out, NewError(kind, "connect to directory for", path, err))
	}
	defer d.dir.Close()

	tally, err := d.export(ctx, out, ids)
	if err != nil {
		out.Close()
		return tally, err
	}

	d.reporter.Done(ctx, path, tally)

	if err := out.Close(); err != nil {
		return tally, NewError(KindIO, "close", path, err)
	}

	return tally, nil
}

// export performs the lookups and appends one block per identifier.
func (d *Driver) export(ctx context.Context, out io.Writer, ids []string) (Tally, error) {
	var tally Tally
	path := d.opts.OutputPath

	if len(ids) == 0 {
		if _, err := io.WriteString(out, ldif.NothingToShow+"\n"); err != nil {
			return tally, NewError(KindIO, "write", path, err)
		}
		d.reporter.Nothing(ctx)
		return tally, nil
	}

	for _, uid := range ids {
		if err := ctx.Err(); err != nil {
			return tally, NewError(KindInterrupted, "export to", path, err)
		}

		entries, err := d.dir.LookupUID(ctx, uid)
		if err != nil {
			switch {
			case ctx.Err() != nil:
				return tally, NewError(KindInterrupted, "export to", path, ctx.Err())
			case ldapclient.IsConnectionError(err):
				return tally, NewError(KindConnectionUnavailable, "lookup uid="+uid+" for", path, err)
			default:
				// The identifier is exported as an empty result.
				d.reporter.LookupFailed(ctx, uid, err)
				entries = nil
			}
		}

		block := ldif.Normalize(ldif.Render(entries))
		lines := ldif.CountLines(block)
		class := ldif.Classify(block, d.opts.Threshold)

		if _, err := io.WriteString(out, block); err != nil {
			return tally, NewError(KindIO, "write", path, err)
		}

		tally.add(class)
		d.reporter.Entry(ctx, uid, class, lines)
	}

	return tally, nil
}

// createExclusive creates path, failing with KindAlreadyExists if it exists.
func createExclusive(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, outputFileMode)
	if err != nil {
		// The path is already part of the returned error.
		var pathErr *fs.PathError
		if errors.As(err, &pathErr) {
			err = pathErr.Err
		}
		if errors.Is(err, fs.ErrExist) {
			return nil, NewError(KindAlreadyExists, "create", path, err)
		}
		return nil, NewError(KindIO, "create", path, err)
	}
	return f, nil
}

// discard closes and removes a file created by this run, then returns cause.
// A failed removal is joined into cause.
func discard(f *os.File, cause *Error) error {
	f.Close()
	if err := os.Remove(f.Name()); err != nil && !errors.Is(err, fs.ErrNotExist) {
		cause.Err = errors.Join(cause.Err, err)
	}
	return cause
}
