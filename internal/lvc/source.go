package lvc

import (
	"context"
	"fmt"

	"github.com/marketfeed/rtcore/internal/objsrc"
)

// OpenSource opens an LVC file named by a local path or an
// s3://bucket/key URL, per SPEC_FULL's source-resolution requirement.
// An s3:// source is downloaded to a temp file first; the returned
// Reader's Close also removes that temp file, so callers don't need
// to know which path flavor they opened.
func OpenSource(ctx context.Context, src string, s3cfg objsrc.S3Config) (*Reader, error) {
	local, cleanup, err := objsrc.Resolve(ctx, src, s3cfg)
	if err != nil {
		return nil, fmt.Errorf("lvc: resolving source %s: %w", src, err)
	}

	r, err := Open(local)
	if err != nil {
		cleanup()
		return nil, err
	}

	if local != src {
		r.cleanup = cleanup
	}
	return r, nil
}
