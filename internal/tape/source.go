package tape

import (
	"context"
	"fmt"

	"github.com/marketfeed/rtcore/internal/objsrc"
	"github.com/marketfeed/rtcore/internal/schema"
)

// OpenSource opens a tape file named by a local path or an
// s3://bucket/key URL, mirroring internal/lvc.OpenSource.
func OpenSource(ctx context.Context, src string, sch *schema.Schema, s3cfg objsrc.S3Config) (*Reader, error) {
	local, cleanup, err := objsrc.Resolve(ctx, src, s3cfg)
	if err != nil {
		return nil, fmt.Errorf("tape: resolving source %s: %w", src, err)
	}

	r, err := Open(local, sch)
	if err != nil {
		cleanup()
		return nil, err
	}

	if local != src {
		r.cleanup = cleanup
	}
	return r, nil
}
