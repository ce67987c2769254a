package tape

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/marketfeed/rtcore/internal/objsrc"
)

func TestOpenSourceLocalPath(t *testing.T) {
	path, sch := newTapeFixture(t)

	r, err := OpenSource(context.Background(), path, sch, objsrc.S3Config{})
	require.NoError(t, err)
	defer r.Close()

	require.Nil(t, r.cleanup)
}

func TestOpenSourceRejectsBadS3URL(t *testing.T) {
	_, sch := newTapeFixture(t)
	_, err := OpenSource(context.Background(), "s3://", sch, objsrc.S3Config{})
	require.Error(t, err)
}
