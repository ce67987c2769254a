package objsrc

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveLocalPathIsUnchanged(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.lvc")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	got, cleanup, err := Resolve(context.Background(), path, S3Config{})
	require.NoError(t, err)
	require.Equal(t, path, got)
	require.NoError(t, cleanup())
}

func TestResolveRejectsMalformedS3URL(t *testing.T) {
	_, _, err := Resolve(context.Background(), "s3://", S3Config{})
	require.Error(t, err)
}

func TestParseS3URL(t *testing.T) {
	bucket, key, err := parseS3URL("s3://my-bucket/path/to/object.lvc")
	require.NoError(t, err)
	require.Equal(t, "my-bucket", bucket)
	require.Equal(t, "path/to/object.lvc", key)
}
