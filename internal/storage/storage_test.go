package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalSaveAndRemove(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocal(dir)
	require.NoError(t, err)

	path, err := store.Save(context.Background(), "documents/employee_1/a.pdf", "application/pdf", strings.NewReader("%PDF"))
	require.NoError(t, err)
	assert.Equal(t, "documents/employee_1/a.pdf", path)

	data, err := os.ReadFile(filepath.Join(dir, "documents", "employee_1", "a.pdf"))
	require.NoError(t, err)
	assert.Equal(t, "%PDF", string(data))

	require.NoError(t, store.Remove(context.Background(), path))
	_, err = os.Stat(filepath.Join(dir, "documents", "employee_1", "a.pdf"))
	assert.True(t, os.IsNotExist(err))

	// already gone
	assert.NoError(t, store.Remove(context.Background(), path))
}

func TestLocalRejectsEscapingKeys(t *testing.T) {
	store, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	for _, key := range []string{"../x.pdf", "/etc/passwd", ".", "a/../../b"} {
		_, err := store.Save(context.Background(), key, "", strings.NewReader("x"))
		assert.Error(t, err, key)
	}
}

func TestLocalRefusesOverwrite(t *testing.T) {
	store, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	_, err = store.Save(context.Background(), "a.pdf", "", strings.NewReader("one"))
	require.NoError(t, err)
	_, err = store.Save(context.Background(), "a.pdf", "", strings.NewReader("two"))
	assert.Error(t, err)
}

type fakeObjects struct {
	puts    []*s3.PutObjectInput
	bodies  []string
	deletes []*s3.DeleteObjectInput
	err     error
}

func (f *fakeObjects) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	b, _ := io.ReadAll(in.Body)
	f.puts = append(f.puts, in)
	f.bodies = append(f.bodies, string(b))
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeObjects) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.deletes = append(f.deletes, in)
	return &s3.DeleteObjectOutput{}, nil
}

func TestS3SaveAndRemove(t *testing.T) {
	fake := &fakeObjects{}
	store := &S3{client: fake, bucket: "rh"}

	path, err := store.Save(context.Background(), "documents/employee_2/b.png", "image/png", strings.NewReader("png"))
	require.NoError(t, err)
	assert.Equal(t, "documents/employee_2/b.png", path)
	require.Len(t, fake.puts, 1)
	assert.Equal(t, "rh", aws.ToString(fake.puts[0].Bucket))
	assert.Equal(t, "image/png", aws.ToString(fake.puts[0].ContentType))
	assert.Equal(t, "png", fake.bodies[0])

	require.NoError(t, store.Remove(context.Background(), path))
	require.Len(t, fake.deletes, 1)
	assert.Equal(t, path, aws.ToString(fake.deletes[0].Key))
}

func TestS3WrapsErrors(t *testing.T) {
	boom := errors.New("boom")
	store := &S3{client: &fakeObjects{err: boom}, bucket: "rh"}

	_, err := store.Save(context.Background(), "k", "", strings.NewReader(""))
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, store.Remove(context.Background(), "k"), boom)
}

func TestNewRejectsUnknownDriver(t *testing.T) {
	_, err := New(context.Background(), Config{Driver: "ftp"})
	assert.Error(t, err)

	_, err = New(context.Background(), Config{Driver: "s3"})
	assert.Error(t, err, "bucket is required")
}
