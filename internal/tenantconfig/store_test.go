package tenantconfig

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockS3 struct {
	objects map[string][]byte
	getErr  error
	lastPut *s3.PutObjectInput
}

func (m *mockS3) PutObject(_ context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	m.lastPut = params
	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	m.objects[aws.ToString(params.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (m *mockS3) GetObject(_ context.Context, params *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	data, ok := m.objects[aws.ToString(params.Key)]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func TestS3StoreRoundTrip(t *testing.T) {
	client := &mockS3{objects: map[string][]byte{}}
	store := NewS3Store(client, "tenant-configs")
	key := BlobKey("prod/", testHandle)

	require.NoError(t, store.Put(context.Background(), key, []byte(validConfig)))
	assert.Equal(t, "tenant-configs", aws.ToString(client.lastPut.Bucket))
	assert.Equal(t, "prod/tenants/tenant-handle-0001/config.json", aws.ToString(client.lastPut.Key))
	assert.Equal(t, "application/json", aws.ToString(client.lastPut.ContentType))

	data, err := store.Get(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, validConfig, string(data))
}

func TestS3StoreMapsMissingKey(t *testing.T) {
	store := NewS3Store(&mockS3{objects: map[string][]byte{}}, "bucket")

	_, err := store.Get(context.Background(), "tenants/nobody/config.json")
	assert.True(t, errors.Is(err, ErrBlobNotFound))
}

func TestS3StoreWrapsTransportErrors(t *testing.T) {
	boom := errors.New("connection reset")
	store := NewS3Store(&mockS3{objects: map[string][]byte{}, getErr: boom}, "bucket")

	_, err := store.Get(context.Background(), "k")
	require.Error(t, err)
	assert.True(t, errors.Is(err, boom))
	assert.False(t, errors.Is(err, ErrBlobNotFound))
}

func TestRedisStoreRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	store := NewRedisStore(client)

	_, err := store.Get(context.Background(), "missing")
	assert.True(t, errors.Is(err, ErrBlobNotFound))

	require.NoError(t, store.Put(context.Background(), "tenants/a/config.json", []byte(`{"a":1}`)))
	data, err := store.Get(context.Background(), "tenants/a/config.json")
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(data))
}

func TestMemoryStoreCopiesBlobs(t *testing.T) {
	store := NewMemoryStore()
	blob := []byte("abc")
	require.NoError(t, store.Put(context.Background(), "k", blob))
	blob[0] = 'z'

	data, err := store.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(data))

	_, err = store.Get(context.Background(), "other")
	assert.True(t, errors.Is(err, ErrBlobNotFound))
}
