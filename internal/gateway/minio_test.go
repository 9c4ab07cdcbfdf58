package gateway

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranslateMinioError(t *testing.T) {
	tests := []struct {
		name         string
		err          error
		wantNotFound bool
	}{
		{
			name:         "no such key",
			err:          minio.ErrorResponse{Code: "NoSuchKey", StatusCode: http.StatusNotFound},
			wantNotFound: true,
		},
		{
			name:         "bare 404 from HEAD",
			err:          minio.ErrorResponse{StatusCode: http.StatusNotFound},
			wantNotFound: true,
		},
		{
			name:         "missing bucket is not a missing object",
			err:          minio.ErrorResponse{Code: "NoSuchBucket", StatusCode: http.StatusNotFound},
			wantNotFound: false,
		},
		{
			name:         "access denied",
			err:          minio.ErrorResponse{Code: "AccessDenied", StatusCode: http.StatusForbidden},
			wantNotFound: false,
		},
		{
			name:         "transport error",
			err:          errors.New("dial tcp: connection refused"),
			wantNotFound: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := translateMinioError("mirror/notes.txt", tt.err)
			require.Error(t, err)
			assert.Equal(t, tt.wantNotFound, errors.Is(err, ErrNotFound))
		})
	}
}

func TestFromMinioInfo(t *testing.T) {
	modified := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	info := fromMinioInfo(minio.ObjectInfo{
		Key:          "mirror/notes.txt",
		Size:         12,
		LastModified: modified,
		UserMetadata: minio.StringMap{"Mtime": "2024-05-01T08:00:00Z"},
	})

	assert.Equal(t, "mirror/notes.txt", info.Key)
	assert.Equal(t, int64(12), info.Size)
	assert.Equal(t, time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC), info.ModTime())
}

func TestNewMinioStore(t *testing.T) {
	store, err := NewMinioStore(MinioConfig{
		Endpoint:  "localhost:9000",
		Region:    "us-east-1",
		Bucket:    "personal",
		AccessKey: "minioadmin",
		SecretKey: "minioadmin",
	})
	require.NoError(t, err)
	assert.Equal(t, "personal", store.bucket)
	assert.NotNil(t, store.client)
}
