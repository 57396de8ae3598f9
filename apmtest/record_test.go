package apmtest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordAccessors(t *testing.T) {
	t.Parallel()

	rec := NewRecord([]byte(`{"name":"S3.GetObject","duration":1.5,"otel":{"attributes":{"s3.bucket_name":"b","retries":2,"cached":true}}}`))

	assert.Equal(t, "S3.GetObject", rec.Name())

	v, ok := rec.Attribute("s3.bucket_name")
	require.True(t, ok)
	assert.Equal(t, "b", v)

	v, ok = rec.Attribute("retries")
	require.True(t, ok)
	assert.Equal(t, "2", v)

	v, ok = rec.Attribute("cached")
	require.True(t, ok)
	assert.Equal(t, "true", v)

	_, ok = rec.Attribute("s3.object_key")
	assert.False(t, ok)

	_, ok = rec.String("missing", "path")
	assert.False(t, ok)

	var decoded struct {
		Name     string  `json:"name"`
		Duration float64 `json:"duration"`
	}
	require.NoError(t, rec.Decode(&decoded))
	assert.Equal(t, "S3.GetObject", decoded.Name)
	assert.InDelta(t, 1.5, decoded.Duration, 1e-9)
}

func TestEmptyRecord(t *testing.T) {
	t.Parallel()

	var rec Record

	assert.Empty(t, rec.Name())
	assert.Nil(t, rec.Raw())

	_, ok := rec.Attribute("s3.bucket_name")
	assert.False(t, ok)
}
