package objstore

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublicURL_DerivedFromEndpoint(t *testing.T) {
	c, err := New(Config{
		Endpoint:  "minio.example.com:9000",
		AccessKey: "ak",
		SecretKey: "sk",
		Bucket:    "catalog",
	}, slog.Default())
	require.NoError(t, err)

	assert.Equal(t,
		"http://minio.example.com:9000/catalog/products/recA/front_0.jpg",
		c.PublicURL("products/recA/front_0.jpg"))
}

func TestPublicURL_ExplicitBaseAndSSL(t *testing.T) {
	c, err := New(Config{
		Endpoint:      "minio.example.com:9000",
		AccessKey:     "ak",
		SecretKey:     "sk",
		Bucket:        "catalog",
		UseSSL:        true,
		PublicBaseURL: "https://cdn.example.com/images/",
	}, slog.Default())
	require.NoError(t, err)

	assert.Equal(t,
		"https://cdn.example.com/images/thumbnails/small/recA_front_0.webp",
		c.PublicURL("thumbnails/small/recA_front_0.webp"))
}

func TestPublicURL_EscapesSegments(t *testing.T) {
	c, err := New(Config{
		Endpoint: "minio.example.com:9000", AccessKey: "ak", SecretKey: "sk", Bucket: "catalog",
	}, slog.Default())
	require.NoError(t, err)

	assert.Equal(t,
		"http://minio.example.com:9000/catalog/products/rec%20A/front_0.jpg",
		c.PublicURL("products/rec A/front_0.jpg"))
}
