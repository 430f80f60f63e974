package api

import (
	"context"
	"testing"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpecIsValidOpenAPI(t *testing.T) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(Spec)
	require.NoError(t, err)
	require.NoError(t, doc.Validate(context.Background()))

	assert.Equal(t, "ReWear API", doc.Info.Title)

	// 核心路径必须在文档中
	for _, path := range []string{
		"/api/auth/register",
		"/api/auth/login",
		"/api/items",
		"/api/items/{id}",
		"/api/swaps",
		"/api/swaps/{id}/respond",
		"/api/users/{id}/points",
		"/api/admin/items/{id}/moderate",
		"/api/admin/transactions/{id}/reverse",
	} {
		assert.NotNil(t, doc.Paths.Find(path), "missing path %s", path)
	}
}
