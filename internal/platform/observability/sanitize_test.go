package observability

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSanitizeID(t *testing.T) {
	require.Equal(t, "ord_1[31mforged", SanitizeID(" ord_1\n\x1b[31mforged "))
	require.Len(t, SanitizeID(strings.Repeat("x", 200)), 64)
	require.Equal(t, "ñandú", SanitizeID("ñandú"))
}

func TestSanitizeRouteAndMethod(t *testing.T) {
	require.Equal(t, "/", SanitizeRoute(""))
	require.Equal(t, "/api/v1/orders/{orderID}", SanitizeRoute("/api/v1/orders/{orderID}\r\n"))
	require.Equal(t, "POST", SanitizeMethod("post"))
}
