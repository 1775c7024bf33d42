package utils_test

import (
	"testing"

	"github.com/jrsteele09/go-auth-client/internal/utils"
	"github.com/stretchr/testify/require"
)

func TestPointerHelpers(t *testing.T) {
	require.Equal(t, int64(0), utils.Value[int64](nil))
	require.Equal(t, "x", utils.Value(utils.Ptr("x")))
}
