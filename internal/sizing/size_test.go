package sizing

import (
	"errors"
	"math"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTest = errors.New("test")

func TestParseLength(t *testing.T) {
	t.Parallel()

	n, err := ParseLength("42", errTest)
	require.NoError(t, err)
	assert.Equal(t, 42, n)

	for _, in := range []string{"", "-1", "1.5", "abc", " 3", "99999999999999999999999"} {
		_, err := ParseLength(in, errTest)
		assert.ErrorIs(t, err, errTest, "input %q", in)
	}
}

func TestSumOverflow(t *testing.T) {
	t.Parallel()

	total, err := Sum([]int{1, 2, 3}, errTest)
	require.NoError(t, err)
	assert.Equal(t, 6, total)

	_, err = Sum([]int{math.MaxInt, 1}, errTest)
	assert.ErrorIs(t, err, errTest)
}

func TestToInt(t *testing.T) {
	t.Parallel()

	_, err := ToInt(uint64(math.MaxInt)+1, errTest)
	assert.ErrorIs(t, err, errTest)

	n, err := ToInt(uint64(math.MaxInt), errTest)
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(math.MaxInt), strconv.Itoa(n))
}
