package market

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimeframe(t *testing.T) {
	t.Run("canonical keys", func(t *testing.T) {
		tf, err := ParseTimeframe("1h")
		require.NoError(t, err)
		assert.Equal(t, "1h", tf.Key)
		assert.Equal(t, time.Hour, tf.Duration)
		assert.Equal(t, "1h", tf.TwelveData)
		assert.Equal(t, "H1", tf.Oanda)
	})

	t.Run("mt style aliases", func(t *testing.T) {
		for input, want := range map[string]string{
			"H1": "1h", "M15": "15m", "D": "1d", "W": "1w",
		} {
			tf, err := ParseTimeframe(input)
			require.NoError(t, err, input)
			assert.Equal(t, want, tf.Key, input)
		}
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := ParseTimeframe("2h30m")
		assert.Error(t, err)
	})
}

func TestTimeframeAlignDown(t *testing.T) {
	tf, err := ParseTimeframe("1h")
	require.NoError(t, err)
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC).UnixMilli()
	assert.Equal(t, base, tf.AlignDown(base))
	assert.Equal(t, base, tf.AlignDown(base+37*time.Minute.Milliseconds()))
}

func TestExpectedCandles(t *testing.T) {
	tf, err := ParseTimeframe("15m")
	require.NoError(t, err)
	start := int64(0)
	end := 4 * tf.Millis()
	assert.Equal(t, int64(5), tf.ExpectedCandles(start, end))
	assert.Equal(t, int64(0), tf.ExpectedCandles(end, start))
}
