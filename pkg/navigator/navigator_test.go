package navigator

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewIncludesVersionAndOS(t *testing.T) {
	info := New("1.0.0")
	assert.True(t, strings.Contains(info.UserAgent, "1.0.0"))
	assert.NotEmpty(t, info.Platform)
	assert.Len(t, info.Brands, 1)
}

func TestGetBatteryReportsFullAndCharging(t *testing.T) {
	b := GetBattery()
	assert.True(t, b.Charging)
	assert.Equal(t, 1.0, b.Level)
}
