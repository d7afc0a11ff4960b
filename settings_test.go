package h2

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeSettingsPayloadOnlyEmitsSeenFields(t *testing.T) {
	var s Settings
	s.InitialWindowSize = 65535
	s.seen = seenInitialWindowSize

	payload := s.EncodeSettingsPayload(nil)
	require.Len(t, payload, 6)

	pairs, err := DecodeSettingsPayload(payload)
	require.NoError(t, err)
	require.Len(t, pairs, 1)
	require.Equal(t, SettingInitialWindowSize, pairs[0].ID)
	require.EqualValues(t, 65535, pairs[0].Value)
}

func TestNewConnAdvertisesEnablePushZero(t *testing.T) {
	mt := NewMemoryTransport()
	conn := NewConn(mt, DefaultConfig())
	defer conn.Close()

	require.False(t, conn.local.EnablePush)
}

func TestNewConnOmitsMaxHeaderListSizeWhenUnbounded(t *testing.T) {
	mt := NewMemoryTransport()
	cfg := DefaultConfig()
	cfg.MaxHeaderListSize = 0
	conn := NewConn(mt, cfg)
	defer conn.Close()

	require.Zero(t, conn.local.seen&seenMaxHeaderListSize)
}
