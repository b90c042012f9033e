package signature_test

import (
	"testing"
	"time"

	"github.com/clinicore/webhook-dispatch/signature"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSign(t *testing.T) {
	t.Run("deterministic for same payload and secret", func(t *testing.T) {
		payload := []byte(`{"event":"patient.created"}`)
		first := signature.Sign(payload, "secret-one")
		second := signature.Sign(payload, "secret-one")
		assert.Equal(t, first, second)
		assert.Len(t, first, 64) // hex SHA-256
	})

	t.Run("differs per secret", func(t *testing.T) {
		payload := []byte(`{"event":"patient.created"}`)
		assert.NotEqual(t, signature.Sign(payload, "secret-one"), signature.Sign(payload, "secret-two"))
	})

	t.Run("differs per payload byte", func(t *testing.T) {
		assert.NotEqual(t, signature.Sign([]byte(`{"a":1}`), "s"), signature.Sign([]byte(`{"a":2}`), "s"))
	})
}

func TestVerify(t *testing.T) {
	payload := []byte(`{"event":"appointment.scheduled","id":"evt-1"}`)
	secret := "0123456789abcdef0123456789abcdef"

	t.Run("round trip", func(t *testing.T) {
		err := signature.Verify(signature.VerifyInput{
			Payload:   payload,
			Signature: signature.Sign(payload, secret),
			Secret:    secret,
		})
		require.NoError(t, err)
	})

	t.Run("tampered payload", func(t *testing.T) {
		sig := signature.Sign(payload, secret)
		tampered := append([]byte{}, payload...)
		tampered[0] ^= 0x01

		err := signature.Verify(signature.VerifyInput{
			Payload:   tampered,
			Signature: sig,
			Secret:    secret,
		})
		require.ErrorIs(t, err, signature.ErrInvalidSignature)
	})

	t.Run("wrong secret", func(t *testing.T) {
		err := signature.Verify(signature.VerifyInput{
			Payload:   payload,
			Signature: signature.Sign(payload, secret),
			Secret:    "another-secret-another-secret-ab",
		})
		require.ErrorIs(t, err, signature.ErrInvalidSignature)
	})

	t.Run("non-hex signature", func(t *testing.T) {
		err := signature.Verify(signature.VerifyInput{
			Payload:   payload,
			Signature: "not-hex-at-all",
			Secret:    secret,
		})
		require.ErrorIs(t, err, signature.ErrInvalidSignature)
	})

	t.Run("fresh timestamp passes", func(t *testing.T) {
		err := signature.Verify(signature.VerifyInput{
			Payload:   payload,
			Signature: signature.Sign(payload, secret),
			Secret:    secret,
			Timestamp: time.Now().UnixMilli(),
		})
		require.NoError(t, err)
	})

	t.Run("stale timestamp beats signature check", func(t *testing.T) {
		err := signature.Verify(signature.VerifyInput{
			Payload:   payload,
			Signature: "garbage", // never reached
			Secret:    secret,
			Timestamp: time.Now().Add(-10 * time.Minute).UnixMilli(),
		})
		require.ErrorIs(t, err, signature.ErrStaleTimestamp)
	})

	t.Run("future timestamp beyond skew", func(t *testing.T) {
		err := signature.Verify(signature.VerifyInput{
			Payload:   payload,
			Signature: signature.Sign(payload, secret),
			Secret:    secret,
			Timestamp: time.Now().Add(2 * time.Minute).UnixMilli(),
		})
		require.ErrorIs(t, err, signature.ErrFutureTimestamp)
	})

	t.Run("slight clock skew tolerated", func(t *testing.T) {
		err := signature.Verify(signature.VerifyInput{
			Payload:   payload,
			Signature: signature.Sign(payload, secret),
			Secret:    secret,
			Timestamp: time.Now().Add(30 * time.Second).UnixMilli(),
		})
		require.NoError(t, err)
	})

	t.Run("custom max age", func(t *testing.T) {
		in := signature.VerifyInput{
			Payload:   payload,
			Signature: signature.Sign(payload, secret),
			Secret:    secret,
			Timestamp: time.Now().Add(-2 * time.Minute).UnixMilli(),
			MaxAge:    time.Minute,
		}
		require.ErrorIs(t, signature.Verify(in), signature.ErrStaleTimestamp)

		in.MaxAge = 10 * time.Minute
		require.NoError(t, signature.Verify(in))
	})

	t.Run("negative timestamp is malformed", func(t *testing.T) {
		err := signature.Verify(signature.VerifyInput{
			Payload:   payload,
			Signature: signature.Sign(payload, secret),
			Secret:    secret,
			Timestamp: -1,
		})
		require.ErrorIs(t, err, signature.ErrMalformedTimestamp)
	})
}

func TestParseTimestamp(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		millis, err := signature.ParseTimestamp("1714060800000")
		require.NoError(t, err)
		assert.Equal(t, int64(1714060800000), millis)
	})

	t.Run("malformed values", func(t *testing.T) {
		for _, raw := range []string{"", "abc", "123abc", "-5", "1.5"} {
			_, err := signature.ParseTimestamp(raw)
			require.ErrorIs(t, err, signature.ErrMalformedTimestamp, raw)
		}
	})
}

func TestGenerateSecret(t *testing.T) {
	t.Run("length and uniqueness", func(t *testing.T) {
		first, err := signature.GenerateSecret()
		require.NoError(t, err)
		second, err := signature.GenerateSecret()
		require.NoError(t, err)

		assert.Len(t, first, signature.SecretBytes*2)
		assert.NotEqual(t, first, second)
	})
}
