package keys_test

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oxygenesis/enrollment/internal/domain"
	"github.com/oxygenesis/enrollment/internal/keys"
	"github.com/oxygenesis/enrollment/internal/testkeys"
)

func TestParsePrivateKey(t *testing.T) {
	a := require.New(t)

	pkcs1, err := keys.ParsePrivateKey(testkeys.PrivateKey)
	a.NoError(err)
	a.Equal(2048, pkcs1.N.BitLen())

	pkcs8, err := keys.ParsePrivateKey(testkeys.PrivateKeyPKCS8)
	a.NoError(err)
	a.True(pkcs1.Equal(pkcs8))

	t.Run("malformed", func(t *testing.T) {
		for name, blob := range map[string][]byte{
			"empty":     nil,
			"blank":     []byte("  \n"),
			"truncated": testkeys.Truncated,
			"garbage":   []byte("not a key"),
			"bad der":   pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: []byte{1, 2, 3}}),
			"cert":      pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: []byte{1}}),
		} {
			_, err := keys.ParsePrivateKey(blob)
			var kfe *domain.KeyFormatError
			assert.True(t, errors.As(err, &kfe), name)
		}
	})

	t.Run("pkcs8 ecdsa", func(t *testing.T) {
		ec, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		require.NoError(t, err)
		der, err := x509.MarshalPKCS8PrivateKey(ec)
		require.NoError(t, err)

		_, err = keys.ParsePrivateKey(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}))
		assert.ErrorIs(t, err, keys.ErrNotRSA)
		assert.ErrorIs(t, err, domain.ErrKeyFormat)
	})
}

func TestParsePublicKey_Formats(t *testing.T) {
	priv, err := keys.ParsePrivateKey(testkeys.PrivateKey)
	require.NoError(t, err)

	pkcs1 := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PUBLIC KEY",
		Bytes: x509.MarshalPKCS1PublicKey(&priv.PublicKey),
	})

	for name, blob := range map[string][]byte{
		"pkix":      testkeys.PublicKeyPKIX,
		"ssh":       testkeys.PublicKeySSH,
		"canonical": testkeys.Canonical,
		"pkcs1":     pkcs1,
	} {
		t.Run(name, func(t *testing.T) {
			pub, err := keys.ParsePublicKey(blob)
			require.NoError(t, err)
			assert.True(t, priv.PublicKey.Equal(pub))
			assert.True(t, keys.Matches(pub, priv))
		})
	}
}

func TestParsePublicKey_Malformed(t *testing.T) {
	ec, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	ecDER, err := x509.MarshalPKIXPublicKey(&ec.PublicKey)
	require.NoError(t, err)

	cases := map[string][]byte{
		"empty":       {},
		"truncated":   testkeys.PublicKeyPKIX[:120],
		"bad ssh":     []byte("ssh-rsa AAAA"),
		"ecdsa pkix":  pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: ecDER}),
		"bad rsa der": pem.EncodeToMemory(&pem.Block{Type: "RSA PUBLIC KEY", Bytes: []byte{0x30, 0x00}}),
		"other type":  pem.EncodeToMemory(&pem.Block{Type: "EC PUBLIC KEY", Bytes: ecDER}),
	}
	for name, blob := range cases {
		t.Run(name, func(t *testing.T) {
			pub, err := keys.ParsePublicKey(blob)
			assert.Nil(t, pub)
			assert.ErrorIs(t, err, domain.ErrKeyFormat)
		})
	}
}

func TestMatches(t *testing.T) {
	priv, err := keys.ParsePrivateKey(testkeys.PrivateKey)
	require.NoError(t, err)
	other, err := keys.ParsePrivateKey(testkeys.OtherPrivateKey)
	require.NoError(t, err)

	assert.True(t, keys.Matches(&priv.PublicKey, priv))
	assert.False(t, keys.Matches(&other.PublicKey, priv))
	assert.False(t, keys.Matches(nil, priv))
	assert.False(t, keys.Matches(&priv.PublicKey, nil))
}

func TestLoad(t *testing.T) {
	privPath := testkeys.WriteFile(t, "test-unit", testkeys.PrivateKey)
	dir := filepath.Dir(privPath)

	t.Run("private only", func(t *testing.T) {
		pair, err := keys.Load(privPath, "")
		require.NoError(t, err)
		assert.True(t, keys.Matches(pair.Public, pair.Private))
	})

	t.Run("missing public falls back", func(t *testing.T) {
		pair, err := keys.Load(privPath, filepath.Join(dir, "absent.pub"))
		require.NoError(t, err)
		assert.Same(t, &pair.Private.PublicKey, pair.Public)
	})

	t.Run("ssh public", func(t *testing.T) {
		pubPath := filepath.Join(dir, "test-unit.pub")
		require.NoError(t, os.WriteFile(pubPath, testkeys.PublicKeySSH, 0o600))

		pair, err := keys.Load(privPath, pubPath)
		require.NoError(t, err)
		assert.True(t, keys.Matches(pair.Public, pair.Private))
	})

	t.Run("mismatch", func(t *testing.T) {
		other, err := keys.ParsePrivateKey(testkeys.OtherPrivateKey)
		require.NoError(t, err)
		der, err := x509.MarshalPKIXPublicKey(&other.PublicKey)
		require.NoError(t, err)
		pubPath := filepath.Join(dir, "other.pub")
		require.NoError(t, os.WriteFile(pubPath, pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), 0o600))

		_, err = keys.Load(privPath, pubPath)
		assert.ErrorIs(t, err, domain.ErrKeyPairMismatch)
		assert.ErrorIs(t, err, domain.ErrKeyFormat)
	})

	t.Run("bad public", func(t *testing.T) {
		pubPath := filepath.Join(dir, "bad.pub")
		require.NoError(t, os.WriteFile(pubPath, []byte("junk"), 0o600))

		_, err := keys.Load(privPath, pubPath)
		assert.ErrorIs(t, err, domain.ErrKeyFormat)
	})

	t.Run("bad private", func(t *testing.T) {
		path := filepath.Join(dir, "truncated")
		require.NoError(t, os.WriteFile(path, testkeys.Truncated, 0o600))

		_, err := keys.Load(path, "")
		assert.ErrorIs(t, err, domain.ErrKeyFormat)
	})

	t.Run("missing private", func(t *testing.T) {
		_, err := keys.Load(filepath.Join(dir, "nope"), "")
		assert.ErrorIs(t, err, os.ErrNotExist)
		assert.NotErrorIs(t, err, domain.ErrKeyFormat)
	})
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, keys.PrivateKeyFile), testkeys.PrivateKey, 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, keys.PrivateKeyFile+keys.PublicKeySuffix), testkeys.PublicKeySSH, 0o600))

	pair, err := keys.LoadDir(dir)
	require.NoError(t, err)
	assert.True(t, keys.Matches(pair.Public, pair.Private))
}
