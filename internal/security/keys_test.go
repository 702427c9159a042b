package security

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func pemString(t *testing.T, typ string, der []byte) string {
	t.Helper()
	return string(pem.EncodeToMemory(&pem.Block{Type: typ, Bytes: der}))
}

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "key.pem")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write key: %v", err)
	}
	return path
}

func TestLoadPEM(t *testing.T) {
	escaped := strings.ReplaceAll(testPublicKeyPEM, "\n", `\n`)
	file := writeTemp(t, testPublicKeyPEM)

	cases := []struct {
		name string
		in   string
		want string
		err  bool
	}{
		{"inline", testPublicKeyPEM, testPublicKeyPEM, false},
		{"inline padded", "  " + testPublicKeyPEM + "\n", testPublicKeyPEM, false},
		{"escaped newlines", escaped, testPublicKeyPEM, false},
		{"file path", file, testPublicKeyPEM, false},
		{"empty", "", "", true},
		{"blank", " \t\n", "", true},
		{"missing file", filepath.Join(t.TempDir(), "absent.pem"), "", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := LoadPEM(tc.in)
			if tc.err {
				if err == nil {
					t.Fatal("LoadPEM should fail")
				}
				return
			}
			if err != nil {
				t.Fatalf("LoadPEM: %v", err)
			}
			if string(got) != tc.want {
				t.Errorf("LoadPEM = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestParsePrivateKey(t *testing.T) {
	rsaKey, err := rsa.GenerateKey(rand.Reader, 1024)
	if err != nil {
		t.Fatalf("rsa key: %v", err)
	}
	ecKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("ec key: %v", err)
	}
	ecDER, err := x509.MarshalECPrivateKey(ecKey)
	if err != nil {
		t.Fatalf("marshal ec: %v", err)
	}
	ecPKCS8, err := x509.MarshalPKCS8PrivateKey(ecKey)
	if err != nil {
		t.Fatalf("marshal pkcs8: %v", err)
	}

	cases := []struct {
		name  string
		in    string
		isRSA bool
		err   bool
	}{
		{"embedded pkcs8 rsa", testPrivateKeyPEM, true, false},
		{"pkcs1 rsa", pemString(t, "RSA PRIVATE KEY", x509.MarshalPKCS1PrivateKey(rsaKey)), true, false},
		{"sec1 ec", pemString(t, "EC PRIVATE KEY", ecDER), false, false},
		{"pkcs8 ec", pemString(t, "PRIVATE KEY", ecPKCS8), false, false},
		{"from file", writeTemp(t, testPrivateKeyPEM), true, false},
		{"public key block", testPublicKeyPEM, false, true},
		{"not pem", "-----BEGIN nothing", false, true},
		{"corrupt body", pemString(t, "PRIVATE KEY", []byte("garbage")), false, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			signer, err := ParsePrivateKey(tc.in)
			if tc.err {
				if err == nil {
					t.Fatal("ParsePrivateKey should fail")
				}
				return
			}
			if err != nil {
				t.Fatalf("ParsePrivateKey: %v", err)
			}
			_, isRSA := signer.Public().(*rsa.PublicKey)
			if isRSA != tc.isRSA {
				t.Errorf("public key type %T, want rsa=%v", signer.Public(), tc.isRSA)
			}
		})
	}
}

func TestParsePublicKey(t *testing.T) {
	ecKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("ec key: %v", err)
	}
	ecPub, err := x509.MarshalPKIXPublicKey(&ecKey.PublicKey)
	if err != nil {
		t.Fatalf("marshal ec: %v", err)
	}
	rsaPub := TestPublicKey().(*rsa.PublicKey)

	cases := []struct {
		name string
		in   string
		err  bool
	}{
		{"pkix rsa", testPublicKeyPEM, false},
		{"pkcs1 rsa", pemString(t, "RSA PUBLIC KEY", x509.MarshalPKCS1PublicKey(rsaPub)), false},
		{"pkix ec", pemString(t, "PUBLIC KEY", ecPub), false},
		{"private key block", testPrivateKeyPEM, true},
		{"unknown block", pemString(t, "CERTIFICATE", []byte{1}), true},
		{"empty", "", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParsePublicKey(tc.in)
			if (err != nil) != tc.err {
				t.Errorf("ParsePublicKey err = %v, want error %v", err, tc.err)
			}
		})
	}
}

func TestParsePublicKey_MatchesPrivate(t *testing.T) {
	signer, err := ParsePrivateKey(testPrivateKeyPEM)
	if err != nil {
		t.Fatalf("ParsePrivateKey: %v", err)
	}
	pub, err := ParsePublicKey(testPublicKeyPEM)
	if err != nil {
		t.Fatalf("ParsePublicKey: %v", err)
	}
	if !pub.(*rsa.PublicKey).Equal(signer.Public()) {
		t.Error("embedded public key does not match the private key")
	}
}

func TestParseVerificationKeys(t *testing.T) {
	file := writeTemp(t, testPublicKeyPEM)

	keys, err := ParseVerificationKeys(" old=" + testPublicKeyPEM + " ; ; older=" + file)
	if err != nil {
		t.Fatalf("ParseVerificationKeys: %v", err)
	}
	if len(keys) != 2 || keys[0].ID != "old" || keys[1].ID != "older" {
		t.Fatalf("keys = %+v, want old then older", keys)
	}
	for _, k := range keys {
		if k.Key == nil {
			t.Errorf("key %q has no public key", k.ID)
		}
	}

	if keys, err := ParseVerificationKeys("   "); err != nil || keys != nil {
		t.Errorf("blank list = %v, %v; want nil, nil", keys, err)
	}

	for _, bad := range []string{
		testPublicKeyPEM,
		"=" + testPublicKeyPEM,
		"k1=not-a-file",
	} {
		if _, err := ParseVerificationKeys(bad); err == nil {
			t.Errorf("ParseVerificationKeys(%.20q) should fail", bad)
		}
	}
	if _, err := ParseVerificationKeys("=x"); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("missing kid: want ErrInvalidKey, got %v", err)
	}
}
