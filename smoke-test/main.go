//go:build smokebin

package main

import (
	"bytes"
	goCrypto "crypto"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	httpApp "github.com/oxygenesis/enrollment/internal/app/http"
	"github.com/oxygenesis/enrollment/internal/keys"
	"github.com/oxygenesis/enrollment/internal/service"
	"github.com/oxygenesis/enrollment/internal/storage"
	"github.com/oxygenesis/enrollment/internal/testkeys"
	"github.com/oxygenesis/enrollment/internal/transport"
	"github.com/oxygenesis/enrollment/pkg/logger"
)

const apiPrefix = "/v1"

// must fails the smoke test immediately with a helpful message.
func must(ok bool, msg string, args ...any) {
	if !ok {
		log.Fatalf("SMOKE FAIL: "+msg, args...)
	}
}

type enrollBody struct {
	Identity  string `json:"identity"`
	PublicKey string `json:"public_key"`
	Signature string `json:"signature"`
}

func main() {
	// Remote enrollment endpoint, checking requests the way the real one does.
	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req enrollBody
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		if err := verify(req); err != nil {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"token": "smoke-token"})
	}))
	defer remote.Close()

	svc := service.New(storage.NewMemory(), service.PSSFactory{}, transport.NewClient(transport.Options{}),
		service.Options{Endpoint: remote.URL, SelfCheck: true})

	ts := httptest.NewServer(httpApp.Handler(svc, httpApp.Options{
		Logger:      logger.Discard(),
		Registry:    prometheus.NewRegistry(),
		EnrollRPS:   1,
		EnrollBurst: 1,
	}))
	defer ts.Close()

	do := func(method, path string, body any) (int, []byte) {
		var rdr io.Reader
		if body != nil {
			b, _ := json.Marshal(body)
			rdr = bytes.NewReader(b)
		}
		req, _ := http.NewRequest(method, ts.URL+path, rdr)
		req.Header.Set("content-type", "application/json")
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			log.Fatal(err)
		}
		defer resp.Body.Close()
		b, _ := io.ReadAll(resp.Body)
		fmt.Printf("%d %s\n\n", resp.StatusCode, string(b))
		return resp.StatusCode, b
	}

	// 1) Health
	code, body := do("GET", apiPrefix+"/health", nil)
	must(code == 200, "health status=%d", code)

	// 2) Register the fixture key pair
	dir, err := os.MkdirTemp("", "unit-enroll-smoke")
	must(err == nil, "temp dir: %v", err)
	defer os.RemoveAll(dir)
	must(os.WriteFile(filepath.Join(dir, keys.PrivateKeyFile), testkeys.PrivateKey, 0o600) == nil, "write private key")
	must(os.WriteFile(filepath.Join(dir, keys.PrivateKeyFile+keys.PublicKeySuffix), testkeys.PublicKeySSH, 0o600) == nil, "write public key")

	code, body = do("POST", apiPrefix+"/units", map[string]any{
		"name":             "smoke",
		"private_key_path": filepath.Join(dir, keys.PrivateKeyFile),
		"public_key_path":  filepath.Join(dir, keys.PrivateKeyFile+keys.PublicKeySuffix),
	})
	must(code == 201, "register status=%d body=%s", code, string(body))

	type unitResp struct {
		Name            string `json:"name"`
		Fingerprint     string `json:"fingerprint"`
		Identity        string `json:"identity"`
		PublicKey       string `json:"public_key"`
		EnrollmentCount uint64 `json:"enrollment_count"`
	}
	var unit unitResp
	must(json.Unmarshal(body, &unit) == nil, "register unmarshal")
	must(unit.Fingerprint == testkeys.Fingerprint, "fingerprint=%s", unit.Fingerprint)
	must(unit.Identity == "smoke@"+testkeys.Fingerprint, "identity=%s", unit.Identity)
	must(strings.HasPrefix(unit.PublicKey, "-----BEGIN RSA PUBLIC KEY-----"), "public key header")
	must(!strings.HasSuffix(unit.PublicKey, "\n"), "public key keeps a trailing newline")

	// 3) Dry run: the request body verifies client-side
	code, body = do("GET", apiPrefix+"/units/"+unit.Fingerprint+"/request", nil)
	must(code == 200, "request status=%d", code)
	var req enrollBody
	must(json.Unmarshal(body, &req) == nil, "request unmarshal")
	must(verify(req) == nil, "request does not verify: %v", verify(req))

	var raw map[string]any
	_ = json.Unmarshal(body, &raw)
	must(len(raw) == 3, "request has %d fields", len(raw))

	// 4) Enroll
	code, body = do("POST", apiPrefix+"/units/"+unit.Fingerprint+"/enroll", nil)
	must(code == 200, "enroll status=%d body=%s", code, string(body))

	code, body = do("GET", apiPrefix+"/units/"+unit.Fingerprint, nil)
	must(code == 200, "get status=%d", code)
	must(json.Unmarshal(body, &unit) == nil, "get unmarshal")
	must(unit.EnrollmentCount == 1, "enrollment_count=%d", unit.EnrollmentCount)
	must(!strings.Contains(string(body), "smoke-token"), "token leaked")

	// 5) Token: served from the cached enrollment
	code, body = do("GET", apiPrefix+"/units/"+unit.Fingerprint+"/token", nil)
	must(code == 200, "token status=%d", code)
	must(strings.Contains(string(body), "smoke-token"), "token body=%s", string(body))

	code, body = do("GET", apiPrefix+"/units/"+unit.Fingerprint, nil)
	must(code == 200 && json.Unmarshal(body, &unit) == nil, "get after token")
	must(unit.EnrollmentCount == 1, "token re-enrolled: enrollment_count=%d", unit.EnrollmentCount)

	// 6) Metrics are served by the same handler
	code, body = do("GET", "/metrics", nil)
	must(code == 200, "metrics status=%d", code)
	must(strings.Contains(string(body), "unit_enroll_http_requests_total"), "http counter missing")
}

// verify checks an enrollment body the way the enrollment service does.
func verify(req enrollBody) error {
	pubPEM, err := base64.StdEncoding.DecodeString(req.PublicKey)
	if err != nil {
		return fmt.Errorf("public_key: %w", err)
	}
	sig, err := base64.StdEncoding.DecodeString(req.Signature)
	if err != nil {
		return fmt.Errorf("signature: %w", err)
	}

	sum := sha256.Sum256([]byte(strings.TrimRight(string(pubPEM), "\n")))
	name, fp, ok := strings.Cut(req.Identity, "@")
	if !ok || name == "" || fp != hex.EncodeToString(sum[:]) {
		return fmt.Errorf("identity %q does not match public key", req.Identity)
	}

	pub, err := keys.ParsePublicKey(pubPEM)
	if err != nil {
		return err
	}
	digest := sha256.Sum256([]byte(req.Identity))
	return rsa.VerifyPSS(pub, goCrypto.SHA256, digest[:], sig, &rsa.PSSOptions{SaltLength: 16})
}
