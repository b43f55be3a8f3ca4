package cachedl

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	crand "crypto/rand"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"golang.org/x/crypto/ssh"
)

func generateTestHostKey(t *testing.T) ssh.PublicKey {
	t.Helper()
	privKey, err := ecdsa.GenerateKey(elliptic.P256(), crand.Reader)
	if err != nil {
		t.Fatalf("generate ECDSA key: %v", err)
	}
	signer, err := ssh.NewSignerFromKey(privKey)
	if err != nil {
		t.Fatalf("create signer: %v", err)
	}
	return signer.PublicKey()
}

type fakeAddr string

func (a fakeAddr) Network() string { return "tcp" }
func (a fakeAddr) String() string  { return string(a) }

func TestTOFU_AcceptsAndRecordsUnknownHost(t *testing.T) {
	kh := filepath.Join(t.TempDir(), "nested", "known_hosts")
	key := generateTestHostKey(t)
	cb := newTOFUHostKeyCallback(kh)

	if err := cb("10.0.0.5:2222", fakeAddr("10.0.0.5:2222"), key); err != nil {
		t.Fatalf("unknown host should be accepted: %v", err)
	}
	data, err := os.ReadFile(kh)
	if err != nil {
		t.Fatalf("read known_hosts: %v", err)
	}
	if !strings.Contains(string(data), "[10.0.0.5]:2222") {
		t.Fatalf("expected normalized host entry, got %q", data)
	}

	if err := cb("10.0.0.5:2222", fakeAddr("10.0.0.5:2222"), key); err != nil {
		t.Fatalf("known host with same key should be accepted: %v", err)
	}
}

func TestTOFU_RejectsChangedKey(t *testing.T) {
	kh := filepath.Join(t.TempDir(), "known_hosts")
	cb := newTOFUHostKeyCallback(kh)
	if err := cb("tiles.example:22", fakeAddr("1.2.3.4:22"), generateTestHostKey(t)); err != nil {
		t.Fatalf("seed: %v", err)
	}
	err := cb("tiles.example:22", fakeAddr("1.2.3.4:22"), generateTestHostKey(t))
	if !errors.Is(err, ErrHostKeyChanged) {
		t.Fatalf("expected ErrHostKeyChanged, got %v", err)
	}
}

func TestTOFU_ConcurrentNewHosts(t *testing.T) {
	kh := filepath.Join(t.TempDir(), "known_hosts")
	cb := newTOFUHostKeyCallback(kh)

	var wg sync.WaitGroup
	hosts := []string{"a.example:22", "b.example:22", "c.example:22", "d.example:22"}
	for _, h := range hosts {
		wg.Add(1)
		go func(h string) {
			defer wg.Done()
			if err := cb(h, fakeAddr(h), generateTestHostKey(t)); err != nil {
				t.Errorf("%s: %v", h, err)
			}
		}(h)
	}
	wg.Wait()

	data, _ := os.ReadFile(kh)
	if got := strings.Count(string(data), "\n"); got != len(hosts) {
		t.Fatalf("expected %d lines, got %d", len(hosts), got)
	}
}
