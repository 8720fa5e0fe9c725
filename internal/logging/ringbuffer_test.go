package logging

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func TestRingBufferHoldsShortWrites(t *testing.T) {
	rb := NewRingBuffer(64)
	rb.Write([]byte("hello "))
	rb.Write([]byte("world"))

	if got := string(rb.Bytes()); got != "hello world" {
		t.Errorf("Bytes() = %q", got)
	}
	if rb.Len() != 11 {
		t.Errorf("Len() = %d, want 11", rb.Len())
	}
}

func TestRingBufferOverwritesOldest(t *testing.T) {
	rb := NewRingBuffer(8)
	rb.Write([]byte("abcdef"))
	rb.Write([]byte("ghij"))

	if got := string(rb.Bytes()); got != "cdefghij" {
		t.Errorf("Bytes() = %q, want cdefghij", got)
	}
	if rb.Len() != 8 {
		t.Errorf("Len() = %d, want 8", rb.Len())
	}
}

func TestRingBufferWriteLargerThanCapacity(t *testing.T) {
	rb := NewRingBuffer(4)
	n, err := rb.Write([]byte("abcdefgh"))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if n != 8 {
		t.Errorf("n = %d, want full input length 8", n)
	}
	if got := string(rb.Bytes()); got != "efgh" {
		t.Errorf("Bytes() = %q, want efgh", got)
	}
}

func TestRingBufferManyWrapsKeepOrder(t *testing.T) {
	rb := NewRingBuffer(10)
	for i := 0; i < 26; i++ {
		rb.Write([]byte{byte('a' + i)})
	}
	if got := string(rb.Bytes()); got != "qrstuvwxyz" {
		t.Errorf("Bytes() = %q, want qrstuvwxyz", got)
	}
}

func TestRingBufferDumpToFile(t *testing.T) {
	rb := NewRingBuffer(128)
	rb.Write([]byte("crash context line\n"))

	path := filepath.Join(t.TempDir(), "dump.log")
	if err := rb.DumpToFile(path); err != nil {
		t.Fatalf("DumpToFile: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read dump: %v", err)
	}
	if string(data) != "crash context line\n" {
		t.Errorf("dump = %q", data)
	}
}

func TestRingBufferConcurrentWrites(t *testing.T) {
	rb := NewRingBuffer(1024)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				rb.Write([]byte("line\n"))
			}
		}()
	}
	wg.Wait()

	// 2500 bytes through a 1024-byte buffer: full, intact lines only.
	if rb.Len() != 1024 {
		t.Errorf("Len() = %d, want 1024", rb.Len())
	}
	content := string(rb.Bytes())
	trimmed := strings.TrimPrefix(content, content[:strings.Index(content, "\n")+1])
	for _, line := range strings.Split(strings.TrimSuffix(trimmed, "\n"), "\n") {
		if line != "line" && line != "" {
			t.Fatalf("corrupted line %q", line)
		}
	}
}
