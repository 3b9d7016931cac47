package codec

import "testing"

func TestWriterReaderRoundTrip(t *testing.T) {
	w := NewWriter()
	w.WriteBytes([]byte("hello"))
	w.WriteString("world")
	w.WriteUint64(1 << 40)
	w.WriteInt64(-12345)
	w.WriteUint32(4242)
	w.WriteByte(0x07)
	w.WriteBool(true)
	w.WriteBool(false)

	r, err := NewReader(w.Bytes())
	if err != nil {
		t.Fatalf("new reader: %v", err)
	}
	if got := string(r.ReadBytes()); got != "hello" {
		t.Fatalf("expected %q, got %q", "hello", got)
	}
	if got := r.ReadString(); got != "world" {
		t.Fatalf("expected %q, got %q", "world", got)
	}
	if got := r.ReadUint64(); got != 1<<40 {
		t.Fatalf("expected %d, got %d", uint64(1)<<40, got)
	}
	if got := r.ReadInt64(); got != -12345 {
		t.Fatalf("expected -12345, got %d", got)
	}
	if got := r.ReadUint32(); got != 4242 {
		t.Fatalf("expected 4242, got %d", got)
	}
	if got := r.ReadByte(); got != 0x07 {
		t.Fatalf("expected 0x07, got %x", got)
	}
	if !r.ReadBool() {
		t.Fatalf("expected true")
	}
	if r.ReadBool() {
		t.Fatalf("expected false")
	}
	if err := r.Err(); err != nil {
		t.Fatalf("unexpected decode error: %v", err)
	}
}

func TestReaderRejectsWrongVersion(t *testing.T) {
	buf := []byte{Version + 1, 0, 0, 0, 0}
	if _, err := NewReader(buf); err == nil {
		t.Fatalf("expected an error decoding an unsupported version byte")
	}
}

func TestReaderRejectsTruncatedBuffer(t *testing.T) {
	w := NewWriter()
	w.WriteBytes([]byte("a longer field than the truncated buffer keeps"))
	buf := w.Bytes()[:len(w.Bytes())-5]
	r, err := NewReader(buf)
	if err != nil {
		t.Fatalf("new reader: %v", err)
	}
	r.ReadBytes()
	if err := r.Err(); err != ErrTruncated {
		t.Fatalf("expected ErrTruncated, got %v", err)
	}
}

func TestReaderSticksOnFirstError(t *testing.T) {
	buf := []byte{Version}
	r, err := NewReader(buf)
	if err != nil {
		t.Fatalf("new reader: %v", err)
	}
	r.ReadUint64() // underflows immediately, records ErrTruncated
	if r.ReadByte() != 0 {
		t.Fatalf("expected reads after the first failure to return zero values")
	}
	if r.Err() != ErrTruncated {
		t.Fatalf("expected the first error to stick, got %v", r.Err())
	}
}

func TestHashIsDeterministicAndInputSensitive(t *testing.T) {
	h1 := Hash([]byte("same input"))
	h2 := Hash([]byte("same input"))
	if h1 != h2 {
		t.Fatalf("expected Hash to be deterministic for identical input")
	}
	h3 := Hash([]byte("different input"))
	if h1 == h3 {
		t.Fatalf("expected different inputs to hash differently")
	}
}
