package events

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"credchain/internal/domain"
)

func TestArchiveRoundTrip(t *testing.T) {
	in := []domain.Event{
		{ID: 1, TS: "2024-01-01T00:00:00Z", Type: "contract.created", EntityKind: KindContract, EntityID: "abc", ActorID: "client", Payload: `{"total_amount":1500}`},
		{ID: 2, TS: "2024-01-01T00:01:00Z", Type: "contract.funded", EntityKind: KindContract, EntityID: "abc", ActorID: "client", Payload: `{}`},
	}
	var buf bytes.Buffer
	if err := WriteArchive(&buf, in); err != nil {
		t.Fatalf("write: %v", err)
	}
	if !bytes.HasPrefix(buf.Bytes(), []byte{0x28, 0xb5, 0x2f, 0xfd}) {
		t.Fatalf("archive should start with the zstd frame magic")
	}
	out, err := ReadArchive(&buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(out) != 2 || out[1].Type != "contract.funded" || out[0].Payload != in[0].Payload {
		t.Fatalf("unexpected events %+v", out)
	}
}

func TestArchiveFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "events.jsonl.zst")
	if err := WriteArchiveFile(path, []domain.Event{{ID: 7, Type: "badge.minted"}}); err != nil {
		t.Fatalf("write file: %v", err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	out, err := ReadArchive(f)
	if err != nil || len(out) != 1 || out[0].ID != 7 {
		t.Fatalf("read file: %v %+v", err, out)
	}
}
