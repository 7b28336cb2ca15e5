package assets

import (
	"context"
	"testing"

	"ChunkFM/model"
)

func TestCatalogRegisterAndLookup(t *testing.T) {
	c := NewEventCatalog(nil)
	ctx := context.Background()

	idx, err := c.Register(ctx, model.SoundEventDescriptor{EventName: "cfm_abc_chunk_000", AssetName: "chunks/cfm_abc/cfm_abc_chunk_000.m4a"})
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if idx != 0 {
		t.Fatalf("expected index 0, got %d", idx)
	}

	got, ok := c.IndexOf("cfm_abc_chunk_000")
	if !ok || got != 0 {
		t.Fatalf("IndexOf returned (%d, %v), want (0, true)", got, ok)
	}

	if _, ok := c.IndexOf("cfm_abc_chunk_001"); ok {
		t.Fatalf("IndexOf should miss an unregistered event")
	}
}

func TestCatalogRegisterIdempotent(t *testing.T) {
	c := NewEventCatalog(nil)
	ctx := context.Background()

	first, _ := c.Register(ctx, model.SoundEventDescriptor{EventName: "ev"})
	second, _ := c.Register(ctx, model.SoundEventDescriptor{EventName: "ev"})
	if first != second {
		t.Fatalf("re-registering the same event changed index: %d vs %d", first, second)
	}
	if c.Len() != 1 {
		t.Fatalf("expected 1 descriptor, got %d", c.Len())
	}
}

func TestCatalogDescriptorBounds(t *testing.T) {
	c := NewEventCatalog(nil)
	ctx := context.Background()
	c.Register(ctx, model.SoundEventDescriptor{EventName: "ev", Volume: 0.8})

	desc, ok := c.Descriptor(0)
	if !ok || desc.Volume != 0.8 {
		t.Fatalf("Descriptor(0) = (%+v, %v)", desc, ok)
	}
	if _, ok := c.Descriptor(1); ok {
		t.Fatalf("Descriptor out of range should miss")
	}
	if _, ok := c.Descriptor(-1); ok {
		t.Fatalf("Descriptor(-1) should miss")
	}
}

func TestChunkNames(t *testing.T) {
	if got := ChunkEventName("cfm_ab", 7); got != "cfm_ab_chunk_007" {
		t.Fatalf("unexpected event name %s", got)
	}
	if got := ChunkAssetName("cfm_ab", 12, "m4a"); got != "chunks/cfm_ab/cfm_ab_chunk_012.m4a" {
		t.Fatalf("unexpected asset name %s", got)
	}
}
