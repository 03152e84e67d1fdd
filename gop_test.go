package rtmp

import (
	"bytes"
	"testing"
)

func keyframe(ts uint32, size int) Frame {
	return Frame{Type: MediaVideo, Timestamp: ts, Payload: make([]byte, size), IsKeyframe: true}
}

func interframe(ts uint32, size int) Frame {
	return Frame{Type: MediaVideo, Timestamp: ts, Payload: make([]byte, size)}
}

func audioFrame(ts uint32, size int) Frame {
	return Frame{Type: MediaAudio, Timestamp: ts, Payload: make([]byte, size)}
}

func TestGopCache_KeyframeStartsNewEpoch(t *testing.T) {
	cache := NewGopCache(16, 0)

	cache.Push(keyframe(0, 10))
	cache.Push(interframe(40, 10))
	cache.Push(audioFrame(60, 10))
	if cache.Len() != 3 {
		t.Fatalf("expected 3 cached frames, got %v", cache.Len())
	}

	cache.Push(keyframe(80, 10))
	if cache.Len() != 1 {
		t.Errorf("expected keyframe to reset the epoch, got %v frames", cache.Len())
	}
	if cache.Bytes() != 10 {
		t.Errorf("expected 10 cached bytes after reset, got %v", cache.Bytes())
	}
}

func TestGopCache_SnapshotOrder(t *testing.T) {
	cache := NewGopCache(16, 0)
	k := keyframe(0, 4)
	f1 := interframe(40, 4)
	f2 := interframe(80, 4)

	cache.Push(k)
	cache.Push(f1)
	cache.Push(f2)

	snapshot := cache.Snapshot()
	want := []uint32{0, 40, 80}
	if len(snapshot) != len(want) {
		t.Fatalf("expected %v frames in snapshot, got %v", len(want), len(snapshot))
	}
	for i, ts := range want {
		if snapshot[i].Timestamp != ts {
			t.Errorf("snapshot[%d]: got timestamp %v, want %v", i, snapshot[i].Timestamp, ts)
		}
	}
	if !snapshot[0].IsKeyframe {
		t.Errorf("expected the snapshot to start with a keyframe")
	}
}

func TestGopCache_SnapshotIsACopy(t *testing.T) {
	cache := NewGopCache(16, 0)
	cache.Push(keyframe(0, 4))
	snapshot := cache.Snapshot()

	cache.Push(keyframe(40, 4))
	cache.Push(interframe(80, 4))

	if len(snapshot) != 1 || snapshot[0].Timestamp != 0 {
		t.Errorf("snapshot mutated by later pushes: %+v", snapshot)
	}
}

func TestGopCache_FrameLimitDropsWholeEpoch(t *testing.T) {
	cache := NewGopCache(2, 0)

	cache.Push(keyframe(0, 4))
	cache.Push(interframe(40, 4))
	cache.Push(interframe(80, 4)) // over the limit

	if cache.Len() != 0 {
		t.Errorf("expected overflow to drop the whole epoch, got %v frames", cache.Len())
	}

	// Caching stays off until the next keyframe.
	cache.Push(interframe(120, 4))
	if cache.Len() != 0 {
		t.Errorf("expected caching to stay disabled mid-epoch, got %v frames", cache.Len())
	}

	cache.Push(keyframe(160, 4))
	if cache.Len() != 1 {
		t.Errorf("expected caching to resume at the next keyframe, got %v frames", cache.Len())
	}
}

func TestGopCache_ByteLimitDropsWholeEpoch(t *testing.T) {
	cache := NewGopCache(0, 100)

	cache.Push(keyframe(0, 60))
	cache.Push(interframe(40, 60)) // 120 bytes, over the limit

	if cache.Len() != 0 || cache.Bytes() != 0 {
		t.Errorf("expected byte overflow to empty the cache, got %v frames / %v bytes", cache.Len(), cache.Bytes())
	}
}

func TestGopCache_InertWithoutLimits(t *testing.T) {
	cache := NewGopCache(0, 0)
	cache.Push(keyframe(0, 4))
	cache.Push(interframe(40, 4))
	if cache.Len() != 0 {
		t.Errorf("expected a cache without limits to retain nothing, got %v frames", cache.Len())
	}
	if cache.Snapshot() != nil {
		t.Errorf("expected a nil snapshot from an inert cache")
	}
}

func TestGopCache_Reset(t *testing.T) {
	cache := NewGopCache(1, 0)
	cache.Push(keyframe(0, 4))
	cache.Push(interframe(40, 4)) // overflow disables caching

	cache.Reset()
	cache.Push(interframe(80, 4))
	if cache.Len() != 1 {
		t.Errorf("expected Reset to re-enable caching, got %v frames", cache.Len())
	}
}

func TestFrame_Size(t *testing.T) {
	frame := Frame{Payload: bytes.Repeat([]byte{0xAB}, 17)}
	if frame.Size() != 17 {
		t.Errorf("got %v, want 17", frame.Size())
	}
}
