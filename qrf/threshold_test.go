package qrf

import "testing"

func TestThresholdCacheContents(t *testing.T) {
	cache := BuildThresholdCache(2)
	want := []uint16{0, 1, 2}
	if len(cache) != len(want) {
		t.Fatalf("cache of %d entries, want %d", len(cache), len(want))
	}
	for ind := range want {
		if cache[ind] != want[ind] {
			t.Errorf("slot %d = %d, want %d", ind, cache[ind], want[ind])
		}
	}
}

func TestThresholdCacheSizes(t *testing.T) {
	for bits := uint8(1); bits <= 8; bits++ {
		cache := BuildThresholdCache(bits)
		if len(cache) != 1<<bits-1 {
			t.Errorf("bits=%d: cache of %d entries, want %d", bits, len(cache), 1<<bits-1)
		}
		for ind, code := range cache {
			if int(code) != ind {
				t.Errorf("bits=%d: slot %d = %d", bits, ind, code)
			}
		}
	}
}

func TestThresholdCacheNeverEmpty(t *testing.T) {
	cache := BuildThresholdCache(0)
	if len(cache) != 1 || cache[0] != 0 {
		t.Errorf("degenerate cache = %v, want [0]", cache)
	}
}
