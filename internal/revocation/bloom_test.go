package revocation

import (
	"errors"
	"fmt"
	"testing"

	"github.com/mwistrand/aussie-sub004/internal/config"
)

func testBloomConfig() config.BloomConfig {
	return config.BloomConfig{
		Enabled:                  true,
		ExpectedInsertions:       1000,
		FalsePositiveProbability: 0.001,
	}
}

func TestFilterSizing(t *testing.T) {
	tests := []struct {
		n     int
		p     float64
		wantM uint64
		wantK int
	}{
		{1000, 0.01, 9586, 7},
		{1000, 0.001, 14378, 10},
		{10, 0.01, 96, 7},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("n=%d_p=%g", tt.n, tt.p), func(t *testing.T) {
			f := newFilter(tt.n, tt.p)
			if f.m != tt.wantM {
				t.Errorf("m = %d, want %d", f.m, tt.wantM)
			}
			if f.k != tt.wantK {
				t.Errorf("k = %d, want %d", f.k, tt.wantK)
			}
			if got, want := len(f.bits), int((tt.wantM+63)/64); got != want {
				t.Errorf("len(bits) = %d, want %d", got, want)
			}
		})
	}
}

func TestBloomUninitializedIsConservative(t *testing.T) {
	b := NewBloom(testBloomConfig())

	if !b.MightContainJTI("anything") {
		t.Error("MightContainJTI() = false before first rebuild, want true")
	}
	if !b.MightContainUser("anyone") {
		t.Error("MightContainUser() = false before first rebuild, want true")
	}
	if b.Initialized() {
		t.Error("Initialized() = true before first rebuild")
	}
}

func TestBloomRebuildAndLookup(t *testing.T) {
	b := NewBloom(testBloomConfig())

	err := b.Rebuild(func(addJTI, addUser func(string)) error {
		for i := 0; i < 50; i++ {
			addJTI(fmt.Sprintf("jti-%d", i))
		}
		for i := 0; i < 10; i++ {
			addUser(fmt.Sprintf("user-%d", i))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Rebuild() error = %v", err)
	}
	if !b.Initialized() {
		t.Fatal("Initialized() = false after rebuild")
	}

	for i := 0; i < 50; i++ {
		if !b.MightContainJTI(fmt.Sprintf("jti-%d", i)) {
			t.Errorf("MightContainJTI(jti-%d) = false for inserted value", i)
		}
	}
	if !b.MightContainUser("user-3") {
		t.Error("MightContainUser(user-3) = false for inserted value")
	}
	if b.MightContainJTI("never-inserted-token-id") {
		t.Error("MightContainJTI() = true for absent value")
	}
	if b.MightContainUser("never-inserted-user") {
		t.Error("MightContainUser() = true for absent value")
	}
}

func TestBloomRebuildFailureKeepsOldFilter(t *testing.T) {
	b := NewBloom(testBloomConfig())

	if err := b.Rebuild(func(addJTI, _ func(string)) error {
		addJTI("kept")
		return nil
	}); err != nil {
		t.Fatalf("first Rebuild() error = %v", err)
	}

	wantErr := errors.New("stream broke")
	err := b.Rebuild(func(addJTI, _ func(string)) error {
		addJTI("phantom")
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("second Rebuild() error = %v, want %v", err, wantErr)
	}

	if !b.MightContainJTI("kept") {
		t.Error("MightContainJTI(kept) = false, failed rebuild replaced the live filter")
	}
	if b.MightContainJTI("phantom") {
		t.Error("MightContainJTI(phantom) = true, failed rebuild leaked into the live filter")
	}
}

func TestBloomIncrementalAdd(t *testing.T) {
	b := NewBloom(testBloomConfig())
	if err := b.Rebuild(func(_, _ func(string)) error { return nil }); err != nil {
		t.Fatalf("Rebuild() error = %v", err)
	}

	if b.MightContainJTI("jti-late") {
		t.Fatal("MightContainJTI(jti-late) = true before add")
	}
	b.AddJTI("jti-late")
	b.AddUser("user-late")

	if !b.MightContainJTI("jti-late") {
		t.Error("MightContainJTI(jti-late) = false after AddJTI")
	}
	if !b.MightContainUser("user-late") {
		t.Error("MightContainUser(user-late) = false after AddUser")
	}
}

func TestBloomFalsePositiveRate(t *testing.T) {
	cfg := config.BloomConfig{
		Enabled:                  true,
		ExpectedInsertions:       1000,
		FalsePositiveProbability: 0.01,
	}
	b := NewBloom(cfg)
	if err := b.Rebuild(func(addJTI, _ func(string)) error {
		for i := 0; i < 1000; i++ {
			addJTI(fmt.Sprintf("member-%d", i))
		}
		return nil
	}); err != nil {
		t.Fatalf("Rebuild() error = %v", err)
	}

	falsePositives := 0
	const probes = 10000
	for i := 0; i < probes; i++ {
		if b.MightContainJTI(fmt.Sprintf("absent-%d", i)) {
			falsePositives++
		}
	}

	// Allow triple the configured rate to keep the test stable.
	if rate := float64(falsePositives) / probes; rate > 0.03 {
		t.Errorf("false positive rate = %.4f over %d probes, want <= 0.03", rate, probes)
	}
}

func BenchmarkBloomLookup(b *testing.B) {
	bloom := NewBloom(config.BloomConfig{ExpectedInsertions: 100000, FalsePositiveProbability: 0.001})
	if err := bloom.Rebuild(func(addJTI, _ func(string)) error {
		for i := 0; i < 100000; i++ {
			addJTI(fmt.Sprintf("jti-%d", i))
		}
		return nil
	}); err != nil {
		b.Fatalf("Rebuild() error = %v", err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		bloom.MightContainJTI("jti-50000")
	}
}
