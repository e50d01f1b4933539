package cache

import "testing"

func TestEncodeValue(t *testing.T) {
	tests := []struct {
		name  string
		value interface{}
		want  string
	}{
		{"string passthrough", "plain", "plain"},
		{"bytes passthrough", []byte("raw"), "raw"},
		{"struct to json", map[string]int{"n": 1}, `{"n":1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EncodeValue(tt.value)
			if err != nil {
				t.Fatalf("EncodeValue: %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("EncodeValue = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestEncodeValueRejectsUnmarshalable(t *testing.T) {
	if _, err := EncodeValue(make(chan int)); err == nil {
		t.Error("expected error for a channel value")
	}
}

func TestPKCEKey(t *testing.T) {
	if got := PKCEKey("abc123"); got != "pkce:challenge:abc123" {
		t.Errorf("PKCEKey = %q, want %q", got, "pkce:challenge:abc123")
	}
}
