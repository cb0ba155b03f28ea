package redis

import "testing"

func TestStreamKey(t *testing.T) {
	if got := StreamKey("orders"); got != "stream:orders" {
		t.Errorf("StreamKey(orders) = %q, want stream:orders", got)
	}
}

func TestHasPattern(t *testing.T) {
	cases := []struct {
		channel string
		want    bool
	}{
		{"signals", false},
		{"orders", false},
		{"signals:*", true},
		{"orders:?", true},
		{"events:[ab]", true},
	}
	for _, c := range cases {
		if got := hasPattern(c.channel); got != c.want {
			t.Errorf("hasPattern(%q) = %v, want %v", c.channel, got, c.want)
		}
	}
}
