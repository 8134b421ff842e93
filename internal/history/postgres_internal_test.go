package history

import (
	"testing"
	"time"
)

func TestWithPostgresTTL(t *testing.T) {
	tests := []struct {
		name string
		in   time.Duration
		want time.Duration
	}{
		{"configured", 2 * time.Hour, 2 * time.Hour},
		{"zero keeps default", 0, TTL},
		{"negative keeps default", -time.Minute, TTL},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &Postgres{ttl: TTL}
			WithPostgresTTL(tt.in)(p)
			if p.ttl != tt.want {
				t.Errorf("ttl = %v, want %v", p.ttl, tt.want)
			}
		})
	}
}
