package sync

import (
	"testing"
	"time"
)

func TestBackoffPolicyGrowsToCap(t *testing.T) {
	p := newBackoffPolicy(10*time.Millisecond, 50*time.Millisecond)

	var delays []time.Duration
	for i := 0; i < 6; i++ {
		delays = append(delays, p.next())
	}

	if delays[0] < 10*time.Millisecond {
		t.Errorf("first delay %v below base", delays[0])
	}
	for i := 1; i < len(delays); i++ {
		if delays[i] < delays[i-1] {
			t.Errorf("delay shrank: %v after %v", delays[i], delays[i-1])
		}
		if delays[i] > 50*time.Millisecond {
			t.Errorf("delay %v exceeds cap", delays[i])
		}
	}
	if delays[len(delays)-1] != 50*time.Millisecond {
		t.Errorf("expected the streak to reach the cap, got %v", delays[len(delays)-1])
	}
}

func TestBackoffPolicyResetStartsOver(t *testing.T) {
	p := newBackoffPolicy(10*time.Millisecond, time.Second)

	for i := 0; i < 4; i++ {
		p.next()
	}
	p.reset()

	if d := p.next(); d > 20*time.Millisecond {
		t.Errorf("delay after reset %v should be back near the base", d)
	}
}

func TestBackoffPolicyDefaults(t *testing.T) {
	p := newBackoffPolicy(0, 0)
	if p.base != defaultBackoffBase || p.cap != defaultBackoffCap {
		t.Errorf("got base %v cap %v", p.base, p.cap)
	}
}
