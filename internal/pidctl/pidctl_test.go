package pidctl

import "testing"

func TestControllerConvergesOnZeroError(t *testing.T) {
	c := New(0.25, 0.01, 0.01, -1000, 1000)
	for i := 0; i < 10; i++ {
		out := c.Next(0, 1)
		if out != 0 {
			t.Fatalf("iteration %d: expected 0 correction for 0 error, got %v", i, out)
		}
	}
}

func TestControllerSaturates(t *testing.T) {
	c := New(1, 1, 0, -10, 10)
	var out float64
	for i := 0; i < 100; i++ {
		out = c.Next(1000, 1)
	}
	if out != 10 {
		t.Errorf("expected output saturated at max=10, got %v", out)
	}
}

func TestControllerReset(t *testing.T) {
	c := New(0.25, 0.1, 0, -100, 100)
	c.Next(5, 1)
	c.Next(5, 1)
	c.Reset()
	if c.integral != 0 || c.hasPrev {
		t.Error("expected Reset to clear integral and derivative state")
	}
}
