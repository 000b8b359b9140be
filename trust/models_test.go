package trust

import "testing"

func TestWorkerCompletionPoints(t *testing.T) {
	cases := []struct {
		name   string
		rating int
		onTime bool
		want   int
	}{
		{"base only", 3, false, 20},
		{"high rating", 4, false, 30},
		{"on time", 2, true, 25},
		{"top marks on time", 5, true, 35},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := WorkerCompletionPoints(c.rating, c.onTime); got != c.want {
				t.Fatalf("WorkerCompletionPoints(%d, %v) = %d, want %d", c.rating, c.onTime, got, c.want)
			}
		})
	}
}

func TestEmployerCompletionPoints(t *testing.T) {
	if got := EmployerCompletionPoints(false); got != 30 {
		t.Fatalf("base employer points = %d, want 30", got)
	}
	if got := EmployerCompletionPoints(true); got != 35 {
		t.Fatalf("on-time employer points = %d, want 35", got)
	}
}
