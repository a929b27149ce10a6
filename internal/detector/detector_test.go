package detector

import (
	"context"
	"os"
	"testing"
	"time"
)

func TestPIDDetectorSelf(t *testing.T) {
	ctx := context.Background()
	d := PIDDetector{PID: os.Getpid()}
	alive, err := d.Alive(ctx)
	if err != nil || !alive {
		t.Fatalf("own process should be alive: %v %v", alive, err)
	}
	if d.Describe() == "" {
		t.Fatal("empty description")
	}
}

func TestPIDDetectorRejectsReusedPID(t *testing.T) {
	// our own process started before "now + 1h", so it cannot be a job created then
	d := PIDDetector{PID: os.Getpid(), StartedAfter: time.Now().Add(time.Hour)}
	alive, err := d.Alive(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if alive {
		t.Fatal("process older than the job must not count as alive")
	}
}

func TestPIDDetectorInvalid(t *testing.T) {
	for _, pid := range []int{0, -1} {
		alive, err := PIDDetector{PID: pid}.Alive(context.Background())
		if err != nil || alive {
			t.Fatalf("pid %d: %v %v", pid, alive, err)
		}
	}
}
