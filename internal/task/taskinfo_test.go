package task

import "testing"

func TestAddSentClampsToTotal(t *testing.T) {
	ti := New(1, KindCopy, false, Credentials{}, 100)
	ti.AddSent(60)
	ti.AddSent(60)
	snap := ti.Snapshot()
	if snap.TotalBytes-snap.PendingBytes != 100 {
		t.Fatalf("sent bytes overshot total: snapshot = %+v", snap)
	}
	if snap.PendingBytes != 0 {
		t.Fatalf("pending = %d, want 0", snap.PendingBytes)
	}
}

func TestFinishCleanIsFinished(t *testing.T) {
	ti := New(1, KindCopy, false, Credentials{}, 0)
	ti.SetRunning()
	ti.Finish("", 0)
	if ti.Status() != StatusFinished {
		t.Fatalf("status = %s, want finished", ti.Status())
	}
}

func TestFinishWithTaskErrorIsFinishedWithError(t *testing.T) {
	ti := New(1, KindCopy, false, Credentials{}, 0)
	ti.SetRunning()
	ti.Finish("boom", 0)
	if ti.Status() != StatusFinishedWithError {
		t.Fatalf("status = %s, want finished-with-error", ti.Status())
	}
}

func TestFinishWithSysErrorIsFinishedWithError(t *testing.T) {
	ti := New(1, KindCopy, false, Credentials{}, 0)
	ti.SetRunning()
	ti.Finish("", 5)
	if ti.Status() != StatusFinishedWithError {
		t.Fatalf("status = %s, want finished-with-error", ti.Status())
	}
}

func TestStatusErrCodeMapping(t *testing.T) {
	cases := map[Status]string{
		StatusPending:           "pending",
		StatusRunning:           "in-progress",
		StatusFinished:          "finished",
		StatusFinishedWithError: "finished-with-error",
	}
	for status, want := range cases {
		if got := status.ErrCode().String(); got != want {
			t.Errorf("%s.ErrCode() = %s, want %s", status, got, want)
		}
	}
}
