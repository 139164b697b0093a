package task

import "testing"

func TestRetentionSaveAndQuery(t *testing.T) {
	r, err := OpenRetention("", 10)
	if err != nil {
		t.Fatalf("OpenRetention: %v", err)
	}
	defer r.Close()

	ti := New(1, KindCopy, false, Credentials{}, 100)
	ti.SrcNsid, ti.DstNsid = "ns-a", "ns-b"
	ti.SetRunning()
	ti.Finish("", 0)
	r.Save(ti)

	recs, err := r.ByNamespacePair("ns-a", "ns-b")
	if err != nil {
		t.Fatalf("ByNamespacePair: %v", err)
	}
	if len(recs) != 1 || recs[0].ID != 1 || recs[0].Status != "finished" {
		t.Fatalf("unexpected records: %+v", recs)
	}
}

func TestRetentionEvictsOldestBeyondCapacity(t *testing.T) {
	r, err := OpenRetention("", 2)
	if err != nil {
		t.Fatalf("OpenRetention: %v", err)
	}
	defer r.Close()

	for i := uint64(1); i <= 3; i++ {
		ti := New(i, KindRemove, false, Credentials{}, 0)
		ti.SrcNsid, ti.DstNsid = "ns", ""
		ti.SetRunning()
		ti.Finish("", 0)
		r.Save(ti)
	}
	recs, err := r.ByNamespacePair("ns", "")
	if err != nil {
		t.Fatalf("ByNamespacePair: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("len(recs) = %d, want 2 after capacity-2 eviction", len(recs))
	}
}
