package transcript

import "testing"

func TestBuffer_DeltaConcatenation(t *testing.T) {
	b := NewBuffer()

	b.OpenLive("...")
	for _, d := range []string{"Hel", "lo ", "wor", "ld"} {
		b.AppendDelta(d)
	}
	final := b.Finalize("Hello world")

	if final.Live {
		t.Error("finalized entry must not be live")
	}
	if final.Text != "Hello world" {
		t.Errorf("expected finalized text %q, got %q", "Hello world", final.Text)
	}
	if _, ok := b.Live(); ok {
		t.Error("live slot must be empty after finalize")
	}
	if n := len(b.Entries()); n != 1 {
		t.Errorf("expected 1 entry, got %d", n)
	}
}

func TestBuffer_AtMostOneLiveEntry(t *testing.T) {
	b := NewBuffer()

	b.AppendDelta("first")
	b.OpenLive("placeholder")
	b.AppendDelta("second")

	live := 0
	for _, e := range b.Entries() {
		if e.Live {
			live++
		}
	}
	if live != 1 {
		t.Errorf("expected exactly one live entry, got %d", live)
	}
}

func TestBuffer_DeltaCreatesLiveIfAbsent(t *testing.T) {
	b := NewBuffer()

	entry := b.AppendDelta("partial")
	if !entry.Live {
		t.Error("delta without a live entry should create one")
	}
	if entry.Text != "partial" {
		t.Errorf("expected text %q, got %q", "partial", entry.Text)
	}
}

func TestBuffer_FinalizeResetsAccumulation(t *testing.T) {
	b := NewBuffer()

	b.AppendDelta("one")
	b.Finalize("one")
	entry := b.AppendDelta("two")

	if entry.Text != "two" {
		t.Errorf("accumulation buffer leaked across finalize: got %q", entry.Text)
	}
}

func TestBuffer_FailLeavesPriorEntries(t *testing.T) {
	b := NewBuffer()

	b.Finalize("kept")
	b.AppendDelta("doomed")
	b.Fail("transcription failed")

	entries := b.Entries()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Text != "kept" || entries[0].Sentinel {
		t.Errorf("prior entry corrupted: %+v", entries[0])
	}
	if !entries[1].Sentinel {
		t.Error("failure entry must be marked sentinel")
	}
	if _, ok := b.Live(); ok {
		t.Error("live slot must be empty after failure")
	}
}

func TestBuffer_ConsecutiveUtterances(t *testing.T) {
	b := NewBuffer()

	b.AppendDelta("How are ")
	b.AppendDelta("you?")
	b.Finalize("How are you?")
	b.AppendDelta("Fine, ")
	b.AppendDelta("thanks.")
	final := b.Finalize("Fine, thanks.")

	entries := b.Entries()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Text != "How are you?" {
		t.Errorf("first utterance wrong: %q", entries[0].Text)
	}
	if final.Text != "Fine, thanks." {
		t.Errorf("second utterance wrong: %q", final.Text)
	}
}
