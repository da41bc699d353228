package tabs

import "testing"

func scriptedArbiter(hasScript bool) *Arbiter {
	return NewArbiter(func() bool { return hasScript })
}

func TestAdmitRejectsWithoutScript(t *testing.T) {
	a := scriptedArbiter(false)
	if a.Admit("tab-1", 0, "https://example.com/v") {
		t.Fatal("Admit() = true with no active script; want false")
	}
	if _, ok := a.Claim(); ok {
		t.Fatal("claim exists after rejected event")
	}
}

func TestAdmitRejectsUndefinedTab(t *testing.T) {
	a := scriptedArbiter(true)
	if a.Admit("", 0, "https://example.com/v") {
		t.Fatal("Admit() = true for undefined tab id; want false")
	}
}

func TestSingleClaimInvariant(t *testing.T) {
	a := scriptedArbiter(true)

	if !a.Admit("tab-1", 0, "https://example.com/a") {
		t.Fatal("first event from unclaimed state rejected")
	}
	if a.Admit("tab-2", 0, "https://example.com/b") {
		t.Fatal("event from different tab accepted; no pre-emption allowed")
	}
	if !a.Admit("tab-1", 0, "https://example.com/a") {
		t.Fatal("event from claim holder rejected")
	}

	claim, ok := a.Claim()
	if !ok || claim.TabID != "tab-1" {
		t.Fatalf("claim = %+v, %v; want holder tab-1", claim, ok)
	}
}

func TestFrameRefinement(t *testing.T) {
	a := scriptedArbiter(true)

	a.Admit("tab-1", 0, "https://example.com/a")
	a.Admit("tab-1", 7, "https://example.com/a")

	claim, _ := a.Claim()
	if claim.FrameID != 7 {
		t.Fatalf("frame id = %d; want 7 (placeholder refined)", claim.FrameID)
	}

	// A second non-zero frame does not re-refine.
	a.Admit("tab-1", 9, "https://example.com/a")
	claim, _ = a.Claim()
	if claim.FrameID != 7 {
		t.Fatalf("frame id = %d; want 7 (refinement is one-shot)", claim.FrameID)
	}
}

func TestNavigationReleasesClaim(t *testing.T) {
	a := scriptedArbiter(true)

	a.Admit("tab-1", 0, "https://example.com/a")
	if a.Admit("tab-1", 0, "https://example.com/b") {
		t.Fatal("event after in-tab navigation accepted; want one-tick rejection")
	}
	if _, ok := a.Claim(); ok {
		t.Fatal("claim survived holder navigation")
	}

	// The next event from the same tab may claim again.
	if !a.Admit("tab-1", 0, "https://example.com/b") {
		t.Fatal("re-claim after navigation rejected")
	}
}

func TestNavigationOfNonHolderOnlyUpdatesURL(t *testing.T) {
	a := scriptedArbiter(true)

	a.Admit("tab-1", 0, "https://example.com/a")
	a.Admit("tab-2", 0, "https://example.com/x")
	// tab-2 navigates; the holder's claim is untouched.
	a.Admit("tab-2", 0, "https://example.com/y")

	claim, ok := a.Claim()
	if !ok || claim.TabID != "tab-1" {
		t.Fatalf("claim = %+v, %v; want undisturbed holder tab-1", claim, ok)
	}
}

func TestSetActiveTabBypassesRules(t *testing.T) {
	a := scriptedArbiter(false) // even with no script loaded

	a.SetActiveTab("tab-9", 3, "https://example.com/p")

	claim, ok := a.Claim()
	if !ok || claim.TabID != "tab-9" || claim.FrameID != 3 {
		t.Fatalf("claim = %+v, %v; want explicit assignment to tab-9/3", claim, ok)
	}
}

func TestReleaseTabIdempotence(t *testing.T) {
	a := scriptedArbiter(true)
	a.Admit("tab-1", 0, "https://example.com/a")

	if a.ReleaseTab("tab-2") {
		t.Fatal("closing a non-holder reported holder release")
	}
	if _, ok := a.Claim(); !ok {
		t.Fatal("claim lost when a non-holder closed")
	}

	if !a.ReleaseTab("tab-1") {
		t.Fatal("closing the holder did not report release")
	}
	if _, ok := a.Claim(); ok {
		t.Fatal("claim survived holder close")
	}
	if a.ReleaseTab("tab-1") {
		t.Fatal("second close of the same tab reported release again")
	}
}

func TestNoteNavigationExternalObservation(t *testing.T) {
	a := scriptedArbiter(true)
	a.Admit("tab-1", 0, "https://example.com/a")

	if a.NoteNavigation("tab-2", "https://example.com/z") {
		t.Fatal("navigation of unknown tab reported teardown")
	}
	if !a.NoteNavigation("tab-1", "https://example.com/away") {
		t.Fatal("holder navigation not reported for teardown")
	}
	if _, ok := a.Claim(); ok {
		t.Fatal("claim survived observed navigation")
	}
}
