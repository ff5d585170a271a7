package nativeproxy

import (
	"testing"
)

func TestClapEntryInitIsIdempotent(t *testing.T) {
	first := clapEntryInit(cString(t, "/plugins/example.clap"))
	second := clapEntryInit(cString(t, "/plugins/example.clap"))

	if !bool(first) {
		t.Fatal("expected first clapEntryInit call to report success")
	}
	if !bool(second) {
		t.Fatal("expected repeated clapEntryInit call to still report success")
	}
}

func TestClapEntryDeinitDoesNotPanicWhenCalledTwice(t *testing.T) {
	clapEntryDeinit()
	clapEntryDeinit()
}

func TestClapEntryGetFactoryAnswersNilForAnyID(t *testing.T) {
	if got := clapEntryGetFactory(cString(t, "clap.plugin-factory")); got != nil {
		t.Fatalf("expected nil factory pointer, got %v", got)
	}
}
