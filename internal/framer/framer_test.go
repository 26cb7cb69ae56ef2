package framer

import (
	"reflect"
	"testing"
)

func linesToStrings(lines [][]byte) []string {
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = string(l)
	}
	return out
}

func TestFeedSingleCRLFLine(t *testing.T) {
	f := New()
	got := linesToStrings(f.Feed([]byte("hello\r\n")))
	want := []string{"hello"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestFeedBareLFLine(t *testing.T) {
	f := New()
	got := linesToStrings(f.Feed([]byte("hello\n")))
	want := []string{"hello"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestFeedBackspaceEditsInLine(t *testing.T) {
	f := New()
	got := linesToStrings(f.Feed([]byte("abc\x08d\r\n")))
	want := []string{"abd"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestFeedBackspaceOnEmptyBufferIsNoOp(t *testing.T) {
	f := New()
	got := linesToStrings(f.Feed([]byte("\x08\x08abc\r\n")))
	want := []string{"abc"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestFeedBuffersIncompleteLineAcrossCalls(t *testing.T) {
	f := New()
	if lines := f.Feed([]byte("abc")); len(lines) != 0 {
		t.Fatalf("expected no lines yet, got %v", lines)
	}
	got := linesToStrings(f.Feed([]byte("def\r\n")))
	want := []string{"abcdef"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestFeedCRLFSplitAcrossCallsDoesNotDoubleEmit(t *testing.T) {
	f := New()
	got1 := linesToStrings(f.Feed([]byte("abc\r")))
	got2 := linesToStrings(f.Feed([]byte("\ndef\r\n")))
	if !reflect.DeepEqual(got1, []string{"abc"}) {
		t.Fatalf("first feed got %v", got1)
	}
	if !reflect.DeepEqual(got2, []string{"def"}) {
		t.Fatalf("second feed got %v", got2)
	}
}

func TestFeedBareCRAloneIsATerminator(t *testing.T) {
	f := New()
	got1 := linesToStrings(f.Feed([]byte("abc\r")))
	got2 := linesToStrings(f.Feed([]byte("xyz\r\n")))
	if !reflect.DeepEqual(got1, []string{"abc"}) {
		t.Fatalf("first feed got %v", got1)
	}
	if !reflect.DeepEqual(got2, []string{"xyz"}) {
		t.Fatalf("second feed got %v", got2)
	}
}

func TestFeedMultipleLinesInOneCall(t *testing.T) {
	f := New()
	got := linesToStrings(f.Feed([]byte("one\r\ntwo\r\nthree\r\n")))
	want := []string{"one", "two", "three"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestPendingReturnsUnterminatedBytes(t *testing.T) {
	f := New()
	f.Feed([]byte("partial"))
	if string(f.Pending()) != "partial" {
		t.Fatalf("got %q", f.Pending())
	}
}
