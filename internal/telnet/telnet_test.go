package telnet

import (
	"bytes"
	"testing"
)

func TestFilterPlainDataPassesThrough(t *testing.T) {
	f := NewFilter()
	got := f.Apply([]byte("hello world"))
	if string(got) != "hello world" {
		t.Fatalf("got %q", got)
	}
}

func TestFilterStripsWillOption(t *testing.T) {
	f := NewFilter()
	in := []byte{0xFF, 0xFB, 1, 'h', 'i'} // IAC WILL ECHO
	got := f.Apply(in)
	if string(got) != "hi" {
		t.Fatalf("got %q, want %q", got, "hi")
	}
}

func TestFilterCollapsesEscapedIAC(t *testing.T) {
	f := NewFilter()
	in := []byte{0xFF, 0xFF, 'x'}
	got := f.Apply(in)
	want := []byte{0xFF, 'x'}
	if !bytes.Equal(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestFilterDropsStandaloneCommand(t *testing.T) {
	f := NewFilter()
	in := []byte{'a', 0xFF, 0xF1, 'b'} // IAC NOP
	got := f.Apply(in)
	if string(got) != "ab" {
		t.Fatalf("got %q", got)
	}
}

func TestFilterDropsSubnegotiation(t *testing.T) {
	f := NewFilter()
	// IAC SB TTYPE SEND IAC SE, surrounded by data
	in := []byte{'a', 0xFF, 0xFA, 24, 1, 0xFF, 0xF0, 'b'}
	got := f.Apply(in)
	if string(got) != "ab" {
		t.Fatalf("got %q", got)
	}
}

func TestFilterSubnegotiationWithEscapedIACInPayload(t *testing.T) {
	f := NewFilter()
	// IAC SB ... 0xFF 0xFF (escaped, stays inside SB) ... IAC SE
	in := []byte{0xFF, 0xFA, 31, 0xFF, 0xFF, 0xFF, 0xF0, 'z'}
	got := f.Apply(in)
	if string(got) != "z" {
		t.Fatalf("got %q", got)
	}
}

func TestFilterHandlesCommandSplitAcrossCalls(t *testing.T) {
	f := NewFilter()
	got1 := f.Apply([]byte{'a', 0xFF})
	got2 := f.Apply([]byte{0xFB, 1, 'b'})
	got := append(got1, got2...)
	if string(got) != "ab" {
		t.Fatalf("got %q", got)
	}
}

func TestEscapeDoublesLiteralFF(t *testing.T) {
	got := Escape([]byte{'a', 0xFF, 'b'})
	want := []byte{'a', 0xFF, 0xFF, 'b'}
	if !bytes.Equal(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestEscapeNoOpOnPlainData(t *testing.T) {
	got := Escape([]byte("plain"))
	if string(got) != "plain" {
		t.Fatalf("got %q", got)
	}
}
