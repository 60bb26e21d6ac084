package resp

import (
	"bytes"
	"errors"
	"testing"
)

func cmdEqual(a, b Command) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !bytes.Equal(a[i], b[i]) {
			return false
		}
	}
	return true
}

func cmdsEqual(a, b []Command) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !cmdEqual(a[i], b[i]) {
			return false
		}
	}
	return true
}

func TestFeedSingleCommand(t *testing.T) {
	p := NewParser()
	input := "*3\r\n$3\r\nSET\r\n$3\r\nfoo\r\n$3\r\nbar\r\n"
	cmds, err := p.Feed([]byte(input))
	if err != nil {
		t.Fatalf("Feed: %v", err)
	}
	want := []Command{{[]byte("SET"), []byte("foo"), []byte("bar")}}
	if !cmdsEqual(cmds, want) {
		t.Fatalf("cmds = %q, want %q", cmds, want)
	}
}

func TestFeedPipelined(t *testing.T) {
	p := NewParser()
	input := "*5\r\n$4\r\nMSET\r\n$1\r\na\r\n$1\r\n1\r\n$1\r\nb\r\n$1\r\n2\r\n" +
		"*3\r\n$4\r\nMGET\r\n$1\r\na\r\n$1\r\nb\r\n"
	cmds, err := p.Feed([]byte(input))
	if err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if len(cmds) != 2 {
		t.Fatalf("len(cmds) = %d, want 2", len(cmds))
	}
}

func TestFeedFragmented(t *testing.T) {
	p := NewParser()
	chunks := []string{"*2\r\n$3\r\nGE", "T\r\n$3\r\nfoo", "\r\n"}

	var got []Command
	for _, c := range chunks {
		cmds, err := p.Feed([]byte(c))
		if err != nil {
			t.Fatalf("Feed(%q): %v", c, err)
		}
		got = append(got, cmds...)
	}

	want := []Command{{[]byte("GET"), []byte("foo")}}
	if !cmdsEqual(got, want) {
		t.Fatalf("got = %q, want %q", got, want)
	}
}

func TestFeedByteAtATime(t *testing.T) {
	p := NewParser()
	input := []byte("*2\r\n$3\r\nGET\r\n$6\r\nabsent\r\n")

	var got []Command
	for _, b := range input {
		cmds, err := p.Feed([]byte{b})
		if err != nil {
			t.Fatalf("Feed: %v", err)
		}
		got = append(got, cmds...)
	}

	want := []Command{{[]byte("GET"), []byte("absent")}}
	if !cmdsEqual(got, want) {
		t.Fatalf("got = %q, want %q", got, want)
	}
}

func TestFeedIncompleteReturnsNoCommands(t *testing.T) {
	p := NewParser()
	cmds, err := p.Feed([]byte("*2\r\n$3\r\nSET"))
	if err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if len(cmds) != 0 {
		t.Fatalf("cmds = %v, want empty", cmds)
	}
	if p.Pending() == 0 {
		t.Fatalf("expected pending bytes retained")
	}
}

func TestFeedBadLengthResetsParser(t *testing.T) {
	p := NewParser()
	_, err := p.Feed([]byte("*2\r\n$notanumber\r\nxx\r\n"))
	if err == nil {
		t.Fatalf("expected protocol error")
	}
	if !errors.Is(err, ErrProtocol) {
		t.Fatalf("err = %v, want ErrProtocol", err)
	}
	if p.Pending() != 0 {
		t.Fatalf("Pending() = %d, want 0 after reset", p.Pending())
	}
}

func TestFeedBadTypeTagSkipsByte(t *testing.T) {
	p := NewParser()
	// A garbage byte followed by a valid command must still parse the
	// valid command.
	input := append([]byte("?"), []byte("*2\r\n$3\r\nGET\r\n$1\r\nk\r\n")...)
	cmds, err := p.Feed(input)
	if err != nil {
		t.Fatalf("Feed: %v", err)
	}
	want := []Command{{[]byte("GET"), []byte("k")}}
	if !cmdsEqual(cmds, want) {
		t.Fatalf("cmds = %q, want %q", cmds, want)
	}
}

// TestRoundTrip checks the parser round-trip invariant from spec.md §8:
// for any sequence of valid commands, any arbitrary partition of the
// serialized bytes into chunks yields the same command sequence.
func TestRoundTrip(t *testing.T) {
	cmds := []Command{
		{[]byte("SET"), []byte("k1"), []byte("v1")},
		{[]byte("GET"), []byte("k1")},
		{[]byte("MSET"), []byte("a"), []byte("1"), []byte("b"), []byte("2")},
		{[]byte("DEL"), []byte("k1")},
	}

	var wire []byte
	for _, c := range cmds {
		wire = WriteArrayHeader(wire, len(c))
		for _, arg := range c {
			wire = WriteBulk(wire, arg)
		}
	}

	partitions := [][]int{
		{len(wire)},           // one chunk
		splitEvery(wire, 1),   // byte at a time
		splitEvery(wire, 7),   // arbitrary chunk size
		splitEvery(wire, 32),
	}

	for _, sizes := range partitions {
		p := NewParser()
		var got []Command
		offset := 0
		for _, sz := range sizes {
			chunk := wire[offset : offset+sz]
			offset += sz
			out, err := p.Feed(chunk)
			if err != nil {
				t.Fatalf("Feed: %v", err)
			}
			got = append(got, out...)
		}
		if !cmdsEqual(got, cmds) {
			t.Fatalf("round trip with sizes %v: got %q, want %q", sizes, got, cmds)
		}
	}
}

func splitEvery(b []byte, n int) []int {
	var sizes []int
	for len(b) > 0 {
		sz := n
		if sz > len(b) {
			sz = len(b)
		}
		sizes = append(sizes, sz)
		b = b[sz:]
	}
	return sizes
}

func TestWriteHelpers(t *testing.T) {
	var got []byte
	got = WriteSimpleString(got, "OK")
	if string(got) != "+OK\r\n" {
		t.Errorf("WriteSimpleString = %q", got)
	}

	got = nil
	got = WriteError(got, "ERR bad")
	if string(got) != "-ERR bad\r\n" {
		t.Errorf("WriteError = %q", got)
	}

	got = nil
	got = WriteInteger(got, 42)
	if string(got) != ":42\r\n" {
		t.Errorf("WriteInteger = %q", got)
	}

	got = nil
	got = WriteBulk(got, nil)
	if string(got) != "$-1\r\n" {
		t.Errorf("WriteBulk(nil) = %q", got)
	}

	got = nil
	got = WriteBulkString(got, "bar")
	if string(got) != "$3\r\nbar\r\n" {
		t.Errorf("WriteBulkString = %q", got)
	}
}
