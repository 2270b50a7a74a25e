package iobuf

import "testing"

func TestGetPutRoundTrip(t *testing.T) {
	buf := Get()
	if buf.Len() != 0 {
		t.Fatalf("fresh buffer from pool should be empty, got len %d", buf.Len())
	}
	buf.WriteString("hello")
	if buf.String() != "hello" {
		t.Fatalf("unexpected buffer contents: %q", buf.String())
	}
	Put(buf)
}

func TestGetReturnsDistinctBuffers(t *testing.T) {
	a := Get()
	b := Get()
	if a == b {
		t.Fatal("Get should not hand out the same buffer to two live holders")
	}
	Put(a)
	Put(b)
}
