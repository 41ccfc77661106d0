package errcode

import "testing"

func TestTag(t *testing.T) {
	cases := []struct {
		c    Code
		want string
	}{
		{IO, "{io}"},
		{BadBin, "{bad-bin}"},
		{NotSupported, "{not-supported}"},
		{Mem, "{mem}"},
		{Bad, "{bad}"},
		{Timeout, "{timeout}"},
		{Error, ""},
	}
	for _, c := range cases {
		if got := c.c.Tag(); got != c.want {
			t.Errorf("%v.Tag() = %q, want %q", c.c, got, c.want)
		}
	}
}

func TestErrorRendersTag(t *testing.T) {
	e := New(IO, "transaction", "transaction timeout")
	if got, want := e.Error(), "transaction timeout {io}"; got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}

	e2 := New(IO, "transaction", "")
	if got, want := e2.Error(), "{io}"; got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}
}

func TestOf(t *testing.T) {
	if Of(nil) != OK {
		t.Fatalf("Of(nil) should be OK")
	}
	if Of(New(IO, "op", "x")) != IO {
		t.Fatalf("Of(*E) should extract Code")
	}
	if Of(errPlain{}) != Error {
		t.Fatalf("Of(unknown) should fall back to Error")
	}
}

type errPlain struct{}

func (errPlain) Error() string { return "boom" }

func TestContainsTag(t *testing.T) {
	if !ContainsTag("corrupt response {io}", IO) {
		t.Fatalf("expected {io} tag to be found")
	}
	if ContainsTag("corrupt response {io}", NotSupported) {
		t.Fatalf("did not expect {not-supported} tag to be found")
	}
}

func TestWrapUnwrap(t *testing.T) {
	cause := errPlain{}
	e := Wrap(Mem, "alloc", cause)
	if e.Unwrap() != cause {
		t.Fatalf("Unwrap should return the wrapped cause")
	}
	if e.Code() != Mem {
		t.Fatalf("Code() should return Mem")
	}
}
