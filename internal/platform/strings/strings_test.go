package strings

import "testing"

func TestPtrDeref(t *testing.T) {
	t.Parallel()
	if Ptr("") != nil || Deref(nil) != "" || Deref(Ptr("x")) != "x" {
		t.Fatalf("Ptr/Deref mismatch")
	}
	if got := IfEmpty([]int(nil), []int{1}); len(got) != 1 {
		t.Fatalf("IfEmpty = %v", got)
	}
}
