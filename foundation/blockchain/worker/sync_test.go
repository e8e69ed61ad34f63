package worker

import (
	"reflect"
	"testing"
)

// Success and failure markers.
const (
	success = "✓"
	failed  = "✗"
)

func TestLocatorHeights(t *testing.T) {
	type table struct {
		height uint64
		exp    []uint64
	}

	tt := []table{
		{1, []uint64{1}},
		{2, []uint64{2, 1}},
		{10, []uint64{10, 9, 8, 6, 2, 1}},
		{100, []uint64{100, 99, 98, 96, 92, 84, 68, 36, 1}},
	}

	t.Log("Given the need to build exponential locator heights.")
	{
		for i, tst := range tt {
			got := locatorHeights(tst.height)
			if !reflect.DeepEqual(got, tst.exp) {
				t.Fatalf("\t%s\tTest %d:\tHeight %d: got %v, exp %v.", failed, i, tst.height, got, tst.exp)
			}
			t.Logf("\t%s\tTest %d:\tHeight %d locator.", success, i, tst.height)
		}
	}
}
