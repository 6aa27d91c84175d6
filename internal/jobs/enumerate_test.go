package jobs

import (
	"fmt"
	"reflect"
	"testing"

	"github.com/popgen/structure-threader/internal/models"
)

func TestEnumerateStructureOrder(t *testing.T) {
	got := Enumerate(models.Structure, []int{2, 3}, 2)
	want := []models.Job{
		{K: 3, Replicate: 2},
		{K: 3, Replicate: 1},
		{K: 2, Replicate: 2},
		{K: 2, Replicate: 1},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Expected %v, got %v", want, got)
	}
}

func TestEnumerateForcesSingleReplicate(t *testing.T) {
	for _, kind := range []models.ProgramKind{models.FastStructure, models.Maverick, models.ALStructure, models.NeuralAdmixture} {
		t.Run(string(kind), func(t *testing.T) {
			got := Enumerate(kind, []int{2, 3}, 20)
			if len(got) != 2 {
				t.Fatalf("Expected 2 jobs, got %d", len(got))
			}
			for _, j := range got {
				if j.Replicate != 1 {
					t.Errorf("Expected replicate 1, got %d", j.Replicate)
				}
			}
		})
	}
}

func TestEnumerateCardinalityAndUniqueness(t *testing.T) {
	kLists := [][]int{{1}, {1, 2, 3, 4}, {2, 5, 9}, {7, 3, 3, 1}}
	for _, ks := range kLists {
		for r := 1; r <= 5; r++ {
			name := fmt.Sprintf("%v_R%d", ks, r)
			t.Run(name, func(t *testing.T) {
				got := Enumerate(models.Structure, ks, r)
				distinct := len(uniqueKs(ks))
				if len(got) != distinct*r {
					t.Errorf("Expected %d jobs, got %d", distinct*r, len(got))
				}
				seen := make(map[[2]int]bool)
				for _, j := range got {
					key := [2]int{j.K, j.Replicate}
					if seen[key] {
						t.Errorf("Duplicate job %v", key)
					}
					seen[key] = true
				}
			})
		}
	}
}

func TestEnumerateNonContiguous(t *testing.T) {
	got := Enumerate(models.FastStructure, []int{2, 9, 5}, 1)
	ks := []int{got[0].K, got[1].K, got[2].K}
	if !reflect.DeepEqual(ks, []int{9, 5, 2}) {
		t.Errorf("Expected K descending [9 5 2], got %v", ks)
	}
}

func TestExpandK(t *testing.T) {
	if got := ExpandK(4); !reflect.DeepEqual(got, []int{1, 2, 3, 4}) {
		t.Errorf("Expected [1 2 3 4], got %v", got)
	}
	if got := ExpandK(0); len(got) != 0 {
		t.Errorf("Expected empty list, got %v", got)
	}
}
