package sync

import (
	"reflect"
	"testing"
)

func TestExtractTicketRefs(t *testing.T) {
	tests := []struct {
		name  string
		texts []string
		want  []string
	}{
		{
			name:  "single ref in commit message",
			texts: []string{"PROJ-42 fix cursor advance"},
			want:  []string{"PROJ-42"},
		},
		{
			name:  "multiple refs across texts",
			texts: []string{"PROJ-1 first", "also closes OPS-17"},
			want:  []string{"PROJ-1", "OPS-17"},
		},
		{
			name:  "duplicates collapse in first-seen order",
			texts: []string{"PROJ-7 and OPS-2", "PROJ-7 again"},
			want:  []string{"PROJ-7", "OPS-2"},
		},
		{
			name:  "project key with digits",
			texts: []string{"S2E-11 sprint work"},
			want:  []string{"S2E-11"},
		},
		{
			name:  "lowercase is not a ref",
			texts: []string{"proj-42 is not a ticket"},
			want:  nil,
		},
		{
			name:  "single-letter project is not a ref",
			texts: []string{"A-1 looks too short"},
			want:  nil,
		},
		{
			name:  "no refs",
			texts: []string{"chore: tidy imports"},
			want:  nil,
		},
		{
			name:  "ref embedded in branch name",
			texts: []string{"feature/PROJ-9-add-cursors"},
			want:  []string{"PROJ-9"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractTicketRefs(tt.texts...)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ExtractTicketRefs(%v) = %v, want %v", tt.texts, got, tt.want)
			}
		})
	}
}
