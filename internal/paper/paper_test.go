package paper

import "testing"

func TestIsRanked(t *testing.T) {
	tests := []struct {
		rank int
		want bool
	}{
		{Unranked, false},
		{0, false},
		{1, true},
		{250, true},
	}
	for _, tt := range tests {
		if got := IsRanked(tt.rank); got != tt.want {
			t.Errorf("IsRanked(%d) = %v, want %v", tt.rank, got, tt.want)
		}
	}
}

func TestPaper_ValidateForCreate(t *testing.T) {
	tests := []struct {
		name    string
		p       Paper
		wantErr error
	}{
		{"valid", Paper{ID: 1, JournalID: 2, Title: "T"}, nil},
		{"zero id", Paper{JournalID: 2, Title: "T"}, ErrInvalidID},
		{"missing journal", Paper{ID: 1, Title: "T"}, ErrInvalidJournalID},
		{"missing title", Paper{ID: 1, JournalID: 2}, ErrEmptyTitle},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.p.ValidateForCreate(); err != tt.wantErr {
				t.Errorf("ValidateForCreate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestJournal_ValidateForCreate(t *testing.T) {
	j := Journal{ID: 1, Name: "Nature", Rank: 1}
	if err := j.ValidateForCreate(); err != nil {
		t.Errorf("valid journal: %v", err)
	}
	j.Name = ""
	if err := j.ValidateForCreate(); err != ErrEmptyName {
		t.Errorf("empty name error = %v, want ErrEmptyName", err)
	}
	j = Journal{Name: "X"}
	if err := j.ValidateForCreate(); err != ErrInvalidID {
		t.Errorf("zero id error = %v, want ErrInvalidID", err)
	}
}
