package match

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/opensupplyhub/dedupe-hub/internal/model"
	"github.com/opensupplyhub/dedupe-hub/internal/store"
)

func TestPickExact(t *testing.T) {
	old := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	recent := old.AddDate(2, 0, 0)
	item := model.FacilityListItem{ID: 99, ContributorID: 10}

	tests := []struct {
		name       string
		candidates []store.ExactCandidate
		want       int64
	}{
		{
			name: "same contributor wins over older facility",
			candidates: []store.ExactCandidate{
				{ItemID: 1, ContributorID: 20, FacilityID: "A", FacilityCreatedAt: old},
				{ItemID: 2, ContributorID: 10, FacilityID: "B", FacilityCreatedAt: recent},
			},
			want: 2,
		},
		{
			name: "oldest facility",
			candidates: []store.ExactCandidate{
				{ItemID: 1, ContributorID: 20, FacilityID: "A", FacilityCreatedAt: recent},
				{ItemID: 2, ContributorID: 30, FacilityID: "B", FacilityCreatedAt: old},
			},
			want: 2,
		},
		{
			name: "lowest facility ID",
			candidates: []store.ExactCandidate{
				{ItemID: 1, ContributorID: 20, FacilityID: "B", FacilityCreatedAt: old},
				{ItemID: 2, ContributorID: 30, FacilityID: "A", FacilityCreatedAt: old},
			},
			want: 2,
		},
		{
			name: "lowest item for the same facility",
			candidates: []store.ExactCandidate{
				{ItemID: 5, ContributorID: 20, FacilityID: "A", FacilityCreatedAt: old},
				{ItemID: 3, ContributorID: 20, FacilityID: "A", FacilityCreatedAt: old},
			},
			want: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, pickExact(item, tt.candidates).ItemID)
		})
	}
}
