package httpapi

import (
	"time"

	"movieclub/internal/club"
	"movieclub/internal/movie"
	"movieclub/internal/rotation"
	rtsup "movieclub/internal/runtime/supervisor"
	"movieclub/internal/storage"
)

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type Participant struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

type Pick struct {
	ID          int64          `json:"id"`
	Period      int64          `json:"period"`
	PickedBy    string         `json:"picked_by"`
	Movie       movie.Metadata `json:"movie"`
	PickedAt    time.Time      `json:"picked_at"`
	Historical  bool           `json:"historical,omitempty"`
	Average     float64        `json:"average,omitempty"`
	RatingCount int            `json:"rating_count"`
}

type ScheduleEntry struct {
	Period int64       `json:"period"`
	Picker Participant `json:"picker"`
	Start  time.Time   `json:"start"`
	End    time.Time   `json:"end"`
	Pick   *Pick       `json:"pick,omitempty"`
}

type ScheduleResponse struct {
	Now           time.Time       `json:"now"`
	CurrentPeriod int64           `json:"current_period"`
	EarlyAccess   bool            `json:"early_access"`
	DaysRemaining int             `json:"days_remaining"`
	Entries       []ScheduleEntry `json:"entries"`
}

type PicksResponse struct {
	Picks []Pick `json:"picks"`
}

type HealthResponse struct {
	Status      string                    `json:"status"`
	Supervisors map[string]rtsup.Snapshot `json:"supervisors"`
}

func participantOf(p rotation.Participant) Participant {
	return Participant{ID: p.ID, Name: p.Name}
}

func pickOf(p storage.Pick) *Pick {
	return &Pick{
		ID:         p.ID,
		Period:     club.DisplayPeriod(p.Period),
		PickedBy:   p.ParticipantID,
		Movie:      p.Movie,
		PickedAt:   p.PickedAt,
		Historical: p.Historical,
	}
}

func summaryOf(s storage.PickSummary) Pick {
	out := pickOf(s.Pick)
	out.Average = s.Average
	out.RatingCount = s.Count
	return *out
}
