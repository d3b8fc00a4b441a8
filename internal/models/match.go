package models

// MatchParameters configure a multiplayer match. Durations are in seconds.
type MatchParameters struct {
	Atlas             string `json:"atlas"`
	RegionsNumber     int    `json:"regionsNumber"`
	DurationPerRegion int    `json:"durationPerRegion"`
	GameoverOnError   bool   `json:"gameoverOnError"`
}

// ScoreEntry is one row of a match score table.
type ScoreEntry struct {
	UserName   string `json:"userName"`
	Score      int    `json:"score"`
	Eliminated bool   `json:"eliminated,omitempty"`
}
