package main

// PlaybackState is the shared player state of one room. The *User fields
// record who last wrote each field and exist for diagnostics only.
type PlaybackState struct {
	URL            string
	Position       uint32
	Playing        bool
	SubtitleExists bool

	URLUser      string
	PositionUser string
	PlayingUser  string
}
