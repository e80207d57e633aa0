package stats

// Response is also decoded by the `stats` CLI command.
type Response struct {
	Rooms       int `json:"rooms"`
	Members     int `json:"members"`
	Connections int `json:"connections"`
}
