package utils

import (
	"net/http"
	"net/url"
)

const RoomKeyParam = "key"

// RequestedRoomKey reads the room key from the query string, falling back to
// the query string of the Referer, where pages opened from a shared link
// carry it.
func RequestedRoomKey(r *http.Request) string {
	if key := r.URL.Query().Get(RoomKeyParam); key != "" {
		return key
	}

	referer := r.Referer()
	if referer == "" {
		return ""
	}

	u, err := url.Parse(referer)
	if err != nil {
		return ""
	}
	return u.Query().Get(RoomKeyParam)
}
