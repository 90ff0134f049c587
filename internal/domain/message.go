package domain

import "time"

// RouteMessage is the transport format sent to queue backends for async routing.
type RouteMessage struct {
	JobID       string       `json:"job_id"`
	Item        ContentItem  `json:"item"`
	ContentType ContentType  `json:"content_type"`
	Options     RouteOptions `json:"options"`
	Attempt     int          `json:"attempt"`
	RequestedAt time.Time    `json:"requested_at"`
}
