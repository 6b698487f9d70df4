// Package model defines the data structures persisted by the application.
package model

import "time"

// Script is a saved program. It is the code-text provider for the
// "run saved script" endpoint: each replay round reads Code afresh, so
// editing a script between rounds changes what the next round replays.
//
// The JSON tags match the execute request, so a client can post a Script's
// code field straight to /api/execute.
type Script struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Code        string    `json:"code"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}
