package api

import (
	"github.com/coop-transport/controller/pkg/store"
)

// TurnsResponse is the body of GET /api/v1/fleet/turns.
type TurnsResponse struct {
	RobotIndex int   `json:"robot_index"`
	Registered []int `json:"registered"`
	Size       int   `json:"size"`
	MyTurn     bool  `json:"my_turn"`
}

// HistoryResponse is the body of GET /api/v1/missions/history.
type HistoryResponse struct {
	Runs []store.RunRecord `json:"runs"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}
