package controllers

import "github.com/rzbill/tubed/internal/core"

// Common request/response types for HTTP controllers

// drainReq toggles drain mode.
type drainReq struct {
	Draining bool `json:"draining"`
}

// drainResp reports drain mode.
type drainResp struct {
	Draining bool `json:"draining"`
}

// tubesResp lists per-tube statistics.
type tubesResp struct {
	Tubes []core.TubeStats `json:"tubes"`
}
