package control

import (
	"net/url"
	"strconv"
	"strings"
)

// Mode is the action part of a control request
type Mode string

const (
	ModeNone   Mode = ""
	ModeRotate Mode = "rotate"
	ModePhoto  Mode = "photo"
	ModeStop   Mode = "stop"
	ModeStart  Mode = "start"
	ModeLight  Mode = "light"
)

// Request is a parsed control request. Nil fields were absent or malformed.
type Request struct {
	FrameRate  *int
	Resolution *int
	Mode       Mode
}

// ParseRequest reads fps, resolution and mode from query parameters.
// A malformed number drops only that field.
func ParseRequest(q url.Values) Request {
	var req Request
	req.FrameRate = parseInt(q.Get("fps"))
	req.Resolution = parseInt(q.Get("resolution"))

	switch m := Mode(strings.ToLower(strings.TrimSpace(q.Get("mode")))); m {
	case ModeRotate, ModePhoto, ModeStop, ModeStart, ModeLight:
		req.Mode = m
	default:
		req.Mode = ModeNone
	}
	return req
}

func parseInt(s string) *int {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return nil
	}
	return &v
}
