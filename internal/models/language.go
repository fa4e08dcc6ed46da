package models

import "time"

// Language owns courses and defines the signup phase windows shared by them.
type Language struct {
	ID                 string    `db:"id" json:"id"`
	Name               string    `db:"name" json:"name"`
	SignupBegin        time.Time `db:"signup_begin" json:"signup_begin"`
	SignupRndWindowEnd time.Time `db:"signup_rnd_window_end" json:"signup_rnd_window_end"`
	SignupManualEnd    time.Time `db:"signup_manual_end" json:"signup_manual_end"`
	SignupEnd          time.Time `db:"signup_end" json:"signup_end"`
	SignupAutoEnd      time.Time `db:"signup_auto_end" json:"signup_auto_end"`
}

// IsOpenForSignupRnd reports whether t falls into the lottery window [signup_begin, signup_rnd_window_end).
func (l *Language) IsOpenForSignupRnd(t time.Time) bool {
	return !t.Before(l.SignupBegin) && t.Before(l.SignupRndWindowEnd)
}

// IsOpenForSignupFcfs reports whether first-come-first-served signups are accepted at t.
// The FCFS window opens closedFor after the lottery window ends.
func (l *Language) IsOpenForSignupFcfs(t time.Time, closedFor time.Duration) bool {
	return !t.Before(l.SignupRndWindowEnd.Add(closedFor)) && t.Before(l.SignupEnd)
}

// IsOpenForSignup reports whether any signup phase is open at t.
func (l *Language) IsOpenForSignup(t time.Time, closedFor time.Duration) bool {
	return l.IsOpenForSignupRnd(t) || l.IsOpenForSignupFcfs(t, closedFor)
}

// IsInManualMode reports whether only administrators may move attendances at t.
func (l *Language) IsInManualMode(t time.Time) bool {
	return t.Before(l.SignupManualEnd) || t.After(l.SignupAutoEnd)
}
