package models

import "time"

// WOLConfig holds the Wake-on-LAN settings used to wake the backup host before a cycle.
type WOLConfig struct {
	MACAddress    string
	BroadcastIP   string
	PollAddress   string        // host:port dialed until the backup host accepts connections; empty skips polling
	Timeout       time.Duration // max time to wait for the host
	PollInterval  time.Duration
	StabilizeWait time.Duration // wait after the host answered
}

// WOLResult holds the result of a Wake-on-LAN operation.
type WOLResult struct {
	PacketSent   bool
	TargetReady  bool
	WaitDuration time.Duration
	Error        error
}
