package models

// SSHConfig holds the connection parameters of an SSH backend.
type SSHConfig struct {
	Host                  string
	Port                  int
	User                  string
	KeyFile               string
	StrictHostKeyChecking bool
	KnownHostsFile        string // optional, used when strict checking is on
}

// SSHResult holds the result of an SSH operation.
type SSHResult struct {
	CommandRun bool
	Output     string
	Error      error
}
