package transfer

import "fmt"

var exitMessages = map[int]string{
	0:   "Success",
	1:   "Syntax or usage error",
	2:   "Protocol incompatibility",
	3:   "Errors selecting input/output files, dirs",
	4:   "Requested action not supported",
	5:   "Error starting client-server protocol",
	6:   "Daemon unable to append to log-file",
	10:  "Error in socket I/O",
	11:  "Error in file I/O",
	12:  "Error in rsync protocol data stream",
	13:  "Errors with program diagnostics",
	14:  "Error in IPC code",
	20:  "Received SIGUSR1 or SIGINT",
	21:  "Some error returned by waitpid()",
	22:  "Error allocating core memory buffers",
	23:  "Partial transfer due to error",
	24:  "Partial transfer due to vanished source files",
	25:  "The --max-delete limit stopped deletions",
	30:  "Timeout in data send/receive",
	35:  "Timeout waiting for daemon connection",
	255: "The underlying connection failed",
}

// ExitMessage describes an rsync exit code.
func ExitMessage(code int) string {
	if code < 0 {
		return "Terminated by signal"
	}
	if msg, ok := exitMessages[code]; ok {
		return msg
	}
	return fmt.Sprintf("Unknown exit code %d", code)
}

// IsUnreachable reports whether code means the target could not be reached.
func IsUnreachable(code int) bool {
	return code == 255 || code == 5 || code == 10 || code == 35
}
