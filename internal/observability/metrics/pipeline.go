package metrics

import "time"

// RecordCompile records a compiler invocation.
func RecordCompile(ok bool, d time.Duration) {
	if !enabled {
		return
	}
	compileTotal.WithLabelValues(status(ok)).Inc()
	compileDuration.Observe(d.Seconds())
}

// ContractDeploy records a deploy step for the given action.
func ContractDeploy(action string, ok bool) {
	if !enabled {
		return
	}
	contractDeployTotal.WithLabelValues(action, status(ok)).Inc()
}

// WiringCall records a wiring step. Status is "invoked", "skipped" or
// "failed".
func WiringCall(status string) {
	if !enabled {
		return
	}
	wiringCallTotal.WithLabelValues(status).Inc()
}

// VerificationOutcome records the final verification outcome of a contract.
func VerificationOutcome(outcome string) {
	if !enabled {
		return
	}
	verificationTotal.WithLabelValues(outcome).Inc()
}

// ExplorerRequest records a block explorer API call.
func ExplorerRequest(action string, ok bool) {
	if !enabled {
		return
	}
	explorerRequestTotal.WithLabelValues(action, status(ok)).Inc()
}

// Stage records how long a pipeline stage took.
func Stage(name string, d time.Duration) {
	if !enabled {
		return
	}
	stageDuration.WithLabelValues(name).Observe(d.Seconds())
}

func status(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
