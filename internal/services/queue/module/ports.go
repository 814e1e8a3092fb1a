package module

import dom "gantry/internal/services/queue/domain"

// Ports holds the ports exposed by one queue module, mirroring the
// teacher's bouncer module.Ports shape (Worker + a request-facing port)
// generalized to this domain's larger port set
type Ports struct {
	Submit   dom.SubmitPort
	ForceRun dom.ForceRunPort
	Worker   dom.WorkerPort
	Admin    dom.AdminPort
}
